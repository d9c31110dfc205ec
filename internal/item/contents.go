package item

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// ContentUpdate describes one content mutation. Nil body pointers leave the
// corresponding field untouched; diffs and checksum are derived when the
// caller does not supply them. Changes to the rendered Content body are
// tracked like the other two, though only raw and markdown carry diffs.
type ContentUpdate struct {
	Content         *string
	RawContent      *string
	MarkdownContent *string
	RawDiff         string
	MarkdownDiff    string
	Checksum        string
	ChangeType      ChangeType
}

// applyContentUpdate overwrites the supplied content bodies on the item and
// derives the single ContentChange the mutation appends. The returned record
// has no ID yet; the service assigns one before persisting. Returns nil when
// the update carries no body at all.
//
// The item is mutated in memory only; writing both the item and the change
// record stays with the caller.
func applyContentUpdate(target *Item, update ContentUpdate, now time.Time) *ContentChange {
	if update.Content == nil && update.RawContent == nil && update.MarkdownContent == nil {
		return nil
	}

	if update.Content != nil {
		target.Content = *update.Content
	}

	rawDiff := update.RawDiff
	if update.RawContent != nil {
		if rawDiff == "" && target.RawContent != "" && target.RawContent != *update.RawContent {
			rawDiff = computeDiff(target.RawContent, *update.RawContent)
		}
		target.RawContent = *update.RawContent
	}

	markdownDiff := update.MarkdownDiff
	if update.MarkdownContent != nil {
		if markdownDiff == "" && target.MarkdownContent != "" && target.MarkdownContent != *update.MarkdownContent {
			markdownDiff = computeDiff(target.MarkdownContent, *update.MarkdownContent)
		}
		target.MarkdownContent = *update.MarkdownContent
	}

	changeType := update.ChangeType
	if changeType == "" {
		changeType = ChangeTypeContentUpdated
	}

	checksum := update.Checksum
	if checksum == "" {
		checksum = contentChecksum(target.Content, target.RawContent, target.MarkdownContent)
	}

	changedAt := now.UTC()
	change := ContentChange{
		ItemID:       target.ID,
		Seq:          len(target.ChangeHistory) + 1,
		Timestamp:    changedAt,
		RawDiff:      rawDiff,
		MarkdownDiff: markdownDiff,
		ChangeType:   changeType,
		ChangeSize:   len(rawDiff) + len(markdownDiff),
		Checksum:     checksum,
	}

	target.ChangeHistory = append(target.ChangeHistory, change)
	target.LastChangedAt = &changedAt
	target.HasUnreadChanges = true
	return &target.ChangeHistory[len(target.ChangeHistory)-1]
}

// computeDiff renders a patch between the previous and new body text.
func computeDiff(previous, next string) string {
	dmp := diffmatchpatch.New()
	patches := dmp.PatchMake(previous, next)
	return dmp.PatchToText(patches)
}

// contentChecksum fingerprints the post-update bodies.
func contentChecksum(content, rawContent, markdownContent string) string {
	digest := sha256.New()
	digest.Write([]byte(content))
	digest.Write([]byte{0})
	digest.Write([]byte(rawContent))
	digest.Write([]byte{0})
	digest.Write([]byte(markdownContent))
	return hex.EncodeToString(digest.Sum(nil))
}

// ChangesSince returns the subsequence of history strictly newer than since.
func ChangesSince(history []ContentChange, since time.Time) []ContentChange {
	var changes []ContentChange
	for _, change := range history {
		if change.Timestamp.After(since) {
			changes = append(changes, change)
		}
	}
	return changes
}

// HasChangedSince reports whether any change in history is newer than since.
func HasChangedSince(history []ContentChange, since time.Time) bool {
	return len(ChangesSince(history, since)) > 0
}

// LatestChange returns the most recently appended change, or nil for an item
// that has never had its content updated.
func LatestChange(history []ContentChange) *ContentChange {
	if len(history) == 0 {
		return nil
	}
	return &history[len(history)-1]
}
