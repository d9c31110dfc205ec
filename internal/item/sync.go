package item

import (
	"context"
	"errors"
	"fmt"

	"github.com/alcovehq/alcove/internal/kberr"
	"github.com/alcovehq/alcove/internal/workspace"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const opBulkSync = "item.bulk_sync"

// IncomingItem describes one record of an import batch. ExternalID, when
// supplied, becomes (or matches) the stored record's identity so repeated
// imports stay stable. Pointer fields distinguish "absent" from zero values:
// absent fields never overwrite existing state.
type IncomingItem struct {
	ExternalID      string
	Type            Type
	Title           string
	Content         *string
	RawContent      *string
	MarkdownContent *string
	URL             string
	FilePath        string
	Metadata        map[string]interface{}
	Tags            []string
	IsFavorite      *bool
	IsRead          *bool
	ShouldFollow    *bool
	CollectionIDs   []string
}

// SyncError records one failed batch entry.
type SyncError struct {
	ExternalID string
	Title      string
	Message    string
}

// BulkResult is the structured outcome of a bulk import. When
// TransactionFailed is set the batch was rolled back wholesale: Created and
// Updated are empty and Errors holds the single transaction-level entry.
type BulkResult struct {
	Created           []Item
	Updated           []Item
	Errors            []SyncError
	TransactionFailed bool
}

// duplicateCriteria is the typed natural-key lookup used when no external id
// matches: same owner, same workspace, same title, and the same URL when the
// incoming record carries one.
type duplicateCriteria struct {
	OwnerID     string
	WorkspaceID string
	Title       string
	URL         string
}

func (c duplicateCriteria) apply(tx *gorm.DB) *gorm.DB {
	query := tx.Where("owner_id = ? AND workspace_id = ? AND title = ?",
		c.OwnerID, c.WorkspaceID, c.Title)
	if c.URL != "" {
		query = query.Where("url = ?", c.URL)
	}
	return query
}

// BulkCreateOrUpdate reconciles a batch of incoming items against the store
// inside one transaction, sequentially and in input order. Each entry either
// updates its match (by external id, then by natural key) or creates a new
// record. Per-item failures are recorded and the batch continues; store-level
// integrity violations abort and roll back the whole batch, since they mean
// the write path itself is unsafe.
//
// A typed error is returned only when the workspace precondition fails; every
// outcome past that point is reported through the result.
func (s *Service) BulkCreateOrUpdate(ctx context.Context, ownerID, workspaceID string, incoming []IncomingItem) (BulkResult, error) {
	if _, err := workspace.Validate(ctx, s.db, opBulkSync, ownerID, workspaceID); err != nil {
		return BulkResult{}, err
	}

	result := BulkResult{}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, entry := range incoming {
			created, updated, err := s.syncOne(ctx, tx, ownerID, workspaceID, entry)
			if err != nil {
				if kberr.IsIntegrityViolation(err) {
					s.logError(opBulkSync, "integrity_violation", err,
						zap.String("workspace_id", workspaceID),
						zap.String("title", entry.Title))
					return err
				}
				result.Errors = append(result.Errors, SyncError{
					ExternalID: entry.ExternalID,
					Title:      entry.Title,
					Message:    err.Error(),
				})
				continue
			}
			if created != nil {
				result.Created = append(result.Created, *created)
			}
			if updated != nil {
				result.Updated = append(result.Updated, *updated)
			}
		}
		return nil
	})

	if txErr != nil {
		s.logError(opBulkSync, "transaction_failed", txErr, zap.String("workspace_id", workspaceID))
		// Accumulated creates and updates were rolled back with the
		// transaction; the synthetic entry is the only trustworthy outcome.
		return BulkResult{
			Errors: []SyncError{{
				Message: fmt.Sprintf("bulk sync transaction failed: %v", txErr),
			}},
			TransactionFailed: true,
		}, nil
	}
	return result, nil
}

func (s *Service) syncOne(ctx context.Context, tx *gorm.DB, ownerID, workspaceID string, entry IncomingItem) (created, updated *Item, err error) {
	existing, err := s.matchExisting(ctx, tx, ownerID, workspaceID, entry)
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		if err := s.applyIncoming(ctx, tx, existing, entry); err != nil {
			return nil, nil, err
		}
		return nil, existing, nil
	}

	fresh, err := s.createFromIncoming(ctx, tx, ownerID, workspaceID, entry)
	if err != nil {
		return nil, nil, err
	}
	return fresh, nil, nil
}

// matchExisting resolves the incoming entry to a stored item: exact external
// id first, then the natural-key duplicate search.
func (s *Service) matchExisting(ctx context.Context, tx *gorm.DB, ownerID, workspaceID string, entry IncomingItem) (*Item, error) {
	if entry.ExternalID != "" {
		var found Item
		err := tx.WithContext(ctx).
			Preload("ChangeHistory", func(db *gorm.DB) *gorm.DB {
				return db.Order("seq ASC")
			}).
			Where("id = ? AND owner_id = ? AND workspace_id = ?", entry.ExternalID, ownerID, workspaceID).
			Take(&found).Error
		if err == nil {
			return &found, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	criteria := duplicateCriteria{
		OwnerID:     ownerID,
		WorkspaceID: workspaceID,
		Title:       entry.Title,
		URL:         entry.URL,
	}
	var found Item
	err := criteria.apply(tx.WithContext(ctx).
		Preload("ChangeHistory", func(db *gorm.DB) *gorm.DB {
			return db.Order("seq ASC")
		})).
		Take(&found).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &found, nil
}

// applyIncoming updates a matched item in place: the title is overwritten,
// content routes through the change tracker, scalar fields are overridden
// only when the incoming record carries a value, metadata is merged, and the
// collection set is replaced when the entry names at least one collection.
func (s *Service) applyIncoming(ctx context.Context, tx *gorm.DB, existing *Item, entry IncomingItem) error {
	existing.Title = entry.Title

	change := applyContentUpdate(existing, ContentUpdate{
		Content:         entry.Content,
		RawContent:      entry.RawContent,
		MarkdownContent: entry.MarkdownContent,
	}, s.clock())

	if entry.URL != "" {
		existing.URL = entry.URL
	}
	if entry.FilePath != "" {
		existing.FilePath = entry.FilePath
	}
	if len(entry.Metadata) > 0 {
		if existing.Metadata == nil {
			existing.Metadata = map[string]interface{}{}
		}
		for key, value := range entry.Metadata {
			existing.Metadata[key] = value
		}
	}
	if len(entry.Tags) > 0 {
		existing.Tags = tagsJSON(entry.Tags)
	}
	now := s.clock().UTC()
	if entry.IsFavorite != nil {
		existing.IsFavorite = *entry.IsFavorite
	}
	if entry.IsRead != nil {
		applyReadFlag(existing, *entry.IsRead, now)
	}
	if entry.ShouldFollow != nil {
		existing.ShouldFollow = *entry.ShouldFollow
	}

	if len(entry.CollectionIDs) > 0 {
		linked, err := s.resolveCollections(ctx, tx, opBulkSync, existing.WorkspaceID, entry.CollectionIDs)
		if err != nil {
			return err
		}
		if err := tx.Model(existing).Association("Collections").Replace(linked); err != nil {
			return err
		}
		existing.Collections = linked
	}

	return s.saveWithChange(ctx, tx, opBulkSync, existing, change)
}

// createFromIncoming inserts a fresh item. A supplied external id becomes the
// record's identity so the next import of the same batch matches it exactly.
func (s *Service) createFromIncoming(ctx context.Context, tx *gorm.DB, ownerID, workspaceID string, entry IncomingItem) (*Item, error) {
	id := entry.ExternalID
	if id == "" {
		generated, err := s.idProvider.NewID()
		if err != nil {
			return nil, err
		}
		id = generated
	}

	linked, err := s.resolveCollections(ctx, tx, opBulkSync, workspaceID, entry.CollectionIDs)
	if err != nil {
		return nil, err
	}

	itemType := entry.Type
	if itemType == "" {
		itemType = TypeNote
	}

	fresh := Item{
		ID:          id,
		OwnerID:     ownerID,
		WorkspaceID: workspaceID,
		Type:        itemType,
		Title:       entry.Title,
		URL:         entry.URL,
		FilePath:    entry.FilePath,
		Metadata:    entry.Metadata,
		Tags:        tagsJSON(entry.Tags),
	}
	if entry.Content != nil {
		fresh.Content = *entry.Content
	}
	if entry.RawContent != nil {
		fresh.RawContent = *entry.RawContent
	}
	if entry.MarkdownContent != nil {
		fresh.MarkdownContent = *entry.MarkdownContent
	}
	if entry.IsFavorite != nil {
		fresh.IsFavorite = *entry.IsFavorite
	}
	if entry.IsRead != nil {
		applyReadFlag(&fresh, *entry.IsRead, s.clock().UTC())
	}
	if entry.ShouldFollow != nil {
		fresh.ShouldFollow = *entry.ShouldFollow
	}

	if err := tx.WithContext(ctx).Omit(clause.Associations).Create(&fresh).Error; err != nil {
		return nil, err
	}
	if len(linked) > 0 {
		if err := tx.Model(&fresh).Association("Collections").Replace(linked); err != nil {
			return nil, err
		}
		fresh.Collections = linked
	}
	return &fresh, nil
}
