package item

import (
	"encoding/json"
	"time"

	"github.com/alcovehq/alcove/internal/collection"
	"gorm.io/datatypes"
)

// Type enumerates the kinds of records a knowledge base holds.
type Type string

const (
	// TypeNote is a user-authored note.
	TypeNote Type = "note"
	// TypeSource is a tracked external source, usually a URL.
	TypeSource Type = "source"
	// TypePDF is an imported PDF document.
	TypePDF Type = "pdf"
)

// ChangeType tags the origin of a content change record.
type ChangeType string

const (
	// ChangeTypeContentUpdated marks a change produced by a content update.
	ChangeTypeContentUpdated ChangeType = "content_updated"
	// ChangeTypeLinkChanged marks a change detected on a followed link.
	ChangeTypeLinkChanged ChangeType = "link_changed"
	// ChangeTypeManualEdit marks a change entered directly by the user.
	ChangeTypeManualEdit ChangeType = "manual_edit"
)

// Item is a note, source or PDF record: the unit of content being organized.
// An item belongs to one owner and one workspace and may be linked to any
// number of that workspace's collections.
type Item struct {
	ID               string            `gorm:"column:id;primaryKey;size:190;not null"`
	OwnerID          string            `gorm:"column:owner_id;size:190;not null;index:idx_items_owner_workspace,priority:1"`
	WorkspaceID      string            `gorm:"column:workspace_id;size:190;not null;index:idx_items_owner_workspace,priority:2"`
	Type             Type              `gorm:"column:item_type;size:32;not null;default:'note'"`
	Title            string            `gorm:"column:title;size:512;not null"`
	Content          string            `gorm:"column:content;type:text"`
	RawContent       string            `gorm:"column:raw_content;type:text"`
	MarkdownContent  string            `gorm:"column:markdown_content;type:text"`
	URL              string            `gorm:"column:url;size:2048"`
	FilePath         string            `gorm:"column:file_path;size:1024"`
	Metadata         datatypes.JSONMap `gorm:"column:metadata"`
	Tags             datatypes.JSON    `gorm:"column:tags"`
	IsFavorite       bool              `gorm:"column:is_favorite;not null;default:false"`
	IsRead           bool              `gorm:"column:is_read;not null;default:false"`
	ShouldFollow     bool              `gorm:"column:should_follow;not null;default:false"`
	HasUnreadChanges bool              `gorm:"column:has_unread_changes;not null;default:false"`
	LastAccessedAt   *time.Time        `gorm:"column:last_accessed_at"`
	LastCheckedAt    *time.Time        `gorm:"column:last_checked_at"`
	LastChangedAt    *time.Time        `gorm:"column:last_changed_at"`
	ReadAt           *time.Time        `gorm:"column:read_at"`
	CreatedAt        time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time         `gorm:"column:updated_at;autoUpdateTime"`

	Collections   []collection.Collection `gorm:"many2many:item_collections"`
	ChangeHistory []ContentChange         `gorm:"foreignKey:ItemID;references:ID"`
}

// TableName provides the explicit table binding for GORM.
func (Item) TableName() string {
	return "items"
}

// ContentChange is one immutable, timestamped record of an edit to an item's
// content. Records are owned exclusively by their item, appended in Seq order
// and never mutated or truncated by the core.
type ContentChange struct {
	ID           string     `gorm:"column:id;primaryKey;size:190;not null"`
	ItemID       string     `gorm:"column:item_id;size:190;not null;index:idx_content_changes_item_seq,priority:1"`
	Seq          int        `gorm:"column:seq;not null;index:idx_content_changes_item_seq,priority:2"`
	Timestamp    time.Time  `gorm:"column:changed_at;not null"`
	RawDiff      string     `gorm:"column:raw_diff;type:text"`
	MarkdownDiff string     `gorm:"column:markdown_diff;type:text"`
	ChangeType   ChangeType `gorm:"column:change_type;size:32;not null"`
	ChangeSize   int        `gorm:"column:change_size;not null;default:0"`
	Checksum     string     `gorm:"column:checksum;size:128"`
}

// TableName provides the explicit table binding for GORM.
func (ContentChange) TableName() string {
	return "item_content_changes"
}

// TagList decodes the item's tags column.
func (i *Item) TagList() []string {
	return parseTags(i.Tags)
}

func parseTags(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var tags []string
	if err := json.Unmarshal(raw, &tags); err != nil {
		return nil
	}
	return tags
}

func tagsJSON(tags []string) datatypes.JSON {
	if len(tags) == 0 {
		return nil
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return nil
	}
	return datatypes.JSON(encoded)
}
