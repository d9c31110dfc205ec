package item

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/alcovehq/alcove/internal/collection"
	"github.com/alcovehq/alcove/internal/identifier"
	"github.com/alcovehq/alcove/internal/kberr"
	"github.com/alcovehq/alcove/internal/workspace"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingTitle      = errors.New("item title is required")
	errCollectionOutside = errors.New("collection belongs to a different workspace")
	errDeleteNotVerified = errors.New("item still present after delete")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew      = "item.service.new"
	opCreate          = "item.create"
	opGet             = "item.get"
	opUpdate          = "item.update"
	opDelete          = "item.delete"
	opList            = "item.list"
	opMarkRead        = "item.mark_read"
	opFavorite        = "item.favorite"
	opFollow          = "item.follow"
	opLastChecked     = "item.update_last_checked"
	opSearch          = "item.search"
	opUpdateContent   = "item.update_content"
	opMarkChangesRead = "item.mark_changes_read"
	opChangesSince    = "item.changes_since"
)

// ServiceConfig describes the dependencies for the item service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider identifier.Provider
	Logger     *zap.Logger
}

// Service manages items: ownership-scoped CRUD, read/favorite/follow state,
// the append-only content change history, and bulk import (sync.go).
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider identifier.Provider
	logger     *zap.Logger
}

// NewService constructs the item service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, kberr.Internal(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, kberr.Internal(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// CreateInput carries caller-supplied attributes for a new item.
type CreateInput struct {
	WorkspaceID     string
	Type            Type
	Title           string
	Content         string
	RawContent      string
	MarkdownContent string
	URL             string
	FilePath        string
	Metadata        map[string]interface{}
	Tags            []string
	ShouldFollow    bool
	CollectionIDs   []string
}

// Create validates workspace ownership and collection containment, then
// persists a new item with an empty change history.
func (s *Service) Create(ctx context.Context, ownerID string, input CreateInput) (*Item, error) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, kberr.BadRequest(opCreate, "missing_title", errMissingTitle)
	}

	if _, err := workspace.Validate(ctx, s.db, opCreate, ownerID, input.WorkspaceID); err != nil {
		return nil, err
	}
	linked, err := s.resolveCollections(ctx, s.db, opCreate, input.WorkspaceID, input.CollectionIDs)
	if err != nil {
		return nil, err
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return nil, kberr.Internal(opCreate, "id_generation_failed", err)
	}

	itemType := input.Type
	if itemType == "" {
		itemType = TypeNote
	}

	created := Item{
		ID:              id,
		OwnerID:         ownerID,
		WorkspaceID:     input.WorkspaceID,
		Type:            itemType,
		Title:           strings.TrimSpace(input.Title),
		Content:         input.Content,
		RawContent:      input.RawContent,
		MarkdownContent: input.MarkdownContent,
		URL:             input.URL,
		FilePath:        input.FilePath,
		Metadata:        input.Metadata,
		Tags:            tagsJSON(input.Tags),
		ShouldFollow:    input.ShouldFollow,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&created).Error; err != nil {
			s.logError(opCreate, "insert_failed", err, zap.String("workspace_id", input.WorkspaceID))
			return kberr.Internal(opCreate, "insert_failed", err)
		}
		if len(linked) > 0 {
			if err := tx.Model(&created).Association("Collections").Replace(linked); err != nil {
				s.logError(opCreate, "link_collections_failed", err, zap.String("item_id", created.ID))
				return kberr.Internal(opCreate, "link_collections_failed", err)
			}
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	created.Collections = linked
	return &created, nil
}

// GetByID loads an owned item with its collections and ordered change
// history, and records the access time.
func (s *Service) GetByID(ctx context.Context, ownerID, id string) (*Item, error) {
	found, err := s.loadOwnedFull(ctx, opGet, ownerID, id)
	if err != nil {
		return nil, err
	}

	accessedAt := s.clock().UTC()
	found.LastAccessedAt = &accessedAt
	if err := s.db.WithContext(ctx).Model(&Item{}).
		Where("id = ?", found.ID).
		Update("last_accessed_at", accessedAt).Error; err != nil {
		s.logError(opGet, "touch_failed", err, zap.String("item_id", id))
		return nil, kberr.Internal(opGet, "touch_failed", err)
	}
	return found, nil
}

// UpdatePatch applies partial updates: only non-nil fields are written.
// Content, RawContent and MarkdownContent all route through the content
// tracker and append a change record; only raw and markdown carry diffs.
type UpdatePatch struct {
	Title           *string
	Content         *string
	RawContent      *string
	MarkdownContent *string
	URL             *string
	FilePath        *string
	Metadata        map[string]interface{}
	Tags            *[]string
	IsFavorite      *bool
	IsRead          *bool
	CollectionIDs   *[]string
}

// Update patches an owned item.
func (s *Service) Update(ctx context.Context, ownerID, id string, patch UpdatePatch) (*Item, error) {
	var updated *Item
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.loadOwnedTx(ctx, tx, opUpdate, ownerID, id, true)
		if err != nil {
			return err
		}

		if patch.Title != nil {
			current.Title = strings.TrimSpace(*patch.Title)
		}
		if patch.URL != nil {
			current.URL = *patch.URL
		}
		if patch.FilePath != nil {
			current.FilePath = *patch.FilePath
		}
		if patch.Metadata != nil {
			current.Metadata = patch.Metadata
		}
		if patch.Tags != nil {
			current.Tags = tagsJSON(*patch.Tags)
		}
		now := s.clock().UTC()
		if patch.IsFavorite != nil {
			current.IsFavorite = *patch.IsFavorite
		}
		if patch.IsRead != nil {
			applyReadFlag(current, *patch.IsRead, now)
		}

		change := applyContentUpdate(current, ContentUpdate{
			Content:         patch.Content,
			RawContent:      patch.RawContent,
			MarkdownContent: patch.MarkdownContent,
		}, now)

		if patch.CollectionIDs != nil {
			linked, err := s.resolveCollections(ctx, tx, opUpdate, current.WorkspaceID, *patch.CollectionIDs)
			if err != nil {
				return err
			}
			if err := tx.Model(current).Association("Collections").Replace(linked); err != nil {
				s.logError(opUpdate, "link_collections_failed", err, zap.String("item_id", id))
				return kberr.Internal(opUpdate, "link_collections_failed", err)
			}
			current.Collections = linked
		}

		if err := s.saveWithChange(ctx, tx, opUpdate, current, change); err != nil {
			return err
		}
		updated = current
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return updated, nil
}

// Delete removes an owned item and verifies the row is gone afterwards.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	current, err := s.loadOwned(ctx, opDelete, ownerID, id)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("item_id = ?", current.ID).Delete(&ContentChange{}).Error; err != nil {
			return err
		}
		if err := tx.Model(current).Association("Collections").Clear(); err != nil {
			return err
		}
		return tx.Delete(&Item{}, "id = ?", current.ID).Error
	})
	if err != nil {
		s.logError(opDelete, "delete_failed", err, zap.String("item_id", id))
		return kberr.Internal(opDelete, "delete_failed", err)
	}

	var remaining int64
	if err := s.db.WithContext(ctx).Model(&Item{}).Where("id = ?", id).Count(&remaining).Error; err != nil {
		s.logError(opDelete, "verify_failed", err, zap.String("item_id", id))
		return kberr.Internal(opDelete, "verify_failed", err)
	}
	if remaining > 0 {
		s.logError(opDelete, "delete_not_verified", errDeleteNotVerified, zap.String("item_id", id))
		return kberr.Internal(opDelete, "delete_not_verified", errDeleteNotVerified)
	}
	return nil
}

// MarkAsRead flags an owned item as read and records the read time.
func (s *Service) MarkAsRead(ctx context.Context, ownerID, id string) (*Item, error) {
	return s.mutate(ctx, opMarkRead, ownerID, id, func(target *Item, now time.Time) {
		applyReadFlag(target, true, now)
	})
}

// MarkAsUnread clears the read flag on an owned item.
func (s *Service) MarkAsUnread(ctx context.Context, ownerID, id string) (*Item, error) {
	return s.mutate(ctx, opMarkRead, ownerID, id, func(target *Item, now time.Time) {
		applyReadFlag(target, false, now)
	})
}

// MarkAsFavorite flags an owned item as favorite.
func (s *Service) MarkAsFavorite(ctx context.Context, ownerID, id string) (*Item, error) {
	return s.mutate(ctx, opFavorite, ownerID, id, func(target *Item, _ time.Time) {
		target.IsFavorite = true
	})
}

// UnmarkAsFavorite clears the favorite flag on an owned item.
func (s *Service) UnmarkAsFavorite(ctx context.Context, ownerID, id string) (*Item, error) {
	return s.mutate(ctx, opFavorite, ownerID, id, func(target *Item, _ time.Time) {
		target.IsFavorite = false
	})
}

// ToggleFavorite flips the favorite flag on an owned item.
func (s *Service) ToggleFavorite(ctx context.Context, ownerID, id string) (*Item, error) {
	return s.mutate(ctx, opFavorite, ownerID, id, func(target *Item, _ time.Time) {
		target.IsFavorite = !target.IsFavorite
	})
}

// EnableFollowing turns on link monitoring for an owned item.
func (s *Service) EnableFollowing(ctx context.Context, ownerID, id string) (*Item, error) {
	return s.mutate(ctx, opFollow, ownerID, id, func(target *Item, _ time.Time) {
		target.ShouldFollow = true
	})
}

// DisableFollowing turns off link monitoring for an owned item.
func (s *Service) DisableFollowing(ctx context.Context, ownerID, id string) (*Item, error) {
	return s.mutate(ctx, opFollow, ownerID, id, func(target *Item, _ time.Time) {
		target.ShouldFollow = false
	})
}

// UpdateLastChecked stamps the link-check time. The link checker runs as a
// background job without a caller identity, so the lookup is not
// owner-scoped.
func (s *Service) UpdateLastChecked(ctx context.Context, id string) (*Item, error) {
	var found Item
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&found).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, kberr.NotFound(opLastChecked, "item_not_found", err)
	}
	if err != nil {
		s.logError(opLastChecked, "lookup_failed", err, zap.String("item_id", id))
		return nil, kberr.Internal(opLastChecked, "lookup_failed", err)
	}

	checkedAt := s.clock().UTC()
	found.LastCheckedAt = &checkedAt
	if err := s.db.WithContext(ctx).Model(&Item{}).
		Where("id = ?", id).
		Update("last_checked_at", checkedAt).Error; err != nil {
		s.logError(opLastChecked, "save_failed", err, zap.String("item_id", id))
		return nil, kberr.Internal(opLastChecked, "save_failed", err)
	}
	return &found, nil
}

// UpdateRawContent overwrites the raw body and appends one change record.
func (s *Service) UpdateRawContent(ctx context.Context, ownerID, id, rawContent, rawDiff, checksum string) (*Item, error) {
	return s.updateContents(ctx, ownerID, id, ContentUpdate{
		RawContent: &rawContent,
		RawDiff:    rawDiff,
		Checksum:   checksum,
	})
}

// UpdateMarkdownContent overwrites the markdown body and appends one change
// record.
func (s *Service) UpdateMarkdownContent(ctx context.Context, ownerID, id, markdownContent, markdownDiff, checksum string) (*Item, error) {
	return s.updateContents(ctx, ownerID, id, ContentUpdate{
		MarkdownContent: &markdownContent,
		MarkdownDiff:    markdownDiff,
		Checksum:        checksum,
	})
}

// UpdateBothContents overwrites both bodies and appends one change record.
func (s *Service) UpdateBothContents(ctx context.Context, ownerID, id, rawContent, markdownContent, rawDiff, markdownDiff, checksum string) (*Item, error) {
	return s.updateContents(ctx, ownerID, id, ContentUpdate{
		RawContent:      &rawContent,
		MarkdownContent: &markdownContent,
		RawDiff:         rawDiff,
		MarkdownDiff:    markdownDiff,
		Checksum:        checksum,
	})
}

func (s *Service) updateContents(ctx context.Context, ownerID, id string, update ContentUpdate) (*Item, error) {
	var updated *Item
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.loadOwnedTx(ctx, tx, opUpdateContent, ownerID, id, true)
		if err != nil {
			return err
		}

		change := applyContentUpdate(current, update, s.clock())
		if err := s.saveWithChange(ctx, tx, opUpdateContent, current, change); err != nil {
			return err
		}
		updated = current
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return updated, nil
}

// MarkChangesAsRead clears the unread-changes flag without touching the
// change history or the last-changed time.
func (s *Service) MarkChangesAsRead(ctx context.Context, ownerID, id string) (*Item, error) {
	current, err := s.loadOwned(ctx, opMarkChangesRead, ownerID, id)
	if err != nil {
		return nil, err
	}

	current.HasUnreadChanges = false
	if err := s.db.WithContext(ctx).Model(&Item{}).
		Where("id = ?", current.ID).
		Update("has_unread_changes", false).Error; err != nil {
		s.logError(opMarkChangesRead, "save_failed", err, zap.String("item_id", id))
		return nil, kberr.Internal(opMarkChangesRead, "save_failed", err)
	}
	return current, nil
}

// GetChangesSince returns the owned item's change records strictly newer than
// since, in append order.
func (s *Service) GetChangesSince(ctx context.Context, ownerID, id string, since time.Time) ([]ContentChange, error) {
	if _, err := s.loadOwned(ctx, opChangesSince, ownerID, id); err != nil {
		return nil, err
	}

	var changes []ContentChange
	if err := s.db.WithContext(ctx).
		Where("item_id = ? AND changed_at > ?", id, since).
		Order("seq ASC").
		Find(&changes).Error; err != nil {
		s.logError(opChangesSince, "query_failed", err, zap.String("item_id", id))
		return nil, kberr.Internal(opChangesSince, "query_failed", err)
	}
	return changes, nil
}

// HasChangedSince reports whether the owned item changed after since.
func (s *Service) HasChangedSince(ctx context.Context, ownerID, id string, since time.Time) (bool, error) {
	changes, err := s.GetChangesSince(ctx, ownerID, id, since)
	if err != nil {
		return false, err
	}
	return len(changes) > 0, nil
}

// ListByWorkspace returns the items of an owned workspace.
func (s *Service) ListByWorkspace(ctx context.Context, ownerID, workspaceID string) ([]Item, error) {
	if _, err := workspace.Validate(ctx, s.db, opList, ownerID, workspaceID); err != nil {
		return nil, err
	}
	return s.list(ctx, "workspace_id = ?", workspaceID)
}

// ListByWorkspaceAndType returns the items of an owned workspace filtered by
// type.
func (s *Service) ListByWorkspaceAndType(ctx context.Context, ownerID, workspaceID string, itemType Type) ([]Item, error) {
	if _, err := workspace.Validate(ctx, s.db, opList, ownerID, workspaceID); err != nil {
		return nil, err
	}
	return s.list(ctx, "workspace_id = ? AND item_type = ?", workspaceID, itemType)
}

// ListByCollection returns the items linked to an owned collection.
func (s *Service) ListByCollection(ctx context.Context, ownerID, collectionID string) ([]Item, error) {
	return s.listInCollection(ctx, ownerID, collectionID, "")
}

// ListByCollectionAndType returns the items linked to an owned collection
// filtered by type.
func (s *Service) ListByCollectionAndType(ctx context.Context, ownerID, collectionID string, itemType Type) ([]Item, error) {
	return s.listInCollection(ctx, ownerID, collectionID, "items.item_type = ?", itemType)
}

// ListByTags returns the owned workspace's items carrying every given tag.
func (s *Service) ListByTags(ctx context.Context, ownerID, workspaceID string, tags []string) ([]Item, error) {
	items, err := s.ListByWorkspace(ctx, ownerID, workspaceID)
	if err != nil {
		return nil, err
	}
	return filterByTags(items, tags), nil
}

// ListByTagsInCollection returns the owned collection's items carrying every
// given tag.
func (s *Service) ListByTagsInCollection(ctx context.Context, ownerID, collectionID string, tags []string) ([]Item, error) {
	items, err := s.listInCollection(ctx, ownerID, collectionID, "")
	if err != nil {
		return nil, err
	}
	return filterByTags(items, tags), nil
}

// ListFavorites returns the favorite items of an owned workspace.
func (s *Service) ListFavorites(ctx context.Context, ownerID, workspaceID string) ([]Item, error) {
	if _, err := workspace.Validate(ctx, s.db, opList, ownerID, workspaceID); err != nil {
		return nil, err
	}
	return s.list(ctx, "workspace_id = ? AND is_favorite = ?", workspaceID, true)
}

// ListFavoritesByCollection returns the favorite items linked to an owned
// collection.
func (s *Service) ListFavoritesByCollection(ctx context.Context, ownerID, collectionID string) ([]Item, error) {
	return s.listInCollection(ctx, ownerID, collectionID, "items.is_favorite = ?", true)
}

// ListUnread returns the unread items of an owned workspace.
func (s *Service) ListUnread(ctx context.Context, ownerID, workspaceID string) ([]Item, error) {
	if _, err := workspace.Validate(ctx, s.db, opList, ownerID, workspaceID); err != nil {
		return nil, err
	}
	return s.list(ctx, "workspace_id = ? AND is_read = ?", workspaceID, false)
}

// ListRead returns the read items of an owned workspace.
func (s *Service) ListRead(ctx context.Context, ownerID, workspaceID string) ([]Item, error) {
	if _, err := workspace.Validate(ctx, s.db, opList, ownerID, workspaceID); err != nil {
		return nil, err
	}
	return s.list(ctx, "workspace_id = ? AND is_read = ?", workspaceID, true)
}

// ListUnreadByCollection returns the unread items linked to an owned
// collection.
func (s *Service) ListUnreadByCollection(ctx context.Context, ownerID, collectionID string) ([]Item, error) {
	return s.listInCollection(ctx, ownerID, collectionID, "items.is_read = ?", false)
}

// ListReadByCollection returns the read items linked to an owned collection.
func (s *Service) ListReadByCollection(ctx context.Context, ownerID, collectionID string) ([]Item, error) {
	return s.listInCollection(ctx, ownerID, collectionID, "items.is_read = ?", true)
}

// ListWithUnreadChanges returns every item of the caller with pending
// content changes.
func (s *Service) ListWithUnreadChanges(ctx context.Context, ownerID string) ([]Item, error) {
	return s.list(ctx, "owner_id = ? AND has_unread_changes = ?", ownerID, true)
}

// ListWithUnreadChangesByWorkspace narrows ListWithUnreadChanges to one owned
// workspace.
func (s *Service) ListWithUnreadChangesByWorkspace(ctx context.Context, ownerID, workspaceID string) ([]Item, error) {
	if _, err := workspace.Validate(ctx, s.db, opList, ownerID, workspaceID); err != nil {
		return nil, err
	}
	return s.list(ctx, "workspace_id = ? AND has_unread_changes = ?", workspaceID, true)
}

// ListWithUnreadChangesByCollection returns the items with pending content
// changes linked to an owned collection.
func (s *Service) ListWithUnreadChangesByCollection(ctx context.Context, ownerID, collectionID string) ([]Item, error) {
	return s.listInCollection(ctx, ownerID, collectionID, "items.has_unread_changes = ?", true)
}

// ListFollowed returns every followed item of the caller.
func (s *Service) ListFollowed(ctx context.Context, ownerID string) ([]Item, error) {
	return s.list(ctx, "owner_id = ? AND should_follow = ?", ownerID, true)
}

// ListFollowedByWorkspace narrows ListFollowed to one owned workspace.
func (s *Service) ListFollowedByWorkspace(ctx context.Context, ownerID, workspaceID string) ([]Item, error) {
	if _, err := workspace.Validate(ctx, s.db, opList, ownerID, workspaceID); err != nil {
		return nil, err
	}
	return s.list(ctx, "workspace_id = ? AND should_follow = ?", workspaceID, true)
}

// SearchInWorkspace matches an owned workspace's items whose title or any
// content body contains the query text, optionally narrowed by type. An empty
// itemType matches every type.
func (s *Service) SearchInWorkspace(ctx context.Context, ownerID, workspaceID, query string, itemType Type) ([]Item, error) {
	if _, err := workspace.Validate(ctx, s.db, opSearch, ownerID, workspaceID); err != nil {
		return nil, err
	}

	pattern := searchPattern(query)
	if itemType != "" {
		return s.list(ctx,
			"workspace_id = ? AND item_type = ? AND (title LIKE ? OR content LIKE ? OR raw_content LIKE ? OR markdown_content LIKE ?)",
			workspaceID, itemType, pattern, pattern, pattern, pattern)
	}
	return s.list(ctx,
		"workspace_id = ? AND (title LIKE ? OR content LIKE ? OR raw_content LIKE ? OR markdown_content LIKE ?)",
		workspaceID, pattern, pattern, pattern, pattern)
}

// SearchInCollection matches an owned collection's items whose title or any
// content body contains the query text, optionally narrowed by type.
func (s *Service) SearchInCollection(ctx context.Context, ownerID, collectionID, query string, itemType Type) ([]Item, error) {
	pattern := searchPattern(query)
	if itemType != "" {
		return s.listInCollection(ctx, ownerID, collectionID,
			"items.item_type = ? AND (items.title LIKE ? OR items.content LIKE ? OR items.raw_content LIKE ? OR items.markdown_content LIKE ?)",
			itemType, pattern, pattern, pattern, pattern)
	}
	return s.listInCollection(ctx, ownerID, collectionID,
		"(items.title LIKE ? OR items.content LIKE ? OR items.raw_content LIKE ? OR items.markdown_content LIKE ?)",
		pattern, pattern, pattern, pattern)
}

// ListNeedingCheck returns followed items whose last link check is older than
// the threshold (or never ran). Used by the background link checker; not
// owner-scoped.
func (s *Service) ListNeedingCheck(ctx context.Context, olderThan time.Time) ([]Item, error) {
	return s.list(ctx, "should_follow = ? AND (last_checked_at IS NULL OR last_checked_at < ?)", true, olderThan)
}

func (s *Service) list(ctx context.Context, query string, args ...interface{}) ([]Item, error) {
	var items []Item
	if err := s.db.WithContext(ctx).
		Where(query, args...).
		Order("created_at DESC").
		Find(&items).Error; err != nil {
		s.logError(opList, "query_failed", err)
		return nil, kberr.Internal(opList, "query_failed", err)
	}
	return items, nil
}

// listInCollection runs a finder over the items linked to an owned
// collection, applying the extra condition when one is given.
func (s *Service) listInCollection(ctx context.Context, ownerID, collectionID, query string, args ...interface{}) ([]Item, error) {
	if err := s.validateCollectionAccess(ctx, ownerID, collectionID); err != nil {
		return nil, err
	}

	scoped := s.db.WithContext(ctx).
		Joins("JOIN item_collections ON item_collections.item_id = items.id").
		Where("item_collections.collection_id = ?", collectionID)
	if query != "" {
		scoped = scoped.Where(query, args...)
	}

	var items []Item
	if err := scoped.Order("items.created_at DESC").Find(&items).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("collection_id", collectionID))
		return nil, kberr.Internal(opList, "query_failed", err)
	}
	return items, nil
}

func searchPattern(query string) string {
	return "%" + strings.TrimSpace(query) + "%"
}

func filterByTags(items []Item, tags []string) []Item {
	var matched []Item
	for _, candidate := range items {
		if containsAllTags(candidate.TagList(), tags) {
			matched = append(matched, candidate)
		}
	}
	return matched
}

// mutate loads an owned item, applies the in-memory transition and saves.
func (s *Service) mutate(ctx context.Context, operation, ownerID, id string, transition func(*Item, time.Time)) (*Item, error) {
	current, err := s.loadOwned(ctx, operation, ownerID, id)
	if err != nil {
		return nil, err
	}

	transition(current, s.clock().UTC())
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Save(current).Error; err != nil {
		s.logError(operation, "save_failed", err, zap.String("item_id", id))
		return nil, kberr.Internal(operation, "save_failed", err)
	}
	return current, nil
}

// saveWithChange persists the mutated item and, when the mutation derived a
// change record, assigns its id and appends it.
func (s *Service) saveWithChange(ctx context.Context, tx *gorm.DB, operation string, target *Item, change *ContentChange) error {
	if err := tx.WithContext(ctx).Omit(clause.Associations).Save(target).Error; err != nil {
		s.logError(operation, "save_failed", err, zap.String("item_id", target.ID))
		return kberr.Internal(operation, "save_failed", err)
	}
	if change == nil {
		return nil
	}

	changeID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(operation, "id_generation_failed", err, zap.String("item_id", target.ID))
		return kberr.Internal(operation, "id_generation_failed", err)
	}
	change.ID = changeID
	if err := tx.WithContext(ctx).Create(change).Error; err != nil {
		s.logError(operation, "change_insert_failed", err, zap.String("item_id", target.ID))
		return kberr.Internal(operation, "change_insert_failed", err)
	}
	return nil
}

func (s *Service) loadOwned(ctx context.Context, operation, ownerID, id string) (*Item, error) {
	return s.loadOwnedTx(ctx, s.db, operation, ownerID, id, false)
}

// loadOwnedTx loads an item and checks direct ownership. With history set, the
// ordered change history is preloaded so seq assignment sees every prior
// record.
func (s *Service) loadOwnedTx(ctx context.Context, tx *gorm.DB, operation, ownerID, id string, history bool) (*Item, error) {
	query := tx.WithContext(ctx)
	if history {
		query = query.Preload("ChangeHistory", func(db *gorm.DB) *gorm.DB {
			return db.Order("seq ASC")
		})
	}

	var found Item
	err := query.Where("id = ?", id).Take(&found).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, kberr.NotFound(operation, "item_not_found", err)
	}
	if err != nil {
		s.logError(operation, "lookup_failed", err, zap.String("item_id", id))
		return nil, kberr.Internal(operation, "lookup_failed", err)
	}
	if found.OwnerID != ownerID {
		return nil, kberr.Forbidden(operation, "item_access_denied", nil)
	}
	return &found, nil
}

func (s *Service) loadOwnedFull(ctx context.Context, operation, ownerID, id string) (*Item, error) {
	var found Item
	err := s.db.WithContext(ctx).
		Preload("Collections").
		Preload("ChangeHistory", func(db *gorm.DB) *gorm.DB {
			return db.Order("seq ASC")
		}).
		Where("id = ?", id).
		Take(&found).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, kberr.NotFound(operation, "item_not_found", err)
	}
	if err != nil {
		s.logError(operation, "lookup_failed", err, zap.String("item_id", id))
		return nil, kberr.Internal(operation, "lookup_failed", err)
	}
	if found.OwnerID != ownerID {
		return nil, kberr.Forbidden(operation, "item_access_denied", nil)
	}
	return &found, nil
}

// resolveCollections loads every referenced collection and enforces the
// same-workspace invariant before an item may link to it.
func (s *Service) resolveCollections(ctx context.Context, tx *gorm.DB, operation, workspaceID string, ids []string) ([]collection.Collection, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	resolved := make([]collection.Collection, 0, len(ids))
	for _, collectionID := range ids {
		var found collection.Collection
		err := tx.WithContext(ctx).Where("id = ?", collectionID).Take(&found).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, kberr.NotFound(operation, "collection_not_found", err)
		}
		if err != nil {
			s.logError(operation, "collection_lookup_failed", err, zap.String("collection_id", collectionID))
			return nil, kberr.Internal(operation, "collection_lookup_failed", err)
		}
		if found.WorkspaceID != workspaceID {
			return nil, kberr.BadRequest(operation, "collection_workspace_mismatch", errCollectionOutside)
		}
		resolved = append(resolved, found)
	}
	return resolved, nil
}

func (s *Service) validateCollectionAccess(ctx context.Context, ownerID, collectionID string) error {
	var found collection.Collection
	err := s.db.WithContext(ctx).Where("id = ?", collectionID).Take(&found).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return kberr.NotFound(opList, "collection_not_found", err)
	}
	if err != nil {
		s.logError(opList, "collection_lookup_failed", err, zap.String("collection_id", collectionID))
		return kberr.Internal(opList, "collection_lookup_failed", err)
	}
	if _, err := workspace.Validate(ctx, s.db, opList, ownerID, found.WorkspaceID); err != nil {
		if kberr.KindOf(err) == kberr.KindForbidden {
			return kberr.NotFound(opList, "collection_not_found", nil)
		}
		return err
	}
	return nil
}

func applyReadFlag(target *Item, read bool, now time.Time) {
	target.IsRead = read
	if read {
		target.ReadAt = &now
	} else {
		target.ReadAt = nil
	}
}

func containsAllTags(have, want []string) bool {
	if len(want) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(have))
	for _, tag := range have {
		set[tag] = struct{}{}
	}
	for _, tag := range want {
		if _, ok := set[tag]; !ok {
			return false
		}
	}
	return true
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("item service error", attrs...)
}
