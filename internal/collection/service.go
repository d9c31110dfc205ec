package collection

import (
	"context"
	"errors"
	"strings"

	"github.com/alcovehq/alcove/internal/identifier"
	"github.com/alcovehq/alcove/internal/kberr"
	"github.com/alcovehq/alcove/internal/workspace"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingName       = errors.New("collection name is required")
	errParentWorkspace   = errors.New("parent collection belongs to a different workspace")
	errParentCycle       = errors.New("parent change would create a cycle")
	errHasChildren       = errors.New("collection still has children")
	errCorruptChain      = errors.New("parent chain revisits a collection")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew = "collection.service.new"
	opCreate     = "collection.create"
	opUpdate     = "collection.update"
	opMove       = "collection.move"
	opDelete     = "collection.delete"
	opTree       = "collection.tree"
)

// ServiceConfig describes the dependencies for the hierarchy service.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider identifier.Provider
	Logger     *zap.Logger
}

// Service maintains the collection tree of a workspace: creation, patching,
// moves and deletes all preserve the no-cycle and same-workspace invariants.
type Service struct {
	db         *gorm.DB
	idProvider identifier.Provider
	logger     *zap.Logger
}

// NewService constructs the hierarchy service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, kberr.Internal(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, kberr.Internal(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// CreateInput carries the caller-supplied attributes for a new collection.
// A nil or zero SortOrder places the collection last among its siblings.
type CreateInput struct {
	WorkspaceID       string
	ParentID          *string
	Name              string
	Description       string
	Color             string
	Icon              string
	SortOrder         *int
	IsExpanded        *bool
	IsSmartCollection bool
	FilterRules       datatypes.JSON
}

// Create validates workspace ownership and parentage, assigns the default
// sibling position when no explicit order is given, and persists the node.
func (s *Service) Create(ctx context.Context, ownerID string, input CreateInput) (*Collection, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, kberr.BadRequest(opCreate, "missing_name", errMissingName)
	}

	if _, err := workspace.Validate(ctx, s.db, opCreate, ownerID, input.WorkspaceID); err != nil {
		return nil, err
	}

	if input.ParentID != nil {
		parent, err := s.loadByID(ctx, s.db, opCreate, *input.ParentID)
		if err != nil {
			return nil, err
		}
		if parent.WorkspaceID != input.WorkspaceID {
			return nil, kberr.BadRequest(opCreate, "parent_workspace_mismatch", errParentWorkspace)
		}
	}

	order := 0
	if input.SortOrder != nil {
		order = *input.SortOrder
	}
	if order == 0 {
		siblingCount, err := s.countSiblings(ctx, s.db, input.WorkspaceID, input.ParentID)
		if err != nil {
			s.logError(opCreate, "sibling_count_failed", err, zap.String("workspace_id", input.WorkspaceID))
			return nil, kberr.Internal(opCreate, "sibling_count_failed", err)
		}
		order = siblingCount
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return nil, kberr.Internal(opCreate, "id_generation_failed", err)
	}

	expanded := true
	if input.IsExpanded != nil {
		expanded = *input.IsExpanded
	}

	created := Collection{
		ID:                id,
		WorkspaceID:       input.WorkspaceID,
		ParentID:          input.ParentID,
		Name:              strings.TrimSpace(input.Name),
		Description:       input.Description,
		Color:             input.Color,
		Icon:              input.Icon,
		SortOrder:         order,
		IsExpanded:        expanded,
		IsSmartCollection: input.IsSmartCollection,
		FilterRules:       input.FilterRules,
	}
	if err := s.db.WithContext(ctx).Create(&created).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("workspace_id", input.WorkspaceID))
		return nil, kberr.Internal(opCreate, "insert_failed", err)
	}
	return &created, nil
}

// UpdatePatch applies partial field updates: only non-nil fields are written.
// ParentID uses a double pointer so "absent" and "clear to root" stay
// distinguishable.
type UpdatePatch struct {
	Name              *string
	Description       *string
	Color             *string
	Icon              *string
	SortOrder         *int
	IsExpanded        *bool
	IsSmartCollection *bool
	FilterRules       *datatypes.JSON
	ParentID          **string
}

// Update patches an owned collection. Parent changes re-validate workspace
// containment and run cycle detection before the reference is written; the
// read-validate-write sequence holds a row lock inside one transaction so
// concurrent moves cannot jointly introduce a cycle.
func (s *Service) Update(ctx context.Context, ownerID, id string, patch UpdatePatch) (*Collection, error) {
	var updated *Collection
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.loadOwnedLocked(ctx, tx, opUpdate, ownerID, id)
		if err != nil {
			return err
		}

		if patch.ParentID != nil {
			if err := s.validateParentChange(ctx, tx, opUpdate, current, *patch.ParentID); err != nil {
				return err
			}
			current.ParentID = *patch.ParentID
		}
		if patch.Name != nil {
			current.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Description != nil {
			current.Description = *patch.Description
		}
		if patch.Color != nil {
			current.Color = *patch.Color
		}
		if patch.Icon != nil {
			current.Icon = *patch.Icon
		}
		if patch.SortOrder != nil {
			current.SortOrder = *patch.SortOrder
		}
		if patch.IsExpanded != nil {
			current.IsExpanded = *patch.IsExpanded
		}
		if patch.IsSmartCollection != nil {
			current.IsSmartCollection = *patch.IsSmartCollection
		}
		if patch.FilterRules != nil {
			current.FilterRules = *patch.FilterRules
		}

		if err := tx.Save(current).Error; err != nil {
			s.logError(opUpdate, "save_failed", err, zap.String("collection_id", id))
			return kberr.Internal(opUpdate, "save_failed", err)
		}
		updated = current
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return updated, nil
}

// MoveInput describes a structural move: NewParentID nil promotes the
// collection to root, NewOrder optionally repositions it among its new
// siblings.
type MoveInput struct {
	NewParentID *string
	NewOrder    *int
}

// Move reparents an owned collection after the same workspace and cycle
// validation as Update, within one transaction.
func (s *Service) Move(ctx context.Context, ownerID, id string, input MoveInput) (*Collection, error) {
	var moved *Collection
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.loadOwnedLocked(ctx, tx, opMove, ownerID, id)
		if err != nil {
			return err
		}

		if err := s.validateParentChange(ctx, tx, opMove, current, input.NewParentID); err != nil {
			return err
		}

		current.ParentID = input.NewParentID
		if input.NewOrder != nil {
			current.SortOrder = *input.NewOrder
		}

		if err := tx.Save(current).Error; err != nil {
			s.logError(opMove, "save_failed", err, zap.String("collection_id", id))
			return kberr.Internal(opMove, "save_failed", err)
		}
		moved = current
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return moved, nil
}

// Delete removes an owned collection. Deletion is refused while any child
// still lists it as parent; descendants must be moved or deleted first.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.loadOwnedLocked(ctx, tx, opDelete, ownerID, id)
		if err != nil {
			return err
		}

		var childCount int64
		if err := tx.Model(&Collection{}).
			Where("parent_id = ?", current.ID).
			Count(&childCount).Error; err != nil {
			s.logError(opDelete, "child_count_failed", err, zap.String("collection_id", id))
			return kberr.Internal(opDelete, "child_count_failed", err)
		}
		if childCount > 0 {
			return kberr.BadRequest(opDelete, "has_children", errHasChildren)
		}

		if err := tx.Delete(&Collection{}, "id = ?", current.ID).Error; err != nil {
			s.logError(opDelete, "delete_failed", err, zap.String("collection_id", id))
			return kberr.Internal(opDelete, "delete_failed", err)
		}
		return nil
	})
}

// GetByID loads a collection scoped to the caller's ownership.
func (s *Service) GetByID(ctx context.Context, ownerID, id string) (*Collection, error) {
	return s.loadOwned(ctx, s.db, opTree, ownerID, id)
}

// Tree assembles the ordered collection tree of an owned workspace.
func (s *Service) Tree(ctx context.Context, ownerID, workspaceID string) ([]*TreeNode, error) {
	if _, err := workspace.Validate(ctx, s.db, opTree, ownerID, workspaceID); err != nil {
		return nil, err
	}

	var flat []Collection
	if err := s.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Find(&flat).Error; err != nil {
		s.logError(opTree, "query_failed", err, zap.String("workspace_id", workspaceID))
		return nil, kberr.Internal(opTree, "query_failed", err)
	}
	return buildTree(flat), nil
}

// validateParentChange enforces the two structural invariants before a parent
// reference is written: the new parent lives in the same workspace, and the
// parent chain starting there never reaches the moved collection.
func (s *Service) validateParentChange(ctx context.Context, tx *gorm.DB, operation string, current *Collection, newParentID *string) error {
	if newParentID == nil {
		return nil
	}
	parent, err := s.loadByID(ctx, tx, operation, *newParentID)
	if err != nil {
		return err
	}
	if parent.WorkspaceID != current.WorkspaceID {
		return kberr.BadRequest(operation, "parent_workspace_mismatch", errParentWorkspace)
	}
	return s.detectCycle(ctx, tx, operation, current.ID, parent)
}

// detectCycle walks the parent chain upward from the candidate parent. Hitting
// the moved collection's id means the write would close a loop; reaching a
// parentless node means the chain is safe. A visited set turns a pre-existing
// corrupt loop into an error instead of an endless walk.
func (s *Service) detectCycle(ctx context.Context, tx *gorm.DB, operation, collectionID string, candidateParent *Collection) error {
	visited := map[string]struct{}{}
	cursor := candidateParent
	for {
		if cursor.ID == collectionID {
			return kberr.BadRequest(operation, "parent_cycle", errParentCycle)
		}
		if _, seen := visited[cursor.ID]; seen {
			s.logError(operation, "corrupt_parent_chain", errCorruptChain, zap.String("collection_id", cursor.ID))
			return kberr.Internal(operation, "corrupt_parent_chain", errCorruptChain)
		}
		visited[cursor.ID] = struct{}{}

		if cursor.ParentID == nil {
			return nil
		}
		next, err := s.loadByID(ctx, tx, operation, *cursor.ParentID)
		if err != nil {
			return err
		}
		cursor = next
	}
}

func (s *Service) countSiblings(ctx context.Context, tx *gorm.DB, workspaceID string, parentID *string) (int, error) {
	query := tx.WithContext(ctx).Model(&Collection{}).Where("workspace_id = ?", workspaceID)
	if parentID == nil {
		query = query.Where("parent_id IS NULL")
	} else {
		query = query.Where("parent_id = ?", *parentID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *Service) loadByID(ctx context.Context, tx *gorm.DB, operation, id string) (*Collection, error) {
	var found Collection
	err := tx.WithContext(ctx).Where("id = ?", id).Take(&found).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, kberr.NotFound(operation, "collection_not_found", err)
	}
	if err != nil {
		s.logError(operation, "collection_lookup_failed", err, zap.String("collection_id", id))
		return nil, kberr.Internal(operation, "collection_lookup_failed", err)
	}
	return &found, nil
}

// loadOwned resolves a collection through its workspace's ownership. A
// collection whose workspace the caller does not own reads as absent.
func (s *Service) loadOwned(ctx context.Context, tx *gorm.DB, operation, ownerID, id string) (*Collection, error) {
	found, err := s.loadByID(ctx, tx, operation, id)
	if err != nil {
		return nil, err
	}
	if _, err := workspace.Validate(ctx, tx, operation, ownerID, found.WorkspaceID); err != nil {
		if kberr.KindOf(err) == kberr.KindForbidden {
			return nil, kberr.NotFound(operation, "collection_not_found", nil)
		}
		return nil, err
	}
	return found, nil
}

// loadOwnedLocked is loadOwned with a row lock on the collection, pinning the
// read that cycle detection validates against until the transaction commits.
func (s *Service) loadOwnedLocked(ctx context.Context, tx *gorm.DB, operation, ownerID, id string) (*Collection, error) {
	var found Collection
	err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Take(&found).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, kberr.NotFound(operation, "collection_not_found", err)
	}
	if err != nil {
		s.logError(operation, "collection_lookup_failed", err, zap.String("collection_id", id))
		return nil, kberr.Internal(operation, "collection_lookup_failed", err)
	}
	if _, err := workspace.Validate(ctx, tx, operation, ownerID, found.WorkspaceID); err != nil {
		if kberr.KindOf(err) == kberr.KindForbidden {
			return nil, kberr.NotFound(operation, "collection_not_found", nil)
		}
		return nil, err
	}
	return &found, nil
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
	s.logger.Error("collection service error", attrs...)
}
