package workspace

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/alcovehq/alcove/internal/identifier"
	"github.com/alcovehq/alcove/internal/kberr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingOwnerID    = errors.New("owner identifier is required")
	errMissingName       = errors.New("workspace name is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew      = "workspace.service.new"
	opCreate          = "workspace.create"
	opGet             = "workspace.get"
	opList            = "workspace.list"
	opDelete          = "workspace.delete"
	collectionsTable  = "collections"
	workspaceItemsTbl = "items"
)

// ServiceConfig describes the dependencies for the workspace service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider identifier.Provider
	Logger     *zap.Logger
}

// Service manages workspace lifecycle and ownership checks.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider identifier.Provider
	logger     *zap.Logger
}

// NewService constructs the workspace service.
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

// CreateInput carries the caller-supplied workspace attributes.
type CreateInput struct {
	Name        string
	Description string
	Color       string
	Icon        string
	IsDefault   bool
}

// Create persists a new workspace owned by ownerID.
func (s *Service) Create(ctx context.Context, ownerID string, input CreateInput) (*Workspace, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, kberr.BadRequest(opCreate, "missing_owner", errMissingOwnerID)
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, kberr.BadRequest(opCreate, "missing_name", errMissingName)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return nil, kberr.Internal(opCreate, "id_generation_failed", err)
	}

	ws := Workspace{
		ID:          id,
		OwnerID:     ownerID,
		Name:        strings.TrimSpace(input.Name),
		Description: input.Description,
		Color:       input.Color,
		Icon:        input.Icon,
		IsDefault:   input.IsDefault,
	}
	if err := s.db.WithContext(ctx).Create(&ws).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("owner_id", ownerID))
		return nil, kberr.Internal(opCreate, "insert_failed", err)
	}
	return &ws, nil
}

// GetByID loads a workspace and verifies the caller owns it.
func (s *Service) GetByID(ctx context.Context, ownerID, workspaceID string) (*Workspace, error) {
	return Validate(ctx, s.db, opGet, ownerID, workspaceID)
}

// List returns every workspace owned by ownerID.
func (s *Service) List(ctx context.Context, ownerID string) ([]Workspace, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, kberr.BadRequest(opList, "missing_owner", errMissingOwnerID)
	}

	var workspaces []Workspace
	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC").
		Find(&workspaces).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("owner_id", ownerID))
		return nil, kberr.Internal(opList, "query_failed", err)
	}
	return workspaces, nil
}

// Delete removes an owned workspace. Deletion is refused while collections or
// items still reference the workspace, forcing the caller to empty it first.
func (s *Service) Delete(ctx context.Context, ownerID, workspaceID string) error {
	ws, err := Validate(ctx, s.db, opDelete, ownerID, workspaceID)
	if err != nil {
		return err
	}

	var collectionCount int64
	if err := s.db.WithContext(ctx).Table(collectionsTable).
		Where("workspace_id = ?", ws.ID).
		Count(&collectionCount).Error; err != nil {
		s.logError(opDelete, "collection_count_failed", err, zap.String("workspace_id", ws.ID))
		return kberr.Internal(opDelete, "collection_count_failed", err)
	}
	if collectionCount > 0 {
		return kberr.BadRequest(opDelete, "workspace_not_empty", nil)
	}

	var itemCount int64
	if err := s.db.WithContext(ctx).Table(workspaceItemsTbl).
		Where("workspace_id = ?", ws.ID).
		Count(&itemCount).Error; err != nil {
		s.logError(opDelete, "item_count_failed", err, zap.String("workspace_id", ws.ID))
		return kberr.Internal(opDelete, "item_count_failed", err)
	}
	if itemCount > 0 {
		return kberr.BadRequest(opDelete, "workspace_not_empty", nil)
	}

	if err := s.db.WithContext(ctx).Delete(&Workspace{}, "id = ?", ws.ID).Error; err != nil {
		s.logError(opDelete, "delete_failed", err, zap.String("workspace_id", ws.ID))
		return kberr.Internal(opDelete, "delete_failed", err)
	}
	return nil
}

// Validate loads workspaceID and checks that ownerID owns it. Sibling
// services use it for the workspace-access precondition on their own
// operations; the operation name feeds the error code.
func Validate(ctx context.Context, db *gorm.DB, operation, ownerID, workspaceID string) (*Workspace, error) {
	var ws Workspace
	err := db.WithContext(ctx).Where("id = ?", workspaceID).Take(&ws).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, kberr.NotFound(operation, "workspace_not_found", err)
	}
	if err != nil {
		return nil, kberr.Internal(operation, "workspace_lookup_failed", err)
	}
	if ws.OwnerID != ownerID {
		return nil, kberr.Forbidden(operation, "workspace_access_denied", nil)
	}
	return &ws, nil
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
	s.logger.Error("workspace service error", attrs...)
}
