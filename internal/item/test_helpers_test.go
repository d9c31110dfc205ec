package item

import (
	"fmt"
	"testing"
	"time"

	"github.com/alcovehq/alcove/internal/collection"
	"github.com/alcovehq/alcove/internal/workspace"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequenceIDGenerator struct {
	prefix string
	next   int
}

func (g *sequenceIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("%s-%d", g.prefix, g.next), nil
}

// steppingClock returns a clock that advances one second per call, so change
// timestamps stay distinct within one test.
func steppingClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(time.Second)
		return current
	}
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:alcove_item_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&workspace.Workspace{}, &collection.Collection{}, &Item{}, &ContentChange{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      steppingClock(time.Unix(1700000000, 0).UTC()),
		IDProvider: &sequenceIDGenerator{prefix: "gen"},
	})
	if err != nil {
		t.Fatalf("failed to construct item service: %v", err)
	}
	return service, db
}

func seedWorkspace(t *testing.T, db *gorm.DB, id, ownerID string) {
	t.Helper()
	ws := workspace.Workspace{ID: id, OwnerID: ownerID, Name: "workspace " + id}
	if err := db.Create(&ws).Error; err != nil {
		t.Fatalf("failed to seed workspace: %v", err)
	}
}

func seedCollection(t *testing.T, db *gorm.DB, id, workspaceID string) {
	t.Helper()
	col := collection.Collection{ID: id, WorkspaceID: workspaceID, Name: "collection " + id}
	if err := db.Create(&col).Error; err != nil {
		t.Fatalf("failed to seed collection: %v", err)
	}
}

func strPtr(value string) *string {
	return &value
}

func boolPtr(value bool) *bool {
	return &value
}
