package item

import (
	"context"
	"testing"
	"time"

	"github.com/alcovehq/alcove/internal/kberr"
)

func TestCreateLinksCollectionsAndDefaultsType(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()
	seedWorkspace(t, db, "ws-1", "user-1")
	seedCollection(t, db, "col-1", "ws-1")

	created, err := service.Create(ctx, "user-1", CreateInput{
		WorkspaceID:   "ws-1",
		Title:         "  Reading list  ",
		Tags:          []string{"go", "db"},
		CollectionIDs: []string{"col-1"},
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if created.Type != TypeNote {
		t.Fatalf("expected default type note, got %q", created.Type)
	}
	if created.Title != "Reading list" {
		t.Fatalf("expected trimmed title, got %q", created.Title)
	}
	if len(created.Collections) != 1 || created.Collections[0].ID != "col-1" {
		t.Fatalf("expected link to col-1, got %+v", created.Collections)
	}

	loaded, err := service.GetByID(ctx, "user-1", created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got := loaded.TagList(); len(got) != 2 || got[0] != "go" {
		t.Fatalf("unexpected tags %v", got)
	}
	if loaded.LastAccessedAt == nil {
		t.Fatal("expected access time to be recorded")
	}
}

func TestCreateRejectsForeignWorkspaceAndCollection(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()
	seedWorkspace(t, db, "ws-1", "user-1")
	seedWorkspace(t, db, "ws-2", "user-1")
	seedCollection(t, db, "col-other", "ws-2")

	_, err := service.Create(ctx, "user-2", CreateInput{WorkspaceID: "ws-1", Title: "x"})
	if kberr.KindOf(err) != kberr.KindForbidden {
		t.Fatalf("expected forbidden for non-owner, got %v", err)
	}

	_, err = service.Create(ctx, "user-1", CreateInput{
		WorkspaceID:   "ws-1",
		Title:         "x",
		CollectionIDs: []string{"col-other"},
	})
	if kberr.KindOf(err) != kberr.KindBadRequest {
		t.Fatalf("expected bad request for cross-workspace collection, got %v", err)
	}

	_, err = service.Create(ctx, "user-1", CreateInput{WorkspaceID: "ws-1", Title: "   "})
	if kberr.KindOf(err) != kberr.KindBadRequest {
		t.Fatalf("expected bad request for blank title, got %v", err)
	}
}

func TestUpdateRawContentAppendsChangeRecords(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()
	seedWorkspace(t, db, "ws-1", "user-1")

	created, err := service.Create(ctx, "user-1", CreateInput{
		WorkspaceID: "ws-1",
		Title:       "watched page",
		RawContent:  "v1",
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	updated, err := service.UpdateRawContent(ctx, "user-1", created.ID, "v2", "patch-1", "sum-1")
	if err != nil {
		t.Fatalf("first content update failed: %v", err)
	}
	if !updated.HasUnreadChanges {
		t.Fatal("expected unread-changes flag after update")
	}
	updated, err = service.UpdateBothContents(ctx, "user-1", created.ID, "v3", "# v3", "patch-2", "md-patch-2", "sum-2")
	if err != nil {
		t.Fatalf("second content update failed: %v", err)
	}
	if updated.RawContent != "v3" || updated.MarkdownContent != "# v3" {
		t.Fatalf("unexpected bodies %q / %q", updated.RawContent, updated.MarkdownContent)
	}
	if len(updated.ChangeHistory) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(updated.ChangeHistory))
	}
	last := updated.ChangeHistory[1]
	if last.Seq != 2 || last.RawDiff != "patch-2" || last.MarkdownDiff != "md-patch-2" {
		t.Fatalf("unexpected last change %+v", last)
	}
	if last.ChangeSize != len("patch-2")+len("md-patch-2") {
		t.Fatalf("unexpected change size %d", last.ChangeSize)
	}

	var count int64
	if err := db.Model(&ContentChange{}).Where("item_id = ?", created.ID).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 persisted change rows, got %d", count)
	}
}

func TestUpdateRenderedContentAppendsChangeRecord(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()
	seedWorkspace(t, db, "ws-1", "user-1")

	created, err := service.Create(ctx, "user-1", CreateInput{
		WorkspaceID: "ws-1",
		Title:       "article",
		Content:     "rendered v1",
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	updated, err := service.Update(ctx, "user-1", created.ID, UpdatePatch{Content: strPtr("rendered v2")})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Content != "rendered v2" {
		t.Fatalf("expected rendered body overwritten, got %q", updated.Content)
	}
	if !updated.HasUnreadChanges {
		t.Fatal("expected unread-changes flag after a rendered-content update")
	}
	if len(updated.ChangeHistory) != 1 {
		t.Fatalf("expected 1 change record, got %d", len(updated.ChangeHistory))
	}
	if updated.ChangeHistory[0].ChangeSize != 0 {
		t.Fatalf("rendered-only change carries no diffs, got size %d", updated.ChangeHistory[0].ChangeSize)
	}

	var count int64
	if err := db.Model(&ContentChange{}).Where("item_id = ?", created.ID).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected the change row persisted, got %d", count)
	}
}

func TestMarkChangesAsReadKeepsHistory(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()
	seedWorkspace(t, db, "ws-1", "user-1")

	created, err := service.Create(ctx, "user-1", CreateInput{WorkspaceID: "ws-1", Title: "page"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := service.UpdateRawContent(ctx, "user-1", created.ID, "body", "d", "s"); err != nil {
		t.Fatalf("content update failed: %v", err)
	}

	marked, err := service.MarkChangesAsRead(ctx, "user-1", created.ID)
	if err != nil {
		t.Fatalf("mark changes read failed: %v", err)
	}
	if marked.HasUnreadChanges {
		t.Fatal("expected unread-changes flag to be cleared")
	}

	loaded, err := service.GetByID(ctx, "user-1", created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if loaded.HasUnreadChanges {
		t.Fatal("flag not persisted")
	}
	if len(loaded.ChangeHistory) != 1 {
		t.Fatalf("history must survive mark-as-read, got %d entries", len(loaded.ChangeHistory))
	}
	if loaded.LastChangedAt == nil {
		t.Fatal("last changed time must survive mark-as-read")
	}
}

func TestGetChangesSinceFiltersStrictly(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()
	seedWorkspace(t, db, "ws-1", "user-1")

	created, err := service.Create(ctx, "user-1", CreateInput{WorkspaceID: "ws-1", Title: "page"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := service.UpdateRawContent(ctx, "user-1", created.ID, "v2", "d1", "s1"); err != nil {
		t.Fatalf("content update failed: %v", err)
	}
	first, err := service.GetChangesSince(ctx, "user-1", created.ID, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("changes since failed: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected 1 change, got %d", len(first))
	}
	if _, err := service.UpdateRawContent(ctx, "user-1", created.ID, "v3", "d2", "s2"); err != nil {
		t.Fatalf("content update failed: %v", err)
	}

	after, err := service.GetChangesSince(ctx, "user-1", created.ID, first[0].Timestamp)
	if err != nil {
		t.Fatalf("changes since failed: %v", err)
	}
	if len(after) != 1 || after[0].RawDiff != "d2" {
		t.Fatalf("expected only the second change, got %+v", after)
	}

	changed, err := service.HasChangedSince(ctx, "user-1", created.ID, after[0].Timestamp)
	if err != nil {
		t.Fatalf("has changed since failed: %v", err)
	}
	if changed {
		t.Fatal("expected no change after the latest record")
	}

	if _, err := service.GetChangesSince(ctx, "user-2", created.ID, time.Unix(0, 0)); kberr.KindOf(err) != kberr.KindForbidden {
		t.Fatalf("expected forbidden for non-owner, got %v", err)
	}
}

func TestReadAndFavoriteFlags(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()
	seedWorkspace(t, db, "ws-1", "user-1")

	created, err := service.Create(ctx, "user-1", CreateInput{WorkspaceID: "ws-1", Title: "article"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	read, err := service.MarkAsRead(ctx, "user-1", created.ID)
	if err != nil {
		t.Fatalf("mark read failed: %v", err)
	}
	if !read.IsRead || read.ReadAt == nil {
		t.Fatalf("expected read flag and read time, got %+v", read)
	}
	unread, err := service.MarkAsUnread(ctx, "user-1", created.ID)
	if err != nil {
		t.Fatalf("mark unread failed: %v", err)
	}
	if unread.IsRead || unread.ReadAt != nil {
		t.Fatalf("expected cleared read state, got %+v", unread)
	}

	toggled, err := service.ToggleFavorite(ctx, "user-1", created.ID)
	if err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	if !toggled.IsFavorite {
		t.Fatal("expected favorite after toggle")
	}
	toggled, err = service.ToggleFavorite(ctx, "user-1", created.ID)
	if err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	if toggled.IsFavorite {
		t.Fatal("expected favorite cleared after second toggle")
	}

	followed, err := service.EnableFollowing(ctx, "user-1", created.ID)
	if err != nil {
		t.Fatalf("enable following failed: %v", err)
	}
	if !followed.ShouldFollow {
		t.Fatal("expected following enabled")
	}

	if _, err := service.MarkAsRead(ctx, "user-2", created.ID); kberr.KindOf(err) != kberr.KindForbidden {
		t.Fatalf("expected forbidden for non-owner, got %v", err)
	}
}

func TestDeleteRemovesItemAndHistory(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()
	seedWorkspace(t, db, "ws-1", "user-1")
	seedCollection(t, db, "col-1", "ws-1")

	created, err := service.Create(ctx, "user-1", CreateInput{
		WorkspaceID:   "ws-1",
		Title:         "doomed",
		CollectionIDs: []string{"col-1"},
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := service.UpdateRawContent(ctx, "user-1", created.ID, "body", "d", "s"); err != nil {
		t.Fatalf("content update failed: %v", err)
	}

	if err := service.Delete(ctx, "user-1", created.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	var items, changes int64
	if err := db.Model(&Item{}).Where("id = ?", created.ID).Count(&items).Error; err != nil {
		t.Fatalf("count items failed: %v", err)
	}
	if err := db.Model(&ContentChange{}).Where("item_id = ?", created.ID).Count(&changes).Error; err != nil {
		t.Fatalf("count changes failed: %v", err)
	}
	if items != 0 || changes != 0 {
		t.Fatalf("expected full cleanup, got %d items and %d changes", items, changes)
	}

	if err := service.Delete(ctx, "user-1", created.ID); kberr.KindOf(err) != kberr.KindNotFound {
		t.Fatalf("expected not found for second delete, got %v", err)
	}
}

func TestListersScopeAndFilter(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()
	seedWorkspace(t, db, "ws-1", "user-1")
	seedWorkspace(t, db, "ws-2", "user-1")
	seedCollection(t, db, "col-1", "ws-1")

	mustCreate := func(input CreateInput) *Item {
		t.Helper()
		created, err := service.Create(ctx, "user-1", input)
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		return created
	}
	tagged := mustCreate(CreateInput{
		WorkspaceID:   "ws-1",
		Title:         "tagged",
		Type:          TypeSource,
		URL:           "https://example.com/a",
		Tags:          []string{"go", "sqlite"},
		CollectionIDs: []string{"col-1"},
	})
	mustCreate(CreateInput{WorkspaceID: "ws-1", Title: "plain"})
	mustCreate(CreateInput{WorkspaceID: "ws-2", Title: "elsewhere", Tags: []string{"go"}})

	if _, err := service.MarkAsFavorite(ctx, "user-1", tagged.ID); err != nil {
		t.Fatalf("favorite failed: %v", err)
	}

	byWorkspace, err := service.ListByWorkspace(ctx, "user-1", "ws-1")
	if err != nil {
		t.Fatalf("list by workspace failed: %v", err)
	}
	if len(byWorkspace) != 2 {
		t.Fatalf("expected 2 items in ws-1, got %d", len(byWorkspace))
	}

	sources, err := service.ListByWorkspaceAndType(ctx, "user-1", "ws-1", TypeSource)
	if err != nil {
		t.Fatalf("list by type failed: %v", err)
	}
	if len(sources) != 1 || sources[0].ID != tagged.ID {
		t.Fatalf("expected only the source item, got %+v", sources)
	}

	byCollection, err := service.ListByCollection(ctx, "user-1", "col-1")
	if err != nil {
		t.Fatalf("list by collection failed: %v", err)
	}
	if len(byCollection) != 1 || byCollection[0].ID != tagged.ID {
		t.Fatalf("expected only the linked item, got %+v", byCollection)
	}

	byTags, err := service.ListByTags(ctx, "user-1", "ws-1", []string{"go", "sqlite"})
	if err != nil {
		t.Fatalf("list by tags failed: %v", err)
	}
	if len(byTags) != 1 || byTags[0].ID != tagged.ID {
		t.Fatalf("expected only the fully tagged item, got %+v", byTags)
	}

	favorites, err := service.ListFavorites(ctx, "user-1", "ws-1")
	if err != nil {
		t.Fatalf("list favorites failed: %v", err)
	}
	if len(favorites) != 1 || !favorites[0].IsFavorite {
		t.Fatalf("expected one favorite, got %+v", favorites)
	}
}

func TestSearchMatchesTitleAndBodies(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()
	seedWorkspace(t, db, "ws-1", "user-1")
	seedCollection(t, db, "col-1", "ws-1")

	mustCreate := func(input CreateInput) *Item {
		t.Helper()
		created, err := service.Create(ctx, "user-1", input)
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		return created
	}
	byTitle := mustCreate(CreateInput{
		WorkspaceID:   "ws-1",
		Title:         "Gravity waves primer",
		CollectionIDs: []string{"col-1"},
	})
	byBody := mustCreate(CreateInput{
		WorkspaceID: "ws-1",
		Type:        TypeSource,
		Title:       "untitled clipping",
		RawContent:  "notes on gravity assists",
	})
	mustCreate(CreateInput{WorkspaceID: "ws-1", Title: "unrelated"})

	found, err := service.SearchInWorkspace(ctx, "user-1", "ws-1", "gravity", "")
	if err != nil {
		t.Fatalf("workspace search failed: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected title and body matches, got %d items", len(found))
	}

	typed, err := service.SearchInWorkspace(ctx, "user-1", "ws-1", "gravity", TypeSource)
	if err != nil {
		t.Fatalf("typed search failed: %v", err)
	}
	if len(typed) != 1 || typed[0].ID != byBody.ID {
		t.Fatalf("expected only the source match, got %+v", typed)
	}

	scoped, err := service.SearchInCollection(ctx, "user-1", "col-1", "gravity", "")
	if err != nil {
		t.Fatalf("collection search failed: %v", err)
	}
	if len(scoped) != 1 || scoped[0].ID != byTitle.ID {
		t.Fatalf("expected only the linked match, got %+v", scoped)
	}

	if _, err := service.SearchInWorkspace(ctx, "user-2", "ws-1", "gravity", ""); kberr.KindOf(err) != kberr.KindForbidden {
		t.Fatalf("expected forbidden for non-owner, got %v", err)
	}
}

func TestCollectionScopedFinders(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()
	seedWorkspace(t, db, "ws-1", "user-1")
	seedCollection(t, db, "col-1", "ws-1")

	mustCreate := func(input CreateInput) *Item {
		t.Helper()
		created, err := service.Create(ctx, "user-1", input)
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		return created
	}
	note := mustCreate(CreateInput{
		WorkspaceID:   "ws-1",
		Title:         "linked note",
		Tags:          []string{"go"},
		CollectionIDs: []string{"col-1"},
	})
	source := mustCreate(CreateInput{
		WorkspaceID:   "ws-1",
		Type:          TypeSource,
		Title:         "linked source",
		CollectionIDs: []string{"col-1"},
	})
	mustCreate(CreateInput{WorkspaceID: "ws-1", Title: "unlinked", Tags: []string{"go"}})

	if _, err := service.MarkAsRead(ctx, "user-1", note.ID); err != nil {
		t.Fatalf("mark read failed: %v", err)
	}
	if _, err := service.MarkAsFavorite(ctx, "user-1", source.ID); err != nil {
		t.Fatalf("favorite failed: %v", err)
	}
	if _, err := service.UpdateRawContent(ctx, "user-1", source.ID, "body", "d", "s"); err != nil {
		t.Fatalf("content update failed: %v", err)
	}

	sources, err := service.ListByCollectionAndType(ctx, "user-1", "col-1", TypeSource)
	if err != nil {
		t.Fatalf("list by collection and type failed: %v", err)
	}
	if len(sources) != 1 || sources[0].ID != source.ID {
		t.Fatalf("expected only the linked source, got %+v", sources)
	}

	read, err := service.ListReadByCollection(ctx, "user-1", "col-1")
	if err != nil {
		t.Fatalf("list read by collection failed: %v", err)
	}
	if len(read) != 1 || read[0].ID != note.ID {
		t.Fatalf("expected only the read note, got %+v", read)
	}

	unread, err := service.ListUnreadByCollection(ctx, "user-1", "col-1")
	if err != nil {
		t.Fatalf("list unread by collection failed: %v", err)
	}
	if len(unread) != 1 || unread[0].ID != source.ID {
		t.Fatalf("expected only the unread source, got %+v", unread)
	}

	collectionFavorites, err := service.ListFavoritesByCollection(ctx, "user-1", "col-1")
	if err != nil {
		t.Fatalf("list favorites by collection failed: %v", err)
	}
	if len(collectionFavorites) != 1 || collectionFavorites[0].ID != source.ID {
		t.Fatalf("expected only the favorite source, got %+v", collectionFavorites)
	}

	pending, err := service.ListWithUnreadChangesByCollection(ctx, "user-1", "col-1")
	if err != nil {
		t.Fatalf("list unread changes by collection failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != source.ID {
		t.Fatalf("expected only the changed source, got %+v", pending)
	}

	tagged, err := service.ListByTagsInCollection(ctx, "user-1", "col-1", []string{"go"})
	if err != nil {
		t.Fatalf("list by tags in collection failed: %v", err)
	}
	if len(tagged) != 1 || tagged[0].ID != note.ID {
		t.Fatalf("expected only the linked tagged note, got %+v", tagged)
	}

	workspaceRead, err := service.ListRead(ctx, "user-1", "ws-1")
	if err != nil {
		t.Fatalf("list read failed: %v", err)
	}
	if len(workspaceRead) != 1 || workspaceRead[0].ID != note.ID {
		t.Fatalf("expected only the read note in the workspace, got %+v", workspaceRead)
	}

	pendingWorkspace, err := service.ListWithUnreadChangesByWorkspace(ctx, "user-1", "ws-1")
	if err != nil {
		t.Fatalf("list unread changes by workspace failed: %v", err)
	}
	if len(pendingWorkspace) != 1 || pendingWorkspace[0].ID != source.ID {
		t.Fatalf("expected only the changed source in the workspace, got %+v", pendingWorkspace)
	}

	if _, err := service.EnableFollowing(ctx, "user-1", source.ID); err != nil {
		t.Fatalf("enable following failed: %v", err)
	}
	followed, err := service.ListFollowedByWorkspace(ctx, "user-1", "ws-1")
	if err != nil {
		t.Fatalf("list followed by workspace failed: %v", err)
	}
	if len(followed) != 1 || followed[0].ID != source.ID {
		t.Fatalf("expected only the followed source, got %+v", followed)
	}
}
