package session

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*DraftStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewDraftStore("redis://"+s.Addr(), time.Hour)
	if err != nil {
		t.Fatalf("failed to create draft store: %v", err)
	}
	return store, s
}

func sampleEdits() map[string]map[string]string {
	return map[string]map[string]string{
		"n1": {"title": "Draft Title", "slug": "draft-title"},
		"n2": {"body": "work in progress"},
	}
}

func TestSaveAndLoadDraft(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.SaveDraft(ctx, "user-1", "doc-1", sampleEdits()); err != nil {
		t.Fatalf("SaveDraft failed: %v", err)
	}

	draft, err := store.LoadDraft(ctx, "user-1", "doc-1")
	if err != nil {
		t.Fatalf("LoadDraft failed: %v", err)
	}
	if !reflect.DeepEqual(draft.Edits, sampleEdits()) {
		t.Errorf("edits = %+v, want round-tripped draft", draft.Edits)
	}
	if draft.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be set")
	}
}

func TestLoadMissingDraft(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	draft, err := store.LoadDraft(context.Background(), "user-1", "no-such-doc")
	if err != nil {
		t.Fatalf("LoadDraft failed: %v", err)
	}
	if len(draft.Edits) != 0 {
		t.Errorf("expected empty draft, got %+v", draft.Edits)
	}
}

func TestDraftExpires(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()
	store, err := NewDraftStore("redis://"+s.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("failed to create draft store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.SaveDraft(ctx, "user-1", "doc-1", sampleEdits()); err != nil {
		t.Fatalf("SaveDraft failed: %v", err)
	}

	s.FastForward(2 * time.Minute)

	draft, err := store.LoadDraft(ctx, "user-1", "doc-1")
	if err != nil {
		t.Fatalf("LoadDraft failed: %v", err)
	}
	if len(draft.Edits) != 0 {
		t.Errorf("expected expired draft to be gone, got %+v", draft.Edits)
	}
}

func TestSaveEmptyDraftDeletes(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.SaveDraft(ctx, "user-1", "doc-1", sampleEdits()); err != nil {
		t.Fatalf("SaveDraft failed: %v", err)
	}
	if err := store.SaveDraft(ctx, "user-1", "doc-1", nil); err != nil {
		t.Fatalf("SaveDraft with empty edits failed: %v", err)
	}

	draft, err := store.LoadDraft(ctx, "user-1", "doc-1")
	if err != nil {
		t.Fatalf("LoadDraft failed: %v", err)
	}
	if len(draft.Edits) != 0 {
		t.Errorf("expected draft removed, got %+v", draft.Edits)
	}
}

func TestDeleteDraft(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.SaveDraft(ctx, "user-1", "doc-1", sampleEdits()); err != nil {
		t.Fatalf("SaveDraft failed: %v", err)
	}
	if err := store.DeleteDraft(ctx, "user-1", "doc-1"); err != nil {
		t.Fatalf("DeleteDraft failed: %v", err)
	}

	draft, err := store.LoadDraft(ctx, "user-1", "doc-1")
	if err != nil {
		t.Fatalf("LoadDraft failed: %v", err)
	}
	if len(draft.Edits) != 0 {
		t.Errorf("expected draft removed, got %+v", draft.Edits)
	}

	// Deleting a missing draft is fine.
	if err := store.DeleteDraft(ctx, "user-1", "no-such-doc"); err != nil {
		t.Errorf("DeleteDraft for missing draft failed: %v", err)
	}
}

func TestDraftIsolation(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.SaveDraft(ctx, "user-1", "doc-1", map[string]map[string]string{"n1": {"title": "mine"}}); err != nil {
		t.Fatalf("SaveDraft user-1 failed: %v", err)
	}
	if err := store.SaveDraft(ctx, "user-2", "doc-1", map[string]map[string]string{"n1": {"title": "theirs"}}); err != nil {
		t.Fatalf("SaveDraft user-2 failed: %v", err)
	}

	mine, err := store.LoadDraft(ctx, "user-1", "doc-1")
	if err != nil {
		t.Fatalf("LoadDraft user-1 failed: %v", err)
	}
	if mine.Edits["n1"]["title"] != "mine" {
		t.Errorf("user-1 draft = %+v", mine.Edits)
	}

	if err := store.DeleteDraft(ctx, "user-1", "doc-1"); err != nil {
		t.Fatalf("DeleteDraft failed: %v", err)
	}
	theirs, err := store.LoadDraft(ctx, "user-2", "doc-1")
	if err != nil {
		t.Fatalf("LoadDraft user-2 failed: %v", err)
	}
	if theirs.Edits["n1"]["title"] != "theirs" {
		t.Errorf("user-2 draft affected by user-1 delete: %+v", theirs.Edits)
	}
}
