package revision

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func sampleSnapshot(title string) Snapshot {
	return Snapshot{
		Title: title,
		Root: &SnapshotNode{
			ID:       "root",
			Datatype: "dt_page",
			Children: []*SnapshotNode{
				{
					ID:       "n1",
					Datatype: "dt_article",
					Fields:   map[string]string{"title": "Hello", "body": "First body"},
				},
				{
					ID:       "n2",
					Datatype: "dt_article",
					Fields:   map[string]string{"title": "Second"},
				},
			},
		},
	}
}

func TestDocumentRepoLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureDocumentRepo("doc-1", sampleSnapshot("Doc"), "Avery"); err != nil {
		t.Fatalf("EnsureDocumentRepo() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "doc-1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	// Idempotent re-init.
	if err := svc.EnsureDocumentRepo("doc-1", sampleSnapshot("Ignored"), "Avery"); err != nil {
		t.Fatalf("EnsureDocumentRepo() repeat error = %v", err)
	}

	updated := sampleSnapshot("Doc")
	updated.Root.Children[0].Fields["body"] = "Edited body"
	commit, err := svc.CommitSnapshot("doc-1", updated, "Avery", "Edit first article")
	if err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}
	if commit.Hash == "" {
		t.Fatal("expected commit hash")
	}

	history, err := svc.History("doc-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %d entries, want 2", len(history))
	}
	if history[0].Message != "Edit first article" {
		t.Fatalf("newest commit = %q", history[0].Message)
	}

	restored, err := svc.SnapshotByHash("doc-1", commit.Hash)
	if err != nil {
		t.Fatalf("SnapshotByHash() error = %v", err)
	}
	if restored.Root.Children[0].Fields["body"] != "Edited body" {
		t.Fatalf("unexpected snapshot: %+v", restored.Root.Children[0])
	}

	baseline, err := svc.SnapshotByHash("doc-1", history[1].Hash)
	if err != nil {
		t.Fatalf("SnapshotByHash() baseline error = %v", err)
	}
	if baseline.Root.Children[0].Fields["body"] != "First body" {
		t.Fatalf("baseline snapshot drifted: %+v", baseline.Root.Children[0])
	}
}

func TestHeadTracksLatestCommit(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureDocumentRepo("doc-1", sampleSnapshot("Doc"), "Avery"); err != nil {
		t.Fatalf("EnsureDocumentRepo() error = %v", err)
	}

	updated := sampleSnapshot("Doc, renamed")
	if _, err := svc.CommitSnapshot("doc-1", updated, "Avery", "Rename"); err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}

	head, commit, err := svc.Head("doc-1")
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if head.Title != "Doc, renamed" {
		t.Fatalf("head title = %q", head.Title)
	}
	if commit.Author != "Avery" {
		t.Fatalf("commit author = %q", commit.Author)
	}
}

func TestConcurrentCommits(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureDocumentRepo("doc-1", sampleSnapshot("Doc"), "Avery"); err != nil {
		t.Fatalf("EnsureDocumentRepo() error = %v", err)
	}

	const writers = 12
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			next := sampleSnapshot(fmt.Sprintf("title-%02d", idx))
			if _, err := svc.CommitSnapshot("doc-1", next, "Avery", fmt.Sprintf("Commit %02d", idx)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("CommitSnapshot() concurrent error = %v", err)
		}
	}

	history, err := svc.History("doc-1", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) < writers+1 {
		t.Fatalf("expected at least %d commits in history, got %d", writers+1, len(history))
	}

	head, _, err := svc.Head("doc-1")
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if !strings.HasPrefix(head.Title, "title-") {
		t.Fatalf("unexpected head after concurrent commits: %+v", head)
	}
}
