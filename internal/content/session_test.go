package content

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type recordedWrite struct {
	Create  bool
	NodeID  string
	FieldID string
	RefID   string
	Value   string
}

type fakeWriter struct {
	mu      sync.Mutex
	writes  []recordedWrite
	failRef string
	failErr error
}

func (f *fakeWriter) CreateContentField(_ context.Context, nodeID, fieldID, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, recordedWrite{Create: true, NodeID: nodeID, FieldID: fieldID, Value: value})
	return nil
}

func (f *fakeWriter) UpdateContentField(_ context.Context, refID, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRef != "" && refID == f.failRef {
		return f.failErr
	}
	f.writes = append(f.writes, recordedWrite{RefID: refID, Value: value})
	return nil
}

func sessionMerged() []MergedField {
	title := &FieldValue{ID: "cf_title", FieldID: "title", Value: "Hello", Type: FieldText}
	// Drifted stub row: a value traveled with it, but it was never actually
	// persisted, so its ref id is empty.
	stubRef := &FieldValue{FieldID: "summary", Value: "leftover", Type: FieldTextarea}
	return []MergedField{
		{FieldID: "title", Type: FieldText, Value: "Hello", Persisted: title},
		{FieldID: "slug", Type: FieldSlug, Value: "", Persisted: nil},
		{FieldID: "summary", Type: FieldTextarea, Value: "leftover", Persisted: stubRef},
	}
}

func TestGetValuePrecedence(t *testing.T) {
	session := NewEditSession()
	merged := sessionMerged()

	if got := session.GetValue("n1", "title", merged); got != "Hello" {
		t.Fatalf("untouched GetValue = %q, want merged value", got)
	}
	session.SetValue("n1", "title", "Changed")
	if got := session.GetValue("n1", "title", merged); got != "Changed" {
		t.Fatalf("touched GetValue = %q, want local edit", got)
	}
	if got := session.GetValue("n1", "ghost", merged); got != "" {
		t.Fatalf("unknown field GetValue = %q, want empty", got)
	}
}

func TestDirtyRoundTrip(t *testing.T) {
	session := NewEditSession()
	merged := sessionMerged()

	if session.IsNodeDirty("n1", merged) {
		t.Fatal("fresh session reports dirty")
	}
	session.SetValue("n1", "title", "Changed")
	if !session.IsNodeDirty("n1", merged) {
		t.Fatal("edited node not dirty")
	}
	// Editing back to the original is clean: equality by value, not by
	// presence in the edit map.
	session.SetValue("n1", "title", "Hello")
	if session.IsNodeDirty("n1", merged) {
		t.Fatal("round-tripped edit still dirty")
	}
}

func TestSaveCreateVsUpdate(t *testing.T) {
	session := NewEditSession()
	merged := sessionMerged()
	writer := &fakeWriter{}

	session.SetValue("n1", "title", "Changed")
	session.SetValue("n1", "slug", "hello-world")

	if err := session.Save(context.Background(), "n1", merged, writer); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if len(writer.writes) != 2 {
		t.Fatalf("writes = %+v, want 2", writer.writes)
	}
	// Updates carry only a ref id, so tell the two writes apart by intent.
	slug, update := writer.writes[0], writer.writes[1]
	if !slug.Create {
		slug, update = update, slug
	}
	if !slug.Create || slug.NodeID != "n1" || slug.FieldID != "slug" || slug.Value != "hello-world" {
		t.Fatalf("stub save = %+v, want create intent", slug)
	}
	if update.Create || update.RefID != "cf_title" || update.Value != "Changed" {
		t.Fatalf("persisted save = %+v, want update of cf_title", update)
	}

	if session.IsNodeDirty("n1", merged) {
		t.Fatal("node still dirty after full save success")
	}
}

func TestSaveSkipsUnchangedEdits(t *testing.T) {
	session := NewEditSession()
	merged := sessionMerged()
	writer := &fakeWriter{}

	session.SetValue("n1", "title", "Hello")
	if err := session.Save(context.Background(), "n1", merged, writer); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if len(writer.writes) != 0 {
		t.Fatalf("writes = %+v, want none for round-tripped edit", writer.writes)
	}
}

func TestSaveKeepsEditsOnPartialFailure(t *testing.T) {
	session := NewEditSession()
	merged := sessionMerged()
	wantErr := errors.New("persistence down")
	writer := &fakeWriter{failRef: "cf_title", failErr: wantErr}

	session.SetValue("n1", "title", "Changed")
	session.SetValue("n1", "slug", "hello-world")

	err := session.Save(context.Background(), "n1", merged, writer)
	if !errors.Is(err, wantErr) {
		t.Fatalf("Save error = %v, want %v", err, wantErr)
	}
	// Clear-after-success only: the sibling create may have landed, but the
	// node keeps all its local edits.
	if !session.IsNodeDirty("n1", merged) {
		t.Fatal("edits cleared despite a failed write")
	}
	if got := session.GetValue("n1", "title", merged); got != "Changed" {
		t.Fatalf("local edit lost after partial failure: %q", got)
	}
}

func TestSaveForceEmptyStubSuppression(t *testing.T) {
	t.Run("stub left empty emits nothing", func(t *testing.T) {
		session := NewEditSession()
		writer := &fakeWriter{}
		session.SetValue("n1", "slug", "x")
		session.SetValue("n1", "slug", "")
		// Clearing the drifted stub would otherwise create an empty row:
		// its ref id is empty, so it counts as unpersisted under SaveForce.
		session.SetValue("n1", "summary", "")

		if err := session.SaveForce(context.Background(), "n1", sessionMerged(), writer); err != nil {
			t.Fatalf("SaveForce: %v", err)
		}
		if len(writer.writes) != 0 {
			t.Fatalf("writes = %+v, want none", writer.writes)
		}
	})

	t.Run("stub edited to non-empty emits create", func(t *testing.T) {
		session := NewEditSession()
		writer := &fakeWriter{}
		session.SetValue("n1", "slug", "hello-world")
		session.SetValue("n1", "summary", "filled in")

		if err := session.SaveForce(context.Background(), "n1", sessionMerged(), writer); err != nil {
			t.Fatalf("SaveForce: %v", err)
		}
		if len(writer.writes) != 2 {
			t.Fatalf("writes = %+v, want two creates", writer.writes)
		}
		for _, write := range writer.writes {
			if !write.Create {
				t.Fatalf("write = %+v, want create intent", write)
			}
		}
	})
}

func TestDiscardNode(t *testing.T) {
	session := NewEditSession()
	merged := sessionMerged()

	session.SetValue("n1", "title", "Changed")
	session.DiscardNode("n1")
	if session.IsNodeDirty("n1", merged) {
		t.Fatal("node dirty after discard")
	}
	if got := session.GetValue("n1", "title", merged); got != "Hello" {
		t.Fatalf("GetValue after discard = %q, want merged value", got)
	}
}

func TestEditsRoundTrip(t *testing.T) {
	session := NewEditSession()

	session.SetValue("n1", "title", "Changed")
	copied := session.Edits("n1")
	copied["title"] = "tampered"
	if got := session.GetValue("n1", "title", nil); got != "Changed" {
		t.Fatalf("Edits returned a live reference, GetValue = %q", got)
	}

	restored := NewEditSession()
	restored.RestoreEdits("n1", map[string]string{"title": "Draft"})
	if got := restored.GetValue("n1", "title", nil); got != "Draft" {
		t.Fatalf("RestoreEdits GetValue = %q, want Draft", got)
	}
}
