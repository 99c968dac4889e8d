package content

import (
	"context"
	"sync"
)

// FieldWriter is the slice of the persistence API a save needs: creating a
// field value that has never been stored, or updating one that has.
type FieldWriter interface {
	CreateContentField(ctx context.Context, nodeID, fieldID, value string) error
	UpdateContentField(ctx context.Context, contentFieldID, value string) error
}

// EditSession tracks uncommitted per-field edits for one editor. Only fields
// the user has touched are held; untouched fields read through to the
// current merged view, so a schema or data change under an open editor never
// needs cache invalidation here.
type EditSession struct {
	edits map[string]map[string]string
}

func NewEditSession() *EditSession {
	return &EditSession{edits: make(map[string]map[string]string)}
}

// GetValue returns the local edit for (nodeID, fieldID) if one exists, else
// the merged field's current value, else the empty string.
func (s *EditSession) GetValue(nodeID, fieldID string, merged []MergedField) string {
	if fields, ok := s.edits[nodeID]; ok {
		if value, touched := fields[fieldID]; touched {
			return value
		}
	}
	for i := range merged {
		if merged[i].FieldID == fieldID {
			return merged[i].Value
		}
	}
	return ""
}

// SetValue records or overwrites a local edit. Validation against the
// field's rules is a UI concern, not performed here.
func (s *EditSession) SetValue(nodeID, fieldID, value string) {
	fields, ok := s.edits[nodeID]
	if !ok {
		fields = make(map[string]string)
		s.edits[nodeID] = fields
	}
	fields[fieldID] = value
}

// IsNodeDirty reports whether any touched field's local value differs from
// the merged value. An edit that round-trips back to the original is clean;
// this is a value comparison, not a presence check.
func (s *EditSession) IsNodeDirty(nodeID string, merged []MergedField) bool {
	fields, ok := s.edits[nodeID]
	if !ok {
		return false
	}
	for fieldID, local := range fields {
		if local != mergedValue(merged, fieldID) {
			return true
		}
	}
	return false
}

// DiscardNode drops all uncommitted edits for a node, used when the editor
// switches away without saving.
func (s *EditSession) DiscardNode(nodeID string) {
	delete(s.edits, nodeID)
}

// Edits returns a copy of the touched-field map for a node, for mirroring
// into draft storage.
func (s *EditSession) Edits(nodeID string) map[string]string {
	fields, ok := s.edits[nodeID]
	if !ok {
		return nil
	}
	copied := make(map[string]string, len(fields))
	for fieldID, value := range fields {
		copied[fieldID] = value
	}
	return copied
}

// AllEdits returns a copy of every touched field across all nodes, keyed
// nodeID then fieldID.
func (s *EditSession) AllEdits() map[string]map[string]string {
	copied := make(map[string]map[string]string, len(s.edits))
	for nodeID, fields := range s.edits {
		nodeCopy := make(map[string]string, len(fields))
		for fieldID, value := range fields {
			nodeCopy[fieldID] = value
		}
		copied[nodeID] = nodeCopy
	}
	return copied
}

// RestoreEdits replaces a node's edit map, used when rehydrating a draft.
func (s *EditSession) RestoreEdits(nodeID string, fields map[string]string) {
	if len(fields) == 0 {
		delete(s.edits, nodeID)
		return
	}
	restored := make(map[string]string, len(fields))
	for fieldID, value := range fields {
		restored[fieldID] = value
	}
	s.edits[nodeID] = restored
}

type pendingWrite struct {
	create  bool
	fieldID string
	refID   string
	value   string
}

// Save persists every touched field whose local value differs from the
// merged value: an update when the field carries a non-empty persisted ref,
// a create otherwise. Writes are dispatched concurrently and all awaited;
// local edits are cleared only when every write succeeded, so a partial
// failure leaves the node dirty rather than silently losing an edit.
func (s *EditSession) Save(ctx context.Context, nodeID string, merged []MergedField, writer FieldWriter) error {
	writes := s.collectWrites(nodeID, merged, false)
	return s.dispatch(ctx, nodeID, writes, writer)
}

// SaveForce is the whole-document variant: a present-but-empty persisted ref
// counts as unpersisted, and a brand-new field is never created while its
// resolved value is still empty. A wholesale save must not fabricate empty
// rows for every stub field on every node.
func (s *EditSession) SaveForce(ctx context.Context, nodeID string, merged []MergedField, writer FieldWriter) error {
	writes := s.collectWrites(nodeID, merged, true)
	return s.dispatch(ctx, nodeID, writes, writer)
}

// collectWrites walks merged order so request emission is deterministic even
// though completion is not.
func (s *EditSession) collectWrites(nodeID string, merged []MergedField, force bool) []pendingWrite {
	fields, ok := s.edits[nodeID]
	if !ok {
		return nil
	}
	writes := make([]pendingWrite, 0, len(fields))
	for i := range merged {
		field := &merged[i]
		local, touched := fields[field.FieldID]
		if !touched || local == field.Value {
			continue
		}
		if field.Persisted != nil && field.Persisted.ID != "" {
			writes = append(writes, pendingWrite{fieldID: field.FieldID, refID: field.Persisted.ID, value: local})
			continue
		}
		if force && local == "" {
			continue
		}
		writes = append(writes, pendingWrite{create: true, fieldID: field.FieldID, value: local})
	}
	return writes
}

func (s *EditSession) dispatch(ctx context.Context, nodeID string, writes []pendingWrite, writer FieldWriter) error {
	if len(writes) == 0 {
		return nil
	}

	errs := make([]error, len(writes))
	var wg sync.WaitGroup
	for i, write := range writes {
		wg.Add(1)
		go func(i int, write pendingWrite) {
			defer wg.Done()
			if write.create {
				errs[i] = writer.CreateContentField(ctx, nodeID, write.fieldID, write.value)
				return
			}
			errs[i] = writer.UpdateContentField(ctx, write.refID, write.value)
		}(i, write)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	delete(s.edits, nodeID)
	return nil
}

func mergedValue(merged []MergedField, fieldID string) string {
	for i := range merged {
		if merged[i].FieldID == fieldID {
			return merged[i].Value
		}
	}
	return ""
}
