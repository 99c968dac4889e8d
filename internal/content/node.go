// Package content implements the block-tree editor core: the in-memory
// document tree, the field-merge algorithm and the dirty-edit session.
package content

import (
	"encoding/json"
	"time"
)

// Field kinds understood by the editor UI. The core treats them as opaque
// strings; every kind serializes its value to a string representation.
const (
	FieldText     = "text"
	FieldTextarea = "textarea"
	FieldNumber   = "number"
	FieldDate     = "date"
	FieldDatetime = "datetime"
	FieldBoolean  = "boolean"
	FieldSelect   = "select"
	FieldMedia    = "media"
	FieldRelation = "relation"
	FieldJSON     = "json"
	FieldRichtext = "richtext"
	FieldSlug     = "slug"
	FieldEmail    = "email"
	FieldURL      = "url"
)

// Node is one block instance in a document tree. Children order is the sole
// source of truth for sibling order.
type Node struct {
	ID         string
	DatatypeID string
	ParentID   *string
	Children   []*Node
	Fields     []FieldValue
}

// FieldValue is a stored value for one (node, field) pair. ID is empty for a
// value that exists only as a schema stub and has never been persisted.
type FieldValue struct {
	ID         string
	FieldID    string
	Value      string
	Label      string
	Type       string
	Validation json.RawMessage
	UIConfig   json.RawMessage
	ExtraData  json.RawMessage
	CreatedAt  time.Time
}

// FieldDefinition is a reusable field schema. Validation, UIConfig and
// ExtraData are opaque blobs interpreted by the UI layer only.
type FieldDefinition struct {
	ID         string
	Label      string
	Type       string
	Validation json.RawMessage
	UIConfig   json.RawMessage
	ExtraData  json.RawMessage
}

// Assignment binds a field definition to a datatype with a display order.
type Assignment struct {
	ID         string
	DatatypeID string
	FieldID    string
	SortOrder  int
}

// MergedField is the per-node editable view of one field, derived on every
// read and never stored. Persisted is nil when the field has never been
// saved for this node.
type MergedField struct {
	FieldID    string
	Label      string
	Type       string
	Validation json.RawMessage
	UIConfig   json.RawMessage
	ExtraData  json.RawMessage
	Value      string
	Persisted  *FieldValue
}
