package store

import "time"

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Document struct {
	ID        string
	Title     string
	RootID    string
	UpdatedBy string
	UpdatedAt time.Time
}

// Datatype is the schema a content node is an instance of.
type Datatype struct {
	ID        string
	Alias     string
	Label     string
	CreatedAt time.Time
}

// FieldDefinition is a reusable field schema row. Validation, UIConfig and
// ExtraData are stored as raw JSON and never interpreted here.
type FieldDefinition struct {
	ID         string
	Label      string
	Type       string
	Validation []byte
	UIConfig   []byte
	ExtraData  []byte
	CreatedAt  time.Time
}

// DatatypeField binds a field definition to a datatype with a display order.
type DatatypeField struct {
	ID         string
	DatatypeID string
	FieldID    string
	SortOrder  int
}

// ContentRow is one block instance. ParentID is nil only for a document
// root; SortOrder is the position within the parent's children.
type ContentRow struct {
	ID         string
	DocumentID string
	DatatypeID string
	ParentID   *string
	SortOrder  int
	CreatedAt  time.Time
}

// ContentFieldRow is a stored value for one (node, field) pair. Label, Type
// and the JSON blobs are denormalized copies taken from the definition at
// write time, so a value stays renderable after its definition drifts.
type ContentFieldRow struct {
	ID         string
	ContentID  string
	FieldID    string
	Value      string
	Label      string
	Type       string
	Validation []byte
	UIConfig   []byte
	ExtraData  []byte
	CreatedAt  time.Time
}
