// Package export renders documents to HTML, PDF and DOCX for download.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// Document is the renderable form of one document: metadata plus the full
// block tree with merged field values.
type Document struct {
	ID        string
	Title     string
	Author    string
	UpdatedAt time.Time
	Root      *Block
}

// Block is one node in the renderable tree.
type Block struct {
	ID       string
	Datatype string
	Fields   []Field
	Children []*Block
}

// Field is one merged field value ready for rendering.
type Field struct {
	Label string
	Type  string
	Value string
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
