// Package domain defines the core data model and error taxonomy shared by
// the ingestion and query pipelines. It acts as the validation gate at
// pipeline entry points.
package domain

import "time"

// SourceKind identifies how a piece of knowledge entered the system.
type SourceKind string

const (
	KindText   SourceKind = "text"
	KindPDF    SourceKind = "pdf"
	KindCSV    SourceKind = "csv"
	KindWeb    SourceKind = "web"
	KindWebPDF SourceKind = "web-pdf"
)

// ValidKinds is the set of recognised source kinds.
var ValidKinds = map[SourceKind]bool{
	KindText: true, KindPDF: true, KindCSV: true,
	KindWeb: true, KindWebPDF: true,
}

// UserInputSource is the source identifier recorded for free-text input.
const UserInputSource = "user-input"

// Chunk is the unit of indexed knowledge: normalized text plus provenance.
// Chunks are immutable once created; after a successful upsert the vector
// store owns them and no in-process copy is retained.
type Chunk struct {
	Content   string     `json:"content"`
	Source    string     `json:"source"`
	Kind      SourceKind `json:"kind"`
	Page      int        `json:"page,omitempty"` // 1-based, 0 for unpaginated sources
	CreatedAt time.Time  `json:"created_at"`
}

// Paginated reports whether the chunk came from a paginated source.
func (c Chunk) Paginated() bool { return c.Page > 0 }
