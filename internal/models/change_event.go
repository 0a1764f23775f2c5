package models

// ChangeType tags a Change as an addition or a removal
type ChangeType string

const (
	ChangeAdded   ChangeType = "added"
	ChangeRemoved ChangeType = "removed"
)

// Change describes an import being added to or removed from a database.
// All is the full list of imports for the database after the change.
type Change struct {
	ID        string       `json:"id"`
	Type      ChangeType   `json:"type"` // added, removed
	Database  string       `json:"database"`
	Timestamp int64        `json:"timestamp"`
	Info      *ImportInfo  `json:"info,omitempty"`
	All       []ImportInfo `json:"all"`
	RawJSON   []byte       `json:"-"` // Set by the JavaScript transformer to preserve extra fields
}
