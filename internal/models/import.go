package models

// Status is the lifecycle state of an upload, as reported by the upload layer
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// UploadProgress is the completion payload produced by the upload layer.
// It is stored and forwarded untouched.
type UploadProgress struct {
	Loaded           int64   `json:"loaded"`
	Total            int64   `json:"total"`
	PercentCompleted float64 `json:"percentCompleted"`
}

// ImportInfo is the bookkeeping record for one file import
type ImportInfo struct {
	ID       string          `json:"id"`
	Name     string          `json:"name,omitempty"`
	Schema   string          `json:"schema,omitempty"`
	Status   Status          `json:"status,omitempty"`
	Progress *UploadProgress `json:"progress,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// ImportUpdate is a partial ImportInfo. Nil fields are left untouched by Merge.
type ImportUpdate struct {
	Name     *string         `json:"name,omitempty"`
	Schema   *string         `json:"schema,omitempty"`
	Status   *Status         `json:"status,omitempty"`
	Progress *UploadProgress `json:"progress,omitempty"`
	Error    *string         `json:"error,omitempty"`
}

// Merge returns a copy of info with every supplied field of u applied
func (info ImportInfo) Merge(u ImportUpdate) ImportInfo {
	merged := info
	if u.Name != nil {
		merged.Name = *u.Name
	}
	if u.Schema != nil {
		merged.Schema = *u.Schema
	}
	if u.Status != nil {
		merged.Status = *u.Status
	}
	if u.Progress != nil {
		p := *u.Progress
		merged.Progress = &p
	}
	if u.Error != nil {
		merged.Error = *u.Error
	}
	return merged
}

// Clone returns a copy that shares no memory with info
func (info ImportInfo) Clone() ImportInfo {
	c := info
	if info.Progress != nil {
		p := *info.Progress
		c.Progress = &p
	}
	return c
}

// IsEmpty reports whether u carries no fields
func (u ImportUpdate) IsEmpty() bool {
	return u.Name == nil && u.Schema == nil && u.Status == nil && u.Progress == nil && u.Error == nil
}

// StringPtr is a helper for building updates
func StringPtr(s string) *string {
	return &s
}

// StatusPtr is a helper for building updates
func StatusPtr(s Status) *Status {
	return &s
}
