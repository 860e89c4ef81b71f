package schema

import (
	"fmt"
	"time"
)

// Record is a single synchronized entity. Fields that do not apply to a
// kind stay at their zero value.
type Record struct {
	// ===== Identity =====
	Kind     Kind   `json:"kind"`
	LocalID  int64  `json:"local_id"`
	RemoteID int64  `json:"remote_id,omitempty"` // 0 until first successful sync
	GUID     string `json:"guid,omitempty"`      // sent with creates so retries are idempotent

	// ===== Sync State =====
	Dirty     bool      `json:"dirty"`
	Deleted   bool      `json:"deleted,omitempty"` // tombstone awaiting remote delete
	Stamp     int64     `json:"stamp"`             // bumped on every local edit
	UpdatedAt time.Time `json:"updated_at"`

	// ===== User, Client, Project =====
	Name string `json:"name,omitempty"`

	// ===== User =====
	RetentionDays int `json:"retention_days,omitempty"`

	// ===== Project =====
	ClientLocalID     int64  `json:"client_local_id,omitempty"`
	ClientRemoteID    int64  `json:"client_remote_id,omitempty"`
	ClientProjectName string `json:"client_project_name,omitempty"` // derived, see CompositeLabel

	// ===== Task =====
	Description     *string   `json:"description,omitempty"`
	Duration        int64     `json:"duration"` // seconds, negative while running
	Start           time.Time `json:"start,omitempty"`
	ProjectLocalID  int64     `json:"project_local_id,omitempty"`
	ProjectRemoteID int64     `json:"project_remote_id,omitempty"`
}

// HasRemoteID reports whether the record has been synced at least once.
func (r *Record) HasRemoteID() bool {
	return r.RemoteID != 0
}

// IsRunning reports whether a task is still being timed.
func (r *Record) IsRunning() bool {
	return r.Kind == KindTask && r.Duration < 0
}

// ParentRef returns the local and remote id of the referenced parent
// (client for projects, project for tasks). Both are 0 for other kinds.
func (r *Record) ParentRef() (localID, remoteID int64) {
	switch r.Kind {
	case KindProject:
		return r.ClientLocalID, r.ClientRemoteID
	case KindTask:
		return r.ProjectLocalID, r.ProjectRemoteID
	}
	return 0, 0
}

// SetParentRef sets the parent reference for projects and tasks.
func (r *Record) SetParentRef(localID, remoteID int64) {
	switch r.Kind {
	case KindProject:
		r.ClientLocalID, r.ClientRemoteID = localID, remoteID
	case KindTask:
		r.ProjectLocalID, r.ProjectRemoteID = localID, remoteID
	}
}

// Validate checks that the record is well formed for its kind.
func (r *Record) Validate() error {
	if !r.Kind.IsValid() {
		return fmt.Errorf("invalid kind %q", r.Kind)
	}
	if r.RemoteID < 0 {
		return fmt.Errorf("remote_id must not be negative (got %d)", r.RemoteID)
	}
	switch r.Kind {
	case KindUser:
		if r.RetentionDays < 0 {
			return fmt.Errorf("retention_days must not be negative (got %d)", r.RetentionDays)
		}
	case KindClient, KindProject:
		if len(r.Name) > 255 {
			return fmt.Errorf("name must be 255 characters or less (got %d)", len(r.Name))
		}
	case KindTask:
		if r.Start.IsZero() {
			return fmt.Errorf("start is required")
		}
	}
	return nil
}

// SameContent reports whether two records carry the same synchronized
// fields. Local bookkeeping (local ids, dirty state, stamps) is ignored.
func (r *Record) SameContent(o *Record) bool {
	if r.Kind != o.Kind || r.RemoteID != o.RemoteID || r.Deleted != o.Deleted {
		return false
	}
	switch r.Kind {
	case KindUser:
		return r.Name == o.Name && r.RetentionDays == o.RetentionDays
	case KindClient:
		return r.Name == o.Name
	case KindProject:
		return r.Name == o.Name && r.ClientRemoteID == o.ClientRemoteID
	case KindTask:
		return stringPtrEqual(r.Description, o.Description) &&
			r.Duration == o.Duration &&
			r.Start.Equal(o.Start) &&
			r.ProjectRemoteID == o.ProjectRemoteID
	}
	return false
}

// CompositeLabel returns the display label of a project, "<client> - <project>".
// A project without a client is labelled with its own name.
func CompositeLabel(clientName, projectName string) string {
	if clientName == "" {
		return projectName
	}
	return clientName + " - " + projectName
}

// StringPtr returns a pointer to s, handy for nullable descriptions.
func StringPtr(s string) *string {
	return &s
}

func stringPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
