// Package types defines the core records for the healer catalog and
// session graph.
package types

import "time"

// SessionKind identifies what a session applies to an avatar.
type SessionKind string

const (
	KindICSession      SessionKind = "ic_session"
	KindRequestSession SessionKind = "request_session"
	KindAvatarLink     SessionKind = "avatar_link"
	KindGroupICSession SessionKind = "group_ic_session"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	StatusScheduled SessionStatus = "scheduled"
	StatusRunning   SessionStatus = "running"
	StatusCompleted SessionStatus = "completed"
	StatusStopped   SessionStatus = "stopped"
	StatusFailed    SessionStatus = "failed"
	StatusRestarted SessionStatus = "restarted"
)

// IsTerminal reports whether the status is final. Terminal rows are
// immutable except for the FAILED -> RESTARTED transition driven by
// redo_failed.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusStopped, StatusFailed, StatusRestarted:
		return true
	}
	return false
}

// EntityKind identifies a catalog entity table.
type EntityKind string

const (
	EntityAvatar  EntityKind = "avatar"
	EntityIC      EntityKind = "ic"
	EntityRequest EntityKind = "request"
)

// Valid reports whether k names a known entity kind.
func (k EntityKind) Valid() bool {
	return k == EntityAvatar || k == EntityIC || k == EntityRequest
}

// Avatar is the subject of a session: an image blob plus a text blob.
type Avatar struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	PhotoData []byte    `json:"-"`
	InfoData  string    `json:"info_data,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// InformationCopy carries an opaque audio-like binary payload.
type InformationCopy struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	WavData   []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Request carries a text payload.
type Request struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	RequestData string    `json:"request_data,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Group is a named, kind-specific set of entity ids. Membership is a pure
// relation with no ordering.
type Group struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Session is the persisted unit of work. A parent (IsGroup=true, no
// ParentID) bookkeeps a group operation; a leaf maps one-to-one to a
// worker process.
type Session struct {
	ID          int64  `json:"id"`
	ParentID    *int64 `json:"parent_id,omitempty"`
	IsGroup     bool   `json:"is_group"`
	Description string `json:"description,omitempty"`

	// Typed references; which are set depends on Kind.
	AvatarID       *int64 `json:"avatar_id,omitempty"`
	ICID           *int64 `json:"ic_id,omitempty"`
	RequestID      *int64 `json:"request_id,omitempty"`
	DestAvatarID   *int64 `json:"destination_avatar_id,omitempty"`
	AvatarGroupID  *int64 `json:"avatar_group_id,omitempty"`
	ICGroupID      *int64 `json:"ic_group_id,omitempty"`
	RequestGroupID *int64 `json:"request_group_id,omitempty"`

	Kind        SessionKind   `json:"session_type"`
	StartTime   time.Time     `json:"start_time"`
	EndTime     *time.Time    `json:"end_time,omitempty"` // nil means run forever
	Status      SessionStatus `json:"status"`
	WorkerPID   *int          `json:"worker_pid,omitempty"`
	LastUpdated time.Time     `json:"last_updated"`
}

// DurationMinutes returns the session's duration in whole minutes, or nil
// for an infinite session.
func (s *Session) DurationMinutes() *int {
	if s.EndTime == nil {
		return nil
	}
	m := int(s.EndTime.Sub(s.StartTime).Minutes())
	return &m
}

// Int64Ptr is a convenience for building typed references.
func Int64Ptr(v int64) *int64 { return &v }
