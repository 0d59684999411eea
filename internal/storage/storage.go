// Package storage defines the interface for the healer catalog and
// session store backends.
package storage

import (
	"context"
	"errors"

	"github.com/untoldecay/healer/internal/types"
)

// ErrNotFound is returned when a referenced id or name does not exist.
var ErrNotFound = errors.New("not found")

// ErrNameTaken is returned on a name collision within an entity kind.
var ErrNameTaken = errors.New("name already in use")

// EntityUpdate describes a partial update to a catalog entity. Nil fields
// are left untouched. Blob applies to avatar photos and IC payloads, Text
// to avatar info and request text.
type EntityUpdate struct {
	Name *string
	Blob []byte
	Text *string
}

// EntityRef is a lightweight (kind, id, name) row used by catalog listings.
type EntityRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Tx exposes the session-write subset of Store inside a single database
// transaction. If the callback returns an error the transaction is rolled
// back; on nil it is committed. SQLite uses BEGIN IMMEDIATE so concurrent
// writers serialize up front.
type Tx interface {
	CreateSession(ctx context.Context, s *types.Session) error
	SetSessionStatus(ctx context.Context, id int64, status types.SessionStatus, workerPID *int) error
}

// Store is the persistent catalog and session store.
//
// Every method is individually transactional. Multi-row session writes
// that must be atomic (a parent plus its leaves) go through
// RunInTransaction.
type Store interface {
	// Avatars
	CreateAvatar(ctx context.Context, name string, photo []byte, info string) (*types.Avatar, error)
	GetAvatar(ctx context.Context, id int64) (*types.Avatar, error)
	GetAvatarByName(ctx context.Context, name string) (*types.Avatar, error)

	// Information copies
	CreateIC(ctx context.Context, name string, wav []byte) (*types.InformationCopy, error)
	GetIC(ctx context.Context, id int64) (*types.InformationCopy, error)

	// Requests
	CreateRequest(ctx context.Context, name string, text string) (*types.Request, error)
	GetRequest(ctx context.Context, id int64) (*types.Request, error)

	// Generic entity operations. UpdateEntity and RemoveEntity return the
	// ids of currently-RUNNING sessions referencing the entity so the
	// caller can drive the supervisor. RemoveEntity on a missing id is a
	// no-op success (removed=false).
	ListEntities(ctx context.Context, kind types.EntityKind) ([]EntityRef, error)
	UpdateEntity(ctx context.Context, kind types.EntityKind, id int64, upd EntityUpdate) ([]int64, error)
	RemoveEntity(ctx context.Context, kind types.EntityKind, id int64) (removed bool, running []int64, err error)

	// Groups. The kind selects the avatar/ic/request group tables.
	// Duplicate AddMember and absent RemoveMember are no-op successes
	// (added/removed = false).
	CreateGroup(ctx context.Context, kind types.EntityKind, name string) (*types.Group, error)
	GetGroup(ctx context.Context, kind types.EntityKind, name string) (*types.Group, error)
	RemoveGroup(ctx context.Context, kind types.EntityKind, id int64) error
	AddMember(ctx context.Context, kind types.EntityKind, groupID, memberID int64) (added bool, err error)
	RemoveMember(ctx context.Context, kind types.EntityKind, groupID, memberID int64) (removed bool, err error)
	ListMembers(ctx context.Context, kind types.EntityKind, groupID int64) ([]int64, error)
	GroupsContainingAvatar(ctx context.Context, avatarID int64) ([]int64, error)

	// Sessions
	CreateSession(ctx context.Context, s *types.Session) error
	GetSession(ctx context.Context, id int64) (*types.Session, error)
	ChildSessions(ctx context.Context, parentID int64) ([]*types.Session, error)
	SetSessionStatus(ctx context.Context, id int64, status types.SessionStatus, workerPID *int) error
	// SetSessionStatusIfRunning transitions a session out of RUNNING and
	// clears its worker pid, but only while it is still RUNNING. Returns
	// false when a concurrent terminal write (a worker finishing) got
	// there first; terminal rows stay untouched.
	SetSessionStatusIfRunning(ctx context.Context, id int64, status types.SessionStatus) (bool, error)
	SessionsByStatus(ctx context.Context, status types.SessionStatus) ([]*types.Session, error)

	// Session-graph queries
	RunningParentsUsingGroup(ctx context.Context, kind types.EntityKind, groupID int64) ([]*types.Session, error)
	// RunningParentsOnAvatar returns RUNNING group parents that reference
	// the avatar directly (a link parent's source, or a request-group
	// parent targeting a single avatar).
	RunningParentsOnAvatar(ctx context.Context, avatarID int64) ([]*types.Session, error)
	ParentsUsingAvatarGroup(ctx context.Context, groupID int64) ([]*types.Session, error)
	ChildrenOfGroupParentsByMember(ctx context.Context, kind types.EntityKind, groupID, memberID int64) ([]*types.Session, error)
	RunningSessionsOnEntity(ctx context.Context, kind types.EntityKind, id int64) ([]*types.Session, error)
	RunningLeavesOnAvatar(ctx context.Context, avatarID int64, groupIDs []int64) ([]*types.Session, error)

	// MarkRunningFailed flips every RUNNING session to FAILED and clears
	// worker_pid. Used by startup recovery (orphan reaper).
	MarkRunningFailed(ctx context.Context) (int64, error)

	// Transactions
	RunInTransaction(ctx context.Context, fn func(tx Tx) error) error

	// Lifecycle
	Close() error
	Path() string
}
