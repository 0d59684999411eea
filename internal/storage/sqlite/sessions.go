package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/untoldecay/healer/internal/storage"
	"github.com/untoldecay/healer/internal/types"
)

const sessionCols = `id, parent_session_id, is_group_session, description,
	avatar_id, ic_id, request_id, destination_avatar_id,
	avatar_group_id, ic_group_id, request_group_id,
	session_type, start_time, end_time, status, worker_pid, last_updated`

func insertSession(ctx context.Context, q execer, sess *types.Session) error {
	if sess.StartTime.IsZero() {
		sess.StartTime = now()
	}
	sess.LastUpdated = now()
	if sess.Status == "" {
		sess.Status = types.StatusScheduled
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO sessions (
			parent_session_id, is_group_session, description,
			avatar_id, ic_id, request_id, destination_avatar_id,
			avatar_group_id, ic_group_id, request_group_id,
			session_type, start_time, end_time, status, worker_pid, last_updated
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ParentID, boolToInt(sess.IsGroup), sess.Description,
		sess.AvatarID, sess.ICID, sess.RequestID, sess.DestAvatarID,
		sess.AvatarGroupID, sess.ICGroupID, sess.RequestGroupID,
		string(sess.Kind), sess.StartTime, sess.EndTime,
		string(sess.Status), sess.WorkerPID, sess.LastUpdated)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	sess.ID = id
	return nil
}

func setSessionStatus(ctx context.Context, q execer, id int64, status types.SessionStatus, workerPID *int) error {
	res, err := q.ExecContext(ctx,
		`UPDATE sessions SET status = ?, worker_pid = ?, last_updated = ? WHERE id = ?`,
		string(status), workerPID, now(), id)
	if err != nil {
		return fmt.Errorf("updating session %d status: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, sess *types.Session) error {
	return insertSession(ctx, s.db, sess)
}

func (s *Store) SetSessionStatus(ctx context.Context, id int64, status types.SessionStatus, workerPID *int) error {
	return setSessionStatus(ctx, s.db, id, status, workerPID)
}

func (s *Store) SetSessionStatusIfRunning(ctx context.Context, id int64, status types.SessionStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, worker_pid = NULL, last_updated = ?
		 WHERE id = ? AND status = 'running'`,
		string(status), now(), id)
	if err != nil {
		return false, fmt.Errorf("updating session %d status: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) GetSession(ctx context.Context, id int64) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return sess, err
}

func (s *Store) ChildSessions(ctx context.Context, parentID int64) ([]*types.Session, error) {
	return s.querySessions(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE parent_session_id = ? ORDER BY id`, parentID)
}

func (s *Store) SessionsByStatus(ctx context.Context, status types.SessionStatus) ([]*types.Session, error) {
	return s.querySessions(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE status = ? ORDER BY id`, string(status))
}

// sessionGroupCol maps a group kind to the sessions column referencing it.
func sessionGroupCol(kind types.EntityKind) (string, error) {
	switch kind {
	case types.EntityAvatar:
		return "avatar_group_id", nil
	case types.EntityIC:
		return "ic_group_id", nil
	case types.EntityRequest:
		return "request_group_id", nil
	default:
		return "", fmt.Errorf("unknown group type %q", kind)
	}
}

func (s *Store) RunningParentsUsingGroup(ctx context.Context, kind types.EntityKind, groupID int64) ([]*types.Session, error) {
	col, err := sessionGroupCol(kind)
	if err != nil {
		return nil, err
	}
	return s.querySessions(ctx, fmt.Sprintf(
		`SELECT `+sessionCols+` FROM sessions
		 WHERE is_group_session = 1 AND status = 'running' AND %s = ?
		 ORDER BY id`, col), groupID)
}

func (s *Store) RunningParentsOnAvatar(ctx context.Context, avatarID int64) ([]*types.Session, error) {
	return s.querySessions(ctx,
		`SELECT `+sessionCols+` FROM sessions
		 WHERE is_group_session = 1 AND status = 'running' AND avatar_id = ?
		 ORDER BY id`, avatarID)
}

func (s *Store) ParentsUsingAvatarGroup(ctx context.Context, groupID int64) ([]*types.Session, error) {
	return s.querySessions(ctx,
		`SELECT `+sessionCols+` FROM sessions
		 WHERE is_group_session = 1 AND avatar_group_id = ?
		 ORDER BY id`, groupID)
}

func (s *Store) ChildrenOfGroupParentsByMember(ctx context.Context, kind types.EntityKind, groupID, memberID int64) ([]*types.Session, error) {
	groupCol, err := sessionGroupCol(kind)
	if err != nil {
		return nil, err
	}
	var memberCol string
	switch kind {
	case types.EntityAvatar:
		memberCol = "c.avatar_id"
	case types.EntityIC:
		memberCol = "c.ic_id"
	case types.EntityRequest:
		memberCol = "c.request_id"
	}
	return s.querySessions(ctx, fmt.Sprintf(
		`SELECT `+sessionColsPrefixed("c")+` FROM sessions c
		 JOIN sessions p ON c.parent_session_id = p.id
		 WHERE p.is_group_session = 1 AND p.status = 'running' AND p.%s = ?
		   AND %s = ?
		 ORDER BY c.id`, groupCol, memberCol), groupID, memberID)
}

func (s *Store) RunningSessionsOnEntity(ctx context.Context, kind types.EntityKind, id int64) ([]*types.Session, error) {
	var where string
	switch kind {
	case types.EntityAvatar:
		where = `(avatar_id = ? OR destination_avatar_id = ?)`
	case types.EntityIC:
		where = `(ic_id = ? OR ic_id = ?)` // second placeholder keeps arity uniform
	case types.EntityRequest:
		where = `(request_id = ? OR request_id = ?)`
	default:
		return nil, fmt.Errorf("unknown entity type %q", kind)
	}
	return s.querySessions(ctx,
		`SELECT `+sessionCols+` FROM sessions
		 WHERE status = 'running' AND is_group_session = 0 AND `+where+`
		 ORDER BY id`, id, id)
}

func (s *Store) RunningLeavesOnAvatar(ctx context.Context, avatarID int64, groupIDs []int64) ([]*types.Session, error) {
	query := `SELECT ` + sessionCols + ` FROM sessions
		 WHERE status = 'running' AND is_group_session = 0
		   AND (avatar_id = ? OR destination_avatar_id = ?`
	args := []interface{}{avatarID, avatarID}
	if len(groupIDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(groupIDs)), ", ")
		query += ` OR parent_session_id IN (
			SELECT id FROM sessions
			WHERE is_group_session = 1 AND avatar_group_id IN (` + placeholders + `))`
		for _, gid := range groupIDs {
			args = append(args, gid)
		}
	}
	query += `) ORDER BY id`
	return s.querySessions(ctx, query, args...)
}

func (s *Store) MarkRunningFailed(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = 'failed', worker_pid = NULL, last_updated = ?
		 WHERE status = 'running'`, now())
	if err != nil {
		return 0, fmt.Errorf("failing running sessions: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) querySessions(ctx context.Context, query string, args ...interface{}) ([]*types.Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*types.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// sessionColsPrefixed qualifies every session column with a table alias
// for joined queries.
func sessionColsPrefixed(alias string) string {
	cols := strings.Split(sessionCols, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*types.Session, error) {
	var sess types.Session
	var (
		parentID, avatarID, icID, requestID, destAvatarID sql.NullInt64
		avatarGroupID, icGroupID, requestGroupID          sql.NullInt64
		isGroup, workerPID                                sql.NullInt64
		kind, status                                      string
		endTime                                           sql.NullTime
	)
	err := row.Scan(&sess.ID, &parentID, &isGroup, &sess.Description,
		&avatarID, &icID, &requestID, &destAvatarID,
		&avatarGroupID, &icGroupID, &requestGroupID,
		&kind, &sess.StartTime, &endTime, &status, &workerPID, &sess.LastUpdated)
	if err != nil {
		return nil, err
	}

	sess.IsGroup = isGroup.Int64 != 0
	sess.Kind = types.SessionKind(kind)
	sess.Status = types.SessionStatus(status)
	sess.ParentID = nullableID(parentID)
	sess.AvatarID = nullableID(avatarID)
	sess.ICID = nullableID(icID)
	sess.RequestID = nullableID(requestID)
	sess.DestAvatarID = nullableID(destAvatarID)
	sess.AvatarGroupID = nullableID(avatarGroupID)
	sess.ICGroupID = nullableID(icGroupID)
	sess.RequestGroupID = nullableID(requestGroupID)
	if endTime.Valid {
		t := endTime.Time
		sess.EndTime = &t
	}
	if workerPID.Valid {
		pid := int(workerPID.Int64)
		sess.WorkerPID = &pid
	}
	return &sess, nil
}

func nullableID(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
