package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/untoldecay/healer/internal/storage"
	"github.com/untoldecay/healer/internal/types"
)

// groupTable maps an entity kind to its group and membership tables plus
// the member id column.
func groupTable(kind types.EntityKind) (groups, members, memberCol string, err error) {
	switch kind {
	case types.EntityAvatar:
		return "avatar_groups", "avatar_group_members", "avatar_id", nil
	case types.EntityIC:
		return "ic_groups", "ic_group_members", "ic_id", nil
	case types.EntityRequest:
		return "request_groups", "request_group_members", "request_id", nil
	default:
		return "", "", "", fmt.Errorf("unknown group type %q", kind)
	}
}

func (s *Store) CreateGroup(ctx context.Context, kind types.EntityKind, name string) (*types.Group, error) {
	groups, _, _, err := groupTable(kind)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (name) VALUES (?)`, groups), name)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, fmt.Errorf("%s group %q: %w", kind, name, storage.ErrNameTaken)
		}
		return nil, fmt.Errorf("creating %s group: %w", kind, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &types.Group{ID: id, Name: name}, nil
}

func (s *Store) GetGroup(ctx context.Context, kind types.EntityKind, name string) (*types.Group, error) {
	groups, _, _, err := groupTable(kind)
	if err != nil {
		return nil, err
	}
	var g types.Group
	err = s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id, name FROM %s WHERE name = ?`, groups), name).
		Scan(&g.ID, &g.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning %s group: %w", kind, err)
	}
	return &g, nil
}

func (s *Store) RemoveGroup(ctx context.Context, kind types.EntityKind, id int64) error {
	groups, _, _, err := groupTable(kind)
	if err != nil {
		return err
	}
	// FK cascade removes membership rows; session group references null out.
	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, groups), id)
	if err != nil {
		return fmt.Errorf("removing %s group: %w", kind, err)
	}
	return nil
}

func (s *Store) AddMember(ctx context.Context, kind types.EntityKind, groupID, memberID int64) (bool, error) {
	_, members, memberCol, err := groupTable(kind)
	if err != nil {
		return false, err
	}
	// Duplicate membership is a no-op success.
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT OR IGNORE INTO %s (group_id, %s) VALUES (?, ?)`, members, memberCol),
		groupID, memberID)
	if err != nil {
		return false, fmt.Errorf("adding %s group member: %w", kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) RemoveMember(ctx context.Context, kind types.EntityKind, groupID, memberID int64) (bool, error) {
	_, members, memberCol, err := groupTable(kind)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE group_id = ? AND %s = ?`, members, memberCol),
		groupID, memberID)
	if err != nil {
		return false, fmt.Errorf("removing %s group member: %w", kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) ListMembers(ctx context.Context, kind types.EntityKind, groupID int64) ([]int64, error) {
	_, members, memberCol, err := groupTable(kind)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE group_id = ?`, memberCol, members), groupID)
	if err != nil {
		return nil, fmt.Errorf("listing %s group members: %w", kind, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) GroupsContainingAvatar(ctx context.Context, avatarID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT group_id FROM avatar_group_members WHERE avatar_id = ?`, avatarID)
	if err != nil {
		return nil, fmt.Errorf("listing avatar groups: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
