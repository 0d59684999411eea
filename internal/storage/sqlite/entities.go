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

// entityTable maps an entity kind to its table and payload columns. The
// empty string marks a column the kind does not have.
func entityTable(kind types.EntityKind) (table, blobCol, textCol string, err error) {
	switch kind {
	case types.EntityAvatar:
		return "avatars", "photo_data", "info_data", nil
	case types.EntityIC:
		return "information_copies", "wav_data", "", nil
	case types.EntityRequest:
		return "requests", "", "request_data", nil
	default:
		return "", "", "", fmt.Errorf("unknown entity type %q", kind)
	}
}

func (s *Store) CreateAvatar(ctx context.Context, name string, photo []byte, info string) (*types.Avatar, error) {
	ts := now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO avatars (name, photo_data, info_data, created_at) VALUES (?, ?, ?, ?)`,
		name, photo, info, ts)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, fmt.Errorf("avatar %q: %w", name, storage.ErrNameTaken)
		}
		return nil, fmt.Errorf("creating avatar: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &types.Avatar{ID: id, Name: name, PhotoData: photo, InfoData: info, CreatedAt: ts}, nil
}

func (s *Store) GetAvatar(ctx context.Context, id int64) (*types.Avatar, error) {
	return scanAvatar(s.db.QueryRowContext(ctx,
		`SELECT id, name, photo_data, info_data, created_at FROM avatars WHERE id = ?`, id))
}

func (s *Store) GetAvatarByName(ctx context.Context, name string) (*types.Avatar, error) {
	return scanAvatar(s.db.QueryRowContext(ctx,
		`SELECT id, name, photo_data, info_data, created_at FROM avatars WHERE name = ?`, name))
}

func scanAvatar(row *sql.Row) (*types.Avatar, error) {
	var a types.Avatar
	err := row.Scan(&a.ID, &a.Name, &a.PhotoData, &a.InfoData, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning avatar: %w", err)
	}
	return &a, nil
}

func (s *Store) CreateIC(ctx context.Context, name string, wav []byte) (*types.InformationCopy, error) {
	ts := now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO information_copies (name, wav_data, created_at) VALUES (?, ?, ?)`,
		name, wav, ts)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, fmt.Errorf("information copy %q: %w", name, storage.ErrNameTaken)
		}
		return nil, fmt.Errorf("creating information copy: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &types.InformationCopy{ID: id, Name: name, WavData: wav, CreatedAt: ts}, nil
}

func (s *Store) GetIC(ctx context.Context, id int64) (*types.InformationCopy, error) {
	var ic types.InformationCopy
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, wav_data, created_at FROM information_copies WHERE id = ?`, id).
		Scan(&ic.ID, &ic.Name, &ic.WavData, &ic.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning information copy: %w", err)
	}
	return &ic, nil
}

func (s *Store) CreateRequest(ctx context.Context, name string, text string) (*types.Request, error) {
	ts := now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO requests (name, request_data, created_at) VALUES (?, ?, ?)`,
		name, text, ts)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, fmt.Errorf("request %q: %w", name, storage.ErrNameTaken)
		}
		return nil, fmt.Errorf("creating request: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &types.Request{ID: id, Name: name, RequestData: text, CreatedAt: ts}, nil
}

func (s *Store) GetRequest(ctx context.Context, id int64) (*types.Request, error) {
	var r types.Request
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, request_data, created_at FROM requests WHERE id = ?`, id).
		Scan(&r.ID, &r.Name, &r.RequestData, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning request: %w", err)
	}
	return &r, nil
}

func (s *Store) ListEntities(ctx context.Context, kind types.EntityKind) ([]storage.EntityRef, error) {
	table, _, _, err := entityTable(kind)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT id, name FROM %s ORDER BY id`, table))
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", table, err)
	}
	defer rows.Close()

	var refs []storage.EntityRef
	for rows.Next() {
		var ref storage.EntityRef
		if err := rows.Scan(&ref.ID, &ref.Name); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (s *Store) UpdateEntity(ctx context.Context, kind types.EntityKind, id int64, upd storage.EntityUpdate) ([]int64, error) {
	table, blobCol, textCol, err := entityTable(kind)
	if err != nil {
		return nil, err
	}

	var sets []string
	var args []interface{}
	if upd.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *upd.Name)
	}
	if upd.Blob != nil {
		if blobCol == "" {
			return nil, fmt.Errorf("entity type %q has no binary payload", kind)
		}
		sets = append(sets, blobCol+" = ?")
		args = append(args, upd.Blob)
	}
	if upd.Text != nil {
		if textCol == "" {
			return nil, fmt.Errorf("entity type %q has no text payload", kind)
		}
		sets = append(sets, textCol+" = ?")
		args = append(args, *upd.Text)
	}
	if len(sets) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET %s WHERE id = ?`, table, strings.Join(sets, ", ")), args...)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, fmt.Errorf("%s %d: %w", kind, id, storage.ErrNameTaken)
		}
		return nil, fmt.Errorf("updating %s: %w", kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, storage.ErrNotFound
	}

	return s.runningSessionIDsOnEntity(ctx, kind, id)
}

func (s *Store) RemoveEntity(ctx context.Context, kind types.EntityKind, id int64) (bool, []int64, error) {
	table, _, _, err := entityTable(kind)
	if err != nil {
		return false, nil, err
	}

	running, err := s.runningSessionIDsOnEntity(ctx, kind, id)
	if err != nil {
		return false, nil, err
	}

	// FK cascade deletes the entity's sessions and memberships.
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table), id)
	if err != nil {
		return false, nil, fmt.Errorf("removing %s: %w", kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, nil, err
	}
	return n > 0, running, nil
}

func (s *Store) runningSessionIDsOnEntity(ctx context.Context, kind types.EntityKind, id int64) ([]int64, error) {
	sessions, err := s.RunningSessionsOnEntity(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(sessions))
	for _, sess := range sessions {
		ids = append(ids, sess.ID)
	}
	return ids, nil
}
