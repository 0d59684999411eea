package daemon

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/untoldecay/healer/internal/storage"
	"github.com/untoldecay/healer/internal/types"
)

func parseEntityKind(s string) (types.EntityKind, error) {
	kind := types.EntityKind(s)
	if !kind.Valid() {
		return "", fmt.Errorf("unknown entity type '%s'", s)
	}
	return kind, nil
}

func decodeB64(field, s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", field, err)
	}
	return b, nil
}

func (d *Daemon) entityExists(ctx context.Context, kind types.EntityKind, id int64) error {
	var err error
	switch kind {
	case types.EntityAvatar:
		_, err = d.store.GetAvatar(ctx, id)
	case types.EntityIC:
		_, err = d.store.GetIC(ctx, id)
	case types.EntityRequest:
		_, err = d.store.GetRequest(ctx, id)
	default:
		return fmt.Errorf("unknown entity type '%s'", kind)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%s %d not found", kind, id)
	}
	return err
}

func (d *Daemon) handleCreateEntity(ctx context.Context, data json.RawMessage) (interface{}, error) {
	var args CreateEntityArgs
	if err := decodeArgs(data, &args); err != nil {
		return nil, err
	}
	kind, err := parseEntityKind(args.EntityType)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.Name) == "" {
		return nil, fmt.Errorf("entity name is required")
	}

	var id int64
	switch kind {
	case types.EntityAvatar:
		photo, err := decodeB64("photo_data", args.PhotoDataB64)
		if err != nil {
			return nil, err
		}
		a, err := d.store.CreateAvatar(ctx, args.Name, photo, args.InfoData)
		if err != nil {
			return nil, err
		}
		id = a.ID
	case types.EntityIC:
		wav, err := decodeB64("wav_data", args.WavDataB64)
		if err != nil {
			return nil, err
		}
		ic, err := d.store.CreateIC(ctx, args.Name, wav)
		if err != nil {
			return nil, err
		}
		id = ic.ID
	case types.EntityRequest:
		r, err := d.store.CreateRequest(ctx, args.Name, args.RequestData)
		if err != nil {
			return nil, err
		}
		id = r.ID
	}
	return CreateEntityReply{
		Status:  StatusSuccess,
		Message: fmt.Sprintf("Created %s '%s' with id %d.", kind, args.Name, id),
		ID:      id,
	}, nil
}

func (d *Daemon) handleCreateGroup(ctx context.Context, data json.RawMessage) (interface{}, error) {
	var args CreateGroupArgs
	if err := decodeArgs(data, &args); err != nil {
		return nil, err
	}
	kind, err := parseEntityKind(args.GroupType)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.GroupName) == "" {
		return nil, fmt.Errorf("group name is required")
	}
	g, err := d.store.CreateGroup(ctx, kind, args.GroupName)
	if err != nil {
		return nil, err
	}
	return CreateEntityReply{
		Status:  StatusSuccess,
		Message: fmt.Sprintf("Created %s group '%s' with id %d.", kind, g.Name, g.ID),
		ID:      g.ID,
	}, nil
}

func (d *Daemon) handleListEntities(ctx context.Context, data json.RawMessage) (interface{}, error) {
	var args ListEntitiesArgs
	if err := decodeArgs(data, &args); err != nil {
		return nil, err
	}
	kind, err := parseEntityKind(args.EntityType)
	if err != nil {
		return nil, err
	}
	refs, err := d.store.ListEntities(ctx, kind)
	if err != nil {
		return nil, err
	}
	return ListEntitiesReply{Status: StatusSuccess, Data: refs}, nil
}

func (d *Daemon) handleViewRunningOn(ctx context.Context, data json.RawMessage) (interface{}, error) {
	var args ViewArgs
	if err := decodeArgs(data, &args); err != nil {
		return nil, err
	}
	identifier := strings.TrimSpace(args.AvatarIdentifier)
	if identifier == "" {
		return nil, fmt.Errorf("avatar identifier is required")
	}

	var avatar *types.Avatar
	var err error
	if id, perr := strconv.ParseInt(identifier, 10, 64); perr == nil {
		avatar, err = d.store.GetAvatar(ctx, id)
	} else {
		avatar, err = d.store.GetAvatarByName(ctx, identifier)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("avatar '%s' not found", identifier)
	}
	if err != nil {
		return nil, err
	}

	groupIDs, err := d.store.GroupsContainingAvatar(ctx, avatar.ID)
	if err != nil {
		return nil, err
	}
	sessions, err := d.store.RunningLeavesOnAvatar(ctx, avatar.ID, groupIDs)
	if err != nil {
		return nil, err
	}

	rows := make([]ViewRow, 0, len(sessions))
	for _, sess := range sessions {
		target := sess.Description
		if sess.ParentID != nil {
			if p, perr := d.store.GetSession(ctx, *sess.ParentID); perr == nil && p.IsGroup {
				target = fmt.Sprintf("Part of Group Session #%d: %s", p.ID, p.Description)
			}
		}
		rows = append(rows, ViewRow{
			SessionID:       sess.ID,
			Type:            string(sess.Kind),
			Target:          target,
			DurationMinutes: sess.DurationMinutes(),
		})
	}
	return ViewReply{
		Status:     StatusSuccess,
		AvatarName: avatar.Name,
		AvatarID:   avatar.ID,
		Data:       rows,
	}, nil
}
