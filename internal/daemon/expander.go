package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/untoldecay/healer/internal/storage"
	"github.com/untoldecay/healer/internal/types"
)

// expansion is the persisted result of one start command: an optional
// group parent plus the leaf sessions awaiting workers.
type expansion struct {
	parent *types.Session
	leaves []*types.Session
}

// sessionWindow computes the shared start/end window for an expansion.
// All leaves of one command carry the same window as their parent.
func sessionWindow(duration *int) (time.Time, *time.Time) {
	start := time.Now().UTC().Truncate(time.Second)
	if duration == nil {
		return start, nil
	}
	end := start.Add(time.Duration(*duration) * time.Minute)
	return start, &end
}

// resolveAvatarTargets resolves an avatar-or-group argument pair into the
// concrete avatar list. group is non-nil iff the group form was used.
func (d *Daemon) resolveAvatarTargets(ctx context.Context, id *int64, groupName, role string) ([]*types.Avatar, *types.Group, error) {
	switch {
	case id != nil && groupName != "":
		return nil, nil, fmt.Errorf("specify either %s id or %s group, not both", role, role)
	case id != nil:
		a, err := d.store.GetAvatar(ctx, *id)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, fmt.Errorf("avatar %d not found", *id)
		}
		if err != nil {
			return nil, nil, err
		}
		return []*types.Avatar{a}, nil, nil
	case groupName != "":
		g, err := d.store.GetGroup(ctx, types.EntityAvatar, groupName)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, fmt.Errorf("avatar group '%s' not found", groupName)
		}
		if err != nil {
			return nil, nil, err
		}
		avatars, err := d.groupAvatars(ctx, g)
		if err != nil {
			return nil, nil, err
		}
		return avatars, g, nil
	default:
		return nil, nil, fmt.Errorf("an %s id or %s group is required", role, role)
	}
}

// groupAvatars loads every member of an avatar group; an empty group is
// an error because it would expand to nothing.
func (d *Daemon) groupAvatars(ctx context.Context, g *types.Group) ([]*types.Avatar, error) {
	ids, err := d.store.ListMembers(ctx, types.EntityAvatar, g.ID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("avatar group '%s' is empty", g.Name)
	}
	avatars := make([]*types.Avatar, 0, len(ids))
	for _, id := range ids {
		a, err := d.store.GetAvatar(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("avatar %d in group '%s': %w", id, g.Name, err)
		}
		avatars = append(avatars, a)
	}
	return avatars, nil
}

func (d *Daemon) resolveRequestTargets(ctx context.Context, id *int64, groupName string) ([]*types.Request, *types.Group, error) {
	switch {
	case id != nil && groupName != "":
		return nil, nil, fmt.Errorf("specify either request id or request group, not both")
	case id != nil:
		r, err := d.store.GetRequest(ctx, *id)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, fmt.Errorf("request %d not found", *id)
		}
		if err != nil {
			return nil, nil, err
		}
		return []*types.Request{r}, nil, nil
	case groupName != "":
		g, err := d.store.GetGroup(ctx, types.EntityRequest, groupName)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, fmt.Errorf("request group '%s' not found", groupName)
		}
		if err != nil {
			return nil, nil, err
		}
		ids, err := d.store.ListMembers(ctx, types.EntityRequest, g.ID)
		if err != nil {
			return nil, nil, err
		}
		if len(ids) == 0 {
			return nil, nil, fmt.Errorf("request group '%s' is empty", g.Name)
		}
		requests := make([]*types.Request, 0, len(ids))
		for _, rid := range ids {
			r, err := d.store.GetRequest(ctx, rid)
			if err != nil {
				return nil, nil, fmt.Errorf("request %d in group '%s': %w", rid, g.Name, err)
			}
			requests = append(requests, r)
		}
		return requests, g, nil
	default:
		return nil, nil, fmt.Errorf("a request id or request group is required")
	}
}

// expandStartIC persists the sessions for start_ic: a running parent when
// the avatar side is a group, plus one scheduled leaf per avatar.
func (d *Daemon) expandStartIC(ctx context.Context, args StartICArgs) (*expansion, error) {
	ic, err := d.store.GetIC(ctx, args.ICID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("information copy %d not found", args.ICID)
	}
	if err != nil {
		return nil, err
	}
	avatars, group, err := d.resolveAvatarTargets(ctx, args.AvatarID, args.AvatarGroup, "avatar")
	if err != nil {
		return nil, err
	}

	start, end := sessionWindow(args.Duration)
	exp := &expansion{}
	if group != nil {
		exp.parent = &types.Session{
			IsGroup:       true,
			Kind:          types.KindICSession,
			Description:   fmt.Sprintf("IC '%s' on Avatar Group '%s'", ic.Name, group.Name),
			ICID:          &ic.ID,
			AvatarGroupID: &group.ID,
			StartTime:     start,
			EndTime:       end,
			Status:        types.StatusRunning,
		}
	}

	err = d.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if exp.parent != nil {
			if err := tx.CreateSession(ctx, exp.parent); err != nil {
				return err
			}
		}
		for _, a := range avatars {
			leaf := &types.Session{
				Kind:        types.KindICSession,
				Description: fmt.Sprintf("'%s' <=> '%s'", a.Name, ic.Name),
				AvatarID:    &a.ID,
				ICID:        &ic.ID,
				StartTime:   start,
				EndTime:     end,
				Status:      types.StatusScheduled,
			}
			if exp.parent != nil {
				leaf.ParentID = &exp.parent.ID
				leaf.Description += fmt.Sprintf(" (from Group Op #%d)", exp.parent.ID)
			}
			if err := tx.CreateSession(ctx, leaf); err != nil {
				return err
			}
			exp.leaves = append(exp.leaves, leaf)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return exp, nil
}

// expandStartRequest persists the sessions for start_request: the avatar
// side, the request side, or both may be groups; any group side produces
// a parent and the leaves are the full cross product.
func (d *Daemon) expandStartRequest(ctx context.Context, args StartRequestArgs) (*expansion, error) {
	avatars, avatarGroup, err := d.resolveAvatarTargets(ctx, args.AvatarID, args.AvatarGroup, "avatar")
	if err != nil {
		return nil, err
	}
	requests, requestGroup, err := d.resolveRequestTargets(ctx, args.RequestID, args.RequestGroup)
	if err != nil {
		return nil, err
	}

	start, end := sessionWindow(args.Duration)
	exp := &expansion{}
	switch {
	case avatarGroup != nil && requestGroup != nil:
		exp.parent = &types.Session{
			IsGroup:        true,
			Kind:           types.KindRequestSession,
			Description:    fmt.Sprintf("Request Group '%s' on Avatar Group '%s'", requestGroup.Name, avatarGroup.Name),
			AvatarGroupID:  &avatarGroup.ID,
			RequestGroupID: &requestGroup.ID,
			StartTime:      start,
			EndTime:        end,
			Status:         types.StatusRunning,
		}
	case avatarGroup != nil:
		exp.parent = &types.Session{
			IsGroup:       true,
			Kind:          types.KindRequestSession,
			Description:   fmt.Sprintf("Request '%s' on Avatar Group '%s'", requests[0].Name, avatarGroup.Name),
			AvatarGroupID: &avatarGroup.ID,
			RequestID:     &requests[0].ID,
			StartTime:     start,
			EndTime:       end,
			Status:        types.StatusRunning,
		}
	case requestGroup != nil:
		exp.parent = &types.Session{
			IsGroup:        true,
			Kind:           types.KindRequestSession,
			Description:    fmt.Sprintf("Request Group '%s' on Avatar '%s'", requestGroup.Name, avatars[0].Name),
			AvatarID:       &avatars[0].ID,
			RequestGroupID: &requestGroup.ID,
			StartTime:      start,
			EndTime:        end,
			Status:         types.StatusRunning,
		}
	}

	err = d.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if exp.parent != nil {
			if err := tx.CreateSession(ctx, exp.parent); err != nil {
				return err
			}
		}
		for _, a := range avatars {
			for _, r := range requests {
				leaf := &types.Session{
					Kind:        types.KindRequestSession,
					Description: fmt.Sprintf("'%s' <=> '%s'", a.Name, r.Name),
					AvatarID:    &a.ID,
					RequestID:   &r.ID,
					StartTime:   start,
					EndTime:     end,
					Status:      types.StatusScheduled,
				}
				if exp.parent != nil {
					leaf.ParentID = &exp.parent.ID
					leaf.Description += fmt.Sprintf(" (from Group Op #%d)", exp.parent.ID)
				}
				if err := tx.CreateSession(ctx, leaf); err != nil {
					return err
				}
				exp.leaves = append(exp.leaves, leaf)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return exp, nil
}

// expandStartLink persists the sessions for start_link. A destination
// equal to the source is skipped; linking a group containing only the
// source yields a parent with no leaves.
func (d *Daemon) expandStartLink(ctx context.Context, args StartLinkArgs) (*expansion, error) {
	src, err := d.store.GetAvatar(ctx, args.SourceID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("avatar %d not found", args.SourceID)
	}
	if err != nil {
		return nil, err
	}
	dests, destGroup, err := d.resolveAvatarTargets(ctx, args.DestID, args.DestGroup, "destination")
	if err != nil {
		return nil, err
	}

	start, end := sessionWindow(args.Duration)
	exp := &expansion{}
	if destGroup != nil {
		exp.parent = &types.Session{
			IsGroup:       true,
			Kind:          types.KindAvatarLink,
			Description:   fmt.Sprintf("Link from '%s' to Avatar Group '%s'", src.Name, destGroup.Name),
			AvatarID:      &src.ID,
			AvatarGroupID: &destGroup.ID,
			StartTime:     start,
			EndTime:       end,
			Status:        types.StatusRunning,
		}
	}

	err = d.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if exp.parent != nil {
			if err := tx.CreateSession(ctx, exp.parent); err != nil {
				return err
			}
		}
		for _, dst := range dests {
			if dst.ID == src.ID {
				continue
			}
			leaf := &types.Session{
				Kind:         types.KindAvatarLink,
				Description:  fmt.Sprintf("Link: '%s' -> '%s'", src.Name, dst.Name),
				AvatarID:     &src.ID,
				DestAvatarID: &dst.ID,
				StartTime:    start,
				EndTime:      end,
				Status:       types.StatusScheduled,
			}
			if exp.parent != nil {
				leaf.ParentID = &exp.parent.ID
				leaf.Description += fmt.Sprintf(" (from Group Op #%d)", exp.parent.ID)
			}
			if err := tx.CreateSession(ctx, leaf); err != nil {
				return err
			}
			exp.leaves = append(exp.leaves, leaf)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return exp, nil
}

// expandStartGroup persists the sessions for start_group: always a
// group_ic_session parent, with one ic_session leaf per avatar x IC pair.
func (d *Daemon) expandStartGroup(ctx context.Context, args StartGroupArgs) (*expansion, error) {
	avatarGroup, err := d.store.GetGroup(ctx, types.EntityAvatar, args.AvatarGroup)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("avatar group '%s' not found", args.AvatarGroup)
	}
	if err != nil {
		return nil, err
	}
	icGroup, err := d.store.GetGroup(ctx, types.EntityIC, args.ICGroup)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("ic group '%s' not found", args.ICGroup)
	}
	if err != nil {
		return nil, err
	}

	avatars, err := d.groupAvatars(ctx, avatarGroup)
	if err != nil {
		return nil, err
	}
	icIDs, err := d.store.ListMembers(ctx, types.EntityIC, icGroup.ID)
	if err != nil {
		return nil, err
	}
	if len(icIDs) == 0 {
		return nil, fmt.Errorf("ic group '%s' is empty", icGroup.Name)
	}
	ics := make([]*types.InformationCopy, 0, len(icIDs))
	for _, id := range icIDs {
		ic, err := d.store.GetIC(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("information copy %d in group '%s': %w", id, icGroup.Name, err)
		}
		ics = append(ics, ic)
	}

	start, end := sessionWindow(args.Duration)
	exp := &expansion{
		parent: &types.Session{
			IsGroup:       true,
			Kind:          types.KindGroupICSession,
			Description:   fmt.Sprintf("IC Group '%s' on Avatar Group '%s'", icGroup.Name, avatarGroup.Name),
			AvatarGroupID: &avatarGroup.ID,
			ICGroupID:     &icGroup.ID,
			StartTime:     start,
			EndTime:       end,
			Status:        types.StatusRunning,
		},
	}

	err = d.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if err := tx.CreateSession(ctx, exp.parent); err != nil {
			return err
		}
		for _, a := range avatars {
			for _, ic := range ics {
				leaf := &types.Session{
					ParentID:    &exp.parent.ID,
					Kind:        types.KindICSession,
					Description: fmt.Sprintf("'%s' <=> '%s' (from Group Session #%d)", a.Name, ic.Name, exp.parent.ID),
					AvatarID:    &a.ID,
					ICID:        &ic.ID,
					StartTime:   start,
					EndTime:     end,
					Status:      types.StatusScheduled,
				}
				if err := tx.CreateSession(ctx, leaf); err != nil {
					return err
				}
				exp.leaves = append(exp.leaves, leaf)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return exp, nil
}

// spawnLeaves launches workers for every leaf; a failed spawn marks that
// leaf FAILED and the rest continue.
func (d *Daemon) spawnLeaves(ctx context.Context, leaves []*types.Session) (int, error) {
	var started int
	var firstErr error
	for _, leaf := range leaves {
		if err := d.sup.Spawn(ctx, leaf); err != nil {
			d.log.Error("spawning worker", "session_id", leaf.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		started++
	}
	if started == 0 && firstErr != nil {
		return 0, firstErr
	}
	return started, nil
}
