package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/untoldecay/healer/internal/storage"
	"github.com/untoldecay/healer/internal/types"
)

func (d *Daemon) handleUpdateEntity(ctx context.Context, data json.RawMessage) (interface{}, error) {
	var args UpdateEntityArgs
	if err := decodeArgs(data, &args); err != nil {
		return nil, err
	}
	kind, err := parseEntityKind(args.EntityType)
	if err != nil {
		return nil, err
	}

	upd := storage.EntityUpdate{Name: args.Name}
	if args.PhotoDataB64 != nil {
		upd.Blob, err = decodeB64("photo_data", *args.PhotoDataB64)
		if err != nil {
			return nil, err
		}
	}
	if args.WavDataB64 != nil {
		upd.Blob, err = decodeB64("wav_data", *args.WavDataB64)
		if err != nil {
			return nil, err
		}
	}
	if args.InfoData != nil {
		upd.Text = args.InfoData
	}
	if args.RequestData != nil {
		upd.Text = args.RequestData
	}

	running, err := d.store.UpdateEntity(ctx, kind, args.ID, upd)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s %d not found", kind, args.ID)
	}
	if err != nil {
		return nil, err
	}

	// Stale payload bytes must not outlive the update.
	d.payload.Evict(kind, args.ID)

	restarted := 0
	for _, id := range running {
		done, err := d.sup.Stop(ctx, id)
		if err != nil || !done {
			if err != nil {
				d.log.Error("stopping session for update", "session_id", id, "error", err)
			}
			continue
		}
		sess, err := d.store.GetSession(ctx, id)
		if err != nil {
			d.log.Error("reloading session for restart", "session_id", id, "error", err)
			continue
		}
		if err := d.sup.Spawn(ctx, sess); err != nil {
			d.log.Error("restarting session after update", "session_id", id, "error", err)
			continue
		}
		restarted++
	}
	return ok(fmt.Sprintf("Entity updated. Restarted %d active session(s).", restarted)), nil
}

func (d *Daemon) handleRemoveEntity(ctx context.Context, data json.RawMessage) (interface{}, error) {
	var args RemoveEntityArgs
	if err := decodeArgs(data, &args); err != nil {
		return nil, err
	}
	kind, err := parseEntityKind(args.EntityType)
	if err != nil {
		return nil, err
	}

	// Workers die before their session rows do.
	running, err := d.store.RunningSessionsOnEntity(ctx, kind, args.ID)
	if err != nil {
		return nil, err
	}
	stopped := 0
	for _, sess := range running {
		if done, err := d.sup.Stop(ctx, sess.ID); err != nil {
			d.log.Error("stopping session for entity removal", "session_id", sess.ID, "error", err)
		} else if done {
			stopped++
		}
	}

	removed, _, err := d.store.RemoveEntity(ctx, kind, args.ID)
	if err != nil {
		return nil, err
	}
	if !removed {
		return ok(fmt.Sprintf("%s %d not found or already deleted.", kind, args.ID)), nil
	}
	d.payload.Evict(kind, args.ID)
	return ok(fmt.Sprintf("Stopped %d session(s) and removed %s %d.", stopped, kind, args.ID)), nil
}

func (d *Daemon) handleAddMember(ctx context.Context, data json.RawMessage) (interface{}, error) {
	var args MemberArgs
	if err := decodeArgs(data, &args); err != nil {
		return nil, err
	}
	kind, err := parseEntityKind(args.GroupType)
	if err != nil {
		return nil, err
	}
	g, err := d.store.GetGroup(ctx, kind, args.GroupName)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s group '%s' not found", kind, args.GroupName)
	}
	if err != nil {
		return nil, err
	}
	if err := d.entityExists(ctx, kind, args.MemberID); err != nil {
		return nil, err
	}

	added, err := d.store.AddMember(ctx, kind, g.ID, args.MemberID)
	if err != nil {
		return nil, err
	}
	if !added {
		return ok(fmt.Sprintf("%s %d is already in group '%s'.", kind, args.MemberID, g.Name)), nil
	}

	var spawned int
	switch kind {
	case types.EntityAvatar:
		spawned, err = d.retroactiveAvatarAdd(ctx, g, args.MemberID)
	case types.EntityIC:
		spawned, err = d.retroactiveICAdd(ctx, g, args.MemberID)
	case types.EntityRequest:
		// Request groups never expand retroactively; the membership takes
		// effect on the next start_request.
		return ok(fmt.Sprintf("Added %s %d to group '%s'. No new sessions started.", kind, args.MemberID, g.Name)), nil
	}
	if err != nil {
		return nil, err
	}
	return ok(fmt.Sprintf("Added %s %d to group '%s'. Started %d new live session(s).", kind, args.MemberID, g.Name, spawned)), nil
}

// retroactiveAvatarAdd spawns the leaves a running group parent would
// have created had the avatar been a member at start time.
func (d *Daemon) retroactiveAvatarAdd(ctx context.Context, g *types.Group, avatarID int64) (int, error) {
	a, err := d.store.GetAvatar(ctx, avatarID)
	if err != nil {
		return 0, err
	}
	parents, err := d.store.RunningParentsUsingGroup(ctx, types.EntityAvatar, g.ID)
	if err != nil {
		return 0, err
	}

	spawned := 0
	for _, p := range parents {
		switch p.Kind {
		case types.KindGroupICSession:
			if p.ICGroupID == nil {
				continue
			}
			icIDs, err := d.store.ListMembers(ctx, types.EntityIC, *p.ICGroupID)
			if err != nil {
				return spawned, err
			}
			for _, icID := range icIDs {
				ic, err := d.store.GetIC(ctx, icID)
				if err != nil {
					d.log.Error("loading information copy for retroactive spawn", "ic_id", icID, "error", err)
					continue
				}
				leaf := childLeaf(p, types.KindICSession,
					fmt.Sprintf("'%s' <=> '%s' (from Group Session #%d)", a.Name, ic.Name, p.ID))
				leaf.AvatarID = &a.ID
				leaf.ICID = &ic.ID
				spawned += d.createAndSpawn(ctx, leaf)
			}
		case types.KindICSession:
			if p.ICID == nil {
				continue
			}
			ic, err := d.store.GetIC(ctx, *p.ICID)
			if err != nil {
				d.log.Error("loading information copy for retroactive spawn", "ic_id", *p.ICID, "error", err)
				continue
			}
			leaf := childLeaf(p, types.KindICSession,
				fmt.Sprintf("'%s' <=> '%s' (from Group Op #%d)", a.Name, ic.Name, p.ID))
			leaf.AvatarID = &a.ID
			leaf.ICID = &ic.ID
			spawned += d.createAndSpawn(ctx, leaf)
		case types.KindRequestSession:
			// Cross-group request parents carry no single request to pair
			// the new avatar with; those memberships apply on next start.
			if p.RequestID == nil {
				continue
			}
			r, err := d.store.GetRequest(ctx, *p.RequestID)
			if err != nil {
				d.log.Error("loading request for retroactive spawn", "request_id", *p.RequestID, "error", err)
				continue
			}
			leaf := childLeaf(p, types.KindRequestSession,
				fmt.Sprintf("'%s' <=> '%s' (from Group Op #%d)", a.Name, r.Name, p.ID))
			leaf.AvatarID = &a.ID
			leaf.RequestID = &r.ID
			spawned += d.createAndSpawn(ctx, leaf)
		case types.KindAvatarLink:
			if p.AvatarID == nil || *p.AvatarID == avatarID {
				continue
			}
			src, err := d.store.GetAvatar(ctx, *p.AvatarID)
			if err != nil {
				d.log.Error("loading link source for retroactive spawn", "avatar_id", *p.AvatarID, "error", err)
				continue
			}
			leaf := childLeaf(p, types.KindAvatarLink,
				fmt.Sprintf("Link: '%s' -> '%s' (from Group Op #%d)", src.Name, a.Name, p.ID))
			leaf.AvatarID = &src.ID
			leaf.DestAvatarID = &a.ID
			spawned += d.createAndSpawn(ctx, leaf)
		}
	}
	return spawned, nil
}

// retroactiveICAdd pairs the new information copy with every avatar of
// each running group_ic_session parent using this IC group.
func (d *Daemon) retroactiveICAdd(ctx context.Context, g *types.Group, icID int64) (int, error) {
	ic, err := d.store.GetIC(ctx, icID)
	if err != nil {
		return 0, err
	}
	parents, err := d.store.RunningParentsUsingGroup(ctx, types.EntityIC, g.ID)
	if err != nil {
		return 0, err
	}

	spawned := 0
	for _, p := range parents {
		if p.Kind != types.KindGroupICSession || p.AvatarGroupID == nil {
			continue
		}
		avatarIDs, err := d.store.ListMembers(ctx, types.EntityAvatar, *p.AvatarGroupID)
		if err != nil {
			return spawned, err
		}
		for _, aid := range avatarIDs {
			a, err := d.store.GetAvatar(ctx, aid)
			if err != nil {
				d.log.Error("loading avatar for retroactive spawn", "avatar_id", aid, "error", err)
				continue
			}
			leaf := childLeaf(p, types.KindICSession,
				fmt.Sprintf("'%s' <=> '%s' (from Group Session #%d)", a.Name, ic.Name, p.ID))
			leaf.AvatarID = &a.ID
			leaf.ICID = &ic.ID
			spawned += d.createAndSpawn(ctx, leaf)
		}
	}
	return spawned, nil
}

// childLeaf seeds a retroactive leaf; it inherits the parent's window so
// the whole expansion still ends together.
func childLeaf(parent *types.Session, kind types.SessionKind, desc string) *types.Session {
	return &types.Session{
		ParentID:    &parent.ID,
		Kind:        kind,
		Description: desc,
		StartTime:   parent.StartTime,
		EndTime:     parent.EndTime,
		Status:      types.StatusScheduled,
	}
}

func (d *Daemon) createAndSpawn(ctx context.Context, leaf *types.Session) int {
	if err := d.store.CreateSession(ctx, leaf); err != nil {
		d.log.Error("creating retroactive session", "error", err)
		return 0
	}
	if err := d.sup.Spawn(ctx, leaf); err != nil {
		d.log.Error("spawning retroactive session", "session_id", leaf.ID, "error", err)
		return 0
	}
	return 1
}

func (d *Daemon) handleRemoveMember(ctx context.Context, data json.RawMessage) (interface{}, error) {
	var args MemberArgs
	if err := decodeArgs(data, &args); err != nil {
		return nil, err
	}
	kind, err := parseEntityKind(args.GroupType)
	if err != nil {
		return nil, err
	}
	g, err := d.store.GetGroup(ctx, kind, args.GroupName)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s group '%s' not found", kind, args.GroupName)
	}
	if err != nil {
		return nil, err
	}

	members, err := d.store.ListMembers(ctx, kind, g.ID)
	if err != nil {
		return nil, err
	}
	isMember := false
	for _, id := range members {
		if id == args.MemberID {
			isMember = true
			break
		}
	}
	if !isMember {
		return ok(fmt.Sprintf("%s %d was not in group '%s'.", kind, args.MemberID, g.Name)), nil
	}

	// Live leaves go down before the membership row does.
	children, err := d.store.ChildrenOfGroupParentsByMember(ctx, kind, g.ID, args.MemberID)
	if err != nil {
		return nil, err
	}
	stopped := 0
	for _, child := range children {
		if child.Status != types.StatusRunning {
			continue
		}
		if done, err := d.sup.Stop(ctx, child.ID); err != nil {
			d.log.Error("stopping session for member removal", "session_id", child.ID, "error", err)
		} else if done {
			stopped++
		}
	}

	if _, err := d.store.RemoveMember(ctx, kind, g.ID, args.MemberID); err != nil {
		return nil, err
	}
	return ok(fmt.Sprintf("Removed %s %d from group '%s'. Stopped %d live session(s).", kind, args.MemberID, g.Name, stopped)), nil
}

func (d *Daemon) handleRemoveGroup(ctx context.Context, data json.RawMessage) (interface{}, error) {
	var args RemoveGroupArgs
	if err := decodeArgs(data, &args); err != nil {
		return nil, err
	}
	kind, err := parseEntityKind(args.GroupType)
	if err != nil {
		return nil, err
	}
	g, err := d.store.GetGroup(ctx, kind, args.GroupName)
	if errors.Is(err, storage.ErrNotFound) {
		return ok(fmt.Sprintf("%s group '%s' not found or already deleted.", kind, args.GroupName)), nil
	}
	if err != nil {
		return nil, err
	}

	parents, err := d.store.RunningParentsUsingGroup(ctx, kind, g.ID)
	if err != nil {
		return nil, err
	}
	stopped := 0
	for _, p := range parents {
		children, err := d.store.ChildSessions(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			if child.Status != types.StatusRunning {
				continue
			}
			if done, err := d.sup.Stop(ctx, child.ID); err != nil {
				d.log.Error("stopping session for group removal", "session_id", child.ID, "error", err)
			} else if done {
				stopped++
			}
		}
		if done, err := d.sup.Stop(ctx, p.ID); err != nil {
			d.log.Error("stopping group parent", "session_id", p.ID, "error", err)
		} else if done {
			stopped++
		}
	}

	if err := d.store.RemoveGroup(ctx, kind, g.ID); err != nil {
		return nil, err
	}
	return ok(fmt.Sprintf("Stopped %d session(s). Group '%s' and all its memberships have been deleted.", stopped, g.Name)), nil
}

func (d *Daemon) handleFailOnTarget(ctx context.Context, data json.RawMessage) (interface{}, error) {
	var args FailOnTargetArgs
	if err := decodeArgs(data, &args); err != nil {
		return nil, err
	}
	if (args.AvatarID == nil) == (args.AvatarGroup == "") {
		return nil, fmt.Errorf("specify exactly one of avatar id or avatar group")
	}

	failed := 0
	var target string
	if args.AvatarGroup != "" {
		g, err := d.store.GetGroup(ctx, types.EntityAvatar, args.AvatarGroup)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("avatar group '%s' not found", args.AvatarGroup)
		}
		if err != nil {
			return nil, err
		}
		target = fmt.Sprintf("avatar group '%s'", g.Name)

		parents, err := d.store.ParentsUsingAvatarGroup(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		for _, p := range parents {
			children, err := d.store.ChildSessions(ctx, p.ID)
			if err != nil {
				return nil, err
			}
			for _, child := range children {
				if child.Status != types.StatusRunning {
					continue
				}
				if done, err := d.sup.Fail(ctx, child.ID); err != nil {
					d.log.Error("failing child session", "session_id", child.ID, "error", err)
				} else if done {
					failed++
				}
			}
			// Terminal parents keep their history; everything else fails.
			if !p.Status.IsTerminal() {
				if err := d.store.SetSessionStatus(ctx, p.ID, types.StatusFailed, nil); err != nil {
					d.log.Error("failing group parent", "session_id", p.ID, "error", err)
					continue
				}
				failed++
			}
		}
	} else {
		target = fmt.Sprintf("avatar %d", *args.AvatarID)
		sessions, err := d.store.RunningSessionsOnEntity(ctx, types.EntityAvatar, *args.AvatarID)
		if err != nil {
			return nil, err
		}
		for _, sess := range sessions {
			if done, err := d.sup.Fail(ctx, sess.ID); err != nil {
				d.log.Error("failing session", "session_id", sess.ID, "error", err)
			} else if done {
				failed++
			}
		}
		// Group parents can reference an avatar directly too: a link
		// parent's source, or a request-group parent on a single avatar.
		parents, err := d.store.RunningParentsOnAvatar(ctx, *args.AvatarID)
		if err != nil {
			return nil, err
		}
		for _, p := range parents {
			if done, err := d.sup.Fail(ctx, p.ID); err != nil {
				d.log.Error("failing group parent", "session_id", p.ID, "error", err)
			} else if done {
				failed++
			}
		}
	}

	if failed == 0 {
		return ok(fmt.Sprintf("No running sessions found for %s.", target)), nil
	}
	return ok(fmt.Sprintf("Set %d session(s) for %s to FAILED.", failed, target)), nil
}

func (d *Daemon) handleFailAll(ctx context.Context) (interface{}, error) {
	running, err := d.store.SessionsByStatus(ctx, types.StatusRunning)
	if err != nil {
		return nil, err
	}
	failed := 0
	for _, sess := range running {
		if done, err := d.sup.Fail(ctx, sess.ID); err != nil {
			d.log.Error("failing session", "session_id", sess.ID, "error", err)
		} else if done {
			failed++
		}
	}
	return ok(fmt.Sprintf("Successfully failed %d running session(s).", failed)), nil
}

func (d *Daemon) handleRedoFailed(ctx context.Context) (interface{}, error) {
	failedSessions, err := d.store.SessionsByStatus(ctx, types.StatusFailed)
	if err != nil {
		return nil, err
	}

	restarted := 0
	for _, sess := range failedSessions {
		// Group parents are bookkeeping rows; the retry happens leaf by
		// leaf, so the parent just moves out of FAILED.
		if sess.IsGroup {
			if err := d.store.SetSessionStatus(ctx, sess.ID, types.StatusRestarted, nil); err != nil {
				d.log.Error("marking group parent restarted", "session_id", sess.ID, "error", err)
			}
			continue
		}

		clone := &types.Session{
			ParentID:     sess.ParentID,
			Kind:         sess.Kind,
			Description:  "[REDO] " + sess.Description,
			AvatarID:     sess.AvatarID,
			ICID:         sess.ICID,
			RequestID:    sess.RequestID,
			DestAvatarID: sess.DestAvatarID,
			StartTime:    time.Now().UTC().Truncate(time.Second),
			EndTime:      sess.EndTime,
			Status:       types.StatusScheduled,
		}
		if err := d.store.CreateSession(ctx, clone); err != nil {
			d.log.Error("cloning failed session", "session_id", sess.ID, "error", err)
			continue
		}
		if err := d.sup.Spawn(ctx, clone); err != nil {
			d.log.Error("spawning redo session", "session_id", clone.ID, "error", err)
			continue
		}
		if err := d.store.SetSessionStatus(ctx, sess.ID, types.StatusRestarted, nil); err != nil {
			d.log.Error("marking session restarted", "session_id", sess.ID, "error", err)
			continue
		}
		restarted++
	}
	return ok(fmt.Sprintf("Successfully restarted %d failed session(s).", restarted)), nil
}
