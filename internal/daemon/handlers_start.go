package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/untoldecay/healer/internal/storage"
	"github.com/untoldecay/healer/internal/types"
)

func (d *Daemon) handleStartIC(ctx context.Context, data json.RawMessage) (interface{}, error) {
	var args StartICArgs
	if err := decodeArgs(data, &args); err != nil {
		return nil, err
	}
	exp, err := d.expandStartIC(ctx, args)
	if err != nil {
		return nil, err
	}
	started, err := d.spawnLeaves(ctx, exp.leaves)
	if err != nil {
		return nil, err
	}
	return ok(fmt.Sprintf("Started %d session(s).", started)), nil
}

func (d *Daemon) handleStartRequest(ctx context.Context, data json.RawMessage) (interface{}, error) {
	var args StartRequestArgs
	if err := decodeArgs(data, &args); err != nil {
		return nil, err
	}
	exp, err := d.expandStartRequest(ctx, args)
	if err != nil {
		return nil, err
	}
	started, err := d.spawnLeaves(ctx, exp.leaves)
	if err != nil {
		return nil, err
	}
	return ok(fmt.Sprintf("Started %d session(s).", started)), nil
}

func (d *Daemon) handleStartLink(ctx context.Context, data json.RawMessage) (interface{}, error) {
	var args StartLinkArgs
	if err := decodeArgs(data, &args); err != nil {
		return nil, err
	}
	exp, err := d.expandStartLink(ctx, args)
	if err != nil {
		return nil, err
	}
	started, err := d.spawnLeaves(ctx, exp.leaves)
	if err != nil {
		return nil, err
	}
	return ok(fmt.Sprintf("Started %d link session(s).", started)), nil
}

func (d *Daemon) handleStartGroup(ctx context.Context, data json.RawMessage) (interface{}, error) {
	var args StartGroupArgs
	if err := decodeArgs(data, &args); err != nil {
		return nil, err
	}
	exp, err := d.expandStartGroup(ctx, args)
	if err != nil {
		return nil, err
	}
	started, err := d.spawnLeaves(ctx, exp.leaves)
	if err != nil {
		return nil, err
	}
	return ok(fmt.Sprintf("Started group session %d with %d worker(s).", exp.parent.ID, started)), nil
}

func (d *Daemon) handleStopSession(ctx context.Context, data json.RawMessage) (interface{}, error) {
	var args StopSessionArgs
	if err := decodeArgs(data, &args); err != nil {
		return nil, err
	}
	sess, err := d.store.GetSession(ctx, args.SessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("session %d not found", args.SessionID)
	}
	if err != nil {
		return nil, err
	}
	if sess.Status.IsTerminal() {
		return ok(fmt.Sprintf("Session %d is already in a terminal state; nothing to stop.", sess.ID)), nil
	}

	stopped := 0
	if sess.IsGroup {
		children, err := d.store.ChildSessions(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			if child.Status != types.StatusRunning {
				continue
			}
			if done, err := d.sup.Stop(ctx, child.ID); err != nil {
				d.log.Error("stopping child session", "session_id", child.ID, "error", err)
			} else if done {
				stopped++
			}
		}
	}
	if done, err := d.sup.Stop(ctx, sess.ID); err != nil {
		return nil, err
	} else if done {
		stopped++
	}
	if stopped == 0 {
		return ok(fmt.Sprintf("Session %d is not running; nothing to stop.", sess.ID)), nil
	}
	return ok(fmt.Sprintf("Stopped %d session(s).", stopped)), nil
}
