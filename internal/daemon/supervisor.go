package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/untoldecay/healer/internal/cache"
	"github.com/untoldecay/healer/internal/storage"
	"github.com/untoldecay/healer/internal/types"
	"github.com/untoldecay/healer/internal/worker"
)

// Proc is a launched worker process as the supervisor sees it.
type Proc interface {
	PID() int
	// Terminate asks the process to stop (SIGTERM).
	Terminate() error
	// Kill ends the process immediately (SIGKILL).
	Kill() error
	// Done is closed once the process has exited.
	Done() <-chan struct{}
}

// LaunchFunc starts a worker process for a leaf session.
type LaunchFunc func(spec *worker.Spec) (Proc, error)

// termGrace is how long a worker gets to exit after SIGTERM before it is
// killed.
const termGrace = 5 * time.Second

// Supervisor owns the live worker processes, keyed by session id. It
// pairs every spawn and stop with the matching session-row transition so
// the handle map and the database stay consistent.
//
// Not safe for concurrent use; the daemon's serialized command loop is
// the only caller.
type Supervisor struct {
	store   storage.Store
	payload *cache.Cache
	launch  LaunchFunc
	log     *slog.Logger

	mu      sync.Mutex
	handles map[int64]Proc
}

// NewSupervisor returns a supervisor with no live workers.
func NewSupervisor(store storage.Store, payload *cache.Cache, launch LaunchFunc, log *slog.Logger) *Supervisor {
	return &Supervisor{
		store:   store,
		payload: payload,
		launch:  launch,
		log:     log,
		handles: make(map[int64]Proc),
	}
}

// Spawn launches a worker for a leaf session and marks it RUNNING with
// the worker's PID. A launch failure marks the session FAILED and
// returns the error; the caller decides whether to continue with other
// leaves.
func (s *Supervisor) Spawn(ctx context.Context, sess *types.Session) error {
	if sess.IsGroup {
		return fmt.Errorf("session %d is a group parent, not a worker session", sess.ID)
	}
	s.mu.Lock()
	_, exists := s.handles[sess.ID]
	s.mu.Unlock()
	if exists {
		s.log.Warn("worker already live for session", "session_id", sess.ID)
		return nil
	}

	item1, item2, err := s.payloads(ctx, sess)
	if err != nil {
		if ferr := s.store.SetSessionStatus(ctx, sess.ID, types.StatusFailed, nil); ferr != nil {
			s.log.Error("failed to mark session failed", "session_id", sess.ID, "error", ferr)
		}
		return fmt.Errorf("loading payloads for session %d: %w", sess.ID, err)
	}

	spec := &worker.Spec{
		SessionID:   sess.ID,
		DBPath:      s.store.Path(),
		Item1B64:    encodePayload(item1),
		Item2B64:    encodePayload(item2),
		Description: sess.Description,
	}
	if sess.EndTime != nil {
		spec.Deadline = sess.EndTime.Format(time.RFC3339)
	}

	proc, err := s.launch(spec)
	if err != nil {
		if ferr := s.store.SetSessionStatus(ctx, sess.ID, types.StatusFailed, nil); ferr != nil {
			s.log.Error("failed to mark session failed", "session_id", sess.ID, "error", ferr)
		}
		return fmt.Errorf("launching worker for session %d: %w", sess.ID, err)
	}

	pid := proc.PID()
	if err := s.store.SetSessionStatus(ctx, sess.ID, types.StatusRunning, &pid); err != nil {
		_ = proc.Kill()
		return fmt.Errorf("recording session %d running: %w", sess.ID, err)
	}

	s.mu.Lock()
	s.handles[sess.ID] = proc
	s.mu.Unlock()

	s.log.Info("worker started", "session_id", sess.ID, "pid", pid)
	return nil
}

// Stop terminates the worker for a running leaf session, or marks a
// running parent STOPPED. Returns false when the session is not running.
func (s *Supervisor) Stop(ctx context.Context, sessionID int64) (bool, error) {
	return s.stopWith(ctx, sessionID, types.StatusStopped)
}

// Fail is Stop with a FAILED terminal status.
func (s *Supervisor) Fail(ctx context.Context, sessionID int64) (bool, error) {
	return s.stopWith(ctx, sessionID, types.StatusFailed)
}

func (s *Supervisor) stopWith(ctx context.Context, sessionID int64, status types.SessionStatus) (bool, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if sess.Status != types.StatusRunning {
		return false, nil
	}

	s.mu.Lock()
	proc := s.handles[sessionID]
	delete(s.handles, sessionID)
	s.mu.Unlock()

	if proc != nil {
		s.terminate(proc, sessionID)
	}

	// Conditional transition: a worker that finished between the status
	// check and here already wrote its own terminal state, which wins.
	changed, err := s.store.SetSessionStatusIfRunning(ctx, sessionID, status)
	if err != nil {
		return false, err
	}
	if !changed {
		s.log.Info("session finished before stop took effect", "session_id", sessionID)
		return false, nil
	}
	s.log.Info("session stopped", "session_id", sessionID, "status", status)
	return true, nil
}

// terminate sends SIGTERM, waits out the grace period, then kills.
func (s *Supervisor) terminate(proc Proc, sessionID int64) {
	if err := proc.Terminate(); err != nil {
		s.log.Warn("terminating worker", "session_id", sessionID, "error", err)
	}
	select {
	case <-proc.Done():
	case <-time.After(termGrace):
		s.log.Warn("worker did not exit in time, killing", "session_id", sessionID)
		_ = proc.Kill()
		<-proc.Done()
	}
}

// ReapExited drops handles whose process has already exited. The worker
// wrote its own terminal status, so only the handle map needs cleaning.
func (s *Supervisor) ReapExited() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, proc := range s.handles {
		select {
		case <-proc.Done():
			delete(s.handles, id)
			s.log.Debug("reaped exited worker", "session_id", id)
		default:
		}
	}
}

// StopAll terminates every live worker. Used on daemon shutdown; session
// rows are left as-is so the next start sweeps them to FAILED.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	handles := s.handles
	s.handles = make(map[int64]Proc)
	s.mu.Unlock()
	for id, proc := range handles {
		s.terminate(proc, id)
	}
}

// Live reports the number of tracked worker processes.
func (s *Supervisor) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// payloads resolves the two cached payloads a session's worker consumes.
func (s *Supervisor) payloads(ctx context.Context, sess *types.Session) ([]byte, []byte, error) {
	switch sess.Kind {
	case types.KindICSession, types.KindGroupICSession:
		if sess.AvatarID == nil || sess.ICID == nil {
			return nil, nil, fmt.Errorf("session %d missing avatar or information copy", sess.ID)
		}
		item1, err := s.payload.Avatar(ctx, *sess.AvatarID)
		if err != nil {
			return nil, nil, err
		}
		item2, err := s.payload.IC(ctx, *sess.ICID)
		if err != nil {
			return nil, nil, err
		}
		return item1, item2, nil
	case types.KindRequestSession:
		if sess.AvatarID == nil || sess.RequestID == nil {
			return nil, nil, fmt.Errorf("session %d missing avatar or request", sess.ID)
		}
		item1, err := s.payload.Avatar(ctx, *sess.AvatarID)
		if err != nil {
			return nil, nil, err
		}
		item2, err := s.payload.Request(ctx, *sess.RequestID)
		if err != nil {
			return nil, nil, err
		}
		return item1, item2, nil
	case types.KindAvatarLink:
		if sess.AvatarID == nil || sess.DestAvatarID == nil {
			return nil, nil, fmt.Errorf("session %d missing link endpoints", sess.ID)
		}
		item1, err := s.payload.Avatar(ctx, *sess.AvatarID)
		if err != nil {
			return nil, nil, err
		}
		item2, err := s.payload.Avatar(ctx, *sess.DestAvatarID)
		if err != nil {
			return nil, nil, err
		}
		return item1, item2, nil
	default:
		return nil, nil, fmt.Errorf("unknown session type %q", sess.Kind)
	}
}
