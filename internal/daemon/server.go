// Package daemon implements the healer control daemon: a TCP command
// server over a relational session catalog plus the worker process
// supervisor behind it.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/untoldecay/healer/internal/cache"
	"github.com/untoldecay/healer/internal/storage"
)

// maxCommandBytes caps how much of a command a single connection may
// send before the decoder gives up.
const maxCommandBytes = 16384

// Daemon is the healer control server. Commands are dispatched one at a
// time under a single mutex; session state never sees two commands
// interleaved.
type Daemon struct {
	addr    string
	store   storage.Store
	payload *cache.Cache
	sup     *Supervisor
	log     *slog.Logger

	cmdMu sync.Mutex

	readyOnce sync.Once
	ready     chan struct{}
	boundAddr string
}

// New assembles a daemon around store. launch decides how leaf workers
// are started; production callers pass NewExecLauncher's result.
func New(addr string, store storage.Store, launch LaunchFunc, log *slog.Logger) *Daemon {
	if log == nil {
		log = slog.Default()
	}
	payload := cache.New(store)
	return &Daemon{
		addr:    addr,
		store:   store,
		payload: payload,
		sup:     NewSupervisor(store, payload, launch, log),
		log:     log,
		ready:   make(chan struct{}),
	}
}

// Ready is closed once the listener is accepting connections.
func (d *Daemon) Ready() <-chan struct{} { return d.ready }

// Addr returns the bound listen address; valid once Ready is closed.
func (d *Daemon) Addr() string { return d.boundAddr }

// Run recovers orphaned sessions, then serves commands until ctx is
// canceled.
func (d *Daemon) Run(ctx context.Context) error {
	// Any session still RUNNING at startup lost its worker when the
	// previous daemon died.
	swept, err := d.store.MarkRunningFailed(ctx)
	if err != nil {
		return fmt.Errorf("recovering orphaned sessions: %w", err)
	}
	if swept > 0 {
		d.log.Warn("marked orphaned running sessions as failed", "count", swept)
	}

	ln, err := net.Listen("tcp", d.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", d.addr, err)
	}
	d.boundAddr = ln.Addr().String()
	d.log.Info("daemon listening", "addr", d.boundAddr)
	d.readyOnce.Do(func() { close(d.ready) })

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				d.log.Info("daemon shutting down")
				d.sup.StopAll()
				return nil
			}
			d.log.Error("accepting connection", "error", err)
			continue
		}
		d.handleConn(ctx, conn)
	}
}

// handleConn reads one command, dispatches it, and writes one reply.
func (d *Daemon) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var cmd Command
	dec := json.NewDecoder(io.LimitReader(conn, maxCommandBytes))
	if err := dec.Decode(&cmd); err != nil {
		d.writeReply(conn, Reply{Status: StatusError, Message: "invalid command: " + err.Error()})
		return
	}

	reply := d.Dispatch(ctx, cmd)
	d.writeReply(conn, reply)
}

func (d *Daemon) writeReply(conn net.Conn, reply interface{}) {
	if err := json.NewEncoder(conn).Encode(reply); err != nil {
		d.log.Error("writing reply", "error", err)
	}
}

// Dispatch runs one command to completion under the command mutex and
// returns its reply. A handler panic is contained: in-flight database
// transactions roll back on the error path and the client gets an error
// reply.
func (d *Daemon) Dispatch(ctx context.Context, cmd Command) (reply interface{}) {
	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("command panicked", "action", cmd.Action, "panic", r)
			reply = Reply{Status: StatusError, Message: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	// Workers that finished on their own leave stale handles behind.
	d.sup.ReapExited()

	result, err := d.route(ctx, cmd)
	if err != nil {
		d.log.Warn("command failed", "action", cmd.Action, "error", err)
		return Reply{Status: StatusError, Message: err.Error()}
	}
	return result
}

func (d *Daemon) route(ctx context.Context, cmd Command) (interface{}, error) {
	switch cmd.Action {
	case ActionPing:
		return ok("pong"), nil
	case ActionStartIC:
		return d.handleStartIC(ctx, cmd.Data)
	case ActionStartRequest:
		return d.handleStartRequest(ctx, cmd.Data)
	case ActionStartLink:
		return d.handleStartLink(ctx, cmd.Data)
	case ActionStartGroup:
		return d.handleStartGroup(ctx, cmd.Data)
	case ActionStopSession:
		return d.handleStopSession(ctx, cmd.Data)
	case ActionUpdateEntity:
		return d.handleUpdateEntity(ctx, cmd.Data)
	case ActionRemoveEntity:
		return d.handleRemoveEntity(ctx, cmd.Data)
	case ActionAddMember:
		return d.handleAddMember(ctx, cmd.Data)
	case ActionRemoveMember:
		return d.handleRemoveMember(ctx, cmd.Data)
	case ActionRemoveGroup:
		return d.handleRemoveGroup(ctx, cmd.Data)
	case ActionFailOnTarget:
		return d.handleFailOnTarget(ctx, cmd.Data)
	case ActionFailAll:
		return d.handleFailAll(ctx)
	case ActionRedoFailed:
		return d.handleRedoFailed(ctx)
	case ActionViewRunningOn:
		return d.handleViewRunningOn(ctx, cmd.Data)
	case ActionCreateEntity:
		return d.handleCreateEntity(ctx, cmd.Data)
	case ActionCreateGroup:
		return d.handleCreateGroup(ctx, cmd.Data)
	case ActionListEntities:
		return d.handleListEntities(ctx, cmd.Data)
	default:
		return nil, fmt.Errorf("unknown action '%s'", cmd.Action)
	}
}

func decodeArgs(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return errors.New("missing command data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid command data: %w", err)
	}
	return nil
}
