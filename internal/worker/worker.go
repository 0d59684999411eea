// Package worker implements the session worker process. The daemon
// launches one worker per leaf session; the worker receives its payloads
// on stdin and reports its terminal status by writing its own session row.
package worker

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/untoldecay/healer/internal/storage/sqlite"
	"github.com/untoldecay/healer/internal/types"
)

// Spec is the worker's launch contract, serialized as a single JSON
// object on stdin. Payloads travel base64-encoded; an empty Deadline
// means the session runs until stopped.
type Spec struct {
	SessionID   int64  `json:"session_id"`
	DBPath      string `json:"db_path"`
	Item1B64    string `json:"item1_b64"`
	Item2B64    string `json:"item2_b64"`
	Description string `json:"description,omitempty"`
	Deadline    string `json:"deadline,omitempty"` // RFC 3339
}

// ReadSpec decodes a launch spec from r.
func ReadSpec(r io.Reader) (*Spec, error) {
	var spec Spec
	if err := json.NewDecoder(r).Decode(&spec); err != nil {
		return nil, fmt.Errorf("decoding worker spec: %w", err)
	}
	if spec.SessionID == 0 {
		return nil, fmt.Errorf("worker spec missing session id")
	}
	if spec.DBPath == "" {
		return nil, fmt.Errorf("worker spec missing database path")
	}
	return &spec, nil
}

// Run executes the session loop until the deadline passes or ctx is
// canceled, then writes the terminal status into the session row. The
// caller wires SIGTERM/SIGINT into ctx, so cancellation means a stop
// request and maps to STOPPED; an elapsed deadline maps to COMPLETED;
// anything else maps to FAILED.
func (s *Spec) Run(ctx context.Context) error {
	item1, err := base64.StdEncoding.DecodeString(s.Item1B64)
	if err != nil {
		s.writeStatus(types.StatusFailed)
		return fmt.Errorf("decoding first payload: %w", err)
	}
	item2, err := base64.StdEncoding.DecodeString(s.Item2B64)
	if err != nil {
		s.writeStatus(types.StatusFailed)
		return fmt.Errorf("decoding second payload: %w", err)
	}

	var deadline *time.Time
	if s.Deadline != "" {
		t, err := time.Parse(time.RFC3339, s.Deadline)
		if err != nil {
			s.writeStatus(types.StatusFailed)
			return fmt.Errorf("parsing deadline: %w", err)
		}
		deadline = &t
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for deadline == nil || time.Now().Before(*deadline) {
		// One unit of session work per cycle.
		sha256.Sum256(item1)
		sha256.Sum256(item2)

		select {
		case <-ctx.Done():
			return s.writeStatus(types.StatusStopped)
		case <-ticker.C:
		}
	}
	return s.writeStatus(types.StatusCompleted)
}

// writeStatus records the terminal status through the worker's own
// database connection. It must not touch any other row: the daemon owns
// everything else.
func (s *Spec) writeStatus(status types.SessionStatus) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := sqlite.New(ctx, s.DBPath)
	if err != nil {
		return fmt.Errorf("opening database for status write: %w", err)
	}
	defer store.Close()

	if err := store.SetSessionStatus(ctx, s.SessionID, status, nil); err != nil {
		return fmt.Errorf("recording session %d status %s: %w", s.SessionID, status, err)
	}
	return nil
}
