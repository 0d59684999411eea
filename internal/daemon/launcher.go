package daemon

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"

	"github.com/untoldecay/healer/internal/worker"
)

func encodePayload(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// execProc wraps a real worker process started via exec.
type execProc struct {
	cmd  *exec.Cmd
	done chan struct{}
}

func (p *execProc) PID() int { return p.cmd.Process.Pid }

func (p *execProc) Terminate() error {
	return p.cmd.Process.Signal(unix.SIGTERM)
}

func (p *execProc) Kill() error {
	return p.cmd.Process.Kill()
}

func (p *execProc) Done() <-chan struct{} { return p.done }

// NewExecLauncher returns the production launcher: it re-executes the
// daemon's own binary with the hidden worker subcommand, feeding the
// launch spec as JSON on stdin.
func NewExecLauncher() (LaunchFunc, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locating own executable: %w", err)
	}

	return func(spec *worker.Spec) (Proc, error) {
		payload, err := json.Marshal(spec)
		if err != nil {
			return nil, fmt.Errorf("encoding worker spec: %w", err)
		}

		cmd := exec.Command(exe, "worker")
		cmd.Stdin = bytes.NewReader(payload)
		// Workers report through the database, not stdio.
		cmd.Stdout = nil
		cmd.Stderr = nil

		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("starting worker process: %w", err)
		}

		p := &execProc{cmd: cmd, done: make(chan struct{})}
		go func() {
			_ = cmd.Wait()
			close(p.done)
		}()
		return p, nil
	}, nil
}
