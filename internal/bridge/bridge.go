// Package bridge spawns one long-running agent process per stage invocation
// and exchanges exactly one structured message with it over a named-pipe
// side channel, then waits for the process to exit. The pipe lifecycle
// (open write end, write, close) lives in a single function so the
// close-before-wait ordering cannot drift across call sites.
package bridge

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrProcessFailed indicates the agent process could not be started,
	// exited non-zero, or had to be killed.
	ErrProcessFailed = errors.New("bridge: agent process failed")

	// ErrDeliveryFailed indicates both the companion path and the direct
	// pipe fallback failed. Terminal for this attempt.
	ErrDeliveryFailed = errors.New("bridge: message delivery failed")
)

// RunSpec describes one agent process invocation.
type RunSpec struct {
	Command  string
	Args     []string
	Dir      string
	Env      []string
	FIFOPath string
	// Message is the single structured payload delivered on the side
	// channel before the process is awaited.
	Message []byte
}

// Result is the outcome of one completed run.
type Result struct {
	ExitCode int
	Output   string
	Duration time.Duration
}

// Bridge runs agent processes. A nil companion disables the HTTP delivery
// path; the direct pipe is always available as fallback.
type Bridge struct {
	companion *CompanionClient
	grace     time.Duration
}

// New creates a bridge. grace is the pause between SIGTERM and SIGKILL on
// cancellation.
func New(companion *CompanionClient, grace time.Duration) *Bridge {
	if grace <= 0 {
		grace = 10 * time.Second
	}
	return &Bridge{companion: companion, grace: grace}
}

// Run spawns the agent process, delivers the message, and waits for exit.
// The exit wait is unbounded by design; cancelling ctx escalates from
// SIGTERM to SIGKILL after the grace period. The pipe write end is always
// closed before any wait or termination signal.
func (b *Bridge) Run(ctx context.Context, spec RunSpec) (Result, error) {
	start := time.Now()

	if err := EnsureFIFO(spec.FIFOPath); err != nil {
		return Result{}, err
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	// Own process group, so termination reaches children that would
	// otherwise keep the output pipes open past the parent's death.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("%w: stdout pipe: %v", ErrProcessFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, fmt.Errorf("%w: stderr pipe: %v", ErrProcessFailed, err)
	}

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("%w: start %s: %v", ErrProcessFailed, spec.Command, err)
	}
	slog.Info("agent process started", "command", spec.Command, "pid", cmd.Process.Pid)

	var output bytes.Buffer
	var streams errgroup.Group
	streams.Go(func() error {
		_, err := io.Copy(&output, stdout)
		return err
	})
	streams.Go(func() error {
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			slog.Warn("agent stderr", "command", spec.Command, "line", sc.Text())
		}
		return sc.Err()
	})

	waitCh := make(chan error, 1)
	go func() {
		// Output streams must be drained before Wait closes the pipes.
		_ = streams.Wait()
		waitCh <- cmd.Wait()
	}()

	// Deliver the message. Both paths close the pipe's write end before
	// returning, so by the time we block on waitCh the reader has seen
	// end-of-stream.
	if err := b.deliver(ctx, spec); err != nil {
		b.terminate(cmd, waitCh)
		return Result{}, err
	}

	var waitErr error
	select {
	case waitErr = <-waitCh:
	case <-ctx.Done():
		slog.Info("cancelling agent process", "pid", cmd.Process.Pid, "grace", b.grace)
		waitErr = b.terminate(cmd, waitCh)
	}

	res := Result{
		ExitCode: cmd.ProcessState.ExitCode(),
		Output:   output.String(),
		Duration: time.Since(start),
	}
	if waitErr != nil {
		return res, fmt.Errorf("%w: %v", ErrProcessFailed, waitErr)
	}
	return res, nil
}

// deliver tries the companion endpoint first and falls back to the direct
// pipe unconditionally on readiness timeout or delivery failure.
func (b *Bridge) deliver(ctx context.Context, spec RunSpec) error {
	if b.companion != nil {
		if err := b.companion.Deliver(ctx, spec.Message); err == nil {
			slog.Info("message delivered via companion endpoint", "fifo", spec.FIFOPath)
			return nil
		} else {
			slog.Warn("companion delivery failed, falling back to pipe", "error", err)
		}
	}
	if err := WriteAndClose(ctx, spec.FIFOPath, spec.Message); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	slog.Info("message delivered via pipe", "fifo", spec.FIFOPath)
	return nil
}

// terminate escalates from SIGTERM to SIGKILL after the grace period and
// returns the process's wait error. Callers only reach this after the pipe
// write end is closed.
func (b *Bridge) terminate(cmd *exec.Cmd, waitCh chan error) error {
	pgid := -cmd.Process.Pid
	_ = syscall.Kill(pgid, syscall.SIGTERM)
	select {
	case err := <-waitCh:
		return err
	case <-time.After(b.grace):
		slog.Warn("agent process ignored SIGTERM, killing", "pid", cmd.Process.Pid)
		_ = syscall.Kill(pgid, syscall.SIGKILL)
		return <-waitCh
	}
}
