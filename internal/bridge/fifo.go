package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
)

// fifoMode matches the group-writable mode the agent container expects.
const fifoMode = 0o660

// openRetryInterval is the pause between write-end open attempts while the
// reader has not opened its end yet.
const openRetryInterval = 100 * time.Millisecond

// EnsureFIFO creates the named pipe at path if needed. A non-FIFO entry at
// the path is replaced.
func EnsureFIFO(path string) error {
	info, err := os.Stat(path)
	switch {
	case err == nil:
		if info.Mode()&os.ModeNamedPipe != 0 {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("bridge: replace non-fifo %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("bridge: stat %s: %w", path, err)
	}

	if err := syscall.Mkfifo(path, fifoMode); err != nil {
		return fmt.Errorf("bridge: mkfifo %s: %w", path, err)
	}
	return nil
}

// WriteAndClose delivers one message over the pipe's write end and closes
// it before returning. The close is what delivers end-of-stream to the
// reading process; callers must never begin waiting on the process until
// this function has returned. That ordering is the load-bearing invariant
// of the whole bridge: waiting first leaves the agent blocked on a read
// that will never finish while we block on an exit that will never come.
func WriteAndClose(ctx context.Context, path string, payload []byte) error {
	f, err := openWriteEnd(ctx, path)
	if err != nil {
		return err
	}

	if _, err := f.Write(payload); err != nil {
		_ = f.Close()
		return fmt.Errorf("bridge: write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("bridge: close %s: %w", path, err)
	}
	return nil
}

// openWriteEnd opens the pipe for writing without blocking indefinitely:
// a plain blocking open would hang until a reader appears, which makes
// cancellation impossible. ENXIO means no reader yet; retry on a short
// timer until ctx is cancelled.
func openWriteEnd(ctx context.Context, path string) (*os.File, error) {
	for {
		// The runtime poller absorbs EAGAIN on the descriptor, so writes
		// behave normally once the open succeeds.
		f, err := os.OpenFile(path, os.O_WRONLY|syscall.O_NONBLOCK, 0)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, syscall.ENXIO) {
			return nil, fmt.Errorf("bridge: open %s: %w", path, err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("bridge: open %s: %w", path, ctx.Err())
		case <-time.After(openRetryInterval):
		}
	}
}
