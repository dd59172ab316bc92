package gitevidence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// Subprocess bounds.
const (
	DefaultTimeout   = 5 * time.Second
	DefaultMaxOutput = 2 << 20 // 2 MiB
)

// Runner executes git with args and returns stdout.
// This abstraction allows mocking in tests.
type Runner func(ctx context.Context, args ...string) ([]byte, error)

// ExecRunner returns a Runner that runs the git binary in dir. Each call is
// bounded by timeout, and stdout beyond maxOutput bytes is discarded.
func ExecRunner(dir string, timeout time.Duration, maxOutput int) Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutput
	}
	return func(ctx context.Context, args ...string) ([]byte, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, "git", args...)
		cmd.Dir = dir
		stdout := &cappedBuffer{limit: maxOutput}
		stderr := &cappedBuffer{limit: 4096}
		cmd.Stdout = stdout
		cmd.Stderr = stderr

		if err := cmd.Run(); err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("git %s: %w", args[0], ctx.Err())
			}
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return nil, fmt.Errorf("git %s failed (exit %d): %s: %w", args[0], exitErr.ExitCode(), bytes.TrimSpace(stderr.buf.Bytes()), err)
			}
			return nil, fmt.Errorf("running git %s: %w", args[0], err)
		}
		if stdout.truncated {
			return stdout.buf.Bytes(), ErrOutputTruncated
		}
		return stdout.buf.Bytes(), nil
	}
}

// ErrOutputTruncated is returned together with the retained prefix when git
// wrote more than the output cap.
var ErrOutputTruncated = errors.New("git output truncated")

// cappedBuffer keeps the first limit bytes and silently drops the rest so the
// child process never blocks on a full pipe.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	room := c.limit - c.buf.Len()
	if room <= 0 {
		c.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		c.buf.Write(p[:room])
		c.truncated = true
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}
