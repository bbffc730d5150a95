// Package command runs external dump tools with a deadline, an environment
// overlay and optional stdin/stdout redirection to files.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// stderrLimit caps the diagnostic output kept from a failed command.
const stderrLimit = 64 * 1024

type Cmd struct {
	Name       string
	Args       []string
	Env        []string // KEY=VALUE pairs appended to the process environment
	StdinPath  string
	StdoutPath string
	Timeout    time.Duration
}

// ExitError is returned when the command ran but exited non-zero.
type ExitError struct {
	Name   string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s exited with status %d", e.Name, e.Code)
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Name, e.Code, e.Stderr)
}

// TimeoutError is returned when the command outlived its deadline.
type TimeoutError struct {
	Name    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Name, e.Timeout)
}

type Runner interface {
	Run(ctx context.Context, cmd Cmd) error
}

type ExecRunner struct{}

var _ Runner = (*ExecRunner)(nil)

func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

func (r *ExecRunner) Run(ctx context.Context, c Cmd) error {
	runCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, c.Name, c.Args...)
	cmd.WaitDelay = 5 * time.Second
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	if c.StdinPath != "" {
		in, err := os.Open(c.StdinPath)
		if err != nil {
			return fmt.Errorf("failed to open stdin file: %w", err)
		}
		defer in.Close()
		cmd.Stdin = in
	}

	if c.StdoutPath != "" {
		out, err := os.Create(c.StdoutPath)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer out.Close()
		cmd.Stdout = out
	} else {
		cmd.Stdout = io.Discard
	}

	stderr := &limitedBuffer{limit: stderrLimit}
	cmd.Stderr = stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}

	if c.Timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return &TimeoutError{Name: c.Name, Timeout: c.Timeout}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		return &ExitError{
			Name:   c.Name,
			Code:   exitErr.ExitCode(),
			Stderr: strings.TrimSpace(stderr.String()),
		}
	}

	return fmt.Errorf("run %s: %w", c.Name, err)
}

type limitedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}
