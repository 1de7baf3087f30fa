// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package command runs the external engines the pipeline drives. It captures
// stdout, stderr and the exit code of each process, records a redacted log of
// the invocation, and kills the whole process group when the context ends.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

// ErrNotFound is returned when the command binary is not on PATH.
var ErrNotFound = errors.New("command not found")

const (
	redacted = "***"

	// waitDelay bounds how long Run waits for output pipes after the process
	// group has been killed.
	waitDelay = 5 * time.Second

	// maxPending is how much of an unterminated progress line is held back
	// for redaction before it is written anyway.
	maxPending = 64 << 10
)

// Result is the captured outcome of one process.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes a command and waits for it to finish.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// Log records one external command invocation. Secret values are already
// replaced by "***" in every field.
type Log struct {
	Command  string        `json:"command" yaml:"command"`
	Args     []string      `json:"args" yaml:"args"`
	ExitCode int           `json:"exit_code" yaml:"exit_code"`
	Stdout   string        `json:"stdout,omitempty" yaml:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty" yaml:"stderr,omitempty"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// String renders the invocation as a shell-like command line.
func (l Log) String() string {
	if len(l.Args) == 0 {
		return l.Command
	}
	return l.Command + " " + strings.Join(l.Args, " ")
}

// ExecRunner is the production Runner backed by os/exec.
type ExecRunner struct {
	// Dir is the working directory; empty means the current one.
	Dir string

	// Env, when non-nil, replaces the inherited environment.
	Env []string

	// Progress, when set, receives a copy of the process stderr as it is
	// written, line by line, with the secrets passed to Invoke redacted.
	// The engines report progress there.
	Progress io.Writer
}

// Run starts name in its own process group and waits for it. A non-zero exit
// is returned as an error together with the captured Result.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.Dir
	if r.Env != nil {
		cmd.Env = r.Env
	}
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		killProcessGroup(cmd.Process.Pid)
		return nil
	}
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	var progress *redactWriter
	if r.Progress != nil {
		progress = newRedactWriter(r.Progress, secretsFrom(ctx))
		cmd.Stderr = io.MultiWriter(&stderr, progress)
	}

	err := cmd.Run()
	if progress != nil {
		progress.Flush()
	}
	result := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err == nil {
		return result, nil
	}

	result.ExitCode = -1
	if errors.Is(err, exec.ErrNotFound) {
		return result, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, fmt.Errorf("running %s: %w", name, ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, fmt.Errorf("%s exited with code %d: %w", name, result.ExitCode, err)
	}
	return result, fmt.Errorf("running %s: %w", name, err)
}

// Invoke runs name through r and returns the redacted log of the call. The
// error is the runner's error, unchanged.
func Invoke(ctx context.Context, r Runner, name string, args []string, secrets ...string) (Log, error) {
	start := time.Now()
	res, err := r.Run(withSecrets(ctx, secrets), name, args...)
	log := Log{
		Command:  name,
		Args:     Redact(args, secrets...),
		ExitCode: res.ExitCode,
		Stdout:   redactText(res.Stdout, secrets),
		Stderr:   redactText(res.Stderr, secrets),
		Duration: time.Since(start),
	}
	if err != nil {
		if msg := redactText(err.Error(), secrets); msg != err.Error() {
			err = &redactedError{msg: msg, err: err}
		}
	}
	return log, err
}

// redactedError hides secrets from the message while keeping the chain
// intact for errors.Is and errors.As.
type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

type secretsKey struct{}

func withSecrets(ctx context.Context, secrets []string) context.Context {
	if len(secrets) == 0 {
		return ctx
	}
	return context.WithValue(ctx, secretsKey{}, secrets)
}

func secretsFrom(ctx context.Context) []string {
	s, _ := ctx.Value(secretsKey{}).([]string)
	return s
}

// redactWriter holds output back until a line ends so a secret split across
// writes is still replaced.
type redactWriter struct {
	w       io.Writer
	secrets []string
	buf     []byte
}

func newRedactWriter(w io.Writer, secrets []string) *redactWriter {
	rw := &redactWriter{w: w}
	for _, s := range secrets {
		if s != "" {
			rw.secrets = append(rw.secrets, s)
		}
	}
	return rw
}

func (rw *redactWriter) Write(p []byte) (int, error) {
	if len(rw.secrets) == 0 {
		return rw.w.Write(p)
	}
	rw.buf = append(rw.buf, p...)
	cut := bytes.LastIndexAny(rw.buf, "\r\n") + 1
	if cut == 0 && len(rw.buf) > maxPending {
		cut = len(rw.buf)
	}
	if cut == 0 {
		return len(p), nil
	}
	out := redactText(string(rw.buf[:cut]), rw.secrets)
	rw.buf = append(rw.buf[:0], rw.buf[cut:]...)
	if _, err := io.WriteString(rw.w, out); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Flush writes whatever is left of an unterminated last line.
func (rw *redactWriter) Flush() error {
	if len(rw.buf) == 0 {
		return nil
	}
	out := redactText(string(rw.buf), rw.secrets)
	rw.buf = rw.buf[:0]
	_, err := io.WriteString(rw.w, out)
	return err
}

// Redact returns a copy of args with every secret value replaced. Secrets
// embedded in "--flag=value" arguments are replaced too. Empty secrets are
// ignored.
func Redact(args []string, secrets ...string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = redactText(a, secrets)
	}
	return out
}

func redactText(s string, secrets []string) string {
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		s = strings.ReplaceAll(s, secret, redacted)
	}
	return s
}

// Tail returns the last n non-empty lines of s, for error messages.
func Tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	kept := make([]string, 0, n)
	for i := len(lines) - 1; i >= 0 && len(kept) < n; i-- {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		kept = append(kept, lines[i])
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return strings.Join(kept, "\n")
}

// LookPath reports where the named binary lives on PATH.
// Tests replace it to avoid depending on installed tools.
var LookPath = exec.LookPath
