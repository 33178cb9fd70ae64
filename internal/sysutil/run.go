// Package sysutil wraps invocation of the external mount/umount/losetup/
// setfacl utilities and the four hook programs. Every call funnels through
// here so that the real/effective UID discipline and the sanitized
// environment are applied in exactly one place.
//
// Grounded on the subprocess-plus-pipe-capture pattern of the container
// runtime's image-mount driver (stdout/stderr captured through os.Pipe and
// drained concurrently so a chatty child cannot deadlock on a full pipe),
// generalized to a single privileged/unprivileged Runner instead of a
// long-lived driver process.
package sysutil

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"go-udevil/internal/mnterr"
	"go-udevil/internal/privilege"
	"go-udevil/internal/ulog"
)

// Result captures what an external utility printed and how it exited.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes external utilities through the process's privilege gate.
type Runner struct {
	Gate *privilege.Gate
}

// New returns a Runner bound to gate.
func New(gate *privilege.Gate) *Runner {
	return &Runner{Gate: gate}
}

// Privileged runs path with args at real and effective UID/GID 0, the
// identity the mount, umount, losetup, and setfacl utilities require (some
// inspect real UID rather than effective UID). Testable property 5.
func (r *Runner) Privileged(ctx context.Context, path string, args ...string) (Result, error) {
	var res Result
	err := r.Gate.WithRealUIDElevated(func() error {
		var runErr error
		res, runErr = r.run(ctx, path, args...)
		return runErr
	})
	return res, err
}

// AsCaller runs path with args at the caller's real identity, unelevated.
// Used for validate_exec and success_exec, which must observe the caller's
// own UID rather than root's.
func (r *Runner) AsCaller(ctx context.Context, path string, args ...string) (Result, error) {
	return r.run(ctx, path, args...)
}

func (r *Runner) run(ctx context.Context, path string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Env = privilege.Environ()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	ulog.Debugf("exec %s %v", path, args)

	runErr := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if exitErr, ok := runErr.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
		return res, mnterr.New(mnterr.ExternalFailure, "%s: exit %d: %s", path, res.ExitCode, firstLine(res.Stderr))
	}
	if runErr != nil {
		return res, mnterr.Wrap(mnterr.ExternalFailure, runErr, "running %s", path)
	}
	res.ExitCode = 0
	return res, nil
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}

// Hook runs one of the four hook programs with the fixed argument shape
// `<program> <username> <message> <original-command-line>`.
func (r *Runner) Hook(ctx context.Context, elevated bool, program, username, message, commandLine string) error {
	if program == "" {
		return nil
	}
	var (
		res Result
		err error
	)
	if elevated {
		res, err = r.Privileged(ctx, program, username, message, commandLine)
	} else {
		res, err = r.AsCaller(ctx, program, username, message, commandLine)
	}
	if err != nil {
		return fmt.Errorf("hook %s: %w", program, err)
	}
	_ = res
	return nil
}
