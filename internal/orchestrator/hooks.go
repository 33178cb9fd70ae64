package orchestrator

import (
	"context"
	"fmt"

	"go-udevil/internal/mnterr"
	"go-udevil/internal/policy"
	"go-udevil/internal/sysutil"
	"go-udevil/internal/ulog"
)

// Execer is the subset of *sysutil.Runner the orchestrator depends on,
// narrowed to an interface so tests can substitute a fake that never
// actually forks a process.
type Execer interface {
	Privileged(ctx context.Context, path string, args ...string) (sysutil.Result, error)
	AsCaller(ctx context.Context, path string, args ...string) (sysutil.Result, error)
	Hook(ctx context.Context, elevated bool, program, username, message, commandLine string) error
}

// runValidateHooks implements §4.5 "RunValidateHooks": validate_rootexec
// runs first, elevated, then validate_exec, unelevated; either's non-zero
// exit aborts the request before the mount syscall runs (§6 "must exit 0").
func (o *Orchestrator) runValidateHooks(ctx context.Context, message string) error {
	rootHook := o.Policy.Scalar(policy.KeyValidateRootExec)
	if rootHook != "" {
		if err := o.Exec.Hook(ctx, true, rootHook, o.Username, message, o.CommandLine); err != nil {
			return mnterr.Wrap(mnterr.ExternalFailure, err, "validate_rootexec rejected the request")
		}
	}
	userHook := o.Policy.Scalar(policy.KeyValidateExec)
	if userHook != "" {
		if err := o.Exec.Hook(ctx, false, userHook, o.Username, message, o.CommandLine); err != nil {
			return mnterr.Wrap(mnterr.ExternalFailure, err, "validate_exec rejected the request")
		}
	}
	return nil
}

// runSuccessHooks implements §4.5 "RunSuccessHooks": failures are logged,
// never rolled back, because the mount or unmount has already happened
// (§6 "exit status logged but not acted upon").
func (o *Orchestrator) runSuccessHooks(ctx context.Context, message string) {
	rootHook := o.Policy.Scalar(policy.KeySuccessRootExec)
	if rootHook != "" {
		if err := o.Exec.Hook(ctx, true, rootHook, o.Username, message, o.CommandLine); err != nil {
			ulog.Warningf("success_rootexec: %v", err)
		}
	}
	userHook := o.Policy.Scalar(policy.KeySuccessExec)
	if userHook != "" {
		if err := o.Exec.Hook(ctx, false, userHook, o.Username, message, o.CommandLine); err != nil {
			ulog.Warningf("success_exec: %v", err)
		}
	}
}

func mountMessage(source, mountPoint string) string {
	return fmt.Sprintf("mount %s at %s", source, mountPoint)
}

func unmountMessage(source string) string {
	return fmt.Sprintf("unmount %s", source)
}
