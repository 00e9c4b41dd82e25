package dispatch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"syscall"
	"time"
)

// Invocation describes one worker process launch.
//
// Env is an allowlist: the child starts from an empty environment and sees
// only the listed variables. In particular the per-shard credential reaches
// the worker exclusively through Env, never through dispatcher-ambient state.
type Invocation struct {
	Binary string
	Args   []string
	Env    map[string]string
}

// Result is the outcome of a finished worker process. A non-zero ExitCode is
// a worker failure; an infrastructure error (process could not be started) is
// reported separately by Launch.
type Result struct {
	ExitCode int
}

// Launcher starts worker invocations. The process implementation is used in
// production; tests substitute script-backed launchers.
type Launcher interface {
	Launch(ctx context.Context, inv Invocation) (Result, error)
}

// termGracePeriod is how long a worker gets between SIGTERM and SIGKILL when
// the dispatch context is cancelled.
const termGracePeriod = 5 * time.Second

// ProcessLauncher runs each invocation as an independent OS process in its
// own process group.
//
// Cancellation contract: when ctx is cancelled the whole process group first
// receives SIGTERM, and SIGKILL only after the grace period. Launch still
// waits for the process to exit before returning, so callers always observe a
// fully terminated child.
type ProcessLauncher struct {
	// Stdout/Stderr receive the child's streams. Nil means inherit the
	// dispatcher's own streams.
	Stdout *os.File
	Stderr *os.File
}

func (l *ProcessLauncher) Launch(ctx context.Context, inv Invocation) (Result, error) {
	if inv.Binary == "" {
		return Result{}, fmt.Errorf("empty worker binary")
	}

	cmd := exec.Command(inv.Binary, inv.Args...)
	cmd.Env = allowlistEnv(inv.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if l.Stdout != nil {
		cmd.Stdout = l.Stdout
	}
	if l.Stderr != nil {
		cmd.Stderr = l.Stderr
	}

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("starting worker: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		l.terminate(cmd, done)
		return Result{}, fmt.Errorf("worker terminated: %w", ctx.Err())
	case err := <-done:
		if err == nil {
			return Result{ExitCode: 0}, nil
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return Result{ExitCode: exitErr.ExitCode()}, nil
		}
		return Result{}, fmt.Errorf("waiting for worker: %w", err)
	}
}

// terminate signals the child's process group: SIGTERM, a bounded grace
// period, then SIGKILL. It returns once the process has exited.
func (l *ProcessLauncher) terminate(cmd *exec.Cmd, done chan error) {
	if cmd.Process == nil {
		return
	}
	pgid := -cmd.Process.Pid

	_ = syscall.Kill(pgid, syscall.SIGTERM)
	select {
	case <-done:
		return
	case <-time.After(termGracePeriod):
	}

	_ = syscall.Kill(pgid, syscall.SIGKILL)
	<-done
}

// allowlistEnv builds the child environment from the allowlist alone. The
// host environment is never passed through.
func allowlistEnv(env map[string]string) []string {
	if len(env) == 0 {
		return []string{}
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
