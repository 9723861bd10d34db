package command

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"
)

// Executor is the command-execution surface consumed by the pool. It is
// implemented by *Runner; tests substitute scripted fakes.
type Executor interface {
	// RunTimedCmd runs argv under the given deadline and returns the result.
	RunTimedCmd(timeout time.Duration, args ...string) *Result

	// RunTimedCmdWithInput is RunTimedCmd with input written to the child's
	// stdin (then closed) before waiting.
	RunTimedCmdWithInput(timeout time.Duration, input string, args ...string) *Result

	// RunTimedCmdSilently is RunTimedCmd without error logging on exceptions.
	RunTimedCmdSilently(timeout time.Duration, args ...string) *Result

	// RunInBackground spawns argv without waiting. The caller owns the
	// returned process and is responsible for terminating and reaping it.
	RunInBackground(args ...string) (*exec.Cmd, error)
}

// Runner launches child processes with a configured environment and working
// directory. Configuration mutations are serialized against spawns, so every
// spawn sees an atomic snapshot of the configuration.
//
// The zero Runner is not usable; construct with NewRunner.
type Runner struct {
	mu         sync.Mutex
	workingDir string
	env        map[string]string
	logger     *slog.Logger
}

// NewRunner creates a Runner inheriting the parent environment.
func NewRunner() *Runner {
	return &Runner{
		env:    make(map[string]string),
		logger: slog.Default(),
	}
}

// SetLogger replaces the runner's operational logger.
func (r *Runner) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if logger != nil {
		r.logger = logger
	}
}

// SetWorkingDir sets the working directory for subsequently spawned children.
func (r *Runner) SetWorkingDir(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workingDir = dir
}

// SetEnvVar sets an environment variable merged on top of the inherited
// environment for subsequently spawned children.
func (r *Runner) SetEnvVar(key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.env[key] = value
}

// UnsetEnvVar removes a previously set override. Inherited variables are
// not affected.
func (r *Runner) UnsetEnvVar(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.env, key)
}

// buildCmd constructs the exec.Cmd for argv under the runner lock, so the
// child sees a consistent configuration snapshot.
func (r *Runner) buildCmd(args []string) *exec.Cmd {
	r.mu.Lock()
	defer r.mu.Unlock()

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = r.workingDir
	if len(r.env) > 0 {
		env := os.Environ()
		keys := make([]string, 0, len(r.env))
		for k := range r.env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			env = append(env, fmt.Sprintf("%s=%s", k, r.env[k]))
		}
		cmd.Env = env
	}
	return cmd
}

// RunTimedCmd runs argv, waiting up to timeout. On expiry the child is
// destroyed and the result carries StatusTimedOut with whatever output was
// captured up to that point.
func (r *Runner) RunTimedCmd(timeout time.Duration, args ...string) *Result {
	p := newProcessRunnable(r, args)
	status := r.RunTimed(timeout, p, true)
	return p.result(status)
}

// RunTimedCmdWithInput runs argv with input piped to the child's stdin.
func (r *Runner) RunTimedCmdWithInput(timeout time.Duration, input string, args ...string) *Result {
	p := newProcessRunnable(r, args)
	p.input = input
	p.hasInput = true
	status := r.RunTimed(timeout, p, true)
	return p.result(status)
}

// RunTimedCmdSilently is RunTimedCmd with exception logging suppressed.
// Used for probes whose failure is an expected outcome.
func (r *Runner) RunTimedCmdSilently(timeout time.Duration, args ...string) *Result {
	p := newProcessRunnable(r, args)
	status := r.RunTimed(timeout, p, false)
	return p.result(status)
}

// RunInBackground spawns argv without waiting. Ownership of the child
// transfers to the caller.
func (r *Runner) RunInBackground(args ...string) (*exec.Cmd, error) {
	cmd := r.buildCmd(args)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// RunTimed executes the runnable in a worker goroutine and waits up to
// timeout for it to finish. On expiry the runnable's Cancel hook is invoked
// and StatusTimedOut is returned - deliberately so even when the runnable
// finished between the deadline firing and the select observing it.
func (r *Runner) RunTimed(timeout time.Duration, work Runnable, logErrors bool) Status {
	done := make(chan Status, 1)
	go func() {
		ok, err := work.Run()
		switch {
		case err != nil:
			if logErrors {
				r.log().Warn("timed operation raised", "err", err)
			}
			done <- StatusException
		case ok:
			done <- StatusSuccess
		default:
			done <- StatusFailed
		}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case status := <-done:
		return status
	case <-timer.C:
		work.Cancel()
		return StatusTimedOut
	}
}

func (r *Runner) log() *slog.Logger {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logger
}

// Compile-time interface satisfaction check.
var _ Executor = (*Runner)(nil)
