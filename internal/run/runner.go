// Package run owns the lifecycle of the spawned command.
package run

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"watchrun/internal/log"
)

const clearSequence = "\033[2J\033[H"

// Runner executes the command once per trigger. In restart mode it
// tracks the spawned child and terminates it before spawning again, so
// two instances are never alive at once; without restart mode children
// are not tracked and may overlap freely.
//
// All methods must be called from the single main-loop goroutine; the
// tracked child is deliberately unlocked.
type Runner struct {
	restart bool
	clear   bool
	shell   string
	stdout  io.Writer

	// Child currently tracked as running; only maintained in restart mode
	child *exec.Cmd
}

// New creates a runner with the given restart and clear-screen policies.
func New(restart, clear bool) *Runner {
	return &Runner{
		restart: restart,
		clear:   clear,
		shell:   "/bin/sh",
		stdout:  os.Stdout,
	}
}

// Run executes the command through the shell. In restart mode a previous
// child still tracked is terminated first and the call blocks until it
// has exited. A failed spawn is reported and returned but leaves the
// runner ready for the next trigger; the watch loop must keep going.
func (r *Runner) Run(command string) error {
	if r.restart && r.child != nil {
		if err := r.terminate(); err != nil {
			// Leave the child tracked and skip this spawn rather than
			// risk two live instances; the next trigger retries
			log.LogWithFields(log.F("error", err)).Error("Could not stop previous command, skipping run")
			return err
		}
	}

	if r.clear {
		fmt.Fprint(r.stdout, clearSequence)
	}

	log.LogWithFields(log.F("command", command)).Debug("Running command")

	cmd := exec.Command(r.shell, "-c", command)
	cmd.Stdin = os.Stdin
	cmd.Stdout = r.stdout
	cmd.Stderr = os.Stderr
	// Own process group, so termination reaches the whole shell pipeline
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		log.LogWithFields(log.F("command", command), log.F("error", err)).Error("Failed to run command")
		return fmt.Errorf("running %q: %w", command, err)
	}

	if r.restart {
		r.child = cmd
	} else {
		// Reap in the background; overlapping executions are expected
		go func() { _ = cmd.Wait() }()
	}

	return nil
}

// Running reports whether a child is currently tracked. Only meaningful
// in restart mode.
func (r *Runner) Running() bool {
	return r.child != nil
}

// terminate signals the tracked child's process group and blocks until
// the child has been reaped. A child that already exited on its own
// counts as terminated.
func (r *Runner) terminate() error {
	pid := r.child.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && err != syscall.ESRCH {
		return fmt.Errorf("terminating pid %d: %w", pid, err)
	}

	if err := r.child.Wait(); err != nil {
		// Exiting on a signal or with a non-zero status is the expected
		// outcome here; anything else means the child state is unknown
		if _, ok := err.(*exec.ExitError); !ok {
			return fmt.Errorf("waiting for pid %d: %w", pid, err)
		}
	}

	r.child = nil
	return nil
}
