// Package supervisor runs engine subprocesses under a hard deadline. Each
// run announces its process id through a side file so an out-of-band caller
// (the cancellation path) can kill the whole process tree without talking to
// the worker that spawned it.
package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// maxOutputBytes caps captured stdout and stderr independently.
	maxOutputBytes = 64 * 1024

	// timedOutExitCode is the synthetic exit code reported when the
	// supervisor had to kill the process tree.
	timedOutExitCode = -9
)

// Command describes one supervised run.
type Command struct {
	// Handle names the pid side file, <RunDir>/<Handle>.pid. Usually the
	// job id.
	Handle string
	Path   string
	Args   []string
	Env    []string
	Dir    string

	// Timeout is the hard limit. Zero means no limit beyond ctx.
	Timeout time.Duration
}

// Result is what the process left behind.
type Result struct {
	ExitCode int
	TimedOut bool
	Stdout   string
	Stderr   string
	Elapsed  time.Duration
}

type Supervisor struct {
	runDir string
}

func New(runDir string) *Supervisor {
	return &Supervisor{runDir: runDir}
}

// Run executes the command and blocks until it exits or the deadline fires.
// On timeout the entire process group is killed and the result carries the
// synthetic exit code with TimedOut set. A timeout is not an error.
func (s *Supervisor) Run(ctx context.Context, command Command) (*Result, error) {
	if command.Handle == "" {
		return nil, errors.New("supervisor: command handle is empty")
	}
	if err := os.MkdirAll(s.runDir, 0o755); err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}

	cmd := exec.Command(command.Path, command.Args...)
	cmd.Env = command.Env
	cmd.Dir = command.Dir
	setProcAttributes(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}

	pidPath := s.pidPath(command.Handle)
	if err := writePIDFile(pidPath, cmd.Process.Pid); err != nil {
		// the run is already in flight, kill it rather than orphan it
		_ = killTree(cmd.Process.Pid)
		_ = cmd.Wait()
		return nil, fmt.Errorf("write pid file: %w", err)
	}
	defer func() {
		if err := os.Remove(pidPath); err != nil && !os.IsNotExist(err) {
			zap.S().Named("supervisor").Warnf("failed to remove pid file %s: %v", pidPath, err)
		}
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var deadline <-chan time.Time
	if command.Timeout > 0 {
		timer := time.NewTimer(command.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-deadline:
		zap.S().Named("supervisor").Warnf("run %s exceeded %s, killing process tree", command.Handle, command.Timeout)
		if err := killTree(cmd.Process.Pid); err != nil {
			zap.S().Named("supervisor").Errorf("failed to kill process tree for %s: %v", command.Handle, err)
		}
		<-waitErr
		return &Result{
			ExitCode: timedOutExitCode,
			TimedOut: true,
			Stdout:   truncateOutput(stdout.String()),
			Stderr:   truncateOutput(stderr.String()),
			Elapsed:  time.Since(start),
		}, nil

	case <-ctx.Done():
		if err := killTree(cmd.Process.Pid); err != nil {
			zap.S().Named("supervisor").Errorf("failed to kill process tree for %s: %v", command.Handle, err)
		}
		<-waitErr
		return nil, ctx.Err()

	case err := <-waitErr:
		result := &Result{
			Stdout:  truncateOutput(stdout.String()),
			Stderr:  truncateOutput(stderr.String()),
			Elapsed: time.Since(start),
		}
		if err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				return nil, fmt.Errorf("wait for process: %w", err)
			}
			result.ExitCode = exitErr.ExitCode()
		}
		return result, nil
	}
}

// KillByHandle kills the process tree recorded in the side file for the
// given handle and removes the file. It is a no-op when no side file
// exists, which means the run already finished.
func (s *Supervisor) KillByHandle(handle string) error {
	pidPath := s.pidPath(handle)
	pid, err := ReadPIDFile(pidPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := killTree(pid); err != nil {
		return err
	}
	// a stale file left behind would point a later cancel at whatever
	// process recycled the pid
	if err := os.Remove(pidPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Supervisor) pidPath(handle string) string {
	return filepath.Join(s.runDir, handle+".pid")
}

func writePIDFile(path string, pid int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// ReadPIDFile parses the pid stored at path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed pid file %s: %w", path, err)
	}
	return pid, nil
}

func truncateOutput(s string) string {
	if len(s) > maxOutputBytes {
		return s[:maxOutputBytes]
	}
	return s
}
