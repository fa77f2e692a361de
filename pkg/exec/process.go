// Package exec spawns and supervises external agent processes. Children run
// as leaders of their own process group so that teardown reaches any build
// tools or test runners the agent itself spawns.
package exec

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	osexec "os/exec"
	"syscall"
	"time"

	"devloop/pkg/logx"
)

// Status is the final outcome of a supervised process.
type Status struct {
	ExitCode int
	// Signaled is true when the process died from a signal rather than
	// exiting; ExitCode is then meaningless.
	Signaled bool
	Signal   syscall.Signal
}

// Opts configures a spawn.
type Opts struct {
	// Dir is the working directory. Optional.
	Dir string

	// Env contains environment overrides as "KEY=VALUE" strings, merged
	// with the parent environment. Optional.
	Env []string

	// Stdin is wired to the child's stdin when set.
	Stdin io.Reader

	// OnStdout and OnStderr receive output lines as they arrive. Both are
	// required; the relay goroutines run until the pipes close.
	OnStdout func(line string)
	OnStderr func(line string)
}

// Process is one spawned child and its process group.
type Process struct {
	cmd    *osexec.Cmd
	logger *logx.Logger
	pgid   int

	stdin io.WriteCloser
	done  chan struct{}
	// waitErr is valid after done is closed.
	waitErr error
}

// Spawner starts supervised processes. The loop uses the interface so tests
// can substitute a mock.
type Spawner interface {
	Spawn(ctx context.Context, argv []string, opts Opts) (*Process, error)
}

// Local spawns processes on the host.
type Local struct {
	logger *logx.Logger
}

// NewLocal creates a host spawner.
func NewLocal() *Local {
	return &Local{logger: logx.NewLogger("exec")}
}

// Spawn starts argv as the leader of a new process group, relaying stdout
// and stderr line by line until the child exits. The context gates only the
// start; once running, teardown goes through Stop so the child gets SIGTERM
// and a grace window before SIGKILL. Binding the command to the context would
// SIGKILL it the instant the context cancels, skipping the graceful step.
func (l *Local) Spawn(ctx context.Context, argv []string, opts Opts) (*Process, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("command cannot be empty")
	}
	if opts.OnStdout == nil || opts.OnStderr == nil {
		return nil, fmt.Errorf("stdout and stderr handlers are required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := osexec.Command(argv[0], argv[1:]...)
	cmd.Dir = opts.Dir
	// Setting Env to any value replaces the whole environment, which would
	// drop PATH; only set it when there are overrides.
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdin = opts.Stdin

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	var stdin io.WriteCloser
	if opts.Stdin == nil {
		stdin, err = cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
	}

	l.logger.Debug("spawning %v", argv)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", argv[0], err)
	}

	p := &Process{
		cmd:    cmd,
		logger: l.logger,
		stdin:  stdin,
		done:   make(chan struct{}),
	}

	// The child is its own group leader, so its pgid equals its pid.
	p.pgid = cmd.Process.Pid
	if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil {
		p.pgid = pgid
	}

	relayDone := make(chan struct{}, 2)
	go relay(stdout, opts.OnStdout, relayDone)
	go relay(stderr, opts.OnStderr, relayDone)

	go func() {
		// Drain both pipes before Wait closes them out.
		<-relayDone
		<-relayDone
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	return p, nil
}

// relay forwards lines from a pipe to the handler in real time.
func relay(r io.Reader, handler func(string), done chan<- struct{}) {
	defer func() { done <- struct{}{} }()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		handler(scanner.Text())
	}
}

// PID returns the child's process id.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// PGID returns the child's process group id.
func (p *Process) PGID() int {
	return p.pgid
}

// Stdin returns the pipe to the child's stdin, nil when the caller supplied
// its own reader at spawn time.
func (p *Process) Stdin() io.WriteCloser {
	return p.stdin
}

// Done is closed when the child has been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the child exits and returns its final status.
func (p *Process) Wait(ctx context.Context) (Status, error) {
	select {
	case <-ctx.Done():
		return Status{}, ctx.Err()
	case <-p.done:
	}
	return p.status()
}

func (p *Process) status() (Status, error) {
	if p.waitErr == nil {
		return Status{ExitCode: 0}, nil
	}

	var exitErr *osexec.ExitError
	if errors.As(p.waitErr, &exitErr) {
		ws, ok := exitErr.Sys().(syscall.WaitStatus)
		if ok && ws.Signaled() {
			return Status{Signaled: true, Signal: ws.Signal()}, nil
		}
		return Status{ExitCode: exitErr.ExitCode()}, nil
	}
	return Status{ExitCode: -1}, p.waitErr
}

// Stop tears the process group down: SIGTERM to the group, poll for exit up
// to the grace window, then SIGKILL the group and block until reaped. The
// group signal matters because the agent may have spawned its own children.
func (p *Process) Stop(grace time.Duration) (Status, error) {
	select {
	case <-p.done:
		return p.status()
	default:
	}

	if err := syscall.Kill(-p.pgid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		p.logger.Warn("SIGTERM to process group %d: %v", p.pgid, err)
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		select {
		case <-p.done:
			return p.status()
		case <-time.After(100 * time.Millisecond):
		}
	}

	p.logger.Warn("process group %d still alive after %s, sending SIGKILL", p.pgid, grace)
	if err := syscall.Kill(-p.pgid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		p.logger.Warn("SIGKILL to process group %d: %v", p.pgid, err)
	}

	<-p.done
	return p.status()
}

// Signal delivers a signal to the whole process group.
func (p *Process) Signal(sig syscall.Signal) error {
	return syscall.Kill(-p.pgid, sig)
}
