package process

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Handle is the supervisor's view of a running child process.
type Handle interface {
	Pid() int
	// Kill sends an immediate terminate signal to the child itself.
	Kill() error
	// Exited reports, without blocking, whether the child has terminated.
	Exited() bool
	// Wait blocks until the child has terminated and returns its exit error.
	Wait() error
}

// Spawner launches a worker described by a Spec.
type Spawner interface {
	Spawn(spec Spec) (Handle, error)
}

// Exec spawns real OS processes through os/exec.
type Exec struct{}

func (Exec) Spawn(spec Spec) (Handle, error) {
	p, err := Start(spec)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Process wraps a started *exec.Cmd. A single goroutine owns cmd.Wait and
// closes waitDone when the OS reports the exit; callers only observe it.
type Process struct {
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time

	mu       sync.Mutex
	exitErr  error
	waitDone chan struct{}
}

// Start launches spec and begins waiting on it in the background.
func Start(spec Spec) (*Process, error) {
	cmd := spec.BuildCommand()
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &Process{
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		waitDone:  make(chan struct{}),
	}
	go p.wait()
	return p, nil
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.exitErr = err
	p.mu.Unlock()
	close(p.waitDone)
}

func (p *Process) Pid() int { return p.pid }

func (p *Process) StartedAt() time.Time { return p.startedAt }

func (p *Process) Kill() error {
	if p.Exited() {
		return nil
	}
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func (p *Process) Exited() bool {
	select {
	case <-p.waitDone:
		return true
	default:
		return false
	}
}

func (p *Process) Wait() error {
	<-p.waitDone
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// Done is closed once the child has been reaped.
func (p *Process) Done() <-chan struct{} { return p.waitDone }
