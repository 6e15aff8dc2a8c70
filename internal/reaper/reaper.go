// Package reaper force-terminates the worker and anything it left behind.
//
// Both mechanisms are best-effort: failures are logged at debug level and
// never returned, so a hung or vanished process cannot block the caller.
package reaper

import (
	"context"
	"log/slog"
	"os"
	"time"

	gopsnet "github.com/shirou/gopsutil/v4/net"
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// DefaultControlPort is the fixed port the worker's control API listens on.
const DefaultControlPort = 47832

// Reaper terminates process trees by pid and frees the worker's control port.
type Reaper interface {
	// TerminateTree force-kills pid and every descendant it spawned.
	TerminateTree(pid int)
	// TerminateGroup force-kills the members of process group pgid whose
	// leader has already been reaped. It never signals pgid as a single pid
	// and never walks descendants, since that pid may belong to another
	// process by now.
	TerminateGroup(pgid int)
	// SweepPort force-kills whatever process is listening on port.
	SweepPort(port int)
}

// OS is the platform implementation of Reaper.
type OS struct {
	logger *slog.Logger
	// listeners is replaceable in tests.
	listeners func(ctx context.Context, port int) ([]int, error)
	timeout   time.Duration
}

func New(logger *slog.Logger) *OS {
	if logger == nil {
		logger = slog.Default()
	}
	return &OS{logger: logger, listeners: listeningPIDs, timeout: 5 * time.Second}
}

func (r *OS) TerminateTree(pid int) {
	if pid <= 0 {
		return
	}
	if err := terminateTree(pid); err != nil {
		r.logger.Debug("tree kill failed", "pid", pid, "error", err)
		return
	}
	r.logger.Debug("tree kill sent", "pid", pid)
}

func (r *OS) TerminateGroup(pgid int) {
	if pgid <= 0 {
		return
	}
	if err := terminateGroup(pgid); err != nil {
		r.logger.Debug("group kill failed", "pgid", pgid, "error", err)
		return
	}
	r.logger.Debug("group kill sent", "pgid", pgid)
}

func (r *OS) SweepPort(port int) {
	if port <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	pids, err := r.listeners(ctx, port)
	if err != nil {
		r.logger.Debug("port sweep lookup failed", "port", port, "error", err)
		return
	}
	self := os.Getpid()
	for _, pid := range pids {
		if pid == self {
			continue
		}
		r.logger.Info("terminating process bound to control port", "port", port, "pid", pid)
		r.TerminateTree(pid)
	}
}

// listeningPIDs returns the owners of TCP sockets listening on port.
func listeningPIDs(ctx context.Context, port int) ([]int, error) {
	conns, err := gopsnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return nil, err
	}
	seen := make(map[int]bool)
	var out []int
	for _, c := range conns {
		if c.Status != "LISTEN" || int(c.Laddr.Port) != port || c.Pid <= 0 {
			continue
		}
		pid := int(c.Pid)
		if seen[pid] {
			continue
		}
		seen[pid] = true
		out = append(out, pid)
	}
	return out, nil
}

// descendants walks the child tree of pid, deepest first.
func descendants(pid int) []int {
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return nil
	}
	children, err := p.Children()
	if err != nil {
		return nil
	}
	var out []int
	for _, c := range children {
		out = append(out, descendants(int(c.Pid))...)
		out = append(out, int(c.Pid))
	}
	return out
}
