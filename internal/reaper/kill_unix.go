//go:build !windows

package reaper

import (
	"errors"
	"syscall"
)

// terminateTree kills the process group led by pid, then any collected
// descendant that moved to a group of its own.
func terminateTree(pid int) error {
	// collect first: once the leader dies its children are reparented
	kids := descendants(pid)

	groupErr := syscall.Kill(-pid, syscall.SIGKILL)
	if errors.Is(groupErr, syscall.ESRCH) {
		// not a group leader (e.g. a port owner we did not spawn)
		groupErr = syscall.Kill(pid, syscall.SIGKILL)
	}
	for _, k := range kids {
		_ = syscall.Kill(k, syscall.SIGKILL)
	}
	if errors.Is(groupErr, syscall.ESRCH) {
		return nil
	}
	return groupErr
}

// terminateGroup signals only the group. The kernel does not hand out a pid
// equal to a live group id, so this cannot reach an unrelated process.
func terminateGroup(pgid int) error {
	err := syscall.Kill(-pgid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
