//go:build !windows

package process

import "syscall"

// alive reports whether pid exists (signal 0 check).
func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}
