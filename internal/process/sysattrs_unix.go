//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr makes the worker a process group leader so the whole
// group, including anything the worker spawns, can be signalled at once.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
