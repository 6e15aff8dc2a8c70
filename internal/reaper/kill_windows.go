//go:build windows

package reaper

import (
	"os/exec"
	"strconv"

	"github.com/loykin/botkeeper/internal/process"
)

// terminateTree uses taskkill's native tree kill.
func terminateTree(pid int) error {
	// #nosec G204 -- pid is numeric
	cmd := exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(pid))
	process.HideConsole(cmd)
	_, err := cmd.CombinedOutput()
	return err
}

// terminateGroup is a no-op: Windows has no process groups to signal, and a
// tree kill on a released pid could reach another process.
func terminateGroup(int) error { return nil }
