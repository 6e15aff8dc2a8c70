//go:build !windows

package process

import (
	"syscall"
	"testing"
)

func TestBuildCommand_SetsProcessGroup(t *testing.T) {
	cmd := Spec{Command: "sleep", Args: []string{"1"}}.BuildCommand()
	if cmd.SysProcAttr == nil || !cmd.SysProcAttr.Setpgid {
		t.Fatalf("SysProcAttr Setpgid not set")
	}
	if cmd.Stdout != nil || cmd.Stderr != nil {
		t.Fatalf("output streams must be discarded")
	}
}

func TestStart_IsGroupLeader(t *testing.T) {
	p, err := Start(Spec{Command: "sleep", Args: []string{"5"}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = p.Kill(); _ = p.Wait() }()
	pgid, err := syscall.Getpgid(p.Pid())
	if err != nil {
		t.Fatalf("getpgid: %v", err)
	}
	if pgid != p.Pid() {
		t.Fatalf("pgid %d != pid %d", pgid, p.Pid())
	}
}
