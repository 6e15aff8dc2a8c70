package process

import (
	"os"
	"os/exec"
)

// Spec describes how to launch the supervised worker.
type Spec struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`  // executable, resolved through PATH
	Args    []string `json:"args"`     // arguments passed verbatim
	WorkDir string   `json:"work_dir"` // working directory of the child
	Env     []string `json:"env"`      // extra KEY=VALUE pairs appended to the host env
}

// BuildCommand constructs an *exec.Cmd for s. Output streams are left
// nil so the child writes to the null device.
func (s Spec) BuildCommand() *exec.Cmd {
	// #nosec G204 -- command comes from host settings, not from remote input
	cmd := exec.Command(s.Command, s.Args...)
	cmd.Dir = s.WorkDir
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}
	configureSysProcAttr(cmd)
	return cmd
}
