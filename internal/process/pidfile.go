package process

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PIDFile records the worker pid together with its OS start time so a worker
// left behind by a crashed host can be found again without trusting a bare
// (possibly reused) pid.
type PIDFile struct {
	Path string
}

// Write stores pid and its current OS start time.
func (f PIDFile) Write(pid int) error {
	if f.Path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o750); err != nil {
		return err
	}
	content := strconv.Itoa(pid) + "\n" + strconv.FormatInt(startTimeUnix(pid), 10) + "\n"
	return os.WriteFile(f.Path, []byte(content), 0o600)
}

// Read returns the recorded pid and start time. A file holding only a pid
// yields a zero start time.
func (f PIDFile) Read() (int, int64, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return 0, 0, err
	}
	pidLine, rest, _ := strings.Cut(string(b), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(pidLine))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid pid file %s: %w", f.Path, err)
	}
	if pid <= 0 {
		return 0, 0, fmt.Errorf("invalid pid file %s: pid %d", f.Path, pid)
	}
	started, _ := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
	return pid, started, nil
}

// Remove deletes the file, best-effort.
func (f PIDFile) Remove() {
	if f.Path == "" {
		return
	}
	_ = os.Remove(f.Path)
}

// Orphan returns the recorded pid when that process is still alive and its
// start time still matches the recorded one.
func (f PIDFile) Orphan() (int, bool) {
	if f.Path == "" {
		return 0, false
	}
	pid, recorded, err := f.Read()
	if err != nil || recorded == 0 || !alive(pid) {
		return 0, false
	}
	actual := startTimeUnix(pid)
	if actual == 0 {
		return 0, false
	}
	diff := actual - recorded
	if diff < 0 {
		diff = -diff
	}
	// start times derived from clock ticks can differ by one second
	if diff > 1 {
		return 0, false
	}
	return pid, true
}
