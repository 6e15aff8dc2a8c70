//go:build !windows

package process

import (
	"os"
	"runtime"
	"strconv"
	"strings"

	gopshost "github.com/shirou/gopsutil/v4/host"
	gopsproc "github.com/shirou/gopsutil/v4/process"
	sysconf "github.com/tklauser/go-sysconf"
)

// startTimeUnix returns the OS-reported start time of pid in Unix seconds,
// or 0 when it cannot be determined.
func startTimeUnix(pid int) int64 {
	if pid <= 0 {
		return 0
	}
	if runtime.GOOS == "linux" {
		return startTimeLinux(pid)
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return 0
	}
	ms, err := p.CreateTime()
	if err != nil || ms <= 0 {
		return 0
	}
	return ms / 1000
}

// startTimeLinux reads starttime (clock ticks since boot) from /proc/<pid>/stat.
func startTimeLinux(pid int) int64 {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return 0
	}
	ticks := parseStartTicks(string(b))
	if ticks <= 0 {
		return 0
	}
	boot, err := gopshost.BootTime()
	if err != nil || boot == 0 {
		return 0
	}
	clk, err := sysconf.Sysconf(sysconf.SC_CLK_TCK)
	if err != nil || clk <= 0 {
		clk = 100
	}
	return int64(boot) + ticks/clk
}

// parseStartTicks extracts field 22 of a /proc/<pid>/stat line. The comm field
// may contain spaces, so parsing starts after the last ") ".
func parseStartTicks(line string) int64 {
	end := strings.LastIndex(line, ") ")
	if end == -1 {
		return 0
	}
	fields := strings.Fields(line[end+2:])
	// fields[0] is field 3 (state); starttime is field 22
	if len(fields) < 20 {
		return 0
	}
	v, err := strconv.ParseInt(fields[19], 10, 64)
	if err != nil {
		return 0
	}
	return v
}
