//go:build !windows

package discordipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
)

// socketDirs lists where Discord places discord-ipc-N, in lookup order.
func socketDirs() []string {
	var bases []string
	for _, env := range []string{"XDG_RUNTIME_DIR", "TMPDIR", "TMP", "TEMP"} {
		if v := os.Getenv(env); v != "" {
			bases = append(bases, v)
		}
	}
	bases = append(bases, "/tmp")

	var dirs []string
	for _, b := range bases {
		dirs = append(dirs, b,
			filepath.Join(b, "app", "com.discordapp.Discord"),
			filepath.Join(b, "snap.discord"))
	}
	return dirs
}

func dialIPC(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	for _, dir := range socketDirs() {
		for i := 0; i < 10; i++ {
			path := filepath.Join(dir, fmt.Sprintf("discord-ipc-%d", i))
			if _, err := os.Stat(path); err != nil {
				continue
			}
			conn, err := d.DialContext(ctx, "unix", path)
			if err == nil {
				return conn, nil
			}
		}
	}
	return nil, errors.New("discord ipc socket not found")
}
