package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/loykin/botkeeper/internal/config"
)

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}

// printRaw indents a JSON document received verbatim from the worker.
func printRaw(w io.Writer, raw json.RawMessage) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		_, _ = fmt.Fprintln(w, string(raw))
		return
	}
	printJSON(w, v)
}

// apiURLFromSettings derives the daemon URL from the [server] settings. A
// wildcard listen host is reached through loopback.
func apiURLFromSettings(s *config.Settings) string {
	host, port, err := net.SplitHostPort(s.Server.Listen)
	if err != nil {
		return "http://" + s.Server.Listen + s.Server.BasePath
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	base := strings.TrimRight(s.Server.BasePath, "/")
	if base != "" && !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return "http://" + net.JoinHostPort(host, port) + base
}
