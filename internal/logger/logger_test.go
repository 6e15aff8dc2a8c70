package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

func TestFileWriter_Defaults(t *testing.T) {
	if w := (FileConfig{}).Writer(); w != nil {
		t.Fatalf("expected nil writer without a path")
	}
	path := filepath.Join(t.TempDir(), "host.log")
	w := FileConfig{Path: path}.Writer()
	l, ok := w.(*lj.Logger)
	if !ok {
		t.Fatalf("expected lumberjack writer, got %T", w)
	}
	if l.MaxSize != DefaultMaxSizeMB || l.MaxBackups != DefaultMaxBackups || l.MaxAge != DefaultMaxAgeDays {
		t.Fatalf("unexpected rotation defaults: %+v", l)
	}
	_ = w.Close()
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug, "INFO": slog.LevelInfo, "warn": slog.LevelWarn,
		"warning": slog.LevelWarn, "error": slog.LevelError, "": slog.LevelInfo, "bogus": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_ConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "host.log")
	log, closer := New(Config{Level: "debug", Console: &console, File: FileConfig{Path: path}})
	log.With("component", "test").Debug("hello", "pid", 42)
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if !strings.Contains(console.String(), "msg=hello") || !strings.Contains(console.String(), "component=test") {
		t.Fatalf("console output missing record: %q", console.String())
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(b), &rec); err != nil {
		t.Fatalf("file record is not JSON: %v (%q)", err, b)
	}
	if rec["msg"] != "hello" || rec["component"] != "test" || rec["pid"] != float64(42) {
		t.Fatalf("unexpected file record: %v", rec)
	}
}

func TestNew_LevelFilters(t *testing.T) {
	var console bytes.Buffer
	log, closer := New(Config{Level: "warn", Console: &console})
	defer func() { _ = closer.Close() }()
	log.Info("quiet")
	log.Warn("loud")
	out := console.String()
	if strings.Contains(out, "quiet") || !strings.Contains(out, "loud") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestColorTextHandler(t *testing.T) {
	var buf bytes.Buffer
	log, closer := New(Config{Color: true, Console: &buf})
	defer func() { _ = closer.Close() }()
	log.Error("boom")
	if !strings.Contains(buf.String(), "\033[31mERROR\033[0m") {
		t.Fatalf("expected red ERROR prefix, got %q", buf.String())
	}
}

func TestColorTextHandler_ComponentPrefix(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewColorTextHandler(&buf, nil, false)).With(ComponentKey, "supervisor", "dir", "/bot")
	log.Warn("worker exited", "pid", 42)

	out := buf.String()
	if !strings.HasPrefix(out, "\033[33mWARN\033[0m [supervisor] msg=\"worker exited\"") {
		t.Fatalf("expected colored level and component prefix, got %q", out)
	}
	if strings.Contains(out, "component=") || strings.Contains(out, "level=") {
		t.Fatalf("component and level must not be repeated as attributes: %q", out)
	}
	if !strings.Contains(out, "dir=/bot") || !strings.Contains(out, "pid=42") {
		t.Fatalf("attributes lost: %q", out)
	}
	if strings.Contains(out, "time=") {
		t.Fatalf("time must be dropped when showTime is false: %q", out)
	}
}

func TestColorTextHandler_GroupedComponentIsPlainAttr(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewColorTextHandler(&buf, nil, true)).WithGroup("req").With(ComponentKey, "api")
	log.Info("served")

	out := buf.String()
	if !strings.Contains(out, "req.component=api") || strings.Contains(out, "[api]") {
		t.Fatalf("grouped component should stay an attribute: %q", out)
	}
	if !strings.Contains(out, "time=") {
		t.Fatalf("expected time with showTime: %q", out)
	}
}

func TestNew_ColorSurvivesWith(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "host.log")
	log, closer := New(Config{Color: true, Console: &buf, File: FileConfig{Path: path}})
	log.With("component", "api").Error("boom")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "\033[31mERROR\033[0m [api] ") {
		t.Fatalf("expected red ERROR prefix with component, got %q", buf.String())
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(b), `"component":"api"`) {
		t.Fatalf("file sink should keep the component attribute: %s", b)
	}
}
