// Package logtail reads the worker's append-only log file.
package logtail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// DefaultLines is how many trailing lines Read returns.
const DefaultLines = 200

// Tail reads the log at Path.
type Tail struct {
	Path  string
	Lines int
}

func New(path string) *Tail { return &Tail{Path: path, Lines: DefaultLines} }

// Read returns the last Lines lines joined by "\n". A missing file reads as
// the empty string.
func (t *Tail) Read() (string, error) {
	lines, err := t.readLines()
	if err != nil {
		return "", err
	}
	n := t.Lines
	if n <= 0 {
		n = DefaultLines
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n"), nil
}

// LastLine returns the final line of the log, or "" when there is none.
func (t *Tail) LastLine() string {
	lines, err := t.readLines()
	if err != nil || len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}

// Clear truncates the log if it exists.
func (t *Tail) Clear() error {
	if _, err := os.Stat(t.Path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return os.WriteFile(t.Path, nil, 0o644)
}

func (t *Tail) readLines() ([]string, error) {
	b, err := os.ReadFile(t.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return splitLines(string(b)), nil
}

// splitLines splits on "\n", drops one trailing newline and strips "\r".
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.TrimSuffix(s, "\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// Follow calls fn for every complete line appended to the log after Follow
// starts, until ctx is cancelled. Truncation or re-creation of the file
// restarts reading from its beginning.
func (t *Tail) Follow(ctx context.Context, fn func(line string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	dir := filepath.Dir(t.Path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	f := &follower{path: t.Path, fn: fn}
	if fi, err := os.Stat(t.Path); err == nil {
		f.offset = fi.Size()
	}
	want := filepath.Clean(t.Path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != want {
				continue
			}
			switch {
			case ev.Has(fsnotify.Create), ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				f.reset()
				if ev.Has(fsnotify.Create) {
					f.drain()
				}
			case ev.Has(fsnotify.Write):
				f.drain()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}

type follower struct {
	path    string
	fn      func(string)
	offset  int64
	partial string
}

func (f *follower) reset() {
	f.offset = 0
	f.partial = ""
}

func (f *follower) drain() {
	file, err := os.Open(f.path)
	if err != nil {
		return
	}
	defer func() { _ = file.Close() }()

	fi, err := file.Stat()
	if err != nil {
		return
	}
	if fi.Size() < f.offset {
		f.reset()
	}
	if _, err := file.Seek(f.offset, io.SeekStart); err != nil {
		return
	}
	b, err := io.ReadAll(file)
	if err != nil || len(b) == 0 {
		return
	}
	f.offset += int64(len(b))

	data := f.partial + string(b)
	for {
		i := strings.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		f.fn(strings.TrimSuffix(data[:i], "\r"))
		data = data[i+1:]
	}
	f.partial = data
}
