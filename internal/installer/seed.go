package installer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrNoWorkerSource is returned when no bundled copy of the worker was found.
var ErrNoWorkerSource = errors.New("bot files not found, please reinstall the application")

// Seed copies the bundled worker into dir when dir has no entry point yet.
// The first source holding entry wins. node_modules and config.json are not
// copied. It returns the source used, or "" when dir was already populated.
func Seed(dir, entry string, sources []string) (string, error) {
	if _, err := os.Stat(filepath.Join(dir, entry)); err == nil {
		return "", nil
	}
	for _, src := range sources {
		if src == "" {
			continue
		}
		if _, err := os.Stat(filepath.Join(src, entry)); err != nil {
			continue
		}
		if err := copyTree(src, dir); err != nil {
			return "", fmt.Errorf("failed to copy bot files: %w", err)
		}
		return src, nil
	}
	return "", ErrNoWorkerSource
}

func copyTree(src, dst string) error {
	if err := os.MkdirAll(dst, 0o750); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		from := filepath.Join(src, e.Name())
		to := filepath.Join(dst, e.Name())
		if e.IsDir() {
			if e.Name() == "node_modules" {
				continue
			}
			if err := copyTree(from, to); err != nil {
				return err
			}
			continue
		}
		if e.Name() == "config.json" || !e.Type().IsRegular() {
			continue
		}
		if err := copyFile(from, to); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(from, to string) error {
	in, err := os.Open(from)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	fi, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(to, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
