// Package workdir hands out scratch directories keyed by project.
package workdir

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type Provider interface {
	// Prepare returns an empty directory for key, destroying any leftover
	// directory from an earlier attempt first.
	Prepare(key string) (string, error)
	Remove(key string) error
}

// FS keeps directories under a single root on local disk.
type FS struct {
	root string
}

func NewFS(root string) *FS {
	return &FS{root: root}
}

func (f *FS) Prepare(key string) (string, error) {
	dir, err := f.path(key)
	if err != nil {
		return "", err
	}
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("clear work dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	return dir, nil
}

func (f *FS) Remove(key string) error {
	dir, err := f.path(key)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

func (f *FS) path(key string) (string, error) {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return "", fmt.Errorf("invalid work dir key %q", key)
	}
	return filepath.Join(f.root, key), nil
}
