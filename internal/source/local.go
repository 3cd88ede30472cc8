package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// localBackend reads a mounted directory, e.g. a share the machines upload into over SFTP.
type localBackend struct {
	root string
}

func newLocalBackend(root string) *localBackend {
	return &localBackend{root: root}
}

func (b *localBackend) connect(context.Context) error {
	info, err := os.Stat(b.root)
	if err != nil {
		return fmt.Errorf("local: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("local: %s is not a directory", b.root)
	}
	return nil
}

func (b *localBackend) names(dir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(b.root, dir))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

func (b *localBackend) files(dir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(b.root, dir))
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (b *localBackend) read(dir, name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(b.root, dir, name))
}

func (b *localBackend) remove(dir, name string) error {
	return os.Remove(filepath.Join(b.root, dir, name))
}

func (b *localBackend) close() error { return nil }
