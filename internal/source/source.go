// Package source lists, downloads and deletes machine log files on the file store
// the machining centres write into.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"

	"cu-log-sync/config"
)

// Source is a remote (or local) file store organised as one directory per machine type.
type Source interface {
	Connect(ctx context.Context) error
	// ListDirectories returns the configured directories present on the store, in configuration order.
	ListDirectories(ctx context.Context) ([]config.Directory, error)
	// ListFiles returns the log file names of one directory.
	ListFiles(ctx context.Context, dir string) ([]string, error)
	Download(ctx context.Context, dir, name string) ([]byte, error)
	Delete(ctx context.Context, dir, name string) error
	Close() error
}

// backend is the transport-specific part of a Source. Every directory-scoped
// call must leave the backend at its root, whatever the outcome.
type backend interface {
	connect(ctx context.Context) error
	// names lists the entries of dir; the empty dir is the root.
	names(dir string) ([]string, error)
	files(dir string) ([]string, error)
	read(dir, name string) ([]byte, error)
	remove(dir, name string) error
	close() error
}

// client serializes every operation on its backend; FTP has a single control connection.
type client struct {
	mu          sync.Mutex
	backend     backend
	directories []config.Directory
	suffix      string
	logger      *slog.Logger
}

// New builds the Source selected by cfg.Kind. A positive OpsPerSecond throttles it.
func New(cfg config.SourceConfig, logger *slog.Logger) (Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "source", "kind", cfg.Kind)

	var b backend
	switch cfg.Kind {
	case "ftp", "":
		b = newFTPBackend(cfg)
	case "sftp":
		b = newSFTPBackend(cfg)
	case "local":
		b = newLocalBackend(cfg.Root)
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}

	var src Source = newClient(b, cfg.Directories, cfg.FileSuffix, logger)
	if cfg.OpsPerSecond > 0 {
		src = Throttle(src, cfg.OpsPerSecond)
	}
	return src, nil
}

func newClient(b backend, directories []config.Directory, suffix string, logger *slog.Logger) *client {
	return &client{
		backend:     b,
		directories: directories,
		suffix:      suffix,
		logger:      logger,
	}
}

func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.backend.connect(ctx)
}

func (c *client) ListDirectories(ctx context.Context) ([]config.Directory, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	names, err := c.backend.names("")
	if err != nil {
		return nil, fmt.Errorf("list root: %w", err)
	}
	present := make(map[string]bool, len(names))
	for _, n := range names {
		present[path.Base(n)] = true
	}

	var found []config.Directory
	for _, d := range c.directories {
		if !present[d.Name] {
			c.logger.Warn("configured directory not found on source", "directory", d.Name)
			continue
		}
		found = append(found, d)
	}
	return found, nil
}

func (c *client) ListFiles(ctx context.Context, dir string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	names, err := c.backend.files(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var logs []string
	for _, n := range names {
		n = path.Base(n)
		if strings.HasSuffix(n, c.suffix) {
			logs = append(logs, n)
		}
	}
	return logs, nil
}

func (c *client) Download(ctx context.Context, dir, name string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := c.backend.read(dir, name)
	if err != nil {
		return nil, fmt.Errorf("download %s/%s: %w", dir, name, err)
	}
	return data, nil
}

func (c *client) Delete(ctx context.Context, dir, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := c.backend.remove(dir, name); err != nil {
		return fmt.Errorf("delete %s/%s: %w", dir, name, err)
	}
	return nil
}

func (c *client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend.close()
}
