package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/jlaffaye/ftp"

	"cu-log-sync/config"
)

// remote is the subset of an FTP control connection the backend drives.
type remote interface {
	CurrentDir() (string, error)
	ChangeDir(path string) error
	NameList(path string) ([]string, error)
	Read(name string) ([]byte, error)
	Delete(path string) error
	Quit() error
}

// serverConn adapts *ftp.ServerConn to remote.
type serverConn struct {
	*ftp.ServerConn
}

func (c serverConn) Read(name string) ([]byte, error) {
	resp, err := c.Retr(name)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(resp)
	if cerr := resp.Close(); err == nil {
		err = cerr
	}
	return data, err
}

type dialFunc func(ctx context.Context) (remote, error)

type ftpBackend struct {
	dial dialFunc
	conn remote
	// root is the working directory right after login, every operation returns to it.
	root string
}

func newFTPBackend(cfg config.SourceConfig) *ftpBackend {
	return &ftpBackend{dial: dialFTP(cfg)}
}

func dialFTP(cfg config.SourceConfig) dialFunc {
	return func(ctx context.Context) (remote, error) {
		addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
		conn, err := ftp.Dial(addr, ftp.DialWithTimeout(cfg.Timeout), ftp.DialWithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("ftp: connection to %s failed: %w", addr, err)
		}

		if cfg.Username != "" {
			if err := conn.Login(cfg.Username, cfg.Password); err != nil {
				_ = conn.Quit()
				return nil, fmt.Errorf("ftp: login as %s failed: %w", cfg.Username, err)
			}
		}

		if cfg.Root != "" && cfg.Root != "/" {
			if err := conn.ChangeDir(cfg.Root); err != nil {
				_ = conn.Quit()
				return nil, fmt.Errorf("ftp: change to root %s: %w", cfg.Root, err)
			}
		}
		return serverConn{conn}, nil
	}
}

func (b *ftpBackend) connect(ctx context.Context) error {
	if b.conn != nil {
		return nil
	}
	conn, err := b.dial(ctx)
	if err != nil {
		return err
	}

	pwd, err := conn.CurrentDir()
	if err != nil {
		_ = conn.Quit()
		return fmt.Errorf("ftp: failed to get working directory: %w", err)
	}
	b.conn, b.root = conn, pwd
	return nil
}

var errNotConnected = errors.New("source is not connected")

// inDir runs fn inside dir and always changes back to the root afterwards.
func (b *ftpBackend) inDir(dir string, fn func() error) (err error) {
	if b.conn == nil {
		return errNotConnected
	}
	defer func() {
		if rerr := b.conn.ChangeDir(b.root); rerr != nil && err == nil {
			err = fmt.Errorf("ftp: return to %s: %w", b.root, rerr)
		}
	}()

	if dir != "" {
		if err := b.conn.ChangeDir(dir); err != nil {
			return fmt.Errorf("ftp: change to %s: %w", dir, err)
		}
	}
	return fn()
}

func (b *ftpBackend) names(dir string) (names []string, err error) {
	err = b.inDir(dir, func() error {
		names, err = b.conn.NameList(".")
		return err
	})
	return names, err
}

func (b *ftpBackend) files(dir string) ([]string, error) {
	return b.names(dir)
}

func (b *ftpBackend) read(dir, name string) (data []byte, err error) {
	err = b.inDir(dir, func() error {
		data, err = b.conn.Read(name)
		return err
	})
	return data, err
}

func (b *ftpBackend) remove(dir, name string) error {
	return b.inDir(dir, func() error {
		return b.conn.Delete(name)
	})
}

func (b *ftpBackend) close() error {
	if b.conn == nil {
		return nil
	}
	err := b.conn.Quit()
	b.conn = nil
	return err
}
