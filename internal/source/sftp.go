package source

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"cu-log-sync/config"
)

// sftpBackend addresses files by absolute path, so it never leaves the root.
type sftpBackend struct {
	cfg    config.SourceConfig
	ssh    *ssh.Client
	client *sftp.Client
}

func newSFTPBackend(cfg config.SourceConfig) *sftpBackend {
	return &sftpBackend{cfg: cfg}
}

func (b *sftpBackend) clientConfig() (*ssh.ClientConfig, error) {
	sshConfig := &ssh.ClientConfig{
		User:            b.cfg.Username,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         b.cfg.Timeout,
	}
	if b.cfg.KnownHosts != "" {
		callback, err := knownhosts.New(b.cfg.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to load known hosts: %w", err)
		}
		sshConfig.HostKeyCallback = callback
	}

	switch {
	case b.cfg.KeyFile != "":
		key, err := os.ReadFile(b.cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to parse private key: %w", err)
		}
		sshConfig.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	case b.cfg.Password != "":
		sshConfig.Auth = []ssh.AuthMethod{ssh.Password(b.cfg.Password)}
	default:
		return nil, fmt.Errorf("sftp: no authentication method provided")
	}
	return sshConfig, nil
}

func (b *sftpBackend) connect(ctx context.Context) error {
	if b.client != nil {
		return nil
	}
	sshConfig, err := b.clientConfig()
	if err != nil {
		return err
	}

	type connResult struct {
		ssh    *ssh.Client
		client *sftp.Client
		err    error
	}
	resultChan := make(chan connResult, 1)

	go func() {
		addr := net.JoinHostPort(b.cfg.Host, strconv.Itoa(b.cfg.Port))
		sshConn, err := ssh.Dial("tcp", addr, sshConfig)
		if err != nil {
			resultChan <- connResult{err: fmt.Errorf("sftp: failed to connect to %s: %w", addr, err)}
			return
		}
		client, err := sftp.NewClient(sshConn)
		if err != nil {
			sshConn.Close()
			resultChan <- connResult{err: fmt.Errorf("sftp: failed to create client: %w", err)}
			return
		}
		resultChan <- connResult{ssh: sshConn, client: client}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if res := <-resultChan; res.err == nil {
				res.client.Close()
				res.ssh.Close()
			}
		}()
		return ctx.Err()
	case res := <-resultChan:
		if res.err != nil {
			return res.err
		}
		b.ssh, b.client = res.ssh, res.client
		return nil
	}
}

func (b *sftpBackend) path(parts ...string) string {
	root := b.cfg.Root
	if root == "" {
		root = "/"
	}
	return path.Join(append([]string{root}, parts...)...)
}

func (b *sftpBackend) names(dir string) ([]string, error) {
	if b.client == nil {
		return nil, errNotConnected
	}
	infos, err := b.client.ReadDir(b.path(dir))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		names = append(names, fi.Name())
	}
	return names, nil
}

func (b *sftpBackend) files(dir string) ([]string, error) {
	if b.client == nil {
		return nil, errNotConnected
	}
	infos, err := b.client.ReadDir(b.path(dir))
	if err != nil {
		return nil, err
	}
	var names []string
	for _, fi := range infos {
		if fi.Mode().IsRegular() {
			names = append(names, fi.Name())
		}
	}
	return names, nil
}

func (b *sftpBackend) read(dir, name string) ([]byte, error) {
	if b.client == nil {
		return nil, errNotConnected
	}
	f, err := b.client.Open(b.path(dir, name))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (b *sftpBackend) remove(dir, name string) error {
	if b.client == nil {
		return errNotConnected
	}
	return b.client.Remove(b.path(dir, name))
}

func (b *sftpBackend) close() error {
	if b.client == nil {
		return nil
	}
	err := b.client.Close()
	if b.ssh != nil {
		if cerr := b.ssh.Close(); err == nil {
			err = cerr
		}
	}
	b.client, b.ssh = nil, nil
	return err
}
