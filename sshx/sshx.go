// SPDX-License-Identifier: GPL-2.0-only

// Package sshx is the SSH transport for talking to remote device hosts.
// It wraps golang.org/x/crypto/ssh with password auth, per-command
// sessions, remote OS detection and client-side rate limiting.
package sshx

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/efficientgo/core/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/bwiersma/usbip-bridge/dialect"
	"github.com/bwiersma/usbip-bridge/executor"
)

// ErrSessionError marks SSH transport failures. The wrapped detail never
// reaches user-facing output; callers surface a fixed redacted message.
var ErrSessionError = errors.New("SSH session error")

const (
	dialTimeout = 10 * time.Second
	sshPort     = "22"
)

// Session is an authenticated connection to one remote host. Each Exec
// opens a fresh ssh session on the shared client connection. The mutex
// covers client and profile; Close and a concurrent scan tick may touch
// the same session.
type Session struct {
	Host string

	mu      sync.Mutex
	client  *ssh.Client
	profile *dialect.RemoteHostProfile
}

// Connect dials host with password auth. When trustNewHost is set the
// host key is accepted blind; otherwise it must match ~/.ssh/known_hosts.
func Connect(ctx context.Context, host, user, secret string, trustNewHost bool) (*Session, error) {
	if !dialect.ValidHost(host) || !dialect.ValidUsername(user) {
		return nil, errors.Wrapf(dialect.ErrInvalidIdentity, "host %q user %q", host, user)
	}
	hostKeys, err := hostKeyCallback(trustNewHost)
	if err != nil {
		return nil, err
	}
	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.Password(secret)},
		HostKeyCallback: hostKeys,
		Timeout:         dialTimeout,
	}

	addr := net.JoinHostPort(host, sshPort)
	conn, err := (&net.Dialer{Timeout: dialTimeout}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrap(ErrSessionError, "dial")
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(ErrSessionError, "handshake")
	}
	return &Session{Host: host, client: ssh.NewClient(c, chans, reqs)}, nil
}

func hostKeyCallback(trustNewHost bool) (ssh.HostKeyCallback, error) {
	if trustNewHost {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.Wrap(err, "resolving home dir for known_hosts")
	}
	cb, err := knownhosts.New(filepath.Join(home, ".ssh", "known_hosts"))
	if err != nil {
		return nil, errors.Wrap(err, "loading known_hosts")
	}
	return cb, nil
}

// Exec runs one command line remotely. stdin, when non-empty, is fed to
// the command; it is how elevated commands receive their password without
// the secret ever entering the command line.
func (s *Session) Exec(ctx context.Context, line, stdin string) (executor.Result, error) {
	if s == nil {
		return executor.Result{}, executor.ErrNoSession
	}
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return executor.Result{}, executor.ErrNoSession
	}
	sess, err := client.NewSession()
	if err != nil {
		return executor.Result{}, errors.Wrap(ErrSessionError, "opening session")
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr
	if stdin != "" {
		sess.Stdin = bytes.NewBufferString(stdin)
	}

	done := make(chan error, 1)
	go func() { done <- sess.Run(line) }()

	select {
	case <-ctx.Done():
		_ = sess.Close()
		<-done
		return executor.Result{Stdout: stdout.String(), Stderr: stderr.String()},
			errors.Wrap(executor.ErrCommandTimeout, "remote command")
	case err = <-done:
	}

	res := executor.Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		return res, errors.Wrap(ErrSessionError, "running command")
	}
	return res, nil
}

// Profile returns the remote host profile, detecting it on first use.
func (s *Session) Profile(ctx context.Context) (dialect.RemoteHostProfile, error) {
	s.mu.Lock()
	cached := s.profile
	s.mu.Unlock()
	if cached != nil {
		return *cached, nil
	}
	p, err := DetectProfile(ctx, s)
	if err != nil {
		return dialect.RemoteHostProfile{}, err
	}
	s.mu.Lock()
	s.profile = &p
	s.mu.Unlock()
	return p, nil
}

// alive reports whether the session still holds an open client.
func (s *Session) alive() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil
}

// Close tears down the connection. Close errors are swallowed; there is
// nothing a caller can do about a connection that is already going away.
func (s *Session) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()
	if client != nil {
		_ = client.Close()
	}
}
