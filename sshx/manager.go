// SPDX-License-Identifier: GPL-2.0-only

package sshx

import (
	"context"
	"sync"

	"github.com/efficientgo/core/errors"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/bwiersma/usbip-bridge/dialect"
	"github.com/bwiersma/usbip-bridge/executor"
)

var (
	// ErrNoCredentials means the user never authenticated against the
	// host in this process run.
	ErrNoCredentials = errors.New("no cached credentials for host")
	// ErrRateLimited means the connection or command budget is spent.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// Manager owns at most one long-lived session per host, the in-memory
// credential cache and the client-side rate limiters.
type Manager struct {
	Creds  *CredentialCache
	Logger log.Logger

	connects *RateLimiter
	commands *RateLimiter

	// dialFn is swappable in tests; nil means Connect.
	dialFn func(ctx context.Context, host, user, secret string, trustNewHost bool) (*Session, error)

	mu       sync.Mutex
	sessions map[string]*Session
	// trust records the host-key decision made at Login so background
	// reconnects never widen it to blind acceptance.
	trust map[string]bool
}

func NewManager(logger log.Logger) *Manager {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Manager{
		Creds:    NewCredentialCache(),
		Logger:   logger,
		connects: NewConnectLimiter(),
		commands: NewCommandLimiter(),
		sessions: map[string]*Session{},
		trust:    map[string]bool{},
	}
}

// HasCredentials reports whether the user authenticated against host in
// this process run.
func (m *Manager) HasCredentials(host string) bool {
	_, ok := m.Creds.Get(host)
	return ok
}

// Login establishes a session for host and caches the credentials for
// later reconnects. An existing session for the host is replaced.
func (m *Manager) Login(ctx context.Context, host string, creds Credentials, trustNewHost bool) error {
	sess, err := m.dial(ctx, host, creds, trustNewHost)
	if err != nil {
		return err
	}
	m.Creds.Put(host, creds)

	m.mu.Lock()
	old := m.sessions[host]
	m.sessions[host] = sess
	m.trust[host] = trustNewHost
	m.mu.Unlock()
	old.Close()
	return nil
}

func (m *Manager) dial(ctx context.Context, host string, creds Credentials, trustNewHost bool) (*Session, error) {
	if !m.connects.Allow() {
		return nil, errors.Wrapf(ErrRateLimited, "connecting to %s", host)
	}
	connect := m.dialFn
	if connect == nil {
		connect = Connect
	}
	sess, err := connect(ctx, host, creds.Username, creds.Secret, trustNewHost)
	if err != nil {
		level.Warn(m.Logger).Log("msg", "SSH connection failed: authentication or network error", "host", host)
		return nil, err
	}
	level.Info(m.Logger).Log("msg", "SSH session established", "host", host, "user", creds.Username)
	return sess, nil
}

// session returns the live session for host, reconnecting with cached
// credentials when the previous one was closed or never existed.
func (m *Manager) session(ctx context.Context, host string) (*Session, error) {
	m.mu.Lock()
	sess := m.sessions[host]
	trust := m.trust[host]
	m.mu.Unlock()
	if sess.alive() {
		return sess, nil
	}

	creds, ok := m.Creds.Get(host)
	if !ok {
		return nil, errors.Wrapf(ErrNoCredentials, "host %s", host)
	}
	sess, err := m.dial(ctx, host, creds, trust)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sessions[host] = sess
	m.mu.Unlock()
	return sess, nil
}

// Runner hands out a command runner bound to the host's session, along
// with the detected host profile. Commands issued through the runner
// count against the per-minute command budget.
func (m *Manager) Runner(ctx context.Context, host string) (executor.Runner, dialect.RemoteHostProfile, error) {
	sess, err := m.session(ctx, host)
	if err != nil {
		return nil, dialect.RemoteHostProfile{}, err
	}
	profile, err := sess.Profile(ctx)
	if err != nil {
		return nil, dialect.RemoteHostProfile{}, err
	}
	creds, _ := m.Creds.Get(host)
	remote := &executor.Remote{Secret: creds.Secret, Logger: m.Logger}
	return &limitedRunner{runner: remote.Bind(sess), limiter: m.commands}, profile, nil
}

// Disconnect closes the session for host, keeping cached credentials.
func (m *Manager) Disconnect(host string) {
	m.mu.Lock()
	sess := m.sessions[host]
	delete(m.sessions, host)
	m.mu.Unlock()
	sess.Close()
}

// Close tears down every session, for application shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = map[string]*Session{}
	m.mu.Unlock()
	for _, sess := range sessions {
		sess.Close()
	}
}

type limitedRunner struct {
	runner  executor.Runner
	limiter *RateLimiter
}

func (l *limitedRunner) Run(ctx context.Context, spec dialect.CommandSpec) (executor.Result, error) {
	if !l.limiter.Allow() {
		return executor.Result{}, errors.Wrapf(ErrRateLimited, "running %s", spec.Display)
	}
	return l.runner.Run(ctx, spec)
}
