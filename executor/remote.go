// SPDX-License-Identifier: GPL-2.0-only

package executor

import (
	"context"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/bwiersma/usbip-bridge/dialect"
)

// Session is the slice of an SSH session the remote runner needs: run one
// command line with optional stdin and return its captured output.
type Session interface {
	Exec(ctx context.Context, line, stdin string) (Result, error)
}

// Remote runs specs over an SSH session. Elevation prepends a stdin-fed
// sudo to the command line; the line stored in the spec and the display
// form never contain the secret.
type Remote struct {
	Secret string
	Logger log.Logger
}

func (r *Remote) logger() log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.NewNopLogger()
}

// Run executes spec on sess. A nil session is a programming error at the
// call site and fails with ErrNoSession rather than panicking.
func (r *Remote) Run(ctx context.Context, sess Session, spec dialect.CommandSpec) (Result, error) {
	if sess == nil {
		return Result{}, ErrNoSession
	}
	line := spec.Line
	var stdin string
	if spec.Elevate {
		line = "sudo -S -p '' " + line
		stdin = r.Secret + "\n"
	}
	level.Debug(r.logger()).Log("msg", "running remote command", "cmd", spec.Display)
	return sess.Exec(ctx, line, stdin)
}

// Bind fixes a session so the result satisfies Runner.
func (r *Remote) Bind(sess Session) Runner {
	return boundRemote{runner: r, sess: sess}
}

type boundRemote struct {
	runner *Remote
	sess   Session
}

func (b boundRemote) Run(ctx context.Context, spec dialect.CommandSpec) (Result, error) {
	return b.runner.Run(ctx, b.sess, spec)
}
