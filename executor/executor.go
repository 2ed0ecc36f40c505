// SPDX-License-Identifier: GPL-2.0-only

// Package executor runs resolved command specs on the local machine or
// through an established SSH session. It owns the elevation mechanics:
// secrets travel over stdin pipes built at run time and never appear in
// argv, command display strings or logs.
package executor

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/efficientgo/core/errors"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/bwiersma/usbip-bridge/dialect"
)

var (
	// ErrCommandTimeout marks a command killed at its deadline.
	ErrCommandTimeout = errors.New("command timed out")
	// ErrNoSession marks an attempt to run a remote command without a session.
	ErrNoSession = errors.New("no SSH session established")
)

const defaultTimeout = 15 * time.Second

// Result carries the outcome of one command invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner executes command specs. Local satisfies it directly; remote
// execution is bound to a session via Remote.Bind.
type Runner interface {
	Run(ctx context.Context, spec dialect.CommandSpec) (Result, error)
}

// Local runs specs on this machine via os/exec. Elevated specs are
// wrapped with "sudo -S -p ''" and fed Secret on stdin.
type Local struct {
	Secret  string
	Timeout time.Duration
	Logger  log.Logger
}

func (l *Local) timeout() time.Duration {
	if l.Timeout > 0 {
		return l.Timeout
	}
	return defaultTimeout
}

func (l *Local) logger() log.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return log.NewNopLogger()
}

// Run executes spec and returns its captured output. A non-zero exit is
// not an error; callers inspect Result.ExitCode. The returned error is
// reserved for the command not running at all or hitting its deadline.
func (l *Local) Run(ctx context.Context, spec dialect.CommandSpec) (Result, error) {
	if len(spec.Argv) == 0 {
		return Result{}, errors.New("empty command spec")
	}
	argv := spec.Argv
	var stdin string
	if spec.Elevate {
		argv = append([]string{"sudo", "-S", "-p", ""}, argv...)
		stdin = l.Secret + "\n"
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout())
	defer cancel()

	level.Debug(l.logger()).Log("msg", "running command", "cmd", spec.Display)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return res, errors.Wrapf(ErrCommandTimeout, "%s", spec.Display)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, errors.Wrapf(err, "running %s", spec.Display)
	}
	return res, nil
}
