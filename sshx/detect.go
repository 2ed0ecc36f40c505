// SPDX-License-Identifier: GPL-2.0-only

package sshx

import (
	"context"
	"strings"

	"github.com/efficientgo/core/errors"

	"github.com/bwiersma/usbip-bridge/dialect"
	"github.com/bwiersma/usbip-bridge/executor"
)

// DetectProfile probes the remote OS and its USB/IP tooling. Windows is
// recognized by the `ver` banner; on Windows the native usbipd service is
// preferred when it responds or its Windows service is running. Anything
// else falls back to `uname -s`.
func DetectProfile(ctx context.Context, sess executor.Session) (dialect.RemoteHostProfile, error) {
	if sess == nil {
		return dialect.RemoteHostProfile{}, executor.ErrNoSession
	}

	if res, err := sess.Exec(ctx, "ver", ""); err == nil && isWindowsBanner(res.Stdout) {
		return dialect.RemoteHostProfile{
			OS:               dialect.OSWindows,
			HasNativeService: hasUsbipd(ctx, sess),
		}, nil
	}

	res, err := sess.Exec(ctx, "uname -s", "")
	if err != nil {
		return dialect.RemoteHostProfile{}, errors.Wrap(err, "detecting remote OS")
	}
	switch strings.ToLower(strings.TrimSpace(res.Stdout)) {
	case "linux":
		return dialect.RemoteHostProfile{OS: dialect.OSLinux}, nil
	case "darwin":
		return dialect.RemoteHostProfile{OS: dialect.OSDarwin}, nil
	}
	return dialect.RemoteHostProfile{}, errors.Newf("unrecognized remote OS %q", strings.TrimSpace(res.Stdout))
}

func isWindowsBanner(out string) bool {
	return strings.Contains(out, "Windows") || strings.Contains(out, "Microsoft")
}

func hasUsbipd(ctx context.Context, sess executor.Session) bool {
	if res, err := sess.Exec(ctx, "usbipd --version", ""); err == nil && res.ExitCode == 0 &&
		strings.TrimSpace(res.Stdout) != "" {
		return true
	}
	if res, err := sess.Exec(ctx, "sc query usbipd", ""); err == nil &&
		strings.Contains(res.Stdout, "RUNNING") {
		return true
	}
	return false
}
