// SPDX-License-Identifier: GPL-2.0-only

package bridge

import (
	"context"
	"strings"

	"github.com/go-kit/log/level"

	"github.com/bwiersma/usbip-bridge/dialect"
	"github.com/bwiersma/usbip-bridge/executor"
)

// RestartRemoteService restarts the sharing daemon on host. Restarts can
// take a while; the caller is expected to poll RemoteServiceStatus rather
// than treat a slow restart as failed.
func (s *Service) RestartRemoteService(ctx context.Context, host string) bool {
	runner, profile, ok := s.remoteRunner(ctx, host)
	if !ok {
		return false
	}
	res, err := runner.Run(ctx, dialect.ServiceRestartCommand(profile))
	if err != nil {
		level.Info(s.logger()).Log("msg", "service restart failed", "host", host, "err", err)
		return false
	}
	s.logVerbose("service restart output", res)
	level.Info(s.logger()).Log("msg", "service restart requested", "host", host)
	return true
}

// RemoteServiceStatus reports whether the sharing daemon on host is
// running, with a short status string for display.
func (s *Service) RemoteServiceStatus(ctx context.Context, host string) (running bool, status string, err error) {
	runner, profile, err := s.Remote.Runner(ctx, host)
	if err != nil {
		return false, "", err
	}
	res, err := runner.Run(ctx, dialect.ServiceStatusCommand(profile))
	if err != nil {
		return false, "", err
	}
	s.logVerbose("service status output", res)
	return serviceRunning(profile, res), strings.TrimSpace(executor.Redact(res.Stdout, s.Secret)), nil
}

func serviceRunning(profile dialect.RemoteHostProfile, res executor.Result) bool {
	if profile.OS == dialect.OSWindows {
		return strings.Contains(res.Stdout, "RUNNING")
	}
	return res.ExitCode == 0 && strings.Contains(res.Stdout, "active")
}
