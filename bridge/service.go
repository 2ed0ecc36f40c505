// SPDX-License-Identifier: GPL-2.0-only

package bridge

import (
	"context"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/bwiersma/usbip-bridge/dialect"
	"github.com/bwiersma/usbip-bridge/executor"
	"github.com/bwiersma/usbip-bridge/parse"
	"github.com/bwiersma/usbip-bridge/store"
)

// RemoteAccess hands out command runners bound to an authenticated SSH
// session for a host. ErrNoCredentials distinguishes "user never logged
// in this run" from transport failures.
type RemoteAccess interface {
	Runner(ctx context.Context, host string) (executor.Runner, dialect.RemoteHostProfile, error)
	HasCredentials(host string) bool
}

const (
	attachPollRetries = 5
	attachPollDelay   = 500 * time.Millisecond
)

// Service is the collaborator surface consumed by the UI layer. Every
// user-initiated mutation starts a grace period; every action reports a
// single summarized outcome, with raw command output only logged under
// the verbose setting and always redacted first.
type Service struct {
	Engine   *Engine
	Intents  *store.IntentStore
	Mappings *store.MappingStore
	Descs    *store.DescriptionStore
	Hosts    *store.HostList
	Prefs    *store.SSHPrefStore
	Local    executor.Runner
	Remote   RemoteAccess
	Grace    *GracePeriod
	Recon    *Reconnector
	Logger   log.Logger
	Metrics  *Metrics
	Secret   string

	// Sleep is swappable so tests can fast-forward the attach poll.
	Sleep func(time.Duration)
}

func (s *Service) logger() log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.NewNopLogger()
}

func (s *Service) sleep(d time.Duration) {
	if s.Sleep != nil {
		s.Sleep(d)
		return
	}
	time.Sleep(d)
}

// logVerbose emits raw command detail only when the verbose setting is on,
// and never before redaction.
func (s *Service) logVerbose(msg string, res executor.Result) {
	if !s.Intents.Settings().VerboseConsole {
		return
	}
	level.Debug(s.logger()).Log("msg", msg,
		"stdout", executor.Redact(res.Stdout, s.Secret),
		"stderr", executor.Redact(res.Stderr, s.Secret))
}

func (s *Service) startGrace() {
	if s.Grace != nil {
		s.Grace.Start(s.Intents.Settings().GraceDuration())
	}
}

// GetDeviceView returns the reconciled device list for host.
func (s *Service) GetDeviceView(ctx context.Context, host string) ([]DeviceRow, error) {
	rows, err := s.Engine.BuildDeviceView(ctx, host)
	if err != nil {
		return nil, err
	}
	s.Metrics.observeView(rows)
	return rows, nil
}

// OnTick is the auto-reconnect scan entry point for the selected host.
func (s *Service) OnTick(ctx context.Context, host string) {
	s.Recon.Tick(ctx, host)
}

// SetAutoReconnect flips the per-device auto flag. Re-enabling also
// clears any leftover attempt counter so the budget starts fresh.
func (s *Service) SetAutoReconnect(table store.TableType, host, busid string, enabled bool) error {
	key := store.DeviceKey{Table: table, Host: host, BusID: busid}
	if err := s.Intents.SetAutoReconnect(key, enabled); err != nil {
		return err
	}
	if enabled && s.Recon != nil {
		s.Recon.Reset(key)
	}
	return nil
}

// attachConfirmed recognizes the usbip client's success report. The tool
// has shipped both spellings of "successfully"; accept either, and treat
// a clean exit with no complaint as success too.
func attachConfirmed(res executor.Result) bool {
	out := strings.ToLower(res.Stdout + "\n" + res.Stderr)
	if strings.Contains(out, "successfully attached") || strings.Contains(out, "succesfully attached") {
		return true
	}
	return res.ExitCode == 0 && !strings.Contains(out, "error") && !strings.Contains(out, "failed")
}

// Attach pulls busid from host into the local stack and records the port
// mapping once the device shows up in the local port list.
func (s *Service) Attach(ctx context.Context, host, busid string) bool {
	spec, err := dialect.AttachCommand(host, busid)
	if err != nil {
		level.Warn(s.logger()).Log("msg", "attach rejected", "host", host, "busid", busid, "err", err)
		return false
	}
	res, err := s.Local.Run(ctx, spec)
	if err != nil {
		level.Warn(s.logger()).Log("msg", "attach failed", "host", host, "busid", busid, "err", err)
		return false
	}
	s.logVerbose("attach output", res)
	if !attachConfirmed(res) {
		level.Info(s.logger()).Log("msg", "attach failed", "host", host, "busid", busid)
		return false
	}

	s.recordMapping(ctx, busid)
	if err := s.Intents.SetAttached(host, busid, true); err != nil {
		level.Warn(s.logger()).Log("msg", "persisting attach state failed", "err", err)
	}
	level.Info(s.logger()).Log("msg", "device attached", "host", host, "busid", busid)
	return true
}

// recordMapping polls the local port list until the freshly attached
// device appears, then persists its port assignment. The device needs a
// moment to enumerate, hence the bounded retry loop.
func (s *Service) recordMapping(ctx context.Context, busid string) {
	for i := 0; i < attachPollRetries; i++ {
		res, err := s.Local.Run(ctx, dialect.PortListCommand())
		if err == nil {
			for _, port := range parse.ParseLocalPorts(res.Stdout) {
				if port.RemoteBusID != busid {
					continue
				}
				if err := s.Mappings.Put(busid, port.Description, port.Port, port.LocalBusID); err != nil {
					level.Warn(s.logger()).Log("msg", "persisting port mapping failed", "err", err)
				}
				return
			}
		}
		s.sleep(attachPollDelay)
	}
	level.Warn(s.logger()).Log("msg", "attached device never appeared in port list", "busid", busid)
}

// RequestAttach is the user-facing attach; success starts a grace period.
func (s *Service) RequestAttach(ctx context.Context, host, busid string) bool {
	ok := s.Attach(ctx, host, busid)
	s.Metrics.action("attach", ok)
	if ok {
		s.startGrace()
	}
	return ok
}

// detachPort resolves which local port busid occupies: the recorded
// mapping first, then a description match against the live port list.
func (s *Service) detachPort(ctx context.Context, busid string) (string, bool) {
	if m, ok := s.Mappings.Get(busid); ok && m.PortNumber != "" {
		return m.PortNumber, true
	}
	res, err := s.Local.Run(ctx, dialect.PortListCommand())
	if err != nil {
		return "", false
	}
	for _, port := range parse.ParseLocalPorts(res.Stdout) {
		if port.RemoteBusID == busid {
			return port.Port, true
		}
	}
	return "", false
}

// RequestDetach releases the device from the local stack and forgets its
// mapping.
func (s *Service) RequestDetach(ctx context.Context, host, busid string) bool {
	ok := s.detach(ctx, host, busid)
	s.Metrics.action("detach", ok)
	if ok {
		s.startGrace()
	}
	return ok
}

func (s *Service) detach(ctx context.Context, host, busid string) bool {
	port, ok := s.detachPort(ctx, busid)
	if !ok {
		level.Info(s.logger()).Log("msg", "detach failed, no port for device", "host", host, "busid", busid)
		return false
	}
	spec, err := dialect.DetachCommand(port)
	if err != nil {
		level.Warn(s.logger()).Log("msg", "detach rejected", "port", port, "err", err)
		return false
	}
	res, err := s.Local.Run(ctx, spec)
	if err != nil || res.ExitCode != 0 {
		level.Info(s.logger()).Log("msg", "detach failed", "host", host, "busid", busid, "port", port, "err", err)
		return false
	}
	s.logVerbose("detach output", res)

	if err := s.Mappings.Remove(busid); err != nil {
		level.Warn(s.logger()).Log("msg", "removing port mapping failed", "err", err)
	}
	if err := s.Intents.SetAttached(host, busid, false); err != nil {
		level.Warn(s.logger()).Log("msg", "persisting detach state failed", "err", err)
	}
	level.Info(s.logger()).Log("msg", "device detached", "host", host, "busid", busid, "port", port)
	return true
}

func (s *Service) remoteRunner(ctx context.Context, host string) (executor.Runner, dialect.RemoteHostProfile, bool) {
	runner, profile, err := s.Remote.Runner(ctx, host)
	if err != nil {
		// One fixed message; raw SSH errors can embed credentials.
		level.Warn(s.logger()).Log("msg", "SSH connection failed: authentication or network error", "host", host)
		return nil, dialect.RemoteHostProfile{}, false
	}
	return runner, profile, true
}

// Bind marks busid shared on host via SSH.
func (s *Service) Bind(ctx context.Context, host, busid string) bool {
	runner, profile, ok := s.remoteRunner(ctx, host)
	if !ok {
		return false
	}
	spec, err := dialect.BindCommand(profile, busid)
	if err != nil {
		level.Warn(s.logger()).Log("msg", "bind rejected", "host", host, "busid", busid, "err", err)
		return false
	}
	res, err := runner.Run(ctx, spec)
	if err != nil || res.ExitCode != 0 {
		level.Info(s.logger()).Log("msg", "bind failed", "host", host, "busid", busid, "err", err)
		return false
	}
	s.logVerbose("bind output", res)
	if err := s.Intents.SetBound(host, busid, true); err != nil {
		level.Warn(s.logger()).Log("msg", "persisting bind state failed", "err", err)
	}
	level.Info(s.logger()).Log("msg", "device bound", "host", host, "busid", busid)
	return true
}

// RequestBind is the user-facing bind; success starts a grace period.
func (s *Service) RequestBind(ctx context.Context, host, busid string) bool {
	ok := s.Bind(ctx, host, busid)
	s.Metrics.action("bind", ok)
	if ok {
		s.startGrace()
	}
	return ok
}

// RequestUnbind unshares busid on host.
func (s *Service) RequestUnbind(ctx context.Context, host, busid string) bool {
	ok := s.unbind(ctx, host, busid)
	s.Metrics.action("unbind", ok)
	if ok {
		s.startGrace()
	}
	return ok
}

func (s *Service) unbind(ctx context.Context, host, busid string) bool {
	runner, profile, ok := s.remoteRunner(ctx, host)
	if !ok {
		return false
	}
	spec, err := dialect.UnbindCommand(profile, busid)
	if err != nil {
		level.Warn(s.logger()).Log("msg", "unbind rejected", "host", host, "busid", busid, "err", err)
		return false
	}
	res, err := runner.Run(ctx, spec)
	if err != nil || res.ExitCode != 0 {
		level.Info(s.logger()).Log("msg", "unbind failed", "host", host, "busid", busid, "err", err)
		return false
	}
	s.logVerbose("unbind output", res)
	if err := s.Intents.SetBound(host, busid, false); err != nil {
		level.Warn(s.logger()).Log("msg", "persisting unbind state failed", "err", err)
	}
	level.Info(s.logger()).Log("msg", "device unbound", "host", host, "busid", busid)
	return true
}

// Bound lists the devices host currently shares, refreshing the cached
// descriptions for anything that reports a real product name.
func (s *Service) Bound(ctx context.Context, host string) (map[string]bool, error) {
	runner, profile, err := s.Remote.Runner(ctx, host)
	if err != nil {
		return nil, err
	}
	res, err := runner.Run(ctx, dialect.ListCommand(profile))
	if err != nil {
		return nil, err
	}
	s.logVerbose("shared device list", res)

	bound := map[string]bool{}
	for _, dev := range parse.ParseSharedList(profile, res.Stdout) {
		bound[dev.BusID] = true
		if !strings.Contains(dev.Description, "unknown product") {
			if err := s.Descs.Put(host, dev.BusID, dev.Description); err != nil {
				level.Warn(s.logger()).Log("msg", "caching device description failed", "err", err)
			}
		}
	}
	return bound, nil
}

// AttachAll attaches every detached device in the current view. The grace
// period starts only when at least one attach succeeded.
func (s *Service) AttachAll(ctx context.Context, host string) int {
	rows, err := s.Engine.BuildDeviceView(ctx, host)
	if err != nil {
		level.Warn(s.logger()).Log("msg", "attach-all skipped, device view failed", "host", host, "err", err)
		return 0
	}
	succeeded := 0
	for _, row := range rows {
		if row.Attached || !dialect.ValidBusID(row.BusID) {
			continue
		}
		ok := s.Attach(ctx, host, row.BusID)
		s.Metrics.action("attach", ok)
		if ok {
			succeeded++
		}
	}
	if succeeded > 0 {
		s.startGrace()
	}
	level.Info(s.logger()).Log("msg", "attach-all finished", "host", host, "succeeded", succeeded)
	return succeeded
}

// DetachAll detaches every attached device in the current view.
func (s *Service) DetachAll(ctx context.Context, host string) int {
	rows, err := s.Engine.BuildDeviceView(ctx, host)
	if err != nil {
		level.Warn(s.logger()).Log("msg", "detach-all skipped, device view failed", "host", host, "err", err)
		return 0
	}
	succeeded := 0
	for _, row := range rows {
		if !row.Attached || !dialect.ValidBusID(row.BusID) {
			continue
		}
		ok := s.detach(ctx, host, row.BusID)
		s.Metrics.action("detach", ok)
		if ok {
			succeeded++
		}
	}
	if succeeded > 0 {
		s.startGrace()
	}
	level.Info(s.logger()).Log("msg", "detach-all finished", "host", host, "succeeded", succeeded)
	return succeeded
}

// UnbindAll unshares every device host currently exports.
func (s *Service) UnbindAll(ctx context.Context, host string) int {
	bound, err := s.Bound(ctx, host)
	if err != nil {
		level.Warn(s.logger()).Log("msg", "unbind-all skipped", "host", host, "err", err)
		return 0
	}
	succeeded := 0
	for busid := range bound {
		ok := s.unbind(ctx, host, busid)
		s.Metrics.action("unbind", ok)
		if ok {
			succeeded++
		}
	}
	if succeeded > 0 {
		s.startGrace()
	}
	level.Info(s.logger()).Log("msg", "unbind-all finished", "host", host, "succeeded", succeeded)
	return succeeded
}
