// SPDX-License-Identifier: GPL-2.0-only

package bridge

import (
	"github.com/go-kit/log/level"

	"github.com/bwiersma/usbip-bridge/store"
)

// KnownHosts returns the persisted host list.
func (s *Service) KnownHosts() []string {
	return s.Hosts.Hosts()
}

// AddHost registers a new remote host.
func (s *Service) AddHost(host string) error {
	if err := s.Hosts.Add(host); err != nil {
		return err
	}
	level.Info(s.logger()).Log("msg", "host added", "host", host)
	return nil
}

// RemoveHost forgets a host along with its cached descriptions and SSH
// preferences.
func (s *Service) RemoveHost(host string) error {
	if err := s.Hosts.Remove(host); err != nil {
		return err
	}
	if err := s.Descs.ClearHost(host); err != nil {
		level.Warn(s.logger()).Log("msg", "clearing cached descriptions failed", "host", host, "err", err)
	}
	if err := s.Prefs.Forget(host); err != nil {
		level.Warn(s.logger()).Log("msg", "forgetting SSH preferences failed", "host", host, "err", err)
	}
	level.Info(s.logger()).Log("msg", "host removed", "host", host)
	return nil
}

// SSHPref returns the stored SSH preference for host.
func (s *Service) SSHPref(host string) (store.SSHPref, bool) {
	return s.Prefs.Get(host)
}

// RememberSSHPref stores the username and trust decision for host. The
// password is deliberately not part of the preference.
func (s *Service) RememberSSHPref(host string, pref store.SSHPref) error {
	return s.Prefs.Put(host, pref)
}
