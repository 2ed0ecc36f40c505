// SPDX-License-Identifier: GPL-2.0-only

package store

import "github.com/mitchellh/mapstructure"

// SSHPref holds the persisted per-host SSH preferences. Passwords are
// deliberately absent from this document; only the username and the
// host-key trust decision survive a restart.
type SSHPref struct {
	Username  string `mapstructure:"username"`
	TrustHost bool   `mapstructure:"trust_host"`
}

// SSHPrefStore persists SSH preferences in the ssh_state document as
// {"hosts": {<host>: {username, trust_host}}}.
type SSHPrefStore struct {
	docs DocStore
}

func NewSSHPrefStore(docs DocStore) *SSHPrefStore {
	return &SSHPrefStore{docs: docs}
}

// Get returns the stored preference for host, if any.
func (s *SSHPrefStore) Get(host string) (SSHPref, bool) {
	hosts, _ := s.docs.Load(DocSSHState)["hosts"].(map[string]interface{})
	raw, ok := hosts[host]
	if !ok {
		return SSHPref{}, false
	}
	var pref SSHPref
	if err := mapstructure.Decode(raw, &pref); err != nil {
		return SSHPref{}, false
	}
	return pref, true
}

// Put stores the preference for host.
func (s *SSHPrefStore) Put(host string, pref SSHPref) error {
	doc := s.docs.Load(DocSSHState)
	hosts, ok := doc["hosts"].(map[string]interface{})
	if !ok {
		hosts = map[string]interface{}{}
		doc["hosts"] = hosts
	}
	hosts[host] = map[string]interface{}{
		"username":   pref.Username,
		"trust_host": pref.TrustHost,
	}
	return s.docs.Save(DocSSHState, doc)
}

// Forget drops the preference for host.
func (s *SSHPrefStore) Forget(host string) error {
	doc := s.docs.Load(DocSSHState)
	hosts, ok := doc["hosts"].(map[string]interface{})
	if !ok {
		return nil
	}
	if _, ok := hosts[host]; !ok {
		return nil
	}
	delete(hosts, host)
	return s.docs.Save(DocSSHState, doc)
}
