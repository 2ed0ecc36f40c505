// SPDX-License-Identifier: GPL-2.0-only

package store

import (
	"encoding/json"
	"reflect"
	"testing"
)

// memDocs fakes a DocStore in memory. Documents round-trip through JSON on
// every access so typed values degrade exactly as they would after a real
// save/load cycle (numbers become float64, slices become []interface{}).
type memDocs struct {
	docs map[string][]byte
}

func newMemDocs() *memDocs {
	return &memDocs{docs: map[string][]byte{}}
}

func (m *memDocs) Load(name string) map[string]interface{} {
	raw, ok := m.docs[name]
	if !ok {
		return map[string]interface{}{}
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return map[string]interface{}{}
	}
	return doc
}

func (m *memDocs) Save(name string, doc map[string]interface{}) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	m.docs[name] = raw
	return nil
}

func TestMappingRoundTrip(t *testing.T) {
	m := NewMappingStore(newMemDocs())

	if err := m.Put("3-2.1", "Razer Viper Mini", "00", "1-1"); err != nil {
		t.Fatal(err)
	}
	got, ok := m.Get("3-2.1")
	if !ok {
		t.Fatal("mapping not found after Put")
	}
	if got.RemoteDesc != "Razer Viper Mini" || got.PortNumber != "00" || got.PortBusID != "1-1" {
		t.Errorf("unexpected mapping: %+v", got)
	}

	remote, ok := m.ReverseLookup("1-1")
	if !ok || remote != "3-2.1" {
		t.Errorf("ReverseLookup(1-1) = %q, %v; want 3-2.1, true", remote, ok)
	}

	// Re-attach lands on a different port; the new mapping replaces the old.
	if err := m.Put("3-2.1", "Razer Viper Mini", "01", "1-2"); err != nil {
		t.Fatal(err)
	}
	got, _ = m.Get("3-2.1")
	if got.PortBusID != "1-2" {
		t.Errorf("PortBusID = %q after replace, want 1-2", got.PortBusID)
	}
	if _, ok := m.ReverseLookup("1-1"); ok {
		t.Error("stale port busid still resolves after replace")
	}

	if err := m.Remove("3-2.1"); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Get("3-2.1"); ok {
		t.Error("mapping survives Remove")
	}
}

func TestParseDeviceKey(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want DeviceKey
		ok   bool
	}{
		{"local:192.168.1.5:3-2.1", DeviceKey{TableLocal, "192.168.1.5", "3-2.1"}, true},
		{"remote:hostname:1-1", DeviceKey{TableRemote, "hostname", "1-1"}, true},
		// Legacy two-part keys predate table separation and default to local.
		{"192.168.1.5:3-2.1", DeviceKey{TableLocal, "192.168.1.5", "3-2.1"}, true},
		// Everything after the second colon belongs to the busid.
		{"local:host:1-1:weird", DeviceKey{TableLocal, "host", "1-1:weird"}, true},
		{"bogus:host:1-1", DeviceKey{}, false},
		{"justhost", DeviceKey{}, false},
	} {
		got, ok := parseDeviceKey(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("parseDeviceKey(%q) = %+v, %v; want %+v, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestIntentTableIsolation(t *testing.T) {
	s := NewIntentStore(newMemDocs())

	local := DeviceKey{TableLocal, "192.168.1.5", "3-2.1"}
	remote := DeviceKey{TableRemote, "192.168.1.5", "3-2.1"}

	if err := s.SetAutoReconnect(local, true); err != nil {
		t.Fatal(err)
	}
	if !s.AutoReconnect(local) {
		t.Error("local intent lost")
	}
	if s.AutoReconnect(remote) {
		t.Error("local intent leaked into remote table")
	}

	if err := s.SetAutoReconnect(remote, true); err != nil {
		t.Fatal(err)
	}
	if err := s.SetAutoReconnect(local, false); err != nil {
		t.Fatal(err)
	}
	if s.AutoReconnect(local) || !s.AutoReconnect(remote) {
		t.Error("disabling local intent touched the remote entry")
	}

	keys := s.AutoReconnectKeys()
	if len(keys) != 1 || keys[0] != remote {
		t.Errorf("AutoReconnectKeys() = %v, want [%v]", keys, remote)
	}
}

func TestSettingsDefaults(t *testing.T) {
	docs := newMemDocs()
	s := NewIntentStore(docs)

	got := s.Settings()
	want := DefaultSettings()
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Settings() on empty store = %+v, want %+v", got, want)
	}

	// Partial documents keep defaults for absent keys and reject
	// nonsense values for the timing knobs.
	if err := docs.Save(DocAutoSettings, map[string]interface{}{
		"interval":     10,
		"max_attempts": 0,
	}); err != nil {
		t.Fatal(err)
	}
	got = s.Settings()
	if got.Interval != 10 {
		t.Errorf("Interval = %d, want 10", got.Interval)
	}
	if got.MaxAttempts != want.MaxAttempts {
		t.Errorf("MaxAttempts = %d, want default %d", got.MaxAttempts, want.MaxAttempts)
	}
	if !got.AutoReconnectEnabled {
		t.Error("AutoReconnectEnabled default dropped on partial document")
	}
}

func TestSaveSettingsPreservesDevices(t *testing.T) {
	s := NewIntentStore(newMemDocs())

	key := DeviceKey{TableLocal, "192.168.1.5", "3-2.1"}
	if err := s.SetAutoReconnect(key, true); err != nil {
		t.Fatal(err)
	}
	settings := s.Settings()
	settings.Interval = 15
	if err := s.SaveSettings(settings); err != nil {
		t.Fatal(err)
	}
	if !s.AutoReconnect(key) {
		t.Error("SaveSettings dropped the per-device intent map")
	}
	if s.Settings().Interval != 15 {
		t.Error("SaveSettings did not persist the interval")
	}
}

func TestAttachedAndBound(t *testing.T) {
	s := NewIntentStore(newMemDocs())

	if err := s.SetAttached("hostA", "3-2.1", true); err != nil {
		t.Fatal(err)
	}
	if err := s.SetAttached("hostA", "3-2.1", true); err != nil {
		t.Fatal(err)
	}
	if got := s.Attached("hostA"); len(got) != 1 || got[0] != "3-2.1" {
		t.Errorf("Attached(hostA) = %v, want [3-2.1]", got)
	}
	if got := s.Attached("hostB"); len(got) != 0 {
		t.Errorf("Attached(hostB) = %v, want empty", got)
	}

	if err := s.SetBound("hostA", "1-4", true); err != nil {
		t.Fatal(err)
	}
	if !s.Bound("hostA")["1-4"] {
		t.Error("bound state lost")
	}

	if err := s.SetAttached("hostA", "3-2.1", false); err != nil {
		t.Fatal(err)
	}
	if got := s.Attached("hostA"); len(got) != 0 {
		t.Errorf("Attached(hostA) after detach = %v, want empty", got)
	}
	// Detaching must not disturb the remote bind table.
	if !s.Bound("hostA")["1-4"] {
		t.Error("detach cleared the bind table")
	}
}

func TestHostList(t *testing.T) {
	l := NewHostList(newMemDocs())

	if err := l.Add("192.168.1.5"); err != nil {
		t.Fatal(err)
	}
	if err := l.Add("192.168.1.5"); err != nil {
		t.Fatal(err)
	}
	if err := l.Add("workstation"); err != nil {
		t.Fatal(err)
	}
	if err := l.Add("bad host name!"); err == nil {
		t.Error("Add accepted an invalid host")
	}
	if got := l.Hosts(); len(got) != 2 || got[0] != "192.168.1.5" || got[1] != "workstation" {
		t.Errorf("Hosts() = %v", got)
	}

	if err := l.Remove("192.168.1.5"); err != nil {
		t.Fatal(err)
	}
	if got := l.Hosts(); len(got) != 1 || got[0] != "workstation" {
		t.Errorf("Hosts() after Remove = %v", got)
	}
}

func TestDescriptionStore(t *testing.T) {
	d := NewDescriptionStore(newMemDocs())

	if _, ok := d.Description("hostA", "3-2.1"); ok {
		t.Error("empty store returned a description")
	}
	if err := d.Put("hostA", "3-2.1", "Razer Viper Mini"); err != nil {
		t.Fatal(err)
	}
	if err := d.Put("hostA", "3-2.1", ""); err != nil {
		t.Fatal(err)
	}
	desc, ok := d.Description("hostA", "3-2.1")
	if !ok || desc != "Razer Viper Mini" {
		t.Errorf("Description = %q, %v", desc, ok)
	}
	if _, ok := d.Description("hostB", "3-2.1"); ok {
		t.Error("description leaked across hosts")
	}

	if err := d.ClearHost("hostA"); err != nil {
		t.Fatal(err)
	}
	if _, ok := d.Description("hostA", "3-2.1"); ok {
		t.Error("description survives ClearHost")
	}
}

func TestSSHPrefStore(t *testing.T) {
	s := NewSSHPrefStore(newMemDocs())

	if _, ok := s.Get("hostA"); ok {
		t.Error("empty store returned a preference")
	}
	if err := s.Put("hostA", SSHPref{Username: "alice", TrustHost: true}); err != nil {
		t.Fatal(err)
	}
	pref, ok := s.Get("hostA")
	if !ok || pref.Username != "alice" || !pref.TrustHost {
		t.Errorf("Get(hostA) = %+v, %v", pref, ok)
	}
	if err := s.Forget("hostA"); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Get("hostA"); ok {
		t.Error("preference survives Forget")
	}
}
