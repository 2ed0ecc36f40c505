// SPDX-License-Identifier: GPL-2.0-only

package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// TableType separates the two intent namespaces: local means "attach this
// device to my machine", remote means "bind this device for sharing on the
// remote host". The same busid can appear in both with different desired
// states.
type TableType string

const (
	TableLocal  TableType = "local"
	TableRemote TableType = "remote"
)

// DeviceKey identifies one device-intent entry. It is a value type with
// structural equality so it can key maps directly; the stringly encoded
// form only exists at the persistence boundary.
type DeviceKey struct {
	Table TableType
	Host  string
	BusID string
}

func (k DeviceKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Table, k.Host, k.BusID)
}

// parseDeviceKey decodes the persisted "table:host:busid" form. The busid
// is everything after the second colon, so a busid that itself contains a
// colon round-trips. A key with fewer than two colons is treated as the
// legacy "host:busid" form and assumed local.
func parseDeviceKey(s string) (DeviceKey, bool) {
	parts := strings.SplitN(s, ":", 3)
	switch len(parts) {
	case 3:
		t := TableType(parts[0])
		if t != TableLocal && t != TableRemote {
			return DeviceKey{}, false
		}
		return DeviceKey{Table: t, Host: parts[1], BusID: parts[2]}, true
	case 2:
		return DeviceKey{Table: TableLocal, Host: parts[0], BusID: parts[1]}, true
	default:
		return DeviceKey{}, false
	}
}

// Settings is the plaintext shape of the auto_reconnect_settings document
// minus its devices map, which IntentStore manages separately.
type Settings struct {
	AutoReconnectEnabled bool   `mapstructure:"auto_reconnect_enabled"`
	Interval             int    `mapstructure:"interval"`
	MaxAttempts          int    `mapstructure:"max_attempts"`
	GracePeriod          int    `mapstructure:"grace_period"`
	AutoRefreshEnabled   bool   `mapstructure:"auto_refresh_enabled"`
	AutoRefreshInterval  int    `mapstructure:"auto_refresh_interval"`
	ThemeSetting         string `mapstructure:"theme_setting"`
	VerboseConsole       bool   `mapstructure:"verbose_console"`
	DebugMode            bool   `mapstructure:"debug_mode"`
}

// DefaultSettings mirrors the defaults applied when the settings document
// is absent or partially populated.
func DefaultSettings() Settings {
	return Settings{
		AutoReconnectEnabled: true,
		Interval:             30,
		MaxAttempts:          5,
		GracePeriod:          60,
		AutoRefreshEnabled:   false,
		AutoRefreshInterval:  60,
		ThemeSetting:         "System Theme",
	}
}

// ScanInterval returns the auto-reconnect scan interval as a duration.
func (s Settings) ScanInterval() time.Duration { return time.Duration(s.Interval) * time.Second }

// GraceDuration returns the grace-period duration.
func (s Settings) GraceDuration() time.Duration { return time.Duration(s.GracePeriod) * time.Second }

// IntentStore persists per-device user intent across two documents.
//
// device_state:
//
//	{<host>: {attached: [busid], remote_bound: {busid: bool}}}
//
// auto_reconnect_settings:
//
//	{auto_reconnect_enabled, interval, max_attempts, grace_period,
//	 auto_refresh_enabled, auto_refresh_interval, theme_setting,
//	 verbose_console, debug_mode, devices: {"table:host:busid": bool}}
type IntentStore struct {
	docs DocStore
}

func NewIntentStore(docs DocStore) *IntentStore {
	return &IntentStore{docs: docs}
}

// Settings loads the tuning settings, filling defaults for missing fields.
func (s *IntentStore) Settings() Settings {
	doc := s.docs.Load(DocAutoSettings)
	out := DefaultSettings()
	if len(doc) == 0 {
		return out
	}
	// Decode over the defaults so absent keys keep their default values.
	_ = mapstructure.WeakDecode(doc, &out)
	if out.Interval <= 0 {
		out.Interval = DefaultSettings().Interval
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = DefaultSettings().MaxAttempts
	}
	if out.GracePeriod <= 0 {
		out.GracePeriod = DefaultSettings().GracePeriod
	}
	return out
}

// SaveSettings writes the tuning settings, preserving the devices map.
func (s *IntentStore) SaveSettings(settings Settings) error {
	doc := s.docs.Load(DocAutoSettings)
	doc["auto_reconnect_enabled"] = settings.AutoReconnectEnabled
	doc["interval"] = settings.Interval
	doc["max_attempts"] = settings.MaxAttempts
	doc["grace_period"] = settings.GracePeriod
	doc["auto_refresh_enabled"] = settings.AutoRefreshEnabled
	doc["auto_refresh_interval"] = settings.AutoRefreshInterval
	doc["theme_setting"] = settings.ThemeSetting
	doc["verbose_console"] = settings.VerboseConsole
	doc["debug_mode"] = settings.DebugMode
	if _, ok := doc["devices"]; !ok {
		doc["devices"] = map[string]interface{}{}
	}
	return s.docs.Save(DocAutoSettings, doc)
}

// AutoReconnect reports whether auto-reconnect is enabled for key.
func (s *IntentStore) AutoReconnect(key DeviceKey) bool {
	devices, _ := s.docs.Load(DocAutoSettings)["devices"].(map[string]interface{})
	enabled, _ := devices[key.String()].(bool)
	return enabled
}

// SetAutoReconnect flips the auto-reconnect flag for key.
func (s *IntentStore) SetAutoReconnect(key DeviceKey, enabled bool) error {
	doc := s.docs.Load(DocAutoSettings)
	devices, ok := doc["devices"].(map[string]interface{})
	if !ok {
		devices = map[string]interface{}{}
		doc["devices"] = devices
	}
	devices[key.String()] = enabled
	return s.docs.Save(DocAutoSettings, doc)
}

// AutoReconnectKeys returns every key with auto-reconnect enabled,
// skipping entries whose persisted key cannot be decoded.
func (s *IntentStore) AutoReconnectKeys() []DeviceKey {
	devices, _ := s.docs.Load(DocAutoSettings)["devices"].(map[string]interface{})
	var keys []DeviceKey
	for raw, v := range devices {
		enabled, _ := v.(bool)
		if !enabled {
			continue
		}
		key, ok := parseDeviceKey(raw)
		if !ok {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

type hostState struct {
	Attached    []string        `mapstructure:"attached"`
	RemoteBound map[string]bool `mapstructure:"remote_bound"`
}

func (s *IntentStore) loadHostState(doc map[string]interface{}, host string) hostState {
	state := hostState{RemoteBound: map[string]bool{}}
	if raw, ok := doc[host]; ok {
		_ = mapstructure.Decode(raw, &state)
		if state.RemoteBound == nil {
			state.RemoteBound = map[string]bool{}
		}
	}
	return state
}

func (s *IntentStore) saveHostState(doc map[string]interface{}, host string, state hostState) error {
	doc[host] = map[string]interface{}{
		"attached":     state.Attached,
		"remote_bound": state.RemoteBound,
	}
	return s.docs.Save(DocDeviceState, doc)
}

// Attached returns the busids recorded as attached from host.
func (s *IntentStore) Attached(host string) []string {
	return s.loadHostState(s.docs.Load(DocDeviceState), host).Attached
}

// SetAttached records whether busid is attached from host.
func (s *IntentStore) SetAttached(host, busid string, attached bool) error {
	doc := s.docs.Load(DocDeviceState)
	state := s.loadHostState(doc, host)
	idx := -1
	for i, b := range state.Attached {
		if b == busid {
			idx = i
			break
		}
	}
	switch {
	case attached && idx < 0:
		state.Attached = append(state.Attached, busid)
	case !attached && idx >= 0:
		state.Attached = append(state.Attached[:idx], state.Attached[idx+1:]...)
	default:
		return nil
	}
	return s.saveHostState(doc, host, state)
}

// Bound returns the remote bind states recorded for host.
func (s *IntentStore) Bound(host string) map[string]bool {
	return s.loadHostState(s.docs.Load(DocDeviceState), host).RemoteBound
}

// SetBound records whether busid is bound for sharing on host.
func (s *IntentStore) SetBound(host, busid string, bound bool) error {
	doc := s.docs.Load(DocDeviceState)
	state := s.loadHostState(doc, host)
	state.RemoteBound[busid] = bound
	return s.saveHostState(doc, host, state)
}
