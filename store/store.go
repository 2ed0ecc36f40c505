// SPDX-License-Identifier: GPL-2.0-only

// Package store persists user intent across restarts: which devices should
// be attached or bound, which should reconnect automatically, and how
// remote devices map onto local ports. Everything is kept as named JSON
// documents behind the DocStore interface; the typed stores in this
// package perform full load-modify-save round trips against those
// documents, so no in-memory state has to survive a restart.
package store

// Document names. The shapes are described on the typed store that owns
// each document.
const (
	DocHostList     = "ip_list"
	DocDeviceState  = "device_state"
	DocAutoSettings = "auto_reconnect_settings"
	DocMapping      = "device_mapping"
	DocDescriptions = "windows_device_descriptions"
	DocSSHState     = "ssh_state"
)

// DocStore is the persistence collaborator: an opaque named-document
// key-value store. Load returns an empty map for an absent or unreadable
// document rather than erroring; a corrupted store degrades the system to
// heuristic matching, it never takes it down.
type DocStore interface {
	Load(name string) map[string]interface{}
	Save(name string, doc map[string]interface{}) error
}
