// SPDX-License-Identifier: GPL-2.0-only

package store

import (
	"time"

	"github.com/mitchellh/mapstructure"
)

// PortMapping records that a remote device is attached locally. It is the
// only durable bridge between a remote bus-id and wherever the device
// currently lives on this machine: local port numbers are not preserved
// across detach and reattach.
type PortMapping struct {
	RemoteDesc string  `json:"remote_desc" mapstructure:"remote_desc"`
	PortNumber string  `json:"port_number" mapstructure:"port_number"`
	PortBusID  string  `json:"port_busid" mapstructure:"port_busid"`
	Timestamp  float64 `json:"timestamp" mapstructure:"timestamp"`
}

// MappingStore persists the remote-busid → local-port association in the
// device_mapping document:
//
//	{mappings: {<remote_busid>: {remote_desc, port_number, port_busid, timestamp}}}
//
// At most one active mapping exists per remote busid; Put replaces any
// prior mapping for the same busid.
type MappingStore struct {
	docs DocStore
	now  func() time.Time
}

func NewMappingStore(docs DocStore) *MappingStore {
	return &MappingStore{docs: docs, now: time.Now}
}

func (m *MappingStore) load() map[string]interface{} {
	doc := m.docs.Load(DocMapping)
	if _, ok := doc["mappings"].(map[string]interface{}); !ok {
		doc["mappings"] = map[string]interface{}{}
	}
	return doc
}

// Put records that remoteBusID was attached and is now reachable on the
// given local port.
func (m *MappingStore) Put(remoteBusID, remoteDesc, portNumber, portBusID string) error {
	doc := m.load()
	doc["mappings"].(map[string]interface{})[remoteBusID] = map[string]interface{}{
		"remote_desc": remoteDesc,
		"port_number": portNumber,
		"port_busid":  portBusID,
		"timestamp":   float64(m.now().Unix()),
	}
	return m.docs.Save(DocMapping, doc)
}

// Get returns the mapping for remoteBusID, or false when none exists.
func (m *MappingStore) Get(remoteBusID string) (PortMapping, bool) {
	raw, ok := m.load()["mappings"].(map[string]interface{})[remoteBusID]
	if !ok {
		return PortMapping{}, false
	}
	var mapping PortMapping
	if err := mapstructure.Decode(raw, &mapping); err != nil {
		return PortMapping{}, false
	}
	return mapping, true
}

// Remove drops the mapping for remoteBusID, if any.
func (m *MappingStore) Remove(remoteBusID string) error {
	doc := m.load()
	mappings := doc["mappings"].(map[string]interface{})
	if _, ok := mappings[remoteBusID]; !ok {
		return nil
	}
	delete(mappings, remoteBusID)
	return m.docs.Save(DocMapping, doc)
}

// ReverseLookup resolves a local port bus-id (or port descriptor) back to
// the remote busid it was attached from.
func (m *MappingStore) ReverseLookup(portBusID string) (string, bool) {
	for remoteBusID, raw := range m.load()["mappings"].(map[string]interface{}) {
		var mapping PortMapping
		if err := mapstructure.Decode(raw, &mapping); err != nil {
			continue
		}
		if mapping.PortBusID == portBusID {
			return remoteBusID, true
		}
	}
	return "", false
}

// All returns every active mapping keyed by remote busid.
func (m *MappingStore) All() map[string]PortMapping {
	out := map[string]PortMapping{}
	for remoteBusID, raw := range m.load()["mappings"].(map[string]interface{}) {
		var mapping PortMapping
		if err := mapstructure.Decode(raw, &mapping); err != nil {
			continue
		}
		out[remoteBusID] = mapping
	}
	return out
}
