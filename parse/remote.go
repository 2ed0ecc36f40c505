// SPDX-License-Identifier: GPL-2.0-only

// Package parse turns the free-text output of the usbip tools into
// structured device records. Parsing is best-effort throughout: lines that
// cannot be classified are skipped and never abort the surrounding scan.
package parse

import (
	"strings"

	"github.com/bwiersma/usbip-bridge/dialect"
)

// DeviceIdentity names a USB device from its host's perspective. Two
// identities are equal iff their bus-id strings are equal; the description
// is informational and doubles as a fuzzy-match key on platforms where
// local bus-ids are not observable.
type DeviceIdentity struct {
	BusID       string
	Description string
}

// DescriptionCache supplies previously observed descriptions for devices
// whose current listing only carries a generic placeholder.
type DescriptionCache interface {
	Description(host, busid string) (string, bool)
}

// placeholder markers the usbip tool emits when it cannot resolve a
// product string from its ID database.
const unknownProduct = "unknown product"

// ParseRemoteList parses the output of the remote device listing that runs
// locally (`usbip list -r <host>`). Format is line oriented:
//
//	3-2.1: Razer USA, Ltd : unknown product (1532:0077)
//
// When the description carries the "unknown product" placeholder and cache
// holds an earlier description for (host, busid), the cached description is
// substituted; otherwise the placeholder passes through unchanged.
func ParseRemoteList(text string, host string, cache DescriptionCache) []DeviceIdentity {
	var devices []DeviceIdentity
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line[0] < '0' || line[0] > '9' {
			continue
		}
		busid, rest, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		busid = strings.TrimSpace(busid)
		if !dialect.ValidBusID(busid) {
			continue
		}
		desc := strings.TrimSpace(rest)
		if cache != nil && strings.Contains(desc, unknownProduct) {
			if cached, ok := cache.Description(host, busid); ok && cached != "" {
				desc = cached
			}
		}
		devices = append(devices, DeviceIdentity{BusID: busid, Description: desc})
	}
	return devices
}

// ParseSharedList parses output of the listing command run on the remote
// host itself, in either of the two supported dialects.
//
// The line dialect (Linux `usbip list -l`):
//
//	- busid 2-1.4 (0bda:8153)
//	  Realtek Semiconductor Corp. : RTL8153 Gigabit Ethernet Adapter
//
// The columnar dialect (Windows `usbipd list`), where only the Connected
// section is relevant and the Persisted section plus header and separator
// lines are ignored:
//
//	Connected:
//	BUSID  VID:PID    DEVICE                 STATE
//	3-2    1532:0077  Razer Viper Mini       Shared
//
//	Persisted:
//	GUID   DEVICE
func ParseSharedList(profile dialect.RemoteHostProfile, text string) []DeviceIdentity {
	if profile.NativeService() {
		return parseUsbipdList(text)
	}
	return parseLineList(text)
}

func parseLineList(text string) []DeviceIdentity {
	var devices []DeviceIdentity
	busid := ""
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "- busid") {
			fields := strings.Fields(line)
			if len(fields) < 3 || !dialect.ValidBusID(fields[2]) {
				busid = ""
				continue
			}
			busid = fields[2]
		} else if busid != "" && line != "" {
			devices = append(devices, DeviceIdentity{BusID: busid, Description: line})
			busid = ""
		}
	}
	return devices
}

func parseUsbipdList(text string) []DeviceIdentity {
	var devices []DeviceIdentity
	inConnected := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Connected:"):
			inConnected = true
			continue
		case strings.HasPrefix(line, "Persisted:"):
			inConnected = false
			continue
		}
		if !inConnected || line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 || !dialect.ValidBusID(fields[0]) {
			// header, separator, or otherwise unclassifiable line
			continue
		}
		// BUSID VID:PID DEVICE... STATE — the device name is everything
		// between the VID:PID column and the trailing state column.
		desc := strings.Join(fields[2:len(fields)-1], " ")
		if desc == "" {
			desc = fields[2]
		}
		devices = append(devices, DeviceIdentity{BusID: fields[0], Description: desc})
	}
	return devices
}
