// SPDX-License-Identifier: GPL-2.0-only

package parse

import (
	"strings"

	"github.com/bwiersma/usbip-bridge/dialect"
)

// PortRecord describes one occupied local virtual port as reported by
// `usbip port`. LocalBusID is filled when the local tool exposes bus-ids
// (reliable correlation); on platforms that only print descriptions it
// stays empty and callers fall back to description matching. RemoteBusID
// is extracted from the usbip URL trailer some clients print.
type PortRecord struct {
	Port        string
	LocalBusID  string
	Description string
	RemoteBusID string
}

// ParseLocalPorts parses `usbip port` output. Input is block structured: a
// "Port N:" line opens a block; subsequent lines carry a local bus-id, a
// free-text description, or a "-> usbip://host:port/busid" trailer, until
// the next Port line or end of input. Unparseable lines are skipped.
func ParseLocalPorts(text string) []PortRecord {
	var records []PortRecord
	var current *PortRecord

	flush := func() {
		if current != nil && (current.LocalBusID != "" || current.Description != "" || current.RemoteBusID != "") {
			records = append(records, *current)
		}
		current = nil
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Port"):
			flush()
			fields := strings.Fields(line)
			if len(fields) < 2 {
				continue
			}
			current = &PortRecord{Port: strings.TrimSuffix(fields[1], ":")}
		case current == nil || line == "":
			continue
		case strings.HasPrefix(line, "-> usbip://"):
			// -> usbip://192.168.2.184:3240/3-2.3
			if i := strings.LastIndex(line, "/"); i >= 0 && i+1 < len(line) {
				if busid := line[i+1:]; dialect.ValidBusID(busid) {
					current.RemoteBusID = busid
				}
			}
		case looksLikeBusID(line):
			current.LocalBusID = strings.Fields(line)[0]
		case strings.Contains(line, ":") || current.LocalBusID != "":
			if current.Description == "" {
				current.Description = line
			}
		}
	}
	flush()
	return records
}

func looksLikeBusID(line string) bool {
	fields := strings.Fields(line)
	return len(fields) > 0 && dialect.ValidBusID(fields[0])
}
