// SPDX-License-Identifier: GPL-2.0-only

// Package bridge ties the command resolver, parsers and stores together:
// it reconciles remote and local device lists into one view, runs the
// auto-reconnect scan, and fronts both behind a service facade.
package bridge

import (
	"context"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/bwiersma/usbip-bridge/dialect"
	"github.com/bwiersma/usbip-bridge/executor"
	"github.com/bwiersma/usbip-bridge/parse"
	"github.com/bwiersma/usbip-bridge/store"
)

// MatchConfidence records how a device row's attached state was derived.
// Exact means a busid-level correlation; Heuristic means a best-effort
// description match or a synthesized row that a busid could not confirm.
type MatchConfidence string

const (
	MatchExact     MatchConfidence = "exact"
	MatchHeuristic MatchConfidence = "heuristic"
)

// DeviceRow is one line of the reconciled device view for a host.
type DeviceRow struct {
	BusID       string
	Description string
	Attached    bool
	AutoEnabled bool
	Confidence  MatchConfidence
}

// Engine builds the authoritative device view for a host by merging the
// remote device list, the local port list, persisted mappings and intent.
type Engine struct {
	Local    executor.Runner
	Mappings *store.MappingStore
	Intents  *store.IntentStore
	Cache    parse.DescriptionCache
	Logger   log.Logger
}

func (e *Engine) logger() log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.NewNopLogger()
}

// BuildDeviceView reconciles the remote list for host against the local
// port list. Attached devices are never dropped: entries the remote no
// longer reports are recovered through the mapping store, and attached
// ports with no correlation at all surface as bare port rows. The result
// is deterministic for unchanged inputs.
func (e *Engine) BuildDeviceView(ctx context.Context, host string) ([]DeviceRow, error) {
	remote, err := e.remoteList(ctx, host)
	if err != nil {
		return nil, err
	}
	ports := e.localPorts(ctx)

	var rows []DeviceRow
	seen := map[string]bool{}
	emit := func(row DeviceRow) {
		if row.BusID == "" || seen[row.BusID] {
			return
		}
		seen[row.BusID] = true
		row.AutoEnabled = e.Intents.AutoReconnect(store.DeviceKey{
			Table: store.TableLocal, Host: host, BusID: row.BusID,
		})
		rows = append(rows, row)
	}

	remoteSeen := map[string]bool{}
	consumed := map[int]bool{}
	for _, dev := range remote {
		remoteSeen[dev.BusID] = true
		attached, conf, portIdx := e.correlate(dev, ports)
		if portIdx >= 0 {
			consumed[portIdx] = true
		}
		emit(DeviceRow{
			BusID:       dev.BusID,
			Description: dev.Description,
			Attached:    attached,
			Confidence:  conf,
		})
	}

	// Ports whose remote busid dropped out of the current remote list are
	// recovered through the mapping store so live attachments stay visible.
	for i, port := range ports {
		if consumed[i] {
			continue
		}
		remoteBusID, desc := e.resolvePort(port)
		if remoteBusID == "" || remoteSeen[remoteBusID] {
			continue
		}
		consumed[i] = true
		emit(DeviceRow{
			BusID:       remoteBusID,
			Description: desc,
			Attached:    true,
			Confidence:  MatchExact,
		})
	}

	// Anything left is physically attached but has no remote correlation;
	// surface it as a bare port row rather than hiding live hardware.
	for i, port := range ports {
		if consumed[i] {
			continue
		}
		if remoteBusID, _ := e.resolvePort(port); remoteBusID != "" {
			continue
		}
		busid := port.LocalBusID
		if busid == "" {
			busid = "Port " + port.Port
		}
		emit(DeviceRow{
			BusID:       busid,
			Description: port.Description,
			Attached:    true,
			Confidence:  MatchHeuristic,
		})
	}

	return rows, nil
}

func (e *Engine) remoteList(ctx context.Context, host string) ([]parse.DeviceIdentity, error) {
	spec, err := dialect.RemoteListCommand(host)
	if err != nil {
		return nil, err
	}
	res, err := e.Local.Run(ctx, spec)
	if err != nil {
		return nil, err
	}
	return parse.ParseRemoteList(res.Stdout, host, e.Cache), nil
}

// localPorts degrades to an empty list on failure; a broken local port
// query must not take down the whole view.
func (e *Engine) localPorts(ctx context.Context) []parse.PortRecord {
	res, err := e.Local.Run(ctx, dialect.PortListCommand())
	if err != nil {
		level.Warn(e.logger()).Log("msg", "local port listing failed", "err", err)
		return nil
	}
	return parse.ParseLocalPorts(res.Stdout)
}

// correlate decides whether a remote device is currently attached. A
// busid-level match wins; description matching is a fallback for port
// blocks that never exposed a usable busid. The returned index marks the
// port record the match consumed, -1 when no port was claimed.
func (e *Engine) correlate(dev parse.DeviceIdentity, ports []parse.PortRecord) (bool, MatchConfidence, int) {
	for i, port := range ports {
		if port.RemoteBusID == dev.BusID || (port.LocalBusID != "" && port.LocalBusID == dev.BusID) {
			return true, MatchExact, i
		}
	}
	if m, ok := e.Mappings.Get(dev.BusID); ok {
		for i, port := range ports {
			if port.LocalBusID != "" && port.LocalBusID == m.PortBusID {
				return true, MatchExact, i
			}
		}
	}
	for i, port := range ports {
		if port.RemoteBusID != "" || port.LocalBusID != "" {
			continue
		}
		if descriptionsMatch(dev.Description, port.Description) {
			return true, MatchHeuristic, i
		}
	}
	return false, MatchExact, -1
}

// resolvePort maps a local port record back to its remote busid, first by
// the busid embedded in the port's device URL, then via the mapping store.
func (e *Engine) resolvePort(port parse.PortRecord) (remoteBusID, desc string) {
	if port.RemoteBusID != "" {
		desc = port.Description
		if m, ok := e.Mappings.Get(port.RemoteBusID); ok && m.RemoteDesc != "" {
			desc = m.RemoteDesc
		}
		return port.RemoteBusID, desc
	}
	if port.LocalBusID != "" {
		if remote, ok := e.Mappings.ReverseLookup(port.LocalBusID); ok {
			desc = port.Description
			if m, ok := e.Mappings.Get(remote); ok && m.RemoteDesc != "" {
				desc = m.RemoteDesc
			}
			return remote, desc
		}
	}
	return "", ""
}

func descriptionsMatch(remote, local string) bool {
	remote = strings.TrimSpace(remote)
	local = strings.TrimSpace(local)
	if remote == "" || local == "" {
		return false
	}
	return remote == local ||
		strings.Contains(remote, local) ||
		strings.Contains(local, remote)
}
