// SPDX-License-Identifier: GPL-2.0-only

package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/bwiersma/usbip-bridge/store"
)

// Actions is the slice of device operations the reconnect scan drives.
// Attach pulls a shared remote device into the local stack; Bind marks a
// device shared on the remote; Bound reports the remote's current share
// table. All report plain success or failure.
type Actions interface {
	Attach(ctx context.Context, host, busid string) bool
	Bind(ctx context.Context, host, busid string) bool
	Bound(ctx context.Context, host string) (map[string]bool, error)
}

// Reconnector scans the persisted auto-reconnect intent for one host and
// re-issues attach/bind operations for devices observed missing. Attempt
// counters live in memory only; a restart starts fresh.
type Reconnector struct {
	Engine   *Engine
	Intents  *store.IntentStore
	Actions  Actions
	Grace    *GracePeriod
	HasCreds func(host string) bool
	Notify   func(text string)
	Logger   log.Logger
	Metrics  *Metrics

	mu       sync.Mutex
	attempts map[store.DeviceKey]int
}

func (r *Reconnector) logger() log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.NewNopLogger()
}

func (r *Reconnector) notify(text string) {
	if r.Notify != nil {
		r.Notify(text)
	}
}

// Reset clears the attempt counter for key, for use when the user
// re-enables auto-reconnect after exhaustion.
func (r *Reconnector) Reset(key store.DeviceKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.attempts, key)
}

func (r *Reconnector) bump(key store.DeviceKey) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attempts == nil {
		r.attempts = map[store.DeviceKey]int{}
	}
	r.attempts[key]++
	return r.attempts[key]
}

// Tick runs one scan for host. Each eligible device gets exactly one
// sequential attempt; a failure on one key never aborts the rest.
func (r *Reconnector) Tick(ctx context.Context, host string) {
	settings := r.Intents.Settings()
	if !settings.AutoReconnectEnabled {
		return
	}
	// A live grace window suppresses the whole scan, both tables; the
	// stack gets its settle time before any attempt counts against a key.
	if r.Grace != nil && r.Grace.Active() {
		level.Debug(r.logger()).Log("msg", "scan suppressed by grace period", "host", host)
		return
	}

	var local, remote []store.DeviceKey
	for _, key := range r.Intents.AutoReconnectKeys() {
		if key.Host != host {
			continue
		}
		switch key.Table {
		case store.TableLocal:
			local = append(local, key)
		case store.TableRemote:
			remote = append(remote, key)
		}
	}

	if len(local) > 0 {
		r.scanLocal(ctx, host, local, settings)
	}
	if len(remote) > 0 {
		r.scanRemote(ctx, host, remote, settings)
	}
}

func (r *Reconnector) scanLocal(ctx context.Context, host string, keys []store.DeviceKey, settings store.Settings) {
	rows, err := r.Engine.BuildDeviceView(ctx, host)
	if err != nil {
		level.Warn(r.logger()).Log("msg", "reconnect scan skipped, device view failed", "host", host, "err", err)
		return
	}
	attached := map[string]bool{}
	for _, row := range rows {
		if row.Attached {
			attached[row.BusID] = true
		}
	}

	reattached := false
	for _, key := range keys {
		if attached[key.BusID] {
			r.Reset(key)
			continue
		}
		ok := r.Actions.Attach(ctx, host, key.BusID)
		r.Metrics.reconnect(ok)
		if ok {
			r.Reset(key)
			reattached = true
			if r.Grace != nil {
				r.Grace.Start(settings.GraceDuration())
			}
			level.Info(r.logger()).Log("msg", "auto-reconnect attached device", "host", host, "busid", key.BusID)
			continue
		}
		r.fail(key, settings)
	}

	// A reattached device changes the view; rebuild it right away so the
	// observed state reflects the new attachment before the next tick.
	if reattached {
		if rows, err := r.Engine.BuildDeviceView(ctx, host); err == nil {
			r.Metrics.observeView(rows)
		}
	}
}

func (r *Reconnector) scanRemote(ctx context.Context, host string, keys []store.DeviceKey, settings store.Settings) {
	// No cached credentials means the user never connected this run;
	// skipping silently is the expected behavior, not an error.
	if r.HasCreds == nil || !r.HasCreds(host) {
		return
	}
	bound, err := r.Actions.Bound(ctx, host)
	if err != nil {
		level.Warn(r.logger()).Log("msg", "remote scan skipped, share table unavailable", "host", host, "err", err)
		return
	}

	for _, key := range keys {
		if bound[key.BusID] {
			r.Reset(key)
			continue
		}
		ok := r.Actions.Bind(ctx, host, key.BusID)
		r.Metrics.reconnect(ok)
		if ok {
			r.Reset(key)
			level.Info(r.logger()).Log("msg", "auto-reconnect bound device", "host", host, "busid", key.BusID)
			continue
		}
		r.fail(key, settings)
	}
}

// fail records one failed attempt and, once the budget is spent, forces
// the auto flag off and tells the user exactly once.
func (r *Reconnector) fail(key store.DeviceKey, settings store.Settings) {
	n := r.bump(key)
	level.Debug(r.logger()).Log("msg", "reconnect attempt failed",
		"host", key.Host, "busid", key.BusID, "table", key.Table, "attempt", n)
	if n < settings.MaxAttempts {
		return
	}
	if err := r.Intents.SetAutoReconnect(key, false); err != nil {
		level.Warn(r.logger()).Log("msg", "disabling auto-reconnect failed", "err", err)
	}
	r.Reset(key)
	r.Metrics.exhausted()
	r.notify(fmt.Sprintf("Auto-reconnect disabled for %s on %s after %d failed attempts.",
		key.BusID, key.Host, settings.MaxAttempts))
}
