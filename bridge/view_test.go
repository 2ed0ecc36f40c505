// SPDX-License-Identifier: GPL-2.0-only

package bridge

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/bwiersma/usbip-bridge/dialect"
	"github.com/bwiersma/usbip-bridge/executor"
	"github.com/bwiersma/usbip-bridge/store"
)

// memDocs is a trivial in-memory document store.
type memDocs struct {
	docs map[string]map[string]interface{}
}

func newMemDocs() *memDocs {
	return &memDocs{docs: map[string]map[string]interface{}{}}
}

func (m *memDocs) Load(name string) map[string]interface{} {
	doc, ok := m.docs[name]
	if !ok {
		return map[string]interface{}{}
	}
	return doc
}

func (m *memDocs) Save(name string, doc map[string]interface{}) error {
	m.docs[name] = doc
	return nil
}

// fakeRunner answers command specs from canned output keyed by argv.
type fakeRunner struct {
	replies map[string]executor.Result
	calls   []string
}

func (f *fakeRunner) Run(_ context.Context, spec dialect.CommandSpec) (executor.Result, error) {
	key := spec.Line
	if len(spec.Argv) > 0 {
		key = strings.Join(spec.Argv, " ")
	}
	f.calls = append(f.calls, key)
	return f.replies[key], nil
}

func newEngine(docs *memDocs, runner executor.Runner) *Engine {
	return &Engine{
		Local:    runner,
		Mappings: store.NewMappingStore(docs),
		Intents:  store.NewIntentStore(docs),
		Cache:    store.NewDescriptionStore(docs),
	}
}

const testHost = "192.168.1.5"

func TestBuildDeviceViewExactMatch(t *testing.T) {
	docs := newMemDocs()
	runner := &fakeRunner{replies: map[string]executor.Result{
		"usbip list -r " + testHost: {Stdout: "Exportable USB devices\n======================\n3-2.1: Razer USA, Ltd : Viper Mini (1532:0077)\n"},
		"usbip port":                {Stdout: "Imported USB devices\n====================\nPort 00:\n  3-2.1\n  Razer Device\n"},
	}}
	e := newEngine(docs, runner)

	rows, err := e.BuildDeviceView(context.Background(), testHost)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1: %+v", len(rows), rows)
	}
	row := rows[0]
	if row.BusID != "3-2.1" || !row.Attached {
		t.Errorf("row = %+v, want attached 3-2.1", row)
	}
	if row.Confidence != MatchExact {
		t.Errorf("Confidence = %q, want exact busid match", row.Confidence)
	}
}

func TestBuildDeviceViewIdempotent(t *testing.T) {
	docs := newMemDocs()
	runner := &fakeRunner{replies: map[string]executor.Result{
		"usbip list -r " + testHost: {Stdout: "3-2.1: Razer USA, Ltd : Viper Mini (1532:0077)\n1-4: Logitech : Unifying Receiver (046d:c52b)\n"},
		"usbip port":                {Stdout: "Port 00:\n  3-2.1\n  Razer Device\n"},
	}}
	e := newEngine(docs, runner)

	first, err := e.BuildDeviceView(context.Background(), testHost)
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.BuildDeviceView(context.Background(), testHost)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("views differ across passes:\n%+v\n%+v", first, second)
	}
	if len(first) != 2 {
		t.Errorf("got %d rows, want 2 (no duplication)", len(first))
	}
}

func TestBuildDeviceViewStaleRemoteList(t *testing.T) {
	docs := newMemDocs()
	runner := &fakeRunner{replies: map[string]executor.Result{
		// The remote session dropped: nothing exportable anymore.
		"usbip list -r " + testHost: {Stdout: "usbip: error: failed to open filter\n"},
		"usbip port":                {Stdout: "Port 00:\n  1-1\n  Razer Device\n"},
	}}
	e := newEngine(docs, runner)
	if err := e.Mappings.Put("3-2.1", "Razer Viper Mini", "00", "1-1"); err != nil {
		t.Fatal(err)
	}

	rows, err := e.BuildDeviceView(context.Background(), testHost)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1: %+v", len(rows), rows)
	}
	row := rows[0]
	if row.BusID != "3-2.1" || !row.Attached {
		t.Errorf("live attachment dropped from view: %+v", row)
	}
	if row.Description != "Razer Viper Mini" {
		t.Errorf("Description = %q, want the mapped description", row.Description)
	}
}

func TestBuildDeviceViewBarePortRow(t *testing.T) {
	docs := newMemDocs()
	runner := &fakeRunner{replies: map[string]executor.Result{
		"usbip list -r " + testHost: {Stdout: ""},
		"usbip port":                {Stdout: "Port 03:\n  unknown vendor : unknown product\n"},
	}}
	e := newEngine(docs, runner)

	rows, err := e.BuildDeviceView(context.Background(), testHost)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1: %+v", len(rows), rows)
	}
	row := rows[0]
	if row.BusID != "Port 03" || !row.Attached || row.Confidence != MatchHeuristic {
		t.Errorf("bare port row = %+v", row)
	}
}

func TestBuildDeviceViewAutoFlag(t *testing.T) {
	docs := newMemDocs()
	runner := &fakeRunner{replies: map[string]executor.Result{
		"usbip list -r " + testHost: {Stdout: "3-2.1: Razer USA, Ltd : Viper Mini (1532:0077)\n"},
		"usbip port":                {Stdout: ""},
	}}
	e := newEngine(docs, runner)
	key := store.DeviceKey{Table: store.TableLocal, Host: testHost, BusID: "3-2.1"}
	if err := e.Intents.SetAutoReconnect(key, true); err != nil {
		t.Fatal(err)
	}

	rows, err := e.BuildDeviceView(context.Background(), testHost)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || !rows[0].AutoEnabled {
		t.Errorf("rows = %+v, want auto-enabled 3-2.1", rows)
	}
	if rows[0].Attached {
		t.Error("detached device reported attached")
	}
}

func TestBuildDeviceViewDescriptionFallback(t *testing.T) {
	docs := newMemDocs()
	runner := &fakeRunner{replies: map[string]executor.Result{
		"usbip list -r " + testHost: {Stdout: "3-2.1: Razer USA, Ltd : Viper Mini (1532:0077)\n"},
		// Port block with neither a busid line nor a device URL; only the
		// description can correlate it.
		"usbip port": {Stdout: "Port 00:\n  Razer USA, Ltd : Viper Mini (1532:0077)\n"},
	}}
	e := newEngine(docs, runner)

	rows, err := e.BuildDeviceView(context.Background(), testHost)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1: %+v", len(rows), rows)
	}
	row := rows[0]
	if !row.Attached || row.Confidence != MatchHeuristic {
		t.Errorf("row = %+v, want attached via heuristic description match", row)
	}
}
