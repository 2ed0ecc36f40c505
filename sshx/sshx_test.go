// SPDX-License-Identifier: GPL-2.0-only

package sshx

import (
	"context"
	"testing"
	"time"

	"github.com/efficientgo/core/testutil"

	"github.com/bwiersma/usbip-bridge/dialect"
	"github.com/bwiersma/usbip-bridge/executor"
)

// scriptedSession answers each command line from a canned table.
type scriptedSession struct {
	replies map[string]executor.Result
}

func (s *scriptedSession) Exec(_ context.Context, line, _ string) (executor.Result, error) {
	res, ok := s.replies[line]
	if !ok {
		return executor.Result{ExitCode: 127, Stderr: line + ": command not found"}, nil
	}
	return res, nil
}

func TestDetectProfile(t *testing.T) {
	for _, tc := range []struct {
		name    string
		replies map[string]executor.Result
		want    dialect.RemoteHostProfile
	}{
		{
			name: "windows with native service",
			replies: map[string]executor.Result{
				"ver":              {Stdout: "Microsoft Windows [Version 10.0.22631.3447]"},
				"usbipd --version": {Stdout: "4.2.0"},
			},
			want: dialect.RemoteHostProfile{OS: dialect.OSWindows, HasNativeService: true},
		},
		{
			name: "windows service running but no cli version",
			replies: map[string]executor.Result{
				"ver":              {Stdout: "Microsoft Windows [Version 10.0.19045]"},
				"usbipd --version": {ExitCode: 1},
				"sc query usbipd":  {Stdout: "SERVICE_NAME: usbipd\n        STATE              : 4  RUNNING"},
			},
			want: dialect.RemoteHostProfile{OS: dialect.OSWindows, HasNativeService: true},
		},
		{
			name: "windows without usbipd",
			replies: map[string]executor.Result{
				"ver":             {Stdout: "Microsoft Windows [Version 10.0.19045]"},
				"sc query usbipd": {ExitCode: 1060, Stderr: "The specified service does not exist"},
			},
			want: dialect.RemoteHostProfile{OS: dialect.OSWindows},
		},
		{
			name: "linux",
			replies: map[string]executor.Result{
				"uname -s": {Stdout: "Linux\n"},
			},
			want: dialect.RemoteHostProfile{OS: dialect.OSLinux},
		},
		{
			name: "darwin",
			replies: map[string]executor.Result{
				"uname -s": {Stdout: "Darwin\n"},
			},
			want: dialect.RemoteHostProfile{OS: dialect.OSDarwin},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DetectProfile(context.Background(), &scriptedSession{replies: tc.replies})
			testutil.Ok(t, err)
			testutil.Equals(t, tc.want, got)
		})
	}
}

func TestDetectProfileUnknownOS(t *testing.T) {
	sess := &scriptedSession{replies: map[string]executor.Result{
		"uname -s": {Stdout: "Plan9\n"},
	}}
	if _, err := DetectProfile(context.Background(), sess); err == nil {
		t.Fatal("expected error for unrecognized OS")
	}
}

func TestRateLimiterWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	r := NewRateLimiter(3, 5*time.Minute)
	r.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !r.Allow() {
			t.Fatalf("attempt %d denied inside limit", i)
		}
	}
	if r.Allow() {
		t.Fatal("fourth attempt allowed inside window")
	}
	if got := r.Remaining(); got != 0 {
		t.Errorf("Remaining() = %d, want 0", got)
	}

	// The window slides: once the oldest stamp ages out, one slot frees up.
	now = now.Add(5*time.Minute + time.Second)
	if got := r.Remaining(); got != 3 {
		t.Errorf("Remaining() after window = %d, want 3", got)
	}
	if !r.Allow() {
		t.Fatal("attempt denied after window expired")
	}
}

func TestCredentialCache(t *testing.T) {
	c := NewCredentialCache()

	if _, ok := c.Get("hostA"); ok {
		t.Error("empty cache returned credentials")
	}
	c.Put("hostA", Credentials{Username: "alice", Secret: "hunter2"})
	creds, ok := c.Get("hostA")
	if !ok || creds.Username != "alice" {
		t.Errorf("Get(hostA) = %+v, %v", creds, ok)
	}
	c.Forget("hostA")
	if _, ok := c.Get("hostA"); ok {
		t.Error("credentials survive Forget")
	}
}
