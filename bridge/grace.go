// SPDX-License-Identifier: GPL-2.0-only

package bridge

import (
	"sync"
	"time"
)

// GracePeriod is the process-wide suppression window started after manual
// device operations. While active, the auto-reconnect scan does nothing.
// Starting a new window replaces any active one; windows never stack.
type GracePeriod struct {
	mu    sync.Mutex
	until time.Time
	now   func() time.Time
}

func NewGracePeriod() *GracePeriod {
	return &GracePeriod{now: time.Now}
}

// Start opens (or restarts) the window for d.
func (g *GracePeriod) Start(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.until = g.now().Add(d)
}

// Active reports whether the window is still open.
func (g *GracePeriod) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.now().Before(g.until)
}
