package timers

import (
	"sync"
	"time"
)

// NativeTimer is a platform timer created stopped.
type NativeTimer interface {
	Start()
	// Delete stops the timer and releases it. It is idempotent.
	Delete()
}

// Platform provides native timers and the monotonic tick source.
type Platform interface {
	// NewTimer creates a stopped timer whose fire func runs in the firing
	// context on every expiry.
	NewTimer(period time.Duration, autoReload bool, fire func()) NativeTimer
	Ticks() time.Duration
}

// GoPlatform runs native timers on time.AfterFunc goroutines.
type GoPlatform struct {
	origin time.Time
}

func NewGoPlatform() *GoPlatform {
	return &GoPlatform{origin: time.Now()}
}

// Ticks uses the monotonic clock reading carried by time.Time.
func (p *GoPlatform) Ticks() time.Duration {
	return time.Since(p.origin)
}

func (p *GoPlatform) NewTimer(period time.Duration, autoReload bool, fire func()) NativeTimer {
	return &goTimer{period: period, autoReload: autoReload, fire: fire}
}

type goTimer struct {
	mu         sync.Mutex
	period     time.Duration
	autoReload bool
	fire       func()
	t          *time.Timer
	deleted    bool
}

func (g *goTimer) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.deleted || g.t != nil {
		return
	}
	g.t = time.AfterFunc(g.period, g.expire)
}

func (g *goTimer) expire() {
	g.mu.Lock()
	if g.deleted {
		g.mu.Unlock()
		return
	}
	// rearm before firing so the period does not drift by the fire cost
	if g.autoReload {
		g.t.Reset(g.period)
	}
	g.mu.Unlock()
	g.fire()
}

func (g *goTimer) Delete() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted = true
	if g.t != nil {
		g.t.Stop()
	}
}
