package uploader

import "sync/atomic"

// Gate admits a single session across all transports.
type Gate struct {
	busy atomic.Bool
}

func NewGate() *Gate {
	return &Gate{}
}

// TryAcquire reports whether the caller now owns the session slot.
func (g *Gate) TryAcquire() bool {
	return g.busy.CompareAndSwap(false, true)
}

func (g *Gate) Release() {
	g.busy.Store(false)
}

func (g *Gate) Busy() bool {
	return g.busy.Load()
}
