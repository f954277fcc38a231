package timers

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/danmuck/devctl/internal/observability"
	"github.com/rs/zerolog/log"
)

var (
	ErrZeroPeriod   = errors.New("timers: timers with no period are not supported")
	ErrBadPeriod    = errors.New("timers: period out of range")
	ErrNilCallback  = errors.New("timers: callback is nil")
	ErrBridgeClosed = errors.New("timers: bridge closed")
)

// MaxPeriodMs is the longest period a native timer can represent.
const MaxPeriodMs = math.MaxInt64 / int64(time.Millisecond)

// Callback is a script callback reference; a returned error is a script exception.
type Callback func() error

// Scheduler hands work to the cooperative loop. Schedule is the only call the
// firing context makes and reports false when the loop no longer accepts work.
type Scheduler interface {
	Schedule(fn func()) bool
}

// Invocation is the deferred request queued by a native timer expiry.
type Invocation struct {
	TimerID int
	Cleanup bool
}

type entry struct {
	callback Callback
	native   NativeTimer
	oneShot  bool
}

// Bridge owns the callback registry keyed by logical timer id. Ids increase
// monotonically and are never reused, independent of native timer identity.
type Bridge struct {
	platform Platform
	sched    Scheduler
	start    time.Duration
	nextID   int
	registry map[int]entry
	closed   bool
}

func NewBridge(platform Platform, sched Scheduler) *Bridge {
	return &Bridge{
		platform: platform,
		sched:    sched,
		start:    platform.Ticks(),
		registry: make(map[int]entry),
	}
}

// CreateTimer registers callback and starts a native timer with the given
// period. The timer repeats unless oneShot.
func (b *Bridge) CreateTimer(periodMs int64, oneShot bool, callback Callback) (int, error) {
	switch {
	case b.closed:
		return 0, ErrBridgeClosed
	case periodMs == 0:
		return 0, ErrZeroPeriod
	case periodMs < 0, periodMs > MaxPeriodMs:
		return 0, fmt.Errorf("%w: %d", ErrBadPeriod, periodMs)
	case callback == nil:
		return 0, ErrNilCallback
	}

	b.nextID++
	id := b.nextID
	inv := Invocation{TimerID: id, Cleanup: oneShot}

	var native NativeTimer
	native = b.platform.NewTimer(time.Duration(periodMs)*time.Millisecond, !oneShot, func() {
		b.fire(inv, native)
	})
	b.registry[id] = entry{callback: callback, native: native, oneShot: oneShot}
	native.Start()

	observability.SetTimersActive(len(b.registry))
	log.Debug().Int("timer", id).Int64("period_ms", periodMs).Bool("one_shot", oneShot).Msg("timer created")
	return id, nil
}

// DeleteTimer cancels future firings of id. Unknown ids are ignored.
func (b *Bridge) DeleteTimer(id int) {
	e, ok := b.registry[id]
	if !ok {
		return
	}
	delete(b.registry, id)
	e.native.Delete()
	observability.SetTimersActive(len(b.registry))
	log.Debug().Int("timer", id).Msg("timer deleted")
}

// Millis is the time elapsed since the bridge was created.
func (b *Bridge) Millis() int64 {
	return (b.platform.Ticks() - b.start).Milliseconds()
}

// Invoke runs the callback for a drained Invocation. A request whose timer
// was deleted after it was queued finds no entry and is dropped.
func (b *Bridge) Invoke(inv Invocation) {
	e, ok := b.registry[inv.TimerID]
	if !ok {
		log.Debug().Int("timer", inv.TimerID).Msg("timers.Bridge.Invoke stale invocation dropped")
		observability.RecordTimerInvocation("stale")
		return
	}

	err := e.callback()

	if inv.Cleanup {
		delete(b.registry, inv.TimerID)
		observability.SetTimersActive(len(b.registry))
	}
	if err != nil {
		log.Error().Int("timer", inv.TimerID).Err(err).Msg("timer callback failed")
		observability.RecordTimerInvocation("error")
		return
	}
	observability.RecordTimerInvocation("ok")
}

// Has reports whether id is still registered.
func (b *Bridge) Has(id int) bool {
	_, ok := b.registry[id]
	return ok
}

// Active returns registered timer ids in ascending order.
func (b *Bridge) Active() []int {
	ids := make([]int, 0, len(b.registry))
	for id := range b.registry {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Close deletes every native timer and clears the registry.
func (b *Bridge) Close() {
	for id, e := range b.registry {
		e.native.Delete()
		delete(b.registry, id)
	}
	b.closed = true
	observability.SetTimersActive(0)
}

// fire runs in the firing context and must not read the registry.
func (b *Bridge) fire(inv Invocation, native NativeTimer) {
	observability.RecordTimerFiring(inv.Cleanup)
	if !b.sched.Schedule(func() { b.Invoke(inv) }) {
		log.Debug().Int("timer", inv.TimerID).Msg("timers.Bridge.fire loop closed, firing dropped")
	}
	if inv.Cleanup {
		native.Delete()
	}
}
