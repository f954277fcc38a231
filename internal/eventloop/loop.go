// Package eventloop is the cooperative execution context: every task queued
// here runs on one goroutine, strictly one at a time.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

var ErrLoopClosed = errors.New("eventloop: loop closed")

const DefaultDepth = 64

// Loop is a multi-producer, single-consumer task queue. Schedule and Do may
// be called from any goroutine; tasks only run inside Run or RunPending.
type Loop struct {
	tasks     chan func()
	done      chan struct{}
	closeOnce sync.Once
}

func New(depth int) *Loop {
	if depth <= 0 {
		depth = DefaultDepth
	}
	return &Loop{
		tasks: make(chan func(), depth),
		done:  make(chan struct{}),
	}
}

// Schedule enqueues fn, blocking while the queue is full. It returns false
// once the loop is closed.
func (l *Loop) Schedule(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do runs fn on the loop and waits for it. Never call Do from a loop task.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Schedule(func() {
		defer close(finished)
		fn()
	}) {
		return ErrLoopClosed
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrLoopClosed
	}
}

// Run drains tasks until ctx is done, then closes the loop.
func (l *Loop) Run(ctx context.Context) error {
	defer l.Close()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("eventloop.Loop.Run shutdown")
			return nil
		case <-l.done:
			return nil
		case fn := <-l.tasks:
			l.runTask(fn)
		}
	}
}

// RunPending runs every task already queued without blocking and returns the count.
func (l *Loop) RunPending() int {
	n := 0
	for {
		select {
		case fn := <-l.tasks:
			l.runTask(fn)
			n++
		default:
			return n
		}
	}
}

func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		close(l.done)
	})
}

func (l *Loop) Closed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

func (l *Loop) runTask(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("panic", fmt.Sprint(r)).Msg("eventloop task panicked")
		}
	}()
	fn()
}
