// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package recorder

import (
	"sync/atomic"
	"time"
)

// TickSource drives the sample clock. Start arranges for tick to be called
// once per period until the returned stop function is called. tick must do
// O(1) work and never touch the bus.
type TickSource interface {
	Start(hz uint16, tick func()) (stop func())
}

// WallTicker is a TickSource backed by time.Ticker.
type WallTicker struct{}

// Start implements TickSource.
func (WallTicker) Start(hz uint16, tick func()) func() {
	if hz == 0 {
		hz = 1
	}
	t := time.NewTicker(time.Second / time.Duration(hz))
	quit := make(chan struct{})
	go func() {
		for {
			select {
			case <-t.C:
				tick()
			case <-quit:
				return
			}
		}
	}()
	return func() {
		t.Stop()
		close(quit)
	}
}

// tickCounter is the producer side of the sample clock: the tick callback
// increments it and the drain loop swaps it to zero.
type tickCounter struct {
	n    atomic.Uint32
	wake chan struct{}
}

func newTickCounter() *tickCounter {
	return &tickCounter{wake: make(chan struct{}, 1)}
}

func (c *tickCounter) tick() {
	c.n.Add(1)
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *tickCounter) drain() uint32 {
	return c.n.Swap(0)
}
