// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package bus serializes access to the accelerometer session. Long
// operations reserve the arbiter up front and are rejected with ErrBusy if
// another one is running; live preview only ever waits a bounded time.
package bus

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrBusy rejects a long operation while another one is active.
	ErrBusy = errors.New("bus: busy")
	// ErrUnavailable means a bounded acquire gave up.
	ErrUnavailable = errors.New("bus: unavailable")
)

// Session identifies who owns the sensor.
type Session int

const (
	None Session = iota
	Recording
	LivePreview
	StaticCalibration
	SixPositionCalibration
)

func (s Session) String() string {
	switch s {
	case None:
		return "none"
	case Recording:
		return "recording"
	case LivePreview:
		return "live"
	case StaticCalibration:
		return "static_calibration"
	case SixPositionCalibration:
		return "six_position_calibration"
	}
	return "unknown"
}

// Long reports whether s is one of the exclusive long operations.
func (s Session) Long() bool {
	return s == Recording || s == StaticCalibration || s == SixPositionCalibration
}

// Arbiter owns the single sensor session.
type Arbiter struct {
	mu       sync.Mutex
	reserved Session // long operation admitted, holding or waiting
	holder   Session // current owner of the bus
	sem      chan struct{}
}

// NewArbiter returns an idle arbiter.
func NewArbiter() *Arbiter {
	return &Arbiter{sem: make(chan struct{}, 1)}
}

// Active returns the admitted long operation, or None.
func (a *Arbiter) Active() Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reserved
}

// Holder returns who currently holds the bus.
func (a *Arbiter) Holder() Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.holder
}

// Reserve admits a long operation without touching the bus. It fails with
// ErrBusy if another long operation is admitted. The caller must call
// Lease.Release exactly once, whether or not Acquire succeeded.
func (a *Arbiter) Reserve(s Session) (*Lease, error) {
	if !s.Long() {
		return nil, errors.New("bus: reserve requires a long session")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reserved != None {
		return nil, ErrBusy
	}
	a.reserved = s
	return &Lease{a: a, s: s}, nil
}

// TryAcquire takes the bus for a short operation, waiting at most timeout.
// It returns ErrUnavailable immediately if a long operation is admitted.
func (a *Arbiter) TryAcquire(s Session, timeout time.Duration) (*Lease, error) {
	if s.Long() {
		return nil, errors.New("bus: long sessions must Reserve")
	}
	if a.Active() != None {
		return nil, ErrUnavailable
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case a.sem <- struct{}{}:
	case <-t.C:
		return nil, ErrUnavailable
	}
	a.mu.Lock()
	a.holder = s
	a.mu.Unlock()
	return &Lease{a: a, s: s, held: true}, nil
}

// Lease is one admission to the arbiter.
type Lease struct {
	a    *Arbiter
	s    Session
	mu   sync.Mutex
	held bool
	done bool
}

// Session returns the kind of this lease.
func (l *Lease) Session() Session {
	return l.s
}

// Acquire blocks until the bus is free or ctx is done.
func (l *Lease) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		return errors.New("bus: lease released")
	}
	if l.held {
		return nil
	}
	select {
	case l.a.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	l.held = true
	l.a.mu.Lock()
	l.a.holder = l.s
	l.a.mu.Unlock()
	return nil
}

// Release frees the bus and the long-operation slot. It is idempotent.
func (l *Lease) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		return
	}
	l.done = true
	l.a.mu.Lock()
	if l.held {
		l.a.holder = None
	}
	if l.s.Long() && l.a.reserved == l.s {
		l.a.reserved = None
	}
	l.a.mu.Unlock()
	if l.held {
		<-l.a.sem
		l.held = false
	}
}
