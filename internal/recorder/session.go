// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package recorder runs one timer-driven acquisition session: ticks are
// counted by the sample clock and drained by a single loop that reads the
// sensor and appends fixed-size chunks to the recording file.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/relabs-tech/accel_logger/internal/imu"
	"github.com/relabs-tech/accel_logger/internal/metrics"
	"github.com/relabs-tech/accel_logger/internal/sensors"
	"github.com/relabs-tech/accel_logger/internal/storage"
)

// DefaultChunkSize is the number of records buffered per append.
const DefaultChunkSize = 1024

// State of a session.
type State int

const (
	Idle State = iota
	Configuring
	Sampling
	Stopping
	Closed
	Failed
)

var stateNames = [...]string{"idle", "configuring", "sampling", "stopping", "closed", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("recorder: unknown state %q", b)
}

// Sensor is what a session needs from the accelerometer.
type Sensor interface {
	Configure(cfg sensors.Config) error
	ReadRawAligned() (imu.Sample, error)
	ActiveResolutionBits() uint8
}

// SampleWriter persists record chunks and finalizes the header.
type SampleWriter interface {
	Append(chunk []imu.Sample) error
	Close(samples uint32) error
}

// Options fix everything about a session before it starts.
type Options struct {
	Path        string
	RateHz      uint16
	Seconds     uint16
	Sensor      sensors.Config
	QBits       uint8
	Calibration imu.Calibration
	ChunkSize   int
	Ticks       TickSource
	Create      func(path string, h storage.FileHeader) (SampleWriter, error)
}

// Status is a snapshot of a session for polling.
type Status struct {
	State        State         `json:"state"`
	Path         string        `json:"currentFile"`
	RateHz       uint16        `json:"hz"`
	Seconds      uint16        `json:"sec"`
	FullScaleG   uint8         `json:"fs_g"`
	Mode         string        `json:"mode"`
	Target       uint32        `json:"target"`
	Written      uint32        `json:"samples"`
	MaxBacklog   uint32        `json:"maxBacklog"`
	DroppedReads uint32        `json:"droppedReads"`
	Elapsed      time.Duration `json:"-"`
	ElapsedMs    int64         `json:"elapsedMs"`
	Err          string        `json:"lastError,omitempty"`
}

// Session is one acquisition run. Run executes it; Stop requests a
// cooperative stop; Done and Wait observe completion.
type Session struct {
	opts Options

	mu      sync.Mutex
	st      Status
	started time.Time
	err     error

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New validates opts and returns an idle session.
func New(opts Options) (*Session, error) {
	if opts.Path == "" {
		return nil, errors.New("recorder: empty path")
	}
	if opts.RateHz == 0 || opts.Seconds == 0 {
		return nil, errors.New("recorder: rate and duration must be positive")
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Ticks == nil {
		opts.Ticks = WallTicker{}
	}
	if opts.Create == nil {
		opts.Create = createFile
	}
	return &Session{
		opts: opts,
		st: Status{
			State:      Idle,
			Path:       opts.Path,
			RateHz:     opts.RateHz,
			Seconds:    opts.Seconds,
			FullScaleG: opts.Sensor.FullScale.G(),
			Mode:       opts.Sensor.Mode.String(),
			Target:     uint32(opts.RateHz) * uint32(opts.Seconds),
		},
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}, nil
}

func createFile(path string, h storage.FileHeader) (SampleWriter, error) {
	w, err := storage.Create(path, h)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Status returns the current snapshot.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.st
	if !s.started.IsZero() && (st.State == Sampling || st.State == Stopping) {
		st.Elapsed = time.Since(s.started)
	}
	st.ElapsedMs = st.Elapsed.Milliseconds()
	return st
}

// Stop asks the session to finish after flushing the current chunk.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until Run returns and reports its outcome.
func (s *Session) Wait() (Status, error) {
	<-s.done
	s.mu.Lock()
	err := s.err
	s.mu.Unlock()
	return s.Status(), err
}

// Run opens the sensor, writes the file and closes it. It must be called
// once, by the goroutine that holds the bus.
func (s *Session) Run(ctx context.Context, open func() (Sensor, error)) (err error) {
	defer func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	}()

	s.setState(Configuring)
	sensor, err := open()
	if err != nil {
		return s.fail(fmt.Errorf("recorder: open sensor: %w", err))
	}
	if err := sensor.Configure(s.opts.Sensor); err != nil {
		return s.fail(fmt.Errorf("recorder: %w", err))
	}
	res := sensor.ActiveResolutionBits()
	h := storage.NewHeader(s.opts.RateHz, s.opts.Seconds, s.opts.Sensor.FullScale.G(), res, s.opts.QBits, s.opts.Calibration)
	w, err := s.opts.Create(s.opts.Path, h)
	if err != nil {
		return s.fail(fmt.Errorf("recorder: %w", err))
	}

	log.Printf("recorder: start %s rate=%dHz duration=%ds mode=%s res=%d q=%d",
		s.opts.Path, s.opts.RateHz, s.opts.Seconds, s.opts.Sensor.Mode, res, s.opts.QBits)

	counter := newTickCounter()
	metrics.ResetBacklog()
	s.mu.Lock()
	s.started = time.Now()
	s.st.State = Sampling
	s.mu.Unlock()
	stopTicks := s.opts.Ticks.Start(s.opts.RateHz, counter.tick)

	written, loopErr := s.drain(ctx, sensor, w, counter, res)

	stopTicks()
	closeErr := w.Close(written)

	s.mu.Lock()
	s.st.Written = written
	s.st.Elapsed = time.Since(s.started)
	st := s.st
	s.mu.Unlock()

	log.Printf("recorder: closed %s samples=%s/%s maxBacklog=%d dropped=%d elapsed=%s",
		s.opts.Path, humanize.Comma(int64(st.Written)), humanize.Comma(int64(st.Target)),
		st.MaxBacklog, st.DroppedReads, st.Elapsed.Round(time.Millisecond))

	if loopErr != nil {
		return s.fail(fmt.Errorf("recorder: %w", loopErr))
	}
	if closeErr != nil {
		return s.fail(fmt.Errorf("recorder: %w", closeErr))
	}
	s.setState(Closed)
	metrics.SessionFinished("recording", "ok")
	return nil
}

func (s *Session) drain(ctx context.Context, sensor Sensor, w SampleWriter, counter *tickCounter, res uint8) (uint32, error) {
	target := uint32(s.opts.RateHz) * uint32(s.opts.Seconds)
	chunk := make([]imu.Sample, 0, s.opts.ChunkSize)
	var idx, written uint32

	for idx < target && !s.stopping(ctx) {
		due := counter.drain()
		s.noteBacklog(due)
		if due == 0 {
			select {
			case <-counter.wake:
			case <-s.stop:
			case <-ctx.Done():
			}
			continue
		}
		for due > 0 && idx < target && !s.stopping(ctx) {
			chunk = chunk[:0]
			for due > 0 && len(chunk) < cap(chunk) && idx < target && !s.stopping(ctx) {
				smp, err := sensor.ReadRawAligned()
				due--
				if err != nil {
					s.noteDropped()
					continue
				}
				chunk = append(chunk, sensors.QuantizeSample(smp, res, s.opts.QBits))
				idx++
			}
			if len(chunk) == 0 {
				continue
			}
			if err := w.Append(chunk); err != nil {
				return written, err
			}
			written = idx
			metrics.SamplesWritten(len(chunk))
			s.mu.Lock()
			s.st.Written = written
			s.mu.Unlock()
		}
	}
	return written, nil
}

func (s *Session) stopping(ctx context.Context) bool {
	select {
	case <-s.stop:
	case <-ctx.Done():
	default:
		return false
	}
	s.mu.Lock()
	if s.st.State == Sampling {
		s.st.State = Stopping
	}
	s.mu.Unlock()
	return true
}

func (s *Session) noteBacklog(due uint32) {
	s.mu.Lock()
	if due > s.st.MaxBacklog {
		s.st.MaxBacklog = due
		metrics.ObserveBacklog(due)
	}
	s.mu.Unlock()
}

func (s *Session) noteDropped() {
	s.mu.Lock()
	s.st.DroppedReads++
	s.mu.Unlock()
	metrics.DroppedRead()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.st.State = st
	s.mu.Unlock()
}

func (s *Session) fail(err error) error {
	s.mu.Lock()
	s.st.State = Failed
	s.st.Err = err.Error()
	s.mu.Unlock()
	metrics.SessionFinished("recording", "failed")
	log.Printf("recorder: %v", err)
	return err
}
