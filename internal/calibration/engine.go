// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package calibration estimates accelerometer bias and gain, either from a
// single resting pose or from a six-position tumble.
package calibration

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/relabs-tech/accel_logger/internal/imu"
	"github.com/relabs-tech/accel_logger/internal/sensors"
)

// MinSpan is the smallest opposing-pose difference accepted per axis, in g.
const MinSpan = 0.5

// ErrInsufficientRange rejects a tumble whose opposing poses are too close.
var ErrInsufficientRange = errors.New("calibration: insufficient range")

// Reader returns one uncalibrated reading in g.
type Reader interface {
	ReadGUncal() (imu.Vec3, error)
}

// Store persists a successful profile.
type Store interface {
	Save(imu.Calibration) error
}

// Pose is one of the six tumble orientations.
type Pose int

const (
	XPos Pose = iota
	XNeg
	YPos
	YNeg
	ZPos
	ZNeg
)

// Poses is the tumble order.
var Poses = [6]Pose{XPos, XNeg, YPos, YNeg, ZPos, ZNeg}

func (p Pose) String() string {
	return [...]string{"X+", "X-", "Y+", "Y-", "Z+", "Z-"}[p]
}

// Options control sample collection.
type Options struct {
	Samples       int
	SettleSamples int
	SampleDelay   time.Duration
	PoseDelay     time.Duration
	ExpectedZ     float64
}

// StaticOptions are the defaults for a resting calibration.
func StaticOptions() Options {
	return Options{Samples: 600, SettleSamples: 10, SampleDelay: 5 * time.Millisecond, ExpectedZ: 1.0}
}

// SixPositionOptions are the defaults for a tumble.
func SixPositionOptions() Options {
	return Options{Samples: 700, SettleSamples: 10, SampleDelay: 5 * time.Millisecond, PoseDelay: 1200 * time.Millisecond}
}

// SensorConfig is the setup every calibration runs with: high performance,
// 14-bit, ±2 g, 100 Hz.
func SensorConfig() sensors.Config {
	cfg := sensors.DefaultConfig()
	cfg.ODR = sensors.ODR100Hz
	cfg.Mode = sensors.ModeHighPerformance
	cfg.LPMode = sensors.LP2
	cfg.FullScale = sensors.FS2G
	cfg.LowNoise = true
	return cfg
}

// PoseStats is the average of one pose with its per-axis spread.
type PoseStats struct {
	Pose   string   `json:"pose"`
	Mean   imu.Vec3 `json:"mean"`
	StdDev imu.Vec3 `json:"stddev"`
	N      int      `json:"n"`
}

// Progress reports one step of a tumble to an observer.
type Progress struct {
	Step  int        `json:"step"`
	Pose  string     `json:"pose"`
	Phase string     `json:"phase"` // "position", "sampling" or "done"
	Stats *PoseStats `json:"stats,omitempty"`
}

// Static averages a resting device. X and Y offsets are the means, Z is the
// mean minus ExpectedZ, and scale is 1.
func Static(ctx context.Context, r Reader, opt Options) (imu.Calibration, error) {
	st, err := collect(ctx, r, opt, "static")
	if err != nil {
		return imu.NoCalibration(), err
	}
	log.Printf("calibration: static mean x=%.5f y=%.5f z=%.5f (n=%d)", st.Mean.X, st.Mean.Y, st.Mean.Z, st.N)
	return imu.Calibration{
		Enabled: true,
		Offset:  [3]float32{float32(st.Mean.X), float32(st.Mean.Y), float32(st.Mean.Z - opt.ExpectedZ)},
		Scale:   [3]float32{1, 1, 1},
	}, nil
}

// SixPosition runs the tumble in Poses order, waiting PoseDelay before each
// pose. ready, when non-nil, blocks until the operator has positioned the
// device. progress, when non-nil, observes each step.
func SixPosition(ctx context.Context, r Reader, opt Options, ready func(Pose) error, progress func(Progress)) (imu.Calibration, [6]PoseStats, error) {
	var stats [6]PoseStats
	for step, pose := range Poses {
		if progress != nil {
			progress(Progress{Step: step, Pose: pose.String(), Phase: "position"})
		}
		if ready != nil {
			if err := ready(pose); err != nil {
				return imu.NoCalibration(), stats, err
			}
		}
		if err := sleep(ctx, opt.PoseDelay); err != nil {
			return imu.NoCalibration(), stats, err
		}
		if progress != nil {
			progress(Progress{Step: step, Pose: pose.String(), Phase: "sampling"})
		}
		st, err := collect(ctx, r, opt, pose.String())
		if err != nil {
			return imu.NoCalibration(), stats, fmt.Errorf("calibration: pose %s: %w", pose, err)
		}
		stats[step] = st
		log.Printf("calibration: pose %s mean x=%.5f y=%.5f z=%.5f", pose, st.Mean.X, st.Mean.Y, st.Mean.Z)
		if progress != nil {
			s := st
			progress(Progress{Step: step, Pose: pose.String(), Phase: "done", Stats: &s})
		}
	}
	var meas [6]imu.Vec3
	for i := range stats {
		meas[i] = stats[i].Mean
	}
	cal, err := FromAverages(meas)
	return cal, stats, err
}

// FromAverages derives offset and scale from the six pose averages, indexed
// as Poses.
func FromAverages(meas [6]imu.Vec3) (imu.Calibration, error) {
	cal := imu.Calibration{Enabled: true}
	for axis := 0; axis < 3; axis++ {
		p := meas[2*axis].Axis(axis)
		n := meas[2*axis+1].Axis(axis)
		span := p - n
		if math.Abs(span) < MinSpan {
			return imu.NoCalibration(), fmt.Errorf("%w: axis %c span %.3f g", ErrInsufficientRange, "XYZ"[axis], span)
		}
		cal.Offset[axis] = float32(0.5 * (p + n))
		cal.Scale[axis] = float32(2.0 / span)
	}
	return cal, nil
}

// RunStatic calibrates and persists the result.
func RunStatic(ctx context.Context, r Reader, s Store, opt Options) (imu.Calibration, error) {
	cal, err := Static(ctx, r, opt)
	if err != nil {
		return cal, err
	}
	if err := s.Save(cal); err != nil {
		return cal, err
	}
	return cal, nil
}

// RunSixPosition tumbles and persists only a successful result.
func RunSixPosition(ctx context.Context, r Reader, s Store, opt Options, ready func(Pose) error, progress func(Progress)) (imu.Calibration, [6]PoseStats, error) {
	cal, stats, err := SixPosition(ctx, r, opt, ready, progress)
	if err != nil {
		return cal, stats, err
	}
	if err := s.Save(cal); err != nil {
		return cal, stats, err
	}
	return cal, stats, nil
}

func collect(ctx context.Context, r Reader, opt Options, label string) (PoseStats, error) {
	n := opt.Samples
	if n < 10 {
		n = 10
	}
	for i := 0; i < opt.SettleSamples; i++ {
		if _, err := r.ReadGUncal(); err != nil {
			return PoseStats{}, err
		}
		if err := sleep(ctx, opt.SampleDelay); err != nil {
			return PoseStats{}, err
		}
	}
	var w welford
	for i := 0; i < n; i++ {
		g, err := r.ReadGUncal()
		if err != nil {
			return PoseStats{}, err
		}
		w.add(g)
		if err := sleep(ctx, opt.SampleDelay); err != nil {
			return PoseStats{}, err
		}
	}
	return PoseStats{Pose: label, Mean: w.mean, StdDev: w.stddev(), N: w.n}, nil
}

// welford keeps a running mean and variance per axis.
type welford struct {
	n    int
	mean imu.Vec3
	m2   imu.Vec3
}

func (w *welford) add(g imu.Vec3) {
	w.n++
	k := float64(w.n)
	dx, dy, dz := g.X-w.mean.X, g.Y-w.mean.Y, g.Z-w.mean.Z
	w.mean.X += dx / k
	w.mean.Y += dy / k
	w.mean.Z += dz / k
	w.m2.X += dx * (g.X - w.mean.X)
	w.m2.Y += dy * (g.Y - w.mean.Y)
	w.m2.Z += dz * (g.Z - w.mean.Z)
}

func (w *welford) stddev() imu.Vec3 {
	if w.n < 2 {
		return imu.Vec3{}
	}
	k := float64(w.n)
	return imu.Vec3{X: math.Sqrt(w.m2.X / k), Y: math.Sqrt(w.m2.Y / k), Z: math.Sqrt(w.m2.Z / k)}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
