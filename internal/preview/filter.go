// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package preview turns a short burst of readings into low-pass filtered
// acceleration with single and double integration. The integration is plain
// Euler without drift correction.
package preview

import (
	"context"
	"math"
	"time"

	"github.com/relabs-tech/accel_logger/internal/imu"
	"github.com/relabs-tech/accel_logger/internal/orientation"
)

// Gravity converts g to m/s².
const Gravity = 9.80665

// MinCutoffHz is the lowest accepted cutoff.
const MinCutoffHz = 5.0

// Filter is a per-axis single-pole low-pass filter feeding two integrators.
type Filter struct {
	dt    float64
	alpha float64

	seeded bool
	lpf    imu.Vec3 // m/s²
	vel    imu.Vec3 // m/s
	disp   imu.Vec3 // m
	sum    imu.Vec3
	n      int
}

// NewFilter builds a filter for samples at rateHz with the given cutoff.
func NewFilter(rateHz, cutoffHz float64) *Filter {
	dt := 1.0 / rateHz
	tau := 1.0 / (2 * math.Pi * cutoffHz)
	return &Filter{dt: dt, alpha: dt / (tau + dt)}
}

// Alpha is the smoothing factor dt/(tau+dt).
func (f *Filter) Alpha() float64 { return f.alpha }

// Add feeds one acceleration sample in m/s².
func (f *Filter) Add(a imu.Vec3) {
	if !f.seeded {
		f.lpf = a
		f.seeded = true
	} else {
		f.lpf.X += f.alpha * (a.X - f.lpf.X)
		f.lpf.Y += f.alpha * (a.Y - f.lpf.Y)
		f.lpf.Z += f.alpha * (a.Z - f.lpf.Z)
	}
	f.vel.X += f.lpf.X * f.dt
	f.vel.Y += f.lpf.Y * f.dt
	f.vel.Z += f.lpf.Z * f.dt
	f.disp.X += f.vel.X * f.dt
	f.disp.Y += f.vel.Y * f.dt
	f.disp.Z += f.vel.Z * f.dt
	f.sum.X += f.lpf.X
	f.sum.Y += f.lpf.Y
	f.sum.Z += f.lpf.Z
	f.n++
}

// Count is the number of samples fed.
func (f *Filter) Count() int { return f.n }

// Result reports the burst. Velocity is in mm/s and displacement in mm.
type Result struct {
	Enabled  bool             `json:"enabled"`
	RateHz   float64          `json:"hz"`
	CutoffHz float64          `json:"fc"`
	Samples  int              `json:"n"`
	AX       float64          `json:"ax"`
	AY       float64          `json:"ay"`
	AZ       float64          `json:"az"`
	AMag     float64          `json:"mag"`
	VX       float64          `json:"vx_mmps"`
	VY       float64          `json:"vy_mmps"`
	VZ       float64          `json:"vz_mmps"`
	VMag     float64          `json:"vmag_mmps"`
	DX       float64          `json:"dx_mm"`
	DY       float64          `json:"dy_mm"`
	DZ       float64          `json:"dz_mm"`
	DMag     float64          `json:"dmag_mm"`
	Tilt     orientation.Tilt `json:"tilt"`
}

// Result summarizes everything fed so far.
func (f *Filter) Result() Result {
	if f.n == 0 {
		return Result{}
	}
	mean := f.sum.Scale(1 / float64(f.n))
	vel := f.vel.Scale(1000)
	disp := f.disp.Scale(1000)
	return Result{
		Enabled: true,
		Samples: f.n,
		AX:      mean.X,
		AY:      mean.Y,
		AZ:      mean.Z,
		AMag:    mean.Norm(),
		VX:      vel.X,
		VY:      vel.Y,
		VZ:      vel.Z,
		VMag:    vel.Norm(),
		DX:      disp.X,
		DY:      disp.Y,
		DZ:      disp.Z,
		DMag:    disp.Norm(),
		Tilt:    orientation.TiltFromGravity(mean.X, mean.Y, mean.Z),
	}
}

// ClampCutoff returns requested when it lies in [MinCutoffHz, rate/2] and
// fallback otherwise.
func ClampCutoff(requested, fallback, rateHz float64) float64 {
	if requested >= MinCutoffHz && requested <= rateHz/2 {
		return requested
	}
	return fallback
}

// Reader returns one calibrated reading in g.
type Reader interface {
	ReadG() (imu.Vec3, error)
}

// Burst reads n samples paced at rateHz and returns the filtered result.
// Failed reads are skipped; a burst with no valid samples is not enabled.
func Burst(ctx context.Context, r Reader, rateHz, cutoffHz float64, n int) Result {
	f := NewFilter(rateHz, cutoffHz)
	period := time.Duration(float64(time.Second) / rateHz)
	next := time.Now()
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		if g, err := r.ReadG(); err == nil {
			f.Add(g.Scale(Gravity))
		}
		next = next.Add(period)
		if d := time.Until(next); d > 0 {
			time.Sleep(d)
		}
	}
	res := f.Result()
	res.RateHz = rateHz
	res.CutoffHz = cutoffHz
	return res
}
