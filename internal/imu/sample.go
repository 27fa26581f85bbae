// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import "math"

// Sample is one aligned raw accelerometer reading in bus order.
type Sample struct {
	X int16 `json:"ax"`
	Y int16 `json:"ay"`
	Z int16 `json:"az"`
}

// Vec3 is a per-axis value in physical units (g unless stated otherwise).
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Axis returns component i (0=X, 1=Y, 2=Z).
func (v Vec3) Axis(i int) float64 {
	switch i {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

// Scale returns v multiplied by k.
func (v Vec3) Scale(k float64) Vec3 {
	return Vec3{X: v.X * k, Y: v.Y * k, Z: v.Z * k}
}

// Norm is the Euclidean magnitude.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Calibration is the per-axis bias and gain correction applied to g values.
// A disabled profile is always reported as zero offset and unit scale.
type Calibration struct {
	Enabled bool       `json:"enabled"`
	Offset  [3]float32 `json:"offset_g"`
	Scale   [3]float32 `json:"scale"`
}

// NoCalibration returns the identity profile.
func NoCalibration() Calibration {
	return Calibration{Scale: [3]float32{1, 1, 1}}
}

// Effective returns the offset/scale actually in force: identity when
// disabled, and any zero scale replaced by 1.
func (c Calibration) Effective() Calibration {
	if !c.Enabled {
		return NoCalibration()
	}
	out := c
	for i := range out.Scale {
		if out.Scale[i] == 0 {
			out.Scale[i] = 1
		}
	}
	return out
}

// Apply computes (g - offset) * scale for one axis.
func Apply(g float64, offset, scale float32) float64 {
	if scale == 0 {
		scale = 1
	}
	return (g - float64(offset)) * float64(scale)
}
