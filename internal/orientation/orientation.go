// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"math"
)

// Tilt is the attitude of the device relative to gravity, in degrees.
type Tilt struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
}

// TiltFromGravity computes roll and pitch from a gravity vector in any unit:
//
//	roll  = atan2(ay, az)
//	pitch = atan2(-ax, sqrt(ay² + az²))
func TiltFromGravity(ax, ay, az float64) Tilt {
	rollRad := math.Atan2(ay, az)
	pitchRad := math.Atan2(-ax, math.Sqrt(ay*ay+az*az))
	return Tilt{
		Roll:  rollRad * 180.0 / math.Pi,
		Pitch: pitchRad * 180.0 / math.Pi,
	}
}
