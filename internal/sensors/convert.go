// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import "github.com/relabs-tech/accel_logger/internal/imu"

// sensitivity in mg/LSB indexed by full-scale code, from the datasheet.
var (
	sensitivity12 = [4]float64{0.976, 1.952, 3.904, 7.808}
	sensitivity14 = [4]float64{0.244, 0.488, 0.976, 1.952}
)

// SensitivityMgPerLSB looks up the mg value of one aligned LSB.
func SensitivityMgPerLSB(resBits uint8, fs FullScale) float64 {
	if resBits == 12 {
		return sensitivity12[fs&3]
	}
	return sensitivity14[fs&3]
}

// ToPhysical converts one aligned raw value to g.
func ToPhysical(raw int16, resBits uint8, fs FullScale) float64 {
	return float64(raw) * SensitivityMgPerLSB(resBits, fs) / 1000.0
}

// Align shifts a left-justified sample down to resBits (arithmetic shift).
func Align(s imu.Sample, resBits uint8) imu.Sample {
	shift := uint(2)
	if resBits == 12 {
		shift = 4
	}
	return imu.Sample{X: s.X >> shift, Y: s.Y >> shift, Z: s.Z >> shift}
}

// ApplyCalibration computes (g - offset) * scale per axis when enabled.
func ApplyCalibration(g imu.Vec3, c imu.Calibration) imu.Vec3 {
	if !c.Enabled {
		return g
	}
	return imu.Vec3{
		X: imu.Apply(g.X, c.Offset[0], c.Scale[0]),
		Y: imu.Apply(g.Y, c.Offset[1], c.Scale[1]),
		Z: imu.Apply(g.Z, c.Offset[2], c.Scale[2]),
	}
}

// Quantize clears the low (fromBits - toBits) bits of x, keeping its scale.
// toBits of 0 or >= fromBits returns x unchanged.
func Quantize(x int16, fromBits, toBits uint8) int16 {
	if toBits == 0 || toBits >= fromBits {
		return x
	}
	drop := fromBits - toBits
	return (x >> drop) << drop
}

// QuantizeSample applies Quantize to every axis.
func QuantizeSample(s imu.Sample, fromBits, toBits uint8) imu.Sample {
	return imu.Sample{
		X: Quantize(s.X, fromBits, toBits),
		Y: Quantize(s.Y, fromBits, toBits),
		Z: Quantize(s.Z, fromBits, toBits),
	}
}
