// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package analysis summarizes closed recordings with bounded memory: one
// streaming pass for statistics and bucketed downsampling, and a windowed
// FFT over a fixed-size prefix.
package analysis

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/relabs-tech/accel_logger/internal/imu"
	"github.com/relabs-tech/accel_logger/internal/sensors"
	"github.com/relabs-tech/accel_logger/internal/storage"
)

const (
	// DefaultMaxPoints caps the decimated series length.
	DefaultMaxPoints = 2000
	// MaxWorkingBytes bounds per-request bucket storage.
	MaxWorkingBytes = 4 << 20

	bucketBytes = 3*8 + 4
)

// ErrResourceExhausted aborts a request whose working set would exceed
// MaxWorkingBytes.
var ErrResourceExhausted = errors.New("analysis: working storage exhausted")

// Summary is the result of Summarize.
type Summary struct {
	File          string     `json:"file"`
	RateHz        uint16     `json:"rate_hz"`
	RecordS       uint16     `json:"record_s"`
	SamplesHeader uint32     `json:"samples_header"`
	SamplesUsed   uint32     `json:"samples_used"`
	FullScaleG    uint8      `json:"fs_g"`
	ResBits       uint8      `json:"res_bits"`
	QBits         uint8      `json:"q_bits"`
	Min           [3]float64 `json:"min"`
	Max           [3]float64 `json:"max"`
	RMS           [3]float64 `json:"rms"`
	Points        int        `json:"pts"`
	EffectiveHz   float64    `json:"eff_hz"`
	AX            []float64  `json:"ax"`
	AY            []float64  `json:"ay"`
	AZ            []float64  `json:"az"`
	Counts        []uint32   `json:"-"`
}

// recording is an open file with its validated header.
type recording struct {
	f    *os.File
	r    *bufio.Reader
	h    storage.FileHeader
	n    uint32
	fs   sensors.FullScale
	cal  imu.Calibration
	name string
}

func openRecording(path string) (*recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", storage.ErrStorage, path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat %s: %v", storage.ErrStorage, path, err)
	}
	r := bufio.NewReaderSize(f, 32*1024)
	h, err := storage.ReadHeader(r)
	if err != nil {
		f.Close()
		return nil, err
	}
	fs, err := sensors.FullScaleFromG(int(h.FullScale))
	if err != nil {
		f.Close()
		return nil, err
	}
	return &recording{
		f:    f,
		r:    r,
		h:    h,
		n:    h.UsableSamples(st.Size()),
		fs:   fs,
		cal:  h.Calibration(),
		name: filepath.Base(path),
	}, nil
}

func (rec *recording) Close() error { return rec.f.Close() }

// next reads one record as calibrated g. It returns false at end of data.
func (rec *recording) next(buf []byte) (imu.Vec3, bool) {
	if _, err := io.ReadFull(rec.r, buf[:storage.RecordSize]); err != nil {
		return imu.Vec3{}, false
	}
	s := storage.DecodeRecord(buf)
	g := imu.Vec3{
		X: sensors.ToPhysical(s.X, rec.h.ResBits, rec.fs),
		Y: sensors.ToPhysical(s.Y, rec.h.ResBits, rec.fs),
		Z: sensors.ToPhysical(s.Z, rec.h.ResBits, rec.fs),
	}
	return sensors.ApplyCalibration(g, rec.cal), true
}

// Summarize streams the recording at path once and returns per-axis
// min/max/RMS plus three series of at most maxPoints buckets.
func Summarize(path string, maxPoints int) (*Summary, error) {
	if maxPoints <= 0 {
		maxPoints = DefaultMaxPoints
	}
	rec, err := openRecording(path)
	if err != nil {
		return nil, err
	}
	defer rec.Close()

	n := int(rec.n)
	pts := n
	if pts > maxPoints {
		pts = maxPoints
	}
	if pts < 2 {
		pts = n
	}
	if pts*bucketBytes > MaxWorkingBytes {
		return nil, fmt.Errorf("%w: %d buckets", ErrResourceExhausted, pts)
	}
	step := 1.0
	if pts > 0 {
		step = float64(n) / float64(pts)
	}

	sum := [3][]float64{make([]float64, pts), make([]float64, pts), make([]float64, pts)}
	counts := make([]uint32, pts)
	min := [3]float64{math.Inf(1), math.Inf(1), math.Inf(1)}
	max := [3]float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	var ss [3]float64

	var buf [storage.RecordSize]byte
	used := 0
	for used < n {
		g, ok := rec.next(buf[:])
		if !ok {
			break
		}
		b := 0
		if pts > 1 {
			b = int(math.Floor(float64(used) / step))
			if b >= pts {
				b = pts - 1
			}
		}
		for a := 0; a < 3; a++ {
			v := g.Axis(a)
			if v < min[a] {
				min[a] = v
			}
			if v > max[a] {
				max[a] = v
			}
			ss[a] += v * v
			sum[a][b] += v
		}
		counts[b]++
		used++
	}

	out := &Summary{
		File:          rec.name,
		RateHz:        rec.h.RateHz,
		RecordS:       rec.h.RecordS,
		SamplesHeader: rec.h.Samples,
		SamplesUsed:   uint32(used),
		FullScaleG:    rec.h.FullScale,
		ResBits:       rec.h.ResBits,
		QBits:         rec.h.QBits,
		Points:        pts,
		EffectiveHz:   float64(rec.h.RateHz),
		Counts:        counts,
	}
	if used > 0 {
		out.Min, out.Max = min, max
		for a := 0; a < 3; a++ {
			out.RMS[a] = math.Sqrt(ss[a] / float64(used))
		}
	}
	if pts > 1 && used > 1 {
		out.EffectiveHz = float64(rec.h.RateHz) * float64(pts) / float64(used)
	}
	series := [3][]float64{make([]float64, pts), make([]float64, pts), make([]float64, pts)}
	for i := 0; i < pts; i++ {
		if counts[i] == 0 {
			continue
		}
		for a := 0; a < 3; a++ {
			series[a][i] = sum[a][i] / float64(counts[i])
		}
	}
	out.AX, out.AY, out.AZ = series[0], series[1], series[2]
	return out, nil
}
