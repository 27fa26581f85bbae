// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package analysis

import (
	"errors"
	"fmt"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

const (
	// DefaultFFTSize is the largest window analysed.
	DefaultFFTSize = 1024
	// MinFFTSamples is the smallest usable window.
	MinFFTSamples = 16
)

var (
	ErrTooFewSamples = errors.New("analysis: too few samples")
	ErrBadAxis       = errors.New("analysis: axis must be x, y or z")
	ErrBadFFTSize    = errors.New("analysis: FFT size must be a power of two of at least 16")
)

// ValidFFTSize reports whether n is a usable FFT window cap.
func ValidFFTSize(n int) bool {
	return n >= MinFFTSamples && n&(n-1) == 0
}

// Spectrum is the magnitude spectrum of one axis.
type Spectrum struct {
	File    string    `json:"file"`
	Axis    string    `json:"axis"`
	RateHz  uint16    `json:"rate_hz"`
	N       int       `json:"n"`
	DF      float64   `json:"df"`
	FFT     []float64 `json:"fft"` // bins 1..N/2-1
	PeakHz  float64   `json:"peak_hz"`
	PeakMag float64   `json:"peak_mag"`
}

// AxisIndex maps "x", "y", "z" to 0, 1, 2.
func AxisIndex(axis string) (int, error) {
	switch axis {
	case "x", "X":
		return 0, nil
	case "y", "Y":
		return 1, nil
	case "z", "Z":
		return 2, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrBadAxis, axis)
}

// ComputeSpectrum reads at most size samples of one axis from the start of
// the recording, applies a Hann window and returns bin magnitudes without DC.
func ComputeSpectrum(path, axis string, size int) (*Spectrum, error) {
	ai, err := AxisIndex(axis)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = DefaultFFTSize
	}
	if !ValidFFTSize(size) {
		return nil, fmt.Errorf("%w: %d", ErrBadFFTSize, size)
	}
	rec, err := openRecording(path)
	if err != nil {
		return nil, err
	}
	defer rec.Close()

	n := int(rec.n)
	if n > size {
		n = size
	}
	seq := make([]float64, 0, n)
	var buf [6]byte
	for len(seq) < n {
		g, ok := rec.next(buf[:])
		if !ok {
			break
		}
		seq = append(seq, g.Axis(ai))
	}
	if len(seq) < MinFFTSamples {
		return nil, fmt.Errorf("%w: %d < %d", ErrTooFewSamples, len(seq), MinFFTSamples)
	}
	sp := spectrumOf(window.Hann(seq), float64(rec.h.RateHz))
	sp.File = rec.name
	sp.Axis = string("xyz"[ai])
	sp.RateHz = rec.h.RateHz
	return sp, nil
}

func spectrumOf(seq []float64, rate float64) *Spectrum {
	n := len(seq)
	coeff := fourier.NewFFT(n).Coefficients(nil, seq)
	bins := n / 2
	sp := &Spectrum{N: n, DF: rate / float64(n)}
	if bins > 1 {
		sp.FFT = make([]float64, 0, bins-1)
	}
	for i := 1; i < bins; i++ {
		m := cmplx.Abs(coeff[i])
		sp.FFT = append(sp.FFT, m)
		if m > sp.PeakMag {
			sp.PeakMag = m
			sp.PeakHz = float64(i) * sp.DF
		}
	}
	return sp
}
