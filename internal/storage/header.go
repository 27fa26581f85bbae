// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package storage implements the recording file layout and the persisted
// calibration blob. All values are little-endian and packed.
package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/relabs-tech/accel_logger/internal/imu"
)

const (
	// Version of the recording file layout.
	Version uint16 = 3
	// HeaderSize is the packed size of FileHeader.
	HeaderSize = 46
	// RecordSize is the packed size of one sample record.
	RecordSize = 6

	samplesOffset = 14
)

// Magic tags every recording file.
var Magic = [8]byte{'L', 'I', 'S', '2', 'D', 'W', '1', '2'}

var (
	// ErrStorage wraps open, write and rewrite failures.
	ErrStorage = errors.New("storage: i/o failure")
	// ErrBadMagic is returned for files that are not recordings.
	ErrBadMagic = errors.New("storage: bad magic")
	// ErrShortFile is returned when a file cannot hold a header.
	ErrShortFile = errors.New("storage: file shorter than header")
)

// FileHeader is the fixed record at the start of every recording.
// Samples is authoritative only after the file was closed.
type FileHeader struct {
	Magic     [8]byte
	Version   uint16
	RateHz    uint16
	RecordS   uint16
	Samples   uint32
	FullScale uint8 // 2, 4, 8 or 16
	ResBits   uint8 // 12 or 14
	QBits     uint8 // 0, 10, 12 or 14
	Reserved  uint8
	CalOffset [3]float32
	CalScale  [3]float32
}

// NewHeader builds a header with the calibration snapshot in effect.
// A disabled profile is stored as zero offset and unit scale.
func NewHeader(rateHz, recordS uint16, fsG, resBits, qBits uint8, cal imu.Calibration) FileHeader {
	eff := cal.Effective()
	return FileHeader{
		Magic:     Magic,
		Version:   Version,
		RateHz:    rateHz,
		RecordS:   recordS,
		FullScale: fsG,
		ResBits:   resBits,
		QBits:     qBits,
		CalOffset: eff.Offset,
		CalScale:  eff.Scale,
	}
}

// Calibration returns the header snapshot as an enabled profile.
func (h FileHeader) Calibration() imu.Calibration {
	return imu.Calibration{Enabled: true, Offset: h.CalOffset, Scale: h.CalScale}.Effective()
}

// MarshalBinary encodes the packed header.
func (h FileHeader) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(HeaderSize)
	if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadHeader decodes and checks the header at the start of r.
func ReadHeader(r io.Reader) (FileHeader, error) {
	var h FileHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return h, ErrShortFile
		}
		return h, fmt.Errorf("%w: read header: %v", ErrStorage, err)
	}
	if h.Magic != Magic {
		return h, ErrBadMagic
	}
	return h, nil
}

// UsableSamples cross-checks the header count against the bytes on disk.
// A zero header count means the file was never closed and the size wins.
func (h FileHeader) UsableSamples(fileSize int64) uint32 {
	if fileSize < HeaderSize {
		return 0
	}
	maxN := uint32((fileSize - HeaderSize) / RecordSize)
	if h.Samples == 0 || h.Samples > maxN {
		return maxN
	}
	return h.Samples
}

// DecodeRecord reads one record from b, which must hold RecordSize bytes.
func DecodeRecord(b []byte) imu.Sample {
	return imu.Sample{
		X: int16(binary.LittleEndian.Uint16(b[0:])),
		Y: int16(binary.LittleEndian.Uint16(b[2:])),
		Z: int16(binary.LittleEndian.Uint16(b[4:])),
	}
}

// EncodeRecord writes s into b, which must hold RecordSize bytes.
func EncodeRecord(b []byte, s imu.Sample) {
	binary.LittleEndian.PutUint16(b[0:], uint16(s.X))
	binary.LittleEndian.PutUint16(b[2:], uint16(s.Y))
	binary.LittleEndian.PutUint16(b[4:], uint16(s.Z))
}
