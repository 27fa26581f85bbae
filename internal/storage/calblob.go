// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/bits"
	"os"
	"path/filepath"
	"sync"

	"github.com/relabs-tech/accel_logger/internal/imu"
)

const (
	// BlobVersion is the calibration blob layout version.
	BlobVersion uint32 = 1
	// BlobSize is version(4) + enabled(1) + offset(12) + scale(12) + crc(4).
	BlobSize = 33

	checksumSeed = 0xA5A5A5A5
	checksumStep = 0x9E3779B9
)

var (
	ErrBlobVersion  = errors.New("storage: calibration blob version mismatch")
	ErrBlobChecksum = errors.New("storage: calibration blob checksum mismatch")
	ErrBlobSize     = errors.New("storage: calibration blob has wrong size")
)

// Checksum is the rolling hash stored at the end of the blob.
func Checksum(b []byte) uint32 {
	c := uint32(checksumSeed)
	for _, v := range b {
		c ^= uint32(v)
		c = bits.RotateLeft32(c, 5)
		c += checksumStep
	}
	return c
}

// EncodeCalibration packs c with version and checksum.
func EncodeCalibration(c imu.Calibration) []byte {
	b := make([]byte, BlobSize)
	binary.LittleEndian.PutUint32(b[0:], BlobVersion)
	if c.Enabled {
		b[4] = 1
	}
	for i := 0; i < 3; i++ {
		binary.LittleEndian.PutUint32(b[5+4*i:], math.Float32bits(c.Offset[i]))
		binary.LittleEndian.PutUint32(b[17+4*i:], math.Float32bits(c.Scale[i]))
	}
	binary.LittleEndian.PutUint32(b[BlobSize-4:], Checksum(b[:BlobSize-4]))
	return b
}

// DecodeCalibration validates and unpacks a blob.
func DecodeCalibration(b []byte) (imu.Calibration, error) {
	if len(b) != BlobSize {
		return imu.NoCalibration(), ErrBlobSize
	}
	if v := binary.LittleEndian.Uint32(b[0:]); v != BlobVersion {
		return imu.NoCalibration(), fmt.Errorf("%w: got %d", ErrBlobVersion, v)
	}
	if Checksum(b[:BlobSize-4]) != binary.LittleEndian.Uint32(b[BlobSize-4:]) {
		return imu.NoCalibration(), ErrBlobChecksum
	}
	c := imu.Calibration{Enabled: b[4] != 0}
	for i := 0; i < 3; i++ {
		c.Offset[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[5+4*i:]))
		c.Scale[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[17+4*i:]))
	}
	return c.Effective(), nil
}

// CalibrationStore persists one calibration blob in a file.
type CalibrationStore struct {
	mu   sync.Mutex
	path string
}

// NewCalibrationStore returns a store backed by path.
func NewCalibrationStore(path string) *CalibrationStore {
	return &CalibrationStore{path: path}
}

// Load returns the persisted profile. Any failure yields the disabled
// profile together with the reason; a missing file is not an error.
func (s *CalibrationStore) Load() (imu.Calibration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return imu.NoCalibration(), nil
	}
	if err != nil {
		return imu.NoCalibration(), fmt.Errorf("%w: read %s: %v", ErrStorage, s.path, err)
	}
	return DecodeCalibration(b)
}

// Save replaces the persisted profile atomically.
func (s *CalibrationStore) Save(c imu.Calibration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".calib-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(EncodeCalibration(c)); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write calibration: %v", ErrStorage, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close calibration: %v", ErrStorage, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("%w: rename calibration: %v", ErrStorage, err)
	}
	return nil
}

// Clear removes the persisted profile.
func (s *CalibrationStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}
