// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package storage

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/relabs-tech/accel_logger/internal/imu"
)

// Writer appends sample records to a recording file.
type Writer struct {
	f       *os.File
	path    string
	buf     []byte
	written uint32
}

// Create truncates path and writes the header with a zero sample count.
func Create(path string, h FileHeader) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrStorage, path, err)
	}
	h.Samples = 0
	b, err := h.MarshalBinary()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: encode header: %v", ErrStorage, err)
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: write header %s: %v", ErrStorage, path, err)
	}
	return &Writer{f: f, path: path}, nil
}

// Path returns the file being written.
func (w *Writer) Path() string {
	return w.path
}

// Written is the number of records fully appended.
func (w *Writer) Written() uint32 {
	return w.written
}

// Append writes a chunk of records. On a short write the file keeps the
// partial bytes and Written only counts the chunks that landed completely.
func (w *Writer) Append(chunk []imu.Sample) error {
	need := len(chunk) * RecordSize
	if cap(w.buf) < need {
		w.buf = make([]byte, need)
	}
	b := w.buf[:need]
	for i, s := range chunk {
		EncodeRecord(b[i*RecordSize:], s)
	}
	n, err := w.f.Write(b)
	if err != nil || n != need {
		return fmt.Errorf("%w: append %d/%d bytes to %s: %v", ErrStorage, n, need, w.path, err)
	}
	w.written += uint32(len(chunk))
	return nil
}

// Close rewrites the header sample count with samples and closes the file.
func (w *Writer) Close(samples uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], samples)
	_, werr := w.f.WriteAt(b[:], samplesOffset)
	cerr := w.f.Close()
	if werr != nil {
		return fmt.Errorf("%w: rewrite header %s: %v", ErrStorage, w.path, werr)
	}
	if cerr != nil {
		return fmt.Errorf("%w: close %s: %v", ErrStorage, w.path, cerr)
	}
	return nil
}
