// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package storage

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// ExportCSV writes the recording at path as CSV: "#" comment lines with
// the header fields, then t_ms,ax_raw,ay_raw,az_raw for each usable record.
func ExportCSV(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrStorage, path, err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat %s: %v", ErrStorage, path, err)
	}
	r := bufio.NewReaderSize(f, 64*1024)
	h, err := ReadHeader(r)
	if err != nil {
		return err
	}
	n := h.UsableSamples(st.Size())

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# file=%s\n", filepath.Base(path))
	fmt.Fprintf(bw, "# version=%d rate_hz=%d record_s=%d samples=%d\n", h.Version, h.RateHz, h.RecordS, n)
	fmt.Fprintf(bw, "# fs_g=%d res_bits=%d q_bits=%d\n", h.FullScale, h.ResBits, h.QBits)
	fmt.Fprintf(bw, "# cal_offset_g=%.6f,%.6f,%.6f\n", h.CalOffset[0], h.CalOffset[1], h.CalOffset[2])
	fmt.Fprintf(bw, "# cal_scale=%.6f,%.6f,%.6f\n", h.CalScale[0], h.CalScale[1], h.CalScale[2])

	cw := csv.NewWriter(bw)
	if err := cw.Write([]string{"t_ms", "ax_raw", "ay_raw", "az_raw"}); err != nil {
		return err
	}
	dt := 0.0
	if h.RateHz > 0 {
		dt = 1000.0 / float64(h.RateHz)
	}
	var rec [RecordSize]byte
	row := make([]string, 4)
	for i := uint32(0); i < n; i++ {
		if _, err := io.ReadFull(r, rec[:]); err != nil {
			break
		}
		s := DecodeRecord(rec[:])
		row[0] = strconv.FormatFloat(float64(i)*dt, 'f', 3, 64)
		row[1] = strconv.Itoa(int(s.X))
		row[2] = strconv.Itoa(int(s.Y))
		row[3] = strconv.Itoa(int(s.Z))
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return bw.Flush()
}
