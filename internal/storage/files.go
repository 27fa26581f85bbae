// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/sys/unix"
)

var (
	recordingName = regexp.MustCompile(`^accel[0-9A-Za-z_\-]*\.dat$`)
	timestampRe   = regexp.MustCompile(`^[0-9]{12}$`)
)

// FileInfo describes one recording on disk.
type FileInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Usage is the filesystem capacity backing the data directory.
type Usage struct {
	Total uint64 `json:"total"`
	Used  uint64 `json:"used"`
	Free  uint64 `json:"free"`
}

// SafeName reports whether name is a plain recording file name.
func SafeName(name string) bool {
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return false
	}
	return recordingName.MatchString(name)
}

// ValidTimestamp reports whether ts is a 12 digit YYMMDDhhmmss stamp.
func ValidTimestamp(ts string) bool {
	return timestampRe.MatchString(ts)
}

// NextRecordingPath returns dir/accel<ts>.dat, or the first free
// accel<ts>_NN.dat when that already exists.
func NextRecordingPath(dir, ts string) (string, error) {
	if !ValidTimestamp(ts) {
		return "", fmt.Errorf("storage: invalid timestamp %q", ts)
	}
	p := filepath.Join(dir, "accel"+ts+".dat")
	if _, err := os.Stat(p); os.IsNotExist(err) {
		return p, nil
	}
	for i := 1; i <= 99; i++ {
		p = filepath.Join(dir, fmt.Sprintf("accel%s_%02d.dat", ts, i))
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: no free name for %s", ErrStorage, ts)
}

// ListRecordings returns the recordings in dir sorted by name.
func ListRecordings(dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", ErrStorage, dir, err)
	}
	var out []FileInfo
	for _, e := range entries {
		if e.IsDir() || !SafeName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, FileInfo{Name: e.Name(), Size: info.Size()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DiskUsage reports capacity of the filesystem holding dir.
func DiskUsage(dir string) (Usage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return Usage{}, fmt.Errorf("%w: statfs %s: %v", ErrStorage, dir, err)
	}
	bs := uint64(st.Bsize)
	u := Usage{Total: st.Blocks * bs, Free: st.Bavail * bs}
	u.Used = u.Total - st.Bfree*bs
	return u, nil
}
