package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/relabs-tech/accel_logger/internal/imu"
)

func TestHeaderIsPacked(t *testing.T) {
	h := NewHeader(100, 60, 2, 14, 0, imu.NoCalibration())
	b, err := h.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != HeaderSize {
		t.Fatalf("header size = %d, want %d", len(b), HeaderSize)
	}
	if string(b[:8]) != "LIS2DW12" || b[8] != 3 || b[9] != 0 {
		t.Fatalf("unexpected prefix % x", b[:10])
	}
}

func TestWriterRewritesSampleCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accel250101120000.dat")
	cal := imu.Calibration{Enabled: true, Offset: [3]float32{0.01, -0.02, 0.03}, Scale: [3]float32{1, 1.01, 0.99}}
	w, err := Create(path, NewHeader(200, 15, 4, 14, 12, cal))
	if err != nil {
		t.Fatal(err)
	}
	chunk := []imu.Sample{{X: 1, Y: -2, Z: 3}, {X: -32768, Y: 32767, Z: 0}}
	if err := w.Append(chunk); err != nil {
		t.Fatal(err)
	}
	if err := w.Append(chunk[:1]); err != nil {
		t.Fatal(err)
	}
	if w.Written() != 3 {
		t.Fatalf("Written() = %d", w.Written())
	}
	if err := w.Close(w.Written()); err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != HeaderSize+3*RecordSize {
		t.Fatalf("file size = %d", len(b))
	}
	h, err := ReadHeader(bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	if h.Samples != 3 || h.RateHz != 200 || h.RecordS != 15 || h.FullScale != 4 || h.QBits != 12 {
		t.Fatalf("header = %+v", h)
	}
	if h.CalOffset != cal.Offset || h.CalScale != cal.Scale {
		t.Fatalf("calibration snapshot = %v %v", h.CalOffset, h.CalScale)
	}
	if got := DecodeRecord(b[HeaderSize+RecordSize:]); got != chunk[1] {
		t.Fatalf("record 1 = %+v", got)
	}
	if h.UsableSamples(int64(len(b))) != 3 {
		t.Fatalf("UsableSamples = %d", h.UsableSamples(int64(len(b))))
	}
}

func TestUsableSamplesCrossCheck(t *testing.T) {
	h := FileHeader{Samples: 100}
	cases := []struct {
		size int64
		want uint32
	}{
		{HeaderSize - 1, 0},
		{HeaderSize + 10*RecordSize, 10},
		{HeaderSize + 10*RecordSize + 5, 10},
		{HeaderSize + 200*RecordSize, 100},
	}
	for _, c := range cases {
		if got := h.UsableSamples(c.size); got != c.want {
			t.Errorf("UsableSamples(%d) = %d, want %d", c.size, got, c.want)
		}
	}
	unclosed := FileHeader{}
	if got := unclosed.UsableSamples(HeaderSize + 7*RecordSize); got != 7 {
		t.Errorf("unclosed header: got %d want 7", got)
	}
}

func TestReadHeaderRejects(t *testing.T) {
	if _, err := ReadHeader(bytes.NewReader(make([]byte, 10))); !errors.Is(err, ErrShortFile) {
		t.Fatalf("short: %v", err)
	}
	if _, err := ReadHeader(bytes.NewReader(make([]byte, HeaderSize))); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("magic: %v", err)
	}
}

func TestCalibrationBlobRoundTrip(t *testing.T) {
	store := NewCalibrationStore(filepath.Join(t.TempDir(), "calib.bin"))
	got, err := store.Load()
	if err != nil || got.Enabled {
		t.Fatalf("missing blob: %+v %v", got, err)
	}
	want := imu.Calibration{Enabled: true, Offset: [3]float32{0.01, -0.02, 0.01}, Scale: [3]float32{1, 1.02, 0.98}}
	if err := store.Save(want); err != nil {
		t.Fatal(err)
	}
	got, err = store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("Load() = %+v, want %+v", got, want)
	}
	if err := store.Clear(); err != nil {
		t.Fatal(err)
	}
	if got, _ := store.Load(); got.Enabled {
		t.Fatal("profile still enabled after Clear")
	}
}

func TestCalibrationBlobFlippedByteFailsClosed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calib.bin")
	store := NewCalibrationStore(path)
	if err := store.Save(imu.Calibration{Enabled: true, Offset: [3]float32{0.1, 0, 0}, Scale: [3]float32{1, 1, 1}}); err != nil {
		t.Fatal(err)
	}
	orig, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := range orig {
		b := append([]byte(nil), orig...)
		b[i] ^= 0x40
		if err := os.WriteFile(path, b, 0o644); err != nil {
			t.Fatal(err)
		}
		got, err := store.Load()
		if err == nil {
			t.Fatalf("byte %d flipped: Load() succeeded", i)
		}
		if got != imu.NoCalibration() {
			t.Fatalf("byte %d flipped: profile %+v not disabled", i, got)
		}
	}
}

func TestCalibrationBlobVersionMismatch(t *testing.T) {
	b := EncodeCalibration(imu.NoCalibration())
	b[0] = 2
	if _, err := DecodeCalibration(b); !errors.Is(err, ErrBlobVersion) {
		t.Fatalf("err = %v, want ErrBlobVersion", err)
	}
}

func TestExportCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accel250101120000.dat")
	w, err := Create(path, NewHeader(100, 15, 2, 14, 0, imu.NoCalibration()))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Append([]imu.Sample{{X: 1, Y: 2, Z: 4096}, {X: -1, Y: -2, Z: 4095}}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(2); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := ExportCSV(&out, path); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	var data []string
	for _, l := range lines {
		if !strings.HasPrefix(l, "#") {
			data = append(data, l)
		}
	}
	want := []string{"t_ms,ax_raw,ay_raw,az_raw", "0.000,1,2,4096", "10.000,-1,-2,4095"}
	if strings.Join(data, "|") != strings.Join(want, "|") {
		t.Fatalf("csv rows = %q", data)
	}
}

func TestNamesAndPaths(t *testing.T) {
	for name, ok := range map[string]bool{
		"accel250101120000.dat":    true,
		"accel250101120000_01.dat": true,
		"../accel1.dat":            false,
		"accel..dat":               false,
		"sub/accel1.dat":           false,
		"calib.bin":                false,
	} {
		if SafeName(name) != ok {
			t.Errorf("SafeName(%q) = %v", name, !ok)
		}
	}
	dir := t.TempDir()
	p, err := NextRecordingPath(dir, "250101120000")
	if err != nil || filepath.Base(p) != "accel250101120000.dat" {
		t.Fatalf("first path = %q %v", p, err)
	}
	if err := os.WriteFile(p, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	p, err = NextRecordingPath(dir, "250101120000")
	if err != nil || filepath.Base(p) != "accel250101120000_01.dat" {
		t.Fatalf("second path = %q %v", p, err)
	}
	if _, err := NextRecordingPath(dir, "2501"); err == nil {
		t.Fatal("short timestamp accepted")
	}
	files, err := ListRecordings(dir)
	if err != nil || len(files) != 1 {
		t.Fatalf("ListRecordings = %v %v", files, err)
	}
}
