package analysis

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/relabs-tech/accel_logger/internal/imu"
	"github.com/relabs-tech/accel_logger/internal/sensors"
	"github.com/relabs-tech/accel_logger/internal/storage"
)

func writeRecording(t *testing.T, rate uint16, cal imu.Calibration, samples []imu.Sample, headerCount uint32) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accel250101120000.dat")
	w, err := storage.Create(path, storage.NewHeader(rate, 60, 2, 14, 0, cal))
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) > 0 {
		if err := w.Append(samples); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(headerCount); err != nil {
		t.Fatal(err)
	}
	return path
}

func ramp(n int) []imu.Sample {
	s := make([]imu.Sample, n)
	for i := range s {
		s[i] = imu.Sample{X: int16(i % 3000), Y: int16(-i % 3000), Z: 4096}
	}
	return s
}

func TestSummarizeWithoutDecimation(t *testing.T) {
	samples := ramp(50)
	path := writeRecording(t, 100, imu.NoCalibration(), samples, 50)
	sum, err := Summarize(path, DefaultMaxPoints)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Points != 50 || sum.SamplesUsed != 50 {
		t.Fatalf("pts=%d used=%d", sum.Points, sum.SamplesUsed)
	}
	for i, c := range sum.Counts {
		if c != 1 {
			t.Fatalf("bucket %d count = %d", i, c)
		}
		want := sensors.ToPhysical(samples[i].X, 14, sensors.FS2G)
		if math.Abs(sum.AX[i]-want) > 1e-12 {
			t.Fatalf("bucket %d = %v, want %v", i, sum.AX[i], want)
		}
	}
	if sum.EffectiveHz != 100 {
		t.Fatalf("eff_hz = %v", sum.EffectiveHz)
	}
	if math.Abs(sum.RMS[2]-sensors.ToPhysical(4096, 14, sensors.FS2G)) > 1e-9 {
		t.Fatalf("rms z = %v", sum.RMS[2])
	}
}

func TestSummarizeBucketCountsCoverAllSamples(t *testing.T) {
	path := writeRecording(t, 800, imu.NoCalibration(), ramp(5003), 5003)
	sum, err := Summarize(path, 2000)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Points != 2000 || len(sum.AX) != 2000 || len(sum.AY) != 2000 || len(sum.AZ) != 2000 {
		t.Fatalf("series lengths %d/%d/%d", len(sum.AX), len(sum.AY), len(sum.AZ))
	}
	var total uint32
	for _, c := range sum.Counts {
		total += c
	}
	if total != sum.SamplesUsed || total != 5003 {
		t.Fatalf("bucket total = %d, used = %d", total, sum.SamplesUsed)
	}
	if want := 800.0 * 2000 / 5003; math.Abs(sum.EffectiveHz-want) > 1e-9 {
		t.Fatalf("eff_hz = %v, want %v", sum.EffectiveHz, want)
	}
}

func TestSummarizeTruncatedFile(t *testing.T) {
	path := writeRecording(t, 100, imu.NoCalibration(), ramp(60), 100)
	// chop half a record off the end
	fi, _ := os.Stat(path)
	if err := os.Truncate(path, fi.Size()-3); err != nil {
		t.Fatal(err)
	}
	sum, err := Summarize(path, DefaultMaxPoints)
	if err != nil {
		t.Fatal(err)
	}
	if sum.SamplesHeader != 100 || sum.SamplesUsed != 59 {
		t.Fatalf("header=%d used=%d", sum.SamplesHeader, sum.SamplesUsed)
	}
}

func TestSummarizeAppliesHeaderCalibration(t *testing.T) {
	cal := imu.Calibration{Enabled: true, Offset: [3]float32{0, 0, 0.5}, Scale: [3]float32{1, 1, 2}}
	path := writeRecording(t, 100, cal, []imu.Sample{{Z: 4096}, {Z: 4096}}, 2)
	sum, err := Summarize(path, DefaultMaxPoints)
	if err != nil {
		t.Fatal(err)
	}
	want := (sensors.ToPhysical(4096, 14, sensors.FS2G) - 0.5) * 2
	if math.Abs(sum.Max[2]-want) > 1e-9 {
		t.Fatalf("max z = %v, want %v", sum.Max[2], want)
	}
}

func TestSummarizeEmptyAndBadFiles(t *testing.T) {
	path := writeRecording(t, 100, imu.NoCalibration(), nil, 0)
	sum, err := Summarize(path, DefaultMaxPoints)
	if err != nil {
		t.Fatal(err)
	}
	if sum.SamplesUsed != 0 || sum.Points != 0 || sum.Max != [3]float64{} {
		t.Fatalf("empty summary = %+v", sum)
	}
	bad := filepath.Join(t.TempDir(), "accelbad.dat")
	if err := os.WriteFile(bad, make([]byte, 100), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Summarize(bad, 0); !errors.Is(err, storage.ErrBadMagic) {
		t.Fatalf("bad magic err = %v", err)
	}
}

func TestSpectrumFindsTone(t *testing.T) {
	const rate, tone, n = 1000, 125.0, 1500
	samples := make([]imu.Sample, n)
	for i := range samples {
		v := 2000 * math.Sin(2*math.Pi*tone*float64(i)/rate)
		samples[i] = imu.Sample{X: int16(v), Z: 4096}
	}
	path := writeRecording(t, rate, imu.NoCalibration(), samples, n)
	sp, err := ComputeSpectrum(path, "x", DefaultFFTSize)
	if err != nil {
		t.Fatal(err)
	}
	if sp.N != 1024 || len(sp.FFT) != 511 {
		t.Fatalf("N=%d bins=%d", sp.N, len(sp.FFT))
	}
	if math.Abs(sp.DF-rate/1024.0) > 1e-12 {
		t.Fatalf("df = %v", sp.DF)
	}
	if math.Abs(sp.PeakHz-tone) > sp.DF {
		t.Fatalf("peak at %v Hz, want %v", sp.PeakHz, tone)
	}
}

func TestSpectrumRejects(t *testing.T) {
	path := writeRecording(t, 100, imu.NoCalibration(), ramp(10), 10)
	if _, err := ComputeSpectrum(path, "z", 0); !errors.Is(err, ErrTooFewSamples) {
		t.Fatalf("err = %v, want ErrTooFewSamples", err)
	}
	if _, err := ComputeSpectrum(path, "w", 0); !errors.Is(err, ErrBadAxis) {
		t.Fatalf("err = %v, want ErrBadAxis", err)
	}
	for _, size := range []int{8, 1000, 1536} {
		if _, err := ComputeSpectrum(path, "z", size); !errors.Is(err, ErrBadFFTSize) {
			t.Errorf("size %d: err = %v, want ErrBadFFTSize", size, err)
		}
	}
}

func TestValidFFTSize(t *testing.T) {
	for n, want := range map[int]bool{0: false, 8: false, 16: true, 1000: false, 1024: true, 4096: true} {
		if got := ValidFFTSize(n); got != want {
			t.Errorf("ValidFFTSize(%d) = %t", n, got)
		}
	}
}
