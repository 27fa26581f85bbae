package preview

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/relabs-tech/accel_logger/internal/imu"
)

func TestAlpha(t *testing.T) {
	f := NewFilter(800, 200)
	dt := 1.0 / 800
	tau := 1 / (2 * math.Pi * 200)
	if want := dt / (tau + dt); math.Abs(f.Alpha()-want) > 1e-15 {
		t.Fatalf("alpha = %v, want %v", f.Alpha(), want)
	}
}

func TestFilterSeedsWithFirstSample(t *testing.T) {
	f := NewFilter(100, 5)
	f.Add(imu.Vec3{X: 3, Y: -2, Z: 9.8})
	r := f.Result()
	if r.AX != 3 || r.AY != -2 || r.AZ != 9.8 {
		t.Fatalf("seeded mean = %+v", r)
	}
}

func TestConstantAccelerationIntegrates(t *testing.T) {
	const rate, n, a = 100.0, 100, 2.0
	f := NewFilter(rate, 10)
	for i := 0; i < n; i++ {
		f.Add(imu.Vec3{X: a})
	}
	r := f.Result()
	dt := 1 / rate
	wantV := a * n * dt * 1000
	wantD := a * dt * dt * n * (n + 1) / 2 * 1000
	if math.Abs(r.VX-wantV) > 1e-9 || math.Abs(r.DX-wantD) > 1e-9 {
		t.Fatalf("v=%v d=%v, want %v %v", r.VX, r.DX, wantV, wantD)
	}
	if math.Abs(r.VMag-math.Abs(r.VX)) > 1e-9 || math.Abs(r.AMag-a) > 1e-12 {
		t.Fatalf("magnitudes %v %v", r.VMag, r.AMag)
	}
}

func TestClampCutoff(t *testing.T) {
	cases := []struct{ req, want float64 }{
		{0, 200}, {4, 200}, {5, 5}, {400, 400}, {401, 200},
	}
	for _, c := range cases {
		if got := ClampCutoff(c.req, 200, 800); got != c.want {
			t.Errorf("ClampCutoff(%v) = %v, want %v", c.req, got, c.want)
		}
	}
}

type flakyReader struct{ fail bool }

func (f flakyReader) ReadG() (imu.Vec3, error) {
	if f.fail {
		return imu.Vec3{}, errors.New("nack")
	}
	return imu.Vec3{Z: 1}, nil
}

func TestBurst(t *testing.T) {
	r := Burst(context.Background(), flakyReader{}, 1000, 100, 20)
	if !r.Enabled || r.Samples != 20 || math.Abs(r.AZ-Gravity) > 1e-9 {
		t.Fatalf("burst = %+v", r)
	}
	if math.Abs(r.Tilt.Roll) > 1e-9 || math.Abs(r.Tilt.Pitch) > 1e-9 {
		t.Fatalf("tilt = %+v", r.Tilt)
	}
	if r := Burst(context.Background(), flakyReader{fail: true}, 1000, 100, 5); r.Enabled {
		t.Fatal("burst without valid samples reported enabled")
	}
}
