package bus

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestReserveRejectsSecondLongOperation(t *testing.T) {
	a := NewArbiter()
	l, err := a.Reserve(Recording)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range []Session{Recording, StaticCalibration, SixPositionCalibration} {
		if _, err := a.Reserve(s); !errors.Is(err, ErrBusy) {
			t.Fatalf("Reserve(%v) err = %v, want ErrBusy", s, err)
		}
	}
	l.Release()
	l.Release()
	if a.Active() != None {
		t.Fatalf("Active() = %v after release", a.Active())
	}
	l2, err := a.Reserve(SixPositionCalibration)
	if err != nil {
		t.Fatalf("Reserve after release: %v", err)
	}
	l2.Release()
}

func TestLivePreviewUnavailableDuringLongOperation(t *testing.T) {
	a := NewArbiter()
	l, err := a.Reserve(StaticCalibration)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Release()
	start := time.Now()
	if _, err := a.TryAcquire(LivePreview, time.Second); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("TryAcquire err = %v, want ErrUnavailable", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("TryAcquire blocked while a long operation was active")
	}
}

func TestTryAcquireTimesOutWhileHeld(t *testing.T) {
	a := NewArbiter()
	first, err := a.TryAcquire(LivePreview, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if a.Holder() != LivePreview {
		t.Fatalf("Holder() = %v", a.Holder())
	}
	if _, err := a.TryAcquire(LivePreview, 20*time.Millisecond); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("second TryAcquire err = %v, want ErrUnavailable", err)
	}
	first.Release()
	second, err := a.TryAcquire(LivePreview, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("TryAcquire after release: %v", err)
	}
	second.Release()
}

func TestAcquireWaitsForPreviewToFinish(t *testing.T) {
	a := NewArbiter()
	live, err := a.TryAcquire(LivePreview, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	rec, err := a.Reserve(Recording)
	if err != nil {
		t.Fatal(err)
	}
	defer rec.Release()

	acquired := make(chan error, 1)
	go func() { acquired <- rec.Acquire(context.Background()) }()

	select {
	case <-acquired:
		t.Fatal("Acquire returned while preview held the bus")
	case <-time.After(30 * time.Millisecond):
	}
	live.Release()
	select {
	case err := <-acquired:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("Acquire did not complete after release")
	}
	if a.Holder() != Recording {
		t.Fatalf("Holder() = %v, want recording", a.Holder())
	}
}

func TestAcquireHonoursContext(t *testing.T) {
	a := NewArbiter()
	live, _ := a.TryAcquire(LivePreview, time.Millisecond)
	defer live.Release()
	rec, _ := a.Reserve(Recording)
	defer rec.Release()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rec.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire err = %v", err)
	}
}
