package gps

import (
	"strings"
	"testing"
	"time"
)

func TestClockFromRMC(t *testing.T) {
	var c Clock
	if _, ok := c.Timestamp(); ok {
		t.Fatal("timestamp before any fix")
	}
	if c.Handle("$GPGGA,garbage") {
		t.Fatal("non RMC accepted")
	}
	if !c.Handle("$GPRMC,220516,A,5133.82,N,00042.24,W,173.8,231.8,130694,004.2,W*70\r\n") {
		t.Fatal("valid RMC rejected")
	}
	fix, ok := c.Fix()
	if !ok || fix.Time.Month() != time.June || fix.Time.Day() != 13 || fix.Time.Hour() != 22 || fix.Validity != "A" {
		t.Fatalf("fix = %+v", fix)
	}
	ts, ok := c.Timestamp()
	if !ok || !strings.HasPrefix(ts, "9406132205") || len(ts) != 12 {
		t.Fatalf("Timestamp() = %q", ts)
	}
}

func TestRunReadsLines(t *testing.T) {
	var c Clock
	in := "noise\n$GPRMC,220516,A,5133.82,N,00042.24,W,173.8,231.8,130694,004.2,W*70\n"
	c.Run(strings.NewReader(in))
	if _, ok := c.Fix(); !ok {
		t.Fatal("no fix after Run")
	}
}

func TestFormatTimestamp(t *testing.T) {
	got := FormatTimestamp(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	if got != "250102030405" {
		t.Fatalf("FormatTimestamp() = %q", got)
	}
}
