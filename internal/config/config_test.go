package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"periph.io/x/conn/v3/physic"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "accel_config.txt")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadOverridesDefaults(t *testing.T) {
	p := writeConfig(t, `
# logger
DATA_DIR=/var/lib/accel
CALIBRATION_FILE = /var/lib/accel/calib.bin
SENSOR_I2C_ADDR=0x19
I2C_RECORD_SPEED_HZ=400000
LIVE_CUTOFF_HZ=50
LIVE_ACQUIRE_TIMEOUT_MS=20
MQTT_BROKER=tcp://localhost:1883
DISPLAY_I2C_ADDR=0x3C
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir != "/var/lib/accel" || cfg.CalibrationFile != "/var/lib/accel/calib.bin" {
		t.Fatalf("paths = %q %q", cfg.DataDir, cfg.CalibrationFile)
	}
	if cfg.SensorI2CAddr != 0x19 || cfg.DisplayI2CAddr != 0x3C {
		t.Fatalf("addrs = 0x%X 0x%X", cfg.SensorI2CAddr, cfg.DisplayI2CAddr)
	}
	if cfg.I2CRecordSpeed != 400*physic.KiloHertz {
		t.Fatalf("record speed = %v", cfg.I2CRecordSpeed)
	}
	if cfg.LiveCutoffHz != 50 || cfg.LiveAcquireTimeout != 20*time.Millisecond {
		t.Fatalf("live = %v %v", cfg.LiveCutoffHz, cfg.LiveAcquireTimeout)
	}
	if cfg.LivePreviewHz != 800 || cfg.ChunkSamples != 1024 || cfg.FFTSize != 1024 {
		t.Fatalf("defaults not kept: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	cases := map[string]string{
		"NOT_A_PAIR":            "invalid config line",
		"UNKNOWN_KEY=1":         "unknown key",
		"SENSOR_I2C_ADDR=0x99":  "7-bit",
		"LIVE_CUTOFF_HZ=1":      "LIVE_CUTOFF_HZ",
		"CHUNK_SAMPLES=0":       "positive",
		"DISPLAY_I2C_ADDR=0x18": "collides",
		"WEB_SERVER_PORT=70000": "out of range",
		"FFT_SIZE=1000":         "power of two",
		"FFT_SIZE=8":            "power of two",
	}
	for body, want := range cases {
		_, err := Load(writeConfig(t, body+"\n"))
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Errorf("%s: err = %v, want %q", body, err, want)
		}
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("missing file accepted")
	}
}
