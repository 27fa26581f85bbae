// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// ./cmd/calibration/main.go
//
// Guided console calibration for the LIS2DW12. Two modes:
//  1. static: device resting flat, Z up. Zero-g bias only, scale fixed at 1.
//  2. six: tumble through +X, -X, +Y, -Y, +Z, -Z. Per-axis bias and gain.
//
// The profile is written to CALIBRATION_FILE only on success, and a JSON
// report with the per-pose statistics is written next to it.
//
// Run (with the logger daemon stopped):
//
//	go run ./cmd/calibration -mode six
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/accel_logger/internal/calibration"
	"github.com/relabs-tech/accel_logger/internal/config"
	"github.com/relabs-tech/accel_logger/internal/imu"
	"github.com/relabs-tech/accel_logger/internal/sensors"
	"github.com/relabs-tech/accel_logger/internal/storage"
)

// report is the JSON record of one run.
type report struct {
	SchemaVersion int                     `json:"schema_version"`
	CalibrationAt string                  `json:"calibration_at"` // RFC3339
	Mode          string                  `json:"mode"`
	Sensor        string                  `json:"sensor"`
	Result        imu.Calibration         `json:"result"`
	Poses         []calibration.PoseStats `json:"poses,omitempty"`
}

func main() {
	in := bufio.NewReader(os.Stdin)

	configPath := flag.String("config", "accel_config.txt", "Path to configuration file")
	mode := flag.String("mode", "six", "Calibration mode: static or six")
	flag.Parse()

	if *mode != "static" && *mode != "six" {
		fatal(fmt.Errorf("unknown mode %q", *mode))
	}

	fmt.Println("=== Guided Accelerometer Calibration ===")
	fmt.Println()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	if _, err := host.Init(); err != nil {
		fatal(fmt.Errorf("periph init: %w", err))
	}
	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		fatal(fmt.Errorf("open I2C bus: %w", err))
	}
	defer bus.Close()
	if err := bus.SetSpeed(cfg.I2CCalibrationSpeed); err != nil {
		fmt.Printf("WARNING: bus speed %s not applied: %v\n", cfg.I2CCalibrationSpeed, err)
	}

	dev, err := sensors.New(bus, cfg.SensorI2CAddr)
	if err != nil {
		fatal(err)
	}
	if err := dev.Configure(calibration.SensorConfig()); err != nil {
		fatal(err)
	}
	fmt.Printf("Sensor: %s (HP, 14-bit, ±2g, 100Hz)\n\n", dev)

	store := storage.NewCalibrationStore(cfg.CalibrationFile)
	if prior, err := store.Load(); err != nil {
		fmt.Printf("Existing profile unreadable (%v); it will be replaced on success.\n", err)
	} else if prior.Enabled {
		fmt.Printf("Existing profile: offset=%v scale=%v\n", prior.Offset, prior.Scale)
	}

	ctx := context.Background()
	rep := report{
		SchemaVersion: 1,
		CalibrationAt: time.Now().Format(time.RFC3339),
		Mode:          *mode,
		Sensor:        dev.String(),
	}

	switch *mode {
	case "static":
		fmt.Println("Place the device flat, Z axis up, on a stable surface and do not touch it.")
		waitEnter(in, "Press ENTER to start capture...")
		cal, err := calibration.RunStatic(ctx, dev, store, calibration.StaticOptions())
		if err != nil {
			fatal(err)
		}
		rep.Result = cal

	case "six":
		ready := func(p calibration.Pose) error {
			fmt.Printf("Pose %s: place the device so the %s axis points upward, then keep it still.\n", p, p)
			waitEnter(in, "Press ENTER to start capture...")
			return nil
		}
		progress := func(p calibration.Progress) {
			if p.Phase == "done" && p.Stats != nil {
				st := p.Stats
				fmt.Printf("  Pose %s: mean=(%.4f, %.4f, %.4f) std=(%.4f, %.4f, %.4f) n=%d\n",
					st.Pose, st.Mean.X, st.Mean.Y, st.Mean.Z, st.StdDev.X, st.StdDev.Y, st.StdDev.Z, st.N)
			}
		}
		cal, stats, err := calibration.RunSixPosition(ctx, dev, store, calibration.SixPositionOptions(), ready, progress)
		if err != nil {
			fatal(fmt.Errorf("%w (previous profile kept)", err))
		}
		rep.Result = cal
		rep.Poses = stats[:]
	}

	fmt.Printf("\nOffset (g): X=%+.5f Y=%+.5f Z=%+.5f\n", rep.Result.Offset[0], rep.Result.Offset[1], rep.Result.Offset[2])
	fmt.Printf("Scale:      X=%.5f Y=%.5f Z=%.5f\n", rep.Result.Scale[0], rep.Result.Scale[1], rep.Result.Scale[2])
	fmt.Printf("Saved to %s\n", cfg.CalibrationFile)

	if err := writeReport(filepath.Dir(cfg.CalibrationFile), rep); err != nil {
		fatal(err)
	}
}

func writeReport(dir string, rep report) error {
	ts := time.Now().Format("2006-01-02T15-04-05Z07-00")
	name := filepath.Join(dir, fmt.Sprintf("calibration_%s_%s.json", rep.Mode, ts))

	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(name, b, 0o644); err != nil {
		return err
	}
	fmt.Printf("Wrote: %s\n", name)
	return nil
}

// ---------- Console helpers ----------

func waitEnter(in *bufio.Reader, prompt string) {
	fmt.Print(prompt)
	_, _ = in.ReadString('\n')
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
	os.Exit(1)
}
