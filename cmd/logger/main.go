// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/accel_logger/internal/app"
	"github.com/relabs-tech/accel_logger/internal/config"
	"github.com/relabs-tech/accel_logger/internal/gps"
)

func main() {
	configPath := flag.String("config", "./accel_config.txt", "path to configuration file")
	flag.Parse()

	log.Printf("starting accel-logger %s (%s)", app.Version, app.GitHash)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Boot-time bus failures are not recoverable.
	if _, err := host.Init(); err != nil {
		log.Fatalf("failed to initialize periph: %v", err)
	}
	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		log.Fatalf("failed to open I2C bus: %v", err)
	}
	defer bus.Close()

	opts := app.Options{}
	if cfg.GPSSerialPort != "" {
		clock, port, err := gps.OpenSerial(cfg.GPSSerialPort, cfg.GPSBaudRate)
		if err != nil {
			log.Printf("WARNING: GPS unavailable, using system clock: %v", err)
		} else {
			defer port.Close()
			opts.Clock = clock
		}
	}

	dev, err := app.NewDevice(cfg, app.I2COpener(bus, cfg.SensorI2CAddr), opts)
	if err != nil {
		log.Fatalf("failed to create device: %v", err)
	}
	if _, err := dev.Calibration(); err != nil {
		log.Printf("WARNING: calibration profile rejected, running uncalibrated: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MQTTBroker != "" {
		go func() {
			if err := app.RunPublisher(ctx, dev); err != nil {
				log.Printf("publisher stopped: %v", err)
			}
		}()
	}
	if cfg.DisplayI2CAddr != 0 {
		go func() {
			if err := app.RunDisplay(ctx, dev, bus); err != nil {
				log.Printf("display stopped: %v", err)
			}
		}()
	}

	go func() {
		if err := app.RunWeb(dev); err != nil {
			log.Fatalf("fatal: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")
	if err := dev.StopRecording(); err == nil {
		log.Println("waiting for the recording to close")
	}
	dev.Wait()
}
