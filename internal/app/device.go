// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"github.com/relabs-tech/accel_logger/internal/analysis"
	"github.com/relabs-tech/accel_logger/internal/bus"
	"github.com/relabs-tech/accel_logger/internal/calibration"
	"github.com/relabs-tech/accel_logger/internal/config"
	"github.com/relabs-tech/accel_logger/internal/gps"
	"github.com/relabs-tech/accel_logger/internal/imu"
	"github.com/relabs-tech/accel_logger/internal/metrics"
	"github.com/relabs-tech/accel_logger/internal/preview"
	"github.com/relabs-tech/accel_logger/internal/recorder"
	"github.com/relabs-tech/accel_logger/internal/sensors"
	"github.com/relabs-tech/accel_logger/internal/storage"
)

// Populated by -ldflags at build time.
var (
	Version   = "dev"
	GitHash   = "unknown"
	BuildTime = ""
)

var (
	// ErrInvalidRequest wraps every rejected request parameter.
	ErrInvalidRequest = errors.New("app: invalid request")
	// ErrNotRecording is returned by StopRecording when nothing runs.
	ErrNotRecording = errors.New("app: no recording in progress")
	// ErrNotFound is returned for a recording that does not exist.
	ErrNotFound = errors.New("app: not found")
)

var (
	validRates      = []uint16{2, 13, 25, 50, 100, 200, 400, 800, 1600}
	validSeconds    = []uint16{15, 30, 45, 60, 75, 90, 120, 180}
	validFullScales = []int{2, 4, 8, 16}
	validQBits      = []uint8{0, 10, 12, 14}
)

// Accelerometer is the sensor surface the device drives. *sensors.Dev
// implements it.
type Accelerometer interface {
	Configure(sensors.Config) error
	ActiveResolutionBits() uint8
	ReadRawAligned() (imu.Sample, error)
	ReadGUncal() (imu.Vec3, error)
	ReadG() (imu.Vec3, error)
	SetCalibration(imu.Calibration)
	DumpRegisters() ([]sensors.RegisterValue, error)
}

// OpenFunc probes the sensor with the bus clocked at speed. It is only
// called while the caller holds the bus.
type OpenFunc func(speed physic.Frequency) (Accelerometer, error)

// I2COpener opens the LIS2DW12 at addr on b.
func I2COpener(b i2c.Bus, addr uint16) OpenFunc {
	return func(speed physic.Frequency) (Accelerometer, error) {
		if err := b.SetSpeed(speed); err != nil {
			log.Printf("device: bus speed %s not applied: %v", speed, err)
		}
		dev, err := sensors.New(b, addr)
		if err != nil {
			return nil, err
		}
		return dev, nil
	}
}

// RecordRequest is the operator's choice for one recording. Zero fields
// take the defaults of 100 Hz, 60 s and ±2 g.
type RecordRequest struct {
	RateHz     uint16 `json:"hz"`
	Seconds    uint16 `json:"sec"`
	FullScaleG int    `json:"fs"`
	QBits      uint8  `json:"q"`
	Timestamp  string `json:"ts,omitempty"`
}

// Validate fills defaults and rejects anything outside the supported sets.
func (r *RecordRequest) Validate() error {
	if r.RateHz == 0 {
		r.RateHz = 100
	}
	if r.Seconds == 0 {
		r.Seconds = 60
	}
	if r.FullScaleG == 0 {
		r.FullScaleG = 2
	}
	if !slices.Contains(validRates, r.RateHz) {
		return fmt.Errorf("%w: rate %d Hz", ErrInvalidRequest, r.RateHz)
	}
	if !slices.Contains(validSeconds, r.Seconds) {
		return fmt.Errorf("%w: duration %d s", ErrInvalidRequest, r.Seconds)
	}
	if !slices.Contains(validFullScales, r.FullScaleG) {
		return fmt.Errorf("%w: full scale %d g", ErrInvalidRequest, r.FullScaleG)
	}
	if !slices.Contains(validQBits, r.QBits) {
		return fmt.Errorf("%w: q bits %d", ErrInvalidRequest, r.QBits)
	}
	if r.Timestamp != "" && !storage.ValidTimestamp(r.Timestamp) {
		return fmt.Errorf("%w: timestamp %q", ErrInvalidRequest, r.Timestamp)
	}
	return nil
}

// SensorConfig maps a validated request to registers. 2 Hz runs in LP1
// low power at 12 bits, everything else in high performance.
func (r RecordRequest) SensorConfig() sensors.Config {
	cfg := sensors.DefaultConfig()
	cfg.ODR = sensors.ODRFromHz(float64(r.RateHz))
	if fs, err := sensors.FullScaleFromG(r.FullScaleG); err == nil {
		cfg.FullScale = fs
	}
	if r.RateHz == 2 {
		cfg.Mode = sensors.ModeLowPower
		cfg.LPMode = sensors.LP1
	}
	return cfg
}

// Status is the polled view of the whole device.
type Status struct {
	recorder.Status
	Recording         bool   `json:"recording"`
	CalibratingStatic bool   `json:"calibratingStatic"`
	Calibrating6      bool   `json:"calibrating6"`
	CalibStep         int    `json:"calibStep"`
	CalibPose         string `json:"calibPose,omitempty"`
	Active            string `json:"active"`
	LastError         string `json:"lastError,omitempty"`
}

// Info identifies the running build.
type Info struct {
	Version string `json:"version"`
	Hash    string `json:"hash"`
	Built   string `json:"built"`
}

type calibState struct {
	static bool
	six    bool
	step   int
	pose   string
}

// Options tune a Device. Zero values select the production defaults.
type Options struct {
	Clock       gps.TimeSource
	Ticks       recorder.TickSource
	Static      calibration.Options
	SixPosition calibration.Options
}

// Device is the process-wide context: configuration, the bus arbiter, the
// calibration store and the current recording. All mutation goes through
// its methods.
type Device struct {
	cfg   *config.Config
	open  OpenFunc
	arb   *bus.Arbiter
	store *storage.CalibrationStore
	clock gps.TimeSource
	ticks recorder.TickSource

	staticOpts calibration.Options
	sixOpts    calibration.Options

	events *broker
	bg     sync.WaitGroup

	mu      sync.Mutex
	session *recorder.Session
	calib   calibState
	lastErr string
	live    preview.Result
	liveAt  time.Time
}

// NewDevice builds the context and makes sure the data directory exists.
func NewDevice(cfg *config.Config, open OpenFunc, opts Options) (*Device, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: data dir: %v", storage.ErrStorage, err)
	}
	d := &Device{
		cfg:        cfg,
		open:       open,
		arb:        bus.NewArbiter(),
		store:      storage.NewCalibrationStore(cfg.CalibrationFile),
		clock:      opts.Clock,
		ticks:      opts.Ticks,
		staticOpts: opts.Static,
		sixOpts:    opts.SixPosition,
		events:     newBroker(),
	}
	if d.clock == nil {
		d.clock = gps.SystemClock{}
	}
	if d.staticOpts.Samples == 0 {
		d.staticOpts = calibration.StaticOptions()
	}
	if d.sixOpts.Samples == 0 {
		d.sixOpts = calibration.SixPositionOptions()
	}
	return d, nil
}

// Config returns the configuration the device was built with.
func (d *Device) Config() *config.Config {
	return d.cfg
}

// Info reports the build identity.
func (d *Device) Info() Info {
	return Info{Version: Version, Hash: GitHash, Built: BuildTime}
}

// Subscribe returns a channel of session events. cancel must be called.
func (d *Device) Subscribe() (<-chan Event, func()) {
	return d.events.subscribe()
}

// Wait blocks until every background session has released the bus.
func (d *Device) Wait() {
	d.bg.Wait()
}

// Status snapshots the device.
func (d *Device) Status() Status {
	d.mu.Lock()
	sess := d.session
	cs := d.calib
	lastErr := d.lastErr
	d.mu.Unlock()

	active := d.arb.Active()
	if active == bus.None {
		active = d.arb.Holder()
	}
	st := Status{
		Recording:         active == bus.Recording,
		CalibratingStatic: cs.static,
		Calibrating6:      cs.six,
		CalibStep:         cs.step,
		CalibPose:         cs.pose,
		Active:            active.String(),
		LastError:         lastErr,
	}
	if sess != nil {
		st.Status = sess.Status()
	}
	return st
}

// StartRecording admits a recording and runs it in the background. It
// fails with bus.ErrBusy while any long operation is admitted.
func (d *Device) StartRecording(req RecordRequest) (recorder.Status, error) {
	if err := req.Validate(); err != nil {
		return recorder.Status{}, err
	}
	ts := req.Timestamp
	if ts == "" {
		ts = d.timestamp()
	}

	lease, err := d.arb.Reserve(bus.Recording)
	if err != nil {
		return recorder.Status{}, err
	}
	path, err := storage.NextRecordingPath(d.cfg.DataDir, ts)
	if err != nil {
		lease.Release()
		return recorder.Status{}, err
	}
	sess, err := recorder.New(recorder.Options{
		Path:        path,
		RateHz:      req.RateHz,
		Seconds:     req.Seconds,
		Sensor:      req.SensorConfig(),
		QBits:       req.QBits,
		Calibration: d.loadCalibration(),
		ChunkSize:   d.cfg.ChunkSamples,
		Ticks:       d.ticks,
	})
	if err != nil {
		lease.Release()
		return recorder.Status{}, err
	}

	d.mu.Lock()
	d.session = sess
	d.lastErr = ""
	d.mu.Unlock()

	d.events.publish(Event{Type: EventStarted, Session: bus.Recording.String(), Message: filepath.Base(path)})

	d.bg.Add(1)
	go d.runRecording(lease, sess)
	return sess.Status(), nil
}

func (d *Device) runRecording(lease *bus.Lease, sess *recorder.Session) {
	defer d.bg.Done()
	defer lease.Release()

	ctx := context.Background()
	err := sess.Run(ctx, func() (recorder.Sensor, error) {
		if err := lease.Acquire(ctx); err != nil {
			return nil, err
		}
		a, err := d.open(d.cfg.I2CRecordSpeed)
		if err != nil {
			return nil, err
		}
		return a, nil
	})

	st := sess.Status()
	ev := Event{Type: EventComplete, Session: bus.Recording.String(), Recording: &st}
	if err != nil {
		d.setError(err)
		ev.Type = EventError
		ev.Message = err.Error()
	}
	d.events.publish(ev)
}

// StopRecording asks the running recording to flush and close.
func (d *Device) StopRecording() error {
	d.mu.Lock()
	sess := d.session
	d.mu.Unlock()
	if sess == nil {
		return ErrNotRecording
	}
	select {
	case <-sess.Done():
		return ErrNotRecording
	default:
	}
	sess.Stop()
	return nil
}

// Calibration returns the persisted profile. A corrupt blob is reported
// together with a disabled profile.
func (d *Device) Calibration() (imu.Calibration, error) {
	return d.store.Load()
}

// ClearCalibration removes the persisted profile. It is refused while a
// calibration runs.
func (d *Device) ClearCalibration() error {
	if a := d.arb.Active(); a == bus.StaticCalibration || a == bus.SixPositionCalibration {
		return bus.ErrBusy
	}
	if err := d.store.Clear(); err != nil {
		return err
	}
	log.Println("device: calibration cleared")
	return nil
}

// StartStaticCalibration admits a static calibration and runs it in the
// background.
func (d *Device) StartStaticCalibration() error {
	lease, err := d.arb.Reserve(bus.StaticCalibration)
	if err != nil {
		return err
	}
	d.setCalib(calibState{static: true})
	d.events.publish(Event{Type: EventStarted, Session: bus.StaticCalibration.String()})

	d.bg.Add(1)
	go func() {
		defer d.bg.Done()
		defer lease.Release()
		defer d.setCalib(calibState{})

		ctx := context.Background()
		a, err := d.calibrationSensor(ctx, lease)
		if err != nil {
			d.finishCalibration(bus.StaticCalibration, imu.Calibration{}, err)
			return
		}
		cal, err := calibration.RunStatic(ctx, a, d.store, d.staticOpts)
		d.finishCalibration(bus.StaticCalibration, cal, err)
	}()
	return nil
}

// StartSixPositionCalibration admits a tumble and runs it in the
// background. ready, when non-nil, gates each pose; otherwise poses advance
// after the configured delay.
func (d *Device) StartSixPositionCalibration(ready func(calibration.Pose) error) error {
	lease, err := d.arb.Reserve(bus.SixPositionCalibration)
	if err != nil {
		return err
	}
	d.setCalib(calibState{six: true, pose: calibration.Poses[0].String()})
	d.events.publish(Event{Type: EventStarted, Session: bus.SixPositionCalibration.String()})

	d.bg.Add(1)
	go func() {
		defer d.bg.Done()
		defer lease.Release()
		defer d.setCalib(calibState{})

		ctx := context.Background()
		a, err := d.calibrationSensor(ctx, lease)
		if err != nil {
			d.finishCalibration(bus.SixPositionCalibration, imu.Calibration{}, err)
			return
		}
		progress := func(p calibration.Progress) {
			d.setCalib(calibState{six: true, step: p.Step, pose: p.Pose})
			d.events.publish(Event{Type: EventProgress, Session: bus.SixPositionCalibration.String(), Progress: &p})
		}
		cal, _, err := calibration.RunSixPosition(ctx, a, d.store, d.sixOpts, ready, progress)
		d.finishCalibration(bus.SixPositionCalibration, cal, err)
	}()
	return nil
}

func (d *Device) calibrationSensor(ctx context.Context, lease *bus.Lease) (Accelerometer, error) {
	if err := lease.Acquire(ctx); err != nil {
		return nil, err
	}
	a, err := d.open(d.cfg.I2CCalibrationSpeed)
	if err != nil {
		return nil, err
	}
	if err := a.Configure(calibration.SensorConfig()); err != nil {
		return nil, err
	}
	return a, nil
}

func (d *Device) finishCalibration(kind bus.Session, cal imu.Calibration, err error) {
	if err != nil {
		log.Printf("device: %s failed: %v", kind, err)
		metrics.SessionFinished(kind.String(), "failed")
		d.setError(err)
		d.events.publish(Event{Type: EventError, Session: kind.String(), Message: err.Error()})
		return
	}
	log.Printf("device: %s saved offset=%v scale=%v", kind, cal.Offset, cal.Scale)
	metrics.SessionFinished(kind.String(), "ok")
	d.events.publish(Event{Type: EventComplete, Session: kind.String(), Calibration: &cal})
}

// LivePreview runs one filtered burst at the live rate, or returns the
// cached result while it is fresh. If the bus cannot be had within the
// configured timeout the result is not enabled.
func (d *Device) LivePreview(ctx context.Context, cutoffHz float64) preview.Result {
	rate := float64(d.cfg.LivePreviewHz)
	fc := preview.ClampCutoff(cutoffHz, d.cfg.LiveCutoffHz, rate)

	d.mu.Lock()
	if !d.liveAt.IsZero() && time.Since(d.liveAt) < d.cfg.LiveCacheTTL && d.live.CutoffHz == fc {
		res := d.live
		d.mu.Unlock()
		return res
	}
	d.mu.Unlock()

	off := preview.Result{RateHz: rate, CutoffHz: fc}
	lease, err := d.arb.TryAcquire(bus.LivePreview, d.cfg.LiveAcquireTimeout)
	if err != nil {
		metrics.LiveUnavailable()
		return off
	}
	defer lease.Release()

	a, err := d.open(d.cfg.I2CRecordSpeed)
	if err != nil {
		log.Printf("device: live preview: %v", err)
		return off
	}
	scfg := sensors.DefaultConfig()
	scfg.ODR = sensors.ODRFromHz(rate)
	if err := a.Configure(scfg); err != nil {
		log.Printf("device: live preview: %v", err)
		return off
	}
	a.SetCalibration(d.loadCalibration())

	res := preview.Burst(ctx, a, rate, fc, d.cfg.LivePreviewHz)
	if res.Enabled {
		d.mu.Lock()
		d.live = res
		d.liveAt = time.Now()
		d.mu.Unlock()
	}
	return res
}

// Registers dumps the sensor's configuration registers as a short bus
// operation.
func (d *Device) Registers() ([]sensors.RegisterValue, error) {
	lease, err := d.arb.TryAcquire(bus.LivePreview, d.cfg.LiveAcquireTimeout)
	if err != nil {
		return nil, err
	}
	defer lease.Release()
	a, err := d.open(d.cfg.I2CRecordSpeed)
	if err != nil {
		return nil, err
	}
	return a.DumpRegisters()
}

// Files lists the recordings in the data directory.
func (d *Device) Files() ([]storage.FileInfo, error) {
	return storage.ListRecordings(d.cfg.DataDir)
}

// FilePath resolves a recording name inside the data directory.
func (d *Device) FilePath(name string) (string, error) {
	if !storage.SafeName(name) {
		return "", fmt.Errorf("%w: file name %q", ErrInvalidRequest, name)
	}
	path := filepath.Join(d.cfg.DataDir, name)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("%w: %v", storage.ErrStorage, err)
	}
	return path, nil
}

// DeleteFile removes a recording. It is refused while any session is
// active.
func (d *Device) DeleteFile(name string) error {
	if !storage.SafeName(name) {
		return fmt.Errorf("%w: file name %q", ErrInvalidRequest, name)
	}
	if d.arb.Active() != bus.None {
		return bus.ErrBusy
	}
	path, err := d.FilePath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrStorage, err)
	}
	log.Printf("device: deleted %s", name)
	return nil
}

// Summarize runs the bounded-memory summary over one recording.
func (d *Device) Summarize(name string) (*analysis.Summary, error) {
	path, err := d.FilePath(name)
	if err != nil {
		return nil, err
	}
	return analysis.Summarize(path, d.cfg.AnalysisMaxPoints)
}

// Spectrum computes the magnitude spectrum of one axis of a recording.
func (d *Device) Spectrum(name, axis string) (*analysis.Spectrum, error) {
	path, err := d.FilePath(name)
	if err != nil {
		return nil, err
	}
	return analysis.ComputeSpectrum(path, axis, d.cfg.FFTSize)
}

// ExportCSV streams a recording as CSV.
func (d *Device) ExportCSV(w io.Writer, name string) error {
	path, err := d.FilePath(name)
	if err != nil {
		return err
	}
	return storage.ExportCSV(w, path)
}

// DiskUsage reports the filesystem holding the data directory.
func (d *Device) DiskUsage() (storage.Usage, error) {
	return storage.DiskUsage(d.cfg.DataDir)
}

func (d *Device) timestamp() string {
	if ts, ok := d.clock.Timestamp(); ok {
		return ts
	}
	return gps.FormatTimestamp(time.Now())
}

// loadCalibration is the copy-on-read snapshot each session starts with.
func (d *Device) loadCalibration() imu.Calibration {
	cal, err := d.store.Load()
	if err != nil {
		log.Printf("device: calibration ignored: %v", err)
		return imu.NoCalibration()
	}
	return cal
}

func (d *Device) setCalib(cs calibState) {
	d.mu.Lock()
	d.calib = cs
	d.mu.Unlock()
}

func (d *Device) setError(err error) {
	d.mu.Lock()
	d.lastErr = err.Error()
	d.mu.Unlock()
}
