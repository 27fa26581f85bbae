// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"errors"
	"fmt"
	"log"

	"periph.io/x/conn/v3/i2c"

	"github.com/relabs-tech/accel_logger/internal/imu"
)

// DefaultAddr is the LIS2DW12 address with SA0 pulled low.
const DefaultAddr uint16 = 0x18

const (
	regWhoAmI = 0x0F
	regCtrl1  = 0x20
	regCtrl2  = 0x21
	regCtrl6  = 0x25
	regOutXL  = 0x28

	whoAmIValue = 0x44

	ctrl2IfAddInc = 1 << 2
	ctrl2BDU      = 1 << 3
	ctrl6LowNoise = 1 << 2
)

var (
	// ErrBus is returned when a single bus transaction fails.
	ErrBus = errors.New("lis2dw12: bus transaction failed")
	// ErrConfig is returned when a register write during configure fails.
	// The device state must be treated as partial.
	ErrConfig = errors.New("lis2dw12: configuration failed")
	// ErrWhoAmI is returned when the probe reads an unexpected identity.
	ErrWhoAmI = errors.New("lis2dw12: unexpected WHO_AM_I")
)

// ODR is the CTRL1 output data rate code.
type ODR uint8

const (
	ODRPowerDown ODR = iota
	ODR1Hz6      // 12.5 Hz in high performance, 1.6 Hz in low power
	ODR12Hz5
	ODR25Hz
	ODR50Hz
	ODR100Hz
	ODR200Hz
	ODR400Hz
	ODR800Hz
	ODR1600Hz
)

// ODRFromHz picks the smallest rate code that covers hz.
func ODRFromHz(hz float64) ODR {
	switch {
	case hz <= 0:
		return ODRPowerDown
	case hz <= 2:
		return ODR1Hz6
	case hz <= 13:
		return ODR12Hz5
	case hz <= 25:
		return ODR25Hz
	case hz <= 50:
		return ODR50Hz
	case hz <= 100:
		return ODR100Hz
	case hz <= 200:
		return ODR200Hz
	case hz <= 400:
		return ODR400Hz
	case hz <= 800:
		return ODR800Hz
	default:
		return ODR1600Hz
	}
}

// Mode is the CTRL1 power mode.
type Mode uint8

const (
	ModeLowPower Mode = iota
	ModeHighPerformance
	ModeOnDemand
)

func (m Mode) String() string {
	switch m {
	case ModeLowPower:
		return "LP"
	case ModeHighPerformance:
		return "HP"
	case ModeOnDemand:
		return "OD"
	}
	return "?"
}

// LPMode is the low-power sub-mode. Only LP1 produces 12-bit output.
type LPMode uint8

const (
	LP1 LPMode = iota
	LP2
	LP3
	LP4
)

// FullScale is the CTRL6 full-scale code.
type FullScale uint8

const (
	FS2G FullScale = iota
	FS4G
	FS8G
	FS16G
)

// G returns the range in g (2, 4, 8 or 16).
func (f FullScale) G() uint8 {
	return 2 << (f & 3)
}

// FullScaleFromG maps 2/4/8/16 to the register code.
func FullScaleFromG(g int) (FullScale, error) {
	switch g {
	case 2:
		return FS2G, nil
	case 4:
		return FS4G, nil
	case 8:
		return FS8G, nil
	case 16:
		return FS16G, nil
	}
	return 0, fmt.Errorf("lis2dw12: unsupported full scale %d g", g)
}

// Bandwidth is the CTRL6 anti-aliasing divisor (ODR/2, /4, /10, /20).
type Bandwidth uint8

const (
	BWDiv2 Bandwidth = iota
	BWDiv4
	BWDiv10
	BWDiv20
)

// Config is the full register-level setup of a session. It is applied as a
// whole by Configure and not changed while a session runs.
type Config struct {
	ODR             ODR
	Mode            Mode
	LPMode          LPMode
	FullScale       FullScale
	Bandwidth       Bandwidth
	LowNoise        bool
	BlockDataUpdate bool
	AutoIncrement   bool
}

// DefaultConfig is 100 Hz high performance, 14-bit, ±2 g.
func DefaultConfig() Config {
	return Config{
		ODR:             ODR100Hz,
		Mode:            ModeHighPerformance,
		LPMode:          LP2,
		FullScale:       FS2G,
		Bandwidth:       BWDiv2,
		BlockDataUpdate: true,
		AutoIncrement:   true,
	}
}

// ResolutionBits is 12 in LP1 low power and 14 otherwise.
func (c Config) ResolutionBits() uint8 {
	if c.Mode == ModeLowPower && c.LPMode == LP1 {
		return 12
	}
	return 14
}

func (c Config) ctrl1() byte {
	return byte(c.ODR&0x0F)<<4 | byte(c.Mode&0x03)<<2 | byte(c.LPMode&0x03)
}

func (c Config) ctrl6() byte {
	v := byte(c.Bandwidth&0x03)<<6 | byte(c.FullScale&0x03)<<4
	if c.LowNoise {
		v |= ctrl6LowNoise
	}
	return v
}

// Dev is a LIS2DW12 on an I2C bus.
type Dev struct {
	d   i2c.Dev
	cfg Config
	cal imu.Calibration
}

// New probes WHO_AM_I at addr and returns the device. The device keeps its
// power-on configuration until Configure is called.
func New(b i2c.Bus, addr uint16) (*Dev, error) {
	d := &Dev{
		d:   i2c.Dev{Bus: b, Addr: addr},
		cfg: DefaultConfig(),
		cal: imu.NoCalibration(),
	}
	id, err := d.readReg(regWhoAmI)
	if err != nil {
		return nil, err
	}
	if id != whoAmIValue {
		return nil, fmt.Errorf("%w: got 0x%02X, want 0x%02X", ErrWhoAmI, id, whoAmIValue)
	}
	return d, nil
}

func (d *Dev) String() string {
	return fmt.Sprintf("LIS2DW12{%s@0x%02X}", d.d.Bus, d.d.Addr)
}

// Configure writes power mode, then scale/filter, then BDU/auto-increment.
// A failure leaves the device partially configured.
func (d *Dev) Configure(cfg Config) error {
	if err := d.writeReg(regCtrl1, cfg.ctrl1()); err != nil {
		return fmt.Errorf("%w: CTRL1: %v", ErrConfig, err)
	}
	if err := d.writeReg(regCtrl6, cfg.ctrl6()); err != nil {
		return fmt.Errorf("%w: CTRL6: %v", ErrConfig, err)
	}
	var set byte
	if cfg.BlockDataUpdate {
		set |= ctrl2BDU
	}
	if cfg.AutoIncrement {
		set |= ctrl2IfAddInc
	}
	if err := d.updateReg(regCtrl2, ctrl2BDU|ctrl2IfAddInc, set); err != nil {
		return fmt.Errorf("%w: CTRL2: %v", ErrConfig, err)
	}
	d.cfg = cfg
	log.Printf("lis2dw12: configured odr=%d mode=%s res=%d-bit fs=±%dg", cfg.ODR, cfg.Mode, cfg.ResolutionBits(), cfg.FullScale.G())
	return nil
}

// Config returns the configuration last applied.
func (d *Dev) Config() Config {
	return d.cfg
}

// ActiveResolutionBits reports the resolution of the applied configuration.
func (d *Dev) ActiveResolutionBits() uint8 {
	return d.cfg.ResolutionBits()
}

// SetCalibration installs the profile used by ReadG.
func (d *Dev) SetCalibration(c imu.Calibration) {
	d.cal = c
}

// Calibration returns the installed profile.
func (d *Dev) Calibration() imu.Calibration {
	return d.cal
}

// ReadRaw reads OUT_X_L..OUT_Z_H in one burst, left-justified as on the wire.
func (d *Dev) ReadRaw() (imu.Sample, error) {
	var buf [6]byte
	if err := d.d.Tx([]byte{regOutXL}, buf[:]); err != nil {
		return imu.Sample{}, fmt.Errorf("%w: OUT_X_L: %v", ErrBus, err)
	}
	return imu.Sample{
		X: int16(uint16(buf[0]) | uint16(buf[1])<<8),
		Y: int16(uint16(buf[2]) | uint16(buf[3])<<8),
		Z: int16(uint16(buf[4]) | uint16(buf[5])<<8),
	}, nil
}

// ReadRawAligned reads one sample and right-aligns it for the active
// resolution so values are proportional to physical units.
func (d *Dev) ReadRawAligned() (imu.Sample, error) {
	s, err := d.ReadRaw()
	if err != nil {
		return s, err
	}
	return Align(s, d.ActiveResolutionBits()), nil
}

// ReadGUncal returns one reading in g without calibration.
func (d *Dev) ReadGUncal() (imu.Vec3, error) {
	s, err := d.ReadRawAligned()
	if err != nil {
		return imu.Vec3{}, err
	}
	res := d.ActiveResolutionBits()
	fs := d.cfg.FullScale
	return imu.Vec3{
		X: ToPhysical(s.X, res, fs),
		Y: ToPhysical(s.Y, res, fs),
		Z: ToPhysical(s.Z, res, fs),
	}, nil
}

// ReadG returns one calibrated reading in g.
func (d *Dev) ReadG() (imu.Vec3, error) {
	g, err := d.ReadGUncal()
	if err != nil {
		return g, err
	}
	return ApplyCalibration(g, d.cal), nil
}

func (d *Dev) readReg(reg byte) (byte, error) {
	var b [1]byte
	if err := d.d.Tx([]byte{reg}, b[:]); err != nil {
		return 0, fmt.Errorf("%w: read 0x%02X: %v", ErrBus, reg, err)
	}
	return b[0], nil
}

func (d *Dev) writeReg(reg, v byte) error {
	if err := d.d.Tx([]byte{reg, v}, nil); err != nil {
		return fmt.Errorf("%w: write 0x%02X: %v", ErrBus, reg, err)
	}
	return nil
}

func (d *Dev) updateReg(reg, mask, set byte) error {
	v, err := d.readReg(reg)
	if err != nil {
		return err
	}
	return d.writeReg(reg, v&^mask|set&mask)
}
