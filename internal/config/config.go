package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/relabs-tech/accel_logger/internal/analysis"
)

// Config holds all application configuration values.
type Config struct {
	// Sensor bus
	I2CBus              string // "" selects the first bus
	SensorI2CAddr       uint16
	I2CRecordSpeed      physic.Frequency
	I2CCalibrationSpeed physic.Frequency

	// Storage
	DataDir         string
	CalibrationFile string

	// Recording
	ChunkSamples int

	// Live preview
	LivePreviewHz      int
	LiveCutoffHz       float64
	LiveAcquireTimeout time.Duration
	LiveCacheTTL       time.Duration

	// Analysis
	AnalysisMaxPoints int
	FFTSize           int

	// Web Server
	WebServerPort int

	// MQTT ("" broker disables publishing)
	MQTTBroker            string
	MQTTClientID          string
	MQTTClientIDConsole   string
	TopicStatus           string
	TopicEvents           string
	StatusPublishInterval int // milliseconds

	// Display (0 address disables; the ssd1306 driver answers at 0x3C)
	DisplayI2CAddr        uint16
	DisplayUpdateInterval int // milliseconds

	// GPS ("" port disables)
	GPSSerialPort string
	GPSBaudRate   int
}

// Default returns the configuration used for keys missing from the file.
func Default() *Config {
	return &Config{
		SensorI2CAddr:         0x18,
		I2CRecordSpeed:        physic.MegaHertz,
		I2CCalibrationSpeed:   400 * physic.KiloHertz,
		DataDir:               "./data",
		CalibrationFile:       "./data/calib.bin",
		ChunkSamples:          1024,
		LivePreviewHz:         800,
		LiveCutoffHz:          200,
		LiveAcquireTimeout:    50 * time.Millisecond,
		LiveCacheTTL:          time.Second,
		AnalysisMaxPoints:     2000,
		FFTSize:               1024,
		WebServerPort:         8080,
		MQTTClientID:          "accel-logger",
		MQTTClientIDConsole:   "accel-logger-console",
		TopicStatus:           "accel/status",
		TopicEvents:           "accel/events",
		StatusPublishInterval: 1000,
		DisplayUpdateInterval: 500,
		GPSBaudRate:           9600,
	}
}

// Load reads the configuration file over the defaults.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// Sensor bus
	case "I2C_BUS":
		c.I2CBus = value
	case "SENSOR_I2C_ADDR":
		addr, err := parseAddr(key, value)
		if err != nil {
			return err
		}
		c.SensorI2CAddr = addr
	case "I2C_RECORD_SPEED_HZ":
		hz, err := parsePositive(key, value)
		if err != nil {
			return err
		}
		c.I2CRecordSpeed = physic.Frequency(hz) * physic.Hertz
	case "I2C_CALIBRATION_SPEED_HZ":
		hz, err := parsePositive(key, value)
		if err != nil {
			return err
		}
		c.I2CCalibrationSpeed = physic.Frequency(hz) * physic.Hertz

	// Storage
	case "DATA_DIR":
		c.DataDir = value
	case "CALIBRATION_FILE":
		c.CalibrationFile = value

	// Recording
	case "CHUNK_SAMPLES":
		n, err := parsePositive(key, value)
		if err != nil {
			return err
		}
		c.ChunkSamples = n

	// Live preview
	case "LIVE_PREVIEW_HZ":
		n, err := parsePositive(key, value)
		if err != nil {
			return err
		}
		c.LivePreviewHz = n
	case "LIVE_CUTOFF_HZ":
		fc, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid LIVE_CUTOFF_HZ %q: %w", value, err)
		}
		c.LiveCutoffHz = fc
	case "LIVE_ACQUIRE_TIMEOUT_MS":
		ms, err := parsePositive(key, value)
		if err != nil {
			return err
		}
		c.LiveAcquireTimeout = time.Duration(ms) * time.Millisecond
	case "LIVE_CACHE_MS":
		ms, err := strconv.Atoi(value)
		if err != nil || ms < 0 {
			return fmt.Errorf("invalid LIVE_CACHE_MS %q", value)
		}
		c.LiveCacheTTL = time.Duration(ms) * time.Millisecond

	// Analysis
	case "ANALYSIS_MAX_POINTS":
		n, err := parsePositive(key, value)
		if err != nil {
			return err
		}
		c.AnalysisMaxPoints = n
	case "FFT_SIZE":
		n, err := parsePositive(key, value)
		if err != nil {
			return err
		}
		c.FFTSize = n

	// Web Server
	case "WEB_SERVER_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, err)
		}
		c.WebServerPort = port

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "TOPIC_STATUS":
		c.TopicStatus = value
	case "TOPIC_EVENTS":
		c.TopicEvents = value
	case "STATUS_PUBLISH_INTERVAL":
		interval, err := parsePositive(key, value)
		if err != nil {
			return err
		}
		c.StatusPublishInterval = interval

	// Display
	case "DISPLAY_I2C_ADDR":
		addr, err := parseAddr(key, value)
		if err != nil {
			return err
		}
		c.DisplayI2CAddr = addr
	case "DISPLAY_UPDATE_INTERVAL":
		interval, err := parsePositive(key, value)
		if err != nil {
			return err
		}
		c.DisplayUpdateInterval = interval

	// GPS
	case "GPS_SERIAL_PORT":
		c.GPSSerialPort = value
	case "GPS_BAUD_RATE":
		rate, err := parsePositive(key, value)
		if err != nil {
			return err
		}
		c.GPSBaudRate = rate

	default:
		return fmt.Errorf("unknown key %q", key)
	}

	return nil
}

// validate checks cross-field constraints.
func (c *Config) validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	if c.CalibrationFile == "" {
		return fmt.Errorf("CALIBRATION_FILE is required")
	}
	if c.SensorI2CAddr == 0 {
		return fmt.Errorf("SENSOR_I2C_ADDR is required")
	}
	if c.DisplayI2CAddr != 0 && c.DisplayI2CAddr == c.SensorI2CAddr {
		return fmt.Errorf("DISPLAY_I2C_ADDR collides with SENSOR_I2C_ADDR 0x%02X", c.SensorI2CAddr)
	}
	if c.DisplayI2CAddr != 0 && c.DisplayI2CAddr != 0x3C {
		return fmt.Errorf("DISPLAY_I2C_ADDR must be 0 (disabled) or 0x3C, got 0x%02X", c.DisplayI2CAddr)
	}
	if c.LiveCutoffHz < 5 || c.LiveCutoffHz > float64(c.LivePreviewHz)/2 {
		return fmt.Errorf("LIVE_CUTOFF_HZ must be within [5, LIVE_PREVIEW_HZ/2], got %.1f", c.LiveCutoffHz)
	}
	if !analysis.ValidFFTSize(c.FFTSize) {
		return fmt.Errorf("FFT_SIZE must be a power of two of at least 16, got %d", c.FFTSize)
	}
	if c.WebServerPort <= 0 || c.WebServerPort > 65535 {
		return fmt.Errorf("WEB_SERVER_PORT out of range: %d", c.WebServerPort)
	}
	return nil
}

func parseAddr(key, value string) (uint16, error) {
	addr, err := strconv.ParseUint(value, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if addr > 0x7F {
		return 0, fmt.Errorf("%s must be a 7-bit address, got 0x%X", key, addr)
	}
	return uint16(addr), nil
}

func parsePositive(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, n)
	}
	return n, nil
}
