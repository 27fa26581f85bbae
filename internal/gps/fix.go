package gps

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"
)

// Fix is the last valid RMC time and position.
type Fix struct {
	Time      time.Time `json:"time"`
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	Validity  string    `json:"validity"` // "A" (valid) / "V" (void)
}

// TimeSource yields recording timestamps in YYMMDDhhmmss form.
type TimeSource interface {
	Timestamp() (string, bool)
}

// SystemClock stamps from the host clock.
type SystemClock struct{}

// Timestamp implements TimeSource.
func (SystemClock) Timestamp() (string, bool) {
	return FormatTimestamp(time.Now()), true
}

// FormatTimestamp renders t as the 12 digit recording stamp.
func FormatTimestamp(t time.Time) string {
	return t.Format("060102150405")
}

// Clock tracks UTC time from an NMEA stream.
type Clock struct {
	mu     sync.RWMutex
	fix    Fix
	have   bool
	seenAt time.Time
}

// Timestamp implements TimeSource. The last fix is advanced by the time
// elapsed since it was received.
func (c *Clock) Timestamp() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.have {
		return "", false
	}
	return FormatTimestamp(c.fix.Time.Add(time.Since(c.seenAt))), true
}

// Fix returns the last valid fix.
func (c *Clock) Fix() (Fix, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fix, c.have
}

// Handle parses one NMEA line and updates the clock on a valid RMC.
func (c *Clock) Handle(line string) bool {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return false
	}
	sentence, err := nmea.Parse(line)
	if err != nil {
		return false
	}
	m, ok := sentence.(nmea.RMC)
	if !ok || m.Validity != nmea.ValidRMC || !m.Date.Valid || !m.Time.Valid {
		return false
	}
	t := time.Date(2000+m.Date.YY, time.Month(m.Date.MM), m.Date.DD,
		m.Time.Hour, m.Time.Minute, m.Time.Second, m.Time.Millisecond*int(time.Millisecond), time.UTC)
	c.mu.Lock()
	c.fix = Fix{Time: t, Latitude: m.Latitude, Longitude: m.Longitude, Validity: m.Validity}
	c.have = true
	c.seenAt = time.Now()
	c.mu.Unlock()
	return true
}

// Run feeds lines from r into the clock until r fails.
func (c *Clock) Run(r io.Reader) error {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			c.Handle(line)
		}
		if err != nil {
			return err
		}
	}
}

// OpenSerial opens the GPS serial port and starts a Clock reading it.
func OpenSerial(port string, baud int) (*Clock, io.Closer, error) {
	opts := serial.OpenOptions{
		PortName:        port,
		BaudRate:        uint(baud),
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	}
	p, err := serial.Open(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("gps: open %s: %w", port, err)
	}
	log.Printf("gps: serial port opened on %s at %d baud", port, baud)
	c := &Clock{}
	go func() {
		if err := c.Run(p); err != nil {
			log.Printf("gps: read error: %v", err)
		}
	}()
	return c, p, nil
}
