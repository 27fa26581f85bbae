package app

import (
	"context"
	"fmt"
	"image"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
)

const (
	displayWidth  = 128
	displayHeight = 64
	lineHeight    = 13
)

// RunDisplay draws the device status on an SSD1306 until ctx is done. The
// panel shares the bus with the sensor but is not arbitrated.
func RunDisplay(ctx context.Context, d *Device, b i2c.Bus) error {
	cfg := d.cfg

	dev, err := ssd1306.NewI2C(b, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Printf("display: initialized at 0x%02X", cfg.DisplayI2CAddr)
	defer dev.Halt()

	if err := dev.Draw(dev.Bounds(), splash(d.Info()), image.Point{}); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
	defer ticker.Stop()

	log.Println("display: starting update loop")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		cal, _ := d.Calibration()
		img := renderStatus(d.Status(), cal.Enabled)
		if err := dev.Draw(dev.Bounds(), img, image.Point{}); err != nil {
			log.Printf("display: error updating display: %v", err)
		}
	}
}

// statusLines is the text shown for st, at most four lines.
func statusLines(st Status, calibrated bool) []string {
	calTag := "CAL off"
	if calibrated {
		calTag = "CAL on"
	}
	switch {
	case st.Recording:
		pct := 0
		if st.Target > 0 {
			pct = int(uint64(st.Written) * 100 / uint64(st.Target))
		}
		return []string{
			fmt.Sprintf("REC %dHz %s %dg", st.RateHz, st.Mode, st.FullScaleG),
			strings.TrimPrefix(filepath.Base(st.Path), "accel"),
			fmt.Sprintf("%s %d%%", humanize.Comma(int64(st.Written)), pct),
			fmt.Sprintf("bl %d dr %d", st.MaxBacklog, st.DroppedReads),
		}
	case st.CalibratingStatic:
		return []string{"Calibrating", "static", "keep still"}
	case st.Calibrating6:
		return []string{"Calibrating", fmt.Sprintf("pose %d/6 %s", st.CalibStep+1, st.CalibPose)}
	case st.LastError != "":
		msg := st.LastError
		if len(msg) > 18 {
			msg = msg[:18]
		}
		return []string{"Idle", calTag, "Error:", msg}
	}
	return []string{"Idle", calTag}
}

func renderStatus(st Status, calibrated bool) *image1bit.VerticalLSB {
	return renderLines(statusLines(st, calibrated), 0)
}

func splash(info Info) *image1bit.VerticalLSB {
	return renderLines([]string{"Accel Logger", info.Version}, 10)
}

func renderLines(lines []string, x int) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, displayWidth, displayHeight))

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	for i, line := range lines {
		drawer.Dot = fixed.P(x, lineHeight*(i+1))
		drawer.DrawBytes([]byte(line))
	}
	return img
}
