package app

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/accel_logger/internal/config"
)

// RunConsoleMQTT prints the logger's status and events until interrupted.
func RunConsoleMQTT(cfg *config.Config) error {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	statusToken := client.Subscribe(cfg.TopicStatus, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var st Status
		if err := json.Unmarshal(msg.Payload(), &st); err != nil {
			log.Printf("console: status unmarshal error: %v", err)
			return
		}
		fmt.Println(FormatStatusLine(st))
	})
	statusToken.Wait()
	if statusToken.Error() != nil {
		return statusToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicStatus)

	eventToken := client.Subscribe(cfg.TopicEvents, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var ev Event
		if err := json.Unmarshal(msg.Payload(), &ev); err != nil {
			log.Printf("console: event unmarshal error: %v", err)
			return
		}
		fmt.Println(FormatEventLine(ev))
	})
	eventToken.Wait()
	if eventToken.Error() != nil {
		return eventToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicEvents)

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}

// FormatStatusLine renders a status as one console line.
func FormatStatusLine(st Status) string {
	switch {
	case st.Recording:
		return fmt.Sprintf("[REC ]  %s %dHz %s ±%dg  %s/%s samples  backlog=%d dropped=%d",
			st.Path, st.RateHz, st.Mode, st.FullScaleG,
			humanize.Comma(int64(st.Written)), humanize.Comma(int64(st.Target)),
			st.MaxBacklog, st.DroppedReads)
	case st.CalibratingStatic:
		return "[CAL ]  static calibration running"
	case st.Calibrating6:
		return fmt.Sprintf("[CAL ]  six-position step %d/6 pose %s", st.CalibStep+1, st.CalibPose)
	case st.LastError != "":
		return fmt.Sprintf("[IDLE]  last error: %s", st.LastError)
	}
	return fmt.Sprintf("[IDLE]  active=%s", st.Active)
}

// FormatEventLine renders an event as one console line.
func FormatEventLine(ev Event) string {
	line := fmt.Sprintf("[EVT ]  %s %s %s", ev.Time.Format("15:04:05"), ev.Session, ev.Type)
	if ev.Progress != nil {
		line += fmt.Sprintf(" step=%d pose=%s phase=%s", ev.Progress.Step, ev.Progress.Pose, ev.Progress.Phase)
	}
	if ev.Calibration != nil {
		line += fmt.Sprintf(" offset=%v scale=%v", ev.Calibration.Offset, ev.Calibration.Scale)
	}
	if ev.Recording != nil {
		line += fmt.Sprintf(" %s samples=%s", ev.Recording.Path, humanize.Comma(int64(ev.Recording.Written)))
	}
	if ev.Message != "" {
		line += " " + ev.Message
	}
	return line
}
