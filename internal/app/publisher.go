package app

import (
	"context"
	"encoding/json"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// RunPublisher pushes the device status to TOPIC_STATUS on a fixed
// interval and every session event to TOPIC_EVENTS until ctx is done.
func RunPublisher(ctx context.Context, d *Device) error {
	cfg := d.cfg

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("publisher: connected to MQTT broker at %s", cfg.MQTTBroker)

	events, unsubscribe := d.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(time.Duration(cfg.StatusPublishInterval) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			publishJSON(client, cfg.TopicStatus, true, d.Status())
		case ev := <-events:
			publishJSON(client, cfg.TopicEvents, false, ev)
		}
	}
}

func publishJSON(client mqtt.Client, topic string, retained bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("publisher: json marshal error (%s): %v", topic, err)
		return
	}
	if token := client.Publish(topic, 0, retained, payload); token.Wait() && token.Error() != nil {
		log.Printf("publisher: MQTT publish error (%s): %v", topic, token.Error())
	}
}
