package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/accel_logger/internal/app"
	"github.com/relabs-tech/accel_logger/internal/config"
)

func main() {
	configPath := flag.String("config", "accel_config.txt", "Path to configuration file")
	flag.Parse()

	log.Println("starting accel-logger console (MQTT subscriber)")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.MQTTBroker == "" {
		log.Fatalf("MQTT_BROKER is not set in %s", *configPath)
	}

	if err := app.RunConsoleMQTT(cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
