// Command wpesim answers playback requests on an MQTT broker like a
// positioning engine would, for trying the playback without a backend.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/xiaonanln/wpeplayback/config"
	"github.com/xiaonanln/wpeplayback/transport"
	"github.com/xiaonanln/wpeplayback/util/logger"
	"github.com/xiaonanln/wpeplayback/util/uniqueid"
	"github.com/xiaonanln/wpeplayback/wpesim"
)

func main() {
	var (
		configFile = flag.String("configuration", "", "Path to the YAML or JSON configuration file (required)")
		logLevel   = flag.String("log_level", "info", "Log level: debug, info, warning, error or critical")
	)
	flag.Parse()

	if *configFile == "" {
		log.Fatal("--configuration is required")
	}
	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.SetDefaultLevel(level)

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	mqttOpts, err := cfg.MQTTOptions(uniqueid.ClientID("wpesim"))
	if err != nil {
		log.Fatalf("Invalid MQTT settings: %v", err)
	}
	bus, err := transport.NewMQTTBus(mqttOpts)
	if err != nil {
		log.Fatalf("Invalid MQTT settings: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sim := wpesim.New(bus)
	if err := sim.Start(ctx); err != nil {
		bus.Close()
		log.Printf("Failed to start simulator: %v", err)
		os.Exit(2)
	}

	<-ctx.Done()
	log.Printf("Shutting down simulator")
	sim.Close()
}
