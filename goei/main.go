package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/itohio/goei/pkg/config"
	"github.com/itohio/goei/pkg/console"
)

func main() {
	var (
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag   = flag.Bool("mock", false, "Use the mocked converter and capture driver")
		modeFlag   = flag.String("mode", "", "Acquisition mode override (sampling or capture)")
		cyclesFlag = flag.Int("cycles", -1, "Number of cycles to run (0 = forever, overrides config)")
		portFlag   = flag.String("p", "", "Serial port for reports (e.g., COM3 or /dev/ttyACM0)")
		debugFlag  = flag.Bool("debug", false, "Log engine features")
		dumpFlag   = flag.String("dump", "", "Write the last frame to this file as little-endian float32")
		replayFlag = flag.String("replay", "", "Classify a frame written by -dump and exit")
		portsFlag  = flag.Bool("ports", false, "List serial ports and exit")
		initFlag   = flag.Bool("init", false, "Write the default configuration to -config and exit")
	)
	flag.Parse()

	if *portsFlag {
		ports, err := console.Ports()
		if err != nil {
			log.Fatalf("Failed to list ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p.Name)
		}
		return
	}

	if *initFlag {
		if err := config.Default().Save(*configFlag); err != nil {
			log.Fatalf("Failed to write configuration: %v", err)
		}
		log.Printf("Default configuration written to %s", *configFlag)
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Command line overrides
	if *mockFlag {
		cfg.Device.Backend = "mock"
		cfg.Capture.Driver = "mock"
	}
	if *modeFlag != "" {
		cfg.Mode = *modeFlag
	}
	if *cyclesFlag >= 0 {
		cfg.Scheduler.Cycles = *cyclesFlag
	}
	if *portFlag != "" {
		cfg.Report.Port = *portFlag
	}
	if *debugFlag {
		cfg.Scheduler.Debug = true
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *replayFlag != "" {
		if err := replay(ctx, cfg, *replayFlag); err != nil {
			log.Fatalf("Replay failed: %v", err)
		}
		return
	}

	p, err := build(ctx, cfg, *dumpFlag)
	if err != nil {
		log.Fatalf("Failed to set up %s pipeline: %v", cfg.Mode, err)
	}
	defer p.Close()

	log.Printf("Running %s on %s in %s mode", cfg.Device.Name, cfg.Device.Backend, cfg.Mode)
	err = p.scheduler.Run(ctx)
	switch {
	case err == nil:
		log.Println("Done")
	case errors.Is(err, context.Canceled):
		log.Println("Interrupted")
	default:
		p.Close()
		log.Fatalf("Stopped: %v", err)
	}
}
