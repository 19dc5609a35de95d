package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrCodeEU/facemark/pkg/attendance"
	"github.com/MrCodeEU/facemark/pkg/config"
	"github.com/MrCodeEU/facemark/pkg/logging"
	"github.com/MrCodeEU/facemark/pkg/qrtoken"
	"github.com/MrCodeEU/facemark/pkg/server"
)

const version = "0.1.0"

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if *configFile != "" {
		cfg, err = config.Load(*configFile)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.DefaultConfig()
	}
	cfg.ExpandPaths()

	logLevel := cfg.Logging.Level
	if *debug {
		logLevel = "debug"
	}
	if err := logging.Init(logLevel, cfg.Logging.File); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}

	logging.Infof("Facemark server v%s starting", version)

	if err := run(cfg); err != nil {
		logging.WithError(err).Fatal("Server failed")
	}
}

func run(cfg *config.Config) error {
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	hub := server.NewHub()

	// The hub is the ledger's notifier, so dashboards see every mark
	// regardless of whether it came from a QR scan or the camera.
	ledger, err := attendance.NewLedger(cfg.Attendance.Dir, cfg.Attendance.Rollover, hub.NotifyMarked)
	if err != nil {
		return err
	}

	tokens := qrtoken.NewService(time.Duration(cfg.Server.TokenTTLSeconds) * time.Second)
	srv := server.New(tokens, ledger, hub)

	// Serve until interrupted.
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen(cfg.Server.Addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logging.Infof("Received %s, shutting down", sig)
		return srv.Shutdown()
	}
}
