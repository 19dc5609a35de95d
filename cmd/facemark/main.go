package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrCodeEU/facemark/pkg/attendance"
	"github.com/MrCodeEU/facemark/pkg/camera"
	"github.com/MrCodeEU/facemark/pkg/config"
	"github.com/MrCodeEU/facemark/pkg/gallery"
	"github.com/MrCodeEU/facemark/pkg/liveness"
	"github.com/MrCodeEU/facemark/pkg/logging"
	"github.com/MrCodeEU/facemark/pkg/pipeline"
	"github.com/MrCodeEU/facemark/pkg/recognition"
)

const version = "0.1.0"

// Command represents a CLI command.
type Command struct {
	Name        string
	Description string
	Usage       string
	Run         func(args []string) error
}

var (
	cfg      *config.Config
	commands map[string]*Command
)

func init() {
	commands = map[string]*Command{
		"run": {
			Name:        "run",
			Description: "Run the camera attendance kiosk",
			Usage:       "facemark run",
			Run:         cmdRun,
		},
		"replay": {
			Name:        "replay",
			Description: "Run the pipeline over a directory of recorded frames",
			Usage:       "facemark replay <frame-dir>",
			Run:         cmdReplay,
		},
		"gallery": {
			Name:        "gallery",
			Description: "Rebuild the known-identity gallery from student images",
			Usage:       "facemark gallery",
			Run:         cmdGallery,
		},
		"download-models": {
			Name:        "download-models",
			Description: "Download the dlib recognition models",
			Usage:       "facemark download-models [directory]",
			Run:         cmdDownloadModels,
		},
		"config": {
			Name:        "config",
			Description: "Show current configuration",
			Usage:       "facemark config",
			Run:         cmdConfig,
		},
		"version": {
			Name:        "version",
			Description: "Show version information",
			Usage:       "facemark version",
			Run:         cmdVersion,
		},
		"help": {
			Name:        "help",
			Description: "Show help information",
			Usage:       "facemark help [command]",
			Run:         cmdHelp,
		},
	}
}

func main() {
	// Parse global flags
	configFile := flag.String("config", "", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Get remaining args after flags
	args := flag.Args()

	// Load configuration
	var err error
	if *configFile != "" {
		cfg, err = config.Load(*configFile)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.DefaultConfig()
	}

	// Expand paths in config
	cfg.ExpandPaths()

	// Initialize logging
	logLevel := cfg.Logging.Level
	if *debug {
		logLevel = "debug"
	}
	if err := logging.Init(logLevel, cfg.Logging.File); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}

	logging.Debugf("Facemark v%s starting", version)

	// Show usage if no command provided
	if len(args) < 1 {
		printUsage()
		os.Exit(0)
	}

	// Find and run command
	cmdName := args[0]
	cmd, ok := commands[cmdName]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmdName)
		printUsage()
		os.Exit(1)
	}

	// Run the command
	if err := cmd.Run(args[1:]); err != nil {
		logging.WithError(err).Errorf("Command '%s' failed", cmdName)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Facemark - Camera Attendance with Liveness Challenges")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Usage: facemark [options] <command> [arguments]")
	fmt.Println("\nOptions:")
	fmt.Println("  -config <file>   Path to configuration file")
	fmt.Println("  -debug           Enable debug logging")
	fmt.Println("\nCommands:")
	for _, name := range []string{"run", "replay", "gallery", "download-models", "config", "version", "help"} {
		cmd := commands[name]
		fmt.Printf("  %-16s %s\n", cmd.Name, cmd.Description)
	}
	fmt.Println("\nExamples:")
	fmt.Println("  facemark gallery              # Build descriptors from student_images/")
	fmt.Println("  facemark run                  # Start the attendance kiosk")
	fmt.Println("  facemark replay ./session     # Re-run a recorded session")
	fmt.Println("\nRun 'facemark help <command>' for more information on a command.")
}

// Command implementations

// livenessConfig translates the YAML numbers into session parameters.
func livenessConfig() liveness.Config {
	return liveness.Config{
		HeadTurnThreshold:  cfg.Liveness.HeadTurnThreshold,
		SmileThreshold:     cfg.Liveness.SmileThreshold,
		ConfirmationFrames: cfg.Liveness.ConfirmationFrames,
		GracePeriod:        time.Duration(cfg.Liveness.GracePeriod * float64(time.Second)),
		Timeout:            time.Duration(cfg.Liveness.Timeout * float64(time.Second)),
	}
}

// buildPipeline assembles recognizer, gallery, ledger and session.
// The returned recognizer must be closed by the caller.
func buildPipeline() (*pipeline.Pipeline, *recognition.DlibRecognizer, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, nil, fmt.Errorf("failed to create directories: %w", err)
	}

	recognizer := recognition.NewRecognizer()
	if err := recognizer.LoadModels(cfg.Recognition.ModelPath); err != nil {
		return nil, nil, err
	}

	g, err := gallery.New(cfg.Gallery.ImagesDir, cfg.Gallery.CacheFile, cfg.Gallery.EncryptionEnabled)
	if err != nil {
		recognizer.Close()
		return nil, nil, err
	}
	known, err := g.Load(recognizer)
	if err != nil {
		recognizer.Close()
		return nil, nil, err
	}
	if len(known) == 0 {
		logging.Warn("Gallery is empty, nobody will be recognized")
	}

	ledger, err := attendance.NewLedger(cfg.Attendance.Dir, cfg.Attendance.Rollover, nil)
	if err != nil {
		recognizer.Close()
		return nil, nil, err
	}

	session := liveness.NewSession(livenessConfig())
	p := pipeline.New(recognizer, session, ledger, known, cfg.Recognition.Tolerance)

	// Console feedback doubles as the kiosk display until a proper
	// overlay renderer lands.
	var lastPrompt string
	p.OnResult = func(r pipeline.FrameResult) {
		if r.Prompt != lastPrompt {
			fmt.Println(r.Prompt)
			lastPrompt = r.Prompt
		}
		for _, f := range r.Faces {
			if f.JustMarked {
				fmt.Printf("Marked present: %s\n", f.Label)
			}
		}
	}

	return p, recognizer, nil
}

func runWithSource(source camera.Source) error {
	p, recognizer, err := buildPipeline()
	if err != nil {
		return err
	}
	defer recognizer.Close()

	if err := source.Open(); err != nil {
		return err
	}
	defer source.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = p.Run(ctx, source)
	if err == context.Canceled {
		logging.Info("Shutting down")
		return nil
	}
	return err
}

func cmdRun(args []string) error {
	source := camera.NewFFmpegSource(cfg.Camera.Device, cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.FPS)
	return runWithSource(source)
}

func cmdReplay(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("frame directory required\nUsage: facemark replay <frame-dir>")
	}
	return runWithSource(camera.NewFileSource(args[0]))
}

func cmdGallery(args []string) error {
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	recognizer := recognition.NewRecognizer()
	if err := recognizer.LoadModels(cfg.Recognition.ModelPath); err != nil {
		return err
	}
	defer recognizer.Close()

	g, err := gallery.New(cfg.Gallery.ImagesDir, cfg.Gallery.CacheFile, cfg.Gallery.EncryptionEnabled)
	if err != nil {
		return err
	}

	known, err := g.Rebuild(recognizer)
	if err != nil {
		return err
	}

	names := map[string]int{}
	for _, k := range known {
		names[k.Name]++
	}

	fmt.Printf("Gallery rebuilt: %d descriptor(s) across %d identit(ies)\n", len(known), len(names))
	for name, count := range names {
		fmt.Printf("  - %s (%d image(s))\n", name, count)
	}
	return nil
}

func cmdConfig(args []string) error {
	fmt.Println("Current Configuration:")
	fmt.Println("======================")
	fmt.Println()
	fmt.Println("[Camera]")
	fmt.Printf("  Device:          %s\n", cfg.Camera.Device)
	fmt.Printf("  Resolution:      %dx%d @ %d FPS\n", cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.FPS)
	fmt.Println()
	fmt.Println("[Recognition]")
	fmt.Printf("  Tolerance:       %.2f\n", cfg.Recognition.Tolerance)
	fmt.Printf("  Model Path:      %s\n", cfg.Recognition.ModelPath)
	fmt.Println()
	fmt.Println("[Liveness]")
	fmt.Printf("  Head Turn:       %.2f\n", cfg.Liveness.HeadTurnThreshold)
	fmt.Printf("  Smile:           %.2f\n", cfg.Liveness.SmileThreshold)
	fmt.Printf("  Confirmation:    %d frames\n", cfg.Liveness.ConfirmationFrames)
	fmt.Printf("  Grace Period:    %.1fs\n", cfg.Liveness.GracePeriod)
	fmt.Printf("  Timeout:         %.1fs\n", cfg.Liveness.Timeout)
	fmt.Println()
	fmt.Println("[Gallery]")
	fmt.Printf("  Images Dir:      %s\n", cfg.Gallery.ImagesDir)
	fmt.Printf("  Cache File:      %s\n", cfg.Gallery.CacheFile)
	fmt.Printf("  Encryption:      %t\n", cfg.Gallery.EncryptionEnabled)
	fmt.Println()
	fmt.Println("[Attendance]")
	fmt.Printf("  Directory:       %s\n", cfg.Attendance.Dir)
	fmt.Printf("  Rollover:        %s\n", cfg.Attendance.Rollover)
	fmt.Println()
	fmt.Println("[Server]")
	fmt.Printf("  Address:         %s\n", cfg.Server.Addr)
	fmt.Printf("  Token TTL:       %ds\n", cfg.Server.TokenTTLSeconds)
	fmt.Println()
	fmt.Println("[Logging]")
	fmt.Printf("  Level:           %s\n", cfg.Logging.Level)
	fmt.Printf("  File:            %s\n", cfg.Logging.File)

	return nil
}

func cmdVersion(args []string) error {
	fmt.Printf("Facemark v%s\n", version)
	fmt.Println("Camera Attendance with Liveness Challenges")
	return nil
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		printUsage()
		return nil
	}

	cmdName := args[0]
	cmd, ok := commands[cmdName]
	if !ok {
		return fmt.Errorf("unknown command: %s", cmdName)
	}

	fmt.Printf("Command: %s\n", cmd.Name)
	fmt.Printf("Description: %s\n", cmd.Description)
	fmt.Printf("Usage: %s\n", cmd.Usage)

	switch cmdName {
	case "run":
		fmt.Println("\nKiosk Flow:")
		fmt.Println("  1. Step in front of the camera")
		fmt.Println("  2. Complete the two on-screen challenges")
		fmt.Println("  3. Recognized faces are marked on today's sheet")
	case "gallery":
		fmt.Println("\nGallery Layout:")
		fmt.Println("  student_images/<name>/*.jpg   one folder per person")
		fmt.Println("  student_images/<name>.jpg     or one loose photo")
		fmt.Println("\nDescriptors are cached; rerun after adding photos.")
	case "config":
		fmt.Println("\nConfiguration Locations:")
		fmt.Println("  System: /etc/facemark/facemark.yaml")
		fmt.Println("  User:   ~/.config/facemark/facemark.yaml")
		fmt.Println("\nUse -config flag to specify a custom config file.")
	}

	return nil
}
