package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ironsheep/scene-dispatcher/internal/config"
	"github.com/ironsheep/scene-dispatcher/internal/logging"
	"github.com/ironsheep/scene-dispatcher/internal/scene"
	"github.com/ironsheep/scene-dispatcher/internal/server"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	defaults := config.DefaultConfig()
	configPath := flag.String("config", "", "Path to a YAML or TOML configuration file")
	url := flag.String("u", defaults.Inference.URL, "Inference server URL")
	patchSize := flag.Int("p", defaults.Tiling.PatchSize, "Patch size in pixels")
	stride := flag.Int("s", defaults.Tiling.Stride, "Stride between patches in pixels")
	scaling := flag.Int("n", defaults.Tiling.ScalingFactor, "Worker scaling factor")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	port := flag.Int("port", defaults.Server.Port, "HTTP listen port")
	maxJobs := flag.Int("max-jobs", defaults.Server.MaxConcurrentJobs, "Maximum number of concurrent jobs")
	flag.Usage = usage

	// Handle --version and --help; -v is the verbose flag, not version.
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "version":
			fmt.Printf("scene-dispatcher %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
			return
		case "--help", "-h", "help":
			usage()
			return
		}
	}

	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	// Flags given on the command line override the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "u":
			cfg.Inference.URL = *url
		case "p":
			cfg.Tiling.PatchSize = *patchSize
		case "s":
			cfg.Tiling.Stride = *stride
		case "n":
			cfg.Tiling.ScalingFactor = *scaling
		case "v":
			cfg.Verbose = *verbose
		case "port":
			cfg.Server.Port = *port
		case "max-jobs":
			cfg.Server.MaxConcurrentJobs = *maxJobs
		}
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	closer := logging.Setup(cfg.Log, cfg.Verbose)
	defer closer.Close()

	logging.Infof("scene-dispatcher %s (built %s, commit %s)", Version, BuildTime, GitCommit)
	logging.Infof("Inference server URL: %s", cfg.Inference.URL)
	logging.Infof("Patch size: %d", cfg.Tiling.PatchSize)
	logging.Infof("Stride size: %d", cfg.Tiling.Stride)
	logging.Infof("Scale factor: %d", cfg.Tiling.ScalingFactor)
	logging.Infof("Verbose: %t", logging.Verbose())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inferencer := scene.NewInferencer(cfg.Scene())
	srv := server.New(inferencer, server.Options{
		Port:              cfg.Server.Port,
		MaxConcurrentJobs: cfg.Server.MaxConcurrentJobs,
		CORSOrigins:       cfg.Server.CORSOrigins,
		Version:           Version,
	})
	if err := srv.Run(ctx); err != nil {
		logging.Errorf("Server error: %v", err)
		closer.Close()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("scene-dispatcher - tiled segmentation dispatcher for large rasters")
	fmt.Println()
	fmt.Println("Usage: scene-dispatcher [options]")
	fmt.Println()
	fmt.Println("Options:")
	flag.CommandLine.SetOutput(os.Stdout)
	flag.PrintDefaults()
	fmt.Println("  --version")
	fmt.Println("    \tPrint version information")
	fmt.Println()
	fmt.Println("Environment variables:")
	fmt.Printf("  %s=debug    Enable debug logging\n", logging.EnvLogLevel)
	fmt.Println()
	fmt.Println("Endpoints:")
	fmt.Println("  POST /segment?image_path=...&output_path=...")
	fmt.Println("  GET  /healthz")
	fmt.Println("  GET  /status")
}
