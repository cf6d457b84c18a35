package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ternarybob/arbor"

	"studio-board/internal/board"
	"studio-board/internal/common"
	"studio-board/internal/handlers"
	"studio-board/internal/interfaces"
	"studio-board/internal/server"
	"studio-board/internal/services"
)

const serviceName = "studio-board"

func main() {
	// Parse command line flags
	var (
		configPath     = flag.String("config", "", "Path to configuration file")
		mode           = flag.String("mode", "dev", "Environment mode: 'dev', 'development', 'prod', or 'production'")
		quiet          = flag.Bool("quiet", false, "Suppress banner output")
		version        = flag.Bool("version", false, "Show version information")
		help           = flag.Bool("help", false, "Show help message")
		validateConfig = flag.Bool("validate", false, "Validate configuration file and exit")
	)
	flag.Parse()

	if *version {
		fmt.Printf("%s v%s (build: %s)\n", serviceName, common.GetVersion(), common.GetBuild())
		os.Exit(0)
	}

	if *help {
		showHelp()
		os.Exit(0)
	}

	environment := parseMode(*mode)

	// Load configuration with priority: defaults -> TOML -> environment
	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg.Server.Environment = environment

	if *validateConfig {
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	if err := common.InitLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger := common.GetLogger()

	// Log before the banner so the log file exists when its path is printed
	logger.Info().
		Str("version", common.GetVersion()).
		Str("build", common.GetBuild()).
		Str("environment", environment).
		Msg("Starting Studio Board")
	logger.Info().Str("config_path", *configPath).Msg("Configuration loaded")

	if !*quiet {
		common.PrintBanner(cfg, *configPath, common.GetLogFilePath())
	}

	logger.Info().Msg("Initializing services...")

	store, err := services.NewDocumentStore(&cfg.Storage, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize document store")
		os.Exit(1)
	}
	defer store.Close()

	metrics := services.NewMetrics()
	repo := services.NewRepository(store, logger)

	deps := handlers.Dependencies{
		Config:   cfg,
		Repo:     repo,
		Uploads:  services.NewUploadTracker(metrics),
		Metrics:  metrics,
		Resolver: board.NewConfigResolver(repo, logger),
		Logger:   logger,
	}

	if cfg.BlobConfigured() {
		blob, err := services.NewBlobStore(context.Background(), &cfg.Blob, logger, metrics)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to initialize blob storage")
			os.Exit(1)
		}
		deps.Blob = blob
	} else {
		logger.Warn().Msg("Blob storage not configured; file endpoints are disabled")
	}

	logger.Info().Msg("Services initialized successfully")

	runServer(cfg, deps, logger)

	if !*quiet {
		common.PrintShutdownBanner(serviceName)
	}
	logger.Info().Msg("Studio Board shutdown complete")
}

func runServer(cfg *common.Config, deps handlers.Dependencies, logger arbor.ILogger) {
	webServer, err := server.NewWebServer(deps)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create web server")
		return
	}

	if err := webServer.Start(context.Background()); err != nil {
		logger.Error().Err(err).Msg("Failed to start web server")
		return
	}
	logger.Info().Int("port", cfg.Server.Port).Msg("Web server started successfully")

	waitForSignal(webServer, logger)
}

func waitForSignal(webServer interfaces.WebService, logger arbor.ILogger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info().Msg("Server running - press Ctrl+C to stop")
	<-sigChan
	logger.Info().Msg("Shutdown signal received")

	if err := webServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping web server")
	}
}

func parseMode(mode string) string {
	switch strings.ToLower(mode) {
	case "prod", "production":
		return "production"
	default:
		return "development"
	}
}

func showHelp() {
	fmt.Printf("%s v%s - client and project tracking boards\n\n", serviceName, common.GetVersion())
	fmt.Println("Usage:")
	fmt.Printf("  %s [flags]\n\n", os.Args[0])
	fmt.Println("Flags:")
	fmt.Println("  -mode string        Environment mode: 'dev', 'development', 'prod', or 'production' (default \"dev\")")
	fmt.Println("  -config string      Configuration file path")
	fmt.Println("  -quiet              Suppress banner output")
	fmt.Println("  -version            Show version information")
	fmt.Println("  -help               Show help message")
	fmt.Println("  -validate           Validate configuration file and exit")
	fmt.Println("\nExamples:")
	fmt.Printf("  %s                                  # Run the server\n", os.Args[0])
	fmt.Printf("  %s -mode prod                       # Run in production mode\n", os.Args[0])
	fmt.Printf("  %s -config /path/to/config.toml     # Use custom config file\n", os.Args[0])
	fmt.Println("\nUse studio-boardctl to seed sample data or smoke-test a running server.")
}
