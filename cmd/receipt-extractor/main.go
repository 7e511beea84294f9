package main

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/zombor/receipt-extractor/internal/batch"
	"github.com/zombor/receipt-extractor/internal/receipt"
	"github.com/zombor/receipt-extractor/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("receipt-extractor")
	var (
		port          = fs.IntLong("port", 8080, "HTTP server port")
		backend       = fs.StringLong("backend", "gemini", "Extraction backend: 'gemini', 'gateway' or 'ollama'")
		geminiKey     = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel   = fs.StringLong("gemini-model", "gemini-2.0-flash", "Google Gemini model name")
		gatewayURL    = fs.StringLong("gateway-url", "https://ai.gateway.lovable.dev/v1/chat/completions", "AI gateway chat completions URL")
		gatewayKey    = fs.StringLong("gateway-key", "", "AI gateway API key (or set LOVABLE_API_KEY env var)")
		gatewayModel  = fs.StringLong("gateway-model", "google/gemini-2.5-flash", "AI gateway model name")
		ollamaURL     = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel   = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, qwen2-vl)")
		profileName   = fs.StringLong("profile", "standard", "Output schema: 'standard' or 'detailed'")
		maxFiles      = fs.IntLong("max-files", batch.DefaultMaxFiles, "Maximum files per batch")
		maxFileSize   = fs.IntLong("max-file-size", batch.DefaultMaxFileBytes, "Maximum bytes per file sent to the AI backend")
		maxUploadSize = fs.IntLong("max-upload-size", batch.DefaultMaxUploadBytes, "Maximum bytes per uploaded file")
		window        = fs.IntLong("window", batch.DefaultWindow, "Files dispatched concurrently per window")
		windowDelayMS = fs.IntLong("window-delay-ms", int(batch.DefaultWindowDelay/time.Millisecond), "Pause between windows in milliseconds")
		noDuplicates  = fs.BoolLong("no-duplicate-flag", "Do not mark repeated receipts in the merchant column")
		ingestorName  = fs.StringLong("ingestor", "scan", "Multipart decoder: 'scan' or 'std'")
		cachePath     = fs.StringLong("cache-db", "", "Reply cache database path (optional)")
		authUser      = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass      = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion   = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RECEIPT_EXTRACTOR"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	profile, err := scanning.ProfileByName(*profileName, time.Now().Year())
	if err != nil {
		slog.Error("Invalid profile", "error", err)
		os.Exit(1)
	}

	ingestor, err := batch.NewIngestor(*ingestorName)
	if err != nil {
		slog.Error("Invalid ingestor", "error", err)
		os.Exit(1)
	}

	// Initialize extractor based on backend
	var extractor scanning.Extractor
	switch *backend {
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini extractor...", "model", *geminiModel)
		extractor, err = scanning.NewGemini(apiKey, *geminiModel)
	case "gateway":
		apiKey := *gatewayKey
		if apiKey == "" {
			apiKey = os.Getenv("LOVABLE_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gateway API key is required. Set --gateway-key flag or LOVABLE_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing gateway extractor...", "url", *gatewayURL, "model", *gatewayModel)
		extractor, err = scanning.NewGateway(*gatewayURL, apiKey, *gatewayModel)
	case "ollama":
		slog.Info("Initializing Ollama extractor...", "url", *ollamaURL, "model", *ollamaModel)
		extractor, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
	default:
		slog.Error("Invalid backend", "backend", *backend, "valid", "gemini, gateway or ollama")
		os.Exit(1)
	}
	if err != nil {
		slog.Error("Failed to initialize extractor", "backend", *backend, "error", err)
		os.Exit(1)
	}

	if *cachePath != "" {
		slog.Info("Opening reply cache...", "path", *cachePath)
		cache, err := scanning.OpenCache(*cachePath)
		if err != nil {
			slog.Error("Failed to open reply cache", "error", err)
			os.Exit(1)
		}
		extractor = scanning.NewCachedExtractor(extractor, cache)
	}
	defer extractor.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := receipt.NewMetrics(registry)
	if err != nil {
		slog.Error("Failed to register metrics", "error", err)
		os.Exit(1)
	}

	opts := receipt.DefaultOptions()
	opts.Policy.MaxFiles = *maxFiles
	opts.Policy.MaxFileBytes = *maxFileSize
	opts.Policy.MaxUploadBytes = *maxUploadSize
	opts.Window = *window
	opts.WindowDelay = time.Duration(*windowDelayMS) * time.Millisecond
	opts.FlagDuplicates = !*noDuplicates
	opts.Metrics = metrics

	service := receipt.NewService(extractor, profile, opts)

	basicAuth := receipt.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := receipt.NewServer(service, ingestor, basicAuth)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started",
		"address", fmt.Sprintf("http://localhost%s", addr),
		"backend", extractor.Name(),
		"profile", profile.Name,
	)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
