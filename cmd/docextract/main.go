package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/zombor/docextract/internal/note"
	"github.com/zombor/docextract/internal/ocr"
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

	// A missing .env is fine; real environment variables still apply
	_ = godotenv.Load()

	fs := ff.NewFlagSet("docextract")
	var (
		port           = fs.IntLong("port", 8080, "HTTP server port")
		dbPath         = fs.StringLong("db", "docextract.db", "BoltDB file path (slot=bolt)")
		slotType       = fs.StringLong("slot", "bolt", "Storage slot: 'bolt' or 'file'")
		dataDir        = fs.StringLong("data-dir", "./data", "Directory for the JSON file slot (slot=file)")
		recognizerType = fs.StringLong("recognizer", "tesseract", "OCR engine: 'tesseract', 'gemini' or 'ollama'")
		tesseractBin   = fs.StringLong("tesseract-bin", "tesseract", "Path to the tesseract binary")
		tesseractLang  = fs.StringLong("tesseract-lang", "eng", "Tesseract language(s), e.g. eng or eng+fra")
		tessdataDir    = fs.StringLong("tessdata-dir", "", "Tesseract tessdata directory (optional)")
		tesseractPSM   = fs.IntLong("tesseract-psm", 0, "Tesseract page segmentation mode (0 keeps the default)")
		maxPages       = fs.IntLong("max-pages", 1, "Maximum PDF pages to recognize")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel    = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL      = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel    = fs.StringLong("ollama-model", "qwen2.5vl", "Ollama vision model name")
		captureTimeout = fs.DurationLong("capture-timeout", 2*time.Minute, "Maximum time for one capture (0 disables)")
		authUser       = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass       = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel       = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		showVersion    = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("DOCEXTRACT"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid log level %q\n", *logLevel)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Initialize storage slot
	var slot note.Slot
	switch *slotType {
	case "bolt":
		slog.Info("Initializing database...", "path", *dbPath)
		db, err := note.NewBoltSlot(*dbPath)
		if err != nil {
			slog.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		slot = db
	case "file":
		slog.Info("Initializing file storage...", "dir", *dataDir)
		fileSlot, err := note.NewFileSlot(*dataDir)
		if err != nil {
			slog.Error("Failed to initialize storage", "error", err)
			os.Exit(1)
		}
		slot = fileSlot
	default:
		slog.Error("Invalid slot type", "type", *slotType, "valid", "bolt or file")
		os.Exit(1)
	}

	// Initialize recognizer based on type
	var recognizer ocr.Recognizer
	switch *recognizerType {
	case "tesseract":
		slog.Info("Initializing Tesseract recognizer...", "binary", *tesseractBin, "lang", *tesseractLang)
		recognizer = ocr.NewTesseract(ocr.TesseractConfig{
			Binary:      *tesseractBin,
			Lang:        *tesseractLang,
			TessdataDir: *tessdataDir,
			PSM:         *tesseractPSM,
			MaxPages:    *maxPages,
		}, logger)
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini recognizer...", "model", *geminiModel)
		g, err := ocr.NewGemini(context.Background(), apiKey, *geminiModel, *maxPages, logger)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
		recognizer = g
	case "ollama":
		slog.Info("Initializing Ollama recognizer...", "url", *ollamaURL, "model", *ollamaModel)
		o, err := ocr.NewOllama(*ollamaURL, *ollamaModel, *maxPages, logger)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
		recognizer = o
	default:
		slog.Error("Invalid recognizer type", "type", *recognizerType, "valid", "tesseract, gemini or ollama")
		os.Exit(1)
	}
	defer recognizer.Close()

	// Initialize store
	store := note.NewStore(slot, logger)
	notes := store.Load()
	slog.Info("Loaded delivery notes", "count", len(notes))

	// Initialize metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := note.NewMetrics(registry)
	if err != nil {
		slog.Error("Failed to register metrics", "error", err)
		os.Exit(1)
	}
	defer metrics.Track(store)()

	// Initialize capture session
	session := note.NewSession(store, recognizer,
		note.WithTimeout(*captureTimeout),
		note.WithMetrics(metrics),
		note.WithLogger(logger),
	)

	// Initialize server
	basicAuth := note.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := note.NewServer(store, session, basicAuth, registry)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Shutdown error", "error", err)
	}
}
