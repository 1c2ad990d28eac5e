package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/mileage-tracker/internal/ledger"
	"github.com/zombor/mileage-tracker/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

// rootConfig holds the flags shared by every subcommand
type rootConfig struct {
	dbPath      *string
	backend     *string
	maxEntries  *int
	timezone    *string
	scanner     *string
	geminiKey   *string
	geminiModel *string
	ollamaURL   *string
	ollamaModel *string
	debug       *bool
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("mileage-tracker")
	cfg := &rootConfig{
		dbPath:      fs.StringLong("db", "mileage-tracker.db", "Database file path"),
		backend:     fs.StringLong("backend", "bolt", "Storage backend: 'bolt' or 'sqlite'"),
		maxEntries:  fs.IntLong("max-entries", ledger.DefaultMaxEntries, "Maximum number of stored entries"),
		timezone:    fs.StringLong("timezone", "", "IANA time zone calendar days are counted in (default: system local)"),
		scanner:     fs.StringLong("scanner", "gemini", "Scanner type: 'gemini' or 'ollama'"),
		geminiKey:   fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)"),
		geminiModel: fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name"),
		ollamaURL:   fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL"),
		ollamaModel: fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, qwen2-vl)"),
		debug:       fs.BoolLong("debug", "Enable debug logging"),
	}
	fs.BoolLong("version", "Show version information")

	root := &ff.Command{
		Name:      "mileage-tracker",
		Usage:     "mileage-tracker [FLAGS] <SUBCOMMAND> ...",
		ShortHelp: "Track odometer readings from dashboard photos",
		Flags:     fs,
		Subcommands: []*ff.Command{
			serveCommand(cfg, fs),
			scanCommand(cfg, fs),
			addCommand(cfg, fs),
			listCommand(cfg, fs),
			exportCommand(cfg, fs),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := root.ParseAndRun(ctx, os.Args[1:], ff.WithEnvVarPrefix("MILEAGE_TRACKER"))
	switch {
	case err == nil:
	case errors.Is(err, ff.ErrHelp), errors.Is(err, ff.ErrNoExec):
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(root.GetSelected()))
	default:
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(root.GetSelected()))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// setupLogging switches the default logger to debug level when requested
func (c *rootConfig) setupLogging() {
	if *c.debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}
}

// location resolves --timezone
func (c *rootConfig) location() (*time.Location, error) {
	if *c.timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(*c.timezone)
	if err != nil {
		return nil, fmt.Errorf("loading time zone: %w", err)
	}
	return loc, nil
}

// openStore opens the configured backend and loads the ledger
func (c *rootConfig) openStore(ctx context.Context) (*ledger.Store, error) {
	loc, err := c.location()
	if err != nil {
		return nil, err
	}

	var backend ledger.Backend
	switch *c.backend {
	case "bolt":
		slog.Info("Initializing database...", "backend", "bolt", "path", *c.dbPath)
		backend, err = ledger.NewBoltBackend(*c.dbPath)
	case "sqlite":
		slog.Info("Initializing database...", "backend", "sqlite", "path", *c.dbPath)
		backend, err = ledger.NewSQLiteBackend(*c.dbPath)
	default:
		return nil, fmt.Errorf("invalid backend %q: want bolt or sqlite", *c.backend)
	}
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	store, err := ledger.Open(ctx, backend,
		ledger.WithMaxEntries(*c.maxEntries),
		ledger.WithLocation(loc),
	)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return store, nil
}

// newRecognizer builds the configured OCR backend behind the PDF text-layer shortcut
func (c *rootConfig) newRecognizer() (scanning.Recognizer, error) {
	var (
		recognizer scanning.Recognizer
		err        error
	)
	switch *c.scanner {
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *c.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("gemini API key is required: set --gemini-key or GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini scanner...", "model", *c.geminiModel)
		recognizer, err = scanning.NewGemini(apiKey, *c.geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", *c.ollamaURL, "model", *c.ollamaModel)
		recognizer, err = scanning.NewOllama(*c.ollamaURL, *c.ollamaModel)
	default:
		return nil, fmt.Errorf("invalid scanner type %q: want gemini or ollama", *c.scanner)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing %s scanner: %w", *c.scanner, err)
	}
	return scanning.NewTextLayer(recognizer), nil
}
