package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/peterbourgon/ff/v4"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"github.com/zombor/mileage-tracker/internal/extraction"
	"github.com/zombor/mileage-tracker/internal/ledger"
	"github.com/zombor/mileage-tracker/internal/mileage"
	"github.com/zombor/mileage-tracker/internal/scanning"
)

// printer formats mileage with thousands separators
var printer = message.NewPrinter(language.English)

// newService wires the extraction pipeline to the store's calendar
func newService(store *ledger.Store, recognizer scanning.Recognizer) *mileage.Service {
	return mileage.NewService(store, extraction.NewPipeline(recognizer, store.Location()))
}

func serveCommand(cfg *rootConfig, parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("serve").SetParent(parent)
	var (
		port     = fs.IntLong("port", 8080, "HTTP server port")
		authUser = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
	)

	return &ff.Command{
		Name:      "serve",
		Usage:     "mileage-tracker serve [FLAGS]",
		ShortHelp: "Run the HTTP API",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			cfg.setupLogging()

			store, err := cfg.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			recognizer, err := cfg.newRecognizer()
			if err != nil {
				return err
			}
			defer recognizer.Close()

			service := newService(store, recognizer)

			basicAuth := mileage.BasicAuth{
				Username: *authUser,
				Password: *authPass,
			}
			if *authUser != "" || *authPass != "" {
				slog.Info("Basic auth enabled", "user", *authUser)
			}

			server := mileage.NewServer(service, basicAuth)
			if err := server.Start(ctx, fmt.Sprintf(":%d", *port)); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			slog.Info("Shutting down...")
			return nil
		},
	}
}

func scanCommand(cfg *rootConfig, parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("scan").SetParent(parent)
	var (
		commit      = fs.BoolLong("commit", "Store every candidate that was read successfully")
		concurrency = fs.IntLong("concurrency", 4, "Maximum photos recognized at once")
	)

	return &ff.Command{
		Name:      "scan",
		Usage:     "mileage-tracker scan [FLAGS] <PHOTO> ...",
		ShortHelp: "Read odometer figures from photos",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			cfg.setupLogging()
			if len(args) == 0 {
				return errors.New("scan requires at least one photo")
			}

			imgs := make([]*scanning.Image, 0, len(args))
			for _, path := range args {
				img, err := scanning.LoadImage(path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				imgs = append(imgs, img)
			}

			recognizer, err := cfg.newRecognizer()
			if err != nil {
				return err
			}
			defer recognizer.Close()

			loc, err := cfg.location()
			if err != nil {
				return err
			}
			results := extraction.NewPipeline(recognizer, loc).ExtractAll(ctx, imgs, *concurrency)

			var service *mileage.Service
			if *commit {
				store, err := cfg.openStore(ctx)
				if err != nil {
					return err
				}
				defer store.Close()
				service = mileage.NewService(store, nil)
			}

			failed := 0
			for _, result := range results {
				if result.Err != nil {
					failed++
					fmt.Fprintf(os.Stderr, "%s: %v\n", result.Image.Name, result.Err)
					continue
				}
				printer.Printf("%s\t%d\t%s\n", result.Image.Name, result.Candidate.Miles, result.Candidate.Date.In(loc).Format("2006-01-02"))

				if service == nil {
					continue
				}
				if _, err := service.Insert(ctx, result.Candidate.Record); err != nil {
					failed++
					fmt.Fprintf(os.Stderr, "%s: %v\n", result.Image.Name, err)
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d photos failed", failed, len(results))
			}
			return nil
		},
	}
}

func addCommand(cfg *rootConfig, parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("add").SetParent(parent)

	return &ff.Command{
		Name:      "add",
		Usage:     "mileage-tracker add [FLAGS] <MILES> <YYYY-MM-DD>",
		ShortHelp: "Record a reading by hand",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			cfg.setupLogging()
			if len(args) != 2 {
				return errors.New("add requires miles and a date")
			}

			store, err := cfg.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			record, err := mileage.NewService(store, nil).AddEntry(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			printer.Printf("Added entry %d: %d miles on %s\n", record.ID, record.Miles, record.Day(store.Location()))
			return nil
		},
	}
}

func listCommand(cfg *rootConfig, parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("list").SetParent(parent)
	order := fs.StringLong("order", "desc", "Sort order: 'desc' (newest first) or 'asc'")

	return &ff.Command{
		Name:      "list",
		Usage:     "mileage-tracker list [FLAGS]",
		ShortHelp: "Print stored readings",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			cfg.setupLogging()
			o, err := ledger.ParseOrder(*order)
			if err != nil {
				return err
			}

			store, err := cfg.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			service := mileage.NewService(store, nil)
			for _, record := range service.Entries(o) {
				printer.Printf("%d\t%s\t%d\n", record.ID, record.Day(store.Location()), record.Miles)
			}

			summary := service.Summary()
			printer.Printf("%d of %d entries, %d miles covered\n", summary.Count, summary.MaxEntries, summary.Range)
			return nil
		},
	}
}

// export is the document written by the export subcommand
type export struct {
	Summary ledger.Summary  `json:"summary" yaml:"summary"`
	Entries []ledger.Record `json:"entries" yaml:"entries"`
}

func exportCommand(cfg *rootConfig, parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("export").SetParent(parent)
	var (
		format = fs.StringLong("format", "yaml", "Output format: 'yaml' or 'json'")
		output = fs.StringLong("output", "", "Output file (default: stdout)")
	)

	return &ff.Command{
		Name:      "export",
		Usage:     "mileage-tracker export [FLAGS]",
		ShortHelp: "Dump every reading as YAML or JSON",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			cfg.setupLogging()

			store, err := cfg.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			service := mileage.NewService(store, nil)
			doc := export{
				Summary: service.Summary(),
				Entries: service.Entries(ledger.DateAsc),
			}

			var w io.Writer = os.Stdout
			if *output != "" {
				f, err := os.Create(*output)
				if err != nil {
					return fmt.Errorf("creating output file: %w", err)
				}
				defer f.Close()
				w = f
			}
			return writeExport(w, *format, doc)
		},
	}
}

func writeExport(w io.Writer, format string, doc export) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encoding json: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("invalid format %q: want yaml or json", format)
	}
}
