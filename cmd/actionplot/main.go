// Package main provides the actionplot CLI, which turns one action-event CSV
// export into plot-ready series as JSON or an HTML page.
//
// Usage:
//
//	actionplot [flags] <source>
//
// The source is a file path, "-" for stdin, an http(s) URL or an
// s3://bucket/key location; a .sz suffix marks snappy-framed input.
// Exit status is 0 on success (even when rows were skipped), 1 when the
// source or its header is unusable, and 2 on usage errors.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/actionplot/internal/config"
	"github.com/JonMunkholm/actionplot/internal/core"
	"github.com/JonMunkholm/actionplot/internal/logging"
	"github.com/JonMunkholm/actionplot/internal/report"
	"github.com/JonMunkholm/actionplot/internal/transport"
	"github.com/joho/godotenv"
)

const (
	exitOK    = 0
	exitFatal = 1
	exitUsage = 2
)

func main() {
	// A missing .env file is fine; flags and the environment still apply.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type cliFlags struct {
	req       config.Request
	workers   int
	batchSize int
	format    string
	output    string
	events    string
	pretty    bool
	quiet     bool
	logLevel  string
	logFormat string
	list      bool
}

func parseFlags(args []string, stderr io.Writer) (*cliFlags, *flag.FlagSet, error) {
	f := &cliFlags{}
	fs := flag.NewFlagSet("actionplot", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: actionplot [flags] <path | - | http(s)://... | s3://bucket/key>")
		fs.PrintDefaults()
	}

	fs.StringVar(&f.req.Schema, "schema", "", "column layout: generic or dashboard (env PLOT_SCHEMA)")
	fs.StringVar(&f.req.Metric, "metric", "", "metric plotted on the y axis (default: schema default)")
	fs.StringVar(&f.req.GroupBy, "group-by", "", "action, actor, actor_action or category (env PLOT_GROUP_BY)")
	fs.StringVar(&f.req.Metrics, "metrics", "", "comma-separated extra metric columns to decode")
	fs.StringVar(&f.req.Actions, "actions", "", "comma-separated action types to keep")
	fs.StringVar(&f.req.Actors, "actors", "", "comma-separated actors to keep")
	fs.StringVar(&f.req.From, "from", "", "drop events before this time")
	fs.StringVar(&f.req.To, "to", "", "drop events after this time")
	fs.StringVar(&f.req.SessionDate, "session-date", "", "date anchoring H:MM:SS timestamps, YYYY-MM-DD")
	fs.IntVar(&f.workers, "workers", 0, "decode goroutines; 1 is sequential (env PLOT_WORKERS)")
	fs.IntVar(&f.batchSize, "batch-size", 0, "rows per worker batch (env PLOT_BATCH_SIZE)")
	fs.StringVar(&f.format, "format", "json", "output format: json or html")
	fs.StringVar(&f.output, "o", "", "write output to this file instead of stdout")
	fs.StringVar(&f.events, "events", "", "also write accepted events as normalized CSV to this file")
	fs.BoolVar(&f.pretty, "pretty", false, "indent JSON output")
	fs.BoolVar(&f.quiet, "q", false, "suppress the diagnostics summary on stderr")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error (env LOG_LEVEL)")
	fs.StringVar(&f.logFormat, "log-format", "", "text or json (env LOG_FORMAT)")
	fs.BoolVar(&f.list, "list-schemas", false, "list registered schemas and exit")

	if err := fs.Parse(args); err != nil {
		return nil, fs, err
	}
	return f, fs, nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	f, fs, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "actionplot: %v\n", err)
		return exitUsage
	}
	if f.workers > 0 {
		cfg.Pipeline.Workers = f.workers
	}
	if f.batchSize > 0 {
		cfg.Pipeline.BatchSize = f.batchSize
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Logging.Format = f.logFormat
	}
	logging.Setup(stderr, cfg.Logging.Level, cfg.Logging.Format)

	if f.list {
		for _, key := range core.Keys() {
			s, _ := core.Get(key)
			fmt.Fprintf(stdout, "%-10s %s (default metric %q)\n", s.Key, s.Label, s.DefaultMetric)
		}
		return exitOK
	}

	if fs.NArg() != 1 {
		fs.Usage()
		return exitUsage
	}
	if f.format != "json" && f.format != "html" {
		fmt.Fprintf(stderr, "actionplot: unknown format %q (use json or html)\n", f.format)
		return exitUsage
	}
	source := fs.Arg(0)

	opts, err := cfg.Pipeline.Options(f.req)
	if err != nil {
		return fail(ctx, stderr, err, exitUsage)
	}

	runID := report.NewRunID()
	ctx = logging.ContextWithRunID(ctx, runID)
	opts.Logger = logging.WithFields(ctx, "source", source)
	opts.KeepEvents = f.events != ""

	proc, err := core.NewProcessor(opts)
	if err != nil {
		return fail(ctx, stderr, err, exitUsage)
	}

	opener := transport.NewOpener(cfg.Source.Transport()).WithStdin(stdin)
	rc, err := opener.Open(ctx, source)
	if err != nil {
		return fail(ctx, stderr, err, exitFatal)
	}
	defer rc.Close()

	res, err := proc.Process(ctx, rc)
	if err != nil {
		return fail(ctx, stderr, fmt.Errorf("%s: %w", source, err), exitFatal)
	}
	payload := report.Build(runID, source, res)

	if err := writeOutput(ctx, stdout, f, payload); err != nil {
		return fail(ctx, stderr, err, exitFatal)
	}
	if f.events != "" {
		if err := writeEvents(f.events, proc.Schema(), res.Events); err != nil {
			return fail(ctx, stderr, err, exitFatal)
		}
	}

	if !f.quiet {
		report.WriteSummary(stderr, payload)
	}
	return exitOK
}

// fail logs the technical error and prints the user-facing message.
func fail(ctx context.Context, stderr io.Writer, err error, code int) int {
	logging.FromContext(ctx).Debug("run failed", "error", err)
	if core.IsUserFacing(err) {
		fmt.Fprintf(stderr, "actionplot: %s\n  %v\n", core.FormatUserError(err), err)
	} else {
		fmt.Fprintf(stderr, "actionplot: %v\n", err)
	}
	return code
}

func writeOutput(ctx context.Context, stdout io.Writer, f *cliFlags, p report.Payload) error {
	w := stdout
	if f.output != "" {
		file, err := os.Create(f.output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer file.Close()
		w = file
	}

	var err error
	if f.format == "html" {
		err = report.WriteHTML(ctx, w, p)
	} else {
		err = report.WriteJSON(w, p, f.pretty)
	}
	if err != nil {
		return fmt.Errorf("write %s output: %w", f.format, err)
	}
	slog.Debug("output written", "format", f.format, "path", f.output, "series", len(p.Series))
	return nil
}

func writeEvents(path string, s core.Schema, events []core.ActionEvent) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create events file: %w", err)
	}
	if err := core.WriteEvents(file, s, events); err != nil {
		file.Close()
		return fmt.Errorf("write events: %w", err)
	}
	return file.Close()
}
