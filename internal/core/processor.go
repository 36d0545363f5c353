package core

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// ContextCheckInterval is how often to check for context cancellation.
var ContextCheckInterval = 100

// DefaultBatchSize is the number of records handed to a worker at once.
const DefaultBatchSize = 1000

// Options configures one processing run.
type Options struct {
	Schema  Schema
	Group   GroupMode
	Metric  string   // Plotted metric; empty selects Schema.DefaultMetric
	Metrics []string // Extra metric columns to declare

	// Filters. Empty lists and zero times disable the filter.
	Actions []string
	Actors  []string
	From    time.Time
	To      time.Time

	Workers     int // <= 1 processes sequentially
	BatchSize   int
	SessionDate time.Time
	KeepEvents  bool // Retain accepted events in Result.Events

	Logger *slog.Logger
}

// Result is the outcome of a successful run. Row-local problems live in
// Errors and Warnings; a non-nil error from Process means no Result.
type Result struct {
	Schema      string
	Metric      string
	Group       GroupMode
	Series      []Series
	Groups      []GroupStats
	Errors      []DecodeError // Rejected rows, by row
	Warnings    []DecodeError // Dropped metric cells, by row
	Unbound     []string      // Optional columns absent from the header
	Stats       Stats
	Events      []ActionEvent // Accepted, unfiltered events by row (KeepEvents only)
	Timeline    Timeline      // Periods and error links from accepted, unfiltered events
	Fingerprint string        // murmur3-128 of the cleaned input
	Bytes       int64
	Duration    time.Duration
}

// Processor runs the decode, filter and fold pipeline. A Processor holds no
// per-run state and may be reused.
type Processor struct {
	opts    Options
	schema  Schema
	metric  string
	actions map[string]bool
	actors  map[string]bool
	logger  *slog.Logger
}

// NewProcessor validates options and fills defaults.
func NewProcessor(opts Options) (*Processor, error) {
	if opts.Schema.Key == "" {
		return nil, errors.New("processor: schema is required")
	}
	mode, err := ParseGroupMode(string(opts.Group))
	if err != nil {
		return nil, fmt.Errorf("processor: %w", err)
	}
	opts.Group = mode
	if !opts.From.IsZero() && !opts.To.IsZero() && opts.To.Before(opts.From) {
		return nil, fmt.Errorf("processor: time window ends (%s) before it starts (%s)",
			FormatTimestamp(opts.To), FormatTimestamp(opts.From))
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}

	metric := strings.TrimSpace(opts.Metric)
	if metric == "" {
		metric = opts.Schema.DefaultMetric
	}
	if metric == "" {
		return nil, errors.New("processor: no metric selected")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Processor{
		opts:    opts,
		schema:  opts.Schema.WithMetrics(append([]string{metric}, opts.Metrics...)...),
		metric:  metric,
		actions: toSet(opts.Actions),
		actors:  toSet(opts.Actors),
		logger:  logger,
	}, nil
}

// Metric returns the plotted metric key.
func (p *Processor) Metric() string {
	return p.metric
}

// Schema returns the schema including any declared metric columns.
func (p *Processor) Schema() Schema {
	return p.schema
}

func toSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			set[v] = true
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

// partial holds what one goroutine produced; partials are merged after the
// fold completes.
type partial struct {
	acc      *Accumulator
	errors   []DecodeError
	warnings []DecodeError
	events   []ActionEvent
	marks    []ActionEvent // Classified events for the timeline pass
	stats    Stats
}

func (p *Processor) newPartial() *partial {
	return &partial{acc: NewAccumulator(p.opts.Group, p.metric)}
}

// Process reads one CSV document and returns plot-ready series.
//
// Fatal errors (unreadable input, missing or unusable header) are returned
// as errors. Everything row-local is collected in the Result.
func (p *Processor) Process(ctx context.Context, r io.Reader) (*Result, error) {
	start := time.Now()
	src := WrapSource(r)

	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &HeaderError{Schema: p.schema.Key, Err: ErrMissingHeader}
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			return nil, &HeaderError{Schema: p.schema.Key, Err: fmt.Errorf("%w: %v", ErrMalformedHeader, perr)}
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	dec, err := NewDecoder(p.schema, header, p.opts.SessionDate)
	if err != nil {
		return nil, err
	}
	unbound := dec.Binding().Unbound
	if len(unbound) > 0 {
		p.logger.Warn("optional columns missing from header",
			"schema", p.schema.Key,
			"columns", unbound,
		)
	}

	var parts []*partial
	if p.opts.Workers > 1 {
		parts, err = p.runParallel(ctx, cr, dec)
	} else {
		parts, err = p.runSequential(ctx, cr, dec)
	}
	if err != nil {
		return nil, err
	}

	res := p.merge(parts)
	res.Unbound = unbound
	res.Fingerprint = src.Fingerprint()
	res.Bytes = src.BytesRead
	res.Duration = time.Since(start)

	p.logger.Info("processed action export",
		"schema", res.Schema,
		"metric", res.Metric,
		"group_by", string(res.Group),
		"rows", res.Stats.Rows,
		"accepted", res.Stats.Accepted,
		"rejected", res.Stats.Rejected,
		"filtered", res.Stats.Filtered,
		"dropped_metrics", res.Stats.Dropped,
		"series", len(res.Series),
		"periods", len(res.Timeline.Periods),
		"flags", len(res.Timeline.Flags),
		"duration", res.Duration,
	)
	return res, nil
}

func (p *Processor) runSequential(ctx context.Context, cr *csv.Reader, dec *Decoder) ([]*partial, error) {
	part := p.newPartial()
	err := p.scan(ctx, cr, part, func(raw RawRow) error {
		p.fold(dec, part, raw)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return []*partial{part}, nil
}

// runParallel has one goroutine read records into batches while workers
// decode and fold them into private partials.
func (p *Processor) runParallel(ctx context.Context, cr *csv.Reader, dec *Decoder) ([]*partial, error) {
	g, gctx := errgroup.WithContext(ctx)
	batches := make(chan []RawRow, p.opts.Workers)

	reader := p.newPartial()
	g.Go(func() error {
		defer close(batches)

		batch := make([]RawRow, 0, p.opts.BatchSize)
		send := func() error {
			if len(batch) == 0 {
				return nil
			}
			select {
			case batches <- batch:
			case <-gctx.Done():
				return gctx.Err()
			}
			batch = make([]RawRow, 0, p.opts.BatchSize)
			return nil
		}

		err := p.scan(gctx, cr, reader, func(raw RawRow) error {
			batch = append(batch, raw)
			if len(batch) >= p.opts.BatchSize {
				return send()
			}
			return nil
		})
		if err != nil {
			return err
		}
		return send()
	})

	workers := make([]*partial, p.opts.Workers)
	for i := range workers {
		part := p.newPartial()
		workers[i] = part
		g.Go(func() error {
			for batch := range batches {
				for _, raw := range batch {
					p.fold(dec, part, raw)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return append([]*partial{reader}, workers...), nil
}

// scan reads data records, skipping blank ones and recording malformed ones
// in part, and hands the rest to emit in input order.
func (p *Processor) scan(ctx context.Context, cr *csv.Reader, part *partial, emit func(RawRow) error) error {
	row := 0
	for {
		if row%ContextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		row++

		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return fmt.Errorf("read row %d: %w", row, err)
			}
			part.stats.Rows++
			part.stats.Rejected++
			e := MalformedRecord(row, perr.StartLine, perr.Err)
			part.errors = append(part.errors, e)
			p.logSkipped(e)
			continue
		}

		if isEmptyRow(record) {
			part.stats.Blank++
			continue
		}
		part.stats.Rows++

		line, _ := cr.FieldPos(0)
		if err := emit(RawRow{Row: row, Line: line, Fields: record}); err != nil {
			return err
		}
	}
}

// fold decodes one row and applies filters.
func (p *Processor) fold(dec *Decoder, part *partial, raw RawRow) {
	res := dec.Decode(raw)
	if len(res.Dropped) > 0 {
		part.warnings = append(part.warnings, res.Dropped...)
		part.stats.Dropped += len(res.Dropped)
	}
	if !res.OK() {
		part.stats.Rejected++
		part.errors = append(part.errors, *res.Err)
		p.logSkipped(*res.Err)
		return
	}

	part.stats.Accepted++
	if res.Event.Kind != KindNone {
		part.marks = append(part.marks, res.Event)
	}
	if !p.keep(res.Event) {
		part.stats.Filtered++
		return
	}

	part.acc.Add(res.Event)
	if p.opts.KeepEvents {
		part.events = append(part.events, res.Event)
	}
}

func (p *Processor) keep(ev ActionEvent) bool {
	if p.actions != nil && !p.actions[ev.ActionType] {
		return false
	}
	if p.actors != nil && !p.actors[ev.ActorID] {
		return false
	}
	if !p.opts.From.IsZero() && ev.Timestamp.Before(p.opts.From) {
		return false
	}
	if !p.opts.To.IsZero() && ev.Timestamp.After(p.opts.To) {
		return false
	}
	return true
}

func (p *Processor) logSkipped(e DecodeError) {
	p.logger.Debug("skipped row",
		"row", e.Row,
		"line", e.Line,
		"column", e.Column,
		"reason", string(e.Reason),
		"message", e.Message,
	)
}

func (p *Processor) merge(parts []*partial) *Result {
	acc := NewAccumulator(p.opts.Group, p.metric)
	res := &Result{
		Schema: p.schema.Key,
		Metric: p.metric,
		Group:  p.opts.Group,
	}
	var marks []ActionEvent

	for _, part := range parts {
		acc.Merge(part.acc)
		res.Errors = append(res.Errors, part.errors...)
		res.Warnings = append(res.Warnings, part.warnings...)
		res.Events = append(res.Events, part.events...)
		marks = append(marks, part.marks...)

		res.Stats.Rows += part.stats.Rows
		res.Stats.Blank += part.stats.Blank
		res.Stats.Accepted += part.stats.Accepted
		res.Stats.Rejected += part.stats.Rejected
		res.Stats.Filtered += part.stats.Filtered
		res.Stats.Dropped += part.stats.Dropped
	}

	sortByRow(res.Errors)
	sortByRow(res.Warnings)
	sort.SliceStable(res.Events, func(i, j int) bool {
		return res.Events[i].Row < res.Events[j].Row
	})

	res.Series = BuildSeries(acc)
	res.Groups = GroupSummary(acc)
	res.Timeline = BuildTimeline(marks, p.metric)
	return res
}

func sortByRow(errs []DecodeError) {
	sort.SliceStable(errs, func(i, j int) bool {
		return errs[i].Row < errs[j].Row
	})
}
