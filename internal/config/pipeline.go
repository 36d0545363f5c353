package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/actionplot/internal/core"
)

// Request holds per-invocation pipeline settings as raw text, from CLI
// flags or query parameters. Empty fields fall back to PipelineConfig.
type Request struct {
	Schema      string
	Metric      string
	GroupBy     string
	Metrics     string // comma-separated
	Actions     string // comma-separated include-list
	Actors      string // comma-separated include-list
	From        string // inclusive window start
	To          string // inclusive window end
	SessionDate string // YYYY-MM-DD
}

// Options resolves req against the configured defaults into processor
// options. Logger and KeepEvents are left for the caller.
func (c *PipelineConfig) Options(req Request) (core.Options, error) {
	key := firstNonEmpty(req.Schema, c.Schema)
	schema, ok := core.Get(key)
	if !ok {
		return core.Options{}, fmt.Errorf("unknown schema %q (use %s)", key, strings.Join(core.Keys(), ", "))
	}

	group, err := core.ParseGroupMode(firstNonEmpty(req.GroupBy, c.GroupBy))
	if err != nil {
		return core.Options{}, err
	}

	pc := *c
	if req.SessionDate != "" {
		pc.SessionDate = req.SessionDate
	}
	session, err := pc.SessionTime()
	if err != nil {
		return core.Options{}, fmt.Errorf("invalid session date %q: want YYYY-MM-DD", pc.SessionDate)
	}

	from, err := parseBound("start", req.From, session)
	if err != nil {
		return core.Options{}, err
	}
	to, err := parseBound("end", req.To, session)
	if err != nil {
		return core.Options{}, err
	}

	metrics := c.Metrics
	if req.Metrics != "" {
		metrics = SplitList(req.Metrics)
	}

	return core.Options{
		Schema:      schema,
		Group:       group,
		Metric:      firstNonEmpty(req.Metric, c.Metric),
		Metrics:     metrics,
		Actions:     SplitList(req.Actions),
		Actors:      SplitList(req.Actors),
		From:        from,
		To:          to,
		Workers:     c.Workers,
		BatchSize:   c.BatchSize,
		SessionDate: session,
	}, nil
}

// parseBound accepts every timestamp form the decoder does.
func parseBound(which, s string, session time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := core.ParseTimestamp(s, session)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time window %s %q: %v", which, s, err)
	}
	return t, nil
}

// SplitList splits a comma-separated list, trimming blanks.
func SplitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return cleanList(strings.Split(s, ","))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
