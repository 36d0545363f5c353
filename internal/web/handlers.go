package web

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/JonMunkholm/actionplot/internal/config"
	"github.com/JonMunkholm/actionplot/internal/core"
	"github.com/JonMunkholm/actionplot/internal/logging"
	"github.com/JonMunkholm/actionplot/internal/report"
	"github.com/JonMunkholm/actionplot/internal/transport"
	"github.com/a-h/templ"
)

// errNoInput is returned when a request names no CSV at all.
var errNoInput = errors.New("no input: send a CSV body, a multipart file field or a source parameter")

// bodySource names uploaded CSV bodies in payloads.
const bodySource = "request-body"

// handleHealth reports liveness and job slot usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"jobs":   s.limiter.Status(),
	})
}

type schemaInfo struct {
	Key           string   `json:"key"`
	Label         string   `json:"label"`
	Columns       []string `json:"columns"`
	DefaultMetric string   `json:"default_metric"`
}

// handleListSchemas returns every registered column layout.
func (s *Server) handleListSchemas(w http.ResponseWriter, r *http.Request) {
	keys := core.Keys()
	out := make([]schemaInfo, 0, len(keys))
	for _, key := range keys {
		sc, _ := core.Get(key)
		out = append(out, schemaInfo{
			Key:           sc.Key,
			Label:         sc.Label,
			Columns:       sc.Columns(),
			DefaultMetric: sc.DefaultMetric,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handlePlot runs one plot job and responds with the JSON payload.
func (s *Server) handlePlot(w http.ResponseWriter, r *http.Request) {
	payload, ok := s.runJob(w, r)
	if !ok {
		return
	}
	writePayload(w, payload)
}

// handlePlotPage runs one plot job and responds with the HTML page.
func (s *Server) handlePlotPage(w http.ResponseWriter, r *http.Request) {
	payload, ok := s.runJob(w, r)
	if !ok {
		return
	}
	templ.Handler(report.Page(payload)).ServeHTTP(w, r)
}

// runJob resolves options and input, waits for a job slot and processes
// the export. On failure it has already written the error response.
func (s *Server) runJob(w http.ResponseWriter, r *http.Request) (report.Payload, bool) {
	r, runID := withRunID(w, r)

	opts, err := s.cfg.Pipeline.Options(requestFromQuery(r))
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return report.Payload{}, false
	}

	if !s.limiter.TryAcquire() {
		logging.FromContext(r.Context()).Info("waiting for a job slot",
			"active", s.limiter.Active(), "max", s.limiter.MaxConcurrent())
		if err := s.limiter.Acquire(r.Context()); err != nil {
			s.respondError(w, r, err, statusFor(err))
			return report.Payload{}, false
		}
	}
	defer s.limiter.Release()

	in, source, err := s.openInput(w, r)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return report.Payload{}, false
	}
	defer in.Close()

	logger := logging.WithFields(r.Context(), "source", source, "schema", opts.Schema.Key)
	opts.Logger = logger

	proc, err := core.NewProcessor(opts)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return report.Payload{}, false
	}

	res, err := proc.Process(r.Context(), in)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%s: %w", source, err), statusFor(err))
		return report.Payload{}, false
	}

	return report.Build(runID, source, res), true
}

func requestFromQuery(r *http.Request) config.Request {
	q := r.URL.Query()
	return config.Request{
		Schema:      q.Get("schema"),
		Metric:      q.Get("metric"),
		GroupBy:     q.Get("group_by"),
		Metrics:     q.Get("metrics"),
		Actions:     q.Get("actions"),
		Actors:      q.Get("actors"),
		From:        q.Get("from"),
		To:          q.Get("to"),
		SessionDate: q.Get("session_date"),
	}
}

// openInput returns the CSV for a request: a multipart "file" field, a raw
// body, or the ?source= identifier fetched through the transport.
func (s *Server) openInput(w http.ResponseWriter, r *http.Request) (io.ReadCloser, string, error) {
	if r.Method == http.MethodPost {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadSize)

		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if mediaType == "multipart/form-data" {
			file, header, err := r.FormFile("file")
			if err != nil {
				if errors.Is(err, http.ErrMissingFile) {
					return nil, "", errNoInput
				}
				return nil, "", bodyError(err)
			}
			return file, header.Filename, nil
		}

		if r.ContentLength != 0 {
			return &limitedBody{rc: r.Body}, bodySource, nil
		}
	}

	source := r.URL.Query().Get("source")
	if source == "" {
		return nil, "", errNoInput
	}
	rc, err := s.opener.Open(r.Context(), source)
	if err != nil {
		return nil, "", err
	}
	return rc, source, nil
}

// limitedBody reports an oversized request body as transport.ErrTooLarge.
type limitedBody struct {
	rc io.ReadCloser
}

func (b *limitedBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if err != nil && err != io.EOF {
		err = bodyError(err)
	}
	return n, err
}

func (b *limitedBody) Close() error {
	return b.rc.Close()
}

func bodyError(err error) error {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return fmt.Errorf("%w: request body over %d bytes", transport.ErrTooLarge, tooBig.Limit)
	}
	if strings.Contains(err.Error(), "request body too large") {
		return fmt.Errorf("%w: %v", transport.ErrTooLarge, err)
	}
	return err
}
