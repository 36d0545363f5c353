package web

import (
	"net/http"

	"github.com/JonMunkholm/actionplot/internal/logging"
	"github.com/JonMunkholm/actionplot/internal/report"
)

// withRunID assigns a fresh run id to the request context and echoes it in
// the X-Run-ID response header.
func withRunID(w http.ResponseWriter, r *http.Request) (*http.Request, string) {
	runID := report.NewRunID()
	w.Header().Set("X-Run-ID", runID)
	ctx := logging.ContextWithRunID(r.Context(), runID)
	return r.WithContext(ctx), runID
}
