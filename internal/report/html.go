package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/JonMunkholm/actionplot/internal/core"
	"github.com/a-h/templ"
)

// PlotlyURL is the charting script loaded by the HTML page.
const PlotlyURL = "https://cdn.plot.ly/plotly-2.35.2.min.js"

// maxPageDiagnostics bounds the diagnostics table on the HTML page.
const maxPageDiagnostics = 200

type trace struct {
	X      []string       `json:"x"`
	Y      []float64      `json:"y"`
	Name   string         `json:"name"`
	Mode   string         `json:"mode"`
	Type   string         `json:"type"`
	Text   []string       `json:"text,omitempty"`
	Marker map[string]any `json:"marker,omitempty"`
}

func traces(p Payload) []trace {
	out := make([]trace, 0, len(p.Series))
	for _, s := range p.Series {
		t := trace{
			X:    make([]string, len(s.Points)),
			Y:    make([]float64, len(s.Points)),
			Name: s.Label,
			Mode: "lines+markers",
			Type: "scatter",
		}
		for i, pt := range s.Points {
			t.X[i] = pt.X
			t.Y[i] = pt.Y
		}
		out = append(out, t)
	}

	errs := trace{Name: "Errors", Mode: "markers", Type: "scatter",
		Marker: map[string]any{"symbol": "x", "size": 12, "color": "#d62728"}}
	for _, f := range p.Flags {
		if f.Y == nil {
			continue
		}
		errs.X = append(errs.X, f.X)
		errs.Y = append(errs.Y, *f.Y)
		errs.Text = append(errs.Text, f.Rule+": "+f.Advice)
	}
	if len(errs.X) > 0 {
		out = append(out, errs)
	}
	return out
}

// shapes shades stage and CPR periods across the full plot height.
func shapes(p Payload) []map[string]any {
	out := make([]map[string]any, 0, len(p.Periods))
	for _, pd := range p.Periods {
		color := "rgba(31,119,180,0.08)"
		if pd.Kind == core.PeriodCPR {
			color = "rgba(214,39,40,0.12)"
		}
		out = append(out, map[string]any{
			"type": "rect", "xref": "x", "yref": "paper",
			"x0": pd.Start, "x1": pd.End, "y0": 0, "y1": 1,
			"fillcolor": color, "line": map[string]any{"width": 0}, "layer": "below",
		})
	}
	return out
}

// Page renders a self-contained HTML plot page for p.
func Page(p Payload) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		// encoding/json escapes <, > and & so the data is safe inside <script>.
		data, err := json.Marshal(traces(p))
		if err != nil {
			return fmt.Errorf("encode traces: %w", err)
		}
		layout, err := json.Marshal(map[string]any{
			"title":  p.Metric + " by " + string(p.GroupBy),
			"xaxis":  map[string]any{"title": "time", "type": "date"},
			"yaxis":  map[string]any{"title": p.Metric},
			"shapes": shapes(p),
		})
		if err != nil {
			return fmt.Errorf("encode layout: %w", err)
		}

		var b strings.Builder
		b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n<meta charset=\"utf-8\">\n")
		fmt.Fprintf(&b, "<title>actionplot: %s</title>\n", templ.EscapeString(p.Source))
		fmt.Fprintf(&b, "<script src=\"%s\"></script>\n", PlotlyURL)
		b.WriteString("<style>body{font-family:sans-serif;margin:1.5rem}table{border-collapse:collapse}td,th{border:1px solid #ccc;padding:2px 6px;font-size:.85rem}</style>\n")
		b.WriteString("</head>\n<body>\n")
		fmt.Fprintf(&b, "<h1>%s</h1>\n", templ.EscapeString(p.Source))
		fmt.Fprintf(&b, "<p class=\"stats\">schema %s, %d rows, %d accepted, %d skipped, %d filtered, %d series. Run %s, fingerprint %s.</p>\n",
			templ.EscapeString(p.Schema), p.Stats.Rows, p.Stats.Accepted, p.Stats.Rejected, p.Stats.Filtered,
			len(p.Series), templ.EscapeString(p.RunID), templ.EscapeString(p.Fingerprint))
		b.WriteString("<div id=\"plot\" style=\"width:100%;height:70vh\"></div>\n")
		fmt.Fprintf(&b, "<script>Plotly.newPlot(\"plot\", %s, %s, {responsive: true});</script>\n", data, layout)

		writeFlagsTable(&b, p.Flags)
		writeDiagnosticsTable(&b, "Skipped rows", p.Diagnostics.Skipped)
		writeDiagnosticsTable(&b, "Warnings", p.Diagnostics.Warnings)

		b.WriteString("</body>\n</html>\n")
		_, err = io.WriteString(w, b.String())
		return err
	})
}

func writeDiagnosticsTable(b *strings.Builder, title string, errs []core.DecodeError) {
	if len(errs) == 0 {
		return
	}
	fmt.Fprintf(b, "<h2>%s (%d)</h2>\n<table>\n<tr><th>row</th><th>line</th><th>column</th><th>reason</th><th>value</th></tr>\n", title, len(errs))
	for i, e := range errs {
		if i == maxPageDiagnostics {
			fmt.Fprintf(b, "<tr><td colspan=\"5\">%d more not shown</td></tr>\n", len(errs)-i)
			break
		}
		fmt.Fprintf(b, "<tr><td>%d</td><td>%d</td><td>%s</td><td>%s</td><td>%s</td></tr>\n",
			e.Row, e.Line, templ.EscapeString(e.Column), templ.EscapeString(string(e.Reason)), templ.EscapeString(e.Value))
	}
	b.WriteString("</table>\n")
}

func writeFlagsTable(b *strings.Builder, flags []FlagPayload) {
	if len(flags) == 0 {
		return
	}
	fmt.Fprintf(b, "<h2>Error markers (%d)</h2>\n<table>\n<tr><th>row</th><th>kind</th><th>action</th><th>rule</th><th>violation</th><th>advice</th></tr>\n", len(flags))
	for i, f := range flags {
		if i == maxPageDiagnostics {
			fmt.Fprintf(b, "<tr><td colspan=\"6\">%d more not shown</td></tr>\n", len(flags)-i)
			break
		}
		action := f.Action
		if action == "" {
			action = f.Target
		}
		fmt.Fprintf(b, "<tr><td>%d</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>\n",
			f.MarkerRow, templ.EscapeString(string(f.Kind)), templ.EscapeString(action),
			templ.EscapeString(f.Rule), templ.EscapeString(f.Violation), templ.EscapeString(f.Advice))
	}
	b.WriteString("</table>\n")
}

// WriteHTML renders the plot page for p to w.
func WriteHTML(ctx context.Context, w io.Writer, p Payload) error {
	return Page(p).Render(ctx, w)
}
