package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const exportCSV = `timestamp,actor,action_type,score
2024-09-18T10:00:05Z,p1,jump,3
2024-09-18T10:00:01Z,p2,jump,1
bad-time,p1,jump,2
2024-09-18T10:00:03Z,p1,attack,7
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCLI(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_JSONFromFile(t *testing.T) {
	path := writeFile(t, "export.csv", exportCSV)

	code, stdout, stderr := runCLI(t, "", "-group-by", "actor", path)
	if code != exitOK {
		t.Fatalf("exit = %d, stderr = %s", code, stderr)
	}

	var doc struct {
		Source  string `json:"source"`
		GroupBy string `json:"group_by"`
		Series  []struct {
			Label string `json:"label"`
		} `json:"series"`
		Diagnostics struct {
			Skipped []struct {
				Row int `json:"row"`
			} `json:"skipped"`
		} `json:"diagnostics"`
	}
	if err := json.Unmarshal([]byte(stdout), &doc); err != nil {
		t.Fatalf("stdout is not JSON: %v", err)
	}
	if doc.Source != path || doc.GroupBy != "actor" || len(doc.Series) != 2 {
		t.Errorf("payload = %+v", doc)
	}
	if len(doc.Diagnostics.Skipped) != 1 || doc.Diagnostics.Skipped[0].Row != 3 {
		t.Errorf("skipped = %+v, want row 3", doc.Diagnostics.Skipped)
	}
	if !strings.Contains(stderr, "4 rows: 3 accepted, 1 skipped") {
		t.Errorf("stderr summary missing: %s", stderr)
	}
}

func TestRun_Stdin(t *testing.T) {
	code, stdout, _ := runCLI(t, exportCSV, "-q", "-")
	if code != exitOK || !strings.Contains(stdout, `"label":"jump"`) {
		t.Errorf("exit = %d, stdout = %s", code, stdout)
	}
}

func TestRun_HTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(exportCSV))
	}))
	defer srv.Close()

	code, stdout, stderr := runCLI(t, "", "-q", srv.URL+"/export.csv")
	if code != exitOK || !strings.Contains(stdout, `"accepted":3`) {
		t.Errorf("exit = %d, stdout = %s, stderr = %s", code, stdout, stderr)
	}
}

func TestRun_HTMLAndEvents(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, "export.csv", exportCSV)
	page := filepath.Join(dir, "plot.html")
	events := filepath.Join(dir, "events.csv")

	code, stdout, stderr := runCLI(t, "", "-q", "-format", "html", "-o", page, "-events", events, src)
	if code != exitOK {
		t.Fatalf("exit = %d, stderr = %s", code, stderr)
	}
	if stdout != "" {
		t.Errorf("stdout should be empty with -o, got %q", stdout)
	}

	html, err := os.ReadFile(page)
	if err != nil || !strings.Contains(string(html), "Plotly.newPlot") {
		t.Errorf("html output = %v, %d bytes", err, len(html))
	}

	// The normalized export must itself be a valid input with the same events.
	code, stdout, stderr = runCLI(t, "", "-q", events)
	if code != exitOK {
		t.Fatalf("re-reading events: exit = %d, stderr = %s", code, stderr)
	}
	if !strings.Contains(stdout, `"rows":3`) || !strings.Contains(stdout, `"accepted":3`) || !strings.Contains(stdout, `"skipped":[]`) {
		t.Errorf("events file did not round-trip: %s", stdout)
	}
}

func TestRun_ExitCodes(t *testing.T) {
	good := writeFile(t, "export.csv", exportCSV)
	noColumns := writeFile(t, "bad.csv", "foo,bar\n1,2\n")
	empty := writeFile(t, "empty.csv", "")

	tests := []struct {
		name     string
		args     []string
		want     int
		wantText string
	}{
		{"missing source arg", []string{}, exitUsage, "usage"},
		{"unknown flag", []string{"-nope", good}, exitUsage, ""},
		{"bad format", []string{"-format", "svg", good}, exitUsage, "unknown format"},
		{"unknown schema", []string{"-schema", "mystery", good}, exitUsage, "CFG001"},
		{"unknown group", []string{"-group-by", "team", good}, exitUsage, "CFG002"},
		{"inverted window", []string{"-from", "2024-09-18T11:00:00Z", "-to", "2024-09-18T10:00:00Z", good}, exitUsage, "CFG003"},
		{"missing file", []string{filepath.Join(t.TempDir(), "nope.csv")}, exitFatal, "SRC001"},
		{"unsupported scheme", []string{"ftp://host/a.csv"}, exitFatal, "SRC003"},
		{"missing columns", []string{noColumns}, exitFatal, "HDR003"},
		{"empty file", []string{empty}, exitFatal, "HDR001"},
		{"help", []string{"-h"}, exitOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := runCLI(t, "", tt.args...)
			if code != tt.want {
				t.Errorf("exit = %d, want %d (stderr %s)", code, tt.want, stderr)
			}
			if tt.wantText != "" && !strings.Contains(stderr, tt.wantText) {
				t.Errorf("stderr missing %q: %s", tt.wantText, stderr)
			}
		})
	}
}

func TestRun_ListSchemas(t *testing.T) {
	code, stdout, _ := runCLI(t, "", "-list-schemas")
	if code != exitOK || !strings.Contains(stdout, "generic") || !strings.Contains(stdout, "dashboard") {
		t.Errorf("exit = %d, stdout = %s", code, stdout)
	}
}
