package core

import (
	"context"
	"io"
	"strings"
	"testing"
)

// ============================================================================
// Conversion Function Benchmarks
// ============================================================================

// BenchmarkParseMetric benchmarks numeric cell conversion.
// Runs for every metric cell of every row.
func BenchmarkParseMetric(b *testing.B) {
	testCases := []string{
		"123",
		"-456.78",
		"$1,234.56",
		"(123.45)",      // Accounting negative
		"1,234,567.89",  // Thousands separators
		"  999.99  ",    // Whitespace
		"\u20ac1234.56", // Euro
		"",              // Absent
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, tc := range testCases {
			ParseMetric(tc)
		}
	}
}

// BenchmarkParseTimestamp benchmarks every accepted timestamp form.
func BenchmarkParseTimestamp(b *testing.B) {
	testCases := []string{
		"2024-09-18T10:00:05Z",
		"2024-09-18T10:00:05.123456+02:00",
		"2024-09-18 10:00:05",
		"1726653605",
		"1726653605.25",
		"0:12:34",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, tc := range testCases {
			ParseTimestamp(tc, testSession)
		}
	}
}

// BenchmarkParseTimestamp_RFC3339 benchmarks the most common form.
func BenchmarkParseTimestamp_RFC3339(b *testing.B) {
	for i := 0; i < b.N; i++ {
		ParseTimestamp("2024-09-18T10:00:05Z", testSession)
	}
}

// ============================================================================
// Cell Cleaning Benchmarks
// ============================================================================

// BenchmarkCleanCell benchmarks cell cleaning, applied to every cell.
func BenchmarkCleanCell(b *testing.B) {
	testCases := []string{
		"normal value",
		`="formula"`,     // Excel formula prefix
		`"quoted"`,       // Quoted
		"  whitespace  ", // Whitespace
		"\ufeffStart",    // BOM
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, tc := range testCases {
			CleanCell(tc)
		}
	}
}

// BenchmarkNormalizeActionName benchmarks dashboard action cleanup.
func BenchmarkNormalizeActionName(b *testing.B) {
	testCases := []string{
		"Defib (UNsynchronized Shock) 200J",
		"Check Airway UNAVAILABLE",
		"select amiodarone",
		"Start CPR",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, tc := range testCases {
			NormalizeActionName(tc)
		}
	}
}

// ============================================================================
// Pipeline Benchmarks
// ============================================================================

// BenchmarkDecode benchmarks decoding one well-formed row.
func BenchmarkDecode(b *testing.B) {
	s := GenericSchema().WithMetrics("score")
	dec, err := NewDecoder(s, []string{"timestamp", "actor", "action_type", "score"}, testSession)
	if err != nil {
		b.Fatal(err)
	}
	raw := RawRow{Row: 1, Line: 2, Fields: []string{"2024-09-18T10:00:05Z", "p1", "jump", "12.5"}}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dec.Decode(raw)
	}
}

func benchmarkProcess(b *testing.B, workers int) {
	input := buildLargeInput(20000)
	p, err := NewProcessor(Options{
		Schema:  GenericSchema(),
		Workers: workers,
		Logger:  quietLogger(),
	})
	if err != nil {
		b.Fatal(err)
	}

	b.SetBytes(int64(len(input)))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.Process(context.Background(), strings.NewReader(input)); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkProcess_Sequential benchmarks the single goroutine path.
func BenchmarkProcess_Sequential(b *testing.B) { benchmarkProcess(b, 1) }

// BenchmarkProcess_Parallel benchmarks batch-parallel decoding.
func BenchmarkProcess_Parallel(b *testing.B) { benchmarkProcess(b, 4) }

// BenchmarkWrapSource benchmarks BOM skipping, sanitizing and hashing.
func BenchmarkWrapSource(b *testing.B) {
	input := buildLargeInput(20000)

	b.SetBytes(int64(len(input)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		io.Copy(io.Discard, WrapSource(strings.NewReader(input)))
	}
}

// BenchmarkBuildSeries benchmarks sorting accumulated points.
func BenchmarkBuildSeries(b *testing.B) {
	acc := NewAccumulator(GroupByActorAction, "score")
	for i := 0; i < 50000; i++ {
		acc.Add(event(i+1, (i*7919)%3600, []string{"p1", "p2", "p3"}[i%3], []string{"jump", "attack"}[i%2], ptr(float64(i%100))))
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		BuildSeries(acc)
	}
}
