package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type callReport struct {
	Calls     int64            `json:"calls"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

// report — итог прогона. DoubleSold > 0 означает, что один товар купили дважды.
type report struct {
	StartedAt       time.Time             `json:"started_at"`
	DurationSeconds float64               `json:"duration_seconds"`
	Products        int                   `json:"products"`
	Orders          int64                 `json:"orders"`
	Conflicts       int64                 `json:"conflicts"`
	Errors          int64                 `json:"errors"`
	DoubleSold      int                   `json:"double_sold"`
	Calls           map[string]callReport `json:"calls"`
}

type callStats struct {
	codes     map[string]int64
	latencies []float64
}

// collector копит ответы API и победителей по каждому товару.
type collector struct {
	mu      sync.Mutex
	calls   map[string]*callStats
	winners map[string][]string
}

func newCollector() *collector {
	return &collector{calls: map[string]*callStats{}, winners: map[string][]string{}}
}

func (c *collector) record(call string, latency time.Duration, code int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.calls[call]
	if s == nil {
		s = &callStats{codes: map[string]int64{}}
		c.calls[call] = s
	}
	s.codes[codeLabel(code)]++
	s.latencies = append(s.latencies, float64(latency)/float64(time.Millisecond))
}

func (c *collector) won(productID, buyerID string) {
	c.mu.Lock()
	c.winners[productID] = append(c.winners[productID], buyerID)
	c.mu.Unlock()
}

func (c *collector) buildReport(startedAt time.Time, elapsed time.Duration, products int) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: elapsed.Seconds(),
		Products:        products,
		Calls:           make(map[string]callReport, len(c.calls)),
	}
	for name, s := range c.calls {
		cr := callReport{Codes: maps.Clone(s.codes), LatencyMs: buildLatencySummary(s.latencies)}
		for code, n := range s.codes {
			cr.Calls += n
			if isFailure(code) {
				r.Errors += n
			}
		}
		r.Calls[name] = cr
	}
	if orders := c.calls["CreateOrder"]; orders != nil {
		r.Orders = orders.codes[codeLabel(http.StatusCreated)]
		r.Conflicts = orders.codes[codeLabel(http.StatusConflict)]
	}
	for _, buyers := range c.winners {
		if len(buyers) > 1 {
			r.DoubleSold++
		}
	}
	return r
}

// codeLabel — HTTP-код строкой; 0 означает сетевую ошибку.
func codeLabel(code int) string {
	if code == 0 {
		return "error"
	}
	return strconv.Itoa(code)
}

func isFailure(label string) bool {
	return label == "error" || strings.HasPrefix(label, "5")
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}
	sorted := slices.Sorted(slices.Values(values))
	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

// percentile интерполирует между соседними значениями отсортированной выборки.
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	pos := p / 100 * float64(len(sorted)-1)
	i := int(pos)
	if i+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	return sorted[i] + (sorted[i+1]-sorted[i])*(pos-float64(i))
}

// writeJSONReport пишет отчёт в файл внутри текущего каталога.
func writeJSONReport(path string, r report) error {
	clean := filepath.Clean(path)
	switch {
	case clean == "." || clean == string(filepath.Separator):
		return errors.New("output path must point to a file")
	case !filepath.IsLocal(clean):
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(clean, append(data, '\n'), 0o600)
}

func printReport(w io.Writer, r report, cfg config) {
	fmt.Fprintln(w, "Load test summary")
	fmt.Fprintf(w, "mode=%s products=%d orders=%d conflicts=%d errors=%d double_sold=%d\n",
		cfg.mode, r.Products, r.Orders, r.Conflicts, r.Errors, r.DoubleSold)
	fmt.Fprintf(w, "duration=%.2fs\n", r.DurationSeconds)
	for _, name := range slices.Sorted(maps.Keys(r.Calls)) {
		s := r.Calls[name]
		fmt.Fprintf(w, "%s: calls=%d p50=%.2fms p95=%.2fms p99=%.2fms\n",
			name, s.Calls, s.LatencyMs.P50, s.LatencyMs.P95, s.LatencyMs.P99)
	}
}
