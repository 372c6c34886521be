// Package report turns benchmark results into records, console output and
// summary tables.
package report

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/weiihann/buildbench/metrics"
)

// ErrNoResults is returned when there is nothing to summarize.
var ErrNoResults = errors.New("no results to report")

// Summary writes a markdown table of the aggregated time metrics. Nested
// metrics are listed with their dotted names.
func Summary(w io.Writer, agg *metrics.Container[metrics.Aggregate]) error {
	if agg == nil || agg.Len() == 0 {
		return ErrNoResults
	}

	fmt.Fprintln(w, "## Benchmark Results")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "| Metric | Min | Max | Spread | Min % | Max % |")
	fmt.Fprintln(w, "|--------|-----|-----|--------|-------|-------|")

	for _, f := range metrics.Flatten(agg) {
		a := f.Value

		spread := "-"
		if minMs := a.MinTime.Milliseconds(); minMs > 0 {
			spread = fmt.Sprintf("%.2fx", float64(a.MaxTime.Milliseconds())/float64(minMs))
		}

		fmt.Fprintf(w, "| %s | %s | %s | %s | %.1f%% | %.1f%% |\n",
			escapeCell(f.Name),
			formatMs(a.MinTime.Milliseconds()),
			formatMs(a.MaxTime.Milliseconds()),
			spread,
			a.MinPercent,
			a.MaxPercent,
		)
	}

	return nil
}

func formatMs(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}

	return fmt.Sprintf("%.2fs", float64(ms)/1000)
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
