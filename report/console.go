package report

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	"github.com/weiihann/buildbench/bench"
	"github.com/weiihann/buildbench/metrics"
	"github.com/weiihann/buildbench/suite"
)

const (
	indentStr      = "    "
	separatorWidth = 14
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#20B9B4"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#E74C3C"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#2C4A54"))
)

// Console prints progress and per-step metrics, and at the end the min/max
// of every time metric over all measured steps of the run.
type Console struct {
	bench.NopListener

	w         io.Writer
	styled    bool
	separator string
	indent    int
	logger    *slog.Logger

	aggregate *metrics.Container[metrics.Aggregate]
}

// NewConsole returns a Console writing to w. Output is styled when w is a
// terminal.
func NewConsole(w io.Writer, logger *slog.Logger) *Console {
	c := &Console{
		w:         w,
		separator: strings.Repeat("=", separatorWidth),
		logger:    logger,
	}

	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		c.styled = true

		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			c.separator = strings.Repeat("=", min(width, 80))
		}
	}

	return c
}

// Aggregate returns the min/max aggregate collected so far, or nil when no
// measured step has finished.
func (c *Console) Aggregate() *metrics.Container[metrics.Aggregate] {
	return c.aggregate
}

func (c *Console) ScenarioStarted(sc *suite.Scenario, iteration int) {
	c.p(c.style(headingStyle, fmt.Sprintf("Scenario '%s' #%d", sc.Name, iteration)))
}

func (c *Console) ScenarioFinished(_ *suite.Scenario, _ int, _ *bench.ScenarioResult, err error) {
	if err != nil {
		c.withIndent(func() {
			c.p(c.style(errorStyle, "Scenario failed: "+err.Error()))
		})
	}

	c.p(c.style(mutedStyle, c.separator))
}

func (c *Console) StepStarted(_ *suite.Scenario, index int) {
	c.p(fmt.Sprintf("Step #%d", index+1))
}

func (c *Console) TaskExecutionStarted(tasks []string) {
	c.withIndent(func() {
		c.p("Executing tasks: " + quoteTasks(tasks))
	})
}

func (c *Console) CleanupStarted() {
	c.p("Cleaning up after last scenario")
}

func (c *Console) CleanupFinished() {
	c.p("Cleanup finished")
}

func (c *Console) StepFinished(sc *suite.Scenario, index int, result *bench.StepResult, err error) {
	c.withIndent(func() {
		if err != nil {
			c.p(c.style(errorStyle, "Step failed: "+firstLine(err.Error())))

			return
		}

		if !result.Step.IsMeasured() {
			c.p("Step is not measured!")

			return
		}

		c.printStep(sc, index, result.Build)
	})
}

func (c *Console) AllFinished() {
	c.p("")
	c.p("")
	c.p(c.style(headingStyle, "All runs:"))

	if c.aggregate == nil {
		return
	}

	c.aggregate.Walk(
		func(name string, a metrics.Aggregate) {
			c.p(fmt.Sprintf("%s: %d - %d ms, %.1f%% - %.1f%%",
				name, a.MinTime.Milliseconds(), a.MaxTime.Milliseconds(), a.MinPercent, a.MaxPercent,
			))
		},
		func(string) { c.indent++ },
		func(string) { c.indent-- },
	)
}

func (c *Console) printStep(sc *suite.Scenario, index int, b *bench.BuildResult) {
	whole, hasWhole := b.Time.Value(metrics.PhaseBuild.Name)

	b.Time.Walk(
		func(name string, t time.Duration) {
			if t <= 0 {
				return
			}

			if !hasWhole {
				c.p(fmt.Sprintf("%s: %d ms", name, t.Milliseconds()))

				return
			}

			c.p(fmt.Sprintf("%s: %d ms (%.1f%%)", name, t.Milliseconds(), metrics.Percent(t, whole)))
		},
		func(string) { c.indent++ },
		func(string) { c.indent-- },
	)

	b.Performance.Walk(
		func(name string, v int64) { c.p(fmt.Sprintf("%s: %d", name, v)) },
		func(string) { c.indent++ },
		func(string) { c.indent-- },
	)

	current, err := metrics.Percentages(b.Time)
	if err != nil {
		c.logger.Debug("step not aggregated",
			slog.String("scenario", sc.Name),
			slog.Int("step", index+1),
			slog.String("reason", err.Error()),
		)

		return
	}

	if c.aggregate == nil {
		c.aggregate = current

		return
	}

	merged, err := metrics.Merge(c.aggregate, current, metrics.PlusAggregate)
	if err != nil {
		c.logger.Warn("could not aggregate step metrics",
			slog.String("scenario", sc.Name),
			slog.Int("step", index+1),
			slog.String("error", err.Error()),
		)

		return
	}

	c.aggregate = merged
}

func (c *Console) style(s lipgloss.Style, text string) string {
	if !c.styled {
		return text
	}

	return s.Render(text)
}

func (c *Console) p(s string) {
	fmt.Fprintln(c.w, strings.Repeat(indentStr, c.indent)+s)
}

func (c *Console) withIndent(fn func()) {
	c.indent++
	defer func() { c.indent-- }()

	fn()
}

func quoteTasks(tasks []string) string {
	quoted := make([]string, len(tasks))
	for i, t := range tasks {
		quoted[i] = "'" + t + "'"
	}

	return strings.Join(quoted, ", ")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}

	return s
}
