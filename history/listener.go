package history

import (
	"log/slog"
	"time"

	"github.com/weiihann/buildbench/bench"
	"github.com/weiihann/buildbench/report"
	"github.com/weiihann/buildbench/suite"
)

// Listener records every successful scenario iteration of a run in a Store.
// Store failures are logged and do not affect the run.
type Listener struct {
	bench.NopListener

	store  *Store
	run    Run
	logger *slog.Logger
	ok     bool
}

// NewListener returns a Listener storing records under run.ID. StartedAt
// defaults to the time the suite starts.
func NewListener(store *Store, run Run, logger *slog.Logger) *Listener {
	return &Listener{
		store:  store,
		run:    run,
		logger: logger.With(slog.String("run", run.ID)),
	}
}

func (l *Listener) SuiteStarted(*suite.Suite) {
	if l.run.StartedAt.IsZero() {
		l.run.StartedAt = time.Now()
	}

	if err := l.store.StartRun(l.run); err != nil {
		l.logger.Warn("run not recorded in history", slog.String("error", err.Error()))

		return
	}

	l.ok = true
}

func (l *Listener) ScenarioFinished(
	sc *suite.Scenario,
	iteration int,
	result *bench.ScenarioResult,
	err error,
) {
	if !l.ok || err != nil || result == nil {
		return
	}

	if err := l.store.Append(report.NewRecord(l.run.ID, sc, result)); err != nil {
		l.logger.Warn("record not stored in history",
			slog.String("scenario", sc.Name),
			slog.Int("iteration", iteration),
			slog.String("error", err.Error()),
		)
	}
}
