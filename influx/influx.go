// Package influx writes benchmark results to InfluxDB, one point per
// measured metric.
package influx

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/weiihann/buildbench/bench"
	"github.com/weiihann/buildbench/report"
	"github.com/weiihann/buildbench/suite"
)

// Measurement is the name of every point written.
const Measurement = "build_benchmark"

// Config locates the bucket results are written to.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// PointWriter writes points synchronously. The blocking write API of the
// InfluxDB client implements it.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Dial creates a client for cfg and returns its blocking write API. The
// returned func closes the client.
func Dial(cfg Config) (PointWriter, func()) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	return client.WriteAPIBlocking(cfg.Org, cfg.Bucket), client.Close
}

// Listener writes the metrics of every successful scenario iteration.
// Write failures are logged and do not affect the run.
type Listener struct {
	bench.NopListener

	ctx    context.Context
	w      PointWriter
	runID  string
	logger *slog.Logger
	now    func() time.Time
}

// NewListener returns a Listener writing to w. ctx bounds every write.
func NewListener(ctx context.Context, w PointWriter, runID string, logger *slog.Logger) *Listener {
	return &Listener{
		ctx:    ctx,
		w:      w,
		runID:  runID,
		logger: logger.With(slog.String("sink", "influx")),
		now:    time.Now,
	}
}

func (l *Listener) ScenarioFinished(
	sc *suite.Scenario,
	iteration int,
	result *bench.ScenarioResult,
	err error,
) {
	if err != nil || result == nil {
		return
	}

	points := Points(report.NewRecord(l.runID, sc, result), l.now())
	if len(points) == 0 {
		return
	}

	if err := l.w.WritePoint(l.ctx, points...); err != nil {
		l.logger.WarnContext(l.ctx, "points not written",
			slog.String("scenario", sc.Name),
			slog.Int("iteration", iteration),
			slog.Int("points", len(points)),
			slog.String("error", err.Error()),
		)
	}
}

// Points converts rec into points stamped with ts.
func Points(rec report.Record, ts time.Time) []*write.Point {
	var points []*write.Point

	for _, step := range rec.Steps {
		for _, m := range step.Results {
			p := influxdb2.NewPointWithMeasurement(Measurement).
				AddTag("scenario", rec.Scenario).
				AddTag("iteration", strconv.Itoa(rec.Iteration)).
				AddTag("step", strconv.Itoa(step.Step)).
				AddTag("metric", m.Name).
				AddField("value", m.Value).
				SetTime(ts)

			if rec.RunID != "" {
				p.AddTag("run_id", rec.RunID)
			}

			points = append(points, p.SortTags())
		}
	}

	return points
}
