package metrics

import (
	"errors"
	"time"
)

// ErrNoBuildTime is returned when a time container lacks the whole-build
// leaf needed to compute percentages.
var ErrNoBuildTime = errors.New("missing whole-build time")

// Aggregate folds repeated observations of one time metric into its
// extremes. Percentages are carried separately so they are never derived
// from already aggregated times.
type Aggregate struct {
	MinTime    time.Duration
	MaxTime    time.Duration
	MinPercent float64
	MaxPercent float64
}

// Observe creates an aggregate from a single observation.
func Observe(t time.Duration, percent float64) Aggregate {
	return Aggregate{
		MinTime:    t,
		MaxTime:    t,
		MinPercent: percent,
		MaxPercent: percent,
	}
}

// Plus widens a to cover b.
func (a Aggregate) Plus(b Aggregate) Aggregate {
	return Aggregate{
		MinTime:    min(a.MinTime, b.MinTime),
		MaxTime:    max(a.MaxTime, b.MaxTime),
		MinPercent: min(a.MinPercent, b.MinPercent),
		MaxPercent: max(a.MaxPercent, b.MaxPercent),
	}
}

// PlusAggregate is Plus in the shape expected by Merge.
func PlusAggregate(a, b Aggregate) Aggregate {
	return a.Plus(b)
}

// Percent returns t as a percentage of whole.
func Percent(t, whole time.Duration) float64 {
	wholeMs := whole.Milliseconds()
	if wholeMs <= 0 {
		return 0
	}

	return float64(t.Milliseconds()) / float64(wholeMs) * 100
}

// Percentages maps every time leaf of c to a single-observation aggregate
// carrying its share of the whole build.
func Percentages(c *Container[time.Duration]) (*Container[Aggregate], error) {
	whole, ok := c.Value(PhaseBuild.Name)
	if !ok {
		return nil, ErrNoBuildTime
	}

	return Map(c, func(t time.Duration) Aggregate {
		return Observe(t, Percent(t, whole))
	}), nil
}
