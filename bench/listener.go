package bench

import "github.com/weiihann/buildbench/suite"

// Listener receives progress callbacks from an Evaluator. Callbacks are made
// synchronously from the goroutine running the suite. Step indexes are zero
// based; iterations start at 1.
type Listener interface {
	SuiteStarted(s *suite.Suite)
	ScenarioStarted(sc *suite.Scenario, iteration int)
	// ScenarioFinished gets a nil result and a *StepError when the iteration
	// was aborted.
	ScenarioFinished(sc *suite.Scenario, iteration int, result *ScenarioResult, err error)
	StepStarted(sc *suite.Scenario, index int)
	StepFinished(sc *suite.Scenario, index int, result *StepResult, err error)
	TaskExecutionStarted(tasks []string)
	CleanupStarted()
	CleanupFinished()
	AllFinished()
}

// NopListener implements Listener with no-op methods. Embed it to implement
// only the callbacks of interest.
type NopListener struct{}

func (NopListener) SuiteStarted(*suite.Suite)                                     {}
func (NopListener) ScenarioStarted(*suite.Scenario, int)                          {}
func (NopListener) ScenarioFinished(*suite.Scenario, int, *ScenarioResult, error) {}
func (NopListener) StepStarted(*suite.Scenario, int)                              {}
func (NopListener) StepFinished(*suite.Scenario, int, *StepResult, error)         {}
func (NopListener) TaskExecutionStarted([]string)                                 {}
func (NopListener) CleanupStarted()                                               {}
func (NopListener) CleanupFinished()                                              {}
func (NopListener) AllFinished()                                                  {}

// Composite forwards every callback to its listeners in registration order.
type Composite struct {
	listeners []Listener
}

// NewComposite returns a Composite over ls.
func NewComposite(ls ...Listener) *Composite {
	return &Composite{listeners: ls}
}

// Add registers l after the existing listeners.
func (c *Composite) Add(l Listener) {
	c.listeners = append(c.listeners, l)
}

// Len returns the number of registered listeners.
func (c *Composite) Len() int {
	return len(c.listeners)
}

func (c *Composite) SuiteStarted(s *suite.Suite) {
	for _, l := range c.listeners {
		l.SuiteStarted(s)
	}
}

func (c *Composite) ScenarioStarted(sc *suite.Scenario, iteration int) {
	for _, l := range c.listeners {
		l.ScenarioStarted(sc, iteration)
	}
}

func (c *Composite) ScenarioFinished(sc *suite.Scenario, iteration int, result *ScenarioResult, err error) {
	for _, l := range c.listeners {
		l.ScenarioFinished(sc, iteration, result, err)
	}
}

func (c *Composite) StepStarted(sc *suite.Scenario, index int) {
	for _, l := range c.listeners {
		l.StepStarted(sc, index)
	}
}

func (c *Composite) StepFinished(sc *suite.Scenario, index int, result *StepResult, err error) {
	for _, l := range c.listeners {
		l.StepFinished(sc, index, result, err)
	}
}

func (c *Composite) TaskExecutionStarted(tasks []string) {
	for _, l := range c.listeners {
		l.TaskExecutionStarted(tasks)
	}
}

func (c *Composite) CleanupStarted() {
	for _, l := range c.listeners {
		l.CleanupStarted()
	}
}

func (c *Composite) CleanupFinished() {
	for _, l := range c.listeners {
		l.CleanupFinished()
	}
}

func (c *Composite) AllFinished() {
	for _, l := range c.listeners {
		l.AllFinished()
	}
}
