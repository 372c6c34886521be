package suite

// Step is one unit of scenario work. The set of implementations is closed:
// SimpleStep, RevertLastStep and StopDaemon.
type Step interface {
	// StepTasks returns the tasks to build, or nil to use the suite
	// defaults.
	StepTasks() []string
	IsMeasured() bool
	IsExpectedToFail() bool

	isStep()
}

// SimpleStep applies file changes and then builds.
type SimpleStep struct {
	Tasks          []string
	Measured       bool
	ExpectedToFail bool
	Changes        []FileChange
}

func (s *SimpleStep) StepTasks() []string    { return s.Tasks }
func (s *SimpleStep) IsMeasured() bool       { return s.Measured }
func (s *SimpleStep) IsExpectedToFail() bool { return s.ExpectedToFail }
func (*SimpleStep) isStep()                  {}

// RevertLastStep undoes the most recent still applied SimpleStep and then
// builds.
type RevertLastStep struct {
	Tasks          []string
	Measured       bool
	ExpectedToFail bool
}

func (s *RevertLastStep) StepTasks() []string    { return s.Tasks }
func (s *RevertLastStep) IsMeasured() bool       { return s.Measured }
func (s *RevertLastStep) IsExpectedToFail() bool { return s.ExpectedToFail }
func (*RevertLastStep) isStep()                  {}

// StopDaemon restarts the build executor's persistent connection. It never
// builds and is never measured.
type StopDaemon struct{}

func (*StopDaemon) StepTasks() []string    { return nil }
func (*StopDaemon) IsMeasured() bool       { return false }
func (*StopDaemon) IsExpectedToFail() bool { return false }
func (*StopDaemon) isStep()                {}

// Kind returns a short lowercase name for the step variant.
func Kind(s Step) string {
	switch s.(type) {
	case *SimpleStep:
		return "step"
	case *RevertLastStep:
		return "revert_last_step"
	case *StopDaemon:
		return "stop_daemon"
	default:
		return "unknown"
	}
}
