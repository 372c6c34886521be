// Package teamcity reports benchmark progress and results to a TeamCity
// build, either as service messages on stdout or as a JSON results file.
package teamcity

import (
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Status is the status attribute of a service message.
type Status string

// Message statuses understood by TeamCity.
const (
	StatusNormal  Status = "NORMAL"
	StatusWarning Status = "WARNING"
	StatusFailure Status = "FAILURE"
	StatusError   Status = "ERROR"
)

var escaper = strings.NewReplacer(
	"|", "||",
	"\n", "|n",
	"\r", "|r",
	"'", "|'",
	"[", "|[",
	"]", "|]",
)

var specialChars = regexp.MustCompile(`[^\w.]`)

// Escape escapes a service message attribute value.
func Escape(s string) string {
	return escaper.Replace(s)
}

// KeyFor replaces every character that is not a word character or a dot
// with an underscore, producing a valid parameter or statistic key.
func KeyFor(s string) string {
	return specialChars.ReplaceAllString(s, "_")
}

// Messenger writes service messages, one per line.
type Messenger struct {
	w io.Writer
}

// NewMessenger returns a Messenger writing to w.
func NewMessenger(w io.Writer) *Messenger {
	return &Messenger{w: w}
}

func (m *Messenger) emit(name string, attrs ...string) {
	var b strings.Builder

	b.WriteString("##teamcity[")
	b.WriteString(name)

	for i := 0; i+1 < len(attrs); i += 2 {
		fmt.Fprintf(&b, " %s='%s'", attrs[i], Escape(attrs[i+1]))
	}

	b.WriteString("]\n")

	_, _ = io.WriteString(m.w, b.String())
}

// SetParameter sets the build parameter key to value.
func (m *Messenger) SetParameter(key, value string) {
	m.emit("setParameter", "name", key, "value", value)
}

// Statistic reports a build statistic value shown on the build's charts.
func (m *Messenger) Statistic(key, value string) {
	m.emit("buildStatisticValue", "key", key, "value", value)
}

// Message writes text to the build log with the given status.
func (m *Messenger) Message(text string, status Status) {
	m.emit("message", "text", text, "status", string(status))
}

// TestStarted opens the test name.
func (m *Messenger) TestStarted(name string) {
	m.emit("testStarted", "name", name)
}

// TestFailed marks the open test name as failed with message.
func (m *Messenger) TestFailed(name, message string) {
	m.emit("testFailed", "name", name, "message", message)
}

// TestFinished closes the test name.
func (m *Messenger) TestFinished(name string) {
	m.emit("testFinished", "name", name)
}
