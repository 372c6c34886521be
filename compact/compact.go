// Package compact stores benchmark records as a msgpack stream, one record
// per successful scenario iteration.
package compact

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/weiihann/buildbench/bench"
	"github.com/weiihann/buildbench/report"
	"github.com/weiihann/buildbench/suite"
)

// Writer is a listener appending records to a compact result file.
type Writer struct {
	bench.NopListener

	path   string
	runID  string
	logger *slog.Logger

	f   *os.File
	buf *bufio.Writer
	enc *msgpack.Encoder
	n   int
	err error
}

// NewWriter returns a Writer for path. The file is created when the suite
// starts.
func NewWriter(path, runID string, logger *slog.Logger) *Writer {
	return &Writer{
		path:   path,
		runID:  runID,
		logger: logger.With(slog.String("file", path)),
	}
}

func (w *Writer) SuiteStarted(*suite.Suite) {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		w.fail(fmt.Errorf("create results directory: %w", err))

		return
	}

	f, err := os.Create(w.path)
	if err != nil {
		w.fail(fmt.Errorf("create compact results: %w", err))

		return
	}

	w.f = f
	w.buf = bufio.NewWriter(f)
	w.enc = msgpack.NewEncoder(w.buf)
	w.enc.UseCompactInts(true)
}

func (w *Writer) ScenarioFinished(
	sc *suite.Scenario,
	_ int,
	result *bench.ScenarioResult,
	err error,
) {
	if err != nil || result == nil || w.enc == nil {
		return
	}

	if err := w.enc.Encode(report.NewRecord(w.runID, sc, result)); err != nil {
		w.fail(fmt.Errorf("encode record: %w", err))

		return
	}

	w.n++
}

func (w *Writer) AllFinished() {
	_ = w.Close()
}

// Written returns the number of records encoded so far.
func (w *Writer) Written() int {
	return w.n
}

// Close flushes and closes the file. It is safe to call more than once.
func (w *Writer) Close() error {
	if w.f == nil {
		return w.err
	}

	if w.enc != nil {
		if err := w.buf.Flush(); err != nil {
			w.fail(fmt.Errorf("flush compact results: %w", err))
		}
	}

	if err := w.f.Close(); err != nil {
		w.fail(fmt.Errorf("close compact results: %w", err))
	}

	w.f, w.buf, w.enc = nil, nil, nil

	return w.err
}

func (w *Writer) fail(err error) {
	w.logger.Warn("compact results not written", slog.String("error", err.Error()))

	if w.err == nil {
		w.err = err
	}

	w.enc = nil
}

// ReadAll decodes every record in r. A stream that ends inside a record is
// an error.
func ReadAll(r io.Reader) ([]report.Record, error) {
	br := bufio.NewReader(r)
	dec := msgpack.NewDecoder(br)

	var out []report.Record

	for {
		if _, err := br.Peek(1); errors.Is(err, io.EOF) {
			return out, nil
		}

		var rec report.Record
		if err := dec.Decode(&rec); err != nil {
			return out, fmt.Errorf("decode record %d: %w", len(out)+1, err)
		}

		out = append(out, rec)
	}
}

// ReadFile decodes every record of the compact result file at path.
func ReadFile(path string) ([]report.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open compact results: %w", err)
	}
	defer f.Close()

	return ReadAll(f)
}
