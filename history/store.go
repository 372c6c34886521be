// Package history keeps benchmark records of past runs in an embedded
// badger database so runs can be listed and compared later.
package history

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/weiihann/buildbench/report"
)

// ErrUnknownRun is returned for a run ID that has no stored run.
var ErrUnknownRun = errors.New("unknown run")

const (
	runPrefix    = "run/"
	recordPrefix = "rec/"
)

// Options configures the store.
type Options struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path     string
	InMemory bool
	Logger   *slog.Logger
}

// Run describes one stored benchmark run.
type Run struct {
	ID        string    `msgpack:"id"`
	Suite     string    `msgpack:"suite"`
	StartedAt time.Time `msgpack:"started_at"`
	Records   int       `msgpack:"records"`
}

// Store is a history database. It is safe for concurrent use.
type Store struct {
	db *badger.DB

	// mu serializes writers.
	mu sync.Mutex
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// Open opens or creates the history database.
func Open(opts Options) (*Store, error) {
	var bo badger.Options

	if opts.InMemory {
		bo = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Path == "" {
			return nil, errors.New("history path is required")
		}

		if err := os.MkdirAll(opts.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create history directory %s: %w", opts.Path, err)
		}

		bo = badger.DefaultOptions(opts.Path)
	}

	bo = bo.WithNumVersionsToKeep(1)

	if opts.Logger != nil {
		bo = bo.WithLogger(&badgerLogger{logger: opts.Logger.With(slog.String("component", "badger"))})
	} else {
		bo = bo.WithLogger(nil)
	}

	db, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// StartRun stores a new run with no records.
func (s *Store) StartRun(run Run) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		return putRun(txn, run)
	})
}

// Append stores rec under its run. The run must have been started.
func (s *Store) Append(rec report.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		run, err := getRun(txn, rec.RunID)
		if err != nil {
			return err
		}

		if err := txn.Set(recordKey(rec.RunID, run.Records), data); err != nil {
			return fmt.Errorf("store record: %w", err)
		}

		run.Records++

		return putRun(txn, run)
	})
}

// Runs returns every stored run, oldest first.
func (s *Store) Runs() ([]Run, error) {
	var runs []Run

	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(runPrefix)

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var run Run

			err := it.Item().Value(func(v []byte) error {
				return msgpack.Unmarshal(v, &run)
			})
			if err != nil {
				return fmt.Errorf("decode run %s: %w", it.Item().Key(), err)
			}

			runs = append(runs, run)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(runs, func(a, b Run) int {
		return a.StartedAt.Compare(b.StartedAt)
	})

	return runs, nil
}

// Records returns the records of a run in the order they were appended.
func (s *Store) Records(runID string) ([]report.Record, error) {
	var out []report.Record

	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := getRun(txn, runID); err != nil {
			return err
		}

		prefix := []byte(recordPrefix + runID + "/")

		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec report.Record

			err := it.Item().Value(func(v []byte) error {
				return msgpack.Unmarshal(v, &rec)
			})
			if err != nil {
				return fmt.Errorf("decode record %s: %w", it.Item().Key(), err)
			}

			out = append(out, rec)
		}

		return nil
	})

	return out, err
}

func recordKey(runID string, seq int) []byte {
	return fmt.Appendf(nil, "%s%s/%08d", recordPrefix, runID, seq)
}

func runKey(runID string) []byte {
	return []byte(runPrefix + runID)
}

func getRun(txn *badger.Txn, runID string) (Run, error) {
	var run Run

	item, err := txn.Get(runKey(runID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return run, fmt.Errorf("%w: %q", ErrUnknownRun, runID)
	}

	if err != nil {
		return run, fmt.Errorf("load run %q: %w", runID, err)
	}

	err = item.Value(func(v []byte) error {
		return msgpack.Unmarshal(v, &run)
	})
	if err != nil {
		return run, fmt.Errorf("decode run %q: %w", runID, err)
	}

	return run, nil
}

func putRun(txn *badger.Txn, run Run) error {
	if strings.Contains(run.ID, "/") {
		return fmt.Errorf("run id %q must not contain '/'", run.ID)
	}

	data, err := msgpack.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}

	return txn.Set(runKey(run.ID), data)
}
