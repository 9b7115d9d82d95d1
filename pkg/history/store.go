// Package history persists completed tool executions to SQLite and
// prunes them on a schedule.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/calder/toolgate/pkg/registry"
)

const schema = `
CREATE TABLE IF NOT EXISTS executions (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	execution_id TEXT NOT NULL,
	tool       TEXT NOT NULL,
	success    INTEGER NOT NULL,
	error      TEXT,
	error_kind TEXT,
	duration_ns INTEGER NOT NULL,
	executed_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_tool ON executions(tool);
CREATE INDEX IF NOT EXISTS idx_executions_at ON executions(executed_at);
`

// Config holds history store configuration.
type Config struct {
	// DBPath is the SQLite file; required.
	DBPath string
	// Retention is how long records are kept by the janitor. Zero
	// means 7 days.
	Retention time.Duration
	// PruneSchedule is the cron expression for the janitor. Empty
	// means hourly.
	PruneSchedule string
	Logger        zerolog.Logger
}

// Store is a SQLite-backed execution recorder. Record never blocks
// the execution pipeline: writes are queued to a single writer
// goroutine and dropped with a warning if the queue is full.
type Store struct {
	db        *sql.DB
	logger    zerolog.Logger
	retention time.Duration

	queue   chan registry.ExecutionRecord
	done    chan struct{}
	drained chan struct{}
	once    sync.Once

	cron *cron.Cron
}

// Open creates or opens the history database and starts the writer
// and the prune janitor.
func Open(cfg Config) (*Store, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("history database path is required")
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if cfg.PruneSchedule == "" {
		cfg.PruneSchedule = "@hourly"
	}

	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}

	s := &Store{
		db:        db,
		logger:    cfg.Logger,
		retention: cfg.Retention,
		queue:     make(chan registry.ExecutionRecord, 256),
		done:      make(chan struct{}),
		drained:   make(chan struct{}),
	}
	go s.writeLoop()

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(cfg.PruneSchedule, s.pruneJob); err != nil {
		s.Close()
		return nil, fmt.Errorf("invalid prune schedule %q: %w", cfg.PruneSchedule, err)
	}
	s.cron.Start()

	return s, nil
}

// Record implements registry.Recorder.
func (s *Store) Record(rec registry.ExecutionRecord) {
	select {
	case s.queue <- rec:
	case <-s.done:
	default:
		s.logger.Warn().Str("tool", rec.Tool).Msg("History queue full; dropping record")
	}
}

func (s *Store) writeLoop() {
	defer close(s.drained)
	for {
		select {
		case rec := <-s.queue:
			s.insert(rec)
		case <-s.done:
			// Drain what is already queued before exiting.
			for {
				select {
				case rec := <-s.queue:
					s.insert(rec)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) insert(rec registry.ExecutionRecord) {
	_, err := s.db.Exec(
		`INSERT INTO executions (execution_id, tool, success, error, error_kind, duration_ns, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Tool, rec.Success, rec.Error, rec.Kind, rec.Duration.Nanoseconds(), rec.At.UTC(),
	)
	if err != nil {
		s.logger.Error().Err(err).Str("tool", rec.Tool).Msg("Failed to persist execution record")
	}
}

func (s *Store) pruneJob() {
	n, err := s.PruneOlderThan(s.retention)
	if err != nil {
		s.logger.Error().Err(err).Msg("History prune failed")
		return
	}
	if n > 0 {
		s.logger.Info().Int64("pruned", n).Dur("retention", s.retention).Msg("History pruned")
	}
}

// PruneOlderThan deletes records older than the given age and returns
// the number removed.
func (s *Store) PruneOlderThan(age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age).UTC()
	res, err := s.db.Exec(`DELETE FROM executions WHERE executed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return res.RowsAffected()
}

// Recent returns the newest records, most recent first.
func (s *Store) Recent(limit int) ([]registry.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT execution_id, tool, success, error, error_kind, duration_ns, executed_at
		 FROM executions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ForTool returns the newest records for one tool, most recent first.
func (s *Store) ForTool(name string, limit int) ([]registry.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT execution_id, tool, success, error, error_kind, duration_ns, executed_at
		 FROM executions WHERE tool = ? ORDER BY id DESC LIMIT ?`, name, limit)
	if err != nil {
		return nil, fmt.Errorf("query history for %s: %w", name, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]registry.ExecutionRecord, error) {
	var records []registry.ExecutionRecord
	for rows.Next() {
		var rec registry.ExecutionRecord
		var errMsg, kind sql.NullString
		var durationNS int64
		if err := rows.Scan(&rec.ID, &rec.Tool, &rec.Success, &errMsg, &kind, &durationNS, &rec.At); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		rec.Error = errMsg.String
		rec.Kind = kind.String
		rec.Duration = time.Duration(durationNS)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close stops the janitor, flushes queued records, and closes the
// database.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		if s.cron != nil {
			s.cron.Stop()
		}
		close(s.done)
		<-s.drained
		err = s.db.Close()
	})
	return err
}
