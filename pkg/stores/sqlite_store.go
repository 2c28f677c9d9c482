package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/upkeep/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// ErrRunNotFound is returned when a run ID has no history row.
var ErrRunNotFound = errors.New("run not found")

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	// Every connection to :memory: is a separate database.
	if cfg.Path == MemoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// dsn builds a modernc.org/sqlite connection string. Pragmas given as
// _pragma parameters are applied to every pooled connection.
func (s *SQLiteStore) dsn() string {
	pragmas := []string{
		"_pragma=foreign_keys(1)",
		fmt.Sprintf("_pragma=busy_timeout(%d)", s.cfg.BusyTimeout.Milliseconds()),
	}
	if s.path == MemoryPath {
		return "file::memory:?" + strings.Join(pragmas, "&")
	}
	pragmas = append(pragmas, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)", "_txlock=immediate")
	return "file:" + s.path + "?" + strings.Join(pragmas, "&")
}

// Init opens the database connection.
func (s *SQLiteStore) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Open creates, initializes and migrates a store in one call.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	store, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// CreateRun records the start of a run.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO runs (id, status, mode, dry_run, profile, started_at, log_path)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	if run.Status == "" {
		run.Status = engine.RunStatusRunning
	}

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Status,
		run.Mode,
		run.DryRun,
		run.Profile,
		run.StartedAt.UTC(),
		run.LogPath,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// FinishRun stores the terminal status of a run together with its step
// outcomes in one transaction.
func (s *SQLiteStore) FinishRun(ctx context.Context, summary *engine.RunSummary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		UPDATE runs
		SET status = ?, ended_at = ?, abort_class = ?, abort_message = ?,
		    freed_bytes = ?, reboot_required = ?, log_path = ?
		WHERE id = ?
	`
	result, err := tx.ExecContext(ctx, query,
		summary.Status,
		summary.EndedAt.UTC(),
		summary.AbortClass,
		summary.AbortMessage,
		summary.FreedBytes,
		summary.RebootRequired,
		summary.LogPath,
		summary.RunID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, summary.RunID)
	}

	if err := saveOutcomes(ctx, tx, summary.RunID, summary.Outcomes); err != nil {
		return err
	}

	return tx.Commit()
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, status, mode, dry_run, profile, started_at, ended_at,
		       abort_class, abort_message, freed_bytes, reboot_required, log_path
		FROM runs
		WHERE id = ?
	`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns lists runs newest first with pagination
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	query := `
		SELECT id, status, mode, dry_run, profile, started_at, ended_at,
		       abort_class, abort_message, freed_bytes, reboot_required, log_path
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// PruneRuns deletes all but the newest keep runs. Outcomes, events and
// disk snapshots of deleted runs cascade.
func (s *SQLiteStore) PruneRuns(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	query := `
		DELETE FROM runs
		WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC LIMIT ?
		)
	`

	result, err := s.db.ExecContext(ctx, query, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}

	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	err := row.Scan(
		&run.ID,
		&run.Status,
		&run.Mode,
		&run.DryRun,
		&run.Profile,
		&run.StartedAt,
		&run.EndedAt,
		&run.AbortClass,
		&run.AbortMessage,
		&run.FreedBytes,
		&run.RebootRequired,
		&run.LogPath,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// SaveOutcomes replaces the step outcomes of a run.
func (s *SQLiteStore) SaveOutcomes(ctx context.Context, runID string, outcomes []engine.StepOutcome) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := saveOutcomes(ctx, tx, runID, outcomes); err != nil {
		return err
	}
	return tx.Commit()
}

func saveOutcomes(ctx context.Context, tx *sql.Tx, runID string, outcomes []engine.StepOutcome) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM step_outcomes WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("failed to clear step outcomes: %w", err)
	}

	query := `
		INSERT INTO step_outcomes (
			run_id, position, step_id, status, started_at, ended_at, message, error_class, freed_bytes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for i, o := range outcomes {
		_, err := tx.ExecContext(ctx, query,
			runID,
			i,
			o.StepID,
			o.Status,
			o.StartedAt.UTC(),
			o.EndedAt.UTC(),
			o.Message,
			o.ErrorClass,
			o.FreedBytes,
		)
		if err != nil {
			return fmt.Errorf("failed to save outcome for %s: %w", o.StepID, err)
		}
	}
	return nil
}

// ListOutcomes returns the step outcomes of a run in catalog order.
func (s *SQLiteStore) ListOutcomes(ctx context.Context, runID string) ([]engine.StepOutcome, error) {
	query := `
		SELECT step_id, status, started_at, ended_at, message, error_class, freed_bytes
		FROM step_outcomes
		WHERE run_id = ?
		ORDER BY position
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := []engine.StepOutcome{}
	for rows.Next() {
		var o engine.StepOutcome
		if err := rows.Scan(
			&o.StepID,
			&o.Status,
			&o.StartedAt,
			&o.EndedAt,
			&o.Message,
			&o.ErrorClass,
			&o.FreedBytes,
		); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		outcomes = append(outcomes, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outcomes: %w", err)
	}

	return outcomes, nil
}

// AppendEvent appends a new event to the log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO events (run_id, step_id, type, level, message, data, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	if event.Data == "" {
		event.Data = "{}"
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	result, err := s.db.ExecContext(ctx, query,
		event.RunID,
		event.StepID,
		event.Type,
		event.Level,
		event.Message,
		event.Data,
		event.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

// GetEvents returns the events of a run in insertion order. A limit of
// zero or less returns all of them.
func (s *SQLiteStore) GetEvents(ctx context.Context, runID string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `
		SELECT id, run_id, step_id, type, level, message, data, timestamp
		FROM events
		WHERE run_id = ?
		ORDER BY id
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.RunID,
			&event.StepID,
			&event.Type,
			&event.Level,
			&event.Message,
			&event.Data,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// SaveDiskSnapshot stores the usage of one filesystem.
func (s *SQLiteStore) SaveDiskSnapshot(ctx context.Context, snap *DiskSnapshot) error {
	query := `
		INSERT INTO disk_snapshots (run_id, phase, mount, total, available, used, taken_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		snap.RunID,
		snap.Phase,
		snap.Mount,
		int64(snap.Total),
		int64(snap.Available),
		int64(snap.Used),
		snap.TakenAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save disk snapshot: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get snapshot ID: %w", err)
	}

	snap.ID = id
	return nil
}

// ListDiskSnapshots returns the disk snapshots of a run, preflight first.
func (s *SQLiteStore) ListDiskSnapshots(ctx context.Context, runID string) ([]*DiskSnapshot, error) {
	query := `
		SELECT id, run_id, phase, mount, total, available, used, taken_at
		FROM disk_snapshots
		WHERE run_id = ?
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list disk snapshots: %w", err)
	}
	defer rows.Close()

	snaps := []*DiskSnapshot{}
	for rows.Next() {
		var (
			snap                   DiskSnapshot
			total, available, used int64
		)
		if err := rows.Scan(
			&snap.ID,
			&snap.RunID,
			&snap.Phase,
			&snap.Mount,
			&total,
			&available,
			&used,
			&snap.TakenAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan disk snapshot: %w", err)
		}
		snap.Total, snap.Available, snap.Used = uint64(total), uint64(available), uint64(used)
		snaps = append(snaps, &snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating disk snapshots: %w", err)
	}

	return snaps, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
