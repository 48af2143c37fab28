package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/korli/internal/observability"
	"github.com/harun/korli/internal/tracing"
	"github.com/harun/korli/pkg/errkind"
)

// Supported SQL dialects.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

// SQLStore keeps one row per thread holding the JSON snapshot.
type SQLStore struct {
	db      *sql.DB
	dialect string
	ownsDB  bool
	locks   keyLocks
	logger  zerolog.Logger
	now     clock
}

func driverName(dialect string) (string, error) {
	switch dialect {
	case DialectSQLite:
		return "sqlite3", nil
	case DialectPostgres:
		return "postgres", nil
	case DialectMySQL:
		return "mysql", nil
	default:
		return "", fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}
}

// NewSQLStore opens dsn and prepares the schema.
func NewSQLStore(ctx context.Context, dialect, dsn string, logger zerolog.Logger) (*SQLStore, error) {
	driver, err := driverName(dialect)
	if err != nil {
		return nil, err
	}
	if dsn == "" {
		return nil, fmt.Errorf("%s session store requires a dsn", dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer at a time.
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
	}

	store, err := NewSQLStoreFromDB(ctx, db, dialect, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	store.ownsDB = true
	return store, nil
}

// NewSQLStoreFromDB wraps an existing handle. The caller keeps ownership of db.
func NewSQLStoreFromDB(ctx context.Context, db *sql.DB, dialect string, logger zerolog.Logger) (*SQLStore, error) {
	if _, err := driverName(dialect); err != nil {
		return nil, err
	}
	observability.EnsureRegistered()

	s := &SQLStore{
		db:      db,
		dialect: dialect,
		logger:  logger.With().Str("component", "session.sql").Str("dialect", dialect).Logger(),
		now:     time.Now,
	}

	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info().Msg("Session store initialized")
	return s, nil
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	var stmt string
	switch s.dialect {
	case DialectPostgres:
		stmt = `CREATE TABLE IF NOT EXISTS korli_sessions (
			thread_id VARCHAR(128) PRIMARY KEY,
			snapshot TEXT NOT NULL,
			version BIGINT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`
	case DialectMySQL:
		stmt = `CREATE TABLE IF NOT EXISTS korli_sessions (
			thread_id VARCHAR(128) PRIMARY KEY,
			snapshot LONGTEXT NOT NULL,
			version BIGINT NOT NULL,
			updated_at DATETIME(6) NOT NULL
		)`
	default:
		stmt = `CREATE TABLE IF NOT EXISTS korli_sessions (
			thread_id TEXT PRIMARY KEY,
			snapshot TEXT NOT NULL,
			version INTEGER NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`
	}

	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return err
	}
	return nil
}

func (s *SQLStore) selectQuery(forUpdate bool) string {
	q := "SELECT snapshot FROM korli_sessions WHERE thread_id = ?"
	if s.dialect == DialectPostgres {
		q = "SELECT snapshot FROM korli_sessions WHERE thread_id = $1"
	}
	if forUpdate && s.dialect != DialectSQLite {
		q += " FOR UPDATE"
	}
	return q
}

func (s *SQLStore) upsertQuery() string {
	switch s.dialect {
	case DialectPostgres:
		return `INSERT INTO korli_sessions (thread_id, snapshot, version, updated_at) VALUES ($1, $2, $3, $4)
                ON CONFLICT (thread_id) DO UPDATE SET snapshot = $2, version = $3, updated_at = $4`
	case DialectMySQL:
		return `INSERT INTO korli_sessions (thread_id, snapshot, version, updated_at) VALUES (?, ?, ?, ?)
                ON DUPLICATE KEY UPDATE snapshot = VALUES(snapshot), version = VALUES(version), updated_at = VALUES(updated_at)`
	default:
		return `INSERT INTO korli_sessions (thread_id, snapshot, version, updated_at) VALUES (?, ?, ?, ?)
                ON CONFLICT (thread_id) DO UPDATE SET snapshot = excluded.snapshot, version = excluded.version, updated_at = excluded.updated_at`
	}
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) read(ctx context.Context, q queryer, threadID string, forUpdate bool) (Session, error) {
	var raw string
	err := q.QueryRowContext(ctx, s.selectQuery(forUpdate), threadID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return New(threadID), nil
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to query session: %w", err)
	}

	sess := New(threadID)
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return Session{}, fmt.Errorf("failed to decode session: %w", err)
	}
	if sess.Corrections == nil {
		sess.Corrections = map[string]CorrectionRecord{}
	}
	return sess, nil
}

func (s *SQLStore) Load(ctx context.Context, threadID string) (sess Session, err error) {
	ctx, span := tracing.StartSpan(ctx, "korli.session", "session.load",
		attribute.String("thread_id", threadID),
		attribute.String("store", s.dialect),
	)
	defer func() { tracing.EndSpan(span, err) }()
	start := time.Now()
	defer func() { observability.RecordSessionLoad(s.dialect, time.Since(start)) }()

	if err := ValidateThreadID(threadID); err != nil {
		return Session{}, err
	}

	sess, err = s.read(ctx, s.db, threadID, false)
	if err != nil {
		return Session{}, errkind.PersistenceFailure("session load", err)
	}
	return sess, nil
}

// Merge runs read, Apply and upsert in one transaction. Postgres and MySQL
// lock the row for the duration; SQLite is serialized by its single
// connection.
func (s *SQLStore) Merge(ctx context.Context, threadID string, delta Delta) (sess Session, err error) {
	ctx, span := tracing.StartSpan(ctx, "korli.session", "session.merge",
		attribute.String("thread_id", threadID),
		attribute.String("store", s.dialect),
	)
	defer func() { tracing.EndSpan(span, err) }()
	start := time.Now()
	defer func() { observability.RecordSessionSave(s.dialect, time.Since(start)) }()

	if err := ValidateThreadID(threadID); err != nil {
		return Session{}, err
	}

	unlock := s.locks.lock(threadID)
	defer unlock()

	next, err := s.mergeTx(ctx, threadID, delta)
	if err != nil {
		return Session{}, errkind.PersistenceFailure("session merge", err)
	}

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Debug().
		Str("thread_id", threadID).
		Int64("version", next.Version).
		Msg("Session merged")
	return next, nil
}

func (s *SQLStore) mergeTx(ctx context.Context, threadID string, delta Delta) (Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Session{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := s.read(ctx, tx, threadID, true)
	if err != nil {
		return Session{}, err
	}

	next := Apply(existing, delta, s.now().UTC())
	data, err := json.Marshal(next)
	if err != nil {
		return Session{}, fmt.Errorf("failed to marshal session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.upsertQuery(), threadID, string(data), next.Version, next.UpdatedAt); err != nil {
		return Session{}, fmt.Errorf("failed to upsert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Session{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return next, nil
}

// Close closes the database if the store opened it.
func (s *SQLStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
