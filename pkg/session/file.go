package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/korli/internal/observability"
	"github.com/harun/korli/internal/tracing"
	"github.com/harun/korli/pkg/errkind"
)

const snapshotExt = ".json"

// FileStore keeps one JSON snapshot file per thread. Writes go to a temp
// file that is synced and renamed over the snapshot, so readers see either
// the old or the new snapshot and never a partial one.
type FileStore struct {
	dir    string
	locks  keyLocks
	logger zerolog.Logger
	now    clock
}

// NewFileStore creates the directory if needed. An empty dir defaults to
// ~/.korli/sessions.
func NewFileStore(dir string, logger zerolog.Logger) (*FileStore, error) {
	observability.EnsureRegistered()

	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, ".korli", "sessions")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	fs := &FileStore{
		dir:    dir,
		logger: logger.With().Str("component", "session.file").Logger(),
		now:    time.Now,
	}

	fs.logger.Info().Str("dir", dir).Msg("Session store initialized")
	fs.updateActiveSessionsMetric()

	return fs, nil
}

func (fs *FileStore) path(threadID string) string {
	return filepath.Join(fs.dir, threadID+snapshotExt)
}

func (fs *FileStore) updateActiveSessionsMetric() {
	threads, err := fs.ListThreads()
	if err != nil {
		return
	}
	observability.SetActiveSessions(len(threads))
}

// Load reads the snapshot for threadID.
func (fs *FileStore) Load(ctx context.Context, threadID string) (s Session, err error) {
	ctx, span := tracing.StartSpan(ctx, "korli.session", "session.load",
		attribute.String("thread_id", threadID),
		attribute.String("store", "file"),
	)
	defer func() { tracing.EndSpan(span, err) }()
	start := time.Now()
	defer func() { observability.RecordSessionLoad("file", time.Since(start)) }()

	if err := ValidateThreadID(threadID); err != nil {
		return Session{}, err
	}

	s, err = fs.read(threadID)
	if err != nil {
		return Session{}, errkind.PersistenceFailure("session load", err)
	}

	logger := tracing.LoggerFromContext(ctx, fs.logger)
	logger.Debug().
		Str("thread_id", threadID).
		Int("turns", len(s.Turns)).
		Int64("version", s.Version).
		Msg("Session loaded")
	return s, nil
}

func (fs *FileStore) read(threadID string) (Session, error) {
	data, err := os.ReadFile(fs.path(threadID))
	if errors.Is(err, os.ErrNotExist) {
		return New(threadID), nil
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to read session file: %w", err)
	}

	s := New(threadID)
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("failed to decode session file: %w", err)
	}
	if s.Corrections == nil {
		s.Corrections = map[string]CorrectionRecord{}
	}
	return s, nil
}

// Merge applies delta to the stored snapshot under the thread's write lock.
func (fs *FileStore) Merge(ctx context.Context, threadID string, delta Delta) (s Session, err error) {
	ctx, span := tracing.StartSpan(ctx, "korli.session", "session.merge",
		attribute.String("thread_id", threadID),
		attribute.String("store", "file"),
	)
	defer func() { tracing.EndSpan(span, err) }()
	start := time.Now()
	defer func() { observability.RecordSessionSave("file", time.Since(start)) }()

	if err := ValidateThreadID(threadID); err != nil {
		return Session{}, err
	}

	unlock := fs.locks.lock(threadID)
	defer unlock()

	existing, err := fs.read(threadID)
	if err != nil {
		return Session{}, errkind.PersistenceFailure("session merge", err)
	}
	created := existing.Version == 0

	next := Apply(existing, delta, fs.now())
	if err := fs.write(threadID, next); err != nil {
		return Session{}, errkind.PersistenceFailure("session merge", err)
	}

	if created {
		fs.updateActiveSessionsMetric()
	}
	logger := tracing.LoggerFromContext(ctx, fs.logger)
	logger.Debug().
		Str("thread_id", threadID).
		Int("turns", len(next.Turns)).
		Int64("version", next.Version).
		Msg("Session merged")

	return next, nil
}

func (fs *FileStore) write(threadID string, s Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	target := fs.path(threadID)
	tempPath := target + ".tmp"

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write session: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tempPath, target); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// ListThreads lists thread IDs with a stored snapshot.
func (fs *FileStore) ListThreads() ([]string, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var threads []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, snapshotExt) {
			continue
		}
		threads = append(threads, strings.TrimSuffix(name, snapshotExt))
	}
	return threads, nil
}

func (fs *FileStore) Close() error {
	fs.logger.Info().Msg("Session store closed")
	return nil
}
