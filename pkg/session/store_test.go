package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/korli/pkg/errkind"
)

type storeFactory struct {
	name string
	open func(t *testing.T) Store
}

func storeFactories() []storeFactory {
	return []storeFactory{
		{"memory", func(t *testing.T) Store { return NewMemoryStore() }},
		{"file", func(t *testing.T) Store {
			fs, err := NewFileStore(t.TempDir(), zerolog.Nop())
			require.NoError(t, err)
			return fs
		}},
		{"sqlite", func(t *testing.T) Store {
			dsn := filepath.Join(t.TempDir(), "korli.db")
			s, err := NewSQLStore(context.Background(), DialectSQLite, dsn, zerolog.Nop())
			require.NoError(t, err)
			return s
		}},
	}
}

func historyWith(n int) *History {
	h := New("x").History
	for i := 0; i < n; i++ {
		h.NewTurn(RoleUser, fmt.Sprintf("message %d", i), "", time.Unix(int64(i), 0).UTC())
	}
	h.Corrections[TurnID(1)] = CorrectionRecord{CorrectedMessage: "Message 0", Changed: true}
	return &h
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()

	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			t.Run("unseen thread loads empty default", func(t *testing.T) {
				store := f.open(t)
				defer store.Close()

				s, err := store.Load(ctx, "fresh")
				require.NoError(t, err)
				assert.Equal(t, "fresh", s.ThreadID)
				assert.Empty(t, s.Turns)
				assert.Empty(t, s.Summary)
				assert.NotNil(t, s.Corrections)
				assert.Equal(t, int64(0), s.Version)
				assert.True(t, s.Init.IsZero())
			})

			t.Run("merge persists and increments version", func(t *testing.T) {
				store := f.open(t)
				defer store.Close()

				merged, err := store.Merge(ctx, "t1", Delta{Init: fullInit(), History: historyWith(3)})
				require.NoError(t, err)
				assert.Equal(t, int64(1), merged.Version)

				loaded, err := store.Load(ctx, "t1")
				require.NoError(t, err)
				assert.Equal(t, merged.Init, loaded.Init)
				assert.Equal(t, merged.Turns, loaded.Turns)
				assert.Equal(t, merged.Corrections, loaded.Corrections)
				assert.Equal(t, int64(3), loaded.NextSeq)
				assert.Equal(t, int64(1), loaded.Version)
			})

			t.Run("omitted init fields are not erased", func(t *testing.T) {
				store := f.open(t)
				defer store.Close()

				_, err := store.Merge(ctx, "t2", Delta{Init: fullInit()})
				require.NoError(t, err)

				merged, err := store.Merge(ctx, "t2", Delta{Init: InitParams{Level: String("C2")}, History: historyWith(1)})
				require.NoError(t, err)
				assert.Equal(t, "C2", Value(merged.Init.Level))
				assert.Equal(t, "French", Value(merged.Init.ForeignLanguage))
				assert.Equal(t, "male", Value(merged.Init.StudentGender))
				assert.Equal(t, int64(2), merged.Version)
			})

			t.Run("history replaced wholesale", func(t *testing.T) {
				store := f.open(t)
				defer store.Close()

				_, err := store.Merge(ctx, "t3", Delta{History: historyWith(5)})
				require.NoError(t, err)

				replacement := History{Turns: []Turn{}, Summary: "folded", Corrections: map[string]CorrectionRecord{}, NextSeq: 5}
				_, err = store.Merge(ctx, "t3", Delta{History: &replacement})
				require.NoError(t, err)

				loaded, err := store.Load(ctx, "t3")
				require.NoError(t, err)
				assert.Empty(t, loaded.Turns)
				assert.Empty(t, loaded.Corrections)
				assert.Equal(t, "folded", loaded.Summary)
				assert.Equal(t, int64(5), loaded.NextSeq)
			})

			t.Run("invalid thread id is a user error", func(t *testing.T) {
				store := f.open(t)
				defer store.Close()

				_, err := store.Load(ctx, "../escape")
				assert.True(t, errors.Is(err, errkind.ErrInvalidRequest))

				_, err = store.Merge(ctx, "", Delta{})
				assert.True(t, errors.Is(err, errkind.ErrInvalidRequest))
			})

			t.Run("concurrent merges on one thread serialize", func(t *testing.T) {
				store := f.open(t)
				defer store.Close()

				var wg sync.WaitGroup
				for i := 0; i < 10; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						_, err := store.Merge(ctx, "busy", Delta{Init: InitParams{Level: String("B2")}})
						assert.NoError(t, err)
					}()
				}
				wg.Wait()

				loaded, err := store.Load(ctx, "busy")
				require.NoError(t, err)
				assert.Equal(t, int64(10), loaded.Version)
			})

			t.Run("loaded snapshot is a copy", func(t *testing.T) {
				store := f.open(t)
				defer store.Close()

				_, err := store.Merge(ctx, "t4", Delta{History: historyWith(2)})
				require.NoError(t, err)

				loaded, err := store.Load(ctx, "t4")
				require.NoError(t, err)
				loaded.Turns[0].Content = "tampered"
				loaded.Corrections["extra"] = CorrectionRecord{}

				again, err := store.Load(ctx, "t4")
				require.NoError(t, err)
				assert.Equal(t, "message 0", again.Turns[0].Content)
				assert.NotContains(t, again.Corrections, "extra")
			})
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	fs, err := NewFileStore(dir, zerolog.Nop())
	require.NoError(t, err)
	_, err = fs.Merge(ctx, "durable", Delta{Init: fullInit(), History: historyWith(4)})
	require.NoError(t, err)
	require.NoError(t, fs.Close())

	reopened, err := NewFileStore(dir, zerolog.Nop())
	require.NoError(t, err)
	s, err := reopened.Load(ctx, "durable")
	require.NoError(t, err)
	assert.Len(t, s.Turns, 4)
	assert.Equal(t, "B1", Value(s.Init.Level))

	threads, err := reopened.ListThreads()
	require.NoError(t, err)
	assert.Equal(t, []string{"durable"}, threads)

	_, err = os.Stat(filepath.Join(dir, "durable.json.tmp"))
	assert.True(t, os.IsNotExist(err), "temp file must not linger")
}

func TestFileStoreCorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0600))

	_, err = fs.Load(context.Background(), "broken")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errkind.ErrPersistence))
	assert.True(t, errkind.KindOf(err).Retryable())

	_, err = fs.Merge(context.Background(), "broken", Delta{})
	assert.True(t, errors.Is(err, errkind.ErrPersistence))
}

func TestSQLStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "korli.db")

	s1, err := NewSQLStore(ctx, DialectSQLite, dsn, zerolog.Nop())
	require.NoError(t, err)
	_, err = s1.Merge(ctx, "durable", Delta{Init: fullInit(), History: historyWith(2)})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := NewSQLStore(ctx, DialectSQLite, dsn, zerolog.Nop())
	require.NoError(t, err)
	defer s2.Close()

	sess, err := s2.Load(ctx, "durable")
	require.NoError(t, err)
	assert.Len(t, sess.Turns, 2)
	assert.Equal(t, int64(1), sess.Version)
}

func TestSQLStoreRejectsUnknownDialect(t *testing.T) {
	_, err := NewSQLStore(context.Background(), "oracle", "dsn", zerolog.Nop())
	assert.ErrorContains(t, err, "unsupported dialect")

	_, err = NewSQLStore(context.Background(), DialectPostgres, "", zerolog.Nop())
	assert.ErrorContains(t, err, "requires a dsn")
}

func TestQueryBuilders(t *testing.T) {
	tests := []struct {
		dialect  string
		selectQ  string
		contains string
	}{
		{DialectPostgres, "SELECT snapshot FROM korli_sessions WHERE thread_id = $1 FOR UPDATE", "ON CONFLICT (thread_id) DO UPDATE SET snapshot = $2"},
		{DialectMySQL, "SELECT snapshot FROM korli_sessions WHERE thread_id = ? FOR UPDATE", "ON DUPLICATE KEY UPDATE"},
		{DialectSQLite, "SELECT snapshot FROM korli_sessions WHERE thread_id = ?", "excluded.snapshot"},
	}

	for _, tt := range tests {
		t.Run(tt.dialect, func(t *testing.T) {
			s := &SQLStore{dialect: tt.dialect}
			assert.Equal(t, tt.selectQ, s.selectQuery(true))
			assert.Contains(t, s.upsertQuery(), tt.contains)
		})
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Options{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, Options{Driver: "file", Dir: t.TempDir(), Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = Open(ctx, Options{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "x.db"), Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.IsType(t, &SQLStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, Options{Driver: "cassandra"})
	assert.Error(t, err)
}
