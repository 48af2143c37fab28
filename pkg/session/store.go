package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/korli/pkg/errkind"
)

// Store persists one snapshot per thread.
//
// Load returns New(threadID) for unseen threads. Merge performs an atomic
// read, Apply, write for one thread; writes to different threads do not
// contend. Failures are reported as errkind.Persistence, invalid thread IDs
// as errkind.InvalidRequest.
type Store interface {
	Load(ctx context.Context, threadID string) (Session, error)
	Merge(ctx context.Context, threadID string, delta Delta) (Session, error)
	Close() error
}

// ValidateThreadID rejects IDs that are empty, too long or unsafe to use
// as a file name.
func ValidateThreadID(threadID string) error {
	switch {
	case threadID == "":
		return errkind.Invalid("thread_id", "thread id cannot be empty")
	case len(threadID) > 128:
		return errkind.Invalid("thread_id", "thread id longer than 128 bytes")
	case strings.Contains(threadID, ".."):
		return errkind.Invalid("thread_id", "thread id cannot contain '..'")
	case strings.ContainsAny(threadID, "/\\"):
		return errkind.Invalid("thread_id", "thread id cannot contain path separators")
	case strings.Contains(threadID, "\x00"):
		return errkind.Invalid("thread_id", "thread id cannot contain null bytes")
	}
	return nil
}

// Options selects and configures a Store.
type Options struct {
	// Driver is one of memory, file, sqlite, postgres, mysql.
	Driver string
	// Dir holds snapshot files for the file driver.
	Dir string
	// DSN is the database connection string for SQL drivers.
	DSN    string
	Logger zerolog.Logger
}

// Open builds the Store named by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(opts.Dir, opts.Logger)
	case DialectSQLite, DialectPostgres, DialectMySQL:
		return NewSQLStore(ctx, opts.Driver, opts.DSN, opts.Logger)
	default:
		return nil, fmt.Errorf("unsupported session store driver %q", opts.Driver)
	}
}

type clock func() time.Time
