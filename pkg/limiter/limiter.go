// Package limiter bounds in-flight external calls with a stack of counting
// gates: one global gate, one gate per capability class and an optional
// gate per session.
//
// Every call acquires global, then class, then session, and releases in the
// reverse order. Because every caller uses the same order no cycle of
// waiters can form. Waiting callers are admitted in FIFO order.
//
// A Limiter is built once at process start and shared by every component
// that talks to an external service. Close it at process stop to refuse new
// admissions.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/harun/korli/internal/observability"
	"github.com/harun/korli/pkg/errkind"
)

// Class names a family of external calls sharing one capacity budget.
type Class string

const (
	Generation      Class = "generation"
	Summarization   Class = "summarization"
	Correction      Class = "correction"
	SpeechSynthesis Class = "speech_synthesis"
	Transcription   Class = "transcription"
	Upload          Class = "upload"
)

// Classes lists every capability class in a stable order.
var Classes = []Class{Generation, Summarization, Correction, SpeechSynthesis, Transcription, Upload}

// ErrClosed is returned by Acquire after Close, classified as
// capability unavailable.
var ErrClosed = errors.New("limiter closed")

// Limits configures gate capacities. PerSession <= 0 disables session gates.
type Limits struct {
	Global     int
	PerClass   map[Class]int
	PerSession int
}

// DefaultLimits mirrors the production deployment: 100 concurrent calls in
// total, 20 per model capability, 10 concurrent uploads and 2 audio jobs per
// end user.
func DefaultLimits() Limits {
	return Limits{
		Global: 100,
		PerClass: map[Class]int{
			Generation:      20,
			Summarization:   20,
			Correction:      20,
			SpeechSynthesis: 20,
			Transcription:   20,
			Upload:          10,
		},
		PerSession: 2,
	}
}

type gate struct {
	name  string
	size  int64
	sem   *semaphore.Weighted
	inUse atomic.Int64
}

func newGate(name string, size int) *gate {
	return &gate{
		name: name,
		size: int64(size),
		sem:  semaphore.NewWeighted(int64(size)),
	}
}

func (g *gate) acquire(ctx context.Context, metricName string) error {
	start := time.Now()
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for %s gate: %w", g.name, err)
	}
	observability.RecordGateWait(metricName, time.Since(start))
	observability.SetGateInUse(metricName, int(g.inUse.Add(1)))
	return nil
}

func (g *gate) release(metricName string) {
	observability.SetGateInUse(metricName, int(g.inUse.Add(-1)))
	g.sem.Release(1)
}

type sessionGate struct {
	*gate
	refs     int
	lastUsed time.Time
}

// Limiter is the process-wide admission controller.
type Limiter struct {
	global     *gate
	classes    map[Class]*gate
	perSession int

	mu       sync.Mutex
	sessions map[string]*sessionGate
	closed   bool
	now      func() time.Time
}

// New validates limits and builds the gates. Classes missing from
// PerClass get the global capacity.
func New(limits Limits) (*Limiter, error) {
	if limits.Global <= 0 {
		return nil, fmt.Errorf("global limit must be positive, got %d", limits.Global)
	}

	l := &Limiter{
		global:     newGate("global", limits.Global),
		classes:    make(map[Class]*gate, len(Classes)),
		perSession: limits.PerSession,
		sessions:   make(map[string]*sessionGate),
		now:        time.Now,
	}

	for _, class := range Classes {
		size, ok := limits.PerClass[class]
		if !ok {
			size = limits.Global
		}
		if size <= 0 {
			return nil, fmt.Errorf("%s limit must be positive, got %d", class, size)
		}
		l.classes[class] = newGate(string(class), size)
	}

	return l, nil
}

// Acquire blocks until the call may proceed or ctx ends. sessionKey selects
// the per-session gate and may be empty. The returned release function must
// be called exactly once; later calls are no-ops.
func (l *Limiter) Acquire(ctx context.Context, class Class, sessionKey string) (func(), error) {
	classGate, ok := l.classes[class]
	if !ok {
		return nil, fmt.Errorf("unknown capability class %q", class)
	}

	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return nil, errkind.Unavailable(string(class), ErrClosed)
	}

	if err := l.global.acquire(ctx, "global"); err != nil {
		return nil, err
	}

	if err := classGate.acquire(ctx, string(class)); err != nil {
		l.global.release("global")
		return nil, err
	}

	var sg *sessionGate
	if sessionKey != "" && l.perSession > 0 {
		sg = l.retainSession(sessionKey)
		if err := sg.acquire(ctx, "session"); err != nil {
			l.dropSession(sg)
			classGate.release(string(class))
			l.global.release("global")
			return nil, err
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if sg != nil {
				sg.release("session")
				l.dropSession(sg)
			}
			classGate.release(string(class))
			l.global.release("global")
		})
	}, nil
}

// Do runs fn while holding the gates for class and sessionKey.
func (l *Limiter) Do(ctx context.Context, class Class, sessionKey string, fn func(ctx context.Context) error) error {
	release, err := l.Acquire(ctx, class, sessionKey)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

func (l *Limiter) retainSession(key string) *sessionGate {
	l.mu.Lock()
	defer l.mu.Unlock()

	sg, ok := l.sessions[key]
	if !ok {
		sg = &sessionGate{gate: newGate("session "+key, l.perSession)}
		l.sessions[key] = sg
	}
	sg.refs++
	sg.lastUsed = l.now()
	return sg
}

func (l *Limiter) dropSession(sg *sessionGate) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sg.refs--
	sg.lastUsed = l.now()
}

// Prune forgets session gates that nobody holds or waits on and that have
// been idle for at least idle. It returns the number removed.
func (l *Limiter) Prune(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	removed := 0
	for key, sg := range l.sessions {
		if sg.refs == 0 && !sg.lastUsed.After(cutoff) {
			delete(l.sessions, key)
			removed++
		}
	}
	return removed
}

// Close refuses further admissions. Calls already admitted keep their gates
// until they release them.
func (l *Limiter) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

// Stats is a point-in-time view of gate usage.
type Stats struct {
	Global   int
	Classes  map[Class]int
	Sessions int
}

// Stats reports admitted calls per gate and the number of live session gates.
func (l *Limiter) Stats() Stats {
	s := Stats{
		Global:  int(l.global.inUse.Load()),
		Classes: make(map[Class]int, len(l.classes)),
	}
	for class, g := range l.classes {
		s.Classes[class] = int(g.inUse.Load())
	}
	l.mu.Lock()
	s.Sessions = len(l.sessions)
	l.mu.Unlock()
	return s
}
