// Package server exposes the tutor over HTTP.
//
// Requests for one thread are serialized through a command queue lane, so
// the orchestrator never sees overlapping runs for a thread from this
// process.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/harun/korli/internal/observability"
	"github.com/harun/korli/internal/tracing"
	"github.com/harun/korli/pkg/audio"
	"github.com/harun/korli/pkg/commandqueue"
	"github.com/harun/korli/pkg/language"
	"github.com/harun/korli/pkg/limiter"
	"github.com/harun/korli/pkg/orchestrator"
)

// Runner executes turn requests.
type Runner interface {
	RunObserved(ctx context.Context, req orchestrator.Request, observe orchestrator.Observer) (*orchestrator.Response, error)
}

// Options configures the HTTP server.
type Options struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	// RateLimitPerMinute caps requests per client address; zero disables it.
	RateLimitPerMinute int
	// MaxAudioBytes bounds transcription uploads.
	MaxAudioBytes int64
	// PruneInterval is how often idle per-session limiter gates are dropped.
	PruneInterval time.Duration
}

// Deps are the process-scoped services the server routes to. Audio may be
// nil, in which case the audio routes are not mounted.
type Deps struct {
	Engine    Runner
	Audio     *audio.Pipeline
	Languages *language.Catalog
	Queue     *commandqueue.Queue
	Limiter   *limiter.Limiter
}

// Server is the HTTP front end.
type Server struct {
	options     Options
	deps        Deps
	server      *http.Server
	router      http.Handler
	rateLimiter *RateLimiter
	scheduler   *cron.Cron
	logger      zerolog.Logger
	startTime   time.Time

	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// New creates a server.
func New(options Options, deps Deps, logger zerolog.Logger) (*Server, error) {
	if options.Port == 0 {
		options.Port = 8000
	}
	if options.Host == "" {
		options.Host = "0.0.0.0"
	}
	if options.ShutdownTimeout == 0 {
		options.ShutdownTimeout = 30 * time.Second
	}
	if options.MaxAudioBytes == 0 {
		options.MaxAudioBytes = 25 << 20
	}
	if options.PruneInterval == 0 {
		options.PruneInterval = 10 * time.Minute
	}

	if deps.Engine == nil {
		return nil, fmt.Errorf("orchestrator engine is required")
	}
	if deps.Queue == nil {
		return nil, fmt.Errorf("command queue is required")
	}
	if deps.Languages == nil {
		deps.Languages = language.Default()
	}
	observability.EnsureRegistered()

	s := &Server{
		options:   options,
		deps:      deps,
		scheduler: cron.New(),
		logger:    logger.With().Str("component", "server").Logger(),
		startTime: time.Now(),
	}
	if options.RateLimitPerMinute > 0 {
		s.rateLimiter = NewRateLimiter(options.RateLimitPerMinute)
	}
	if err := s.schedule(); err != nil {
		return nil, err
	}
	s.router = s.routes()
	return s, nil
}

// schedule registers housekeeping jobs. They run only between Start and
// Stop.
func (s *Server) schedule() error {
	every := fmt.Sprintf("@every %s", s.options.PruneInterval)
	_, err := s.scheduler.AddFunc(every, s.prune)
	if err != nil {
		return fmt.Errorf("failed to schedule housekeeping: %w", err)
	}
	return nil
}

func (s *Server) prune() {
	gates := 0
	if s.deps.Limiter != nil {
		gates = s.deps.Limiter.Prune(s.options.PruneInterval)
	}
	clients := 0
	if s.rateLimiter != nil {
		clients = s.rateLimiter.Cleanup()
	}
	s.logger.Debug().Int("session_gates", gates).Int("rate_limit_clients", clients).Msg("Pruned idle state")
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestMiddleware)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", observability.MetricsHandler().ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimitMiddleware)
		r.Get("/languages", s.handleLanguages)
		r.Post("/chat/invoke", s.handleChatInvoke)
		r.Post("/chat/stream", s.handleChatStream)
		if s.deps.Audio != nil {
			r.Post("/audio/speech", s.handleSpeech)
			r.Post("/audio/transcribe", s.handleTranscribe)
		}
	})
	return r
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.options.Host, s.options.Port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Stop is called.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.shutdownMu.Lock()
	if s.isShuttingDown {
		s.shutdownMu.Unlock()
		ln.Close()
		return nil
	}
	s.server = srv
	s.scheduler.Start()
	s.shutdownMu.Unlock()

	s.logger.Info().
		Str("addr", ln.Addr().String()).
		Msg("Starting HTTP server")

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop rejects new requests, waits for in-flight ones up to the shutdown
// timeout and then shuts the listener down.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	srv := s.server
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down HTTP server")
	<-s.scheduler.Stop().Done()

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-time.After(s.options.ShutdownTimeout):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info().Msg("HTTP server stopped")
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// requestMiddleware tracks in-flight requests, tags the context with a
// trace ID and records the outcome.
func (s *Server) requestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.shutdownMu.RLock()
		if s.isShuttingDown {
			s.shutdownMu.RUnlock()
			w.Header().Set("Retry-After", "5")
			http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
			return
		}
		s.inFlightReqs.Add(1)
		s.shutdownMu.RUnlock()
		defer s.inFlightReqs.Done()

		start := time.Now()
		ctx := tracing.NewRequestContext(r.Context())
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		duration := time.Since(start)
		observability.RecordHTTPRequest(route, rec.status, duration)

		logger := tracing.LoggerFromContext(ctx, s.logger)
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", duration).
			Msg("Request completed")
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := r.RemoteAddr
		if host, _, err := net.SplitHostPort(client); err == nil {
			client = host
		}
		if ok, retryAfter := s.rateLimiter.Allow(client); !ok {
			seconds := int((retryAfter + time.Second - 1) / time.Second)
			s.logger.Warn().
				Str("client", client).
				Str("path", r.URL.Path).
				Int("retry_after", seconds).
				Msg("Rate limit exceeded")
			w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: ErrorBody{
				Kind:      "rate_limited",
				Message:   "too many requests",
				Retryable: true,
			}})
			return
		}
		next.ServeHTTP(w, r)
	})
}
