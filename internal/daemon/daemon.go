package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/harun/korli/internal/config"
	"github.com/harun/korli/internal/logger"
	"github.com/harun/korli/internal/observability"
	"github.com/harun/korli/internal/tracing"
	"github.com/harun/korli/pkg/audio"
	"github.com/harun/korli/pkg/capability"
	"github.com/harun/korli/pkg/commandqueue"
	"github.com/harun/korli/pkg/language"
	"github.com/harun/korli/pkg/limiter"
	"github.com/harun/korli/pkg/orchestrator"
	"github.com/harun/korli/pkg/retry"
	"github.com/harun/korli/pkg/server"
	"github.com/harun/korli/pkg/session"
)

// Daemon owns every process-scoped service of the korli server and their
// start and stop order.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Core modules
	store     session.Store
	limiter   *limiter.Limiter
	guard     *capability.Guard
	languages *language.Catalog
	engine    *orchestrator.Engine
	queue     *commandqueue.Queue

	// Services
	audio  *audio.Pipeline
	server *server.Server

	lifecycle *LifecycleManager
	listener  net.Listener
	serveErr  chan error

	startTime time.Time
	running   bool
	closed    bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Option overrides a dependency New would otherwise build from config.
type Option func(*options)

type options struct {
	provider    capability.Provider
	synthesizer audio.Synthesizer
	transcriber audio.Transcriber
	uploader    audio.Uploader
}

// WithProvider replaces the language model provider.
func WithProvider(p capability.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithAudio replaces the speech backends. A nil uploader keeps the one
// built from the supabase settings.
func WithAudio(s audio.Synthesizer, t audio.Transcriber, u audio.Uploader) Option {
	return func(o *options) {
		o.synthesizer = s
		o.transcriber = t
		o.uploader = u
	}
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*Daemon, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	observability.EnsureRegistered()

	d := &Daemon{
		config:   cfg,
		logger:   log,
		serveErr: make(chan error, 1),
	}

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry("korli", cfg.Tracing.SampleRatio); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			log.Info().Float64("sample_ratio", cfg.Tracing.SampleRatio).Msg("Tracing initialized successfully")
		}
	}

	// Initialize core modules in dependency order
	if err := d.initializeCoreModules(o); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	// Initialize services
	if err := d.initializeServices(o); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

func (d *Daemon) initializeCoreModules(o options) error {
	cfg := d.config

	store, err := session.Open(context.Background(), session.Options{
		Driver: cfg.Storage.Driver,
		Dir:    cfg.Storage.Dir,
		DSN:    cfg.Storage.DSN,
		Logger: d.logger.Component("session"),
	})
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	d.store = store

	d.limiter, err = limiter.New(limiter.Limits{
		Global: cfg.Limits.Global,
		PerClass: map[limiter.Class]int{
			limiter.Generation:      cfg.Limits.Generation,
			limiter.Summarization:   cfg.Limits.Summarization,
			limiter.Correction:      cfg.Limits.Correction,
			limiter.SpeechSynthesis: cfg.Limits.Speech,
			limiter.Transcription:   cfg.Limits.Transcription,
			limiter.Upload:          cfg.Limits.Upload,
		},
		PerSession: cfg.Limits.PerSession,
	})
	if err != nil {
		return fmt.Errorf("failed to create limiter: %w", err)
	}

	policy := retry.Default()
	policy.MaxAttempts = cfg.Retry.MaxAttempts
	policy.BaseDelay = cfg.Retry.BaseDelay
	policy.MaxDelay = cfg.Retry.MaxDelay
	d.guard = capability.NewGuard(d.limiter, retry.New(policy, d.logger.Component("retry")), cfg.AI.RequestTimeout, d.logger.Zerolog())

	provider := o.provider
	if provider == nil {
		provider, err = capability.NewProvider(capability.ProviderOptions{
			Name:    cfg.AI.Provider,
			APIKey:  cfg.AI.APIKey,
			BaseURL: cfg.AI.BaseURL,
		})
		if err != nil {
			return fmt.Errorf("failed to create provider: %w", err)
		}
	}
	client := capability.NewClient(provider, capability.Models{
		Response:   cfg.AI.ResponseModel,
		Summary:    cfg.AI.SummaryModel,
		Correction: cfg.AI.CorrectionModel,
	}, d.logger.Zerolog())

	d.languages = language.Default()
	d.engine, err = orchestrator.New(orchestrator.Config{
		Store:      d.store,
		Generator:  d.guard.Generator(client),
		Summarizer: d.guard.Summarizer(client),
		Corrector:  d.guard.Corrector(client),
		Languages:  d.languages,
		Threshold:  cfg.Chat.SummaryThreshold,
		Keep:       cfg.Chat.KeepMessages,
		Logger:     d.logger.Zerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	d.queue = commandqueue.New(commandqueue.Config{
		DedupTTL: cfg.Server.DedupTTL,
		Logger:   d.logger.Zerolog(),
	})

	d.logger.Info().
		Str("storage", cfg.Storage.Driver).
		Str("provider", provider.Name()).
		Str("response_model", cfg.AI.ResponseModel).
		Msg("Core modules initialized")
	return nil
}

func (d *Daemon) initializeServices(o options) error {
	cfg := d.config

	if cfg.Audio.Enabled {
		synth, transcriber, uploader := o.synthesizer, o.transcriber, o.uploader
		if synth == nil || transcriber == nil {
			if cfg.Audio.APIKey == "" {
				return fmt.Errorf("audio is enabled but no OpenAI key is configured")
			}
			backend := audio.NewOpenAIAudio(cfg.Audio.APIKey, cfg.Audio.BaseURL, cfg.Audio.TranscriptionModel)
			if synth == nil {
				synth = backend
			}
			if transcriber == nil {
				transcriber = backend
			}
		}
		if uploader == nil && cfg.Supabase.URL != "" {
			u, err := audio.NewSupabaseUploader(cfg.Supabase.URL, cfg.Supabase.Key, cfg.Supabase.Bucket)
			if err != nil {
				return fmt.Errorf("failed to create supabase uploader: %w", err)
			}
			uploader = u
		}
		d.audio = audio.NewPipeline(synth, transcriber, uploader, d.guard, d.logger.Zerolog())
		d.logger.Info().Bool("remote_storage", uploader != nil).Msg("Audio pipeline initialized")
	}

	srv, err := server.New(server.Options{
		Host:               cfg.Server.Host,
		Port:               cfg.Server.Port,
		ShutdownTimeout:    cfg.Server.ShutdownTimeout,
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
		MaxAudioBytes:      cfg.Server.MaxAudioBytes,
	}, server.Deps{
		Engine:    d.engine,
		Audio:     d.audio,
		Languages: d.languages,
		Queue:     d.queue,
		Limiter:   d.limiter,
	}, d.logger.Zerolog())
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	d.server = srv
	return nil
}

// Start writes the PID file, binds the listener and serves in the
// background.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("daemon is closed")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	logger := d.logger.Zerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Starting korli daemon")

	if err := d.lifecycle.Start(); err != nil {
		d.setStopped()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	addr := net.JoinHostPort(d.config.Server.Host, strconv.Itoa(d.config.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		d.setStopped()
		_ = d.lifecycle.Stop()
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	d.mu.Lock()
	d.listener = ln
	d.mu.Unlock()

	go func() {
		d.serveErr <- d.server.Serve(ln)
	}()

	logger.Info().Str("addr", ln.Addr().String()).Msg("Daemon started successfully")
	return nil
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Stop drains the HTTP server, then closes the queue, limiter and store.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	logger := d.logger.Zerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Stopping korli daemon")

	if err := d.server.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop HTTP server")
	}

	if !d.queue.WaitForActive(d.config.Server.ShutdownTimeout) {
		logger.Warn().
			Dur("timeout", d.config.Server.ShutdownTimeout).
			Msg("Queued turns still running at shutdown")
	}

	d.Close()

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	logger.Info().Msg("Daemon stopped successfully")
	return nil
}

// Close releases the core modules without touching the HTTP server. It is
// used directly by commands that drive the engine in-process.
func (d *Daemon) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	logger := d.logger.Zerolog()

	// Stop command queue
	if d.queue != nil {
		if err := d.queue.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close command queue")
		}
	}

	if d.limiter != nil {
		d.limiter.Close()
	}

	// Close session store
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close session store")
		}
	}

	if d.tracingEnabled {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}
}

// Status reports whether the daemon is serving.
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
	Addr      string
	PID       int
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
		if pid, err := d.lifecycle.GetPID(); err == nil {
			status.PID = pid
		}
		if d.listener != nil {
			status.Addr = d.listener.Addr().String()
		}
	}

	return status
}

// Wait blocks until SIGINT or SIGTERM arrives or the server fails, then
// stops the daemon.
func (d *Daemon) Wait() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var serveErr error
	select {
	case sig := <-sigChan:
		d.logger.Info().Str("signal", sig.String()).Msg("Received signal")
	case serveErr = <-d.serveErr:
		if serveErr != nil {
			d.logger.Error().Err(serveErr).Msg("HTTP server failed")
		}
	}

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
	return serveErr
}

// GetEngine returns the turn engine
func (d *Daemon) GetEngine() *orchestrator.Engine {
	return d.engine
}
