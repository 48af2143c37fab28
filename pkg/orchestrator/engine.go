// Package orchestrator runs one tutor turn as an explicit state machine.
//
// A run loads the thread snapshot, walks Init, Route and either
// GenerateOpening or FanOut, FanIn, MaybeCompact and Compact over a private
// working copy, and commits it with a single Store.Merge when it reaches
// Done. A failure in any state returns before the commit, so the stored
// snapshot is never partially updated.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/harun/korli/internal/observability"
	"github.com/harun/korli/internal/tracing"
	"github.com/harun/korli/pkg/capability"
	"github.com/harun/korli/pkg/errkind"
	"github.com/harun/korli/pkg/language"
	"github.com/harun/korli/pkg/session"
)

const (
	// DefaultThreshold is the active turn count above which a run compacts.
	DefaultThreshold = 30
	// DefaultKeep is the number of prior turns kept verbatim by compaction.
	DefaultKeep = 20
)

// Config wires an Engine. Zero Threshold and Keep use the defaults.
type Config struct {
	Store      session.Store
	Generator  capability.Generator
	Summarizer capability.Summarizer
	Corrector  capability.Corrector
	Languages  *language.Catalog
	Threshold  int
	Keep       int
	Logger     zerolog.Logger
	Clock      func() time.Time
}

// Engine executes turn requests. It holds no per-thread state and is safe
// for concurrent use; callers serialize requests per thread.
type Engine struct {
	store      session.Store
	generator  capability.Generator
	summarizer capability.Summarizer
	corrector  capability.Corrector
	languages  *language.Catalog
	threshold  int
	keep       int
	logger     zerolog.Logger
	now        func() time.Time
}

// New validates cfg and creates an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("orchestrator requires a session store")
	}
	if cfg.Generator == nil || cfg.Summarizer == nil || cfg.Corrector == nil {
		return nil, fmt.Errorf("orchestrator requires generator, summarizer and corrector")
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Keep == 0 {
		cfg.Keep = DefaultKeep
	}
	if cfg.Keep < 0 {
		return nil, fmt.Errorf("keep must be positive, got %d", cfg.Keep)
	}
	if cfg.Threshold < cfg.Keep {
		return nil, fmt.Errorf("summary threshold %d must not be below keep %d", cfg.Threshold, cfg.Keep)
	}
	if cfg.Languages == nil {
		cfg.Languages = language.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	observability.EnsureRegistered()

	return &Engine{
		store:      cfg.Store,
		generator:  cfg.Generator,
		summarizer: cfg.Summarizer,
		corrector:  cfg.Corrector,
		languages:  cfg.Languages,
		threshold:  cfg.Threshold,
		keep:       cfg.Keep,
		logger:     cfg.Logger.With().Str("component", "orchestrator").Logger(),
		now:        cfg.Clock,
	}, nil
}

// Run executes req to completion.
func (e *Engine) Run(ctx context.Context, req Request) (*Response, error) {
	return e.RunObserved(ctx, req, nil)
}

// RunObserved executes req and reports every state it enters to observe.
// A nil observe is allowed.
func (e *Engine) RunObserved(ctx context.Context, req Request, observe Observer) (resp *Response, err error) {
	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.NewString()
	}

	ctx = tracing.NewRunContext(ctx, threadID)
	ctx, span := tracing.StartSpan(ctx, "korli.orchestrator", "turn.run",
		attribute.String("thread_id", threadID),
		attribute.Bool("has_message", req.UserMessage != nil),
	)
	defer func() { tracing.EndSpan(span, err) }()

	logger := tracing.LoggerFromContext(ctx, e.logger)
	start := time.Now()

	r := &run{
		engine:   e,
		req:      req,
		threadID: threadID,
		logger:   logger,
	}

	state := StateInit
	for {
		r.path = append(r.path, state)
		if observe != nil {
			observe(state)
		}
		if state == StateDone {
			break
		}

		stepStart := time.Now()
		next, stepErr := r.step(ctx, state)
		if stepErr != nil {
			observability.RecordTurnRun(state.String(), "error", time.Since(stepStart))
			logger.Warn().
				Err(stepErr).
				Str("state", state.String()).
				Str("kind", errkind.KindOf(stepErr).String()).
				Dur("duration", time.Since(start)).
				Msg("Turn run failed")
			return nil, stepErr
		}
		observability.RecordTurnRun(state.String(), "ok", time.Since(stepStart))
		state = next
	}

	committed, err := e.store.Merge(ctx, threadID, session.Delta{
		Init:    req.Init,
		History: &r.history,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to commit turn")
		return nil, err
	}
	observability.RecordCorrectionEntries(len(committed.Corrections))

	logger.Info().
		Int("new_turns", len(r.newTurns)).
		Int("active_turns", len(committed.Turns)).
		Bool("compacted", r.compacted).
		Int64("version", committed.Version).
		Dur("duration", time.Since(start)).
		Msg("Turn completed")

	resp = &Response{
		ThreadID:  threadID,
		State:     StateDone,
		Session:   committed,
		Persona:   capability.PersonaFor(committed.Init),
		NewTurns:  r.newTurns,
		Compacted: r.compacted,
		Path:      r.path,
	}
	if r.userTurn != nil && r.correction != nil {
		record := *r.correction
		resp.Correction = &record
		resp.CorrectedTurnID = r.userTurn.ID
	}
	return resp, nil
}

// branchResult is what one FanOut branch produced. Exactly one field is set.
type branchResult struct {
	reply      *capability.GenerateResult
	correction *session.CorrectionRecord
}

// run is the working state of one request. Nothing in it is visible to the
// store until Done.
type run struct {
	engine   *Engine
	req      Request
	threadID string
	logger   zerolog.Logger

	persona capability.Persona
	history session.History

	userTurn   *session.Turn
	results    []branchResult
	correction *session.CorrectionRecord
	newTurns   []session.Turn
	compacted  bool
	path       []State
}

func (r *run) step(ctx context.Context, state State) (State, error) {
	switch state {
	case StateInit:
		return r.initialize(ctx)
	case StateRoute:
		return r.route(), nil
	case StateGenerateOpening:
		return r.generateOpening()
	case StateFanOut:
		return r.fanOut(ctx)
	case StateFanIn:
		return r.fanIn()
	case StateMaybeCompact:
		return r.maybeCompact(), nil
	case StateCompact:
		return r.compact(ctx)
	default:
		return StateDone, fmt.Errorf("no transition from state %s", state)
	}
}

// initialize loads the snapshot and resolves the thread's configuration.
// Stored parameters are only ever overlaid by present request values.
func (r *run) initialize(ctx context.Context) (State, error) {
	if r.req.UserMessage != nil && strings.TrimSpace(*r.req.UserMessage) == "" {
		return StateDone, errkind.Invalid("message", "message cannot be blank")
	}

	stored, err := r.engine.store.Load(ctx, r.threadID)
	if err != nil {
		return StateDone, err
	}

	merged := stored.Init.Merge(r.req.Init)
	if missing := merged.Missing(); len(missing) > 0 {
		return StateDone, errkind.Missing(missing...)
	}
	if err := r.validate(merged); err != nil {
		return StateDone, err
	}

	r.persona = capability.PersonaFor(merged)
	r.history = stored.History.Clone()

	if r.req.UserMessage != nil {
		turn := r.history.NewTurn(session.RoleUser, *r.req.UserMessage, "", r.engine.now())
		r.userTurn = &turn
		r.newTurns = append(r.newTurns, turn)
	}
	return StateRoute, nil
}

func (r *run) validate(init session.InitParams) error {
	if err := language.ValidateLevel(session.Value(init.Level)); err != nil {
		return err
	}
	if _, err := r.engine.languages.Lookup(session.Value(init.ForeignLanguage)); err != nil {
		return err
	}
	if _, err := r.engine.languages.Lookup(session.Value(init.NativeLanguage)); err != nil {
		return err
	}
	if init.TutorGender != nil && *init.TutorGender != "" {
		if err := language.ValidateGender("tutor_gender", *init.TutorGender); err != nil {
			return err
		}
	}
	if init.StudentGender != nil && *init.StudentGender != "" {
		if err := language.ValidateGender("student_gender", *init.StudentGender); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) route() State {
	if len(r.history.Turns) == 0 {
		return StateGenerateOpening
	}
	return StateFanOut
}

// generateOpening greets the student in both languages. Students above A2
// also get the language's topic prompt.
func (r *run) generateOpening() (State, error) {
	foreign, err := r.engine.languages.Lookup(r.persona.ForeignLanguage)
	if err != nil {
		return StateDone, err
	}
	native, err := r.engine.languages.Lookup(r.persona.NativeLanguage)
	if err != nil {
		return StateDone, err
	}

	text, translation := foreign.Greeting, native.Greeting
	if !language.IsBeginner(r.persona.Level) {
		text = appendSentence(text, foreign.Topic)
		translation = appendSentence(translation, native.Topic)
	}

	turn := r.history.NewTurn(session.RoleAssistant, text, translation, r.engine.now())
	r.newTurns = append(r.newTurns, turn)
	return StateDone, nil
}

func appendSentence(text, next string) string {
	if next == "" {
		return text
	}
	return text + " " + next
}

// fanOut runs Respond and Correct concurrently over the same window. Each
// branch writes only its own result; a failure cancels the other branch.
// Correct only runs when this request added a user turn.
func (r *run) fanOut(ctx context.Context) (State, error) {
	window := append([]session.Turn(nil), r.history.Turns...)

	// Branches report in completion order; fanIn does not depend on it.
	results := make(chan branchResult, 2)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := r.engine.generator.Generate(gctx, capability.GenerateRequest{
			ThreadID: r.threadID,
			Persona:  r.persona,
			Summary:  r.history.Summary,
			Turns:    window,
		})
		if err != nil {
			return err
		}
		if strings.TrimSpace(res.Text) == "" {
			return errkind.Malformed("generate", fmt.Errorf("empty reply"))
		}
		results <- branchResult{reply: &res}
		return nil
	})

	if r.userTurn != nil {
		turn := *r.userTurn
		g.Go(func() error {
			res, err := r.engine.corrector.Correct(gctx, capability.CorrectRequest{
				ThreadID: r.threadID,
				Persona:  r.persona,
				Turn:     turn,
			})
			if err != nil {
				return err
			}
			record := res.Record()
			results <- branchResult{correction: &record}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return StateDone, err
	}
	close(results)

	r.results = r.results[:0]
	for res := range results {
		r.results = append(r.results, res)
	}
	return StateFanIn, nil
}

// fanIn merges the branch results in a fixed order whatever order they
// arrived in: the assistant turn first, then the correction.
func (r *run) fanIn() (State, error) {
	var (
		reply      *capability.GenerateResult
		correction *session.CorrectionRecord
	)
	for _, res := range r.results {
		if res.reply != nil {
			reply = res.reply
		}
		if res.correction != nil {
			correction = res.correction
		}
	}
	if reply == nil {
		return StateDone, fmt.Errorf("fan-in without a reply")
	}

	turn := r.history.NewTurn(session.RoleAssistant, reply.Text, reply.Translation, r.engine.now())
	r.newTurns = append(r.newTurns, turn)

	if r.userTurn != nil && correction != nil {
		applyCorrection(&r.history, r.userTurn.ID, *correction)
		r.correction = correction
	}
	return StateMaybeCompact, nil
}

func (r *run) maybeCompact() State {
	if NeedsCompaction(len(r.history.Turns), r.engine.threshold) {
		return StateCompact
	}
	return StateDone
}

// compact folds every turn but the most recent keep into the summary, so
// the active window holds exactly keep turns afterwards. Correction records
// are left in place even when their turn is folded.
func (r *run) compact(ctx context.Context) (State, error) {
	older, kept := Split(r.history.Turns, r.engine.keep)
	if len(older) == 0 {
		r.logger.Debug().Int("active_turns", len(r.history.Turns)).Msg("Nothing to compact")
		return StateDone, nil
	}

	res, err := r.engine.summarizer.Summarize(ctx, capability.SummarizeRequest{
		ThreadID:   r.threadID,
		Persona:    r.persona,
		Existing:   r.history.Summary,
		Turns:      older,
		LengthHint: len(older),
	})
	if err != nil {
		return StateDone, err
	}
	if strings.TrimSpace(res.Summary) == "" {
		return StateDone, errkind.Malformed("summarize", fmt.Errorf("empty summary"))
	}

	r.history.Summary = res.Summary
	r.history.Turns = kept
	r.compacted = true
	observability.RecordCompaction(len(older))

	r.logger.Info().
		Int("folded", len(older)).
		Int("active_turns", len(r.history.Turns)).
		Int("corrections", len(r.history.Corrections)).
		Msg("Conversation compacted")
	return StateDone, nil
}
