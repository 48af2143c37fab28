package audio

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/harun/korli/internal/tracing"
	"github.com/harun/korli/pkg/capability"
	"github.com/harun/korli/pkg/errkind"
	"github.com/harun/korli/pkg/limiter"
	"github.com/harun/korli/pkg/session"
)

// GenerateRequest asks the pipeline for one synthesized clip.
type GenerateRequest struct {
	SpeechRequest
	Storage  Storage
	ThreadID string
	Upsert   bool
}

// Result describes a synthesized clip. URL is set for remote storage and
// Base64 for memory storage. Audio always holds the raw clip.
type Result struct {
	URL    string `json:"url,omitempty"`
	Base64 string `json:"b64,omitempty"`
	Size   int    `json:"bytes_len"`
	Audio  []byte `json:"-"`
}

// Pipeline runs audio calls under the shared guard. The thread ID is the
// per-session gate key, so one student cannot take every audio slot.
type Pipeline struct {
	synth       Synthesizer
	transcriber Transcriber
	uploader    Uploader
	guard       *capability.Guard
	logger      zerolog.Logger
	now         func() time.Time
}

// NewPipeline wires a pipeline. uploader may be nil when remote storage is
// not configured.
func NewPipeline(synth Synthesizer, transcriber Transcriber, uploader Uploader, guard *capability.Guard, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		synth:       synth,
		transcriber: transcriber,
		uploader:    uploader,
		guard:       guard,
		logger:      logger.With().Str("component", "audio").Logger(),
		now:         time.Now,
	}
}

// Generate synthesizes req.Text and stores it as req.Storage asks.
func (p *Pipeline) Generate(ctx context.Context, req GenerateRequest) (*Result, error) {
	if req.Text == "" {
		return nil, errkind.New(errkind.InvalidRequest, "speech", ErrEmptyText)
	}
	storage := req.Storage
	if storage == "" {
		storage = StorageNone
	}
	switch storage {
	case StorageNone, StorageMemory:
	case StorageRemote:
		if p.uploader == nil {
			return nil, errkind.New(errkind.InvalidRequest, "speech", ErrNoUploader)
		}
	default:
		return nil, errkind.Invalid("storage", "unknown audio storage %q", storage)
	}

	if req.ThreadID != "" {
		if err := session.ValidateThreadID(req.ThreadID); err != nil {
			return nil, err
		}
	}

	var clip []byte
	err := p.guard.Call(ctx, limiter.SpeechSynthesis, req.ThreadID, func(ctx context.Context) error {
		var callErr error
		clip, callErr = p.synth.Synthesize(ctx, req.SpeechRequest)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	result := &Result{Size: len(clip), Audio: clip}
	switch storage {
	case StorageMemory:
		result.Base64 = base64.StdEncoding.EncodeToString(clip)
	case StorageRemote:
		name, err := p.objectName(req.ThreadID)
		if err != nil {
			return nil, err
		}
		err = p.guard.Call(ctx, limiter.Upload, req.ThreadID, func(ctx context.Context) error {
			var callErr error
			result.URL, callErr = p.uploader.Upload(ctx, name, clip, req.Upsert)
			return callErr
		})
		if err != nil {
			return nil, err
		}
	}

	logger := tracing.LoggerFromContext(ctx, p.logger)
	logger.Debug().
		Str("storage", string(storage)).
		Int("bytes", result.Size).
		Msg("Speech generated")
	return result, nil
}

// Transcribe returns the text spoken in req.Audio. threadID keys the
// per-session gate and may be empty.
func (p *Pipeline) Transcribe(ctx context.Context, threadID string, req TranscriptionRequest) (string, error) {
	if len(req.Audio) == 0 {
		return "", errkind.New(errkind.InvalidRequest, "transcribe", ErrEmptyAudio)
	}

	var text string
	err := p.guard.Call(ctx, limiter.Transcription, threadID, func(ctx context.Context) error {
		var callErr error
		text, callErr = p.transcriber.Transcribe(ctx, req)
		return callErr
	})
	return text, err
}

// objectName builds "<thread>/tts_<UTC timestamp>_<id>.mp3". The thread
// folder is omitted when there is no thread.
func (p *Pipeline) objectName(threadID string) (string, error) {
	id, err := gonanoid.Generate("0123456789abcdefghijklmnopqrstuvwxyz", 8)
	if err != nil {
		return "", fmt.Errorf("failed to generate object id: %w", err)
	}
	name := fmt.Sprintf("tts_%s_%s.mp3", p.now().UTC().Format("20060102_150405"), id)
	if threadID != "" {
		name = threadID + "/" + name
	}
	return name, nil
}
