// Package audio turns tutor replies into speech and student recordings into
// text, and stores generated clips.
package audio

import (
	"context"
	"errors"
)

// Storage selects where Pipeline.Generate puts synthesized audio.
type Storage string

const (
	// StorageNone returns only the clip size; the caller keeps the bytes.
	StorageNone Storage = "none"
	// StorageMemory returns the clip base64-encoded.
	StorageMemory Storage = "memory"
	// StorageRemote uploads the clip and returns its public URL.
	StorageRemote Storage = "remote"
)

const (
	DefaultVoice       = "alloy"
	DefaultSpeechModel = "gpt-4o-mini-tts"
	DefaultTranscriber = "whisper-1"
)

var (
	// ErrEmptyText is returned when there is nothing to synthesize
	ErrEmptyText = errors.New("text cannot be empty")

	// ErrEmptyAudio is returned when there is nothing to transcribe
	ErrEmptyAudio = errors.New("audio cannot be empty")

	// ErrNoUploader is returned for remote storage without a configured uploader
	ErrNoUploader = errors.New("remote audio storage is not configured")
)

// SpeechRequest describes one text-to-speech call.
type SpeechRequest struct {
	Text         string
	Voice        string
	Model        string
	Speed        float64
	Instructions string
}

// TranscriptionRequest describes one speech-to-text call.
type TranscriptionRequest struct {
	Audio        []byte
	LanguageCode string
	Prompt       string
}

// Synthesizer renders text as MP3 audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SpeechRequest) ([]byte, error)
}

// Transcriber turns recorded speech into text.
type Transcriber interface {
	Transcribe(ctx context.Context, req TranscriptionRequest) (string, error)
}

// Uploader stores a clip under name and returns a URL for it.
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte, upsert bool) (string, error)
}
