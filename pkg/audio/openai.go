package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/harun/korli/pkg/errkind"
)

// OpenAIAudio implements Synthesizer and Transcriber with the OpenAI audio
// endpoints.
type OpenAIAudio struct {
	client           openai.Client
	transcriberModel string
}

// NewOpenAIAudio creates the adapter. SDK retries are disabled; callers
// run it behind capability.Guard.
func NewOpenAIAudio(apiKey, baseURL, transcriberModel string) *OpenAIAudio {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if transcriberModel == "" {
		transcriberModel = DefaultTranscriber
	}
	return &OpenAIAudio{
		client:           openai.NewClient(opts...),
		transcriberModel: transcriberModel,
	}
}

// Synthesize returns MP3 bytes for req.
func (a *OpenAIAudio) Synthesize(ctx context.Context, req SpeechRequest) ([]byte, error) {
	if req.Text == "" {
		return nil, errkind.New(errkind.InvalidRequest, "speech", ErrEmptyText)
	}

	params := openai.AudioSpeechNewParams{
		Input:          req.Text,
		Model:          openai.SpeechModel(orDefault(req.Model, DefaultSpeechModel)),
		Voice:          openai.AudioSpeechNewParamsVoice(orDefault(req.Voice, DefaultVoice)),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	}
	if req.Speed > 0 {
		params.Speed = openai.Float(req.Speed)
	}
	if req.Instructions != "" {
		params.Instructions = openai.String(req.Instructions)
	}

	resp, err := a.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, classify("speech", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errkind.Transient("speech", fmt.Errorf("failed to read audio: %w", err))
	}
	return data, nil
}

// Transcribe returns the text spoken in req.Audio.
func (a *OpenAIAudio) Transcribe(ctx context.Context, req TranscriptionRequest) (string, error) {
	if len(req.Audio) == 0 {
		return "", errkind.New(errkind.InvalidRequest, "transcribe", ErrEmptyAudio)
	}

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(req.Audio), "speech.mp3", "audio/mpeg"),
		Model: openai.AudioModel(a.transcriberModel),
	}
	if req.LanguageCode != "" {
		params.Language = openai.String(req.LanguageCode)
	}
	if req.Prompt != "" {
		params.Prompt = openai.String(req.Prompt)
	}

	transcription, err := a.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", classify("transcribe", err)
	}
	return transcription.Text, nil
}

func classify(op string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return errkind.FromStatus(op, apiErr.StatusCode, err)
	}
	if errkind.IsTransient(err) {
		return errkind.Transient(op, err)
	}
	return err
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
