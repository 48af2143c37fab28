package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/harun/korli/pkg/audio"
	"github.com/harun/korli/pkg/errkind"
)

// handleSpeech synthesizes text. With storage "none" the response body is
// the MP3 clip itself; otherwise it is a JSON audio.Result.
func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	var in SpeechInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&in); err != nil {
		writeError(w, errkind.Invalid("decode", "invalid JSON body: %v", err))
		return
	}

	res, err := s.deps.Audio.Generate(r.Context(), audio.GenerateRequest{
		SpeechRequest: audio.SpeechRequest{
			Text:         in.Text,
			Voice:        in.Voice,
			Model:        in.Model,
			Speed:        in.Speed,
			Instructions: in.Instructions,
		},
		Storage:  in.Storage,
		ThreadID: in.ThreadID,
		Upsert:   in.Upsert,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("kind", errkind.KindOf(err).String()).Msg("Speech request failed")
		writeError(w, err)
		return
	}

	if in.Storage == "" || in.Storage == audio.StorageNone {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Header().Set("Content-Length", strconv.Itoa(len(res.Audio)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(res.Audio)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleTranscribe transcribes the raw request body. The language, prompt
// and thread_id query parameters are optional.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.options.MaxAudioBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, errkind.Invalid("transcribe", "audio larger than %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, errkind.Invalid("transcribe", "failed to read audio: %v", err))
		return
	}

	query := r.URL.Query()
	text, err := s.deps.Audio.Transcribe(r.Context(), query.Get("thread_id"), audio.TranscriptionRequest{
		Audio:        data,
		LanguageCode: query.Get("language"),
		Prompt:       query.Get("prompt"),
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("kind", errkind.KindOf(err).String()).Msg("Transcription request failed")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TranscriptionResponse{Text: text})
}
