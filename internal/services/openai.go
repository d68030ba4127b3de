package services

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/bobarin/reelcut/internal/models"
)

// ---------------------------------------------------------------------------
// Whisper alignment: word-level timestamps for narration without timings
// ---------------------------------------------------------------------------

// WhisperAligner transcribes narration audio with OpenAI Whisper and returns
// the word timings it reports.
type WhisperAligner struct {
	client   *openai.Client
	language string
	log      zerolog.Logger
}

// NewWhisperAligner returns an aligner for apiKey. baseURL overrides the API
// endpoint when non-empty.
func NewWhisperAligner(apiKey, baseURL, language string, logger zerolog.Logger) *WhisperAligner {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if language == "" {
		language = "en"
	}
	return &WhisperAligner{
		client:   openai.NewClientWithConfig(cfg),
		language: language,
		log:      logger.With().Str("component", "whisper").Logger(),
	}
}

// Align sends audioData to Whisper. filename is a hint for the container
// format (e.g. "scene.mp3").
func (a *WhisperAligner) Align(ctx context.Context, audioData []byte, filename string) (models.WordTimings, error) {
	if filename == "" {
		filename = "audio.mp3" // required by the library
	}

	resp, err := a.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		Reader:   bytes.NewReader(audioData),
		FilePath: filename,
		Format:   openai.AudioResponseFormatVerboseJSON,
		Language: a.language,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularityWord,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("whisper transcription failed: %w", err)
	}

	if len(resp.Words) == 0 {
		return nil, fmt.Errorf("whisper returned no word timestamps (text: %q)", truncateString(resp.Text, 80))
	}

	words := make(models.WordTimings, 0, len(resp.Words))
	for _, w := range resp.Words {
		word := strings.TrimSpace(w.Word)
		if word == "" {
			continue
		}
		words = append(words, models.WordTiming{Word: word, Start: w.Start, End: w.End})
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("whisper returned only blank words")
	}

	a.log.Debug().
		Int("words", len(words)).
		Float64("duration", resp.Duration).
		Str("text", truncateString(resp.Text, 80)).
		Msg("Transcribed narration")

	return words, nil
}

// truncateString truncates a string to maxLen and appends "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
