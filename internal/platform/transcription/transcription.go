// Package transcription converts recorded audio into text using an
// OpenAI-compatible Whisper endpoint, and validates uploads before they are
// sent.
package transcription

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// MaxAudioBytes is the largest payload accepted for transcription (25 MB).
const MaxAudioBytes = 25 * 1024 * 1024

// DefaultModel is used when no model is configured.
const DefaultModel = openai.Whisper1

var supportedExtensions = []string{".mp3", ".mp4", ".mpeg", ".mpga", ".m4a", ".wav", ".webm"}

// Segment is a timed slice of the transcript, in seconds from the start.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Result is the output of a transcription call.
type Result struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
}

// Transcriber turns an audio buffer into text. filename is used only to
// convey the container format to the provider.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (*Result, error)
}

// IsValidAudioFormat reports whether filename has a supported extension.
// The comparison is case-insensitive.
func IsValidAudioFormat(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return false
	}
	for _, e := range supportedExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// IsValidAudioSize reports whether size is within MaxAudioBytes.
func IsValidAudioSize(size int64) bool {
	return size <= MaxAudioBytes
}

// SupportedFormats is the human-readable extension list returned to clients.
func SupportedFormats() string {
	names := make([]string, len(supportedExtensions))
	for i, e := range supportedExtensions {
		names[i] = strings.TrimPrefix(e, ".")
	}
	return strings.Join(names, ", ")
}

type audioClient interface {
	CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error)
}

// Whisper is a Transcriber backed by the OpenAI audio API.
type Whisper struct {
	client audioClient
	model  string
	logger zerolog.Logger
}

// Config configures the Whisper client. BaseURL overrides the API root for
// OpenAI-compatible gateways.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// NewWhisper builds a Whisper transcriber.
func NewWhisper(cfg Config, logger zerolog.Logger) *Whisper {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Whisper{
		client: openai.NewClientWithConfig(oc),
		model:  model,
		logger: logger.With().Str("component", "transcription").Str("model", model).Logger(),
	}
}

// Transcribe sends the audio and returns the full text with segments.
func (w *Whisper) Transcribe(ctx context.Context, audio []byte, filename string) (*Result, error) {
	if len(audio) == 0 {
		return nil, errors.New("audio transcription failed: empty audio")
	}
	name := filepath.Base(filename)
	if name == "." || name == "/" || filepath.Ext(name) == "" {
		name = "audio.mp3"
	}

	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: name,
		Reader:   bytes.NewReader(audio),
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		w.logger.Error().Err(err).Int("bytes", len(audio)).Msg("transcription request failed")
		return nil, fmt.Errorf("audio transcription failed: %w", err)
	}

	out := &Result{Text: resp.Text, Segments: make([]Segment, 0, len(resp.Segments))}
	for _, s := range resp.Segments {
		out.Segments = append(out.Segments, Segment{Text: s.Text, Start: s.Start, End: s.End})
	}
	w.logger.Debug().Int("segments", len(out.Segments)).Msg("transcription complete")
	return out, nil
}
