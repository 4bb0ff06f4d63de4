// Package tts synthesizes speech audio through an OpenAI-compatible
// /audio/speech endpoint.
package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/saker-ai/avatar-stream/internal/emotion"
)

// ErrEmptyText is returned when there is nothing to synthesize.
var ErrEmptyText = errors.New("tts text is empty")

// Synthesizer turns text into encoded audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, label emotion.Label) ([]byte, error)
}

// DefaultEmotionPrompts are prepended to the input as a bracketed style hint.
var DefaultEmotionPrompts = map[emotion.Label]string{
	emotion.Happy:     "明るく楽しそうに",
	emotion.Sad:       "しんみりと悲しげに",
	emotion.Excited:   "テンション高く興奮して",
	emotion.Angry:     "怒った声で",
	emotion.Surprised: "驚いた声で",
	emotion.Thinking:  "考え込むように",
}

// Config represents a config.
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	Voice          string
	ResponseFormat string
	Timeout        time.Duration
	EmotionPrompts map[emotion.Label]string
}

// OpenAISynthesizer represents a openAISynthesizer.
type OpenAISynthesizer struct {
	client oai.Client
	cfg    Config
	logger *zap.Logger
}

// NewOpenAISynthesizer executes the newOpenAISynthesizer function.
func NewOpenAISynthesizer(cfg Config, logger *zap.Logger) *OpenAISynthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Model == "" {
		cfg.Model = "tts-1"
	}
	if cfg.Voice == "" {
		cfg.Voice = "Vivian"
	}
	if cfg.ResponseFormat == "" {
		cfg.ResponseFormat = "wav"
	}
	if cfg.APIKey == "" {
		cfg.APIKey = "not-needed"
	}
	if cfg.EmotionPrompts == nil {
		cfg.EmotionPrompts = DefaultEmotionPrompts
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		option.WithMaxRetries(1),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/"))
	}
	return &OpenAISynthesizer{
		client: oai.NewClient(opts...),
		cfg:    cfg,
		logger: logger,
	}
}

// Input returns the text actually sent for label.
func (s *OpenAISynthesizer) Input(text string, label emotion.Label) string {
	if prompt := s.cfg.EmotionPrompts[label]; prompt != "" {
		return "[" + prompt + "]" + text
	}
	return text
}

// Synthesize executes the synthesize method.
func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text string, label emotion.Label) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}

	start := time.Now()
	resp, err := s.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(s.cfg.Model),
		Voice:          oai.AudioSpeechNewParamsVoice(s.cfg.Voice),
		Input:          s.Input(text, label),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormat(s.cfg.ResponseFormat),
	})
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tts read: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("tts returned no audio")
	}

	s.logger.Info("tts synthesized",
		zap.String("emotion", string(label)),
		zap.Int("text_len", len(text)),
		zap.Int("audio_bytes", len(data)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return data, nil
}

// Health reports whether the endpoint answers a model listing.
func (s *OpenAISynthesizer) Health(ctx context.Context) error {
	if _, err := s.client.Models.List(ctx); err != nil {
		return fmt.Errorf("tts health: %w", err)
	}
	return nil
}
