// Package runtime assembles the producer from configuration: logger,
// classifier, lip-sync analyzer, frame generator, optional synthesizer, the
// stream hub and the HTTP server in front of it.
package runtime

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	appconfig "github.com/saker-ai/avatar-stream/internal/config"
	"github.com/saker-ai/avatar-stream/internal/emotion"
	"github.com/saker-ai/avatar-stream/internal/frame"
	apphttp "github.com/saker-ai/avatar-stream/internal/http"
	"github.com/saker-ai/avatar-stream/internal/lipsync"
	applogger "github.com/saker-ai/avatar-stream/internal/logger"
	"github.com/saker-ai/avatar-stream/internal/stream"
	"github.com/saker-ai/avatar-stream/internal/tts"
)

// Server represents a server.
type Server struct {
	cfg    appconfig.Config
	logger *zap.Logger
	hub    *stream.Hub
	server *http.Server
}

// New executes the new function. An empty configPath loads conf.yaml from
// the project root when present.
func New(configPath string) (*Server, error) {
	cfg, err := appconfig.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load avatar-stream config: %w", err)
	}

	logger, err := applogger.New(cfg.Log)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	logger.Info("logger configured",
		zap.String("level", cfg.Log.Level),
		zap.Bool("stdout", cfg.Log.Stdout),
		zap.Bool("file_enabled", cfg.Log.File.Enabled),
		zap.String("file_path", cfg.Log.File.Path),
		zap.String("file_name", cfg.Log.File.Name),
	)
	logger.Info("config loaded",
		zap.String("config_path", configPath),
		zap.String("root_dir", cfg.RootDir),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.Int("fps", cfg.Stream.FPS),
		zap.String("audio_format", cfg.Stream.AudioFormat),
	)

	hub, err := NewHub(cfg, logger)
	if err != nil {
		return nil, err
	}
	router := apphttp.NewRouter(cfg, hub, logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{
		cfg:    cfg,
		logger: logger,
		hub:    hub,
		server: httpServer,
	}, nil
}

// NewHub builds the stream hub and its collaborators from cfg.
func NewHub(cfg appconfig.Config, logger *zap.Logger) (*stream.Hub, error) {
	logger = applogger.OrNop(logger)

	var model emotion.ModelAnalyzer
	if cfg.Emotion.ModelEnabled {
		model = emotion.NewOpenAIAnalyzer(emotion.OpenAIConfig{
			BaseURL: cfg.Emotion.BaseURL,
			APIKey:  cfg.Emotion.APIKey,
			Model:   cfg.Emotion.Model,
			Timeout: time.Duration(cfg.Emotion.TimeoutMS) * time.Millisecond,
		})
		logger.Info("emotion model enabled",
			zap.String("model", cfg.Emotion.Model),
			zap.Float64("threshold", cfg.Emotion.Threshold),
		)
	}

	genCfg := frame.DefaultConfig()
	genCfg.FPS = cfg.Stream.FPS
	genCfg.IntervalMS = cfg.Stream.SampleIntervalMS
	if cfg.Expression.MouthGain > 0 {
		genCfg.MouthGain = cfg.Expression.MouthGain
	}
	if path := cfg.Expression.OverridesFile; path != "" {
		overrides, err := appconfig.ReadExpressionOverrides(path)
		if err != nil {
			return nil, fmt.Errorf("read expression overrides: %w", err)
		}
		var skipped []string
		genCfg, skipped = genCfg.Apply(frame.ConfigPatch{Expressions: overrides})
		if len(skipped) > 0 {
			logger.Warn("expression overrides skipped", zap.String("path", path), zap.Strings("labels", skipped))
		}
	}

	var idle frame.IdleGenerators
	if cfg.Idle.BlinkEnabled {
		idle.Blink = frame.NewBlink(frame.BlinkConfig{
			Interval: time.Duration(cfg.Idle.BlinkIntervalMS) * time.Millisecond,
			Jitter:   time.Duration(cfg.Idle.BlinkJitterMS) * time.Millisecond,
			Duration: time.Duration(cfg.Idle.BlinkDurationMS) * time.Millisecond,
			Seed:     cfg.Idle.Seed,
		})
	}
	if cfg.Idle.BreathEnabled {
		idle.Breath = frame.NewBreath(time.Duration(cfg.Idle.BreathCycleMS) * time.Millisecond)
	}

	opts := stream.Options{
		Classifier: emotion.NewClassifier(model, cfg.Emotion.Threshold, logger),
		Analyzer: lipsync.NewAnalyzer(lipsync.Config{
			AnalysisRate:  cfg.Stream.AnalysisSampleRate,
			RawSampleRate: cfg.Stream.PCMSampleRate,
			RawChannels:   cfg.Stream.PCMChannels,
		}, logger),
		Generator:       frame.NewGenerator(genCfg),
		Idle:            idle,
		ResolveAudio:    cfg.ResolveAudioPath,
		PlaybackSpeed:   cfg.Stream.PlaybackSpeed,
		AudioFormat:     cfg.Stream.AudioFormat,
		ClassifyTimeout: time.Duration(cfg.Emotion.TimeoutMS) * time.Millisecond,
		Model:           defaultModelName(cfg.ModelsDir),
	}
	if cfg.TTS.Enabled {
		opts.Synthesizer = tts.NewOpenAISynthesizer(tts.Config{
			BaseURL:        cfg.TTS.BaseURL,
			APIKey:         cfg.TTS.APIKey,
			Model:          cfg.TTS.Model,
			Voice:          cfg.TTS.Voice,
			ResponseFormat: cfg.TTS.ResponseFormat,
			Timeout:        time.Duration(cfg.TTS.TimeoutMS) * time.Millisecond,
		}, logger)
		logger.Info("tts enabled", zap.String("base_url", cfg.TTS.BaseURL), zap.String("voice", cfg.TTS.Voice))
	}
	return stream.NewHub(logger, opts), nil
}

func defaultModelName(modelsDir string) string {
	if models := appconfig.ScanModels(modelsDir); len(models) > 0 {
		return models[0].Name
	}
	return ""
}

// Run executes the run method.
func (s *Server) Run() error {
	if s == nil || s.server == nil {
		return nil
	}

	err := listen(s.server, s.cfg, s.logger)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr executes the addr method.
func (s *Server) Addr() string {
	if s == nil || s.server == nil {
		return ""
	}
	return s.server.Addr
}

// Logger returns the configured logger.
func (s *Server) Logger() *zap.Logger {
	if s == nil {
		return zap.NewNop()
	}
	return s.logger
}

// Shutdown stops the active stream, disconnects peers and drains the HTTP
// server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	if s.hub != nil {
		s.hub.Close()
	}
	return ignoreServerClosed(s.server.Shutdown(ctx))
}

func ignoreServerClosed(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func listen(server *http.Server, cfg appconfig.Config, logger *zap.Logger) error {
	if cfg.TLSDisable {
		logger.Info("starting http server", zap.String("addr", cfg.HTTPAddr))
		return server.ListenAndServe()
	}

	certPath := filepath.Clean(cfg.TLSCertPath)
	keyPath := filepath.Clean(cfg.TLSKeyPath)
	certExists := fileExists(certPath)
	keyExists := fileExists(keyPath)

	if certExists && keyExists {
		logger.Info("starting https server", zap.String("addr", cfg.HTTPAddr))
		return server.ListenAndServeTLS(certPath, keyPath)
	}

	if cfg.TLSRequired {
		missing := []string{}
		if !certExists {
			missing = append(missing, certPath)
		}
		if !keyExists {
			missing = append(missing, keyPath)
		}
		logger.Warn("tls required but certs missing; using in-memory cert", zap.Strings("missing", missing))
	}

	cert, err := generateSelfSignedCert(cfg.SystemConfig.Host)
	if err != nil {
		return fmt.Errorf("failed to generate tls cert: %w", err)
	}
	server.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	logger.Info("starting https server with in-memory cert", zap.String("addr", cfg.HTTPAddr))
	return server.ListenAndServeTLS("", "")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
