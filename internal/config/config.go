package config

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	appdefaults "github.com/saker-ai/avatar-stream/config"

	"github.com/saker-ai/avatar-stream/internal/logger"
	"github.com/spf13/viper"
)

// SystemConfig represents a systemConfig.
type SystemConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// StreamConfig controls frame generation and speech analysis.
type StreamConfig struct {
	FPS                int     `mapstructure:"fps"`
	SampleIntervalMS   int     `mapstructure:"sample_interval_ms"`
	AnalysisSampleRate int     `mapstructure:"analysis_sample_rate"`
	PlaybackSpeed      float64 `mapstructure:"playback_speed"`
	AudioFormat        string  `mapstructure:"audio_format"`
	PCMSampleRate      int     `mapstructure:"pcm_sample_rate"`
	PCMChannels        int     `mapstructure:"pcm_channels"`
}

// IdleConfig controls the blink and breath generators.
type IdleConfig struct {
	BlinkEnabled    bool   `mapstructure:"blink_enabled"`
	BlinkIntervalMS int    `mapstructure:"blink_interval_ms"`
	BlinkJitterMS   int    `mapstructure:"blink_jitter_ms"`
	BlinkDurationMS int    `mapstructure:"blink_duration_ms"`
	BreathEnabled   bool   `mapstructure:"breath_enabled"`
	BreathCycleMS   int    `mapstructure:"breath_cycle_ms"`
	Seed            uint64 `mapstructure:"seed"`
}

// ExpressionConfig represents a expressionConfig.
type ExpressionConfig struct {
	MouthGain     float64 `mapstructure:"mouth_gain"`
	OverridesFile string  `mapstructure:"overrides_file"`
}

// EmotionConfig configures the optional model-backed emotion analyzer.
type EmotionConfig struct {
	ModelEnabled bool    `mapstructure:"model_enabled"`
	Threshold    float64 `mapstructure:"threshold"`
	BaseURL      string  `mapstructure:"base_url"`
	APIKey       string  `mapstructure:"api_key"`
	Model        string  `mapstructure:"model"`
	TimeoutMS    int     `mapstructure:"timeout_ms"`
}

// TTSConfig configures the OpenAI compatible speech endpoint.
type TTSConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	Voice          string `mapstructure:"voice"`
	ResponseFormat string `mapstructure:"response_format"`
	TimeoutMS      int    `mapstructure:"timeout_ms"`
}

// ClientConfig configures the stream consumer.
type ClientConfig struct {
	URL                  string  `mapstructure:"url"`
	ReconnectDelayMS     int     `mapstructure:"reconnect_delay_ms"`
	MaxReconnectAttempts int     `mapstructure:"max_reconnect_attempts"`
	Smoothing            float64 `mapstructure:"smoothing"`
	ReferenceFrameMS     float64 `mapstructure:"reference_frame_ms"`
	TickHz               int     `mapstructure:"tick_hz"`
}

// Config represents a config.
type Config struct {
	RootDir      string           `mapstructure:"-"`
	HTTPAddr     string           `mapstructure:"http_addr"`
	ModelsDir    string           `mapstructure:"models_dir"`
	AudioDir     string           `mapstructure:"audio_dir"`
	TLSCertPath  string           `mapstructure:"tls_cert_path"`
	TLSKeyPath   string           `mapstructure:"tls_key_path"`
	TLSRequired  bool             `mapstructure:"tls_required"`
	TLSDisable   bool             `mapstructure:"tls_disable"`
	SystemConfig SystemConfig     `mapstructure:"system_config"`
	Stream       StreamConfig     `mapstructure:"stream"`
	Idle         IdleConfig       `mapstructure:"idle"`
	Expression   ExpressionConfig `mapstructure:"expression"`
	Emotion      EmotionConfig    `mapstructure:"emotion"`
	TTS          TTSConfig        `mapstructure:"tts"`
	Client       ClientConfig     `mapstructure:"client"`
	Log          logger.Config    `mapstructure:"log"`
}

// ReconnectDelay returns the consumer retry delay as a duration.
func (c ClientConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayMS) * time.Millisecond
}

// ReferenceFrame returns the nominal render frame duration.
func (c ClientConfig) ReferenceFrame() time.Duration {
	return time.Duration(c.ReferenceFrameMS * float64(time.Millisecond))
}

// Load executes the load function.
func Load() (Config, error) {
	rootDir, err := resolveRootDir()
	if err != nil {
		return Config{}, err
	}

	v, err := newViper()
	if err != nil {
		return Config{}, err
	}
	v.SetConfigName("conf")
	v.AddConfigPath(rootDir)

	if err := v.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
	}

	return finish(v, rootDir)
}

// LoadConfig executes the loadConfig function.
func LoadConfig(configPath string) (Config, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		return Load()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, err
	}

	rootDir := strings.TrimSpace(os.Getenv("AVATAR_ROOT_DIR"))
	if rootDir == "" {
		rootDir = filepath.Dir(absPath)
		if filepath.Base(rootDir) == "config" {
			rootDir = filepath.Dir(rootDir)
		}
	}

	v, err := newViper()
	if err != nil {
		return Config{}, err
	}
	v.SetConfigFile(absPath)
	if err := v.MergeInConfig(); err != nil {
		return Config{}, err
	}

	return finish(v, rootDir)
}

func newViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if err := v.ReadConfig(bytes.NewReader(appdefaults.Default)); err != nil {
		return nil, fmt.Errorf("load embedded config: %w", err)
	}

	v.SetDefault("http_addr", "")
	v.SetDefault("tls_required", false)
	v.SetDefault("tls_disable", true)
	v.SetDefault("tls_cert_path", "")
	v.SetDefault("tls_key_path", "")
	v.SetDefault("stream.fps", 30)
	v.SetDefault("stream.sample_interval_ms", 20)
	v.SetDefault("stream.analysis_sample_rate", 16000)
	v.SetDefault("stream.playback_speed", 1.0)
	v.SetDefault("client.reconnect_delay_ms", 3000)
	v.SetDefault("client.max_reconnect_attempts", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.stdout", true)
	v.SetDefault("log.file.enabled", true)
	v.SetDefault("log.file.path", "./data/logs")
	v.SetDefault("log.file.name", "avatar-stream.log")

	v.SetEnvPrefix("avatar")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

func finish(v *viper.Viper, rootDir string) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	cfg.RootDir = rootDir
	deriveHTTPAddr(&cfg)
	derivePaths(&cfg)
	normalizeStream(&cfg.Stream)
	normalizeIdle(&cfg.Idle)
	normalizeClient(&cfg.Client)
	if cfg.Expression.MouthGain <= 0 {
		cfg.Expression.MouthGain = 1
	}

	return cfg, nil
}

func deriveHTTPAddr(cfg *Config) {
	if cfg.HTTPAddr != "" {
		return
	}
	host := cfg.SystemConfig.Host
	port := cfg.SystemConfig.Port
	if port == 0 {
		port = 8101
	}
	if host == "" {
		cfg.HTTPAddr = fmt.Sprintf(":%d", port)
		return
	}
	cfg.HTTPAddr = net.JoinHostPort(host, strconv.Itoa(port))
}

func normalizeStream(s *StreamConfig) {
	if s.FPS <= 0 {
		s.FPS = 30
	}
	if s.SampleIntervalMS <= 0 {
		s.SampleIntervalMS = 20
	}
	if s.AnalysisSampleRate <= 0 {
		s.AnalysisSampleRate = 16000
	}
	if s.PlaybackSpeed <= 0 {
		s.PlaybackSpeed = 1
	}
	s.AudioFormat = strings.ToLower(strings.TrimSpace(s.AudioFormat))
	switch s.AudioFormat {
	case "pcm16", "opus", "none":
	default:
		s.AudioFormat = "pcm16"
	}
	if s.PCMSampleRate <= 0 {
		s.PCMSampleRate = 24000
	}
	if s.PCMChannels <= 0 {
		s.PCMChannels = 1
	}
}

func normalizeIdle(i *IdleConfig) {
	if i.BlinkIntervalMS <= 0 {
		i.BlinkIntervalMS = 3000
	}
	if i.BlinkJitterMS < 0 {
		i.BlinkJitterMS = 0
	}
	if i.BlinkDurationMS <= 0 {
		i.BlinkDurationMS = 150
	}
	if i.BreathCycleMS <= 0 {
		i.BreathCycleMS = 4000
	}
}

func normalizeClient(c *ClientConfig) {
	if c.ReconnectDelayMS <= 0 {
		c.ReconnectDelayMS = 3000
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.Smoothing <= 0 || c.Smoothing > 1 {
		c.Smoothing = 0.3
	}
	if c.ReferenceFrameMS <= 0 {
		c.ReferenceFrameMS = 1000.0 / 60.0
	}
	if c.TickHz <= 0 {
		c.TickHz = 60
	}
}

func resolveRootDir() (string, error) {
	if root := strings.TrimSpace(os.Getenv("AVATAR_ROOT_DIR")); root != "" {
		return filepath.Abs(root)
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := wd
	for i := 0; i < 6; i++ {
		if fileExists(filepath.Join(dir, "conf.yaml")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return wd, nil
}

func derivePaths(cfg *Config) {
	cfg.ModelsDir = resolvePath(cfg.RootDir, cfg.ModelsDir, "models")
	cfg.AudioDir = resolvePath(cfg.RootDir, cfg.AudioDir, "audio")
	cfg.TLSCertPath = resolvePath(cfg.RootDir, cfg.TLSCertPath, filepath.Join("certs", "server.crt"))
	cfg.TLSKeyPath = resolvePath(cfg.RootDir, cfg.TLSKeyPath, filepath.Join("certs", "server.key"))
	if cfg.Expression.OverridesFile != "" {
		cfg.Expression.OverridesFile = resolvePath(cfg.RootDir, cfg.Expression.OverridesFile, "")
	}
}

// ResolveAudioPath joins a client supplied audio path onto AudioDir and
// rejects paths that escape it.
func (c Config) ResolveAudioPath(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("audio path is empty")
	}
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("audio path must be relative: %s", name)
	}
	joined := filepath.Join(c.AudioDir, filepath.Clean(name))
	rel, err := filepath.Rel(c.AudioDir, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("audio path escapes audio dir: %s", name)
	}
	return joined, nil
}

func resolvePath(rootDir string, configured string, fallback string) string {
	path := strings.TrimSpace(configured)
	if path == "" {
		path = fallback
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(rootDir, path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
