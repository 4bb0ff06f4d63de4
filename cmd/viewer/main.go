// Command viewer is a headless stream consumer. It follows the producer over
// websocket, interpolates parameters at tick_hz and logs what a renderer
// would draw.
package main

import (
	"context"
	"encoding/base64"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	appconfig "github.com/saker-ai/avatar-stream/internal/config"
	"github.com/saker-ai/avatar-stream/internal/frame"
	applogger "github.com/saker-ai/avatar-stream/internal/logger"
	"github.com/saker-ai/avatar-stream/internal/protocol"
	"github.com/saker-ai/avatar-stream/internal/session/fsm"
	"github.com/saker-ai/avatar-stream/pkg/audio"
	"github.com/saker-ai/avatar-stream/pkg/playback"
	"github.com/saker-ai/avatar-stream/pkg/streamclient"
)

type logRenderer struct {
	logger *zap.Logger
}

func (r logRenderer) SetParameter(name string, value float64) error {
	if _, ok := frame.RangeOf(name); !ok {
		return playback.ErrUnknownParameter
	}
	r.logger.Debug("render parameter", zap.String("name", name), zap.Float64("value", value))
	return nil
}

func (r logRenderer) PlayMotion(name string, done func()) error {
	r.logger.Info("render motion", zap.String("motion", name))
	done()
	return nil
}

func (r logRenderer) DefaultPose() map[string]float64 {
	return frame.DefaultPose()
}

func main() {
	configPath := flag.String("config", "", "path to a yaml config file")
	url := flag.String("url", "", "producer websocket url (overrides client.url)")
	speak := flag.String("speak", "", "text to speak once connected")
	audioPath := flag.String("audio", "", "audio path for -speak, relative to the producer audio dir")
	flag.Parse()

	cfg, err := appconfig.LoadConfig(*configPath)
	if err != nil {
		fallback, _ := zap.NewProduction()
		defer fallback.Sync()
		fallback.Fatal("failed to load config", zap.Error(err))
	}
	logger, err := applogger.New(cfg.Log)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	defer logger.Sync()
	if *url != "" {
		cfg.Client.URL = *url
	}

	interp := playback.New(logRenderer{logger: logger}, playback.Config{
		Smoothing:      cfg.Client.Smoothing,
		ReferenceFrame: cfg.Client.ReferenceFrame(),
	}, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var (
		speakOnce sync.Once
		client    *streamclient.Client
	)
	client = streamclient.NewClient(streamclient.Config{
		URL:                  cfg.Client.URL,
		ReconnectDelay:       cfg.Client.ReconnectDelay(),
		MaxReconnectAttempts: cfg.Client.MaxReconnectAttempts,
	}, streamclient.Callbacks{
		OnState: func(state fsm.State) {
			logger.Info("viewer state", zap.String("phase", string(state.Phase)), zap.Int("attempt", state.Attempt))
			if state.Phase != fsm.PhaseOpen {
				return
			}
			interp.ResetOrdering()
			if *speak != "" {
				speakOnce.Do(func() {
					go func() {
						if err := client.Send(ctx, protocol.Speak(*speak, *audioPath)); err != nil {
							logger.Warn("viewer speak failed", zap.Error(err))
						}
					}()
				})
			}
		},
		OnParameters: interp.ApplyParameters,
		OnFrame: func(f protocol.Frame) {
			if !interp.ApplyFrame(f) {
				logger.Debug("viewer stale frame dropped", zap.Uint64("timestamp_ms", f.TimestampMS))
			}
		},
		OnEmotion: func(msg protocol.EmotionMessage) {
			interp.ApplyEmotion(msg.Expression)
			logger.Info("viewer emotion", zap.String("expression", msg.Expression), zap.String("text", msg.Text))
		},
		OnMotion: func(msg protocol.MotionMessage) {
			interp.PlayMotion(msg.Motion, func() {
				logger.Debug("viewer motion complete", zap.String("motion", msg.Motion))
			})
		},
		OnSpeaking: func(msg protocol.SpeakingMessage) {
			handleSpeaking(logger, interp, msg)
		},
		OnStatus: interp.ApplyStatus,
		OnTerminal: func(err error) {
			logger.Error("viewer giving up", zap.Error(err))
			cancel()
		},
	}, logger)

	if err := client.Connect(ctx); err != nil {
		logger.Fatal("viewer connect failed", zap.Error(err))
	}
	defer client.Close()

	tickHz := max(cfg.Client.TickHz, 1)
	ticker := time.NewTicker(time.Second / time.Duration(tickHz))
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			logger.Info("viewer stopped")
			return
		case now := <-ticker.C:
			interp.Tick(now.Sub(last))
			last = now
		}
	}
}

// handleSpeaking drives the lip-sync track from a wall clock that starts
// when the audio would start playing.
func handleSpeaking(logger *zap.Logger, interp *playback.Interpolator, msg protocol.SpeakingMessage) {
	switch msg.Status {
	case protocol.SpeakingStarted:
		logger.Info("viewer speaking",
			zap.String("expression", msg.Expression),
			zap.Int("frame_count", msg.FrameCount),
			zap.Int("duration_ms", msg.DurationMS),
			zap.Int("audio_ms", audioDurationMS(logger, msg)),
		)
		if len(msg.Volumes) > 0 && msg.SliceLengthMS > 0 {
			started := time.Now()
			interp.StartLipSync(msg.Volumes, time.Duration(msg.SliceLengthMS)*time.Millisecond, func() time.Duration {
				return time.Since(started)
			})
		}
	default:
		interp.StopLipSync()
		logger.Info("viewer speaking ended", zap.String("status", msg.Status))
	}
}

func audioDurationMS(logger *zap.Logger, msg protocol.SpeakingMessage) int {
	if msg.AudioSampleRate <= 0 {
		return 0
	}
	channels := max(msg.AudioChannels, 1)
	var samples []int16
	switch msg.AudioFormat {
	case "pcm16":
		data, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			logger.Warn("viewer audio decode failed", zap.Error(err))
			return 0
		}
		samples = audio.BytesToInt16(data)
	case "opus":
		packets := make([][]byte, 0, len(msg.AudioPackets))
		for _, encoded := range msg.AudioPackets {
			packet, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				logger.Warn("viewer audio decode failed", zap.Error(err))
				return 0
			}
			packets = append(packets, packet)
		}
		decoded, err := audio.DecodeOpusPackets(packets, msg.AudioSampleRate, channels)
		if err != nil {
			logger.Warn("viewer opus decode failed", zap.Error(err))
			return 0
		}
		samples = decoded
	default:
		return 0
	}
	return audio.PCM{Samples: samples, SampleRate: msg.AudioSampleRate, Channels: channels}.DurationMS()
}
