package stream

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saker-ai/avatar-stream/internal/emotion"
	"github.com/saker-ai/avatar-stream/internal/metrics"
	"github.com/saker-ai/avatar-stream/internal/protocol"
	"github.com/saker-ai/avatar-stream/pkg/audio"
)

const opusFrameMS = 20

// ErrNoAudioSource is returned when a speak request names no audio file and
// no synthesizer is configured.
var ErrNoAudioSource = errors.New("no audio source: audio_path required without tts")

var (
	// ErrInvalidAudioPath is returned for audio paths outside the audio
	// directory.
	ErrInvalidAudioPath = errors.New("invalid audio path")
	// ErrAudioNotFound is returned when the named audio file cannot be read.
	ErrAudioNotFound = errors.New("audio file not found")
)

// SpeakRequest represents a speakRequest.
type SpeakRequest struct {
	Text      string
	AudioPath string
	// Expression forces the label instead of classifying Text.
	Expression emotion.Label
}

// SpeakInfo describes a stream that has been accepted.
type SpeakInfo struct {
	Expression emotion.Label
	Intensity  float64
	FrameCount int
	DurationMS int
}

type activeStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type prepared struct {
	result   emotion.Result
	curve    []float64
	pcm      audio.PCM
	hasAudio bool
}

// Speak prepares a speech stream and starts emitting it in the background.
// Any stream already running is stopped first. It returns once preparation
// is done; frames keep flowing until the stream ends or Stop is called.
func (h *Hub) Speak(ctx context.Context, req SpeakRequest) (SpeakInfo, error) {
	if strings.TrimSpace(req.Text) == "" && strings.TrimSpace(req.AudioPath) == "" {
		return SpeakInfo{}, fmt.Errorf("%w: speak requires text or audio_path", protocol.ErrInvalidAction)
	}

	st := h.beginStream()
	started := time.Now()
	p, err := h.prepare(ctx, st.ctx, req)
	if err != nil {
		status := "failed"
		if st.ctx.Err() != nil {
			status = protocol.SpeakingStopped
		}
		h.endStream(st, status)
		h.logger.Warn("speak prepare failed", zap.String("status", status), zap.Error(err))
		return SpeakInfo{}, err
	}
	metrics.StreamPrepareSeconds.Observe(time.Since(started).Seconds())

	gen := h.generator()
	info := SpeakInfo{
		Expression: p.result.Label,
		Intensity:  p.result.Intensity,
		FrameCount: gen.FrameCount(len(p.curve)),
		DurationMS: len(p.curve) * gen.Config().IntervalMS,
	}
	h.logger.Info("speak stream starting",
		zap.String("expression", string(info.Expression)),
		zap.Float64("intensity", info.Intensity),
		zap.Int("frame_count", info.FrameCount),
		zap.Int("duration_ms", info.DurationMS),
	)
	go h.runStream(st, req, p, info)
	return info, nil
}

// Stop cancels the running stream and waits for it to end. It reports
// whether a stream was running.
func (h *Hub) Stop() bool {
	h.streamMu.Lock()
	st := h.current
	h.streamMu.Unlock()
	if st == nil {
		return false
	}
	st.cancel()
	<-st.done
	return true
}

func (h *Hub) beginStream() *activeStream {
	ctx, cancel := context.WithCancel(h.ctx)
	st := &activeStream{ctx: ctx, cancel: cancel, done: make(chan struct{})}

	h.streamMu.Lock()
	prev := h.current
	h.current = st
	h.streamMu.Unlock()

	if prev != nil {
		prev.cancel()
		<-prev.done
	}
	return st
}

func (h *Hub) endStream(st *activeStream, status string) {
	metrics.Streams.WithLabelValues(status).Inc()
	h.streamMu.Lock()
	if h.current == st {
		h.current = nil
	}
	h.streamMu.Unlock()
	st.cancel()
	close(st.done)
}

// prepare runs classification and audio loading concurrently. reqCtx bounds
// the caller's wait; streamCtx is cancelled by Stop or a newer stream.
func (h *Hub) prepare(reqCtx context.Context, streamCtx context.Context, req SpeakRequest) (prepared, error) {
	ctx, cancel := context.WithCancel(streamCtx)
	defer cancel()
	stopReq := context.AfterFunc(reqCtx, cancel)
	defer stopReq()

	var (
		result   emotion.Result
		pcm      audio.PCM
		hasAudio bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if req.Expression != "" {
			result = emotion.Result{Label: req.Expression, Intensity: 1, Source: emotion.SourceTag}
			return nil
		}
		result, _ = h.classify(gctx, req.Text)
		return nil
	})
	g.Go(func() error {
		data, err := h.loadAudio(gctx, req)
		if err != nil {
			return err
		}
		decoded, err := h.opts.Analyzer.DecodeSource(data)
		if err != nil {
			h.logger.Warn("speak audio decode failed", zap.Int("bytes", len(data)), zap.Error(err))
			return nil
		}
		pcm, hasAudio = decoded, true
		return nil
	})
	if err := g.Wait(); err != nil {
		return prepared{}, err
	}
	if err := ctx.Err(); err != nil {
		return prepared{}, err
	}

	curve := []float64{}
	if hasAudio {
		curve = h.opts.Analyzer.AnalyzePCM(pcm, h.generator().Config().IntervalMS)
	}
	return prepared{result: result, curve: curve, pcm: pcm, hasAudio: hasAudio}, nil
}

func (h *Hub) loadAudio(ctx context.Context, req SpeakRequest) ([]byte, error) {
	if name := strings.TrimSpace(req.AudioPath); name != "" {
		path := name
		if h.opts.ResolveAudio != nil {
			resolved, err := h.opts.ResolveAudio(name)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidAudioPath, err)
			}
			path = resolved
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrAudioNotFound, name, err)
		}
		return data, nil
	}
	if h.opts.Synthesizer == nil {
		return nil, ErrNoAudioSource
	}
	label := emotion.Classify(req.Text).Label
	if req.Expression != "" {
		label = req.Expression
	}
	return h.opts.Synthesizer.Synthesize(ctx, emotion.StripTags(req.Text), label)
}

func (h *Hub) runStream(st *activeStream, req SpeakRequest, p prepared, info SpeakInfo) {
	status := protocol.SpeakingFinished
	sent := 0
	defer func() {
		h.setStreaming(false, "")
		h.broadcast(protocol.SpeakingMessage{Type: protocol.TypeSpeaking, Status: status})
		h.logger.Info("speak stream ended", zap.String("status", status), zap.Int("frames", sent))
		h.endStream(st, status)
	}()

	gen := h.generator()
	h.broadcastEmotion(p.result, req.Text)
	h.setStreaming(true, emotion.StripTags(req.Text))

	started := protocol.SpeakingMessage{
		Type:          protocol.TypeSpeaking,
		Status:        protocol.SpeakingStarted,
		FrameCount:    info.FrameCount,
		Expression:    string(info.Expression),
		DurationMS:    info.DurationMS,
		Volumes:       p.curve,
		SliceLengthMS: gen.Config().IntervalMS,
	}
	if p.hasAudio {
		h.attachAudio(&started, p.pcm)
	}
	h.broadcast(started)

	speed := h.opts.PlaybackSpeed
	start := h.nextTimestamp()
	t0 := time.Now()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for f := range gen.Generate(start, p.result, p.curve, h.opts.Idle) {
		offset := float64(f.TimestampMS-start) / speed
		if wait := time.Until(t0.Add(time.Duration(offset * float64(time.Millisecond)))); wait > 0 {
			timer.Reset(wait)
			select {
			case <-st.ctx.Done():
				status = protocol.SpeakingStopped
				return
			case <-timer.C:
			}
		} else if st.ctx.Err() != nil {
			status = protocol.SpeakingStopped
			return
		}
		h.emitFrame(f)
		sent++
	}
}

// attachAudio embeds the speech audio so consumers can play it in sync with
// the volumes curve.
func (h *Hub) attachAudio(msg *protocol.SpeakingMessage, pcm audio.PCM) {
	switch h.opts.AudioFormat {
	case AudioFormatNone:
	case AudioFormatOpus:
		packets, rate, err := audio.EncodeOpusPackets(pcm, opusFrameMS, h.opts.Opus)
		if err != nil {
			h.logger.Warn("speak opus encode failed", zap.Int("sample_rate", pcm.SampleRate), zap.Error(err))
			return
		}
		msg.AudioFormat = AudioFormatOpus
		msg.AudioSampleRate = rate
		msg.AudioChannels = 1
		msg.AudioPackets = make([]string, len(packets))
		for i, packet := range packets {
			msg.AudioPackets[i] = base64.StdEncoding.EncodeToString(packet)
		}
	default:
		msg.AudioFormat = AudioFormatPCM16
		msg.AudioSampleRate = pcm.SampleRate
		msg.AudioChannels = pcm.Channels
		msg.Audio = base64.StdEncoding.EncodeToString(audio.Int16ToBytes(pcm.Samples))
	}
}
