// Package lipsync turns speech audio into a mouth-openness curve: one RMS
// sample per fixed time slice, normalised so the loudest slice is 1.0.
package lipsync

import (
	"bytes"
	"errors"
	"math"

	"go.uber.org/zap"

	"github.com/saker-ai/avatar-stream/pkg/audio"
)

// DefaultIntervalMS is the default slice width.
const DefaultIntervalMS = 20

// ErrCompressedAudio is returned for mp3, aac, ogg and flac input, which is
// not decoded here.
var ErrCompressedAudio = errors.New("lipsync: compressed audio is not supported")

// Config represents a config.
type Config struct {
	// AnalysisRate is the rate audio is resampled to before slicing. Zero
	// analyses at the source rate.
	AnalysisRate int
	// RawSampleRate and RawChannels describe input that is not a WAV file;
	// such input is treated as headerless PCM16 LE.
	RawSampleRate int
	RawChannels   int
}

// Analyzer represents a analyzer.
type Analyzer struct {
	cfg    Config
	logger *zap.Logger
}

// NewAnalyzer executes the newAnalyzer function.
func NewAnalyzer(cfg Config, logger *zap.Logger) *Analyzer {
	if cfg.RawSampleRate <= 0 {
		cfg.RawSampleRate = 24000
	}
	if cfg.RawChannels <= 0 {
		cfg.RawChannels = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{cfg: cfg, logger: logger}
}

// DecodeSource parses WAV or headerless PCM16 without converting it.
func (a *Analyzer) DecodeSource(data []byte) (audio.PCM, error) {
	if audio.IsWAV(data) {
		return audio.DecodeWAV(data)
	}
	if isCompressed(data) {
		return audio.PCM{}, ErrCompressedAudio
	}
	return audio.PCM{
		Samples:    audio.BytesToInt16(data),
		SampleRate: a.cfg.RawSampleRate,
		Channels:   a.cfg.RawChannels,
	}, nil
}

// isCompressed reports container magic or an MPEG/ADTS frame sync.
func isCompressed(data []byte) bool {
	for _, magic := range [][]byte{[]byte("ID3"), []byte("OggS"), []byte("fLaC")} {
		if bytes.HasPrefix(data, magic) {
			return true
		}
	}
	// 11 frame sync bits, shared by mp3 and adts aac
	return len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0
}

// Decode parses audio into mono PCM at the analysis rate.
func (a *Analyzer) Decode(data []byte) (audio.PCM, error) {
	pcm, err := a.DecodeSource(data)
	if err != nil {
		return audio.PCM{}, err
	}
	return a.Mono(pcm)
}

// Mono downmixes pcm and resamples it to the analysis rate.
func (a *Analyzer) Mono(pcm audio.PCM) (audio.PCM, error) {
	mono := audio.PCM{
		Samples:    audio.Downmix(pcm.Samples, pcm.Channels),
		SampleRate: pcm.SampleRate,
		Channels:   1,
	}
	if a.cfg.AnalysisRate > 0 && a.cfg.AnalysisRate != mono.SampleRate {
		resampled, err := audio.Resample(mono.Samples, mono.SampleRate, a.cfg.AnalysisRate)
		if err != nil {
			return audio.PCM{}, err
		}
		mono = audio.PCM{Samples: resampled, SampleRate: a.cfg.AnalysisRate, Channels: 1}
	}
	return mono, nil
}

// Analyze returns one value per intervalMS slice. Audio that cannot be
// decoded yields an empty curve.
func (a *Analyzer) Analyze(data []byte, intervalMS int) []float64 {
	pcm, err := a.Decode(data)
	if err != nil {
		a.logger.Warn("lipsync decode failed", zap.Int("bytes", len(data)), zap.Error(err))
		return []float64{}
	}
	return Curve(pcm, intervalMS)
}

// AnalyzePCM is Analyze for already decoded audio.
func (a *Analyzer) AnalyzePCM(pcm audio.PCM, intervalMS int) []float64 {
	mono, err := a.Mono(pcm)
	if err != nil {
		a.logger.Warn("lipsync resample failed", zap.Int("samples", len(pcm.Samples)), zap.Error(err))
		return []float64{}
	}
	return Curve(mono, intervalMS)
}

// Curve slices mono pcm into intervalMS windows. Its length is
// duration/interval; a trailing partial slice is dropped. A silent buffer
// yields all zeros.
func Curve(pcm audio.PCM, intervalMS int) []float64 {
	if intervalMS <= 0 {
		intervalMS = DefaultIntervalMS
	}
	if pcm.SampleRate <= 0 || pcm.Channels <= 0 {
		return []float64{}
	}
	chunk := pcm.SampleRate * intervalMS / 1000
	if chunk <= 0 {
		return []float64{}
	}
	frames := pcm.Frames()
	count := frames / chunk

	volumes := make([]float64, count)
	maxVolume := 0.0
	for i := range volumes {
		volumes[i] = rms(pcm.Samples, pcm.Channels, i*chunk, (i+1)*chunk)
		maxVolume = math.Max(maxVolume, volumes[i])
	}
	if maxVolume == 0 {
		return volumes
	}
	for i := range volumes {
		volumes[i] /= maxVolume
	}
	return volumes
}

func rms(samples []int16, channels int, startFrame int, endFrame int) float64 {
	sum := 0.0
	count := 0
	for frame := startFrame; frame < endFrame; frame++ {
		for ch := 0; ch < channels; ch++ {
			idx := frame*channels + ch
			if idx >= len(samples) {
				break
			}
			value := float64(samples[idx])
			sum += value * value
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(count))
}
