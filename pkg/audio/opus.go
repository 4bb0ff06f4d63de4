package audio

import (
	"fmt"
	"sync"

	"github.com/godeps/opus"
)

const opusMaxFrameDurationMs = 120

// OpusOptions tunes encoders handed out by AcquireOpusEncoder. Zero fields
// keep the codec defaults.
type OpusOptions struct {
	Bitrate    int
	Complexity int
}

// SupportedOpusRate reports whether opus can run at sampleRate natively.
func SupportedOpusRate(sampleRate int) bool {
	switch sampleRate {
	case 8000, 12000, 16000, 24000, 48000:
		return true
	}
	return false
}

// OpusEncoder frames PCM16 into fixed-duration opus packets.
type OpusEncoder struct {
	encoder       *opus.Encoder
	sampleRate    int
	channels      int
	frameDuration int
	frameSize     int
	opusBuffer    []byte
	mutex         sync.Mutex
}

type opusEncoderKey struct {
	sampleRate    int
	channels      int
	frameDuration int
}

var opusEncoderPools keyedPools[opusEncoderKey]

// NewOpusEncoder executes the newOpusEncoder function.
func NewOpusEncoder(sampleRate, channels, frameDurationMs int) (*OpusEncoder, error) {
	if !SupportedOpusRate(sampleRate) {
		return nil, fmt.Errorf("create opus encoder: unsupported sample rate %d", sampleRate)
	}
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	return &OpusEncoder{
		encoder:       enc,
		sampleRate:    sampleRate,
		channels:      channels,
		frameDuration: frameDurationMs,
		frameSize:     sampleRate * frameDurationMs / 1000,
		opusBuffer:    make([]byte, 4000),
	}, nil
}

// AcquireOpusEncoder reuses encoders keyed by sampleRate/channels/frameDuration.
func AcquireOpusEncoder(sampleRate, channels, frameDurationMs int, opts OpusOptions) (*OpusEncoder, error) {
	key := opusEncoderKey{sampleRate: sampleRate, channels: channels, frameDuration: frameDurationMs}
	var enc *OpusEncoder
	if v := opusEncoderPools.get(key).Get(); v != nil {
		enc = v.(*OpusEncoder)
	}
	if enc == nil || enc.encoder == nil {
		var err error
		if enc, err = NewOpusEncoder(sampleRate, channels, frameDurationMs); err != nil {
			return nil, err
		}
	}
	if opts.Bitrate > 0 {
		_ = enc.encoder.SetBitrate(opts.Bitrate)
	}
	if opts.Complexity > 0 {
		_ = enc.encoder.SetComplexity(opts.Complexity)
	}
	return enc, nil
}

// ReleaseOpusEncoder returns encoder to pool for reuse.
func ReleaseOpusEncoder(enc *OpusEncoder) {
	if enc == nil {
		return
	}
	enc.mutex.Lock()
	if enc.encoder != nil {
		_ = enc.encoder.Reset()
	}
	enc.mutex.Unlock()
	key := opusEncoderKey{sampleRate: enc.sampleRate, channels: enc.channels, frameDuration: enc.frameDuration}
	opusEncoderPools.get(key).Put(enc)
}

// FrameSize returns samples per channel in one packet.
func (e *OpusEncoder) FrameSize() int {
	return e.frameSize
}

// Encode encodes one frame. Short input is zero padded, long input truncated.
func (e *OpusEncoder) Encode(pcm []int16) ([]byte, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	expected := e.frameSize * e.channels
	if len(pcm) != expected {
		frame := make([]int16, expected)
		copy(frame, pcm)
		pcm = frame
	}

	n, err := e.encoder.Encode(pcm, e.opusBuffer)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]byte, n)
	copy(out, e.opusBuffer[:n])
	return out, nil
}

// EncodeOpusPackets downmixes pcm to mono, resamples to 24 kHz when opus
// cannot run at the source rate, and returns frameMs packets plus the rate
// they were encoded at.
func EncodeOpusPackets(pcm PCM, frameMs int, opts OpusOptions) ([][]byte, int, error) {
	if frameMs <= 0 {
		frameMs = 20
	}
	mono := Downmix(pcm.Samples, pcm.Channels)
	rate := pcm.SampleRate
	if !SupportedOpusRate(rate) {
		resampled, err := Resample(mono, rate, 24000)
		if err != nil {
			return nil, 0, fmt.Errorf("resample for opus: %w", err)
		}
		mono, rate = resampled, 24000
	}

	enc, err := AcquireOpusEncoder(rate, 1, frameMs, opts)
	if err != nil {
		return nil, 0, err
	}
	defer ReleaseOpusEncoder(enc)

	size := enc.FrameSize()
	packets := make([][]byte, 0, len(mono)/size+1)
	for start := 0; start < len(mono); start += size {
		end := min(start+size, len(mono))
		packet, err := enc.Encode(mono[start:end])
		if err != nil {
			return nil, 0, err
		}
		if len(packet) > 0 {
			packets = append(packets, packet)
		}
	}
	return packets, rate, nil
}

// DecodeOpusPackets decodes packets produced by EncodeOpusPackets.
func DecodeOpusPackets(packets [][]byte, sampleRate, channels int) ([]int16, error) {
	if channels <= 0 {
		channels = 1
	}
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}
	scratch := AcquireInt16(sampleRate * opusMaxFrameDurationMs / 1000 * channels)
	defer ReleaseInt16(scratch)

	var out []int16
	for _, packet := range packets {
		n, err := dec.Decode(packet, scratch)
		if err != nil {
			return nil, fmt.Errorf("opus decode: %w", err)
		}
		out = append(out, scratch[:n*channels]...)
	}
	return out, nil
}
