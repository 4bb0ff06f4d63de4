package audio

import (
	"errors"

	resampler "github.com/godeps/go-audio-soxr"
)

type soxrKey struct {
	inRate  int
	outRate int
	quality resampler.QualityPreset
}

var soxrPools keyedPools[soxrKey]

func acquireSoxr(key soxrKey) (*resampler.SimpleResamplerFloat32, error) {
	if v := soxrPools.get(key).Get(); v != nil {
		if r, ok := v.(*resampler.SimpleResamplerFloat32); ok && r != nil {
			return r, nil
		}
	}
	return resampler.NewEngineFloat32(float64(key.inRate), float64(key.outRate), key.quality)
}

func releaseSoxr(key soxrKey, r *resampler.SimpleResamplerFloat32) {
	if r == nil {
		return
	}
	r.Reset()
	soxrPools.get(key).Put(r)
}

// StreamResampler keeps mono resampling state across writes.
type StreamResampler struct {
	key    soxrKey
	r      *resampler.SimpleResamplerFloat32
	outBuf []float32
}

// NewStreamResampler creates a streaming resampler for continuous mono audio.
func NewStreamResampler(inRate, outRate int) (*StreamResampler, error) {
	if inRate <= 0 || outRate <= 0 {
		return nil, errors.New("resampler rates must be positive")
	}
	key := soxrKey{inRate: inRate, outRate: outRate, quality: resampler.QualityHigh}
	r, err := acquireSoxr(key)
	if err != nil {
		return nil, err
	}
	return &StreamResampler{key: key, r: r}, nil
}

// Close returns the underlying engine to its pool.
func (s *StreamResampler) Close() {
	if s == nil || s.r == nil {
		return
	}
	releaseSoxr(s.key, s.r)
	s.r = nil
	s.outBuf = nil
}

// AppendPCM appends PCM16 samples for resampling.
func (s *StreamResampler) AppendPCM(pcm []int16) error {
	if s == nil || s.r == nil {
		return errors.New("soxr resampler is closed")
	}
	if len(pcm) == 0 {
		return nil
	}
	tmp := AcquireFloat32(len(pcm))
	tmp = Int16SliceToFloat32Into(tmp, pcm)
	out, err := s.r.Process(tmp)
	ReleaseFloat32(tmp)
	if err != nil {
		return err
	}
	s.outBuf = append(s.outBuf, out...)
	return nil
}

// Flush drains samples still buffered inside the engine.
func (s *StreamResampler) Flush() error {
	if s == nil || s.r == nil {
		return errors.New("soxr resampler is closed")
	}
	out, err := s.r.Flush()
	if err != nil {
		return err
	}
	s.outBuf = append(s.outBuf, out...)
	return nil
}

// Buffered returns how many output samples are waiting.
func (s *StreamResampler) Buffered() int {
	if s == nil {
		return 0
	}
	return len(s.outBuf)
}

// PopFrame returns a fixed-size PCM16 frame if available. Release it with
// ReleaseInt16.
func (s *StreamResampler) PopFrame(frameSize int) ([]int16, bool) {
	if s == nil || frameSize <= 0 || len(s.outBuf) < frameSize {
		return nil, false
	}
	frame := AcquireInt16(frameSize)
	frame = Float32SliceToInt16SliceInto(frame, s.outBuf[:frameSize])
	s.outBuf = s.outBuf[frameSize:]
	return frame, true
}

// PopRemainderPadded returns the remaining samples zero padded to frameSize.
func (s *StreamResampler) PopRemainderPadded(frameSize int) []int16 {
	if s == nil || frameSize <= 0 || len(s.outBuf) == 0 {
		return nil
	}
	n := min(len(s.outBuf), frameSize)
	frame := AcquireInt16(frameSize)
	Float32SliceToInt16SliceInto(frame[:n], s.outBuf[:n])
	clear(frame[n:])
	s.outBuf = nil
	return frame
}

// Resample converts a whole mono buffer from inRate to outRate.
func Resample(samples []int16, inRate, outRate int) ([]int16, error) {
	if inRate == outRate || len(samples) == 0 {
		return samples, nil
	}
	s, err := NewStreamResampler(inRate, outRate)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	if err := s.AppendPCM(samples); err != nil {
		return nil, err
	}
	if err := s.Flush(); err != nil {
		return nil, err
	}
	return Float32SliceToInt16SliceInto(nil, s.outBuf), nil
}
