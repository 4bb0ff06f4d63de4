package audio

import (
	"encoding/binary"
	"math"
)

func float32ToInt16(sample float32) int16 {
	if sample > 1.0 {
		return math.MaxInt16
	}
	if sample < -1.0 {
		return math.MinInt16
	}
	return int16(sample * math.MaxInt16)
}

// Float32SliceToInt16SliceInto fills dst with float32 converted to int16 and returns the slice.
func Float32SliceToInt16SliceInto(dst []int16, samples []float32) []int16 {
	dst = grow(dst, len(samples))
	for i, sample := range samples {
		dst[i] = float32ToInt16(sample)
	}
	return dst
}

// Int16SliceToFloat32Into fills dst with int16 converted to float32 and returns the slice.
func Int16SliceToFloat32Into(dst []float32, samples []int16) []float32 {
	dst = grow(dst, len(samples))
	for i, sample := range samples {
		dst[i] = float32(sample) / float32(math.MaxInt16)
	}
	return dst
}

// BytesToInt16 decodes little-endian PCM16. A trailing odd byte is dropped.
func BytesToInt16(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// Int16ToBytes encodes samples as little-endian PCM16.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(sample))
	}
	return out
}

// Downmix averages interleaved channels into mono. Mono input is returned
// unchanged.
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]int16, frames)
	for f := 0; f < frames; f++ {
		sum := 0
		for ch := 0; ch < channels; ch++ {
			sum += int(samples[f*channels+ch])
		}
		out[f] = int16(sum / channels)
	}
	return out
}

func grow[T any](dst []T, n int) []T {
	if cap(dst) < n {
		return make([]T, n)
	}
	return dst[:n]
}
