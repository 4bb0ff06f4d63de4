package audio

import (
	"encoding/binary"
	"errors"
)

// PCM is decoded interleaved 16-bit audio.
type PCM struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Frames returns the number of sample frames.
func (p PCM) Frames() int {
	if p.Channels <= 0 {
		return 0
	}
	return len(p.Samples) / p.Channels
}

// DurationMS returns the audio length in milliseconds.
func (p PCM) DurationMS() int {
	if p.SampleRate <= 0 {
		return 0
	}
	return p.Frames() * 1000 / p.SampleRate
}

// WAV decode errors.
var (
	ErrNotWAV         = errors.New("invalid wav header")
	ErrNoWAVData      = errors.New("wav data chunk not found")
	ErrUnsupportedWAV = errors.New("unsupported wav encoding")
)

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// DecodeWAV parses a PCM16 RIFF/WAVE buffer. A truncated data chunk is
// clamped to the bytes available.
func DecodeWAV(data []byte) (PCM, error) {
	if !IsWAV(data) {
		return PCM{}, ErrNotWAV
	}

	sampleRate := 16000
	channels := 1
	bitsPerSample := 16
	format := 1

	offset := 12
	dataOffset := -1
	dataSize := 0
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		offset += 8
		if chunkSize < 0 || offset+chunkSize > len(data) {
			chunkSize = len(data) - offset
		}

		switch chunkID {
		case "fmt ":
			if chunkSize >= 16 {
				format = int(binary.LittleEndian.Uint16(data[offset : offset+2]))
				channels = int(binary.LittleEndian.Uint16(data[offset+2 : offset+4]))
				sampleRate = int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
				bitsPerSample = int(binary.LittleEndian.Uint16(data[offset+14 : offset+16]))
			}
		case "data":
			dataOffset = offset
			dataSize = chunkSize
		}

		offset += chunkSize
		if chunkSize%2 == 1 {
			offset++
		}
	}

	if dataOffset < 0 {
		return PCM{}, ErrNoWAVData
	}
	// 0xFFFE is WAVE_FORMAT_EXTENSIBLE; accepted when the sample width is 16.
	if (format != 1 && format != 0xFFFE) || bitsPerSample != 16 || channels <= 0 || sampleRate <= 0 {
		return PCM{}, ErrUnsupportedWAV
	}
	return PCM{
		Samples:    BytesToInt16(data[dataOffset : dataOffset+dataSize]),
		SampleRate: sampleRate,
		Channels:   channels,
	}, nil
}

// EncodeWAV writes pcm as a canonical 44-byte-header PCM16 WAV file.
func EncodeWAV(pcm PCM) []byte {
	channels := pcm.Channels
	if channels <= 0 {
		channels = 1
	}
	dataSize := len(pcm.Samples) * 2
	out := make([]byte, 44+dataSize)
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+dataSize))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1)
	binary.LittleEndian.PutUint16(out[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(pcm.SampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(pcm.SampleRate*channels*2))
	binary.LittleEndian.PutUint16(out[32:34], uint16(channels*2))
	binary.LittleEndian.PutUint16(out[34:36], 16)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(dataSize))
	copy(out[44:], Int16ToBytes(pcm.Samples))
	return out
}
