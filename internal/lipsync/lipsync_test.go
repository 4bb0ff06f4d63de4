package lipsync

import (
	"errors"
	"testing"

	"github.com/saker-ai/avatar-stream/pkg/audio"
)

func wavOf(samples []int16, rate int, channels int) []byte {
	return audio.EncodeWAV(audio.PCM{Samples: samples, SampleRate: rate, Channels: channels})
}

func TestAnalyzeSilentBuffer(t *testing.T) {
	a := NewAnalyzer(Config{}, nil)
	curve := a.Analyze(wavOf(make([]int16, 32000), 16000, 1), 20)
	if len(curve) != 100 {
		t.Fatalf("len(curve)=%d, want 100", len(curve))
	}
	for i, v := range curve {
		if v != 0 {
			t.Fatalf("curve[%d]=%v, want 0", i, v)
		}
	}
}

func TestAnalyzeNormalisesToLoudest(t *testing.T) {
	samples := make([]int16, 16000*60/1000)
	for i := 320; i < 640; i++ {
		samples[i] = 1000
	}
	for i := 640; i < 960; i++ {
		samples[i] = 4000
	}
	a := NewAnalyzer(Config{}, nil)
	curve := a.Analyze(wavOf(samples, 16000, 1), 20)
	want := []float64{0, 0.25, 1}
	if len(curve) != len(want) {
		t.Fatalf("len(curve)=%d, want %d", len(curve), len(want))
	}
	for i := range want {
		if curve[i] != want[i] {
			t.Fatalf("curve[%d]=%v, want %v", i, curve[i], want[i])
		}
	}
}

func TestAnalyzeShorterThanInterval(t *testing.T) {
	a := NewAnalyzer(Config{}, nil)
	curve := a.Analyze(wavOf(make([]int16, 100), 16000, 1), 20)
	if len(curve) != 0 {
		t.Fatalf("len(curve)=%d, want 0", len(curve))
	}
}

func TestAnalyzeDecodeFailure(t *testing.T) {
	a := NewAnalyzer(Config{}, nil)
	broken := wavOf([]int16{1, 2}, 16000, 1)
	broken[34] = 24
	curve := a.Analyze(broken, 20)
	if curve == nil || len(curve) != 0 {
		t.Fatalf("curve=%v, want empty non-nil", curve)
	}
}

func TestCompressedAudioYieldsEmptyCurve(t *testing.T) {
	a := NewAnalyzer(Config{}, nil)
	padding := make([]byte, 4096)
	for i := range padding {
		padding[i] = byte(i * 37)
	}
	cases := []struct {
		name   string
		header []byte
	}{
		{"id3", []byte("ID3\x04\x00\x00")},
		{"mp3 frame", []byte{0xFF, 0xFB, 0x90, 0x64}},
		{"adts", []byte{0xFF, 0xF1, 0x50, 0x80}},
		{"ogg", []byte("OggS\x00\x02")},
		{"flac", []byte("fLaC\x00\x00")},
	}
	for _, tc := range cases {
		data := append(append([]byte{}, tc.header...), padding...)
		if _, err := a.DecodeSource(data); !errors.Is(err, ErrCompressedAudio) {
			t.Fatalf("%s: DecodeSource error=%v, want ErrCompressedAudio", tc.name, err)
		}
		if curve := a.Analyze(data, 20); curve == nil || len(curve) != 0 {
			t.Fatalf("%s: curve=%v, want empty", tc.name, curve)
		}
	}

	// silence leading raw pcm is still raw pcm
	raw := audio.Int16ToBytes(make([]int16, 2400))
	if pcm, err := a.DecodeSource(raw); err != nil || len(pcm.Samples) != 2400 {
		t.Fatalf("raw DecodeSource=%d samples/%v, want 2400/nil", len(pcm.Samples), err)
	}
}

func TestAnalyzeRawPCMStereo(t *testing.T) {
	frames := 24000 / 10
	samples := make([]int16, frames*2)
	for i := range samples {
		samples[i] = 2000
	}
	a := NewAnalyzer(Config{RawSampleRate: 24000, RawChannels: 2}, nil)
	curve := a.Analyze(audio.Int16ToBytes(samples), 20)
	if len(curve) != 5 {
		t.Fatalf("len(curve)=%d, want 5", len(curve))
	}
	for i, v := range curve {
		if v != 1 {
			t.Fatalf("curve[%d]=%v, want 1", i, v)
		}
	}
}

func TestAnalyzeResamplesToAnalysisRate(t *testing.T) {
	a := NewAnalyzer(Config{AnalysisRate: 16000}, nil)
	pcm, err := a.Decode(wavOf(make([]int16, 48000), 48000, 1))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if pcm.SampleRate != 16000 {
		t.Fatalf("sample rate=%d, want 16000", pcm.SampleRate)
	}
}
