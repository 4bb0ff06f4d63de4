package frame

import (
	"math"
	"testing"
	"time"

	"github.com/saker-ai/avatar-stream/internal/emotion"
	"github.com/saker-ai/avatar-stream/internal/protocol"
)

func collect(g *Generator, start uint64, res emotion.Result, curve []float64, idle IdleGenerators) []protocol.Frame {
	var frames []protocol.Frame
	for f := range g.Generate(start, res, curve, idle) {
		frames = append(frames, f)
	}
	return frames
}

func TestGenerateTaggedSilentSpeech(t *testing.T) {
	res := emotion.Classify("[excited] マジでびっくりしたっす！")
	if res.Label != emotion.Excited || res.Intensity != 1.0 || res.Source != emotion.SourceTag {
		t.Fatalf("classify=%+v, want excited/1.0/tag", res)
	}

	g := NewGenerator(DefaultConfig())
	idle := IdleGenerators{
		Blink:  NewBlink(BlinkConfig{Interval: 3 * time.Second, Jitter: time.Second, Duration: 150 * time.Millisecond, Seed: 7}),
		Breath: NewBreath(4 * time.Second),
	}
	frames := collect(g, 0, res, make([]float64, 100), idle)
	if len(frames) != 60 {
		t.Fatalf("len(frames)=%d, want 60", len(frames))
	}
	for i, f := range frames {
		if f.Expression != "excited" {
			t.Fatalf("frames[%d].Expression=%q, want excited", i, f.Expression)
		}
		if got := f.Parameters[ParamMouthOpenY]; got != 0 {
			t.Fatalf("frames[%d] mouth=%v, want 0", i, got)
		}
	}
}

func TestGenerateTimestampsStrictlyIncrease(t *testing.T) {
	for _, fps := range []int{24, 30, 60, 144} {
		cfg := DefaultConfig()
		cfg.FPS = fps
		g := NewGenerator(cfg)
		frames := collect(g, 5000, emotion.Result{Label: emotion.Happy, Intensity: 0.5}, make([]float64, 150), IdleGenerators{})
		if len(frames) != 3*fps {
			t.Fatalf("fps=%d len(frames)=%d, want %d", fps, len(frames), 3*fps)
		}
		if frames[0].TimestampMS != 5000 {
			t.Fatalf("fps=%d first timestamp=%d, want 5000", fps, frames[0].TimestampMS)
		}
		for i := 1; i < len(frames); i++ {
			if frames[i].TimestampMS <= frames[i-1].TimestampMS {
				t.Fatalf("fps=%d frames[%d]=%d not after %d", fps, i, frames[i].TimestampMS, frames[i-1].TimestampMS)
			}
		}
	}
}

func TestGenerateEmptyCurveSingleFrame(t *testing.T) {
	g := NewGenerator(DefaultConfig())
	res := emotion.Result{Label: emotion.Surprised, Intensity: 1}
	frames := collect(g, 10, res, nil, IdleGenerators{})
	if len(frames) != 1 {
		t.Fatalf("len(frames)=%d, want 1", len(frames))
	}
	if got := frames[0].Parameters[ParamMouthOpenY]; math.Abs(got-0.4) > 1e-9 {
		t.Fatalf("mouth=%v, want 0.4 from expression", got)
	}
}

func TestComposeVisemeOverridesMouth(t *testing.T) {
	g := NewGenerator(DefaultConfig())
	res := emotion.Result{Label: emotion.Surprised, Intensity: 1}
	frames := collect(g, 0, res, []float64{0.2, 0.2, 0.2}, IdleGenerators{})
	for i, f := range frames {
		if got := f.Parameters[ParamMouthOpenY]; got != 0.2 {
			t.Fatalf("frames[%d] mouth=%v, want 0.2", i, got)
		}
	}
}

func TestComposeScalesAndClamps(t *testing.T) {
	g := NewGenerator(DefaultConfig())
	half := g.Compose(0, emotion.Result{Label: emotion.Happy, Intensity: 0.5}, nil, IdleGenerators{})
	if got := half[ParamMouthForm]; math.Abs(got-0.25) > 1e-9 {
		t.Fatalf("mouth form=%v, want 0.25", got)
	}

	gain := 3.0
	cfg, _ := DefaultConfig().Apply(ConfigPatch{MouthGain: &gain})
	loud := NewGenerator(cfg)
	v := 0.9
	params := loud.Compose(0, emotion.Result{Label: emotion.Neutral}, &v, IdleGenerators{})
	if got := params[ParamMouthOpenY]; got != 1 {
		t.Fatalf("mouth=%v, want clamped 1", got)
	}
	if got := params[ParamEyeLOpen]; got != 1 {
		t.Fatalf("eye=%v, want 1", got)
	}
}

func TestComposeUnknownLabelIsNeutral(t *testing.T) {
	g := NewGenerator(DefaultConfig())
	f := g.Single(1, emotion.Result{}, IdleGenerators{})
	if f.Expression != "neutral" {
		t.Fatalf("expression=%q, want neutral", f.Expression)
	}
	want := DefaultPose()
	for name, v := range want {
		if f.Parameters[name] != v {
			t.Fatalf("%s=%v, want %v", name, f.Parameters[name], v)
		}
	}
}

func TestConfigPatchMergesFields(t *testing.T) {
	fps := 60
	base := DefaultConfig()
	patched, skipped := base.Apply(ConfigPatch{
		FPS: &fps,
		Expressions: map[string]map[string]float64{
			"happy":   {ParamMouthForm: 0.9},
			"unknown": {ParamMouthForm: 1},
		},
	})
	if patched.FPS != 60 {
		t.Fatalf("FPS=%d, want 60", patched.FPS)
	}
	if patched.IntervalMS != base.IntervalMS || patched.MouthGain != base.MouthGain {
		t.Fatalf("unpatched fields changed: %+v", patched)
	}
	if got := patched.Expressions[emotion.Happy][ParamMouthForm]; got != 0.9 {
		t.Fatalf("happy form=%v, want 0.9", got)
	}
	if got := patched.Expressions[emotion.Happy][ParamEyeLOpen]; got != -0.1 {
		t.Fatalf("happy eye=%v, want -0.1 kept", got)
	}
	if got := base.Expressions[emotion.Happy][ParamMouthForm]; got != 0.5 {
		t.Fatalf("base table mutated: %v", got)
	}
	if len(skipped) != 1 || skipped[0] != "unknown" {
		t.Fatalf("skipped=%v, want [unknown]", skipped)
	}
}

func TestBlinkClosesAndReopens(t *testing.T) {
	b := NewBlink(BlinkConfig{Interval: time.Second, Duration: 100 * time.Millisecond, Seed: 1})
	if v := b.Value(0); v != 0 {
		t.Fatalf("blink(0)=%v, want 0", v)
	}
	if v := b.Value(1050); math.Abs(v-1) > 1e-9 {
		t.Fatalf("blink(1050)=%v, want 1", v)
	}
	if v := b.Value(1150); v != 0 {
		t.Fatalf("blink(1150)=%v, want 0", v)
	}
	if v := b.Value(2050); math.Abs(v-1) > 1e-9 {
		t.Fatalf("blink(2050)=%v, want 1", v)
	}
}

func TestBlinkJitterStaysInRange(t *testing.T) {
	b := NewBlink(BlinkConfig{Interval: 3 * time.Second, Jitter: 1500 * time.Millisecond, Duration: 150 * time.Millisecond, Seed: 42})
	closed := 0
	for ts := uint64(0); ts < 60000; ts += 10 {
		v := b.Value(ts)
		if v < 0 || v > 1 {
			t.Fatalf("blink(%d)=%v out of range", ts, v)
		}
		if v > 0.9 {
			closed++
		}
	}
	if closed == 0 {
		t.Fatalf("no blink in 60s")
	}
}

func TestBlinkAtWallClockTimestamp(t *testing.T) {
	g := NewGenerator(DefaultConfig())
	idle := IdleGenerators{
		Blink: NewBlink(BlinkConfig{Interval: 3 * time.Second, Jitter: 1500 * time.Millisecond, Duration: 150 * time.Millisecond, Seed: 1}),
	}
	now := uint64(time.Now().UnixMilli())

	began := time.Now()
	f := g.Single(now, emotion.Result{Label: emotion.Happy, Intensity: 1}, idle)
	frames := collect(g, now, emotion.Result{Label: emotion.Neutral}, make([]float64, 500), idle)
	if elapsed := time.Since(began); elapsed > time.Second {
		t.Fatalf("idle frames at unix-ms %d took %v, want under 1s", now, elapsed)
	}
	if got := f.Parameters[ParamEyeLOpen]; got < 0 || got > 1 {
		t.Fatalf("eye open=%v, want within [0, 1]", got)
	}
	closed := 0
	for _, fr := range frames {
		if fr.Parameters[ParamEyeLOpen] < 0.5 {
			closed++
		}
	}
	if closed == 0 {
		t.Fatalf("no blink in %d frames from unix-ms %d", len(frames), now)
	}
}

func TestBlinkIsDeterministicPerSeed(t *testing.T) {
	cfg := BlinkConfig{Interval: 3 * time.Second, Jitter: time.Second, Duration: 150 * time.Millisecond, Seed: 9}
	a, b := NewBlink(cfg), NewBlink(cfg)
	base := uint64(1_700_000_000_000)
	// b walks the same timestamps backwards
	var forward []float64
	for ts := base; ts < base+30000; ts += 10 {
		forward = append(forward, a.Value(ts))
	}
	for i := len(forward) - 1; i >= 0; i-- {
		ts := base + uint64(i)*10
		if got := b.Value(ts); got != forward[i] {
			t.Fatalf("blink(%d)=%v, want %v", ts, got, forward[i])
		}
	}
}

func TestBreathCycle(t *testing.T) {
	b := NewBreath(4 * time.Second)
	cases := []struct {
		ts   uint64
		want float64
	}{
		{0, 0},
		{1000, 0.5},
		{2000, 1},
		{3000, 0.5},
		{4000, 0},
	}
	for _, tc := range cases {
		if got := b.Value(tc.ts); math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("breath(%d)=%v, want %v", tc.ts, got, tc.want)
		}
	}
}
