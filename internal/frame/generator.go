package frame

import (
	"iter"
	"math"

	"github.com/saker-ai/avatar-stream/internal/emotion"
	"github.com/saker-ai/avatar-stream/internal/lipsync"
	"github.com/saker-ai/avatar-stream/internal/protocol"
)

// DefaultFPS is the default output rate.
const DefaultFPS = 30

const maxFPS = 1000

// Config represents a config.
type Config struct {
	FPS         int
	IntervalMS  int
	MouthGain   float64
	Expressions ExpressionTable
}

// DefaultConfig returns the generator defaults.
func DefaultConfig() Config {
	return Config{
		FPS:         DefaultFPS,
		IntervalMS:  lipsync.DefaultIntervalMS,
		MouthGain:   1,
		Expressions: DefaultExpressions(),
	}
}

// ConfigPatch carries optional replacements for Config fields. A nil field
// keeps the current value.
type ConfigPatch struct {
	// FPS replaces the output rate.
	FPS *int `json:"fps,omitempty"`
	// IntervalMS replaces the lip-sync slice width the curve was built with.
	IntervalMS *int `json:"interval_ms,omitempty"`
	// MouthGain replaces the viseme multiplier.
	MouthGain *float64 `json:"mouth_gain,omitempty"`
	// Expressions is merged into the table per label and parameter; it
	// never removes entries.
	Expressions map[string]map[string]float64 `json:"expressions,omitempty"`
}

// Apply returns c with p merged field by field. Unknown expression labels
// are returned alongside.
func (c Config) Apply(p ConfigPatch) (Config, []string) {
	out := c
	if p.FPS != nil {
		out.FPS = *p.FPS
	}
	if p.IntervalMS != nil {
		out.IntervalMS = *p.IntervalMS
	}
	if p.MouthGain != nil {
		out.MouthGain = *p.MouthGain
	}
	var skipped []string
	if out.Expressions == nil {
		out.Expressions = DefaultExpressions()
	}
	if len(p.Expressions) > 0 {
		out.Expressions, skipped = out.Expressions.Patch(p.Expressions)
	}
	return out, skipped
}

func (c Config) normalize() Config {
	if c.FPS <= 0 {
		c.FPS = DefaultFPS
	}
	if c.FPS > maxFPS {
		c.FPS = maxFPS
	}
	if c.IntervalMS <= 0 {
		c.IntervalMS = lipsync.DefaultIntervalMS
	}
	if c.MouthGain <= 0 {
		c.MouthGain = 1
	}
	if c.Expressions == nil {
		c.Expressions = DefaultExpressions()
	}
	return c
}

// Generator turns an emotion and a viseme curve into parameter frames.
type Generator struct {
	cfg Config
}

// NewGenerator executes the newGenerator function.
func NewGenerator(cfg Config) *Generator {
	return &Generator{cfg: cfg.normalize()}
}

// Config returns the effective configuration.
func (g *Generator) Config() Config {
	return g.cfg
}

// FrameCount reports how many frames Generate emits for a curve of n samples.
func (g *Generator) FrameCount(n int) int {
	if n <= 0 {
		return 1
	}
	durationMS := n * g.cfg.IntervalMS
	count := durationMS * g.cfg.FPS / 1000
	return max(count, 1)
}

// FrameOffsetMS returns the offset of frame i from the stream start.
func (g *Generator) FrameOffsetMS(i int) uint64 {
	return uint64(math.Round(float64(i) * 1000 / float64(g.cfg.FPS)))
}

// Generate yields frames for the span of curve starting at startMS. An empty
// curve yields a single frame without viseme. Frames are produced on demand,
// so idle generators advance as the caller iterates.
func (g *Generator) Generate(startMS uint64, res emotion.Result, curve []float64, idle IdleGenerators) iter.Seq[protocol.Frame] {
	count := g.FrameCount(len(curve))
	return func(yield func(protocol.Frame) bool) {
		for i := range count {
			offset := g.FrameOffsetMS(i)
			viseme, ok := g.visemeAt(curve, offset)
			var visemePtr *float64
			if ok {
				visemePtr = &viseme
			}
			f := protocol.Frame{
				TimestampMS: startMS + offset,
				Expression:  string(labelOf(res)),
				Parameters:  g.Compose(startMS+offset, res, visemePtr, idle),
			}
			if !yield(f) {
				return
			}
		}
	}
}

// Single builds one frame for an emotion-only update.
func (g *Generator) Single(atMS uint64, res emotion.Result, idle IdleGenerators) protocol.Frame {
	return protocol.Frame{
		TimestampMS: atMS,
		Expression:  string(labelOf(res)),
		Parameters:  g.Compose(atMS, res, nil, idle),
	}
}

// Compose builds the full parameter set at timestampMS. A nil viseme leaves
// the mouth at its idle plus expression value.
func (g *Generator) Compose(timestampMS uint64, res emotion.Result, viseme *float64, idle IdleGenerators) map[string]float64 {
	params := DefaultPose()

	if idle.Blink != nil {
		open := 1 - idle.Blink.Value(timestampMS)
		params[ParamEyeLOpen] = open
		params[ParamEyeROpen] = open
	}
	if idle.Breath != nil {
		params[ParamBreath] = idle.Breath.Value(timestampMS)
	}

	intensity := min(max(res.Intensity, 0), 1)
	for name, delta := range g.cfg.Expressions[labelOf(res)] {
		params[name] += delta * intensity
	}

	if viseme != nil {
		params[ParamMouthOpenY] = *viseme * g.cfg.MouthGain
	}

	for name, v := range params {
		params[name] = ClampParam(name, v)
	}
	return params
}

func (g *Generator) visemeAt(curve []float64, offsetMS uint64) (float64, bool) {
	if len(curve) == 0 {
		return 0, false
	}
	idx := int(offsetMS / uint64(g.cfg.IntervalMS))
	if idx >= len(curve) {
		idx = len(curve) - 1
	}
	return curve[idx], true
}

func labelOf(res emotion.Result) emotion.Label {
	if res.Label == "" {
		return emotion.Neutral
	}
	return res.Label
}
