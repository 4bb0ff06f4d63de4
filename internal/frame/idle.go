package frame

import (
	"math"
	"math/rand/v2"
	"time"
)

// IdleGenerators produce the baseline motion added to every frame. A nil
// field disables that generator.
type IdleGenerators struct {
	Blink  *Blink
	Breath *Breath
}

// BlinkConfig represents a blinkConfig.
type BlinkConfig struct {
	Interval time.Duration
	Jitter   time.Duration
	Duration time.Duration
	// Seed makes the interval jitter reproducible. Zero seeds from the clock.
	Seed uint64
}

// Blink is a periodic eye closure with a randomised interval. Cycle k starts
// a blink near k*Interval, shifted by a jitter drawn from the seed and k, so
// the value at any timestamp is computed directly and calls may arrive in any
// order. No blink happens in cycle 0.
type Blink struct {
	interval float64
	jitter   float64
	duration float64
	seed     uint64
}

// NewBlink executes the newBlink function.
func NewBlink(cfg BlinkConfig) *Blink {
	if cfg.Duration <= 0 {
		cfg.Duration = 150 * time.Millisecond
	}
	if cfg.Interval <= 2*cfg.Duration {
		cfg.Interval = 2 * cfg.Duration
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	interval := float64(cfg.Interval.Milliseconds())
	duration := float64(cfg.Duration.Milliseconds())
	// a blink never leaves its own cycle
	jitter := math.Min(float64(cfg.Jitter.Milliseconds()), (interval-duration)/2)
	return &Blink{
		interval: interval,
		jitter:   jitter,
		duration: duration,
		seed:     seed,
	}
}

// blinkStart returns the start of the blink in cycle k.
func (b *Blink) blinkStart(k uint64) float64 {
	start := float64(k) * b.interval
	if b.jitter > 0 {
		pcg := rand.NewPCG(b.seed, k^0x9e3779b97f4a7c15)
		u := float64(pcg.Uint64()>>11) / (1 << 53)
		start += (u*2 - 1) * b.jitter
	}
	return start
}

// Value returns eye closure at timestampMS, 0 open and 1 closed.
func (b *Blink) Value(timestampMS uint64) float64 {
	if b == nil {
		return 0
	}
	t := float64(timestampMS)
	k := uint64(t / b.interval)
	// jitter can pull the next cycle's blink before its boundary
	for _, cycle := range []uint64{k, k + 1} {
		if cycle == 0 {
			continue
		}
		start := b.blinkStart(cycle)
		if t >= start && t < start+b.duration {
			return math.Sin((t - start) / b.duration * math.Pi)
		}
	}
	return 0
}

// Breath is a slow sinusoid in [0, 1].
type Breath struct {
	cycle float64
}

// NewBreath executes the newBreath function.
func NewBreath(cycle time.Duration) *Breath {
	if cycle <= 0 {
		cycle = 4 * time.Second
	}
	return &Breath{cycle: float64(cycle.Milliseconds())}
}

// Value executes the value method.
func (b *Breath) Value(timestampMS uint64) float64 {
	if b == nil {
		return 0
	}
	progress := math.Mod(float64(timestampMS), b.cycle) / b.cycle
	return (math.Sin(progress*2*math.Pi-math.Pi/2) + 1) / 2
}
