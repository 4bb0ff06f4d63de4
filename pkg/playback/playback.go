// Package playback converges renderer parameters toward the targets carried
// by inbound frames, one render tick at a time.
package playback

import (
	"errors"
	"maps"
	"math"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saker-ai/avatar-stream/internal/protocol"
)

const (
	DefaultSmoothing      = 0.3
	DefaultReferenceFrame = 16670 * time.Microsecond
	DefaultEpsilon        = 0.001
	DefaultMouthParameter = "ParamMouthOpenY"
)

// ErrUnknownParameter is returned by renderers for names missing from the rig.
var ErrUnknownParameter = errors.New("unknown parameter")

// Renderer is the character surface driven by the interpolator.
type Renderer interface {
	SetParameter(name string, value float64) error
	// PlayMotion starts a motion and calls done when it finishes. An error
	// means done will not be called by the renderer.
	PlayMotion(name string, done func()) error
	DefaultPose() map[string]float64
}

// Config represents a config.
type Config struct {
	Smoothing      float64
	ReferenceFrame time.Duration
	Epsilon        float64
	MouthParameter string
}

func (c Config) normalize() Config {
	if c.Smoothing <= 0 || c.Smoothing > 1 {
		c.Smoothing = DefaultSmoothing
	}
	if c.ReferenceFrame <= 0 {
		c.ReferenceFrame = DefaultReferenceFrame
	}
	if c.Epsilon <= 0 {
		c.Epsilon = DefaultEpsilon
	}
	if c.MouthParameter == "" {
		c.MouthParameter = DefaultMouthParameter
	}
	return c
}

// Target is the interpolation state of one parameter.
type Target struct {
	Current float64
	Target  float64
}

type lipSyncTrack struct {
	volumes []float64
	slice   time.Duration
	clock   func() time.Duration
}

// Interpolator holds one target per parameter. Targets are never deleted;
// a parameter first seen in a frame converges from zero.
type Interpolator struct {
	mu       sync.Mutex
	renderer Renderer
	cfg      Config
	logger   *zap.Logger

	targets    map[string]*Target
	unknown    map[string]struct{}
	expression string

	lastFrameTS uint64
	haveFrame   bool

	lipSync *lipSyncTrack
}

// New seeds every target from the renderer's default pose.
func New(renderer Renderer, cfg Config, logger *zap.Logger) *Interpolator {
	if logger == nil {
		logger = zap.NewNop()
	}
	ip := &Interpolator{
		renderer: renderer,
		cfg:      cfg.normalize(),
		logger:   logger,
		targets:  make(map[string]*Target),
		unknown:  make(map[string]struct{}),
	}
	for name, v := range renderer.DefaultPose() {
		ip.targets[name] = &Target{Current: v, Target: v}
	}
	return ip
}

// SetTarget executes the setTarget method.
func (ip *Interpolator) SetTarget(name string, value float64) {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	ip.setTargetLocked(name, value)
}

func (ip *Interpolator) setTargetLocked(name string, value float64) {
	if t, ok := ip.targets[name]; ok {
		t.Target = value
		return
	}
	ip.targets[name] = &Target{Target: value}
}

// ApplyParameters updates only the named targets.
func (ip *Interpolator) ApplyParameters(params map[string]float64) {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	for name, v := range params {
		ip.setTargetLocked(name, v)
	}
}

// ApplyFrame applies f unless its timestamp is not newer than the last
// applied frame of this session. It reports whether f was applied.
func (ip *Interpolator) ApplyFrame(f protocol.Frame) bool {
	ip.mu.Lock()
	if ip.haveFrame && f.TimestampMS <= ip.lastFrameTS {
		ip.mu.Unlock()
		ip.logger.Debug("stale frame dropped",
			zap.Uint64("timestamp_ms", f.TimestampMS),
			zap.Uint64("last_timestamp_ms", ip.lastFrameTS),
		)
		return false
	}
	ip.haveFrame = true
	ip.lastFrameTS = f.TimestampMS
	for name, v := range f.Parameters {
		ip.setTargetLocked(name, v)
	}
	if f.Expression != "" {
		ip.expression = f.Expression
	}
	ip.mu.Unlock()

	if f.Motion != "" {
		ip.PlayMotion(f.Motion, nil)
	}
	return true
}

// ApplyStatus applies a full snapshot.
func (ip *Interpolator) ApplyStatus(status protocol.StatusMessage) {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	for name, v := range status.Parameters {
		ip.setTargetLocked(name, v)
	}
	if status.Expression != "" {
		ip.expression = status.Expression
	}
}

// ApplyEmotion records the active expression label.
func (ip *Interpolator) ApplyEmotion(expression string) {
	ip.mu.Lock()
	ip.expression = expression
	ip.mu.Unlock()
}

// ResetOrdering forgets the last frame timestamp. Call it when a new
// session opens.
func (ip *Interpolator) ResetOrdering() {
	ip.mu.Lock()
	ip.haveFrame = false
	ip.lastFrameTS = 0
	ip.mu.Unlock()
}

// StartLipSync drives the mouth target from volumes indexed by clock, the
// playback position of the matching audio.
func (ip *Interpolator) StartLipSync(volumes []float64, slice time.Duration, clock func() time.Duration) {
	if len(volumes) == 0 || slice <= 0 || clock == nil {
		return
	}
	ip.mu.Lock()
	ip.lipSync = &lipSyncTrack{volumes: slices.Clone(volumes), slice: slice, clock: clock}
	ip.mu.Unlock()
}

// StopLipSync closes the mouth and drops the active track.
func (ip *Interpolator) StopLipSync() {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	if ip.lipSync == nil {
		return
	}
	ip.lipSync = nil
	ip.setTargetLocked(ip.cfg.MouthParameter, 0)
}

// PlayMotion dispatches name to the renderer. done is called exactly once,
// including when the renderer cannot resolve the motion.
func (ip *Interpolator) PlayMotion(name string, done func()) {
	var once sync.Once
	finish := func() {
		once.Do(func() {
			if done != nil {
				done()
			}
		})
	}
	if err := ip.renderer.PlayMotion(name, finish); err != nil {
		ip.logger.Debug("motion not played", zap.String("motion", name), zap.Error(err))
		finish()
	}
}

// Tick advances every target by the elapsed render time and writes the
// result to the renderer. It returns the names written.
func (ip *Interpolator) Tick(elapsed time.Duration) []string {
	ip.mu.Lock()
	ip.advanceLipSyncLocked()

	factor := 0.0
	if elapsed > 0 {
		factor = math.Min(1, ip.cfg.Smoothing*float64(elapsed)/float64(ip.cfg.ReferenceFrame))
	}

	writes := make(map[string]float64)
	for name, t := range ip.targets {
		if t.Current == t.Target {
			continue
		}
		next := t.Current + (t.Target-t.Current)*factor
		if math.Abs(t.Target-next) < ip.cfg.Epsilon {
			next = t.Target
		}
		if next != t.Current {
			t.Current = next
			writes[name] = next
		}
	}
	if len(writes) == 0 {
		for name, t := range ip.targets {
			if t.Current != 0 {
				writes[name] = t.Current
			}
		}
	}
	ip.mu.Unlock()

	names := slices.Sorted(maps.Keys(writes))
	written := names[:0]
	for _, name := range names {
		if err := ip.renderer.SetParameter(name, writes[name]); err != nil {
			ip.noteUnknown(name, err)
			continue
		}
		written = append(written, name)
	}
	return written
}

func (ip *Interpolator) advanceLipSyncLocked() {
	track := ip.lipSync
	if track == nil {
		return
	}
	idx := int(track.clock() / track.slice)
	if idx < 0 {
		idx = 0
	}
	if idx >= len(track.volumes) {
		ip.lipSync = nil
		ip.setTargetLocked(ip.cfg.MouthParameter, 0)
		return
	}
	ip.setTargetLocked(ip.cfg.MouthParameter, track.volumes[idx])
}

func (ip *Interpolator) noteUnknown(name string, err error) {
	ip.mu.Lock()
	_, seen := ip.unknown[name]
	ip.unknown[name] = struct{}{}
	ip.mu.Unlock()
	if !seen {
		ip.logger.Debug("parameter skipped", zap.String("parameter", name), zap.Error(err))
	}
}

// Snapshot returns a copy of every target.
func (ip *Interpolator) Snapshot() map[string]Target {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	out := make(map[string]Target, len(ip.targets))
	for name, t := range ip.targets {
		out[name] = *t
	}
	return out
}

// Expression returns the last expression label received.
func (ip *Interpolator) Expression() string {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	return ip.expression
}
