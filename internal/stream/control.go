package stream

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/saker-ai/avatar-stream/internal/emotion"
	"github.com/saker-ai/avatar-stream/internal/frame"
	"github.com/saker-ai/avatar-stream/internal/metrics"
	"github.com/saker-ai/avatar-stream/internal/protocol"
)

// SetExpression switches the avatar to a named expression at full
// intensity.
func (h *Hub) SetExpression(name string) (emotion.Result, error) {
	label, ok := emotion.ParseLabel(name)
	if !ok {
		return emotion.Result{}, fmt.Errorf("%w: %s", ErrUnknownExpression, name)
	}
	res := emotion.Result{Label: label, Intensity: 1, Source: emotion.SourceTag}
	h.broadcastEmotion(res, "")
	h.emitFrame(h.generator().Single(h.nextTimestamp(), res, h.opts.Idle))
	return res, nil
}

// SetParam sets one parameter, clamped to its range, and broadcasts it.
func (h *Hub) SetParam(name string, value float64) float64 {
	value = frame.ClampParam(name, value)
	h.setParameter(name, value)
	h.broadcast(protocol.NewParameters(map[string]float64{name: value}))
	return value
}

// PlayMotion asks every consumer to play a named motion.
func (h *Hub) PlayMotion(name string) {
	h.broadcast(protocol.NewMotion(name))
}

// AnalyzeText classifies text and broadcasts the resulting emotion and one
// composed frame.
func (h *Hub) AnalyzeText(ctx context.Context, text string) (final emotion.Result, rule emotion.Result) {
	final, rule = h.classify(ctx, text)
	h.broadcastEmotion(final, text)
	h.emitFrame(h.generator().Single(h.nextTimestamp(), final, h.opts.Idle))
	return final, rule
}

// Preview classifies text and composes the matching pose without sending
// anything to peers.
func (h *Hub) Preview(ctx context.Context, text string) (final emotion.Result, rule emotion.Result, params map[string]float64) {
	final, rule = h.classify(ctx, text)
	params = h.generator().Compose(h.nextTimestamp(), final, nil, frame.IdleGenerators{})
	return final, rule, params
}

// Configure merges patch onto the frame generator settings. Labels in the
// patch that are not known are returned and left out.
func (h *Hub) Configure(patch frame.ConfigPatch) (frame.Config, []string) {
	h.genMu.Lock()
	defer h.genMu.Unlock()
	cfg, skipped := h.gen.Config().Apply(patch)
	h.gen = frame.NewGenerator(cfg)
	if len(skipped) > 0 {
		h.logger.Warn("expression overrides skipped", zap.Strings("labels", skipped))
	}
	return h.gen.Config(), skipped
}

func (h *Hub) generator() *frame.Generator {
	h.genMu.RLock()
	defer h.genMu.RUnlock()
	return h.gen
}

func (h *Hub) classify(ctx context.Context, text string) (final emotion.Result, rule emotion.Result) {
	ctx, cancel := context.WithTimeout(ctx, h.opts.ClassifyTimeout)
	defer cancel()
	final, rule = h.opts.Classifier.Classify(ctx, text)
	metrics.EmotionClassifications.WithLabelValues(string(final.Label), string(final.Source)).Inc()
	return final, rule
}

func (h *Hub) broadcastEmotion(res emotion.Result, text string) {
	h.broadcast(protocol.NewEmotion(string(res.Label), strings.TrimSpace(text), res.Intensity, string(res.Source)))
}
