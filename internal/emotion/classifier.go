package emotion

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// ModelAnalyzer is a higher-capability classifier, typically a language
// model. Implementations must honour ctx cancellation.
type ModelAnalyzer interface {
	Analyze(ctx context.Context, text string) (Result, error)
}

// Classifier runs the rule engine and falls back to a ModelAnalyzer when the
// rule result is weaker than Threshold.
type Classifier struct {
	model     ModelAnalyzer
	threshold float64
	logger    *zap.Logger
}

// NewClassifier executes the newClassifier function. model may be nil.
func NewClassifier(model ModelAnalyzer, threshold float64, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{model: model, threshold: threshold, logger: logger}
}

// Classify returns the final result and the rule result it was derived
// from. They are equal unless the model replaced the rule result.
func (c *Classifier) Classify(ctx context.Context, text string) (final Result, rule Result) {
	rule = Classify(text)
	if c == nil || c.model == nil {
		return rule, rule
	}
	if rule.Source != SourceRule || rule.Intensity >= c.threshold || strings.TrimSpace(rule.RawText) == "" {
		return rule, rule
	}

	modelResult, err := c.model.Analyze(ctx, rule.RawText)
	if err != nil {
		c.logger.Warn("emotion model analyze failed", zap.Error(err))
		return rule, rule
	}
	label, ok := ParseLabel(string(modelResult.Label))
	if !ok {
		c.logger.Debug("emotion model returned unknown label", zap.String("label", string(modelResult.Label)))
		return rule, rule
	}

	final = Result{
		Label:     label,
		Intensity: clamp01(modelResult.Intensity),
		Source:    SourceModel,
		Secondary: rule.Label,
		RawText:   rule.RawText,
	}
	if final.Secondary == final.Label || final.Secondary == Neutral {
		final.Secondary = ""
	}
	c.logger.Debug("emotion model override",
		zap.String("rule_label", string(rule.Label)),
		zap.Float64("rule_intensity", rule.Intensity),
		zap.String("model_label", string(final.Label)),
		zap.Float64("model_intensity", final.Intensity),
	)
	return final, rule
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
