package frame

import (
	"maps"

	"github.com/saker-ai/avatar-stream/internal/emotion"
)

// Delta is a partial set of parameter offsets added on top of the idle
// baseline.
type Delta map[string]float64

// ExpressionTable maps each emotion label to its delta.
type ExpressionTable map[emotion.Label]Delta

// DefaultExpressions returns the built-in table.
func DefaultExpressions() ExpressionTable {
	return ExpressionTable{
		emotion.Neutral: {},
		emotion.Happy: {
			ParamMouthForm: 0.5,
			ParamEyeLOpen:  -0.1,
			ParamEyeROpen:  -0.1,
		},
		emotion.Sad: {
			ParamMouthForm: -0.3,
			ParamBrowLY:    -0.3,
			ParamBrowRY:    -0.3,
			ParamEyeLOpen:  -0.3,
			ParamEyeROpen:  -0.3,
			ParamAngleY:    -5,
		},
		emotion.Excited: {
			ParamMouthForm:  0.8,
			ParamBrowLY:     0.3,
			ParamBrowRY:     0.3,
			ParamBodyAngleY: 2,
		},
		emotion.Surprised: {
			ParamMouthOpenY: 0.4,
			ParamBrowLY:     0.5,
			ParamBrowRY:     0.5,
		},
		emotion.Angry: {
			ParamMouthForm: -0.5,
			ParamBrowLY:    -0.5,
			ParamBrowRY:    -0.5,
		},
		emotion.Thinking: {
			ParamEyeBallX:  0.3,
			ParamEyeBallY:  0.5,
			ParamBrowLY:    0.2,
			ParamBrowRY:    0.2,
			ParamMouthForm: -0.1,
			ParamAngleZ:    6,
		},
	}
}

// Clone returns a deep copy of t.
func (t ExpressionTable) Clone() ExpressionTable {
	out := make(ExpressionTable, len(t))
	for label, delta := range t {
		out[label] = maps.Clone(delta)
	}
	return out
}

// Patch returns a copy of t with overrides merged parameter by parameter.
// Labels that are not valid emotion labels are skipped and returned.
func (t ExpressionTable) Patch(overrides map[string]map[string]float64) (ExpressionTable, []string) {
	out := t.Clone()
	var skipped []string
	for name, params := range overrides {
		label, ok := emotion.ParseLabel(name)
		if !ok {
			skipped = append(skipped, name)
			continue
		}
		delta := out[label]
		if delta == nil {
			delta = Delta{}
		}
		for param, value := range params {
			delta[param] = value
		}
		out[label] = delta
	}
	return out, skipped
}
