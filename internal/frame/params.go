// Package frame composes parameter frames from an emotion, a lip-sync
// curve and idle motion.
package frame

import "maps"

// Cubism standard parameter names.
const (
	ParamMouthOpenY = "ParamMouthOpenY"
	ParamMouthForm  = "ParamMouthForm"
	ParamEyeLOpen   = "ParamEyeLOpen"
	ParamEyeROpen   = "ParamEyeROpen"
	ParamEyeBallX   = "ParamEyeBallX"
	ParamEyeBallY   = "ParamEyeBallY"
	ParamBrowLY     = "ParamBrowLY"
	ParamBrowRY     = "ParamBrowRY"
	ParamAngleX     = "ParamAngleX"
	ParamAngleY     = "ParamAngleY"
	ParamAngleZ     = "ParamAngleZ"
	ParamBodyAngleX = "ParamBodyAngleX"
	ParamBodyAngleY = "ParamBodyAngleY"
	ParamBodyAngleZ = "ParamBodyAngleZ"
	ParamBreath     = "ParamBreath"
)

// Range is the inclusive value range of one parameter.
type Range struct {
	Min float64
	Max float64
}

// Clamp executes the clamp method.
func (r Range) Clamp(v float64) float64 {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

var ranges = map[string]Range{
	ParamMouthOpenY: {0, 1},
	ParamMouthForm:  {-1, 1},
	ParamEyeLOpen:   {0, 1},
	ParamEyeROpen:   {0, 1},
	ParamEyeBallX:   {-1, 1},
	ParamEyeBallY:   {-1, 1},
	ParamBrowLY:     {-1, 1},
	ParamBrowRY:     {-1, 1},
	ParamAngleX:     {-30, 30},
	ParamAngleY:     {-30, 30},
	ParamAngleZ:     {-30, 30},
	ParamBodyAngleX: {-10, 10},
	ParamBodyAngleY: {-10, 10},
	ParamBodyAngleZ: {-10, 10},
	ParamBreath:     {0, 1},
}

var defaultPose = map[string]float64{
	ParamMouthOpenY: 0,
	ParamMouthForm:  0,
	ParamEyeLOpen:   1,
	ParamEyeROpen:   1,
	ParamEyeBallX:   0,
	ParamEyeBallY:   0,
	ParamBrowLY:     0,
	ParamBrowRY:     0,
	ParamAngleX:     0,
	ParamAngleY:     0,
	ParamAngleZ:     0,
	ParamBodyAngleX: 0,
	ParamBodyAngleY: 0,
	ParamBodyAngleZ: 0,
	ParamBreath:     0,
}

// DefaultPose returns a fresh copy of the neutral rig pose.
func DefaultPose() map[string]float64 {
	return maps.Clone(defaultPose)
}

// RangeOf returns the range of name. Unknown parameters are unbounded.
func RangeOf(name string) (Range, bool) {
	r, ok := ranges[name]
	return r, ok
}

// ClampParam clamps v to the range of name when it has one.
func ClampParam(name string, v float64) float64 {
	if r, ok := ranges[name]; ok {
		return r.Clamp(v)
	}
	return v
}
