package stream

import (
	"maps"

	"github.com/saker-ai/avatar-stream/internal/emotion"
	"github.com/saker-ai/avatar-stream/internal/frame"
	"github.com/saker-ai/avatar-stream/internal/protocol"
)

// Status modes.
const (
	ModeIdle     = "idle"
	ModeSpeaking = "speaking"
)

type avatarState struct {
	parameters map[string]float64
	expression string
	subtitle   string
	streaming  bool
}

func newAvatarState() avatarState {
	return avatarState{
		parameters: frame.DefaultPose(),
		expression: string(emotion.Neutral),
	}
}

// Parameters returns a copy of the last value sent for every parameter.
func (h *Hub) Parameters() map[string]float64 {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return maps.Clone(h.state.parameters)
}

// Status returns the full-state snapshot answered to get_status.
func (h *Hub) Status() protocol.StatusMessage {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	mode := ModeIdle
	if h.state.streaming {
		mode = ModeSpeaking
	}
	msg := protocol.StatusMessage{
		Type:       protocol.TypeStatus,
		Mode:       mode,
		Expression: h.state.expression,
		Parameters: maps.Clone(h.state.parameters),
		Streaming:  h.state.streaming,
		Subtitle: &protocol.Subtitle{
			Text:    h.state.subtitle,
			Visible: h.state.streaming && h.state.subtitle != "",
		},
	}
	if h.opts.Model != "" {
		msg.Scene = &protocol.Scene{Model: h.opts.Model}
	}
	return msg
}

func (h *Hub) setStreaming(streaming bool, subtitle string) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	h.state.streaming = streaming
	if streaming {
		h.state.subtitle = subtitle
	}
}

func (h *Hub) setParameter(name string, value float64) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	h.state.parameters[name] = value
}
