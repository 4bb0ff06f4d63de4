// Package protocol defines the JSON messages exchanged between the frame
// producer and stream consumers. Every websocket text message carries one
// object discriminated by "type" (producer to consumer) or "action"
// (consumer to producer).
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Producer message types.
const (
	TypeParameters = "parameters"
	TypeFrame      = "frame"
	TypeEmotion    = "emotion"
	TypeMotion     = "motion"
	TypeSpeaking   = "speaking"
	TypeStatus     = "status"
	TypeError      = "error"
)

// Speaking statuses.
const (
	SpeakingStarted  = "started"
	SpeakingFinished = "finished"
	SpeakingStopped  = "stopped"
)

// ErrUnknownType is returned for messages whose type is not recognised.
// Consumers log and drop them.
var ErrUnknownType = errors.New("unknown message type")

// Message is implemented by every producer message.
type Message interface {
	MessageType() string
}

// Frame is one timestamped set of parameter updates. Parameters not present
// are left unchanged by the consumer.
type Frame struct {
	TimestampMS uint64             `json:"timestamp_ms"`
	Expression  string             `json:"expression,omitempty"`
	Parameters  map[string]float64 `json:"parameters"`
	Motion      string             `json:"motion,omitempty"`
}

// ParametersMessage represents a parametersMessage.
type ParametersMessage struct {
	Type string             `json:"type"`
	Data map[string]float64 `json:"data"`
}

// FrameMessage represents a frameMessage.
type FrameMessage struct {
	Type string `json:"type"`
	Frame
}

// EmotionMessage represents a emotionMessage.
type EmotionMessage struct {
	Type       string   `json:"type"`
	Expression string   `json:"expression"`
	Text       string   `json:"text,omitempty"`
	Intensity  *float64 `json:"intensity,omitempty"`
	Source     string   `json:"source,omitempty"`
}

// MotionMessage represents a motionMessage.
type MotionMessage struct {
	Type   string `json:"type"`
	Motion string `json:"motion"`
}

// SpeakingMessage announces the start and end of a speech stream. The
// started message carries the whole lip-sync curve so consumers can index it
// by their audio clock.
type SpeakingMessage struct {
	Type            string    `json:"type"`
	Status          string    `json:"status"`
	FrameCount      int       `json:"frame_count,omitempty"`
	Expression      string    `json:"expression,omitempty"`
	DurationMS      int       `json:"duration_ms,omitempty"`
	Volumes         []float64 `json:"volumes,omitempty"`
	SliceLengthMS   int       `json:"slice_length_ms,omitempty"`
	AudioFormat     string    `json:"audio_format,omitempty"`
	AudioSampleRate int       `json:"audio_sample_rate,omitempty"`
	AudioChannels   int       `json:"audio_channels,omitempty"`
	Audio           string    `json:"audio,omitempty"`
	AudioPackets    []string  `json:"audio_packets,omitempty"`
}

// Subtitle represents a subtitle.
type Subtitle struct {
	Text    string `json:"text"`
	Visible bool   `json:"visible"`
}

// Scene represents a scene.
type Scene struct {
	Model      string `json:"model,omitempty"`
	Background string `json:"background,omitempty"`
}

// StatusMessage is the full-state snapshot answered to get_status.
type StatusMessage struct {
	Type       string             `json:"type"`
	Mode       string             `json:"mode,omitempty"`
	Subtitle   *Subtitle          `json:"subtitle,omitempty"`
	Scene      *Scene             `json:"scene,omitempty"`
	Expression string             `json:"expression,omitempty"`
	Parameters map[string]float64 `json:"parameters,omitempty"`
	Streaming  bool               `json:"streaming"`
}

// ErrorMessage represents a errorMessage.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (ParametersMessage) MessageType() string { return TypeParameters }
func (FrameMessage) MessageType() string      { return TypeFrame }
func (EmotionMessage) MessageType() string    { return TypeEmotion }
func (MotionMessage) MessageType() string     { return TypeMotion }
func (SpeakingMessage) MessageType() string   { return TypeSpeaking }
func (StatusMessage) MessageType() string     { return TypeStatus }
func (ErrorMessage) MessageType() string      { return TypeError }

// NewParameters executes the newParameters function.
func NewParameters(data map[string]float64) ParametersMessage {
	return ParametersMessage{Type: TypeParameters, Data: data}
}

// NewFrame executes the newFrame function.
func NewFrame(f Frame) FrameMessage {
	return FrameMessage{Type: TypeFrame, Frame: f}
}

// NewEmotion executes the newEmotion function.
func NewEmotion(expression string, text string, intensity float64, source string) EmotionMessage {
	return EmotionMessage{
		Type:       TypeEmotion,
		Expression: expression,
		Text:       text,
		Intensity:  &intensity,
		Source:     source,
	}
}

// NewMotion executes the newMotion function.
func NewMotion(motion string) MotionMessage {
	return MotionMessage{Type: TypeMotion, Motion: motion}
}

// NewError executes the newError function.
func NewError(message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: message}
}

var decoders = map[string]func([]byte) (Message, error){
	TypeParameters: decodeAs[ParametersMessage],
	TypeFrame:      decodeAs[FrameMessage],
	TypeEmotion:    decodeAs[EmotionMessage],
	TypeMotion:     decodeAs[MotionMessage],
	TypeSpeaking:   decodeAs[SpeakingMessage],
	TypeStatus:     decodeAs[StatusMessage],
	TypeError:      decodeAs[ErrorMessage],
}

func decodeAs[T Message](data []byte) (Message, error) {
	var msg T
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// DecodeMessage parses one producer message. Unknown types return an error
// wrapping ErrUnknownType.
func DecodeMessage(data []byte) (Message, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	decode, ok := decoders[envelope.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, envelope.Type)
	}
	msg, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", envelope.Type, err)
	}
	return msg, nil
}
