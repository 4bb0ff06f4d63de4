package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Consumer action names.
const (
	ActionSetExpression = "set_expression"
	ActionSetParam      = "set_param"
	ActionPlayMotion    = "play_motion"
	ActionAnalyzeText   = "analyze_text"
	ActionSpeak         = "speak"
	ActionStop          = "stop"
	ActionGetStatus     = "get_status"
)

var (
	// ErrUnknownAction is returned for unrecognised action names.
	ErrUnknownAction = errors.New("unknown action")
	// ErrInvalidAction is returned when a required field is missing.
	ErrInvalidAction = errors.New("invalid action")
)

// Action is a fire-and-forget command sent by a consumer. Its effects are
// observed only through later producer messages.
type Action struct {
	Action     string   `json:"action"`
	Expression string   `json:"expression,omitempty"`
	Name       string   `json:"name,omitempty"`
	Value      *float64 `json:"value,omitempty"`
	Motion     string   `json:"motion,omitempty"`
	Text       string   `json:"text,omitempty"`
	AudioPath  string   `json:"audio_path,omitempty"`
}

func SetExpression(expression string) Action {
	return Action{Action: ActionSetExpression, Expression: expression}
}

func SetParam(name string, value float64) Action {
	return Action{Action: ActionSetParam, Name: name, Value: &value}
}

func PlayMotion(motion string) Action {
	return Action{Action: ActionPlayMotion, Motion: motion}
}

func AnalyzeText(text string) Action {
	return Action{Action: ActionAnalyzeText, Text: text}
}

// Speak requests a speech stream. audioPath may be empty when the producer
// has a synthesizer configured.
func Speak(text string, audioPath string) Action {
	return Action{Action: ActionSpeak, Text: text, AudioPath: audioPath}
}

func Stop() Action {
	return Action{Action: ActionStop}
}

func GetStatus() Action {
	return Action{Action: ActionGetStatus}
}

// Validate checks the per-action required fields.
func (a Action) Validate() error {
	switch a.Action {
	case ActionSetExpression:
		if strings.TrimSpace(a.Expression) == "" {
			return fmt.Errorf("%w: %s requires expression", ErrInvalidAction, a.Action)
		}
	case ActionSetParam:
		if strings.TrimSpace(a.Name) == "" || a.Value == nil {
			return fmt.Errorf("%w: %s requires name and value", ErrInvalidAction, a.Action)
		}
	case ActionPlayMotion:
		if strings.TrimSpace(a.Motion) == "" {
			return fmt.Errorf("%w: %s requires motion", ErrInvalidAction, a.Action)
		}
	case ActionAnalyzeText:
		if strings.TrimSpace(a.Text) == "" {
			return fmt.Errorf("%w: %s requires text", ErrInvalidAction, a.Action)
		}
	case ActionSpeak:
		if strings.TrimSpace(a.Text) == "" && strings.TrimSpace(a.AudioPath) == "" {
			return fmt.Errorf("%w: %s requires text or audio_path", ErrInvalidAction, a.Action)
		}
	case ActionStop, ActionGetStatus:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, a.Action)
	}
	return nil
}

// DecodeAction parses and validates one consumer action.
func DecodeAction(data []byte) (Action, error) {
	var action Action
	if err := json.Unmarshal(data, &action); err != nil {
		return Action{}, fmt.Errorf("decode action: %w", err)
	}
	if err := action.Validate(); err != nil {
		return action, err
	}
	return action, nil
}
