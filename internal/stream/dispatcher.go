package stream

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/saker-ai/avatar-stream/internal/metrics"
	"github.com/saker-ai/avatar-stream/internal/protocol"
)

type actionHandler func(context.Context, *peer, protocol.Action)

func (h *Hub) handleMessage(ctx context.Context, p *peer, data []byte) {
	action, err := protocol.DecodeAction(data)
	switch {
	case err == nil:
	case errors.Is(err, protocol.ErrUnknownAction):
		metrics.ActionsReceived.WithLabelValues("unknown", "ignored").Inc()
		h.logger.Debug("ws unknown action",
			zap.String("peer_id", p.id),
			zap.String("action", action.Action),
		)
		return
	case errors.Is(err, protocol.ErrInvalidAction):
		metrics.ActionsReceived.WithLabelValues(action.Action, "invalid").Inc()
		p.sendReply(protocol.NewError(err.Error()))
		return
	default:
		metrics.ActionsReceived.WithLabelValues("unknown", "invalid").Inc()
		p.sendReply(protocol.NewError("invalid json"))
		return
	}

	h.logger.Debug("ws incoming action",
		zap.String("peer_id", p.id),
		zap.String("action", action.Action),
	)
	h.dispatchAction(ctx, p, action)
}

func (h *Hub) dispatchAction(ctx context.Context, p *peer, action protocol.Action) {
	handlers := map[string]actionHandler{
		protocol.ActionSetExpression: h.onSetExpression,
		protocol.ActionSetParam:      h.onSetParam,
		protocol.ActionPlayMotion:    h.onPlayMotion,
		protocol.ActionAnalyzeText:   h.onAnalyzeText,
		protocol.ActionSpeak:         h.onSpeak,
		protocol.ActionStop:          h.onStop,
		protocol.ActionGetStatus:     h.onGetStatus,
	}

	if handler, ok := handlers[action.Action]; ok {
		metrics.ActionsReceived.WithLabelValues(action.Action, "ok").Inc()
		handler(ctx, p, action)
		return
	}
	h.logger.Debug("ws unknown action",
		zap.String("peer_id", p.id),
		zap.String("action", action.Action),
	)
}

func (h *Hub) onSetExpression(_ context.Context, p *peer, action protocol.Action) {
	if _, err := h.SetExpression(action.Expression); err != nil {
		p.sendReply(protocol.NewError(err.Error()))
	}
}

func (h *Hub) onSetParam(_ context.Context, _ *peer, action protocol.Action) {
	h.SetParam(action.Name, *action.Value)
}

func (h *Hub) onPlayMotion(_ context.Context, _ *peer, action protocol.Action) {
	h.PlayMotion(action.Motion)
}

func (h *Hub) onAnalyzeText(ctx context.Context, _ *peer, action protocol.Action) {
	h.AnalyzeText(ctx, action.Text)
}

// onSpeak prepares in the background so the peer keeps reading while audio
// loads; a later stop must be able to reach the hub.
func (h *Hub) onSpeak(ctx context.Context, p *peer, action protocol.Action) {
	go func() {
		_, err := h.Speak(ctx, SpeakRequest{Text: action.Text, AudioPath: action.AudioPath})
		if err != nil && !errors.Is(err, context.Canceled) {
			p.sendReply(protocol.NewError(err.Error()))
		}
	}()
}

func (h *Hub) onStop(_ context.Context, _ *peer, _ protocol.Action) {
	h.Stop()
}

func (h *Hub) onGetStatus(_ context.Context, p *peer, _ protocol.Action) {
	p.sendReply(h.Status())
}
