// Package stream is the producer side of the avatar parameter stream. A Hub
// owns the connected websocket peers, the current avatar state and at most
// one speech stream, and broadcasts every state change to all peers.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/saker-ai/avatar-stream/internal/emotion"
	"github.com/saker-ai/avatar-stream/internal/frame"
	"github.com/saker-ai/avatar-stream/internal/lipsync"
	"github.com/saker-ai/avatar-stream/internal/metrics"
	"github.com/saker-ai/avatar-stream/internal/protocol"
	"github.com/saker-ai/avatar-stream/internal/tts"
	"github.com/saker-ai/avatar-stream/pkg/audio"
)

// Audio payload formats attached to a speaking started message.
const (
	AudioFormatPCM16 = "pcm16"
	AudioFormatOpus  = "opus"
	AudioFormatNone  = "none"
)

const defaultClassifyTimeout = 5 * time.Second

// ErrUnknownExpression is returned by SetExpression for labels outside the
// expression table.
var ErrUnknownExpression = errors.New("unknown expression")

// Options represents a options.
type Options struct {
	Classifier *emotion.Classifier
	Analyzer   *lipsync.Analyzer
	Generator  *frame.Generator
	Idle       frame.IdleGenerators
	// Synthesizer is used when a speak request has no audio path. Nil
	// disables text-only speech.
	Synthesizer tts.Synthesizer
	// ResolveAudio maps a client supplied audio path to a file on disk.
	ResolveAudio    func(name string) (string, error)
	PlaybackSpeed   float64
	AudioFormat     string
	Opus            audio.OpusOptions
	ClassifyTimeout time.Duration
	Model           string
}

// Hub represents a hub.
type Hub struct {
	logger   *zap.Logger
	opts     Options
	upgrader websocket.Upgrader
	epoch    time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	peers map[string]*peer

	genMu sync.RWMutex
	gen   *frame.Generator

	stateMu sync.Mutex
	state   avatarState

	// frameMu orders frame stamping and sending; lastTS is read without it.
	frameMu sync.Mutex
	lastTS  atomic.Uint64

	streamMu sync.Mutex
	current  *activeStream
}

// NewHub executes the newHub function.
func NewHub(logger *zap.Logger, opts Options) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Classifier == nil {
		opts.Classifier = emotion.NewClassifier(nil, 0, logger)
	}
	if opts.Analyzer == nil {
		opts.Analyzer = lipsync.NewAnalyzer(lipsync.Config{}, logger)
	}
	if opts.Generator == nil {
		opts.Generator = frame.NewGenerator(frame.DefaultConfig())
	}
	if opts.PlaybackSpeed <= 0 {
		opts.PlaybackSpeed = 1
	}
	if opts.AudioFormat == "" {
		opts.AudioFormat = AudioFormatPCM16
	}
	if opts.ClassifyTimeout <= 0 {
		opts.ClassifyTimeout = defaultClassifyTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		logger: logger,
		opts:   opts,
		epoch:  time.Now(),
		ctx:    ctx,
		cancel: cancel,
		peers:  make(map[string]*peer),
		gen:    opts.Generator,
		state:  newAvatarState(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Handle upgrades one websocket consumer and serves it until it disconnects.
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()

	p := newPeer(uuid.NewString(), conn, h.logger)
	h.logger.Info("ws peer connected",
		zap.String("peer_id", p.id),
		zap.String("remote_addr", r.RemoteAddr),
	)
	h.registerPeer(p)
	defer h.unregisterPeer(p.id)

	if err := p.send(protocol.NewParameters(h.Parameters())); err != nil {
		h.logger.Debug("ws initial parameters failed", zap.String("peer_id", p.id), zap.Error(err))
		return
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			h.logger.Debug("ws connection closed", zap.String("peer_id", p.id), zap.Error(err))
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		h.handleMessage(ctx, p, data)
	}
	h.logger.Info("ws peer disconnected", zap.String("peer_id", p.id))
}

// Peers returns the number of connected consumers.
func (h *Hub) Peers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Close stops the current stream and disconnects every peer.
func (h *Hub) Close() {
	h.Stop()
	h.cancel()
	h.mu.Lock()
	peers := make([]*peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()
	for _, p := range peers {
		p.close()
	}
}

func (h *Hub) registerPeer(p *peer) {
	h.mu.Lock()
	h.peers[p.id] = p
	h.mu.Unlock()
	metrics.ConnectedPeers.Inc()
}

func (h *Hub) unregisterPeer(id string) {
	h.mu.Lock()
	_, ok := h.peers[id]
	delete(h.peers, id)
	h.mu.Unlock()
	if ok {
		metrics.ConnectedPeers.Dec()
	}
}

// broadcast encodes payload once and writes it to every peer. Peers whose
// write fails are dropped.
func (h *Hub) broadcast(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("ws broadcast encode failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	peers := make([]*peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	for _, p := range peers {
		if err := p.write(data); err != nil {
			h.logger.Debug("ws send failed, dropping peer", zap.String("peer_id", p.id), zap.Error(err))
			h.unregisterPeer(p.id)
			p.close()
		}
	}
}

// emitFrame stamps f onto the hub clock and broadcasts it. Timestamps are
// strictly increasing across every frame the hub sends.
func (h *Hub) emitFrame(f protocol.Frame) {
	h.frameMu.Lock()
	defer h.frameMu.Unlock()
	if last := h.lastTS.Load(); f.TimestampMS <= last {
		f.TimestampMS = last + 1
	}
	h.lastTS.Store(f.TimestampMS)

	h.stateMu.Lock()
	maps.Copy(h.state.parameters, f.Parameters)
	if f.Expression != "" {
		h.state.expression = f.Expression
	}
	h.stateMu.Unlock()

	h.broadcast(protocol.NewFrame(f))
	metrics.FramesSent.Inc()
}

// nextTimestamp returns a timestamp no earlier than the hub clock and later
// than the last emitted frame. The hub clock is Unix milliseconds at
// startup advanced by the monotonic clock.
func (h *Hub) nextTimestamp() uint64 {
	now := uint64(h.epoch.UnixMilli() + time.Since(h.epoch).Milliseconds())
	return max(now, h.lastTS.Load()+1)
}
