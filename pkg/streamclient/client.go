// Package streamclient is the consumer side of the avatar parameter stream:
// a websocket client that keeps one live connection to the producer,
// reconnecting on a fixed delay until its attempt budget is spent.
package streamclient

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/saker-ai/avatar-stream/internal/metrics"
	"github.com/saker-ai/avatar-stream/internal/protocol"
	"github.com/saker-ai/avatar-stream/internal/session/fsm"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
)

var (
	ErrNotConnected   = errors.New("stream connection not ready")
	ErrAlreadyStarted = errors.New("stream client already started")
)

// Config represents a config.
type Config struct {
	URL                  string
	Header               http.Header
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	HandshakeTimeout     time.Duration
}

// Callbacks represents a callbacks. Every callback runs on a client
// goroutine and must not block.
type Callbacks struct {
	OnState      func(state fsm.State)
	OnParameters func(params map[string]float64)
	OnFrame      func(frame protocol.Frame)
	OnEmotion    func(msg protocol.EmotionMessage)
	OnMotion     func(msg protocol.MotionMessage)
	OnSpeaking   func(msg protocol.SpeakingMessage)
	OnStatus     func(msg protocol.StatusMessage)
	OnError      func(message string)
	OnTerminal   func(err error)
}

// Client represents a client.
type Client struct {
	cfg       Config
	logger    *zap.Logger
	callbacks Callbacks
	machine   *fsm.Machine

	events chan fsm.Event
	done   chan struct{}

	mu         sync.Mutex
	started    bool
	cancel     context.CancelFunc
	conn       *websocket.Conn
	wantGen    uint64
	dialCancel context.CancelFunc
	retry      *time.Timer

	writeMu sync.Mutex
}

// NewClient executes the newClient function.
func NewClient(cfg Config, callbacks Callbacks, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	return &Client{
		cfg:       cfg,
		logger:    logger,
		callbacks: callbacks,
		machine: fsm.New(fsm.Config{
			ReconnectDelay:       cfg.ReconnectDelay,
			MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		}),
		events: make(chan fsm.Event, 16),
		done:   make(chan struct{}),
	}
}

// Connect starts the control loop. It returns immediately; progress is
// reported through Callbacks.OnState.
func (c *Client) Connect(ctx context.Context) error {
	if c.cfg.URL == "" {
		return errors.New("stream url is empty")
	}
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(ctx)
	return nil
}

// Reconnect drops any live connection and dials again with a fresh
// attempt budget.
func (c *Client) Reconnect() {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return
	}
	c.post(fsm.ManualReconnect{})
}

// Close stops the control loop and waits for it to exit.
func (c *Client) Close() {
	c.mu.Lock()
	cancel := c.cancel
	started := c.started
	c.mu.Unlock()
	if !started {
		return
	}
	cancel()
	<-c.done
}

// State returns the current session state.
func (c *Client) State() fsm.State {
	return c.machine.State()
}

// Send writes one action to the producer.
func (c *Client) Send(ctx context.Context, action protocol.Action) error {
	if err := action.Validate(); err != nil {
		return err
	}
	return c.sendJSON(ctx, action)
}

func (c *Client) sendJSON(ctx context.Context, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(deadline)
	return conn.WriteJSON(payload)
}

func (c *Client) post(ev fsm.Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	last := c.machine.State()
	c.notifyState(last)
	c.apply(ctx, c.machine.Start())
	last = c.reportIfChanged(last)

	for {
		select {
		case <-ctx.Done():
			c.apply(ctx, c.machine.Handle(fsm.Shutdown{}, time.Now()))
			c.reportIfChanged(last)
			return
		case ev := <-c.events:
			c.apply(ctx, c.machine.Handle(ev, time.Now()))
			last = c.reportIfChanged(last)
		}
	}
}

func (c *Client) reportIfChanged(last fsm.State) fsm.State {
	current := c.machine.State()
	if current.Phase != last.Phase || current.Attempt != last.Attempt {
		c.notifyState(current)
	}
	return current
}

func (c *Client) notifyState(state fsm.State) {
	c.logger.Debug("stream state",
		zap.String("phase", string(state.Phase)),
		zap.Int("attempt", state.Attempt),
	)
	if c.callbacks.OnState != nil {
		c.callbacks.OnState(state)
	}
}

func (c *Client) apply(ctx context.Context, effects []fsm.Effect) {
	for _, effect := range effects {
		switch e := effect.(type) {
		case fsm.Dial:
			c.startDial(ctx, e.Gen)
		case fsm.ScheduleRetry:
			c.scheduleRetry(e.Gen, e.Delay)
		case fsm.CancelRetry:
			c.cancelRetry()
		case fsm.CloseConn:
			c.closeConn()
		case fsm.RequestStatus:
			if err := c.sendJSON(ctx, protocol.GetStatus()); err != nil {
				c.logger.Warn("stream status request failed", zap.Error(err))
			}
		case fsm.Terminal:
			c.logger.Warn("stream closed", zap.String("url", c.cfg.URL), zap.Error(e.Err))
			if c.callbacks.OnTerminal != nil {
				c.callbacks.OnTerminal(e.Err)
			}
		}
	}
}

func (c *Client) startDial(ctx context.Context, gen uint64) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	c.mu.Lock()
	if c.dialCancel != nil {
		c.dialCancel()
	}
	c.wantGen = gen
	c.dialCancel = cancel
	c.mu.Unlock()

	c.logger.Info("stream connecting", zap.String("url", c.cfg.URL), zap.Uint64("gen", gen))
	go c.dial(dialCtx, cancel, gen)
}

func (c *Client) dial(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if err != nil {
		c.logger.Warn("stream connect failed", zap.String("url", c.cfg.URL), zap.Error(err))
		c.post(fsm.ConnectionClosed{Gen: gen, Err: err})
		return
	}
	conn.SetPingHandler(func(appData string) error {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(defaultWriteTimeout))
	})

	c.mu.Lock()
	if c.wantGen != gen {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	c.mu.Unlock()

	c.logger.Info("stream connected", zap.String("url", c.cfg.URL), zap.Uint64("gen", gen))
	c.post(fsm.ConnectionOpened{Gen: gen})
	go c.readLoop(conn, gen)
}

func (c *Client) scheduleRetry(gen uint64, delay time.Duration) {
	metrics.ConsumerReconnects.Inc()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retry != nil {
		c.retry.Stop()
	}
	c.retry = time.AfterFunc(delay, func() {
		c.post(fsm.RetryElapsed{Gen: gen})
	})
}

func (c *Client) cancelRetry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	c.wantGen = 0
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				_ = c.conn.Close()
				c.conn = nil
			}
			c.mu.Unlock()
			c.logger.Info("stream connection lost", zap.Uint64("gen", gen), zap.Error(err))
			c.post(fsm.ConnectionClosed{Gen: gen, Err: err})
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		c.handleTextMessage(data)
	}
}

func (c *Client) handleTextMessage(data []byte) {
	msg, err := protocol.DecodeMessage(data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			c.logger.Debug("stream message ignored", zap.Error(err))
		} else {
			c.logger.Warn("stream message dropped", zap.Error(err), zap.Int("bytes", len(data)))
		}
		return
	}

	switch m := msg.(type) {
	case protocol.ParametersMessage:
		if c.callbacks.OnParameters != nil {
			c.callbacks.OnParameters(m.Data)
		}
	case protocol.FrameMessage:
		if c.callbacks.OnFrame != nil {
			c.callbacks.OnFrame(m.Frame)
		}
	case protocol.EmotionMessage:
		if c.callbacks.OnEmotion != nil {
			c.callbacks.OnEmotion(m)
		}
	case protocol.MotionMessage:
		if c.callbacks.OnMotion != nil {
			c.callbacks.OnMotion(m)
		}
	case protocol.SpeakingMessage:
		if c.callbacks.OnSpeaking != nil {
			c.callbacks.OnSpeaking(m)
		}
	case protocol.StatusMessage:
		if c.callbacks.OnStatus != nil {
			c.callbacks.OnStatus(m)
		}
	case protocol.ErrorMessage:
		c.logger.Warn("stream producer error", zap.String("message", m.Message))
		if c.callbacks.OnError != nil {
			c.callbacks.OnError(m.Message)
		}
	}
}
