package stream

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeTimeout = 5 * time.Second

type peer struct {
	id     string
	conn   *websocket.Conn
	sendMu sync.Mutex
	logger *zap.Logger
	once   sync.Once
}

func newPeer(id string, conn *websocket.Conn, logger *zap.Logger) *peer {
	return &peer{id: id, conn: conn, logger: logger}
}

func (p *peer) send(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.write(data)
}

// sendReply is send for direct answers, where a failed write only ends up
// in the debug log.
func (p *peer) sendReply(payload any) {
	if err := p.send(payload); err != nil {
		p.logger.Debug("ws send failed", zap.String("peer_id", p.id), zap.Error(err))
	}
}

func (p *peer) write(data []byte) error {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

func (p *peer) close() {
	p.once.Do(func() {
		_ = p.conn.Close()
	})
}
