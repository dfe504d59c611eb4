package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// outboundBuffer bounds the per-connection write queue. A client that stops
// reading loses events rather than stalling the session pipeline.
const outboundBuffer = 32

// wsConn wraps one websocket connection. All writes go through a single
// writer goroutine so session events and handler replies never interleave
// mid-frame.
type wsConn struct {
	ws     *websocket.Conn
	out    chan Envelope
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	// mu guards sessions, the set of session IDs owned by this connection.
	mu       sync.Mutex
	sessions map[string]struct{}

	closeOnce sync.Once
}

func newWSConn(ctx context.Context, ws *websocket.Conn, logger *slog.Logger) *wsConn {
	cctx, cancel := context.WithCancel(ctx)
	return &wsConn{
		ws:       ws,
		out:      make(chan Envelope, outboundBuffer),
		ctx:      cctx,
		cancel:   cancel,
		logger:   logger,
		sessions: make(map[string]struct{}),
	}
}

// writeLoop drains the outbound queue until the connection context ends. It
// is the only goroutine that writes to the websocket.
func (c *wsConn) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case env := <-c.out:
			data, err := json.Marshal(env)
			if err != nil {
				c.logger.Error("marshal outbound envelope", "type", env.Type, "error", err)
				continue
			}
			if err := c.ws.Write(c.ctx, websocket.MessageText, data); err != nil {
				if c.ctx.Err() == nil {
					c.logger.Debug("websocket write failed", "error", err)
				}
				c.cancel()
				return
			}
		}
	}
}

// send queues an envelope for delivery. When the queue is full the envelope
// is dropped; live metrics and feedback are superseded by later events anyway.
func (c *wsConn) send(env Envelope) {
	select {
	case c.out <- env:
	case <-c.ctx.Done():
	default:
		c.logger.Warn("dropping outbound message, client not reading", "type", env.Type)
	}
}

// sendError queues an error envelope.
func (c *wsConn) sendError(sessionID, code, message string) {
	env, err := encodeEnvelope(TypeError, sessionID, ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	c.send(env)
}

func (c *wsConn) own(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[sessionID] = struct{}{}
}

func (c *wsConn) disown(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionID)
}

// owned returns a snapshot of the session IDs this connection owns.
func (c *wsConn) owned() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	return ids
}

// close tears the connection down. Idempotent.
func (c *wsConn) close(status websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.ws.Close(status, reason)
	})
}
