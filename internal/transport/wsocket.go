package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsSocket adapts a gorilla WebSocket connection to the Socket interface.
// Writes go through a single writer goroutine fed by a buffered channel:
// gorilla connections permit only one concurrent writer.
type wsSocket struct {
	conn         *websocket.Conn
	writeCh      chan []byte
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
}

func newWSSocket(conn *websocket.Conn, sendBuffer int, writeTimeout time.Duration) *wsSocket {
	if sendBuffer <= 0 {
		sendBuffer = 100
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &wsSocket{
		conn:         conn,
		writeCh:      make(chan []byte, sendBuffer),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
	go s.writeLoop()
	return s
}

func (s *wsSocket) writeLoop() {
	for {
		select {
		case data := <-s.writeCh:
			if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// Send queues one frame for the writer goroutine. Fails when the queue is
// full for the write timeout or the socket is closed.
func (s *wsSocket) Send(data []byte) error {
	select {
	case <-s.ctx.Done():
		return ErrSocketClosed
	default:
	}

	select {
	case s.writeCh <- data:
		return nil
	case <-time.After(s.writeTimeout):
		return ErrSendTimeout
	case <-s.ctx.Done():
		return ErrSocketClosed
	}
}

// Close sends a close frame carrying the reason, then tears the
// connection down. Idempotent.
func (s *wsSocket) Close(reason string) error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		err = s.conn.Close()
	})
	return err
}

// RemoteAddr returns the peer address.
func (s *wsSocket) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}
