package server

import (
	"time"

	"github.com/gorilla/websocket"

	"transit-fleet/internal/realtime/hub"
)

// wsStream adapts a gorilla connection to the hub.Stream interface. Write
// serialization is the registry's job; this type only applies deadlines.
type wsStream struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

var _ hub.Stream = (*wsStream)(nil)

func (s *wsStream) WriteMessage(payload []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *wsStream) Ping(deadline time.Time) error {
	return s.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

func (s *wsStream) Close() error {
	return s.conn.Close()
}
