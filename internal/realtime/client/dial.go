package client

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

const (
	dialTimeout  = 10 * time.Second
	writeTimeout = 5 * time.Second
	closeWindow  = 2 * time.Second
)

// gorillaConn adapts *websocket.Conn to the Conn interface.
type gorillaConn struct {
	conn *websocket.Conn
}

var _ Conn = (*gorillaConn)(nil)

func (g *gorillaConn) ReadMessage() ([]byte, error) {
	for {
		msgType, payload, err := g.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil, ErrNormalClosure
			}
			return nil, err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		return payload, nil
	}
}

func (g *gorillaConn) WriteMessage(payload []byte) error {
	_ = g.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return g.conn.WriteMessage(websocket.TextMessage, payload)
}

func (g *gorillaConn) Close() error {
	return g.conn.Close()
}

func (g *gorillaConn) CloseNormal() error {
	_ = g.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
		time.Now().Add(closeWindow),
	)
	return g.conn.Close()
}

// gorillaDial is the default DialFunc.
func gorillaDial(ctx context.Context, url string) (Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, url, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return nil, err
	}
	return &gorillaConn{conn: conn}, nil
}
