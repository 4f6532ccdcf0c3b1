// Package hub tracks, per terminal session id, the set of attached
// websocket observers and fans process output out to all of them.
package hub

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

const maxInboundFrame = 32768

// Conn is one attached observer: a duplex text channel belonging to at
// most one room at a time. It is an interface so the room logic can be
// exercised without a live websocket.
type Conn interface {
	ID() string
	// Send delivers one server frame. A failed Send marks the
	// connection dead; the room prunes it on the next broadcast.
	Send(ctx context.Context, payload string) error
	// Receive returns the next inbound frame as text. Binary frames are
	// decoded as UTF-8 with invalid sequences replaced.
	Receive(ctx context.Context) (string, error)
	Close(reason string)
}

type wsConn struct {
	id string
	ws *websocket.Conn
}

// NewConn wraps an accepted websocket connection.
func NewConn(ws *websocket.Conn) Conn {
	ws.SetReadLimit(maxInboundFrame)
	return &wsConn{id: uuid.NewString(), ws: ws}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(ctx context.Context, payload string) error {
	return c.ws.Write(ctx, websocket.MessageText, []byte(payload))
}

func (c *wsConn) Receive(ctx context.Context) (string, error) {
	typ, data, err := c.ws.Read(ctx)
	if err != nil {
		return "", err
	}
	if typ == websocket.MessageBinary {
		return strings.ToValidUTF8(string(data), "�"), nil
	}
	return string(data), nil
}

func (c *wsConn) Close(reason string) {
	_ = c.ws.Close(websocket.StatusNormalClosure, reason)
}
