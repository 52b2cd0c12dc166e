package websocket

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/stemsi/exstem-attempt/internal/response"
)

const (
	writeWait = 10 * time.Second
	// readWait outlives the client's ping interval; an idle screen still
	// reports visibility changes and pings.
	readWait = 5 * time.Minute
	// MaxMessageSize bounds a single client action.
	MaxMessageSize = 32 * 1024
)

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// NewError builds an ErrorResponse with the message for code.
func NewError(code response.ErrCode, fields map[string]string) ErrorResponse {
	return ErrorResponse{
		Event:  EventError,
		Code:   code,
		Error:  response.GetMessage(code),
		Fields: fields,
	}
}

// WriteError sends a typed ErrorResponse over the WebSocket. Only use it
// before the connection's writer goroutine has started.
func WriteError(conn *websocket.Conn, code response.ErrCode) error {
	return WriteTyped(conn, NewError(code, nil))
}

// ReadMessage reads one raw text message. It sets a read deadline.
func ReadMessage(conn *websocket.Conn) ([]byte, error) {
	conn.SetReadDeadline(time.Now().Add(readWait))
	_, data, err := conn.ReadMessage()
	return data, err
}
