package mcp

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = 50 * time.Second
	wsMaxMessageSize = 4 * 1024 * 1024
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// WSTransport frames messages over a WebSocket connection, one JSON
// envelope per text frame. A single read loop feeds the receive queue,
// so a cancelled Receive never races a later one for the socket.
type WSTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	queue  chan *Message
	errCh  chan error
	closed chan struct{}
	once   sync.Once
}

// NewWSTransport wraps an established WebSocket connection and starts
// its read and keepalive loops.
func NewWSTransport(conn *websocket.Conn) *WSTransport {
	t := &WSTransport{
		conn:   conn,
		queue:  make(chan *Message, 32),
		errCh:  make(chan error, 1),
		closed: make(chan struct{}),
	}

	conn.SetReadLimit(wsMaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	go t.readLoop()
	go t.pingLoop()
	return t
}

// DialWS connects to a WebSocket endpoint and returns its transport.
func DialWS(ctx context.Context, url string) (*WSTransport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, &CommunicationError{Err: err}
	}
	return NewWSTransport(conn), nil
}

// UpgradeWS upgrades an HTTP request to a WebSocket transport.
func UpgradeWS(w http.ResponseWriter, r *http.Request) (*WSTransport, error) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, &CommunicationError{Err: err}
	}
	return NewWSTransport(conn), nil
}

func (t *WSTransport) readLoop() {
	defer close(t.queue)
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case t.errCh <- err:
			default:
			}
			return
		}
		msg, err := DecodeMessage(data)
		if err != nil {
			select {
			case t.queue <- &Message{JSONRPC: "2.0", Error: &Error{Code: ParseError, Message: err.Error()}}:
			case <-t.closed:
				return
			}
			continue
		}
		select {
		case t.queue <- msg:
		case <-t.closed:
			return
		}
	}
}

func (t *WSTransport) pingLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.writeMu.Lock()
			t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			err := t.conn.WriteMessage(websocket.PingMessage, nil)
			t.writeMu.Unlock()
			if err != nil {
				log.Debug().Err(err).Msg("WebSocket ping failed")
				return
			}
		case <-t.closed:
			return
		}
	}
}

func (t *WSTransport) Send(_ context.Context, msg *Message) error {
	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}

	data, err := EncodeMessage(msg)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &CommunicationError{Method: msg.Method, RequestID: msg.ID, Err: err}
	}
	return nil
}

func (t *WSTransport) Receive(ctx context.Context) (*Message, error) {
	select {
	case msg, ok := <-t.queue:
		if !ok {
			select {
			case err := <-t.errCh:
				return nil, &CommunicationError{Err: err}
			default:
				return nil, ErrTransportClosed
			}
		}
		return msg, nil
	case <-t.closed:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *WSTransport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.closed)
		t.writeMu.Lock()
		t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(wsWriteWait))
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	return err
}
