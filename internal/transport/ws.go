package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// WSChannel is the production channel: a websocket connection to the
// host. Reads run on a single goroutine; writes are serialized because
// gorilla connections allow one concurrent writer.
type WSChannel struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	handler Handler

	closed    chan struct{}
	closeOnce sync.Once
}

// Dial connects to the host's widget endpoint and starts the read loop.
func Dial(ctx context.Context, url string) (*WSChannel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial host channel: %w", err)
	}
	c := &WSChannel{
		conn:   conn,
		closed: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *WSChannel) Send(payload any) error {
	select {
	case <-c.closed:
		return ErrChannelClosed
	default:
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *WSChannel) Subscribe(h Handler) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handler != nil {
		return nil, ErrSubscribed
	}
	c.handler = h
	return func() {
		c.mu.Lock()
		c.handler = nil
		c.mu.Unlock()
	}, nil
}

func (c *WSChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
	return nil
}

func (c *WSChannel) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.Close()
			return
		}
		msgType := peekType(data)
		if msgType == "" {
			continue
		}
		c.mu.Lock()
		handler := c.handler
		c.mu.Unlock()
		if handler != nil {
			handler(msgType, json.RawMessage(data))
		}
	}
}
