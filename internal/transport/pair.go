package transport

import (
	"encoding/json"
	"sync"
)

// LocalChannel is an in-process channel endpoint. Pair wires two of
// them back to back so tests can stand in for the host without a
// network.
type LocalChannel struct {
	peer *LocalChannel

	mu      sync.Mutex
	handler Handler

	inbox     chan json.RawMessage
	closed    chan struct{}
	closeOnce sync.Once
}

// Pair returns two connected endpoints: what one sends, the other
// receives. Delivery is asynchronous, matching the production channel.
func Pair() (*LocalChannel, *LocalChannel) {
	a := newLocalChannel()
	b := newLocalChannel()
	a.peer, b.peer = b, a
	go a.pump()
	go b.pump()
	return a, b
}

func newLocalChannel() *LocalChannel {
	return &LocalChannel{
		inbox:  make(chan json.RawMessage, 64),
		closed: make(chan struct{}),
	}
}

func (c *LocalChannel) Send(payload any) error {
	select {
	case <-c.closed:
		return ErrChannelClosed
	default:
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	select {
	case c.peer.inbox <- json.RawMessage(data):
	case <-c.peer.closed:
	}
	return nil
}

func (c *LocalChannel) Subscribe(h Handler) (func(), error) {
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

func (c *LocalChannel) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *LocalChannel) pump() {
	for {
		select {
		case <-c.closed:
			return
		case data := <-c.inbox:
			msgType := peekType(data)
			if msgType == "" {
				continue
			}
			c.mu.Lock()
			handler := c.handler
			c.mu.Unlock()
			if handler != nil {
				handler(msgType, data)
			}
		}
	}
}
