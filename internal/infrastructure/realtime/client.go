package realtime

import (
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const DefaultSendBuffer = 64

var (
	ErrClientNotFound = errors.New("realtime client not found")
	ErrChannelFull    = errors.New("realtime send buffer full")
)

// Frame is one server-to-client message.
type Frame struct {
	ID        string          `json:"id,omitempty"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

var frameSeq atomic.Uint64

// NewFrame creates a frame stamped with a process-unique id.
func NewFrame(event string, data json.RawMessage) *Frame {
	return &Frame{
		ID:        strconv.FormatUint(frameSeq.Add(1), 10),
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// Client is a live connection registered with the Hub. Frames are queued on
// Send; the Hub closes Send when the client is unregistered or evicted.
type Client struct {
	ClientID    string
	UserID      *uuid.UUID
	ConnectedAt time.Time
	Send        chan *Frame

	closeOnce sync.Once
}

// NewClient creates a client with a bounded send buffer.
func NewClient(clientID string, userID *uuid.UUID, buffer int) *Client {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Client{
		ClientID:    clientID,
		UserID:      userID,
		ConnectedAt: time.Now().UTC(),
		Send:        make(chan *Frame, buffer),
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.Send) })
}

func trySend(c *Client, f *Frame) bool {
	select {
	case c.Send <- f:
		return true
	default:
		return false
	}
}
