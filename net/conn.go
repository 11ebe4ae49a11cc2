package net

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/HaseebHub0/Decentralised-End-to-End-Encrypted-Collaboration-Platform/common"
)

const (
	// writeWait bounds a single frame write to the peer.
	writeWait = 10 * time.Second
)

var (
	// ErrConnClosed is returned by Send after the connection entered teardown.
	ErrConnClosed = errors.New("connection closed")
	// ErrSendBufferFull is returned when the peer cannot drain its outbound
	// queue; the connection is torn down as congested.
	ErrSendBufferFull = errors.New("send buffer full")
)

// Conn owns exactly one remote peer. All writes go through a single writer
// goroutine so frames from one sender arrive in send order.
type Conn struct {
	id  string
	ws  *websocket.Conn
	log *zap.Logger

	outbound chan []byte
	done     chan struct{}
	once     sync.Once

	alive atomic.Bool

	mu       sync.RWMutex
	identity string
}

func newConn(ws *websocket.Conn, bufSize int, log *zap.Logger) *Conn {
	c := &Conn{
		id:       uuid.NewString(),
		ws:       ws,
		outbound: make(chan []byte, bufSize),
		done:     make(chan struct{}),
	}
	c.log = log.With(zap.String("conn", c.id), zap.String("remote", ws.RemoteAddr().String()))
	c.alive.Store(true)
	c.ws.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})
	go c.writeLoop()
	return c
}

// ID returns the connection's log identifier.
func (c *Conn) ID() string { return c.id }

// Identity returns the registered name, or "" while unbound.
func (c *Conn) Identity() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

func (c *Conn) bindIdentity(name string) {
	c.mu.Lock()
	c.identity = name
	c.mu.Unlock()
}

// Ready reports whether the connection is still open for sends.
func (c *Conn) Ready() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Send serializes the frame and enqueues it without blocking. A peer that
// cannot drain its queue is torn down rather than stalling the sender.
func (c *Conn) Send(f common.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrConnClosed
	case c.outbound <- data:
		return nil
	default:
		c.log.Warn("peer congested, closing", zap.String("identity", c.Identity()))
		c.Close()
		return ErrSendBufferFull
	}
}

// ping sends a transport-level ping. Control frames may be written
// concurrently with the writer goroutine.
func (c *Conn) ping() {
	if !c.Ready() {
		return
	}
	_ = c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close terminates the socket and unblocks the read and write loops.
// Safe to call from any goroutine, any number of times.
func (c *Conn) Close() error {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.ws.Close()
	})
	return nil
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.outbound:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debug("write failed", zap.Error(err))
				c.Close()
				return
			}
		}
	}
}
