package net

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/HaseebHub0/Decentralised-End-to-End-Encrypted-Collaboration-Platform/common"
)

// Client is one relay session from the client side. Writes are serialized
// with a lock; reads happen from a single goroutine via Next.
type Client struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// Dial connects to a relay at host:port and returns the session.
func Dial(addr string) (*Client, error) {
	url := fmt.Sprintf("ws://%s/ws", addr)
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Client{ws: ws}, nil
}

// Register declares the identity this session answers to.
func (c *Client) Register(username string) error {
	return c.send(common.Frame{Type: common.TypeRegister, Username: username})
}

// SendChat forwards encrypted content to another identity via the relay.
func (c *Client) SendChat(to string, content common.EncryptedContent) error {
	raw, err := json.Marshal(content)
	if err != nil {
		return err
	}
	return c.send(common.Frame{Type: common.TypeChat, To: to, EncryptedContent: raw})
}

// SendPublicKey starts or answers a key exchange with another identity.
func (c *Client) SendPublicKey(to, publicKey string) error {
	raw, err := json.Marshal(publicKey)
	if err != nil {
		return err
	}
	return c.send(common.Frame{Type: common.TypeKeyExchange, To: to, PublicKey: raw})
}

// Next blocks until the relay delivers the next frame.
func (c *Client) Next() (common.Frame, error) {
	var f common.Frame
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return f, err
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}

// Close terminates the session.
func (c *Client) Close() error {
	return c.ws.Close()
}

func (c *Client) send(f common.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}
