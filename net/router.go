package net

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/HaseebHub0/Decentralised-End-to-End-Encrypted-Collaboration-Platform/common"
	"github.com/HaseebHub0/Decentralised-End-to-End-Encrypted-Collaboration-Platform/core"
)

// route dispatches one inbound frame. Malformed frames are logged and
// dropped; the connection stays open.
func (s *Server) route(c *Conn, data []byte) {
	var f common.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		s.log.Warn("malformed frame", zap.String("conn", c.ID()), zap.Error(err))
		return
	}
	switch f.Type {
	case common.TypeRegister:
		s.handleRegister(c, f)
	case common.TypeChat:
		s.handleChat(c, f)
	case common.TypeKeyExchange:
		s.handleKeyExchange(c, f)
	default:
		s.log.Debug("ignoring frame", zap.String("conn", c.ID()), zap.String("type", f.Type))
	}
}

// handleRegister binds the declared name to this connection. Registration is
// last-writer-wins: an existing occupant of the name is evicted, which lets
// a client reconnect before its dead socket times out.
func (s *Server) handleRegister(c *Conn, f common.Frame) {
	if f.Username == "" {
		s.log.Warn("register without username", zap.String("conn", c.ID()))
		return
	}
	if old := c.Identity(); old != "" && old != f.Username {
		// Rebinding under a new name releases the old entry so the
		// directory never holds two names for one connection.
		s.dir.UnbindIf(old, c)
	}
	prev, had := s.dir.Bind(f.Username, c)
	c.bindIdentity(f.Username)
	// Close the loser only after the new binding is installed: its
	// disconnect path then finds a different occupant and leaves the
	// directory alone. Re-registering the same name on the same connection
	// is a no-op here.
	if had && prev != core.Peer(c) {
		s.log.Info("evicting previous occupant",
			zap.String("identity", f.Username), zap.String("conn", c.ID()))
		prev.Close()
	}
	s.log.Info("registered", zap.String("conn", c.ID()), zap.String("identity", f.Username))
	s.broadcastPresence()
}

func (s *Server) handleChat(c *Conn, f common.Frame) {
	if f.To == "" || len(f.EncryptedContent) == 0 {
		s.log.Warn("invalid chat frame", zap.String("conn", c.ID()))
		return
	}
	out := common.Frame{
		Type:             common.TypeChat,
		From:             c.Identity(),
		EncryptedContent: f.EncryptedContent,
	}
	s.forward(c, f.To, out, common.ErrRecipientOffline)
}

func (s *Server) handleKeyExchange(c *Conn, f common.Frame) {
	if f.To == "" || len(f.PublicKey) == 0 {
		s.log.Warn("invalid keyexchange frame", zap.String("conn", c.ID()))
		return
	}
	out := common.Frame{
		Type:      common.TypeKeyExchange,
		From:      c.Identity(),
		PublicKey: f.PublicKey,
	}
	s.forward(c, f.To, out, common.ErrKeyExchangeOffline)
}

// forward delivers one frame to the recipient or reports its absence to the
// sender. A write failure on the recipient tears that connection down and is
// not reported back: the sender learns of the loss from the next presence
// update.
func (s *Server) forward(sender *Conn, to string, out common.Frame, offlineMsg string) {
	recipient, ok := s.dir.Lookup(to)
	if !ok || !recipient.Ready() {
		s.log.Info("recipient unavailable",
			zap.String("from", sender.Identity()), zap.String("to", to))
		_ = sender.Send(common.Frame{Type: common.TypeError, Error: offlineMsg})
		return
	}
	if err := recipient.Send(out); err != nil {
		s.log.Warn("forward failed",
			zap.String("from", sender.Identity()), zap.String("to", to), zap.Error(err))
	}
}
