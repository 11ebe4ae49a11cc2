package net

import (
	"go.uber.org/zap"

	"github.com/HaseebHub0/Decentralised-End-to-End-Encrypted-Collaboration-Platform/common"
)

// broadcastPresence sends the current identity set to every bound, ready
// peer. Best-effort: one peer's failure does not affect the others and
// never rolls back the directory change that triggered the broadcast.
func (s *Server) broadcastPresence() {
	frame := common.Frame{Type: common.TypeStatus, Users: s.dir.Snapshot()}
	for _, p := range s.dir.Peers() {
		if !p.Ready() {
			continue
		}
		if err := p.Send(frame); err != nil {
			s.log.Debug("presence send failed",
				zap.String("identity", p.Identity()), zap.Error(err))
		}
	}
	s.log.Debug("presence broadcast", zap.Strings("users", frame.Users))
}
