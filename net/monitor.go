package net

import (
	"time"

	"go.uber.org/zap"
)

// sweepLoop probes every connection once per PingInterval. A peer that has
// neither ponged nor sent traffic since the previous sweep is terminated;
// its disconnect path cleans up the directory and re-broadcasts presence.
// Effective dead-peer detection is therefore one to two periods.
func (s *Server) sweepLoop() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Server) sweep() {
	for _, c := range s.snapshotConns() {
		if !c.alive.Load() {
			s.log.Info("liveness timeout",
				zap.String("conn", c.ID()), zap.String("identity", c.Identity()))
			c.Close()
			continue
		}
		c.alive.Store(false)
		c.ping()
	}
}
