package net

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/HaseebHub0/Decentralised-End-to-End-Encrypted-Collaboration-Platform/core"
)

// Config carries the relay's tunables. The zero value is usable; defaults
// match the production protocol.
type Config struct {
	// Addr is the listen address, e.g. ":3001".
	Addr string
	// PingInterval is the liveness sweep period. A peer that stays silent
	// for two consecutive sweeps is terminated.
	PingInterval time.Duration
	// SendBuffer is the per-connection outbound queue depth.
	SendBuffer int
	// Logger receives server logs. Defaults to a production zap logger.
	Logger *zap.Logger
}

const (
	defaultPingInterval = 30 * time.Second
	defaultSendBuffer   = 32
)

// Server is the encrypted-message relay: it accepts websocket connections,
// keeps the directory of online identities, and forwards opaque payloads
// between them.
type Server struct {
	cfg Config
	log *zap.Logger
	dir *core.Directory

	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*Conn]struct{}

	httpSrv *http.Server
	done    chan struct{}
	closed  sync.Once
}

// NewServer creates a relay and starts its liveness sweep.
func NewServer(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":3001"
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger, _ = zap.NewProduction()
	}
	s := &Server{
		cfg:   cfg,
		log:   cfg.Logger,
		dir:   core.NewDirectory(),
		conns: make(map[*Conn]struct{}),
		done:  make(chan struct{}),
		upgrader: websocket.Upgrader{
			// The browser client is served from a different origin; identity
			// proof is an end-to-end concern, so the relay accepts upgrades
			// from anywhere.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	go s.sweepLoop()
	return s
}

// Handler returns the websocket upgrade handler. The upgrade is accepted on
// any path: the browser client dials the bare origin, the terminal client
// dials /ws. Exposed so tests can mount it on an httptest server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	return mux
}

// ListenAndServe blocks serving the relay until Shutdown. A bind failure is
// returned immediately.
func (s *Server) ListenAndServe() error {
	s.httpSrv = &http.Server{Addr: s.cfg.Addr, Handler: s.Handler()}
	s.log.Info("relay listening", zap.String("addr", s.cfg.Addr))
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
}

// Shutdown halts the sweep, stops the listener, and closes every connection.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.closed.Do(func() {
		close(s.done)
		if s.httpSrv != nil {
			err = s.httpSrv.Shutdown(ctx)
		}
		for _, c := range s.snapshotConns() {
			c.Close()
		}
	})
	return err
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", zap.Error(err))
		return
	}
	c := newConn(ws, s.cfg.SendBuffer, s.log)
	s.track(c)
	s.log.Info("peer connected", zap.String("conn", c.ID()))
	go s.readLoop(c)
}

// readLoop pumps inbound frames into the router. It owns the disconnect
// path: when the read side ends for any reason the connection leaves the
// directory (compare-and-remove) and, if it was bound, presence is
// re-broadcast.
func (s *Server) readLoop(c *Conn) {
	defer s.teardown(c)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		// Any inbound traffic counts as proof of life.
		c.alive.Store(true)
		s.route(c, data)
	}
}

func (s *Server) teardown(c *Conn) {
	c.Close()
	s.untrack(c)
	if id := c.Identity(); id != "" {
		if s.dir.UnbindIf(id, c) {
			s.log.Info("peer unbound", zap.String("conn", c.ID()), zap.String("identity", id))
			s.broadcastPresence()
		}
	}
	s.log.Info("peer disconnected", zap.String("conn", c.ID()))
}

func (s *Server) track(c *Conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *Server) snapshotConns() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	return conns
}
