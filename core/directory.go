package core

import (
	"sync"

	"github.com/HaseebHub0/Decentralised-End-to-End-Encrypted-Collaboration-Platform/common"
)

// Peer is a live connection as the directory sees it.
type Peer interface {
	// Identity returns the name the peer registered under, or "".
	Identity() string
	// Ready reports whether a send may be attempted.
	Ready() bool
	// Send enqueues a frame for delivery. It must not block.
	Send(f common.Frame) error
	// Close tears the connection down. Idempotent.
	Close() error
}

// Directory is the authoritative identity → connection mapping. At any
// moment each identity maps to at most one peer.
type Directory struct {
	mu    sync.RWMutex
	peers map[string]Peer
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{peers: make(map[string]Peer)}
}

// Bind installs identity → p unconditionally and returns the previous
// occupant, if any. The new arrival always wins; the caller decides what to
// do with the loser.
func (d *Directory) Bind(identity string, p Peer) (Peer, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	prev, ok := d.peers[identity]
	d.peers[identity] = p
	return prev, ok
}

// Lookup returns the peer bound to identity.
func (d *Directory) Lookup(identity string) (Peer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.peers[identity]
	return p, ok
}

// UnbindIf removes the entry for identity only when the current occupant is
// exactly p. A stale close handler therefore never evicts a freshly-bound
// successor.
func (d *Directory) UnbindIf(identity string, p Peer) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.peers[identity]; ok && cur == p {
		delete(d.peers, identity)
		return true
	}
	return false
}

// Snapshot returns the currently bound identities.
func (d *Directory) Snapshot() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.peers))
	for name := range d.peers {
		names = append(names, name)
	}
	return names
}

// Peers returns the currently bound connections.
func (d *Directory) Peers() []Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	peers := make([]Peer, 0, len(d.peers))
	for _, p := range d.peers {
		peers = append(peers, p)
	}
	return peers
}

// Len returns the number of bound identities.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.peers)
}
