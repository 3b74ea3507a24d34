// Package peerstate holds the last known playback status of each peer.
package peerstate

import (
	"sync"

	"github.com/spotalong/spotalong/internal/domain/status"
)

type entry struct {
	status status.PlaybackStatus
	name   string
}

// View is a last-write-wins projection of peer playback statuses, sourced
// from presence channel updates. Safe for concurrent readers with a single
// writer; snapshots are replaced wholesale, never mutated.
type View struct {
	mu    sync.RWMutex
	peers map[string]entry
}

// NewView creates an empty view.
func NewView() *View {
	return &View{peers: make(map[string]entry)}
}

// Set replaces a peer's status snapshot.
func (v *View) Set(peerID string, st status.PlaybackStatus) {
	v.mu.Lock()
	e := v.peers[peerID]
	e.status = st
	v.peers[peerID] = e
	v.mu.Unlock()
}

// SetName records a peer's display name.
func (v *View) SetName(peerID, name string) {
	v.mu.Lock()
	e := v.peers[peerID]
	e.name = name
	v.peers[peerID] = e
	v.mu.Unlock()
}

// Get returns the peer's last known status. ok is false for unknown peers.
func (v *View) Get(peerID string) (status.PlaybackStatus, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.peers[peerID]
	return e.status, ok
}

// DisplayName returns the peer's display name, falling back to the id.
func (v *View) DisplayName(peerID string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if e, ok := v.peers[peerID]; ok && e.name != "" {
		return e.name
	}
	return peerID
}

// Remove drops a peer from the view. Active sessions targeting the peer
// observe this on their next poll.
func (v *View) Remove(peerID string) {
	v.mu.Lock()
	delete(v.peers, peerID)
	v.mu.Unlock()
}

// Peers returns the ids of all known peers.
func (v *View) Peers() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	ids := make([]string, 0, len(v.peers))
	for id := range v.peers {
		ids = append(ids, id)
	}
	return ids
}
