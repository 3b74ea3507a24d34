// Package listenalong implements the listen-along core: the listener
// session state machine that keeps the local player in lockstep with a
// remote peer, and the coordinator that broadcasts local playback to
// peers listening to this user.
package listenalong

import (
	"time"

	"github.com/spotalong/spotalong/internal/domain/status"
)

// Player is the local media-control surface the core drives. Commands are
// fire-and-forget: they are dispatched on the player's background worker
// and failures surface through logs and Disconnected, never as return
// values the loops could block on.
type Player interface {
	CurrentStatus() status.PlaybackStatus
	Position() float64
	Queue() []status.QueueEntry
	Play(trackID string)
	Pause()
	Resume()
	SeekTo(ms int)
	SetRepeat(mode string)
	ClearQueue()
	Enqueue(trackID string)
	AddListener(fn func())
	Disconnected() bool
}

// Channel is the outbound surface of the presence connection.
type Channel interface {
	StartListening(peerID string)
	EndListening()
	BroadcastState(st status.PlayerState)
	BroadcastNextTrack(uri string)
}

// PeerView is a read-only projection of peers' last known playback.
type PeerView interface {
	Get(peerID string) (status.PlaybackStatus, bool)
	DisplayName(peerID string) string
}

// Notifier surfaces user-visible notices. Implementations must be safe to
// call from any goroutine.
type Notifier interface {
	Notify(message string, isError bool)
}

// Config holds synchronization tuning shared by the session and the
// coordinator.
type Config struct {
	Tolerance         float64       // Acceptable drift in seconds, also the near-end guard window
	Cooldown          time.Duration // Minimum delay between drift corrections
	PollInterval      time.Duration // Steady-state loop cadence
	AdPollInterval    time.Duration // Cadence while waiting out a local ad
	DisconnectGrace   time.Duration // Delay before re-checking player connectivity
	BroadcastInterval time.Duration // Minimum delay between state broadcasts
}

// withDefaults fills zero values with the production defaults.
func (c Config) withDefaults() Config {
	if c.Tolerance == 0 {
		c.Tolerance = 3
	}
	if c.Cooldown == 0 {
		c.Cooldown = 2 * time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = time.Second
	}
	if c.AdPollInterval == 0 {
		c.AdPollInterval = 100 * time.Millisecond
	}
	if c.DisconnectGrace == 0 {
		c.DisconnectGrace = 7 * time.Second
	}
	if c.BroadcastInterval == 0 {
		c.BroadcastInterval = 200 * time.Millisecond
	}
	return c
}
