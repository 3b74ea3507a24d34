package listenalong

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/spotalong/spotalong/internal/domain/status"
)

var ErrUnknownPeer = errors.New("unknown peer")

// Coordinator orchestrates both directions of listen-along: it owns the
// outbound ListenerSession (this user following a peer) and the inbound
// broadcast of local state and queue to peers listening to this user.
type Coordinator struct {
	player   Player
	peers    PeerView
	channel  Channel
	notifier Notifier
	clock    Clock
	cfg      Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	listeners     map[string]time.Time // Peers currently listening to this user
	lastBroadcast time.Time
	lastQueueURI  string
	session       *Session
	stopBroadcast context.CancelFunc
}

// NewCoordinator creates a coordinator and subscribes it to player state
// changes.
func NewCoordinator(player Player, peers PeerView, channel Channel, notifier Notifier, clock Clock, cfg Config) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		player:    player,
		peers:     peers,
		channel:   channel,
		notifier:  notifier,
		clock:     clock,
		cfg:       cfg.withDefaults(),
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[string]time.Time),
	}
	player.AddListener(c.onPlayerEvent)
	return c
}

// Start begins listening along to peerID, ending any prior session first.
func (c *Coordinator) Start(peerID string) error {
	if _, ok := c.peers.Get(peerID); !ok {
		return ErrUnknownPeer
	}

	c.mu.Lock()
	prev := c.session
	c.mu.Unlock()
	if prev != nil {
		prev.EndQuiet()
	}

	sess := NewSession(peerID, c.player, c.peers, c.channel, c.notifier, c.clock, c.cfg)
	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()

	c.channel.StartListening(peerID)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		sess.Run()
	}()
	return nil
}

// Stop ends the current outbound session, if any.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess != nil {
		sess.EndQuiet()
	}
}

// Session returns the most recent outbound session, or nil.
func (c *Coordinator) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// HandleListeningStarted records that a peer began listening to this user
// and starts the periodic broadcast if it is the first listener.
func (c *Coordinator) HandleListeningStarted(peerID string) {
	c.mu.Lock()
	if _, ok := c.listeners[peerID]; ok {
		c.mu.Unlock()
		return
	}
	c.listeners[peerID] = c.clock.Now()
	first := len(c.listeners) == 1
	c.mu.Unlock()

	c.notifier.Notify(c.peers.DisplayName(peerID)+" started listening along to you.", false)
	zlog.Info().Str("peer", peerID).Str("track", c.player.CurrentStatus().TrackID).
		Msg("peer started listening along")
	if first {
		c.startBroadcastLoop()
	}
	// New listeners need the queue and state right away.
	c.NotifyQueueChanged(true)
	c.broadcastState()
}

// HandleListeningEnded removes a listening peer and stops the broadcast
// timer when the last one leaves.
func (c *Coordinator) HandleListeningEnded(peerID string) {
	c.mu.Lock()
	if _, ok := c.listeners[peerID]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.listeners, peerID)
	// The stop handle is cleared under the lock so a listener attaching
	// right after the last one left starts a fresh broadcast loop.
	var stop context.CancelFunc
	if len(c.listeners) == 0 {
		stop = c.stopBroadcast
		c.stopBroadcast = nil
	}
	c.mu.Unlock()

	c.notifier.Notify(c.peers.DisplayName(peerID)+" stopped listening along to you.", false)
	if stop != nil {
		stop()
	}
}

// HandleRemoteState applies a corrected target state pushed by a listening
// peer. The external-command depth on any active outbound session is held
// for the duration so the correction loop does not fight these commands;
// the release is guaranteed even if command application panics.
func (c *Coordinator) HandleRemoteState(target status.PlayerState) {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess != nil {
		sess.EnterExternal()
		defer sess.LeaveExternal()
	}
	defer func() {
		if r := recover(); r != nil {
			zlog.Warn().Interface("panic", r).Msg("failed to apply remote player state")
		}
	}()

	c.applyRemoteState(target)

	// Hold the guard while the dispatched commands land.
	c.clock.Sleep(c.ctx, c.cfg.Cooldown)
}

func (c *Coordinator) applyRemoteState(target status.PlayerState) {
	local := c.player.CurrentStatus()

	if local.Playing != target.Playing {
		if target.Playing {
			c.player.Resume()
		} else {
			c.player.Pause()
		}
	}
	if target.RepeatMode != "" && local.RepeatMode != target.RepeatMode {
		c.player.SetRepeat(target.RepeatMode)
	}

	if local.TrackID == target.TrackID {
		if math.Abs(c.player.Position()-target.Progress) > c.cfg.Tolerance {
			c.player.SeekTo(int(math.Round(target.Progress * 1000)))
		}
		return
	}

	// Same near-end heuristic as the listener's switch branch: unknown
	// local duration counts as ending.
	if local.NearEnd(c.cfg.Tolerance, true) {
		// The queue may already carry the target; let it advance naturally.
		if uri, ok := status.NextTrackURI(c.player.Queue()); ok {
			if id, ok := status.TrackIDFromURI(uri); ok && id == target.TrackID {
				c.clock.Sleep(c.ctx, 3*time.Second)
				return
			}
		}
	}
	c.player.Play(target.TrackID)
}

// HandleQueueAdd pre-stages a track pushed by the host into the local
// queue. Malformed URIs are ignored.
func (c *Coordinator) HandleQueueAdd(uri string) {
	trackID, ok := status.TrackIDFromURI(uri)
	if !ok {
		zlog.Debug().Str("uri", uri).Msg("ignoring malformed queue uri")
		return
	}
	if queue := c.player.Queue(); len(queue) > 0 && queue[0].URI == uri {
		return
	}
	// If the current track is about to end, let it run out before
	// touching the queue.
	if c.player.CurrentStatus().NearEnd(c.cfg.Tolerance, false) {
		c.clock.Sleep(c.ctx, 3*time.Second)
	}
	c.player.ClearQueue()
	c.player.Enqueue(trackID)
}

// HandleRemoteEnd ends the outbound session on a remote end notice.
func (c *Coordinator) HandleRemoteEnd(peerID, reason string) {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess != nil && sess.Peer() == peerID {
		sess.EndFromRemote(reason)
	}
}

// HandleChannelDown ends the outbound session when the presence channel
// drops; the broadcast loop simply skips ticks.
func (c *Coordinator) HandleChannelDown() {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess != nil {
		sess.EndFromRemote(ReasonChannelLost)
	}
}

// NotifyQueueChanged publishes the head of the local queue when it changed
// since the last publish, or unconditionally when forced.
func (c *Coordinator) NotifyQueueChanged(force bool) {
	c.mu.Lock()
	hasListeners := len(c.listeners) > 0
	c.mu.Unlock()
	if !hasListeners || c.player.Disconnected() {
		return
	}

	uri, ok := status.NextTrackURI(c.player.Queue())
	if !ok {
		return
	}

	c.mu.Lock()
	if c.lastQueueURI == uri && !force {
		c.mu.Unlock()
		return
	}
	c.lastQueueURI = uri
	c.mu.Unlock()

	c.channel.BroadcastNextTrack(uri)
}

// Close tears down the coordinator: ends the session, stops the broadcast
// loop and waits for workers to exit.
func (c *Coordinator) Close() {
	c.Stop()
	c.mu.Lock()
	stop := c.stopBroadcast
	c.stopBroadcast = nil
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
	c.cancel()
	c.wg.Wait()
}

// onPlayerEvent re-evaluates broadcasts on every player state change.
func (c *Coordinator) onPlayerEvent() {
	c.broadcastState()
	c.NotifyQueueChanged(false)
}

// broadcastState samples local playback and publishes it, rate-limited and
// skipped entirely while the player is disconnected.
func (c *Coordinator) broadcastState() {
	c.mu.Lock()
	if len(c.listeners) == 0 {
		c.mu.Unlock()
		return
	}
	now := c.clock.Now()
	if now.Sub(c.lastBroadcast) < c.cfg.BroadcastInterval {
		c.mu.Unlock()
		return
	}
	c.lastBroadcast = now
	c.mu.Unlock()

	if c.player.Disconnected() {
		return
	}
	local := c.player.CurrentStatus()
	if local.TrackID == "" {
		return
	}
	c.channel.BroadcastState(status.PlayerState{
		TrackID:    local.TrackID,
		Progress:   c.player.Position(),
		Playing:    local.Playing,
		RepeatMode: local.RepeatMode,
	})
}

// startBroadcastLoop runs the periodic state broadcast until the last
// listener leaves or the coordinator closes.
func (c *Coordinator) startBroadcastLoop() {
	ctx, cancel := context.WithCancel(c.ctx)
	c.mu.Lock()
	if c.stopBroadcast != nil {
		c.mu.Unlock()
		cancel()
		return
	}
	c.stopBroadcast = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			if !c.clock.Sleep(ctx, c.cfg.BroadcastInterval) {
				return
			}
			c.broadcastState()
		}
	}()
}
