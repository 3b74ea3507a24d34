package listenalong

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/spotalong/spotalong/internal/domain/status"
)

// End reasons surfaced to the user. Not error conditions unless noted.
const (
	ReasonNotPlayable  = "the host stopped listening to a playable track"
	ReasonDisconnected = "the player was disconnected, please try again later"
	ReasonChannelLost  = "the connection to the server was lost"
)

// Session keeps the local player in lockstep with one remote peer. At most
// one session exists per local user; the coordinator enforces that.
type Session struct {
	peerID   string
	player   Player
	peers    PeerView
	channel  Channel
	notifier Notifier
	clock    Clock
	cfg      Config

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	state     State
	startedAt time.Time
	lastSync  time.Time
	handling  bool // A track switch is mid-flight
	finished  bool // End already ran

	// Counts in-flight externally driven player commands. The correction
	// loop must not issue commands while this is above zero.
	externalDepth atomic.Int32
}

// NewSession creates a session targeting peerID. Call Run on its own
// goroutine to start syncing.
func NewSession(peerID string, player Player, peers PeerView, channel Channel, notifier Notifier, clock Clock, cfg Config) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		peerID:    peerID,
		player:    player,
		peers:     peers,
		channel:   channel,
		notifier:  notifier,
		clock:     clock,
		cfg:       cfg.withDefaults(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     StateStarting,
		startedAt: clock.Now(),
	}
}

// Peer returns the peer this session follows.
func (s *Session) Peer() string { return s.peerID }

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed when the session loop has fully exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// EnterExternal marks an externally driven player command as in flight.
// Every call must be paired with LeaveExternal.
func (s *Session) EnterExternal() { s.externalDepth.Add(1) }

// LeaveExternal releases an externally driven command slot.
func (s *Session) LeaveExternal() { s.externalDepth.Add(-1) }

// Run executes the session until a terminal condition. A panic inside the
// loop ends the session instead of killing the worker silently.
func (s *Session) Run() {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Interface("panic", r).Str("peer", s.peerID).
				Msg("listener session loop failed")
			s.end("", true, true, true)
		}
	}()

	zlog.Info().Str("peer", s.peerID).Msg("listening along session starting")

	// A local ad must finish before the first correction is issued.
	if !s.awaitAdClear() {
		return
	}
	s.setState(StateSyncing)
	s.loop()
}

// End ends the session, announces end-listening over the channel and
// surfaces a notice. Idempotent and safe to call from any goroutine; the
// loop observes it within one poll interval.
func (s *Session) End(reason string, isError bool) {
	s.end(reason, isError, true, true)
}

// EndQuiet ends the session and announces it without a user notice. Used
// when the session is replaced or stopped explicitly.
func (s *Session) EndQuiet() {
	s.end("", false, true, false)
}

// EndFromRemote ends the session on a remote end notice. The notice is
// surfaced but end-listening is not re-announced.
func (s *Session) EndFromRemote(reason string) {
	s.end(reason, false, false, true)
}

// Sync applies the drift-correction branch immediately, subject to the
// cooldown and the external-command guard. Also invoked by a manual
// "Sync" user action.
func (s *Session) Sync() {
	if s.externalDepth.Load() > 0 {
		return
	}
	s.mu.Lock()
	if s.state == StateEnded || s.handling {
		s.mu.Unlock()
		return
	}
	if s.clock.Now().Sub(s.lastSync) <= s.cfg.Cooldown {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	peer, ok := s.peers.Get(s.peerID)
	if !ok {
		return
	}
	local := s.player.CurrentStatus()
	if local.TrackID == "" || local.TrackID != peer.TrackID {
		return
	}

	issued := false
	if peer.Playing != local.Playing {
		if peer.Playing {
			s.player.Resume()
		} else {
			s.player.Pause()
		}
		issued = true
	}
	if peer.Progress != nil && local.Progress != nil {
		if diff := math.Abs(*peer.Progress - *local.Progress); diff > s.cfg.Tolerance {
			s.player.SeekTo(int(math.Round(*peer.Progress * 1000)))
			issued = true
		}
	}
	if issued {
		s.mu.Lock()
		s.lastSync = s.clock.Now()
		s.mu.Unlock()
		zlog.Debug().Str("peer", s.peerID).Msg("drift correction issued")
	}
}

// loop is the Syncing correction loop. Each iteration issues at most one
// corrective action and re-checks every terminal condition.
func (s *Session) loop() {
	for {
		if s.endedOrCancelled() {
			return
		}

		// A remote-originated correction is mid-flight; do not fight it.
		if s.externalDepth.Load() > 0 {
			if !s.clock.Sleep(s.ctx, s.cfg.Cooldown) {
				return
			}
			continue
		}

		// Player connectivity, with one grace re-check.
		if s.player.Disconnected() {
			if !s.clock.Sleep(s.ctx, s.cfg.DisconnectGrace) {
				return
			}
			if s.player.Disconnected() {
				s.End(ReasonDisconnected, true)
				return
			}
		}

		peer, ok := s.peers.Get(s.peerID)
		if !ok {
			s.End("", false)
			return
		}
		if !peer.HasTrack() {
			s.End(ReasonNotPlayable, false)
			return
		}
		if s.endedOrCancelled() {
			return
		}

		local := s.player.CurrentStatus()
		if local.TrackID != "" && local.TrackID == peer.TrackID {
			s.Sync()
			if !s.clock.Sleep(s.ctx, s.cfg.PollInterval) {
				return
			}
			continue
		}

		if !s.switchTrack(peer) {
			return
		}
	}
}

// switchTrack moves the local player onto the peer's track, waiting out a
// near track end first, then blocks until the switch is observed. Returns
// false when the session ended.
func (s *Session) switchTrack(peer status.PlaybackStatus) bool {
	// Never interrupt a local ad.
	for s.player.CurrentStatus().Kind == status.KindAd {
		if !s.clock.Sleep(s.ctx, s.cfg.AdPollInterval) {
			return false
		}
	}

	if s.beginHandling() {
		local := s.player.CurrentStatus()
		// Unknown local duration counts as ending (the local player is
		// the one about to be interrupted); unknown peer duration counts
		// as not ending. The asymmetry is intentional.
		if local.NearEnd(s.cfg.Tolerance, true) || peer.NearEnd(s.cfg.Tolerance, false) {
			s.waitForTrackEnd()
		} else {
			s.player.Play(peer.TrackID)
		}
		s.endHandling()
	}

	// Block until the local track matches, re-checking terminal
	// conditions each iteration so overlapping switches cannot pile up.
	for {
		if s.endedOrCancelled() {
			return false
		}
		peer, ok := s.peers.Get(s.peerID)
		if !ok {
			s.End("", false)
			return false
		}
		if !peer.HasTrack() {
			s.End(ReasonNotPlayable, false)
			return false
		}
		if s.player.CurrentStatus().TrackID == peer.TrackID {
			return true
		}
		if !s.clock.Sleep(s.ctx, s.cfg.PollInterval) {
			return false
		}
	}
}

// waitForTrackEnd polls up to three intervals while the ending track runs
// out, then issues the switch if the tracks still differ. An externally
// driven command aborts the wait.
func (s *Session) waitForTrackEnd() {
	for i := 0; i < 3; i++ {
		s.mu.Lock()
		s.lastSync = s.clock.Now()
		s.mu.Unlock()
		if !s.clock.Sleep(s.ctx, s.cfg.PollInterval) {
			return
		}
		if s.externalDepth.Load() > 0 {
			return
		}
	}
	peer, ok := s.peers.Get(s.peerID)
	if !ok || !peer.HasTrack() {
		return
	}
	if s.player.CurrentStatus().TrackID != peer.TrackID {
		s.player.Play(peer.TrackID)
	}
}

// awaitAdClear polls while the local player reports an ad. Intentionally
// unbounded: ads are short, and cancellation still applies.
func (s *Session) awaitAdClear() bool {
	for s.player.CurrentStatus().Kind == status.KindAd {
		s.setState(StateAwaitingAd)
		if !s.clock.Sleep(s.ctx, s.cfg.AdPollInterval) {
			return false
		}
	}
	return true
}

func (s *Session) end(reason string, isError, announce, notify bool) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	s.state = StateEnded
	s.mu.Unlock()

	s.cancel()

	if announce {
		s.channel.EndListening()
	}
	if notify {
		msg := "The listening along session ended."
		if reason != "" {
			msg = "The listening along session ended because " + reason + "."
		}
		s.notifier.Notify(msg, isError)
		zlog.Info().Str("peer", s.peerID).Str("reason", reason).
			Dur("duration", s.clock.Now().Sub(s.startedAt)).
			Msg("listening along session ended")
	}
}

func (s *Session) beginHandling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handling {
		return false
	}
	s.handling = true
	return true
}

func (s *Session) endHandling() {
	s.mu.Lock()
	s.handling = false
	s.mu.Unlock()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.state != StateEnded {
		s.state = st
	}
	s.mu.Unlock()
}

func (s *Session) endedOrCancelled() bool {
	select {
	case <-s.ctx.Done():
		return true
	default:
	}
	return s.State() == StateEnded
}
