package listenalong

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spotalong/spotalong/internal/app/peerstate"
	"github.com/spotalong/spotalong/internal/domain/status"
)

func newSessionFixture(t *testing.T) (*Session, *fakePlayer, *fakeChannel, *fakeNotifier, *peerstate.View, *fakeClock) {
	t.Helper()
	player := &fakePlayer{}
	channel := &fakeChannel{}
	notifier := &fakeNotifier{}
	peers := peerstate.NewView()
	clk := newFakeClock()
	sess := NewSession("peer-1", player, peers, channel, notifier, clk, Config{})
	return sess, player, channel, notifier, peers, clk
}

func TestSyncSeeksOnDrift(t *testing.T) {
	sess, player, _, _, peers, clk := newSessionFixture(t)
	defer sess.EndQuiet()

	player.setStatus(trackStatus("t1", 10.0, 240000, true))
	peers.Set("peer-1", trackStatus("t1", 14.2, 240000, true))

	sess.Sync()
	require.Equal(t, []string{"seek:14200"}, player.Commands())

	// A second attempt within the cooldown is a no-op.
	sess.Sync()
	assert.Equal(t, []string{"seek:14200"}, player.Commands())

	// Once the cooldown elapses a new correction goes through.
	clk.Advance(2100 * time.Millisecond)
	sess.Sync()
	assert.Equal(t, []string{"seek:14200", "seek:14200"}, player.Commands())
}

func TestSyncToleranceBoundary(t *testing.T) {
	tests := []struct {
		name         string
		peerProgress float64
		wantCommands []string
	}{
		{
			name:         "drift exactly at tolerance is left alone",
			peerProgress: 13.0,
			wantCommands: nil,
		},
		{
			name:         "drift just over tolerance is corrected",
			peerProgress: 13.01,
			wantCommands: []string{"seek:13010"},
		},
		{
			name:         "drift under tolerance is left alone",
			peerProgress: 11.5,
			wantCommands: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess, player, _, _, peers, _ := newSessionFixture(t)
			defer sess.EndQuiet()

			player.setStatus(trackStatus("t1", 10.0, 240000, true))
			peers.Set("peer-1", trackStatus("t1", tt.peerProgress, 240000, true))

			sess.Sync()
			assert.Equal(t, tt.wantCommands, player.Commands())
		})
	}
}

func TestSyncTogglesPlayback(t *testing.T) {
	sess, player, _, _, peers, clk := newSessionFixture(t)
	defer sess.EndQuiet()

	player.setStatus(trackStatus("t1", 10.0, 240000, true))
	peers.Set("peer-1", trackStatus("t1", 10.5, 240000, false))

	sess.Sync()
	require.Equal(t, []string{"pause"}, player.Commands())

	clk.Advance(3 * time.Second)
	player.setStatus(trackStatus("t1", 10.5, 240000, false))
	peers.Set("peer-1", trackStatus("t1", 10.5, 240000, true))

	sess.Sync()
	assert.Equal(t, []string{"pause", "resume"}, player.Commands())
}

func TestSyncSuppressedWhileExternalCommandInFlight(t *testing.T) {
	sess, player, _, _, peers, _ := newSessionFixture(t)
	defer sess.EndQuiet()

	player.setStatus(trackStatus("t1", 10.0, 240000, true))
	peers.Set("peer-1", trackStatus("t1", 20.0, 240000, true))

	sess.EnterExternal()
	sess.Sync()
	assert.Empty(t, player.Commands())

	sess.LeaveExternal()
	sess.Sync()
	assert.Equal(t, []string{"seek:20000"}, player.Commands())
}

func TestSyncIgnoresMismatchedTracks(t *testing.T) {
	sess, player, _, _, peers, _ := newSessionFixture(t)
	defer sess.EndQuiet()

	player.setStatus(trackStatus("t1", 10.0, 240000, true))
	peers.Set("peer-1", trackStatus("t2", 20.0, 240000, true))

	sess.Sync()
	assert.Empty(t, player.Commands())
}

func TestRunEndsWhenPeerRemoved(t *testing.T) {
	sess, player, channel, notifier, peers, _ := newSessionFixture(t)

	player.setStatus(trackStatus("t1", 10.0, 240000, true))
	peers.Set("peer-1", trackStatus("t1", 10.0, 240000, true))

	go sess.Run()
	require.Eventually(t, func() bool {
		return sess.State() == StateSyncing
	}, time.Second, time.Millisecond)

	peers.Remove("peer-1")
	require.Eventually(t, func() bool {
		return sess.State() == StateEnded
	}, time.Second, time.Millisecond)
	<-sess.Done()

	assert.Equal(t, 1, channel.EndCount())
	assert.Equal(t, []string{"The listening along session ended."}, notifier.Notices())
}

func TestRunEndsWhenPeerTrackNotPlayable(t *testing.T) {
	sess, player, channel, notifier, peers, _ := newSessionFixture(t)

	player.setStatus(trackStatus("t1", 10.0, 240000, true))
	peers.Set("peer-1", trackStatus("t1", 10.0, 240000, true))

	go sess.Run()
	require.Eventually(t, func() bool {
		return sess.State() == StateSyncing
	}, time.Second, time.Millisecond)

	// The host hits an ad break.
	peers.Set("peer-1", status.PlaybackStatus{Kind: status.KindAd, Playing: true})
	require.Eventually(t, func() bool {
		return sess.State() == StateEnded
	}, time.Second, time.Millisecond)
	<-sess.Done()

	assert.Equal(t, 1, channel.EndCount())
	require.Len(t, notifier.Notices(), 1)
	assert.Contains(t, notifier.Notices()[0], ReasonNotPlayable)
}

func TestRunWaitsOutLocalAd(t *testing.T) {
	sess, player, _, _, peers, _ := newSessionFixture(t)
	defer func() {
		sess.EndQuiet()
		<-sess.Done()
	}()

	progress := 5.0
	player.setStatus(status.PlaybackStatus{Kind: status.KindAd, Playing: true, Progress: &progress})
	peers.Set("peer-1", trackStatus("t1", 10.0, 240000, true))

	go sess.Run()
	require.Eventually(t, func() bool {
		return sess.State() == StateAwaitingAd
	}, time.Second, time.Millisecond)
	assert.Empty(t, player.Commands())

	player.setStatus(trackStatus("t1", 10.0, 240000, true))
	require.Eventually(t, func() bool {
		return sess.State() == StateSyncing
	}, time.Second, time.Millisecond)
}

func TestRunEndsWhenPlayerStaysDisconnected(t *testing.T) {
	sess, player, channel, notifier, peers, _ := newSessionFixture(t)

	player.setStatus(trackStatus("t1", 10.0, 240000, true))
	player.disconnected = true
	peers.Set("peer-1", trackStatus("t1", 10.0, 240000, true))

	go sess.Run()
	require.Eventually(t, func() bool {
		return sess.State() == StateEnded
	}, time.Second, time.Millisecond)
	<-sess.Done()

	assert.Equal(t, 1, channel.EndCount())
	require.Len(t, notifier.Notices(), 1)
	assert.Contains(t, notifier.Notices()[0], ReasonDisconnected)
}

func TestSwitchTrackPlaysImmediately(t *testing.T) {
	sess, player, _, _, peers, clk := newSessionFixture(t)
	defer sess.EndQuiet()

	player.playSwitches = true
	player.setStatus(trackStatus("t1", 50.0, 240000, true))
	peer := trackStatus("t2", 1.0, 180000, true)
	peers.Set("peer-1", peer)

	before := clk.Now()
	require.True(t, sess.switchTrack(peer))
	assert.Equal(t, []string{"play:t2"}, player.Commands())
	assert.Equal(t, before, clk.Now(), "no waiting expected mid-track")
}

func TestSwitchTrackWaitsOutNearEnd(t *testing.T) {
	sess, player, _, _, peers, clk := newSessionFixture(t)
	defer sess.EndQuiet()

	player.playSwitches = true
	// 1.5s left on the local track, within the tolerance window.
	player.setStatus(trackStatus("t1", 198.5, 200000, true))
	peer := trackStatus("t2", 0.5, 180000, true)
	peers.Set("peer-1", peer)

	before := clk.Now()
	require.True(t, sess.switchTrack(peer))
	assert.Equal(t, []string{"play:t2"}, player.Commands())
	assert.Equal(t, 3*time.Second, clk.Now().Sub(before), "expected three poll intervals of waiting")
}

func TestSwitchTrackSkipsPlayWhenTrackAdvancedNaturally(t *testing.T) {
	sess, player, _, _, peers, clk := newSessionFixture(t)
	defer sess.EndQuiet()

	player.setStatus(trackStatus("t1", 198.5, 200000, true))
	peer := trackStatus("t2", 0.5, 180000, true)
	peers.Set("peer-1", peer)

	// The player rolls onto the peer's track on its own during the wait.
	base := clk.Now()
	clk.onSleep = func(now time.Time) {
		if now.Sub(base) >= 2*time.Second {
			player.setStatus(trackStatus("t2", 0.2, 180000, true))
		}
	}

	require.True(t, sess.switchTrack(peer))
	assert.Empty(t, player.Commands())
}

func TestWaitForTrackEndAbortsOnExternalCommand(t *testing.T) {
	sess, player, _, _, peers, clk := newSessionFixture(t)
	defer sess.EndQuiet()

	player.setStatus(trackStatus("t1", 198.5, 200000, true))
	peers.Set("peer-1", trackStatus("t2", 0.5, 180000, true))

	sess.EnterExternal()
	defer sess.LeaveExternal()

	before := clk.Now()
	sess.waitForTrackEnd()
	assert.Empty(t, player.Commands())
	assert.Equal(t, time.Second, clk.Now().Sub(before), "expected the wait to abort after one interval")
}

func TestEndIsIdempotent(t *testing.T) {
	sess, _, channel, notifier, _, _ := newSessionFixture(t)

	sess.End("", false)
	sess.End("some reason", true)
	sess.EndQuiet()

	assert.Equal(t, StateEnded, sess.State())
	assert.Equal(t, 1, channel.EndCount())
	assert.Equal(t, []string{"The listening along session ended."}, notifier.Notices())
}

func TestEndQuietSkipsNotice(t *testing.T) {
	sess, _, channel, notifier, _, _ := newSessionFixture(t)

	sess.EndQuiet()

	assert.Equal(t, 1, channel.EndCount())
	assert.Empty(t, notifier.Notices())
}

func TestEndFromRemoteDoesNotReannounce(t *testing.T) {
	sess, _, channel, notifier, _, _ := newSessionFixture(t)

	sess.EndFromRemote(ReasonChannelLost)

	assert.Equal(t, 0, channel.EndCount())
	require.Len(t, notifier.Notices(), 1)
	assert.Contains(t, notifier.Notices()[0], ReasonChannelLost)
}

func TestRunObservesEndWithinOnePoll(t *testing.T) {
	sess, player, channel, _, peers, _ := newSessionFixture(t)

	player.setStatus(trackStatus("t1", 10.0, 240000, true))
	peers.Set("peer-1", trackStatus("t1", 10.0, 240000, true))

	go sess.Run()
	require.Eventually(t, func() bool {
		return sess.State() == StateSyncing
	}, time.Second, time.Millisecond)

	sess.EndQuiet()
	select {
	case <-sess.Done():
	case <-time.After(time.Second):
		t.Fatal("session loop did not exit after End")
	}
	assert.Equal(t, 1, channel.EndCount())
}
