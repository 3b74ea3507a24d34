package listenalong

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spotalong/spotalong/internal/domain/status"
)

// fakeClock advances simulated time on every sleep. A short real yield
// keeps spinning loops from starving the scheduler.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	onSleep func(now time.Time) // Invoked after each simulated sleep
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}
	c.Advance(d)
	c.mu.Lock()
	hook := c.onSleep
	now := c.now
	c.mu.Unlock()
	if hook != nil {
		hook(now)
	}
	time.Sleep(time.Millisecond)
	select {
	case <-ctx.Done():
		return false
	default:
		return true
	}
}

// fakePlayer records dispatched commands and lets tests mutate the
// reported status.
type fakePlayer struct {
	mu           sync.Mutex
	status       status.PlaybackStatus
	queue        []status.QueueEntry
	position     float64
	disconnected bool
	commands     []string
	onSeek       func(ms int)
	// When set, Play immediately switches the reported track, simulating
	// the real player accepting the command.
	playSwitches bool
}

func (p *fakePlayer) setStatus(st status.PlaybackStatus) {
	p.mu.Lock()
	p.status = st
	p.mu.Unlock()
}

func (p *fakePlayer) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.commands...)
}

func (p *fakePlayer) record(cmd string) {
	p.mu.Lock()
	p.commands = append(p.commands, cmd)
	p.mu.Unlock()
}

func (p *fakePlayer) CurrentStatus() status.PlaybackStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *fakePlayer) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

func (p *fakePlayer) Queue() []status.QueueEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]status.QueueEntry(nil), p.queue...)
}

func (p *fakePlayer) Play(trackID string) {
	p.record("play:" + trackID)
	if p.playSwitches {
		p.mu.Lock()
		progress := 0.0
		p.status = status.PlaybackStatus{
			TrackID:  trackID,
			Kind:     status.KindTrack,
			Playing:  true,
			Progress: &progress,
		}
		p.mu.Unlock()
	}
}

func (p *fakePlayer) Pause() { p.record("pause") }

func (p *fakePlayer) Resume() { p.record("resume") }

func (p *fakePlayer) SeekTo(ms int) {
	if p.onSeek != nil {
		p.onSeek(ms)
	}
	p.record(fmt.Sprintf("seek:%d", ms))
}

func (p *fakePlayer) SetRepeat(mode string) { p.record("repeat:" + mode) }

func (p *fakePlayer) ClearQueue() { p.record("clear_queue") }

func (p *fakePlayer) Enqueue(trackID string) { p.record("enqueue:" + trackID) }

func (p *fakePlayer) AddListener(fn func()) {}

func (p *fakePlayer) Disconnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disconnected
}

// fakeChannel records emitted events.
type fakeChannel struct {
	mu         sync.Mutex
	starts     []string
	endCount   int
	states     []status.PlayerState
	nextTracks []string
}

func (c *fakeChannel) StartListening(peerID string) {
	c.mu.Lock()
	c.starts = append(c.starts, peerID)
	c.mu.Unlock()
}

func (c *fakeChannel) EndListening() {
	c.mu.Lock()
	c.endCount++
	c.mu.Unlock()
}

func (c *fakeChannel) BroadcastState(st status.PlayerState) {
	c.mu.Lock()
	c.states = append(c.states, st)
	c.mu.Unlock()
}

func (c *fakeChannel) BroadcastNextTrack(uri string) {
	c.mu.Lock()
	c.nextTracks = append(c.nextTracks, uri)
	c.mu.Unlock()
}

func (c *fakeChannel) EndCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endCount
}

func (c *fakeChannel) States() []status.PlayerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]status.PlayerState(nil), c.states...)
}

func (c *fakeChannel) NextTracks() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.nextTracks...)
}

// fakeNotifier records user notices.
type fakeNotifier struct {
	mu      sync.Mutex
	notices []string
}

func (n *fakeNotifier) Notify(message string, isError bool) {
	n.mu.Lock()
	n.notices = append(n.notices, message)
	n.mu.Unlock()
}

func (n *fakeNotifier) Notices() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.notices...)
}

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }

func trackStatus(id string, progress float64, durationMS int, playing bool) status.PlaybackStatus {
	return status.PlaybackStatus{
		TrackID:    id,
		Kind:       status.KindTrack,
		Playing:    playing,
		Progress:   floatPtr(progress),
		DurationMS: intPtr(durationMS),
	}
}
