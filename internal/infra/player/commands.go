package player

import (
	"context"
	"strings"
	"time"

	zlog "github.com/rs/zerolog/log"
	"github.com/zmb3/spotify/v2"
)

// command is a named player operation executed on the background worker.
type command struct {
	op  string
	run func(ctx context.Context, api *spotify.Client) error
}

// Play starts playback of the given track.
func (c *Client) Play(trackID string) {
	uri := spotify.URI("spotify:track:" + trackID)
	c.dispatch("play", func(ctx context.Context, api *spotify.Client) error {
		return api.PlayOpt(ctx, &spotify.PlayOptions{URIs: []spotify.URI{uri}})
	})
}

// Pause pauses playback.
func (c *Client) Pause() {
	c.dispatch("pause", func(ctx context.Context, api *spotify.Client) error {
		return api.Pause(ctx)
	})
}

// Resume resumes playback.
func (c *Client) Resume() {
	c.dispatch("resume", func(ctx context.Context, api *spotify.Client) error {
		return api.Play(ctx)
	})
}

// SeekTo seeks to the given position in milliseconds.
func (c *Client) SeekTo(ms int) {
	c.dispatch("seek", func(ctx context.Context, api *spotify.Client) error {
		return api.Seek(ctx, ms)
	})
}

// Next skips to the next track.
func (c *Client) Next() {
	c.dispatch("next", func(ctx context.Context, api *spotify.Client) error {
		return api.Next(ctx)
	})
}

// Previous goes back to the previous track.
func (c *Client) Previous() {
	c.dispatch("previous", func(ctx context.Context, api *spotify.Client) error {
		return api.Previous(ctx)
	})
}

// Shuffle toggles shuffle mode.
func (c *Client) Shuffle(on bool) {
	c.dispatch("shuffle", func(ctx context.Context, api *spotify.Client) error {
		return api.Shuffle(ctx, on)
	})
}

// SetRepeat sets the repeat mode: "track", "context" or "off".
func (c *Client) SetRepeat(mode string) {
	c.dispatch("repeat", func(ctx context.Context, api *spotify.Client) error {
		return api.Repeat(ctx, mode)
	})
}

// SetVolume sets the playback volume percentage.
func (c *Client) SetVolume(pct int) {
	c.dispatch("volume", func(ctx context.Context, api *spotify.Client) error {
		return api.Volume(ctx, pct)
	})
}

// ClearQueue is a no-op: the Web API offers no queue-clearing endpoint.
// Kept so pre-staged tracks at least land behind whatever is queued.
func (c *Client) ClearQueue() {
	zlog.Debug().Msg("clear queue is not supported by the playback API, skipping")
}

// Enqueue adds a track to the playback queue.
func (c *Client) Enqueue(trackID string) {
	id := spotify.ID(trackID)
	c.dispatch("enqueue", func(ctx context.Context, api *spotify.Client) error {
		return api.QueueSong(ctx, id)
	})
}

// Transfer moves playback to the given device.
func (c *Client) Transfer(deviceID string) {
	id := spotify.ID(deviceID)
	c.dispatch("transfer", func(ctx context.Context, api *spotify.Client) error {
		return api.TransferPlayback(ctx, id, true)
	})
}

// dispatch queues a command for the background worker. While disconnected
// all commands are no-ops until reconnection succeeds.
func (c *Client) dispatch(op string, run func(ctx context.Context, api *spotify.Client) error) {
	if c.disconnected.Load() {
		zlog.Debug().Str("op", op).Msg("player disconnected, dropping command")
		return
	}
	select {
	case c.cmds <- command{op: op, run: run}:
	default:
		zlog.Warn().Str("op", op).Msg("player command buffer full, dropping command")
	}
}

// commandLoop executes commands one at a time. An authorization failure
// triggers one re-authorization and a single retry; if that fails, or the
// same operation fails twice in a row, the client flips to disconnected.
func (c *Client) commandLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case cmd := <-c.cmds:
			c.execute(cmd)
		}
	}
}

func (c *Client) execute(cmd command) {
	if c.disconnected.Load() {
		return
	}
	err := c.runCommand(cmd)
	if err == nil {
		c.resetFailures()
		return
	}

	switch {
	case isAuthError(err):
		c.authorize()
		if err = c.runCommand(cmd); err == nil {
			c.resetFailures()
			return
		}
		if isAuthError(err) {
			zlog.Error().Err(err).Str("op", cmd.op).Msg("re-authorization failed, player disconnected")
			c.notifyFailure(cmd.op)
			c.disconnected.Store(true)
			return
		}
	case isTransientError(err):
		// Rate limits and server hiccups get one delayed retry.
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(time.Second):
		}
		if err = c.runCommand(cmd); err == nil {
			c.resetFailures()
			return
		}
	}

	zlog.Warn().Err(err).Str("op", cmd.op).Msg("player command failed")
	c.notifyFailure(cmd.op)
	if c.lastFailedOp == cmd.op {
		c.failCount++
	} else {
		c.lastFailedOp = cmd.op
		c.failCount = 1
	}
	// The same operation failing twice in a row is treated as the player
	// being unreachable rather than a transient hiccup.
	if c.failCount >= 2 {
		c.disconnected.Store(true)
	}
}

func (c *Client) resetFailures() {
	c.lastFailedOp = ""
	c.failCount = 0
	c.lastNotifiedOp = ""
}

// notifyFailure surfaces one notice per failing operation. A repeat of the
// operation that already notified stays in the logs only.
func (c *Client) notifyFailure(op string) {
	if c.cfg.Notifier == nil || c.lastNotifiedOp == op {
		return
	}
	c.lastNotifiedOp = op
	c.cfg.Notifier.Notify("A player "+op+" command failed, it may not have been applied.", true)
}

func (c *Client) runCommand(cmd command) error {
	c.mu.RLock()
	api := c.api
	c.mu.RUnlock()
	ctx, cancelFn := context.WithTimeout(c.ctx, 10*time.Second)
	defer cancelFn()
	return cmd.run(ctx, api)
}

// isTransientError checks if an error is worth one delayed retry.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "500") ||
		strings.Contains(msg, "502") ||
		strings.Contains(msg, "503")
}

// isAuthError checks if an error indicates an expired or invalid token.
func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "401") ||
		strings.Contains(msg, "token expired") ||
		strings.Contains(msg, "invalid_grant") ||
		strings.Contains(msg, "Only valid bearer authentication supported")
}
