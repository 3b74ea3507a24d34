// Package player provides the local media-control client backed by the
// Spotify Web API.
package player

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/spotalong/spotalong/internal/domain/status"
)

const playerStateURL = "https://api.spotify.com/v1/me/player"

// Notifier surfaces user-visible notices about player failures.
type Notifier interface {
	Notify(message string, isError bool)
}

// Config represents player client configuration.
type Config struct {
	ClientID      string
	ClientSecret  string
	RefreshToken  string
	DeviceName    string
	StatusRefresh time.Duration
	Notifier      Notifier
}

// Client wraps the Spotify playback-control API with a cached status
// snapshot and a background command worker. Commands are fire-and-forget;
// failures are logged and repeated failures flip the client into a
// disconnected state where further commands are no-ops.
type Client struct {
	cfg Config

	mu        sync.RWMutex
	api       *spotify.Client
	http      *http.Client
	current   status.PlaybackStatus
	queue     []status.QueueEntry
	fetchedAt time.Time

	listenerMu sync.RWMutex
	listeners  []func()

	disconnected atomic.Bool
	cmds         chan command
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup

	// Consecutive failure tracking for the escalation policy. A failing
	// operation notifies the user once; repeats stay in the logs only.
	lastFailedOp   string
	failCount      int
	lastNotifiedOp string
	pollFails      int
}

// New creates a player client. Call Run to start the status poll and the
// command worker.
func New(cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, errors.New("spotify credentials are required")
	}
	if cfg.StatusRefresh == 0 {
		cfg.StatusRefresh = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:    cfg,
		cmds:   make(chan command, 32),
		ctx:    ctx,
		cancel: cancel,
	}
	c.authorize()
	return c, nil
}

// authorize builds a fresh API client from the refresh token. The oauth2
// transport refreshes access tokens on its own; rebuilding is the one
// explicit re-authorization attempt the failure policy allows.
func (c *Client) authorize() {
	auth := spotifyauth.New(
		spotifyauth.WithClientID(c.cfg.ClientID),
		spotifyauth.WithClientSecret(c.cfg.ClientSecret),
		spotifyauth.WithScopes(
			spotifyauth.ScopeUserReadPlaybackState,
			spotifyauth.ScopeUserReadCurrentlyPlaying,
			spotifyauth.ScopeUserModifyPlaybackState,
		),
	)
	token := &oauth2.Token{RefreshToken: c.cfg.RefreshToken}
	httpClient := auth.Client(context.Background(), token)

	c.mu.Lock()
	c.http = httpClient
	c.api = spotify.New(httpClient)
	c.mu.Unlock()
}

// Run starts the status poll loop and the command worker.
func (c *Client) Run() {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.pollLoop()
	}()
	go func() {
		defer c.wg.Done()
		c.commandLoop()
	}()
	if c.cfg.DeviceName != "" {
		c.adoptDevice()
	}
}

// adoptDevice moves playback to the configured device if it is known and
// not already active. Best effort; the session works on whatever device is
// active otherwise.
func (c *Client) adoptDevice() {
	ctx, cancelFn := context.WithTimeout(c.ctx, 10*time.Second)
	defer cancelFn()

	c.mu.RLock()
	api := c.api
	c.mu.RUnlock()
	devices, err := api.PlayerDevices(ctx)
	if err != nil {
		zlog.Warn().Err(err).Msg("failed to list playback devices")
		return
	}
	for _, d := range devices {
		if d.Name != c.cfg.DeviceName {
			continue
		}
		if d.Active {
			return
		}
		c.Transfer(string(d.ID))
		zlog.Info().Str("device", d.Name).Msg("transferring playback")
		return
	}
	zlog.Warn().Str("device", c.cfg.DeviceName).Msg("configured playback device not found")
}

// Close stops the workers.
func (c *Client) Close() {
	c.cancel()
	c.wg.Wait()
}

// Disconnected reports whether the client has given up on the player API
// until reconnection succeeds.
func (c *Client) Disconnected() bool {
	return c.disconnected.Load()
}

// CurrentStatus returns the cached playback snapshot.
func (c *Client) CurrentStatus() status.PlaybackStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Position returns the best-effort playback position in seconds,
// extrapolated from the cached snapshot while playing.
func (c *Client) Position() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current.Progress == nil {
		return 0
	}
	pos := *c.current.Progress
	if c.current.Playing && !c.fetchedAt.IsZero() {
		pos += time.Since(c.fetchedAt).Seconds()
	}
	return pos
}

// Queue returns the cached playback queue.
func (c *Client) Queue() []status.QueueEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]status.QueueEntry, len(c.queue))
	copy(result, c.queue)
	return result
}

// AddListener registers a callback invoked after each status refresh.
func (c *Client) AddListener(fn func()) {
	c.listenerMu.Lock()
	c.listeners = append(c.listeners, fn)
	c.listenerMu.Unlock()
}

func (c *Client) notifyListeners() {
	c.listenerMu.RLock()
	listeners := make([]func(), len(c.listeners))
	copy(listeners, c.listeners)
	c.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
}

// pollLoop refreshes the cached status and queue on a short interval.
func (c *Client) pollLoop() {
	ticker := time.NewTicker(c.cfg.StatusRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		}
		if err := c.refresh(); err != nil {
			c.pollFails++
			zlog.Debug().Err(err).Msg("player status refresh failed")
			if c.pollFails >= 3 {
				c.disconnected.Store(true)
			}
			continue
		}
		c.pollFails = 0
		c.disconnected.Store(false)
		c.notifyListeners()
	}
}

// refresh fetches the player state and queue, replacing the cached
// snapshots wholesale.
func (c *Client) refresh() error {
	ctx, cancelFn := context.WithTimeout(c.ctx, 10*time.Second)
	defer cancelFn()

	st, err := c.fetchState(ctx)
	if err != nil {
		return err
	}

	var queue []status.QueueEntry
	c.mu.RLock()
	api := c.api
	c.mu.RUnlock()
	if q, err := api.GetQueue(ctx); err == nil {
		for _, item := range q.Items {
			queue = append(queue, status.QueueEntry{URI: string(item.URI)})
		}
	}

	c.mu.Lock()
	c.current = st
	c.queue = queue
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return nil
}

// playerStateResponse mirrors the /me/player payload. The raw endpoint is
// used because currently_playing_type (needed for ad detection) is not
// surfaced by the typed client.
type playerStateResponse struct {
	RepeatState          string `json:"repeat_state"`
	ProgressMS           *int   `json:"progress_ms"`
	IsPlaying            bool   `json:"is_playing"`
	CurrentlyPlayingType string `json:"currently_playing_type"`
	Context              *struct {
		Type string `json:"type"`
	} `json:"context"`
	Item *struct {
		ID         string `json:"id"`
		URI        string `json:"uri"`
		DurationMS int    `json:"duration_ms"`
		IsLocal    bool   `json:"is_local"`
	} `json:"item"`
}

func (c *Client) fetchState(ctx context.Context) (status.PlaybackStatus, error) {
	c.mu.RLock()
	httpClient := c.http
	c.mu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, playerStateURL, nil)
	if err != nil {
		return status.PlaybackStatus{}, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return status.PlaybackStatus{}, errors.Wrap(err, "player state request failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		// No active device.
		return status.PlaybackStatus{Kind: status.KindNone}, nil
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return status.PlaybackStatus{}, errors.Newf("player state request returned %d: %s", resp.StatusCode, body)
	}

	var state playerStateResponse
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return status.PlaybackStatus{}, errors.Wrap(err, "failed to decode player state")
	}
	return convertState(state), nil
}

func convertState(state playerStateResponse) status.PlaybackStatus {
	st := status.PlaybackStatus{
		Playing:    state.IsPlaying,
		RepeatMode: state.RepeatState,
	}
	if state.Context != nil {
		st.ContextType = state.Context.Type
	}
	if state.ProgressMS != nil {
		progress := float64(*state.ProgressMS) / 1000
		st.Progress = &progress
	}

	switch state.CurrentlyPlayingType {
	case "ad":
		st.Kind = status.KindAd
	case "episode":
		st.Kind = status.KindEpisode
	case "track":
		st.Kind = status.KindTrack
	default:
		st.Kind = status.KindNone
	}

	if state.Item != nil {
		if state.Item.IsLocal {
			st.Kind = status.KindLocalFile
		} else {
			st.TrackID = state.Item.ID
		}
		duration := state.Item.DurationMS
		st.DurationMS = &duration
	}
	return st
}
