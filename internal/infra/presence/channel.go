// Package presence provides the bidirectional event channel to the
// coordination service.
package presence

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/spotalong/spotalong/internal/domain/status"
)

// Handlers receives inbound channel events. Events for a single peer are
// dispatched in receive order; nil handlers are skipped.
type Handlers struct {
	PeerTrackUpdate  func(peerID string, st status.PlaybackStatus, displayName string)
	FriendRemoved    func(peerID string)
	ListeningStarted func(peerID string)
	ListeningEnded   func(peerID string)
	RemoteState      func(st status.PlayerState)
	QueueAdd         func(uri string)
	RemoteEnd        func(peerID, reason string)
	Disconnected     func()
}

// Config represents channel configuration.
type Config struct {
	URL            string
	AuthToken      string
	ReconnectDelay time.Duration
}

// message is the JSON frame exchanged with the coordination service.
type message struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Channel maintains a persistent websocket connection with automatic
// reconnection. Emits are fire-and-forget; a full outgoing buffer drops
// the message rather than blocking a sync loop.
type Channel struct {
	cfg      Config
	handlers Handlers

	out       chan message
	connected atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a channel. Call Run to connect.
func New(cfg Config, handlers Handlers) *Channel {
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		cfg:      cfg,
		handlers: handlers,
		out:      make(chan message, 64),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Run starts the connection loop on a background worker.
func (c *Channel) Run() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			if err := c.connectAndServe(); err != nil {
				zlog.Warn().Err(err).Msg("presence channel connection lost")
			}
			select {
			case <-c.ctx.Done():
				return
			default:
			}
			if c.handlers.Disconnected != nil {
				c.handlers.Disconnected()
			}
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(c.cfg.ReconnectDelay):
			}
		}
	}()
}

// Close tears down the connection and waits for workers to exit.
func (c *Channel) Close() {
	c.cancel()
	c.wg.Wait()
}

// Connected reports whether the channel currently has a live connection.
func (c *Channel) Connected() bool {
	return c.connected.Load()
}

// StartListening announces that this user started listening along to peerID.
func (c *Channel) StartListening(peerID string) {
	c.emit(message{Event: "start_listening", Data: peerID})
}

// EndListening announces that this user stopped listening along.
func (c *Channel) EndListening() {
	c.emit(message{Event: "end_listening"})
}

// BroadcastState publishes the local playback state to listening peers.
func (c *Channel) BroadcastState(st status.PlayerState) {
	c.emit(message{Event: "send_current_state", Data: st})
}

// BroadcastNextTrack publishes the local queue's next track uri.
func (c *Channel) BroadcastNextTrack(uri string) {
	c.emit(message{Event: "upload_precache", Data: uri})
}

func (c *Channel) emit(msg message) {
	select {
	case c.out <- msg:
	default:
		zlog.Warn().Str("event", msg.Event).Msg("presence outgoing buffer full, dropping event")
	}
}

func (c *Channel) connectAndServe() error {
	header := http.Header{}
	if c.cfg.AuthToken != "" {
		header.Set("Authorization", c.cfg.AuthToken)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(c.ctx, c.cfg.URL, header)
	if err != nil {
		return errors.Wrap(err, "dial failed")
	}
	defer conn.Close()

	c.connected.Store(true)
	defer c.connected.Store(false)
	zlog.Info().Str("url", c.cfg.URL).Msg("presence channel connected")

	// A pending ReadJSON only unblocks when the connection dies, so force
	// the connection closed on cancellation instead of waiting out the
	// read deadline.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-c.ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	// Writer drains the outgoing buffer until the connection dies.
	writeDone := make(chan struct{})
	writeErr := make(chan error, 1)
	go func() {
		for {
			select {
			case <-writeDone:
				return
			case <-c.ctx.Done():
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			case msg := <-c.out:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					writeErr <- err
					return
				}
			}
		}
	}()
	defer close(writeDone)

	for {
		select {
		case err := <-writeErr:
			return errors.Wrap(err, "write failed")
		case <-c.ctx.Done():
			return nil
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		var msg struct {
			Event string `json:"event"`
			Data  any    `json:"data"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			if c.ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "read failed")
		}
		c.dispatch(msg.Event, msg.Data)
	}
}
