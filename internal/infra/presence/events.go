package presence

import (
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/spotalong/spotalong/internal/domain/status"
)

// songUpdate is the wire payload of a peer playback update.
type songUpdate struct {
	ClientID    string   `mapstructure:"client_id"`
	Username    string   `mapstructure:"clientusername"`
	SongID      string   `mapstructure:"songid"`
	Progress    *float64 `mapstructure:"progress"`
	DurationMS  *int     `mapstructure:"duration"`
	Playing     bool     `mapstructure:"is_playing"`
	PlayingType string   `mapstructure:"playing_type"`
	ContextType string   `mapstructure:"contexttype"`
	RepeatMode  string   `mapstructure:"looping"`
}

// remoteEnd is the wire payload of a remotely ended session.
type remoteEnd struct {
	ID     string `mapstructure:"id"`
	Reason string `mapstructure:"reason"`
}

// dispatch routes an inbound event to its handler. Unknown events and
// undecodable payloads are logged and dropped, never fatal.
func (c *Channel) dispatch(event string, data any) {
	switch event {
	case "song_update":
		if c.handlers.PeerTrackUpdate == nil {
			return
		}
		var upd songUpdate
		if err := decode(data, &upd); err != nil {
			zlog.Warn().Err(err).Msg("undecodable song_update payload")
			return
		}
		if upd.ClientID == "" {
			return
		}
		c.handlers.PeerTrackUpdate(upd.ClientID, status.PlaybackStatus{
			TrackID:     upd.SongID,
			Kind:        status.ParseKind(upd.PlayingType),
			Playing:     upd.Playing,
			Progress:    upd.Progress,
			DurationMS:  upd.DurationMS,
			ContextType: upd.ContextType,
			RepeatMode:  upd.RepeatMode,
		}, upd.Username)

	case "remove_friend":
		var payload struct {
			ID string `mapstructure:"id"`
		}
		if err := decode(data, &payload); err != nil || payload.ID == "" {
			return
		}
		if c.handlers.FriendRemoved != nil {
			c.handlers.FriendRemoved(payload.ID)
		}

	case "start_listening_from_user":
		if id, ok := data.(string); ok && c.handlers.ListeningStarted != nil {
			c.handlers.ListeningStarted(id)
		}

	case "end_listening_from_user":
		if id, ok := data.(string); ok && c.handlers.ListeningEnded != nil {
			c.handlers.ListeningEnded(id)
		}

	case "listening_state":
		if c.handlers.RemoteState == nil {
			return
		}
		var st status.PlayerState
		if err := decode(data, &st); err != nil {
			zlog.Warn().Err(err).Msg("undecodable listening_state payload")
			return
		}
		c.handlers.RemoteState(st)

	case "add_to_queue":
		if uri, ok := data.(string); ok && c.handlers.QueueAdd != nil {
			c.handlers.QueueAdd(uri)
		}

	case "end_listening_session":
		var payload remoteEnd
		if err := decode(data, &payload); err != nil {
			return
		}
		if c.handlers.RemoteEnd != nil {
			c.handlers.RemoteEnd(payload.ID, payload.Reason)
		}

	default:
		zlog.Debug().Str("event", event).Msg("ignoring unhandled presence event")
	}
}

// decode maps a loosely typed JSON payload onto a typed struct. Numbers
// arrive as float64, so weak typing is required for integer fields.
func decode(data any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(data)
}
