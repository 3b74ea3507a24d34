// Package status provides playback status snapshots shared by the local
// player and remote peers.
package status

import "strings"

// TrackKind represents what kind of content a party is playing.
type TrackKind int

const (
	KindNone      TrackKind = iota // Nothing playing
	KindTrack                      // A regular, playable track
	KindLocalFile                  // A local file (not addressable remotely)
	KindAd                         // An advertisement
	KindEpisode                    // A podcast episode
)

// String returns the string representation of the track kind.
func (k TrackKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTrack:
		return "track"
	case KindLocalFile:
		return "local_file"
	case KindAd:
		return "ad"
	case KindEpisode:
		return "episode"
	default:
		return "unknown"
	}
}

// ParseKind parses a track kind string as reported over the wire.
// Unknown values map to KindNone.
func ParseKind(s string) TrackKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "track":
		return KindTrack
	case "local_file", "local file":
		return KindLocalFile
	case "ad":
		return KindAd
	case "episode":
		return KindEpisode
	default:
		return KindNone
	}
}

// PlaybackStatus is an immutable snapshot of what a party is playing.
// Snapshots are replaced wholesale on each update, never mutated in place.
type PlaybackStatus struct {
	TrackID     string    // Empty when nothing addressable is playing
	Kind        TrackKind // What kind of content is playing
	Playing     bool      // Whether playback is active
	Progress    *float64  // Progress through the track in seconds, nil if unknown
	DurationMS  *int      // Track duration in milliseconds, nil if unknown
	ContextType string    // Playback context (album/playlist/artist), may be empty
	RepeatMode  string    // "track", "context" or "off", may be empty
}

// HasTrack reports whether the snapshot describes a playable track.
func (s PlaybackStatus) HasTrack() bool {
	return s.Kind == KindTrack && s.TrackID != ""
}

// NearEnd reports whether the track is within windowSec of ending.
// unknownIsEnding decides how a missing duration is treated: the local
// player treats unknown as ending (it is the one about to be interrupted),
// a peer treats unknown as not ending.
func (s PlaybackStatus) NearEnd(windowSec float64, unknownIsEnding bool) bool {
	if s.DurationMS == nil {
		return unknownIsEnding
	}
	var progress float64
	if s.Progress != nil {
		progress = *s.Progress
	}
	return float64(*s.DurationMS)/1000-progress < windowSec
}

// QueueEntry is the externally visible next-track hint.
type QueueEntry struct {
	URI string
}

// TrackIDFromURI extracts the bare track id from a spotify:track:<id> URI.
// Malformed or non-track URIs return ok=false rather than failing.
func TrackIDFromURI(uri string) (string, bool) {
	parts := strings.Split(uri, ":")
	if len(parts) < 3 || parts[2] == "" {
		return "", false
	}
	if parts[1] != "track" {
		return "", false
	}
	return parts[2], true
}

// NextTrackURI returns the first queue entry that refers to a regular
// track, skipping ads and local files.
func NextTrackURI(queue []QueueEntry) (string, bool) {
	for _, entry := range queue {
		if _, ok := TrackIDFromURI(entry.URI); ok {
			return entry.URI, true
		}
	}
	return "", false
}
