package status

// PlayerState is the wire shape exchanged while a listening session is
// active: broadcast outward by the host and pushed back as a corrected
// target state by a listening peer.
type PlayerState struct {
	TrackID    string  `json:"songid" mapstructure:"songid"`
	Progress   float64 `json:"progress" mapstructure:"progress"`
	Playing    bool    `json:"is_playing" mapstructure:"is_playing"`
	RepeatMode string  `json:"looping" mapstructure:"looping"`
}
