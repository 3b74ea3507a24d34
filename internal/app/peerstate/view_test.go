package peerstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spotalong/spotalong/internal/domain/status"
)

func TestViewSetAndGet(t *testing.T) {
	v := NewView()

	_, ok := v.Get("alice")
	assert.False(t, ok)

	v.Set("alice", status.PlaybackStatus{TrackID: "t1", Kind: status.KindTrack})
	st, ok := v.Get("alice")
	require.True(t, ok)
	assert.Equal(t, "t1", st.TrackID)

	// Snapshots replace wholesale.
	v.Set("alice", status.PlaybackStatus{Kind: status.KindAd})
	st, ok = v.Get("alice")
	require.True(t, ok)
	assert.Empty(t, st.TrackID)
	assert.Equal(t, status.KindAd, st.Kind)
}

func TestViewDisplayName(t *testing.T) {
	v := NewView()

	assert.Equal(t, "alice", v.DisplayName("alice"))

	v.SetName("alice", "Alice")
	assert.Equal(t, "Alice", v.DisplayName("alice"))

	// A status update must not clobber the name.
	v.Set("alice", status.PlaybackStatus{TrackID: "t1", Kind: status.KindTrack})
	assert.Equal(t, "Alice", v.DisplayName("alice"))
}

func TestViewRemove(t *testing.T) {
	v := NewView()
	v.Set("alice", status.PlaybackStatus{TrackID: "t1", Kind: status.KindTrack})
	v.Set("bob", status.PlaybackStatus{TrackID: "t2", Kind: status.KindTrack})

	v.Remove("alice")
	_, ok := v.Get("alice")
	assert.False(t, ok)
	_, ok = v.Get("bob")
	assert.True(t, ok)

	assert.Equal(t, []string{"bob"}, v.Peers())
}
