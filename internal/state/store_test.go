package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestDeepMerges(t *testing.T) {
	store := NewStore()
	store.Ingest("player/RINCON_A/AVTransport", map[string]any{
		"transport_state":         "PLAYING",
		"current_track_meta_data": map[string]any{"title": "Song", "album": "Record"},
	}, false)
	store.Ingest("player/RINCON_A/AVTransport", map[string]any{
		"current_track_meta_data": map[string]any{"title": "Next Song"},
	}, false)

	assert.Equal(t, "PLAYING", LookupString(store.Snapshot(), "player/RINCON_A/AVTransport/transport_state"))
	track, ok := store.Get("player/RINCON_A/AVTransport/current_track_meta_data")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"title": "Next Song", "album": "Record"}, track)
}

func TestOverwriteReplacesSubtree(t *testing.T) {
	store := NewStore()
	store.Ingest("player/RINCON_A/group", map[string]any{"coordinator": "RINCON_B", "members": []any{"RINCON_A", "RINCON_B"}}, true)
	store.Ingest("player/RINCON_A/group", map[string]any{"coordinator": "RINCON_A", "members": []any{"RINCON_A"}}, true)

	group, ok := store.Get("player/RINCON_A/group")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"coordinator": "RINCON_A", "members": []any{"RINCON_A"}}, group)
}

func TestRepeatedOverwriteIsIdempotent(t *testing.T) {
	store := NewStore()
	group := map[string]any{"coordinator": "RINCON_A", "members": []any{"RINCON_A", "RINCON_B"}}
	store.Ingest("player/RINCON_B/group", group, true)
	first := store.Snapshot()
	store.Ingest("player/RINCON_B/group", group, true)
	assert.Equal(t, first, store.Snapshot())
}

func TestReadersGetCopies(t *testing.T) {
	store := NewStore()
	value := map[string]any{"volume": map[string]any{"Master": "10"}}
	store.Ingest("player/RINCON_A/RenderingControl", value, false)
	value["volume"].(map[string]any)["Master"] = "99"

	snapshot := store.Snapshot()
	snapshot["player"] = "clobbered"

	assert.Equal(t, "10", LookupString(store.Snapshot(), "player/RINCON_A/RenderingControl/volume/Master"))
}

func TestScalarReplacedByMap(t *testing.T) {
	store := NewStore()
	store.Ingest("player/RINCON_A/AVTransport/current_track_meta_data", "", false)
	store.Ingest("player/RINCON_A/AVTransport/current_track_meta_data", map[string]any{"title": "Song"}, false)
	assert.Equal(t, "Song", LookupString(store.Snapshot(), "player/RINCON_A/AVTransport/current_track_meta_data/title"))
}

func TestSubscribersSeeChanges(t *testing.T) {
	store := NewStore()
	changes, cancel := store.Subscribe(4)
	defer cancel()

	store.Ingest("/player/RINCON_A/name/", "Kitchen", false)
	change := <-changes
	assert.Equal(t, "player/RINCON_A/name", change.Path)

	store.Reset()
	change = <-changes
	assert.True(t, change.Overwrite)
	assert.False(t, store.Has("player"))
}

func TestLookupStrings(t *testing.T) {
	tree := map[string]any{"group": map[string]any{"members": []any{"A", "B"}}}
	assert.Equal(t, []string{"A", "B"}, LookupStrings(tree, "group/members"))
	assert.Nil(t, LookupStrings(tree, "group/missing"))
}
