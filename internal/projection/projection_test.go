package projection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture() map[string]any {
	return map[string]any{
		"favorite": []any{
			map[string]any{"title": "Jazz", "uri": "x-sonosapi-radio:jazz"},
			map[string]any{"title": "Radio", "uri": "x-sonosapi-stream:radio"},
		},
		"player": map[string]any{
			"RINCON_A": map[string]any{
				"name":    "Kitchen",
				"visible": true,
				"group": map[string]any{
					"id":          "RINCON_A:1",
					"coordinator": "RINCON_A",
					"members":     []any{"RINCON_A", "RINCON_B", "RINCON_C"},
				},
				"AVTransport": map[string]any{
					"transport_state":        "TRANSITIONING",
					"enqueued_transport_uri": "x-sonosapi-radio:jazz",
					"current_track_meta_data": map[string]any{
						"title":         "So What (Remastered) [Live]",
						"creator":       "Miles Davis",
						"album":         "Kind of Blue",
						"album_art_uri": "/getaa?s=1&u=x",
					},
					"enqueued_transport_uri_meta_data": map[string]any{
						"title": "Jazz",
					},
				},
				"RenderingControl": map[string]any{
					"volume": map[string]any{"Master": "35"},
					"mute":   map[string]any{"Master": "1"},
				},
			},
			"RINCON_B": map[string]any{
				"name":    "Den",
				"visible": true,
				"group": map[string]any{
					"id":          "RINCON_A:1",
					"coordinator": "RINCON_A",
					"members":     []any{"RINCON_A", "RINCON_B", "RINCON_C"},
				},
				"AVTransport": map[string]any{"transport_state": "PAUSED_PLAYBACK"},
				"RenderingControl": map[string]any{
					"volume": map[string]any{"Master": "12"},
					"mute":   map[string]any{"Master": "0"},
				},
			},
			"RINCON_C": map[string]any{
				"name":    "Den Sub",
				"visible": false,
			},
		},
	}
}

func registeredAB(uid string) bool {
	return uid == "RINCON_A" || uid == "RINCON_B"
}

func TestMusicFollowsCoordinator(t *testing.T) {
	music := MusicFor(fixture(), "RINCON_B", registeredAB)

	assert.Equal(t, "Miles Davis", music.Artist)
	assert.Equal(t, "So What", music.Title)
	assert.Equal(t, "Kind of Blue", music.Album)
	assert.Equal(t, "x-sonosapi-radio:jazz", music.URL)
	assert.Equal(t, "/image/sonos/player/RINCON_A/AVTransport/current_track_meta_data/album_art_uri?album=Kind+of+Blue", music.Art)
	assert.Equal(t, []string{"sonos:player:RINCON_A"}, music.Linked)
	assert.Equal(t, "PAUSED_PLAYBACK", music.PlaybackState)
}

func TestMusicPlaybackState(t *testing.T) {
	tree := fixture()
	assert.Equal(t, "PLAYING", MusicFor(tree, "RINCON_A", nil).PlaybackState)
	assert.Equal(t, "STOPPED", MusicFor(tree, "RINCON_C", nil).PlaybackState)
}

func TestMusicPrefersEnqueuedArt(t *testing.T) {
	tree := fixture()
	av := tree["player"].(map[string]any)["RINCON_A"].(map[string]any)["AVTransport"].(map[string]any)
	av["enqueued_transport_uri_meta_data"].(map[string]any)["album_art_uri"] = "http://art/jazz.png"

	music := MusicFor(tree, "RINCON_A", nil)
	assert.Equal(t, "/image/sonos/player/RINCON_A/AVTransport/enqueued_transport_uri_meta_data/album_art_uri", music.Art)
}

func TestMusicFallsBackToEnqueuedTitle(t *testing.T) {
	tree := fixture()
	av := tree["player"].(map[string]any)["RINCON_A"].(map[string]any)["AVTransport"].(map[string]any)
	av["current_track_meta_data"] = map[string]any{}
	av["enqueued_transport_uri_meta_data"] = map[string]any{"title": "Jazz (Curated)", "creator": "Station"}

	music := MusicFor(tree, "RINCON_A", nil)
	assert.Equal(t, "Jazz", music.Title)
	assert.Equal(t, "Station", music.Artist)
	assert.Equal(t, LogoPath, music.Art)
}

func TestMusicLineIn(t *testing.T) {
	tree := fixture()
	av := tree["player"].(map[string]any)["RINCON_A"].(map[string]any)["AVTransport"].(map[string]any)
	av["av_transport_uri_meta_data"] = map[string]any{"title": "AirPlay Device: Phone"}

	music := MusicFor(tree, "RINCON_A", nil)
	assert.Equal(t, "Line-In", music.Title)
	assert.Equal(t, "lineinput", music.URL)
	assert.Equal(t, LogoPath, music.Art)
	assert.Empty(t, music.Artist)
}

func TestMusicWithoutTransport(t *testing.T) {
	music := MusicFor(fixture(), "RINCON_C", nil)
	assert.Equal(t, LogoPath, music.Art)
	assert.Empty(t, music.Title)
	assert.Empty(t, music.Linked)
}

func TestSpeaker(t *testing.T) {
	tree := fixture()
	assert.Equal(t, Speaker{Volume: 35, Muted: true}, SpeakerFor(tree, "RINCON_A"))
	assert.Equal(t, Speaker{Volume: 12, Muted: false}, SpeakerFor(tree, "RINCON_B"))
	assert.Equal(t, Speaker{}, SpeakerFor(tree, "RINCON_C"))
}

func TestInput(t *testing.T) {
	input := InputFor(fixture(), "RINCON_B")
	assert.Equal(t, "Kitchen", input.Input)
	assert.Equal(t, []string{"Den", "Kitchen"}, input.Inputs)
}

func TestFavorite(t *testing.T) {
	tree := fixture()
	assert.Equal(t, "Jazz", FavoriteFor(tree, "RINCON_B"))

	av := tree["player"].(map[string]any)["RINCON_A"].(map[string]any)["AVTransport"].(map[string]any)
	av["enqueued_transport_uri"] = "x-rincon-mp3radio://other"
	assert.Empty(t, FavoriteFor(tree, "RINCON_A"))
}

func TestCleanTitle(t *testing.T) {
	assert.Equal(t, "Song", CleanTitle("Song (feat. Someone)"))
	assert.Equal(t, "Song  Two", CleanTitle("Song [Live] Two"))
	assert.Equal(t, "Plain", CleanTitle("Plain"))
}

func TestAll(t *testing.T) {
	all := All(fixture(), "RINCON_A", registeredAB)
	require.Contains(t, all, "MusicController")
	assert.Equal(t, Health{Connectivity: "OK"}, all["EndpointHealth"])
	assert.Equal(t, map[string]any{"mode": "Jazz"}, all["FavoriteController"])
}
