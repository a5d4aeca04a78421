package events

import (
	"errors"
	"html"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/sonos-bridge-go/internal/apperrors"
)

const trackDIDL = `<DIDL-Lite xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/" xmlns:r="urn:schemas-rinconnetworks-com:metadata-1-0/" xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/">` +
	`<item id="-1" parentID="-1" restricted="true"><res protocolInfo="sonos.com-http:*:audio/mp4:*" duration="0:03:41">x-sonos-http:track.mp4</res>` +
	`<upnp:albumArtURI>/getaa?s=1&amp;u=x-sonos-http%3atrack.mp4</upnp:albumArtURI><upnp:class>object.item.audioItem.musicTrack</upnp:class>` +
	`<dc:title>Song</dc:title><dc:creator>Band</dc:creator><upnp:album>Record</upnp:album></item></DIDL-Lite>`

func propertySet(props ...string) []byte {
	body := `<e:propertyset xmlns:e="urn:schemas-upnp-org:event-1-0">`
	for _, prop := range props {
		body += `<e:property>` + prop + `</e:property>`
	}
	return []byte(body + `</e:propertyset>`)
}

func lastChange(inner string) string {
	return `<LastChange>` + html.EscapeString(`<Event xmlns="urn:schemas-upnp-org:metadata-1-0/AVT/"><InstanceID val="0">`+inner+`</InstanceID></Event>`) + `</LastChange>`
}

func TestCamelToSnake(t *testing.T) {
	assert.Equal(t, "current_track_meta_data", CamelToSnake("CurrentTrackMetaData"))
	assert.Equal(t, "av_transport_uri", CamelToSnake("AVTransportURI"))
	assert.Equal(t, "zone_group_state", CamelToSnake("ZoneGroupState"))
	assert.Equal(t, "album_art_uri", CamelToSnake("albumArtURI"))
	assert.Equal(t, "transport_state", CamelToSnake("TransportState"))
}

func TestParseAVTransportLastChange(t *testing.T) {
	body := propertySet(lastChange(
		`<TransportState val="PLAYING"/>` +
			`<CurrentTrackMetaData val="` + html.EscapeString(trackDIDL) + `"/>` +
			`<CurrentPlayMode val="NORMAL"/>`,
	))

	vars, err := ParseNotifyBody(body)
	require.NoError(t, err)
	assert.Equal(t, "PLAYING", vars["transport_state"])
	assert.Equal(t, "NORMAL", vars["current_play_mode"])

	meta, ok := vars["current_track_meta_data"].(DidlObject)
	require.True(t, ok)
	assert.Equal(t, "Song", meta.Title)
	assert.Equal(t, "object.item.audioItem.musicTrack", meta.Class)
	assert.Equal(t, "Band", meta.Metadata["creator"])
	assert.Equal(t, "Record", meta.Metadata["album"])
	assert.Equal(t, "/getaa?s=1&u=x-sonos-http%3atrack.mp4", meta.Metadata["album_art_uri"])
	require.Len(t, meta.Resources, 1)
	assert.Equal(t, "x-sonos-http:track.mp4", meta.Resources[0].URI)
	assert.Equal(t, "0:03:41", meta.Resources[0].Duration)
}

func TestParseRenderingControlChannels(t *testing.T) {
	body := propertySet(lastChange(
		`<Volume channel="Master" val="20"/><Volume channel="LF" val="100"/><Mute channel="Master" val="0"/>`,
	))

	vars, err := ParseNotifyBody(body)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"Master": "20", "LF": "100"}, vars["volume"])
	assert.Equal(t, map[string]any{"Master": "0"}, vars["mute"])
}

func TestBrokenMetadataBecomesFault(t *testing.T) {
	body := propertySet(lastChange(`<CurrentTrackMetaData val="NOT_IMPLEMENTED"/>`))

	vars, err := ParseNotifyBody(body)
	require.NoError(t, err)

	fault, ok := vars["current_track_meta_data"].(Fault)
	require.True(t, ok)
	assert.True(t, errors.Is(fault, apperrors.ErrDecodeFault))
	assert.Equal(t, "NOT_IMPLEMENTED", fault.Raw)
}

func TestParsePlainProperties(t *testing.T) {
	zgs := `<ZoneGroupState><ZoneGroups><ZoneGroup Coordinator="RINCON_A" ID="RINCON_A:1"/></ZoneGroups></ZoneGroupState>`
	body := propertySet(
		`<ZoneGroupState>`+html.EscapeString(zgs)+`</ZoneGroupState>`,
		`<ZoneName>Kitchen</ZoneName>`,
	)

	vars, err := ParseNotifyBody(body)
	require.NoError(t, err)
	assert.Equal(t, zgs, vars["zone_group_state"])
	assert.Equal(t, "Kitchen", vars["zone_name"])
}

func TestParseNotifyBodyRejectsGarbage(t *testing.T) {
	_, err := ParseNotifyBody([]byte("not xml"))
	require.Error(t, err)
}

func TestParseTimeout(t *testing.T) {
	assert.Equal(t, 180, ParseTimeout("Second-180"))
	assert.Equal(t, 86400, ParseTimeout("infinite"))
	assert.Equal(t, 3600, ParseTimeout("junk"))
}
