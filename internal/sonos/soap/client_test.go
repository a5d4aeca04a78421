package soap

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/sonos-bridge-go/internal/apperrors"
)

func soapServer(t *testing.T, handler func(action string, body string) (int, string)) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		action := r.Header.Get("SOAPACTION")
		action = strings.Trim(action[strings.Index(action, "#")+1:], "\"")
		status, payload := handler(action, string(body))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(payload))
	}))
	t.Cleanup(server.Close)
	return strings.TrimPrefix(server.URL, "http://")
}

func envelope(inner string) string {
	return `<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body>` + inner + `</s:Body></s:Envelope>`
}

func faultEnvelope(code string) string {
	return envelope(`<s:Fault><faultcode>s:Client</faultcode><faultstring>UPnPError</faultstring><detail><UPnPError xmlns="urn:schemas-upnp-org:control-1-0"><errorCode>` + code + `</errorCode></UPnPError></detail></s:Fault>`)
}

func TestDeviceHost(t *testing.T) {
	assert.Equal(t, "192.168.1.20:1400", DeviceHost("192.168.1.20"))
	assert.Equal(t, "127.0.0.1:8080", DeviceHost("127.0.0.1:8080"))
	assert.Equal(t, "[fe80::1]:1400", DeviceHost("fe80::1"))
}

func TestGetCurrentTransportActions(t *testing.T) {
	host := soapServer(t, func(action, body string) (int, string) {
		require.Equal(t, "GetCurrentTransportActions", action)
		require.Contains(t, body, "<InstanceID>0</InstanceID>")
		return http.StatusOK, envelope(`<u:GetCurrentTransportActionsResponse><Actions>Set, Stop, Pause, Play, Next, Previous</Actions></u:GetCurrentTransportActionsResponse>`)
	})

	client := NewClient(2 * time.Second)
	actions, err := client.GetCurrentTransportActions(context.Background(), host)
	require.NoError(t, err)
	assert.Equal(t, []string{"Set", "Stop", "Pause", "Play", "Next", "Previous"}, actions)
}

func TestJoinGroupSendsRinconURI(t *testing.T) {
	var captured string
	host := soapServer(t, func(action, body string) (int, string) {
		require.Equal(t, "SetAVTransportURI", action)
		captured = body
		return http.StatusOK, envelope(`<u:SetAVTransportURIResponse/>`)
	})

	client := NewClient(2 * time.Second)
	require.NoError(t, client.JoinGroup(context.Background(), host, "RINCON_A"))
	assert.Contains(t, captured, "<CurrentURI>x-rincon:RINCON_A</CurrentURI>")
}

func TestRejectedActionIsClassified(t *testing.T) {
	host := soapServer(t, func(action, body string) (int, string) {
		return http.StatusInternalServerError, faultEnvelope("701")
	})

	client := NewClient(2 * time.Second)
	err := client.Pause(context.Background(), host)
	require.Error(t, err)

	var rejected *SonosRejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, "701", rejected.Code)

	classified := Classify(err)
	assert.True(t, errors.Is(classified, apperrors.ErrUnsupportedTransition))
	assert.False(t, errors.Is(classified, apperrors.ErrConnection))
}

func TestNotCoordinatorFaultIsSlaveFault(t *testing.T) {
	host := soapServer(t, func(action, body string) (int, string) {
		return http.StatusInternalServerError, faultEnvelope("800")
	})

	client := NewClient(2 * time.Second)
	err := Classify(client.Next(context.Background(), host))
	assert.True(t, errors.Is(err, apperrors.ErrSlaveFault))
}

func TestUnreachableDeviceIsConnectionError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	host := strings.TrimPrefix(server.URL, "http://")
	server.Close()

	client := NewClient(500 * time.Millisecond)
	err := Classify(client.Play(context.Background(), host))
	assert.True(t, errors.Is(err, apperrors.ErrConnection))
}

func TestGetZoneGroupStateParsesEscapedPayload(t *testing.T) {
	inner := `<ZoneGroupState><ZoneGroups><ZoneGroup Coordinator="RINCON_A" ID="RINCON_A:1">` +
		`<ZoneGroupMember UUID="RINCON_A" ZoneName="Kitchen" Location="http://10.0.0.2:1400/xml/device_description.xml"/>` +
		`<ZoneGroupMember UUID="RINCON_B" ZoneName="Den" Location="http://10.0.0.3:1400/xml/device_description.xml" Invisible="1"/>` +
		`</ZoneGroup></ZoneGroups></ZoneGroupState>`
	escaped := strings.NewReplacer("<", "&lt;", ">", "&gt;", `"`, "&quot;").Replace(inner)

	host := soapServer(t, func(action, body string) (int, string) {
		return http.StatusOK, envelope(`<u:GetZoneGroupStateResponse><ZoneGroupState>` + escaped + `</ZoneGroupState></u:GetZoneGroupStateResponse>`)
	})

	client := NewClient(2 * time.Second)
	state, err := client.GetZoneGroupState(context.Background(), host)
	require.NoError(t, err)
	require.Len(t, state.Groups, 1)

	group, ok := state.GroupFor("RINCON_B")
	require.True(t, ok)
	assert.Equal(t, "RINCON_A", group.Coordinator)
	require.Len(t, group.Members, 2)
	assert.True(t, group.Members[0].IsCoordinator)
	assert.False(t, group.Members[1].IsVisible)
}

func TestBrowseReturnsPage(t *testing.T) {
	didl := `<DIDL-Lite xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/">` +
		`<item id="FV:2/27" parentID="FV:2"><dc:title>A fantastic raygun</dc:title></item></DIDL-Lite>`
	escaped := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;").Replace(didl)

	var captured string
	host := soapServer(t, func(action, body string) (int, string) {
		require.Equal(t, "Browse", action)
		captured = body
		return http.StatusOK, envelope(`<u:BrowseResponse><Result>` + escaped + `</Result><NumberReturned>1</NumberReturned><TotalMatches>41</TotalMatches><UpdateID>3</UpdateID></u:BrowseResponse>`)
	})

	client := NewClient(2 * time.Second)
	page, err := client.Browse(context.Background(), host, FavoritesContainer, 40, 20)
	require.NoError(t, err)
	assert.Equal(t, didl, page.Result)
	assert.Equal(t, 1, page.NumberReturned)
	assert.Equal(t, 41, page.TotalMatches)
	assert.Contains(t, captured, "<ObjectID>FV:2</ObjectID>")
	assert.Contains(t, captured, "<StartingIndex>40</StartingIndex><RequestedCount>20</RequestedCount>")
}

func TestArgumentsAreEscapedInOrder(t *testing.T) {
	body := string(buildEnvelope(AVTransport, "SetAVTransportURI", []Arg{
		{Name: "InstanceID", Value: "0"},
		{Name: "CurrentURI", Value: "x-sonosapi-stream:s1?sid=254&flags=8224"},
	}))
	assert.Contains(t, body, `<u:SetAVTransportURI xmlns:u="urn:schemas-upnp-org:service:AVTransport:1">`)
	assert.Contains(t, body, "<InstanceID>0</InstanceID><CurrentURI>x-sonosapi-stream:s1?sid=254&amp;flags=8224</CurrentURI>")
}

func TestParseZoneGroupStateSatellites(t *testing.T) {
	doc := `<ZoneGroups><ZoneGroup Coordinator="RINCON_TV" ID="RINCON_TV:12">` +
		`<ZoneGroupMember UUID="RINCON_TV" ZoneName="Living Room" Location="http://10.0.0.5:1400/xml/device_description.xml" ` +
		`HTSatChanMapSet="RINCON_TV:LF,RF;RINCON_SUB:SW;RINCON_RL:LR">` +
		`<Satellite UUID="RINCON_SUB" ZoneName="Living Room" HTSatChanMapSet="RINCON_TV:LF,RF;RINCON_SUB:SW;RINCON_RL:LR" Invisible="1"/>` +
		`<Satellite UUID="RINCON_RL" ZoneName="Living Room" HTSatChanMapSet="RINCON_TV:LF,RF;RINCON_SUB:SW;RINCON_RL:LR" Invisible="1"/>` +
		`</ZoneGroupMember></ZoneGroup></ZoneGroups>`

	state, err := ParseZoneGroupState(doc)
	require.NoError(t, err)
	require.Len(t, state.Groups, 1)

	members := state.Groups[0].Members
	require.Len(t, members, 3)
	assert.True(t, members[0].IsCoordinator)
	assert.True(t, members[1].IsSubwoofer)
	assert.False(t, members[1].IsSatellite)
	assert.True(t, members[2].IsSatellite)
	assert.False(t, members[2].IsVisible)
}

func TestParseZoneGroupStateEmpty(t *testing.T) {
	state, err := ParseZoneGroupState("")
	require.NoError(t, err)
	assert.Empty(t, state.Groups)

	_, err = ParseZoneGroupState("<ZoneGroups><ZoneGroup")
	assert.Error(t, err)
}
