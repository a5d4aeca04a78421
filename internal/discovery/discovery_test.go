package discovery

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const descriptionXML = `<?xml version="1.0" encoding="utf-8" ?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <device>
    <deviceType>urn:schemas-upnp-org:device:ZonePlayer:1</deviceType>
    <friendlyName>10.0.0.2 - Sonos One - RINCON_A</friendlyName>
    <modelNumber>S18</modelNumber>
    <modelName>Sonos One</modelName>
    <softwareVersion>79.1-56030</softwareVersion>
    <hardwareVersion>1.21.1.8-2</hardwareVersion>
    <serialNum>00-0E-58-AA-BB-CC:D</serialNum>
    <MACAddress>00:0E:58:AA:BB:CC</MACAddress>
    <UDN>uuid:RINCON_A</UDN>
    <roomName>Kitchen</roomName>
    <displayName>One</displayName>
    <displayVersion>16.1</displayVersion>
    <deviceList>
      <device><UDN>uuid:RINCON_A_MR</UDN></device>
    </deviceList>
  </device>
</root>`

func descriptionServer(t *testing.T) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/xml/device_description.xml" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(descriptionXML))
	}))
	t.Cleanup(server.Close)
	return strings.TrimPrefix(server.URL, "http://")
}

func TestParseDeviceDescription(t *testing.T) {
	desc, err := ParseDeviceDescription([]byte(descriptionXML))
	require.NoError(t, err)
	require.NotNil(t, desc)

	assert.Equal(t, "RINCON_A", desc.UDN)
	assert.Equal(t, "Kitchen", desc.RoomName)
	assert.Equal(t, "Sonos One", desc.ModelName)
	assert.Equal(t, "S18", desc.ModelNumber)
	assert.Equal(t, "00:0E:58:AA:BB:CC", desc.MACAddress)
	assert.Equal(t, "16.1", desc.DisplayVersion)
}

func TestParseDeviceDescriptionRejectsOtherDocuments(t *testing.T) {
	desc, err := ParseDeviceDescription([]byte(`<html><body>hi</body></html>`))
	require.NoError(t, err)
	assert.Nil(t, desc)
}

func TestFallbackUsedWhenSSDPFindsNothing(t *testing.T) {
	host := descriptionServer(t)
	svc := NewService(Options{ProbeTimeout: time.Second}, log.New(io.Discard, "", 0))
	svc.search = func(ctx context.Context, passes int, passInterval, timeout time.Duration) ([]Response, error) {
		return nil, errors.New("no multicast")
	}

	devices, err := svc.DiscoverDevices(context.Background(), []string{host, "127.0.0.1:1"})
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "RINCON_A", devices[0].UDN)
	assert.Equal(t, host, devices[0].IP)
	assert.Equal(t, "Kitchen", devices[0].SpeakerInfo()["zone_name"])
}

func TestSSDPResultsSkipFallback(t *testing.T) {
	host := descriptionServer(t)
	svc := NewService(Options{ProbeTimeout: time.Second}, log.New(io.Discard, "", 0))
	svc.search = func(ctx context.Context, passes int, passInterval, timeout time.Duration) ([]Response, error) {
		return []Response{{Location: "http://" + host + "/xml/device_description.xml", USN: "uuid:RINCON_A", UID: "RINCON_A"}}, nil
	}

	devices, err := svc.DiscoverDevices(context.Background(), []string{"127.0.0.1:1"})
	require.NoError(t, err)
	require.Len(t, devices, 1)
}

func TestParseResponse(t *testing.T) {
	resp, ok := parseResponse([]byte("HTTP/1.1 200 OK\r\nCACHE-CONTROL: max-age = 1800\r\n" +
		"LOCATION: http://10.0.0.2:1400/xml/device_description.xml\r\n" +
		"USN: uuid:RINCON_A::urn:schemas-upnp-org:device:ZonePlayer:1\r\n" +
		"X-RINCON-HOUSEHOLD: Sonos_abc\r\n\r\n"))
	require.True(t, ok)
	assert.Equal(t, "http://10.0.0.2:1400/xml/device_description.xml", resp.Location)
	assert.Equal(t, "RINCON_A", resp.UID)
	assert.Equal(t, "Sonos_abc", resp.Household)
	assert.Equal(t, "10.0.0.2", AddressFromLocation(resp.Location))
	assert.Equal(t, "127.0.0.1:8080", AddressFromLocation("http://127.0.0.1:8080/xml/device_description.xml"))
}

func TestParseResponseRejectsOtherDevices(t *testing.T) {
	_, ok := parseResponse([]byte("HTTP/1.1 200 OK\r\nLOCATION: http://10.0.0.9/desc.xml\r\nUSN: uuid:2f402f80-da50-11e1-9b23::upnp:rootdevice\r\n\r\n"))
	assert.False(t, ok)

	_, ok = parseResponse([]byte("HTTP/1.1 200 OK\r\nUSN: uuid:RINCON_A::urn:schemas-upnp-org:device:ZonePlayer:1\r\n\r\n"))
	assert.False(t, ok)

	_, ok = parseResponse([]byte("garbage"))
	assert.False(t, ok)
}
