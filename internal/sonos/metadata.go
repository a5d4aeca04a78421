package sonos

import (
	"strconv"
	"strings"

	"github.com/strefethen/sonos-bridge-go/internal/sonos/events"
	"github.com/strefethen/sonos-bridge-go/internal/sonos/soap"
)

// trackInfo builds the current-track record from a GetPositionInfo
// response. The raw DIDL is kept under "metadata".
func trackInfo(position soap.PositionInfo, address string) map[string]any {
	info := map[string]any{
		"title":             "",
		"artist":            "",
		"album":             "",
		"album_art":         "",
		"position":          position.RelTime,
		"playlist_position": strconv.Itoa(position.Track),
		"duration":          position.TrackDuration,
		"uri":               position.TrackURI,
		"metadata":          position.TrackMetaData,
		"source":            trackSource(position.TrackURI, ""),
		"service_name":      serviceName(position.TrackURI, position.TrackMetaData),
	}

	if position.TrackMetaData == "" || position.TrackMetaData == "NOT_IMPLEMENTED" {
		return info
	}
	objects, err := events.ParseDIDL(position.TrackMetaData)
	if err != nil || len(objects) == 0 {
		return info
	}

	item := objects[0]
	info["title"] = item.Title
	info["artist"] = firstOf(item.Metadata, "creator", "album_artist", "artist")
	info["album"] = item.Metadata["album"]
	info["album_art"] = absoluteArtURL(item.Metadata["album_art_uri"], address)
	info["source"] = trackSource(position.TrackURI, item.Class)
	return info
}

func firstOf(fields map[string]string, keys ...string) string {
	for _, key := range keys {
		if value := fields[key]; value != "" {
			return value
		}
	}
	return ""
}

// absoluteArtURL resolves device-relative art paths against the player.
func absoluteArtURL(uri, address string) string {
	if uri == "" || strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		return uri
	}
	if !strings.HasPrefix(uri, "/") {
		uri = "/" + uri
	}
	return "http://" + soap.DeviceHost(address) + uri
}

type sourceRule struct {
	source string
	match  func(uri string) bool
}

func containsAll(parts ...string) func(string) bool {
	return func(uri string) bool {
		for _, part := range parts {
			if !strings.Contains(uri, part) {
				return false
			}
		}
		return true
	}
}

func containsAny(parts ...string) func(string) bool {
	return func(uri string) bool {
		for _, part := range parts {
			if strings.Contains(uri, part) {
				return true
			}
		}
		return false
	}
}

var sourceRules = []sourceRule{
	{"apple_music", containsAny("x-sonos-http:song%3a", "apple")},
	{"tv", containsAny("x-sonos-htastream", "spdif")},
	{"line_in", containsAll("x-rincon-stream", "linein")},
	{"sonos_favorite", containsAny("x-sonosapi-radio", "x-sonosapi-stream", "x-sonosapi-hls-static", "x-rincon-cpcontainer", "x-sonos-favorite")},
}

// trackSource classifies the transport URI. Broadcast items without a
// recognised scheme still count as favorites.
func trackSource(trackURI, upnpClass string) string {
	uri := strings.ToLower(trackURI)
	for _, rule := range sourceRules {
		if rule.match(uri) {
			return rule.source
		}
	}
	if strings.Contains(upnpClass, "audioItem.audioBroadcast") {
		return "sonos_favorite"
	}
	return "unknown"
}

var serviceMarkers = []struct {
	name    string
	markers []string
}{
	{"Spotify", []string{"spotify"}},
	{"Apple Music", []string{"apple", "x-sonos-http:song%3a"}},
	{"Amazon Music", []string{"amazon", "amzn", "prime"}},
	{"TuneIn", []string{"tunein", "radiotime"}},
	{"Pandora", []string{"pandora"}},
	{"Deezer", []string{"deezer"}},
	{"Tidal", []string{"tidal", "wimp"}},
	{"SoundCloud", []string{"soundcloud"}},
	{"YouTube Music", []string{"youtube"}},
	{"Audible", []string{"audible"}},
	{"Plex", []string{"plex"}},
	{"Sonos Radio", []string{"sonos-radio", "sonos radio", "sa_rincon77575"}},
}

// serviceName names the music service behind a track, or "" when unknown.
func serviceName(trackURI, metadata string) string {
	haystack := strings.ToLower(trackURI) + "\n" + strings.ToLower(metadata)
	for _, service := range serviceMarkers {
		if containsAny(service.markers...)(haystack) {
			return service.name
		}
	}
	return ""
}
