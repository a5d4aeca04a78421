// Package projection derives capability fields from the state tree. Every
// function is pure: it reads a snapshot and the UID of one player.
package projection

import (
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/strefethen/sonos-bridge-go/internal/directory"
	"github.com/strefethen/sonos-bridge-go/internal/state"
)

// LogoPath is the virtual image served when no art is available.
const LogoPath = "/image/sonos/logo"

const lineInURL = "lineinput"

var bracketed = regexp.MustCompile(`[(\[].*?[)\]]`)

// Music is the MusicController view of a player.
type Music struct {
	Artist        string   `json:"artist"`
	Title         string   `json:"title"`
	Album         string   `json:"album"`
	Art           string   `json:"art"`
	URL           string   `json:"url"`
	Linked        []string `json:"linked"`
	PlaybackState string   `json:"playbackState"`
}

// Speaker is the SpeakerController view of a player.
type Speaker struct {
	Volume int  `json:"volume"`
	Muted  bool `json:"mute"`
}

// Input is the InputController view of a player.
type Input struct {
	Input  string   `json:"input"`
	Inputs []string `json:"inputs"`
}

// Health is the EndpointHealth view of a player.
type Health struct {
	Connectivity string `json:"connectivity"`
}

// CoordinatorUID returns the recorded coordinator of uid, or uid itself.
func CoordinatorUID(tree map[string]any, uid string) string {
	if coordinator := state.LookupString(tree, "player/"+uid+"/group/coordinator"); coordinator != "" {
		return coordinator
	}
	return uid
}

func transport(tree map[string]any, uid string) map[string]any {
	return state.LookupMap(tree, "player/"+uid+"/AVTransport")
}

// lineIn reports whether the transport is playing an analog or AirPlay input.
func lineIn(av map[string]any) bool {
	if state.LookupString(av, "av_transport_uri_meta_data/item_id") == "lineinput" {
		return true
	}
	return strings.HasPrefix(state.LookupString(av, "av_transport_uri_meta_data/title"), "AirPlay Device:")
}

// CleanTitle removes bracketed and parenthesized fragments such as
// "(Remastered 2011)" from a title.
func CleanTitle(title string) string {
	return strings.TrimSpace(bracketed.ReplaceAllString(title, ""))
}

// MusicFor projects the now-playing fields of uid. Track fields come from
// the group coordinator. registered reports whether a UID has an endpoint;
// only registered members are listed as linked.
func MusicFor(tree map[string]any, uid string, registered func(uid string) bool) Music {
	coordinator := CoordinatorUID(tree, uid)
	av := transport(tree, coordinator)

	music := Music{
		Linked:        linked(tree, uid, registered),
		PlaybackState: playbackState(tree, uid),
		Art:           LogoPath,
	}
	if av == nil {
		return music
	}
	if lineIn(av) {
		music.Title = "Line-In"
		music.URL = lineInURL
		return music
	}

	track := state.LookupMap(av, "current_track_meta_data")
	enqueued := state.LookupMap(av, "enqueued_transport_uri_meta_data")

	music.Artist = firstNonEmpty(
		state.LookupString(track, "creator"),
		state.LookupString(track, "artist"),
		state.LookupString(enqueued, "creator"),
	)
	if title := state.LookupString(track, "title"); title != "" {
		music.Title = CleanTitle(title)
	} else {
		music.Title = CleanTitle(state.LookupString(enqueued, "title"))
	}
	music.Album = state.LookupString(track, "album")
	music.Art = artPath(coordinator, track, enqueued)
	music.URL = state.LookupString(av, "enqueued_transport_uri")
	return music
}

// artPath prefers the enqueued container art, which some services fill in
// when the per-track art link is dead.
func artPath(coordinator string, track, enqueued map[string]any) string {
	base := "/image/sonos/player/" + coordinator + "/AVTransport/"
	if state.LookupString(enqueued, "album_art_uri") != "" {
		return base + "enqueued_transport_uri_meta_data/album_art_uri"
	}
	album, hasAlbum := track["album"]
	if !hasAlbum {
		return LogoPath
	}
	query := "?album=" + url.QueryEscape(toString(album))
	if _, ok := track["album_art_uri"]; ok {
		return base + "current_track_meta_data/album_art_uri" + query
	}
	if _, ok := track["album_art"]; ok {
		return base + "current_track_meta_data/album_art" + query
	}
	return LogoPath
}

func linked(tree map[string]any, uid string, registered func(uid string) bool) []string {
	members := state.LookupStrings(tree, "player/"+uid+"/group/members")
	result := make([]string, 0, len(members))
	for _, member := range members {
		if member == uid {
			continue
		}
		if registered != nil && !registered(member) {
			continue
		}
		result = append(result, directory.EndpointID(member))
	}
	return result
}

func playbackState(tree map[string]any, uid string) string {
	value := state.LookupString(tree, "player/"+uid+"/AVTransport/transport_state")
	switch value {
	case "":
		return "STOPPED"
	case "TRANSITIONING":
		return "PLAYING"
	default:
		return value
	}
}

// SpeakerFor projects volume and mute from the rendering control state.
func SpeakerFor(tree map[string]any, uid string) Speaker {
	volume, _ := strconv.Atoi(state.LookupString(tree, "player/"+uid+"/RenderingControl/volume/Master"))
	return Speaker{
		Volume: volume,
		Muted:  state.LookupString(tree, "player/"+uid+"/RenderingControl/mute/Master") == "1",
	}
}

// InputFor projects the selected input, which is the name of the group
// coordinator, and the names of the visible players that can be selected.
func InputFor(tree map[string]any, uid string) Input {
	coordinator := CoordinatorUID(tree, uid)
	return Input{
		Input:  state.LookupString(tree, "player/"+coordinator+"/name"),
		Inputs: InputList(tree),
	}
}

// InputList returns the sorted names of visible players.
func InputList(tree map[string]any) []string {
	players := state.LookupMap(tree, "player")
	names := make([]string, 0, len(players))
	for uid := range players {
		if visible, ok := state.Lookup(tree, "player/"+uid+"/visible"); ok && visible == false {
			continue
		}
		if name := state.LookupString(tree, "player/"+uid+"/name"); name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// HealthFor reports connectivity. A registered endpoint is reachable by
// construction.
func HealthFor(tree map[string]any, uid string) Health {
	return Health{Connectivity: "OK"}
}

// FavoriteFor returns the title of the favorite currently loaded on uid's
// coordinator, or "" when the transport source is not a favorite.
func FavoriteFor(tree map[string]any, uid string) string {
	current := state.LookupString(tree, "player/"+CoordinatorUID(tree, uid)+"/AVTransport/enqueued_transport_uri")
	if current == "" {
		return ""
	}
	favorites, _ := state.Lookup(tree, "favorite")
	list, _ := favorites.([]any)
	for _, item := range list {
		fav, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if toString(fav["uri"]) == current {
			return toString(fav["title"])
		}
	}
	return ""
}

// All returns every projection of uid keyed by capability name.
func All(tree map[string]any, uid string, registered func(uid string) bool) map[string]any {
	return map[string]any{
		"EndpointHealth":     HealthFor(tree, uid),
		"InputController":    InputFor(tree, uid),
		"MusicController":    MusicFor(tree, uid, registered),
		"SpeakerController":  SpeakerFor(tree, uid),
		"FavoriteController": map[string]any{"mode": FavoriteFor(tree, uid)},
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

func toString(value any) string {
	s, _ := value.(string)
	return s
}
