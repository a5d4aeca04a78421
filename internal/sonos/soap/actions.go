package soap

import (
	"context"
	"strconv"
	"strings"
)

var (
	instanceID    = Arg{Name: "InstanceID", Value: "0"}
	masterChannel = Arg{Name: "Channel", Value: "Master"}
)

func (c *Client) transport(ctx context.Context, address, action string, args ...Arg) error {
	_, err := c.Invoke(ctx, address, AVTransport, action, append([]Arg{instanceID}, args...)...)
	return err
}

func (c *Client) Play(ctx context.Context, address string) error {
	return c.transport(ctx, address, "Play", Arg{Name: "Speed", Value: "1"})
}

func (c *Client) Pause(ctx context.Context, address string) error {
	return c.transport(ctx, address, "Pause")
}

func (c *Client) Stop(ctx context.Context, address string) error {
	return c.transport(ctx, address, "Stop")
}

func (c *Client) Next(ctx context.Context, address string) error {
	return c.transport(ctx, address, "Next")
}

func (c *Client) Previous(ctx context.Context, address string) error {
	return c.transport(ctx, address, "Previous")
}

// SetAVTransportURI replaces the transport source without starting playback.
func (c *Client) SetAVTransportURI(ctx context.Context, address, uri, metadata string) error {
	return c.transport(ctx, address, "SetAVTransportURI",
		Arg{Name: "CurrentURI", Value: uri},
		Arg{Name: "CurrentURIMetaData", Value: metadata})
}

// JoinGroup makes the player at address follow coordinatorUID.
func (c *Client) JoinGroup(ctx context.Context, address, coordinatorUID string) error {
	return c.SetAVTransportURI(ctx, address, "x-rincon:"+coordinatorUID, "")
}

// BecomeCoordinatorOfStandaloneGroup takes the player out of its group.
func (c *Client) BecomeCoordinatorOfStandaloneGroup(ctx context.Context, address string) error {
	return c.transport(ctx, address, "BecomeCoordinatorOfStandaloneGroup")
}

// GetCurrentTransportActions returns the transport actions the player
// accepts in its current state, e.g. ["Stop", "Pause", "Next"].
func (c *Client) GetCurrentTransportActions(ctx context.Context, address string) ([]string, error) {
	values, err := c.Invoke(ctx, address, AVTransport, "GetCurrentTransportActions", instanceID)
	if err != nil {
		return nil, err
	}
	actions := make([]string, 0)
	for _, part := range strings.Split(values["Actions"], ",") {
		if action := strings.TrimSpace(part); action != "" {
			actions = append(actions, action)
		}
	}
	return actions, nil
}

// PositionInfo is the GetPositionInfo response.
type PositionInfo struct {
	Track         int
	TrackDuration string
	TrackMetaData string
	TrackURI      string
	RelTime       string
}

func (c *Client) GetPositionInfo(ctx context.Context, address string) (PositionInfo, error) {
	values, err := c.Invoke(ctx, address, AVTransport, "GetPositionInfo", instanceID)
	if err != nil {
		return PositionInfo{}, err
	}
	track, _ := strconv.Atoi(values["Track"])
	return PositionInfo{
		Track:         track,
		TrackDuration: values["TrackDuration"],
		TrackMetaData: values["TrackMetaData"],
		TrackURI:      values["TrackURI"],
		RelTime:       values["RelTime"],
	}, nil
}

func (c *Client) SetVolume(ctx context.Context, address string, level int) error {
	_, err := c.Invoke(ctx, address, RenderingControl, "SetVolume",
		instanceID, masterChannel, Arg{Name: "DesiredVolume", Value: strconv.Itoa(level)})
	return err
}

func (c *Client) SetMute(ctx context.Context, address string, muted bool) error {
	desired := "0"
	if muted {
		desired = "1"
	}
	_, err := c.Invoke(ctx, address, RenderingControl, "SetMute",
		instanceID, masterChannel, Arg{Name: "DesiredMute", Value: desired})
	return err
}

// GetZoneGroupState returns the household group layout as seen by the
// player at address.
func (c *Client) GetZoneGroupState(ctx context.Context, address string) (ZoneGroupState, error) {
	values, err := c.Invoke(ctx, address, ZoneGroupTopology, "GetZoneGroupState")
	if err != nil {
		return ZoneGroupState{}, err
	}
	return ParseZoneGroupState(values["ZoneGroupState"])
}

// FavoritesContainer is the ContentDirectory object holding Sonos favorites.
const FavoritesContainer = "FV:2"

// BrowsePage is one page of a BrowseDirectChildren response. Result is a
// DIDL-Lite document.
type BrowsePage struct {
	Result         string
	NumberReturned int
	TotalMatches   int
}

// Browse lists up to count children of objectID starting at start.
func (c *Client) Browse(ctx context.Context, address, objectID string, start, count int) (BrowsePage, error) {
	values, err := c.Invoke(ctx, address, ContentDirectory, "Browse",
		Arg{Name: "ObjectID", Value: objectID},
		Arg{Name: "BrowseFlag", Value: "BrowseDirectChildren"},
		Arg{Name: "Filter", Value: "*"},
		Arg{Name: "StartingIndex", Value: strconv.Itoa(start)},
		Arg{Name: "RequestedCount", Value: strconv.Itoa(count)},
		Arg{Name: "SortCriteria", Value: ""})
	if err != nil {
		return BrowsePage{}, err
	}
	page := BrowsePage{Result: values["Result"]}
	page.NumberReturned, _ = strconv.Atoi(values["NumberReturned"])
	page.TotalMatches, _ = strconv.Atoi(values["TotalMatches"])
	return page, nil
}
