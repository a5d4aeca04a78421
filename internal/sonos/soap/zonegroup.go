package soap

import (
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

// ZoneGroupState is the household group layout.
type ZoneGroupState struct {
	Groups []ZoneGroup
}

// GroupFor returns the group that contains uid.
func (s ZoneGroupState) GroupFor(uid string) (ZoneGroup, bool) {
	for _, group := range s.Groups {
		for _, member := range group.Members {
			if member.UUID == uid {
				return group, true
			}
		}
	}
	return ZoneGroup{}, false
}

// ZoneGroup is one group and every device in it, bonded satellites included.
type ZoneGroup struct {
	ID          string
	Coordinator string
	Members     []ZoneMember
}

// ZoneMember is a device of a group.
type ZoneMember struct {
	UUID          string
	ZoneName      string
	Location      string
	IsCoordinator bool
	IsVisible     bool
	IsSatellite   bool
	IsSubwoofer   bool
}

type zoneGroupXML struct {
	ID          string          `xml:"ID,attr"`
	Coordinator string          `xml:"Coordinator,attr"`
	Members     []zoneMemberXML `xml:"ZoneGroupMember"`
}

type zoneMemberXML struct {
	UUID            string          `xml:"UUID,attr"`
	ZoneName        string          `xml:"ZoneName,attr"`
	Location        string          `xml:"Location,attr"`
	Invisible       string          `xml:"Invisible,attr"`
	HTSatChanMapSet string          `xml:"HTSatChanMapSet,attr"`
	Satellites      []zoneMemberXML `xml:"Satellite"`
}

// ParseZoneGroupState reads a ZoneGroupState document. Both the current
// layout (ZoneGroupState>ZoneGroups>ZoneGroup) and the older bare ZoneGroups
// root are accepted.
func ParseZoneGroupState(doc string) (ZoneGroupState, error) {
	var state ZoneGroupState
	if strings.TrimSpace(doc) == "" {
		return state, nil
	}

	decoder := xml.NewDecoder(strings.NewReader(doc))
	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			return state, nil
		}
		if err != nil {
			return state, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "ZoneGroup" {
			continue
		}
		var raw zoneGroupXML
		if err := decoder.DecodeElement(&raw, &start); err != nil {
			return state, err
		}
		state.Groups = append(state.Groups, raw.group())
	}
}

func (g zoneGroupXML) group() ZoneGroup {
	group := ZoneGroup{ID: g.ID, Coordinator: g.Coordinator}
	for _, m := range g.Members {
		group.Members = append(group.Members, ZoneMember{
			UUID:          m.UUID,
			ZoneName:      m.ZoneName,
			Location:      m.Location,
			IsCoordinator: m.UUID == g.Coordinator,
			IsVisible:     m.Invisible != "1" && m.Invisible != "true",
		})
		for _, sat := range m.Satellites {
			if sat.UUID == "" {
				continue
			}
			channels := satelliteChannels(sat.HTSatChanMapSet, sat.UUID)
			group.Members = append(group.Members, ZoneMember{
				UUID:        sat.UUID,
				ZoneName:    sat.ZoneName,
				Location:    sat.Location,
				IsSatellite: channels != "SW",
				IsSubwoofer: channels == "SW",
			})
		}
	}
	return group
}

// satelliteChannels picks uid's channels out of a map such as
// "RINCON_A:LF,RF;RINCON_S:SW;RINCON_L:LR".
func satelliteChannels(mapSet, uid string) string {
	for _, entry := range strings.Split(mapSet, ";") {
		if channels, ok := strings.CutPrefix(entry, uid+":"); ok {
			return channels
		}
	}
	return ""
}
