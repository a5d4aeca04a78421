package events

import (
	"fmt"
	"strings"
	"time"
)

// UPnP GENA service paths for Sonos devices
const (
	AVTransportEventPath       = "/MediaRenderer/AVTransport/Event"
	DevicePropertiesEventPath  = "/DeviceProperties/Event"
	RenderingControlEventPath  = "/MediaRenderer/RenderingControl/Event"
	ZoneGroupTopologyEventPath = "/ZoneGroupTopology/Event"
)

// ServiceType represents the type of UPnP service
type ServiceType string

const (
	ServiceAVTransport       ServiceType = "AVTransport"
	ServiceDeviceProperties  ServiceType = "DeviceProperties"
	ServiceRenderingControl  ServiceType = "RenderingControl"
	ServiceZoneGroupTopology ServiceType = "ZoneGroupTopology"
)

// Services lists every service the bridge subscribes to, in subscription order.
var Services = []ServiceType{
	ServiceAVTransport,
	ServiceDeviceProperties,
	ServiceRenderingControl,
	ServiceZoneGroupTopology,
}

var eventPaths = map[ServiceType]string{
	ServiceAVTransport:       AVTransportEventPath,
	ServiceDeviceProperties:  DevicePropertiesEventPath,
	ServiceRenderingControl:  RenderingControlEventPath,
	ServiceZoneGroupTopology: ZoneGroupTopologyEventPath,
}

// EventPath returns the GENA subscription path for the service.
func (s ServiceType) EventPath() (string, error) {
	path, ok := eventPaths[s]
	if !ok {
		return "", fmt.Errorf("unknown service: %s", s)
	}
	return path, nil
}

// CallbackSegment is the path segment used in the NOTIFY callback URL.
func (s ServiceType) CallbackSegment() string {
	return strings.ToLower(string(s))
}

// ServiceFromCallbackSegment reverses CallbackSegment.
func ServiceFromCallbackSegment(segment string) (ServiceType, bool) {
	for _, service := range Services {
		if service.CallbackSegment() == strings.ToLower(segment) {
			return service, true
		}
	}
	return "", false
}

// Event is one NOTIFY delivered by a device. Variables holds the evented
// state variables keyed by snake_case name. Values are strings, maps of
// channel values, DidlObject, or Fault.
type Event struct {
	SID        string
	Seq        int
	Service    ServiceType
	DeviceUID  string
	DeviceIP   string
	Variables  map[string]any
	ReceivedAt time.Time
}

// Fault stands in for a variable whose value the device sent but could not
// be decoded.
type Fault struct {
	Variable string
	Raw      string
	Err      error
}

func (f Fault) Error() string {
	return fmt.Sprintf("decode %s: %v", f.Variable, f.Err)
}

func (f Fault) Unwrap() error {
	return f.Err
}

// DidlObject is a DIDL-Lite item or container. Metadata holds the optional
// namespaced fields (creator, album, album_art_uri, stream_content, ...).
type DidlObject struct {
	ItemID     string
	ParentID   string
	Restricted bool
	Title      string
	Class      string
	Desc       string
	Resources  []DidlResource
	Metadata   map[string]string
}

// DidlResource is a DIDL-Lite res element.
type DidlResource struct {
	URI          string
	ProtocolInfo string
	Duration     string
	Attributes   map[string]string
}
