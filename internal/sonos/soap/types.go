package soap

import "net"

// Service is a UPnP control endpoint on a zone player.
type Service struct {
	Type        string
	ControlPath string
}

// Services used by the bridge.
var (
	AVTransport = Service{
		Type:        "urn:schemas-upnp-org:service:AVTransport:1",
		ControlPath: "/MediaRenderer/AVTransport/Control",
	}
	RenderingControl = Service{
		Type:        "urn:schemas-upnp-org:service:RenderingControl:1",
		ControlPath: "/MediaRenderer/RenderingControl/Control",
	}
	ContentDirectory = Service{
		Type:        "urn:schemas-upnp-org:service:ContentDirectory:1",
		ControlPath: "/MediaServer/ContentDirectory/Control",
	}
	ZoneGroupTopology = Service{
		Type:        "urn:schemas-upnp-org:service:ZoneGroupTopology:1",
		ControlPath: "/ZoneGroupTopology/Control",
	}
)

// Arg is a named action argument. Arguments are sent in the order given.
type Arg struct {
	Name  string
	Value string
}

// DevicePort is the HTTP port every Sonos player listens on.
const DevicePort = "1400"

// DeviceHost returns host:port for a device address. Addresses that already
// carry a port are returned unchanged.
func DeviceHost(address string) string {
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	return net.JoinHostPort(address, DevicePort)
}
