package discovery

import (
	"encoding/xml"
	"strings"
)

// DeviceDescription is the subset of /xml/device_description.xml the bridge uses.
type DeviceDescription struct {
	ModelName       string
	ModelNumber     string
	RoomName        string
	DisplayName     string
	DisplayVersion  string
	SerialNumber    string
	SoftwareVersion string
	HardwareVersion string
	MACAddress      string
	ZoneType        string
	UDN             string
}

func ParseDeviceDescription(xmlPayload []byte) (*DeviceDescription, error) {
	decoder := xml.NewDecoder(strings.NewReader(string(xmlPayload)))
	var desc DeviceDescription

	var friendlyName string
	var udnRaw string
	sawDevice := false
	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if se.Name.Local == "device" {
			sawDevice = true
			continue
		}

		var target *string
		switch se.Name.Local {
		case "friendlyName":
			if friendlyName != "" {
				continue
			}
			target = &friendlyName
		case "roomName":
			target = &desc.RoomName
		case "displayName":
			target = &desc.DisplayName
		case "displayVersion":
			target = &desc.DisplayVersion
		case "modelName":
			target = &desc.ModelName
		case "modelNumber":
			target = &desc.ModelNumber
		case "serialNum":
			target = &desc.SerialNumber
		case "softwareVersion":
			target = &desc.SoftwareVersion
		case "hardwareVersion":
			target = &desc.HardwareVersion
		case "MACAddress":
			target = &desc.MACAddress
		case "zoneType":
			target = &desc.ZoneType
		case "UDN":
			// Embedded MediaServer/MediaRenderer devices carry their own UDNs
			// (RINCON_xxx_MS, RINCON_xxx_MR). Only the root one identifies the player.
			if udnRaw != "" {
				continue
			}
			target = &udnRaw
		default:
			continue
		}

		if *target != "" {
			continue
		}
		var value string
		if err := decoder.DecodeElement(&value, &se); err == nil {
			*target = strings.TrimSpace(value)
		}
	}

	if !sawDevice {
		return nil, nil
	}
	if desc.RoomName == "" && friendlyName != "" {
		desc.RoomName = parseRoomName(friendlyName)
	}
	if udnRaw != "" {
		desc.UDN = strings.TrimPrefix(udnRaw, "uuid:")
	}

	return &desc, nil
}

func parseRoomName(friendlyName string) string {
	if friendlyName == "" {
		return ""
	}
	parts := strings.SplitN(friendlyName, "-", 2)
	if len(parts) == 2 {
		return strings.TrimSpace(parts[0])
	}
	return strings.TrimSpace(friendlyName)
}
