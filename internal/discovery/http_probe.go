package discovery

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/strefethen/sonos-bridge-go/internal/sonos/soap"
)

// defaultHTTPClient has short timeouts so unreachable devices fail fast.
var defaultHTTPClient = &http.Client{
	Timeout: 5 * time.Second,
	Transport: &http.Transport{
		DialContext:         (&net.Dialer{Timeout: 3 * time.Second}).DialContext,
		TLSHandshakeTimeout: 3 * time.Second,
		IdleConnTimeout:     30 * time.Second,
	},
}

// RawDevice is a probed zone player.
type RawDevice struct {
	UDN             string
	IP              string
	Model           string
	ModelNumber     string
	RoomName        string
	DisplayName     string
	DisplayVersion  string
	SerialNumber    string
	SoftwareVersion string
	HardwareVersion string
	MACAddress      string
	Location        string
	DiscoveredAt    time.Time
}

// SpeakerInfo returns the descriptive fields ingested under player/<uid>/speaker.
func (d *RawDevice) SpeakerInfo() map[string]any {
	return map[string]any{
		"zone_name":        d.RoomName,
		"uid":              d.UDN,
		"serial_number":    d.SerialNumber,
		"software_version": d.SoftwareVersion,
		"hardware_version": d.HardwareVersion,
		"model_number":     d.ModelNumber,
		"model_name":       d.Model,
		"display_version":  d.DisplayVersion,
		"mac_address":      d.MACAddress,
	}
}

// ProbeDevice fetches and parses the device description of the player at address.
// It returns nil without error when the address answers but is not a zone player.
func ProbeDevice(ctx context.Context, client *http.Client, address string) (*RawDevice, error) {
	if client == nil {
		client = defaultHTTPClient
	}
	location := "http://" + soap.DeviceHost(address) + "/xml/device_description.xml"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("device description: http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	desc, err := ParseDeviceDescription(body)
	if err != nil || desc == nil || desc.UDN == "" {
		return nil, nil
	}

	return &RawDevice{
		UDN:             desc.UDN,
		IP:              address,
		Model:           desc.ModelName,
		ModelNumber:     desc.ModelNumber,
		RoomName:        desc.RoomName,
		DisplayName:     desc.DisplayName,
		DisplayVersion:  desc.DisplayVersion,
		SerialNumber:    desc.SerialNumber,
		SoftwareVersion: desc.SoftwareVersion,
		HardwareVersion: desc.HardwareVersion,
		MACAddress:      desc.MACAddress,
		Location:        location,
		DiscoveredAt:    time.Now(),
	}, nil
}
