package events

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/strefethen/sonos-bridge-go/internal/apperrors"
)

var (
	firstCapRe = regexp.MustCompile(`(.)([A-Z][a-z]+)`)
	allCapRe   = regexp.MustCompile(`([a-z0-9])([A-Z])`)
)

// CamelToSnake converts UPnP variable names such as CurrentTrackMetaData or
// AVTransportURI to current_track_meta_data and av_transport_uri.
func CamelToSnake(name string) string {
	s := firstCapRe.ReplaceAllString(name, "${1}_${2}")
	return strings.ToLower(allCapRe.ReplaceAllString(s, "${1}_${2}"))
}

// ParseNotifyBody parses a UPnP NOTIFY propertyset into evented variables.
// LastChange properties are expanded into their InstanceID children so that
// AVTransport and RenderingControl events look like plain variables.
func ParseNotifyBody(body []byte) (map[string]any, error) {
	decoder := xml.NewDecoder(bytes.NewReader(body))
	variables := make(map[string]any)
	inProperty := false
	sawPropertySet := false

	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		switch se := tok.(type) {
		case xml.StartElement:
			switch {
			case se.Name.Local == "propertyset":
				sawPropertySet = true
			case se.Name.Local == "property":
				inProperty = true
			case inProperty:
				var value string
				if err := decoder.DecodeElement(&value, &se); err != nil {
					return nil, fmt.Errorf("decode property %s: %w", se.Name.Local, err)
				}
				if se.Name.Local == "LastChange" {
					if err := parseLastChange(value, variables); err != nil {
						variables["last_change"] = Fault{Variable: "last_change", Raw: value, Err: err}
					}
					continue
				}
				variables[CamelToSnake(se.Name.Local)] = strings.TrimSpace(value)
			}
		case xml.EndElement:
			if se.Name.Local == "property" {
				inProperty = false
			}
		}
	}

	if !sawPropertySet {
		return nil, errors.New("notify body is not a propertyset")
	}
	return variables, nil
}

// parseLastChange expands <Event><InstanceID val="0">...</InstanceID></Event>.
// Elements that carry a channel attribute are collected into a map keyed by
// channel, e.g. volume -> {"Master": "20", "LF": "100"}.
func parseLastChange(content string, variables map[string]any) error {
	decoder := xml.NewDecoder(strings.NewReader(content))
	depth := 0
	instanceDepth := 0

	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		switch se := tok.(type) {
		case xml.StartElement:
			depth++
			if se.Name.Local == "InstanceID" && instanceDepth == 0 {
				instanceDepth = depth
				continue
			}
			if instanceDepth == 0 || depth != instanceDepth+1 {
				continue
			}

			key := CamelToSnake(se.Name.Local)
			val := attrValue(se.Attr, "val")
			if channel := attrValue(se.Attr, "channel"); channel != "" {
				channels, ok := variables[key].(map[string]any)
				if !ok {
					channels = make(map[string]any)
				}
				channels[channel] = val
				variables[key] = channels
				continue
			}
			if strings.HasSuffix(key, "meta_data") && val != "" {
				variables[key] = parseMetadata(key, val)
				continue
			}
			variables[key] = val
		case xml.EndElement:
			if depth == instanceDepth {
				return nil
			}
			depth--
		}
	}

	if instanceDepth == 0 {
		return fmt.Errorf("%w: LastChange has no InstanceID", apperrors.ErrDecodeFault)
	}
	return nil
}

func parseMetadata(key, raw string) any {
	objects, err := ParseDIDL(raw)
	if err != nil {
		return Fault{Variable: key, Raw: raw, Err: fmt.Errorf("%w: %v", apperrors.ErrDecodeFault, err)}
	}
	if len(objects) == 0 {
		return Fault{Variable: key, Raw: raw, Err: fmt.Errorf("%w: no DIDL items", apperrors.ErrDecodeFault)}
	}
	return objects[0]
}

// ParseDIDL parses a DIDL-Lite document into its items and containers.
func ParseDIDL(raw string) ([]DidlObject, error) {
	decoder := xml.NewDecoder(strings.NewReader(raw))
	var objects []DidlObject
	var current *DidlObject
	sawRoot := false

	for {
		tok, err := decoder.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		switch se := tok.(type) {
		case xml.StartElement:
			switch se.Name.Local {
			case "DIDL-Lite":
				sawRoot = true
			case "item", "container":
				objects = append(objects, DidlObject{
					ItemID:     attrValue(se.Attr, "id"),
					ParentID:   attrValue(se.Attr, "parentID"),
					Restricted: attrValue(se.Attr, "restricted") == "true" || attrValue(se.Attr, "restricted") == "1",
					Metadata:   make(map[string]string),
				})
				current = &objects[len(objects)-1]
			default:
				if current == nil {
					continue
				}
				var value string
				if err := decoder.DecodeElement(&value, &se); err != nil {
					return nil, err
				}
				value = strings.TrimSpace(value)
				switch se.Name.Local {
				case "title":
					current.Title = value
				case "class":
					current.Class = value
				case "desc":
					current.Desc = value
				case "res":
					current.Resources = append(current.Resources, parseResource(se.Attr, value))
				default:
					current.Metadata[CamelToSnake(se.Name.Local)] = value
				}
			}
		case xml.EndElement:
			if se.Name.Local == "item" || se.Name.Local == "container" {
				current = nil
			}
		}
	}

	if !sawRoot {
		return nil, errors.New("not a DIDL-Lite document")
	}
	return objects, nil
}

func parseResource(attrs []xml.Attr, uri string) DidlResource {
	res := DidlResource{
		URI:        uri,
		Attributes: make(map[string]string),
	}
	for _, attr := range attrs {
		switch attr.Name.Local {
		case "protocolInfo":
			res.ProtocolInfo = attr.Value
		case "duration":
			res.Duration = attr.Value
		default:
			res.Attributes[CamelToSnake(attr.Name.Local)] = attr.Value
		}
	}
	return res
}

func attrValue(attrs []xml.Attr, name string) string {
	for _, attr := range attrs {
		if attr.Name.Local == name {
			return attr.Value
		}
	}
	return ""
}

// ParseSID extracts the subscription ID from a SUBSCRIBE response header.
func ParseSID(sidHeader string) string {
	// SID format: uuid:RINCON_xxx_sub0000000001
	return strings.TrimSpace(sidHeader)
}

// ParseTimeout extracts the timeout value from a SUBSCRIBE response header.
// Returns timeout in seconds.
func ParseTimeout(timeoutHeader string) int {
	// Timeout format: Second-3600 or infinite
	if timeoutHeader == "infinite" {
		return 86400
	}

	timeoutHeader = strings.TrimPrefix(timeoutHeader, "Second-")
	if timeout, err := strconv.Atoi(timeoutHeader); err == nil {
		return timeout
	}
	return 3600
}

// ParseSEQ extracts the sequence number from a NOTIFY header.
func ParseSEQ(seqHeader string) int {
	if seq, err := strconv.Atoi(seqHeader); err == nil {
		return seq
	}
	return 0
}
