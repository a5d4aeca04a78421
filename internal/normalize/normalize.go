// Package normalize converts parsed UPnP event variables into plain nested
// maps that can be merged into the state tree.
package normalize

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/strefethen/sonos-bridge-go/internal/apperrors"
	"github.com/strefethen/sonos-bridge-go/internal/sonos/events"
)

// Normalizer flattens event variables. It never fails: fault markers become
// empty maps and values it cannot interpret are logged and kept as they are.
type Normalizer struct {
	logger *log.Logger
}

// New creates a Normalizer.
func New(logger *log.Logger) *Normalizer {
	if logger == nil {
		logger = log.Default()
	}
	return &Normalizer{logger: logger}
}

// Event returns the normalized variables of ev keyed by variable name.
func (n *Normalizer) Event(ev events.Event) map[string]any {
	result := make(map[string]any, len(ev.Variables))
	for name, value := range ev.Variables {
		result[name] = n.value(ev, name, value)
	}
	return result
}

func (n *Normalizer) value(ev events.Event, name string, value any) any {
	switch v := value.(type) {
	case events.Fault:
		n.logger.Printf("UPNP: fault decoding %s/%s %s: %v", ev.DeviceUID, ev.Service, name, v.Err)
		return map[string]any{}
	case *events.Fault:
		n.logger.Printf("UPNP: fault decoding %s/%s %s: %v", ev.DeviceUID, ev.Service, name, v.Err)
		return map[string]any{}
	case string:
		if !strings.HasPrefix(v, "<") {
			return v
		}
		tree, err := MarkupToMap(v)
		if err != nil {
			n.logger.Printf("UPNP: %s/%s %s: keeping raw markup: %v", ev.DeviceUID, ev.Service, name, err)
			return v
		}
		return tree
	case events.DidlObject:
		return n.didl(ev, v)
	case []events.DidlObject:
		list := make([]any, 0, len(v))
		for _, obj := range v {
			list = append(list, n.didl(ev, obj))
		}
		return list
	case events.DidlResource:
		return resource(v)
	case []events.DidlResource:
		return resources(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = n.value(ev, name, item)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = item
		}
		return out
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			out = append(out, n.value(ev, name, item))
		}
		return out
	case nil, bool, int, int64, float64:
		return v
	default:
		n.logger.Printf("UPNP: %s/%s %s: keeping uninterpreted %T", ev.DeviceUID, ev.Service, name, value)
		return v
	}
}

// didl flattens a DIDL-Lite object. Metadata fields are merged into the
// top level next to the core fields.
func (n *Normalizer) didl(ev events.Event, obj events.DidlObject) map[string]any {
	out := map[string]any{
		"item_id":    obj.ItemID,
		"parent_id":  obj.ParentID,
		"restricted": obj.Restricted,
		"title":      obj.Title,
		"upnp_class": obj.Class,
		"desc":       obj.Desc,
		"resources":  resources(obj.Resources),
	}
	for key, value := range obj.Metadata {
		if strings.HasPrefix(value, "<") {
			out[key] = n.value(ev, key, value)
			continue
		}
		out[key] = value
	}
	return out
}

func resources(list []events.DidlResource) []any {
	out := make([]any, 0, len(list))
	for _, res := range list {
		out = append(out, resource(res))
	}
	return out
}

func resource(res events.DidlResource) map[string]any {
	out := map[string]any{
		"uri":           res.URI,
		"protocol_info": res.ProtocolInfo,
	}
	if res.Duration != "" {
		out["duration"] = res.Duration
	}
	for key, value := range res.Attributes {
		if _, ok := out[key]; !ok {
			out[key] = value
		}
	}
	return out
}

type node struct {
	name     string
	attrs    []xml.Attr
	text     strings.Builder
	children []*node
}

// MarkupToMap converts an XML document into a nested map keyed by element
// local name. Attributes are stored with an "@" prefix. Text is stored under
// "#text" when the element also has attributes or children, otherwise the
// element maps directly to its text (or nil when empty). Repeated sibling
// elements become a list in document order.
func MarkupToMap(markup string) (map[string]any, error) {
	decoder := xml.NewDecoder(strings.NewReader(markup))
	decoder.Strict = true

	var root *node
	var stack []*node
	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrDecodeFault, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			el := &node{name: t.Name.Local, attrs: t.Attr}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, el)
			} else if root == nil {
				root = el
			} else {
				return nil, fmt.Errorf("%w: multiple root elements", apperrors.ErrDecodeFault)
			}
			stack = append(stack, el)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		}
	}
	if root == nil || len(stack) != 0 {
		return nil, fmt.Errorf("%w: incomplete document", apperrors.ErrDecodeFault)
	}
	return map[string]any{root.name: root.value()}, nil
}

func (el *node) value() any {
	text := strings.TrimSpace(el.text.String())
	attrs := make([]xml.Attr, 0, len(el.attrs))
	for _, attr := range el.attrs {
		if attr.Name.Space == "xmlns" || attr.Name.Local == "xmlns" {
			continue
		}
		attrs = append(attrs, attr)
	}

	if len(el.children) == 0 && len(attrs) == 0 {
		if text == "" {
			return nil
		}
		return text
	}

	out := make(map[string]any)
	seen := make(map[string]int)
	for _, child := range el.children {
		value := child.value()
		seen[child.name]++
		switch seen[child.name] {
		case 1:
			out[child.name] = value
		case 2:
			out[child.name] = []any{out[child.name], value}
		default:
			out[child.name] = append(out[child.name].([]any), value)
		}
	}
	for _, attr := range attrs {
		out["@"+attr.Name.Local] = attr.Value
	}
	if text != "" {
		out["#text"] = text
	}
	return out
}
