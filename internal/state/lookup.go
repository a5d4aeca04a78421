package state

import "fmt"

// Lookup walks tree along path without copying.
func Lookup(tree map[string]any, path string) (any, bool) {
	var node any = tree
	for _, segment := range SplitPath(path) {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

// LookupString returns the value at path formatted as a string, or "" when
// the path is missing or holds a map, a list or nil.
func LookupString(tree map[string]any, path string) string {
	value, ok := Lookup(tree, path)
	if !ok || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case map[string]any, []any:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// LookupMap returns the map at path or nil.
func LookupMap(tree map[string]any, path string) map[string]any {
	value, _ := Lookup(tree, path)
	m, _ := value.(map[string]any)
	return m
}

// LookupStrings returns the list at path as strings.
func LookupStrings(tree map[string]any, path string) []string {
	value, _ := Lookup(tree, path)
	switch v := value.(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return append([]string(nil), v...)
	}
	return nil
}
