package update

import (
	"strconv"
	"strings"
)

// entityIDSeparator splits the segments of a step's entity id.
const entityIDSeparator = ":"

// splitEntityID breaks an entity id into its path segments.
func splitEntityID(entityID string) []string {
	return strings.Split(entityID, entityIDSeparator)
}

// parseIndex parses a relationship index segment. Both the bracketed form
// "[0]" and the bare form "0" are accepted.
func parseIndex(segment string) (int, bool) {
	trimmed := segment
	if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
		trimmed = trimmed[1 : len(trimmed)-1]
	}
	i, err := strconv.Atoi(trimmed)
	if err != nil || i < 0 {
		return 0, false
	}
	return i, true
}

// nestedSet builds the nested mapping {b0: {b1: ... value}} described by the
// breadcrumbs. With no breadcrumbs it returns the value itself.
func nestedSet(breadcrumbs []string, value any) any {
	result := value
	for i := len(breadcrumbs) - 1; i >= 0; i-- {
		result = map[string]any{breadcrumbs[i]: result}
	}
	return result
}

// traverse walks obj along the breadcrumbs, descending through mappings by
// key and through lists by index. Returns nil when the path does not exist.
func traverse(obj any, breadcrumbs []string) any {
	current := obj
	for _, crumb := range breadcrumbs {
		switch v := current.(type) {
		case map[string]any:
			next, ok := v[crumb]
			if !ok {
				return nil
			}
			current = next
		case []any:
			i, ok := parseIndex(crumb)
			if !ok || i >= len(v) {
				return nil
			}
			current = v[i]
		case []map[string]any:
			i, ok := parseIndex(crumb)
			if !ok || i >= len(v) {
				return nil
			}
			current = v[i]
		default:
			return nil
		}
	}
	return current
}

// setAtPath applies a point update: it walks obj along all but the last
// breadcrumb and sets the final key to value. Missing intermediate mappings
// are created. Returns false when an intermediate segment resolves to
// something that cannot hold a key.
func setAtPath(obj map[string]any, breadcrumbs []string, value any) bool {
	if len(breadcrumbs) == 0 {
		return false
	}
	current := obj
	for _, crumb := range breadcrumbs[:len(breadcrumbs)-1] {
		next, ok := current[crumb]
		if !ok {
			child := make(map[string]any)
			current[crumb] = child
			current = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return false
		}
		current = child
	}
	current[breadcrumbs[len(breadcrumbs)-1]] = value
	return true
}
