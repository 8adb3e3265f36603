package update

import "github.com/updraft-io/updraft/pkg/stores"

// deepCopyValue clones nested plan values so staged snapshots never alias
// storage rows or the plan.
func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	case []map[string]any:
		return deepCopyMaps(t)
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyMaps(ms []map[string]any) []map[string]any {
	if ms == nil {
		return nil
	}
	out := make([]map[string]any, len(ms))
	for i, m := range ms {
		out[i] = deepCopyMap(m)
	}
	return out
}

// nodeToMap snapshots a stored node as a staging mapping.
func nodeToMap(n *stores.Node) map[string]any {
	return map[string]any{
		keyID:                       n.ID,
		keyType:                     n.Type,
		keyTypeHierarchy:            append([]string(nil), n.TypeHierarchy...),
		keyProperties:               deepCopyMap(n.Properties),
		keyOperations:               deepCopyMap(n.Operations),
		keyRelationships:            deepCopyMaps(n.Relationships),
		keyPlugins:                  deepCopyMaps(n.Plugins),
		keyPluginsToInstall:         deepCopyMaps(n.PluginsToInstall),
		keyNumberOfInstances:        n.NumberOfInstances,
		keyPlannedNumberOfInstances: n.PlannedNumberOfInstances,
	}
}

// nodeFromPlan builds a stores.Node from a raw plan node.
func nodeFromPlan(deploymentID string, raw map[string]any) *stores.Node {
	id, _ := raw[keyID].(string)
	nodeType, _ := raw[keyType].(string)
	return &stores.Node{
		ID:                       id,
		DeploymentID:             deploymentID,
		Type:                     nodeType,
		TypeHierarchy:            nodeTypeHierarchy(raw),
		Properties:               deepCopyMap(asMap(raw[keyProperties])),
		Operations:               deepCopyMap(asMap(raw[keyOperations])),
		Relationships:            deepCopyMaps(asMaps(raw[keyRelationships])),
		Plugins:                  deepCopyMaps(asMaps(raw[keyPlugins])),
		PluginsToInstall:         deepCopyMaps(asMaps(raw[keyPluginsToInstall])),
		NumberOfInstances:        asInt(raw[keyNumberOfInstances]),
		PlannedNumberOfInstances: asInt(raw[keyPlannedNumberOfInstances]),
	}
}

// asMap coerces a plan value to a mapping, tolerating absence.
func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// asMaps coerces a plan value to a list of mappings. Plans decoded from
// JSON/YAML carry []any; plans built in-process carry the typed form.
func asMaps(v any) []map[string]any {
	switch t := v.(type) {
	case []map[string]any:
		return t
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, e := range t {
			if m, ok := e.(map[string]any); ok {
				out = append(out, m)
			} else {
				out = append(out, nil)
			}
		}
		return out
	default:
		return nil
	}
}

// asInt coerces numeric plan values, which arrive as int or float64
// depending on the decoder.
func asInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	default:
		return 0
	}
}
