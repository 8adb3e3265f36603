package update

import "strings"

// Plan key and field name conventions shared with the blueprint evaluator.
const (
	keyNodes            = "nodes"
	keyID               = "id"
	keyType             = "type"
	keyTypeHierarchy    = "type_hierarchy"
	keyProperties       = "properties"
	keyOperations       = "operations"
	keyRelationships    = "relationships"
	keySourceOperations = "source_operations"
	keyTargetOperations = "target_operations"
	keyPlugins          = "plugins"
	keyPluginsToInstall = "plugins_to_install"
	keyWorkflows        = "workflows"
	keyOutputs          = "outputs"
	keyDescription      = "description"
	keyTargetID         = "target_id"
	keyNodeID           = "node_id"
	keyModification     = "modification"
	keyRelIndex         = "rel_index"
	keyInputs           = "inputs"

	keyNumberOfInstances        = "number_of_instances"
	keyPlannedNumberOfInstances = "planned_number_of_instances"

	// keyDependencies is the top-level plan mapping of non-node dependency
	// creators to their target deployments.
	keyDependencies = "inter_deployment_dependencies"

	// resource_config.deployment.id on a component or shared-resource node
	// names the target deployment.
	keyResourceConfig = "resource_config"
	keyDeployment     = "deployment"

	// Plugin fields and the gate deciding whether a plugin change requires
	// host-agent action.
	keyPluginName    = "name"
	keyPluginInstall = "install"
	keyExecutor      = "executor"
	hostAgent        = "host_agent"
	computeNodeType  = "compute"
)

// Dependency creator prefixes. Node-keyed dependency edges carry one of
// these; everything else belongs to the non-node pass.
const (
	depPrefixNodes          = "nodes."
	depPrefixComponent      = "component."
	depPrefixSharedResource = "shared_resource."

	componentNodeType      = "component"
	sharedResourceNodeType = "shared_resource"
)

// Plan is the fully resolved deployment plan: the nested mapping produced by
// evaluating a blueprint against its inputs.
type Plan map[string]any

// Nodes returns the plan's node list.
func (p Plan) Nodes() []map[string]any {
	raw, _ := p[keyNodes].([]any)
	nodes := make([]map[string]any, 0, len(raw))
	for _, n := range raw {
		if m, ok := n.(map[string]any); ok {
			nodes = append(nodes, m)
		}
	}
	if len(nodes) > 0 || raw != nil {
		return nodes
	}
	// Plans built in-process often carry the typed form directly.
	typed, _ := p[keyNodes].([]map[string]any)
	return typed
}

// Node returns the plan node with the given id, or nil.
func (p Plan) Node(id string) map[string]any {
	for _, n := range p.Nodes() {
		if nodeID, _ := n[keyID].(string); nodeID == id {
			return n
		}
	}
	return nil
}

// Workflows returns the plan's workflow mapping.
func (p Plan) Workflows() map[string]any {
	m, _ := p[keyWorkflows].(map[string]any)
	return m
}

// Outputs returns the plan's output mapping.
func (p Plan) Outputs() map[string]any {
	m, _ := p[keyOutputs].(map[string]any)
	return m
}

// Description returns the plan's deployment description.
func (p Plan) Description() string {
	s, _ := p[keyDescription].(string)
	return s
}

// FunctionDependencies returns the non-node dependency creators declared at
// the top of the plan, mapped to their target deployments.
func (p Plan) FunctionDependencies() map[string]string {
	out := make(map[string]string)
	raw, _ := p[keyDependencies].(map[string]any)
	for creator, target := range raw {
		s, _ := target.(string)
		out[creator] = s
	}
	return out
}

// NodeDependencies derives the node-keyed dependency creators implied by the
// plan's component and shared-resource nodes. A node whose target deployment
// cannot be resolved maps to the empty string; callers surface those rather
// than guessing.
func (p Plan) NodeDependencies() map[string]string {
	out := make(map[string]string)
	for _, node := range p.Nodes() {
		nodeID, _ := node[keyID].(string)
		if nodeID == "" {
			continue
		}
		switch dependencyNodeKind(node) {
		case componentNodeType:
			out[depPrefixComponent+nodeID] = dependencyTarget(node)
		case sharedResourceNodeType:
			out[depPrefixSharedResource+nodeID] = dependencyTarget(node)
		}
	}
	return out
}

// dependencyNodeKind reports whether the node is a component or
// shared-resource node, by type hierarchy membership.
func dependencyNodeKind(node map[string]any) string {
	for _, t := range nodeTypeHierarchy(node) {
		if t == componentNodeType || t == sharedResourceNodeType {
			return t
		}
	}
	return ""
}

// dependencyTarget resolves resource_config.deployment.id from the node's
// properties, or "" when the plan does not pin a target.
func dependencyTarget(node map[string]any) string {
	props, _ := node[keyProperties].(map[string]any)
	rc, _ := props[keyResourceConfig].(map[string]any)
	dep, _ := rc[keyDeployment].(map[string]any)
	id, _ := dep[keyID].(string)
	return id
}

// nodeTypeHierarchy returns the node's type hierarchy, falling back to the
// bare type when the plan omits the hierarchy.
func nodeTypeHierarchy(node map[string]any) []string {
	var out []string
	switch h := node[keyTypeHierarchy].(type) {
	case []string:
		out = h
	case []any:
		for _, t := range h {
			if s, ok := t.(string); ok {
				out = append(out, s)
			}
		}
	}
	if len(out) == 0 {
		if t, _ := node[keyType].(string); t != "" {
			out = []string{t}
		}
	}
	return out
}

// isNodeKeyedCreator reports whether a dependency creator belongs to the
// node-keyed reconciliation pass.
func isNodeKeyedCreator(creator string) bool {
	return strings.HasPrefix(creator, depPrefixNodes) ||
		strings.HasPrefix(creator, depPrefixComponent) ||
		strings.HasPrefix(creator, depPrefixSharedResource)
}
