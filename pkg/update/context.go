package update

// EntityContext binds a step's entity id to the plan-side view of the entity
// it addresses. Resolution is pure: nothing is read from or written to
// storage here.
type EntityContext struct {
	Plan         Plan
	DeploymentID string
	EntityType   EntityType
	EntityID     string

	// NodeID is set for every node-scoped entity.
	NodeID string

	// TargetID is the relationship target node id, when resolvable from the
	// plan. For a relationship remove the slot is gone from the new plan, so
	// the handler recovers the target from the staged snapshot instead.
	TargetID string

	// RelationshipIndex is the slot index for relationship-scoped entities,
	// -1 otherwise.
	RelationshipIndex int

	// OperationKey distinguishes node operations from relationship source /
	// target operations; OperationID names the operation.
	OperationKey string
	OperationID  string

	PropertyID string
	WorkflowID string
	OutputID   string

	// PluginKey is "plugins" or "plugins_to_install"; PluginName names the
	// plugin within that list.
	PluginKey  string
	PluginName string

	// Breadcrumbs are the path segments below the addressed entity. Together
	// with RawEntityValue they fully determine a nested modify.
	Breadcrumbs []string

	// RawNode and RawTargetNode are the plan-side node mappings.
	RawNode       map[string]any
	RawTargetNode map[string]any

	// RawEntityValue is the plan value at the full entity path, nil when the
	// path no longer exists in the new plan (remove steps).
	RawEntityValue any
}

// resolveEntity parses a step's entity id against the plan and produces the
// context the handlers operate on. The id's shape must match the entity
// type; anything else is a malformed-entity-id error.
func resolveEntity(plan Plan, deploymentID string, entityType EntityType, entityID string) (*EntityContext, error) {
	ec := &EntityContext{
		Plan:              plan,
		DeploymentID:      deploymentID,
		EntityType:        entityType,
		EntityID:          entityID,
		RelationshipIndex: -1,
	}
	segments := splitEntityID(entityID)
	malformed := func() error { return NewMalformedEntityID(entityType, entityID) }

	switch entityType {
	case EntityNode:
		if len(segments) != 2 || segments[0] != keyNodes {
			return nil, malformed()
		}
		ec.NodeID = segments[1]

	case EntityRelationship:
		if len(segments) < 4 || segments[0] != keyNodes || segments[2] != keyRelationships {
			return nil, malformed()
		}
		index, ok := parseIndex(segments[3])
		if !ok {
			return nil, malformed()
		}
		ec.NodeID = segments[1]
		ec.RelationshipIndex = index
		ec.Breadcrumbs = segments[4:]

	case EntityOperation:
		if len(segments) < 4 || segments[0] != keyNodes {
			return nil, malformed()
		}
		ec.NodeID = segments[1]
		switch segments[2] {
		case keyOperations:
			ec.OperationKey = keyOperations
			ec.OperationID = segments[3]
			ec.Breadcrumbs = segments[4:]
		case keyRelationships:
			// nodes:<n>:relationships:[i]:(source|target)_operations:<op>
			if len(segments) < 6 {
				return nil, malformed()
			}
			index, ok := parseIndex(segments[3])
			if !ok {
				return nil, malformed()
			}
			if segments[4] != keySourceOperations && segments[4] != keyTargetOperations {
				return nil, malformed()
			}
			ec.RelationshipIndex = index
			ec.OperationKey = segments[4]
			ec.OperationID = segments[5]
			ec.Breadcrumbs = segments[6:]
		default:
			return nil, malformed()
		}

	case EntityProperty:
		if len(segments) < 4 || segments[0] != keyNodes || segments[2] != keyProperties {
			return nil, malformed()
		}
		ec.NodeID = segments[1]
		ec.PropertyID = segments[3]
		ec.Breadcrumbs = segments[4:]

	case EntityWorkflow:
		if len(segments) < 2 || segments[0] != keyWorkflows {
			return nil, malformed()
		}
		ec.WorkflowID = segments[1]
		ec.Breadcrumbs = segments[2:]

	case EntityOutput:
		if len(segments) < 2 || segments[0] != keyOutputs {
			return nil, malformed()
		}
		ec.OutputID = segments[1]
		ec.Breadcrumbs = segments[2:]

	case EntityDescription:
		if len(segments) != 1 || segments[0] != keyDescription {
			return nil, malformed()
		}

	case EntityPlugin:
		if len(segments) != 4 || segments[0] != keyNodes {
			return nil, malformed()
		}
		if segments[2] != keyPlugins && segments[2] != keyPluginsToInstall {
			return nil, malformed()
		}
		ec.NodeID = segments[1]
		ec.PluginKey = segments[2]
		ec.PluginName = segments[3]

	default:
		return nil, malformed()
	}

	if ec.NodeID != "" {
		ec.RawNode = plan.Node(ec.NodeID)
	}
	ec.RawEntityValue = resolveRawValue(plan, ec, segments)

	// Resolve the relationship target from the new plan where the slot still
	// exists.
	if ec.RelationshipIndex >= 0 && ec.RawNode != nil {
		rels := asMaps(ec.RawNode[keyRelationships])
		if ec.RelationshipIndex < len(rels) && rels[ec.RelationshipIndex] != nil {
			if target, _ := rels[ec.RelationshipIndex][keyTargetID].(string); target != "" {
				ec.TargetID = target
				ec.RawTargetNode = plan.Node(target)
			}
		}
	}

	return ec, nil
}

// resolveRawValue walks the plan along the entity path. Description lives at
// the top level; everything else descends segment by segment. A missing path
// yields nil, which remove steps expect.
func resolveRawValue(plan Plan, ec *EntityContext, segments []string) any {
	if ec.EntityType == EntityDescription {
		return plan.Description()
	}
	current := any(map[string]any(plan))
	for _, segment := range segments {
		switch v := current.(type) {
		case map[string]any:
			if segment == keyNodes {
				// The node list is keyed by id in entity paths, not by index.
				current = v[keyNodes]
				continue
			}
			next, ok := v[segment]
			if !ok {
				return nil
			}
			current = next
		case []any, []map[string]any:
			if i, ok := parseIndex(segment); ok {
				rels := asMaps(v)
				if i >= len(rels) {
					return nil
				}
				current = rels[i]
				continue
			}
			// Named lookup into a node or plugin list.
			found := findByKey(asMaps(v), segment)
			if found == nil {
				return nil
			}
			current = found
		default:
			return nil
		}
	}
	return current
}

// findByKey locates a mapping in a list by its id or name.
func findByKey(items []map[string]any, key string) map[string]any {
	for _, item := range items {
		if item == nil {
			continue
		}
		if id, _ := item[keyID].(string); id == key {
			return item
		}
		if name, _ := item[keyPluginName].(string); name == key {
			return item
		}
	}
	return nil
}
