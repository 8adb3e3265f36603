package update

import (
	"context"
	"errors"
	"sort"

	"github.com/updraft-io/updraft/pkg/stores"
	"github.com/updraft-io/updraft/pkg/telemetry"
)

// stepFunc applies one step against the persisted model and the staging
// changeset, returning what it touched.
type stepFunc func(context.Context, *EntityContext, *Changeset) (StepResult, error)

// dispatchTable maps (entity type, action) to its handler function. Built
// at construction so unsupported combinations fail before any write.
type dispatchTable map[EntityType]map[Action]stepFunc

// lookup returns the function for a step, or nil.
func (t dispatchTable) lookup(step Step) stepFunc {
	actions, ok := t[step.EntityType]
	if !ok {
		return nil
	}
	return actions[step.Action]
}

// supports reports whether the table handles the entity type at all.
func (t dispatchTable) supports(entityType EntityType) bool {
	_, ok := t[entityType]
	return ok
}

// validate rejects any step whose entity type the table owns but whose
// action it has no function for.
func (t dispatchTable) validate(steps []Step) error {
	for _, step := range steps {
		if !t.supports(step.EntityType) {
			continue
		}
		if t.lookup(step) == nil {
			return NewUnsupportedStep(step.EntityType, step.Action)
		}
	}
	return nil
}

// sortedSteps returns the table's steps in ascending entity-id order. The
// ordering is load-bearing: later steps may depend on earlier steps' staged
// state, e.g. a relationship modify assuming a prior add created the slot.
func (t dispatchTable) sortedSteps(steps []Step) []Step {
	out := make([]Step, 0, len(steps))
	for _, step := range steps {
		if t.supports(step.EntityType) {
			out = append(out, step)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EntityID < out[j].EntityID
	})
	return out
}

// NodeUpdateHandler coordinates the node-scoped entity handlers: nodes,
// relationships, operations, properties, plugins.
type NodeUpdateHandler struct {
	store    Storage
	log      *telemetry.Logger
	dispatch dispatchTable
}

// NewNodeUpdateHandler wires the node-scoped dispatch table.
func NewNodeUpdateHandler(store Storage, log *telemetry.Logger) *NodeUpdateHandler {
	componentLog := log.NewComponentLogger("node-update-handler")
	nodes := &nodeEntityHandler{store: store, log: componentLog}
	relationships := &relationshipEntityHandler{store: store, log: componentLog}
	operations := &operationEntityHandler{store: store, log: componentLog}
	properties := &propertyEntityHandler{store: store, log: componentLog}
	plugins := &pluginEntityHandler{store: store, log: componentLog}

	return &NodeUpdateHandler{
		store: store,
		log:   componentLog,
		dispatch: dispatchTable{
			EntityNode: {
				ActionAdd:    nodes.Add,
				ActionRemove: nodes.Remove,
			},
			EntityRelationship: {
				ActionAdd:    relationships.Add,
				ActionRemove: relationships.Remove,
				ActionModify: relationships.Modify,
			},
			EntityOperation: {
				ActionAdd:    operations.Add,
				ActionRemove: operations.Remove,
				ActionModify: operations.Modify,
			},
			EntityProperty: {
				ActionAdd:    properties.Add,
				ActionRemove: properties.Remove,
				ActionModify: properties.Modify,
			},
			EntityPlugin: {
				ActionAdd:    plugins.Add,
				ActionRemove: plugins.Remove,
				ActionModify: plugins.Modify,
			},
		},
	}
}

// Validate checks every node-scoped step against the dispatch table.
func (h *NodeUpdateHandler) Validate(steps []Step) error {
	return h.dispatch.validate(steps)
}

// Supports reports whether this handler owns the entity type.
func (h *NodeUpdateHandler) Supports(entityType EntityType) bool {
	return h.dispatch.supports(entityType)
}

// Handle snapshots the deployment's nodes, replays the node-scoped steps in
// entity-id order, and stores the settled staging snapshot on the update
// for the finalize pass.
func (h *NodeUpdateHandler) Handle(ctx context.Context, du *DeploymentUpdate) (*ModifiedEntities, error) {
	nodes, err := h.store.ListNodes(ctx, du.DeploymentID)
	if err != nil {
		return nil, NewStorageFailure("list nodes", err)
	}
	cs := newChangeset(nodes, nil)
	modified := NewModifiedEntities()

	for _, step := range h.dispatch.sortedSteps(du.Steps) {
		ec, err := resolveEntity(du.Plan, du.DeploymentID, step.EntityType, step.EntityID)
		if err != nil {
			return nil, err
		}
		res, err := h.dispatch.lookup(step)(ctx, ec, cs)
		if err != nil {
			return nil, err
		}
		modified.Add(step.EntityType, res.EntityID)
		if res.IndexMove != nil {
			modified.AddRelMapping(res.NodeID, *res.IndexMove)
		}
		if res.PluginInstall != nil {
			modified.PluginInstalls = append(modified.PluginInstalls, res.PluginInstall)
		}
		if res.PluginUninstall != nil {
			modified.PluginUninstalls = append(modified.PluginUninstalls, res.PluginUninstall)
		}
		h.log.WithDeploymentID(du.DeploymentID).
			WithField("entity_type", string(step.EntityType)).
			WithField("action", string(step.Action)).
			WithField("entity_id", step.EntityID).
			Debug("applied step")
	}

	ids := make([]string, 0, len(cs.Nodes))
	for id := range cs.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	du.Nodes = du.Nodes[:0]
	for _, id := range ids {
		du.Nodes = append(du.Nodes, cs.Nodes[id])
	}
	return modified, nil
}

// Finalize makes storage match the settled staging snapshot: it compacts
// relationship slots, overwrites each surviving node's collections from its
// snapshot, and deletes the nodes whose instances were all removed. Not
// every structural change surfaces through an explicit step, so the
// overwrite is unconditional.
func (h *NodeUpdateHandler) Finalize(ctx context.Context, du *DeploymentUpdate) error {
	removed := removedNodeIDs(du)

	for _, staged := range du.Nodes {
		nodeID, _ := staged[keyID].(string)
		if nodeID == "" || removed[nodeID] {
			continue
		}
		node, err := h.store.GetNode(ctx, du.DeploymentID, nodeID)
		if err != nil {
			return NewStorageFailure("get node", err)
		}
		node.Relationships = compactSlots(deepCopyMaps(asMaps(staged[keyRelationships])))
		node.Operations = deepCopyMap(asMap(staged[keyOperations]))
		node.Plugins = deepCopyMaps(asMaps(staged[keyPlugins]))
		node.PluginsToInstall = deepCopyMaps(asMaps(staged[keyPluginsToInstall]))
		node.Properties = deepCopyMap(asMap(staged[keyProperties]))
		if v, ok := staged[keyNumberOfInstances]; ok {
			node.NumberOfInstances = asInt(v)
		}
		if v, ok := staged[keyPlannedNumberOfInstances]; ok {
			node.PlannedNumberOfInstances = asInt(v)
		}
		if err := h.store.UpdateNode(ctx, node); err != nil {
			return NewStorageFailure("update node", err)
		}
	}

	removedIDs := make([]string, 0, len(removed))
	for id := range removed {
		removedIDs = append(removedIDs, id)
	}
	sort.Strings(removedIDs)
	for _, nodeID := range removedIDs {
		if err := h.store.DeleteNode(ctx, du.DeploymentID, nodeID); err != nil &&
			!errors.Is(err, stores.ErrNotFound) {
			return NewStorageFailure("delete node", err)
		}
		h.log.WithDeploymentID(du.DeploymentID).WithNodeID(nodeID).Debug("deleted node")
	}
	return nil
}

// removedNodeIDs derives the set of nodes leaving the topology from the
// removed instance bucket.
func removedNodeIDs(du *DeploymentUpdate) map[string]bool {
	out := make(map[string]bool)
	for _, inst := range du.InstanceChanges[ChangeRemoved].Affected {
		if nodeID, _ := inst[keyNodeID].(string); nodeID != "" {
			out[nodeID] = true
		}
	}
	return out
}
