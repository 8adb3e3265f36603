package update

import (
	"context"
	"errors"

	"github.com/updraft-io/updraft/pkg/stores"
	"github.com/updraft-io/updraft/pkg/telemetry"
)

// nodeEntityHandler applies node add/remove steps.
type nodeEntityHandler struct {
	store Storage
	log   *telemetry.Logger
}

// Add creates the node row and refreshes the plugin lists of every node the
// new node targets: a new relationship may oblige an existing target to host
// an operation-bearing plugin it did not carry before.
func (h *nodeEntityHandler) Add(ctx context.Context, ec *EntityContext, cs *Changeset) (StepResult, error) {
	if ec.RawNode == nil {
		return StepResult{}, NewMalformedEntityID(ec.EntityType, ec.EntityID).
			WithField("reason", "node not present in plan")
	}
	node := nodeFromPlan(ec.DeploymentID, ec.RawNode)
	if err := h.store.CreateNodes(ctx, []*stores.Node{node}); err != nil {
		return StepResult{}, NewStorageFailure("create node", err)
	}
	cs.Nodes[node.ID] = deepCopyMap(ec.RawNode)

	for _, rel := range node.Relationships {
		targetID, _ := rel[keyTargetID].(string)
		if targetID == "" {
			continue
		}
		rawTarget := ec.Plan.Node(targetID)
		if rawTarget == nil {
			continue
		}
		target, err := h.store.GetNode(ctx, ec.DeploymentID, targetID)
		if errors.Is(err, stores.ErrNotFound) {
			// Target is itself a new node whose add step has not run yet.
			continue
		}
		if err != nil {
			return StepResult{}, NewStorageFailure("get node", err)
		}
		target.Plugins = deepCopyMaps(asMaps(rawTarget[keyPlugins]))
		target.PluginsToInstall = deepCopyMaps(asMaps(rawTarget[keyPluginsToInstall]))
		if err := h.store.UpdateNode(ctx, target); err != nil {
			return StepResult{}, NewStorageFailure("update node", err)
		}
		cs.setPlugins(targetID, rawTarget)
	}
	return StepResult{EntityID: node.ID, NodeID: node.ID}, nil
}

// Remove drops the staged snapshot entry only. The persisted row is deleted
// at finalize, after instance-level cleanup, to keep foreign-key ordering.
func (h *nodeEntityHandler) Remove(ctx context.Context, ec *EntityContext, cs *Changeset) (StepResult, error) {
	delete(cs.Nodes, ec.NodeID)
	return StepResult{EntityID: ec.NodeID, NodeID: ec.NodeID}, nil
}

// relationshipEntityHandler applies relationship add/remove/modify steps
// against the slotted relationship arrays.
type relationshipEntityHandler struct {
	store Storage
	log   *telemetry.Logger
}

// Add grows the staged slot array with nil placeholders up to the step's
// index, writes the payload there, appends it to the stored node, and
// refreshes both endpoints' plugin lists from the plan.
func (h *relationshipEntityHandler) Add(ctx context.Context, ec *EntityContext, cs *Changeset) (StepResult, error) {
	rel := asMap(ec.RawEntityValue)
	if rel == nil || cs.node(ec.NodeID) == nil {
		return StepResult{}, NewMalformedEntityID(ec.EntityType, ec.EntityID).
			WithField("reason", "relationship not present in plan or source node unknown")
	}
	rels := growSlots(cs.relationships(ec.NodeID), ec.RelationshipIndex)
	rels[ec.RelationshipIndex] = deepCopyMap(rel)
	cs.setRelationships(ec.NodeID, rels)

	source, err := h.store.GetNode(ctx, ec.DeploymentID, ec.NodeID)
	if err != nil {
		return StepResult{}, NewStorageFailure("get node", err)
	}
	source.Relationships = append(source.Relationships, deepCopyMap(rel))
	if ec.RawNode != nil {
		source.Plugins = deepCopyMaps(asMaps(ec.RawNode[keyPlugins]))
		source.PluginsToInstall = deepCopyMaps(asMaps(ec.RawNode[keyPluginsToInstall]))
		cs.setPlugins(ec.NodeID, ec.RawNode)
	}
	if err := h.store.UpdateNode(ctx, source); err != nil {
		return StepResult{}, NewStorageFailure("update node", err)
	}

	if ec.TargetID != "" && ec.RawTargetNode != nil {
		target, err := h.store.GetNode(ctx, ec.DeploymentID, ec.TargetID)
		if err == nil {
			target.Plugins = deepCopyMaps(asMaps(ec.RawTargetNode[keyPlugins]))
			target.PluginsToInstall = deepCopyMaps(asMaps(ec.RawTargetNode[keyPluginsToInstall]))
			if err := h.store.UpdateNode(ctx, target); err != nil {
				return StepResult{}, NewStorageFailure("update node", err)
			}
			cs.setPlugins(ec.TargetID, ec.RawTargetNode)
		} else if !errors.Is(err, stores.ErrNotFound) {
			return StepResult{}, NewStorageFailure("get node", err)
		}
	}
	return StepResult{EntityID: ec.EntityID, NodeID: ec.NodeID, TargetID: ec.TargetID}, nil
}

// Remove nulls the staged slot without changing the array length. Index
// stability matters: later steps and instance-level relationships still
// address slots positionally until finalize compacts the array.
func (h *relationshipEntityHandler) Remove(ctx context.Context, ec *EntityContext, cs *Changeset) (StepResult, error) {
	rels := cs.relationships(ec.NodeID)
	var targetID string
	if ec.RelationshipIndex < len(rels) && rels[ec.RelationshipIndex] != nil {
		targetID, _ = rels[ec.RelationshipIndex][keyTargetID].(string)
		rels[ec.RelationshipIndex] = nil
		cs.setRelationships(ec.NodeID, rels)
	}
	return StepResult{EntityID: ec.EntityID, NodeID: ec.NodeID, TargetID: targetID}, nil
}

// Modify moves an existing relationship to a new slot index. The payload is
// taken from storage (content did not change, only position); the move is
// reported so the instance reorder pass can mirror it.
func (h *relationshipEntityHandler) Modify(ctx context.Context, ec *EntityContext, cs *Changeset) (StepResult, error) {
	if len(ec.Breadcrumbs) == 0 {
		return StepResult{}, NewMalformedEntityID(ec.EntityType, ec.EntityID).
			WithField("reason", "modify requires a target index breadcrumb")
	}
	targetIndex, ok := parseIndex(ec.Breadcrumbs[0])
	if !ok {
		return StepResult{}, NewMalformedEntityID(ec.EntityType, ec.EntityID)
	}
	source, err := h.store.GetNode(ctx, ec.DeploymentID, ec.NodeID)
	if err != nil {
		return StepResult{}, NewStorageFailure("get node", err)
	}
	if ec.RelationshipIndex >= len(source.Relationships) {
		return StepResult{}, NewMalformedEntityID(ec.EntityType, ec.EntityID).
			WithField("reason", "source index beyond stored relationships")
	}
	rel := source.Relationships[ec.RelationshipIndex]
	rels := growSlots(cs.relationships(ec.NodeID), targetIndex)
	rels[targetIndex] = deepCopyMap(rel)
	cs.setRelationships(ec.NodeID, rels)
	return StepResult{
		EntityID:  ec.EntityID,
		NodeID:    ec.NodeID,
		IndexMove: &IndexMove{From: ec.RelationshipIndex, To: targetIndex},
	}, nil
}

// propertyEntityHandler applies property steps, including point updates
// into nested property values via breadcrumbs.
type propertyEntityHandler struct {
	store Storage
	log   *telemetry.Logger
}

// Modify sets the property at the step's path. The staged snapshot gets a
// point update; the stored row gets the rebuilt nested value, and the
// finalize pass makes it match the snapshot exactly.
func (h *propertyEntityHandler) Modify(ctx context.Context, ec *EntityContext, cs *Changeset) (StepResult, error) {
	staged := cs.node(ec.NodeID)
	if staged == nil {
		return StepResult{}, NewMalformedEntityID(ec.EntityType, ec.EntityID).
			WithField("reason", "node unknown")
	}
	value := deepCopyValue(ec.RawEntityValue)
	props := asMap(staged[keyProperties])
	if props == nil {
		props = make(map[string]any)
		staged[keyProperties] = props
	}
	if len(ec.Breadcrumbs) == 0 {
		props[ec.PropertyID] = value
	} else {
		nested, ok := props[ec.PropertyID].(map[string]any)
		if !ok {
			nested = make(map[string]any)
			props[ec.PropertyID] = nested
		}
		if !setAtPath(nested, ec.Breadcrumbs, value) {
			return StepResult{}, NewMalformedEntityID(ec.EntityType, ec.EntityID).
				WithField("reason", "breadcrumb path conflicts with existing value")
		}
	}

	node, err := h.store.GetNode(ctx, ec.DeploymentID, ec.NodeID)
	if err != nil {
		return StepResult{}, NewStorageFailure("get node", err)
	}
	nodeProps := deepCopyMap(node.Properties)
	if nodeProps == nil {
		nodeProps = make(map[string]any)
	}
	nodeProps[ec.PropertyID] = nestedSet(ec.Breadcrumbs, value)
	node.Properties = nodeProps
	if err := h.store.UpdateNode(ctx, node); err != nil {
		return StepResult{}, NewStorageFailure("update node", err)
	}
	return StepResult{EntityID: ec.EntityID, NodeID: ec.NodeID}, nil
}

// Add is set-at-path, same as Modify.
func (h *propertyEntityHandler) Add(ctx context.Context, ec *EntityContext, cs *Changeset) (StepResult, error) {
	return h.Modify(ctx, ec, cs)
}

// Remove deletes the top-level property key from the staged snapshot; the
// stored row catches up at finalize.
func (h *propertyEntityHandler) Remove(ctx context.Context, ec *EntityContext, cs *Changeset) (StepResult, error) {
	if staged := cs.node(ec.NodeID); staged != nil {
		if props := asMap(staged[keyProperties]); props != nil {
			delete(props, ec.PropertyID)
		}
	}
	return StepResult{EntityID: ec.EntityID, NodeID: ec.NodeID}, nil
}

// pluginEntityHandler maintains a node's plugins / plugins_to_install lists
// and reports installable side effects.
type pluginEntityHandler struct {
	store Storage
	log   *telemetry.Logger
}

func (h *pluginEntityHandler) Add(ctx context.Context, ec *EntityContext, cs *Changeset) (StepResult, error) {
	if ec.RawNode == nil {
		return StepResult{}, NewMalformedEntityID(ec.EntityType, ec.EntityID).
			WithField("reason", "node not present in plan")
	}
	plugin := findByKey(asMaps(ec.RawNode[ec.PluginKey]), ec.PluginName)
	if plugin == nil {
		return StepResult{}, NewMalformedEntityID(ec.EntityType, ec.EntityID).
			WithField("reason", "plugin not present in plan")
	}
	node, err := h.store.GetNode(ctx, ec.DeploymentID, ec.NodeID)
	if err != nil {
		return StepResult{}, NewStorageFailure("get node", err)
	}
	list := append(deepCopyMaps(pluginList(node, ec.PluginKey)), deepCopyMap(plugin))
	setPluginList(node, ec.PluginKey, list)
	if err := h.store.UpdateNode(ctx, node); err != nil {
		return StepResult{}, NewStorageFailure("update node", err)
	}
	if staged := cs.node(ec.NodeID); staged != nil {
		staged[ec.PluginKey] = append(asMaps(staged[ec.PluginKey]), deepCopyMap(plugin))
	}
	res := StepResult{EntityID: ec.EntityID, NodeID: ec.NodeID}
	if installablePlugin(node.TypeHierarchy, plugin) {
		res.PluginInstall = plugin
	}
	return res, nil
}

func (h *pluginEntityHandler) Remove(ctx context.Context, ec *EntityContext, cs *Changeset) (StepResult, error) {
	node, err := h.store.GetNode(ctx, ec.DeploymentID, ec.NodeID)
	if err != nil {
		return StepResult{}, NewStorageFailure("get node", err)
	}
	list := pluginList(node, ec.PluginKey)
	removed := findByKey(list, ec.PluginName)
	if removed == nil {
		return StepResult{}, NewMalformedEntityID(ec.EntityType, ec.EntityID).
			WithField("reason", "plugin not present on stored node")
	}
	setPluginList(node, ec.PluginKey, withoutPlugin(list, ec.PluginName))
	if err := h.store.UpdateNode(ctx, node); err != nil {
		return StepResult{}, NewStorageFailure("update node", err)
	}
	if staged := cs.node(ec.NodeID); staged != nil {
		staged[ec.PluginKey] = withoutPlugin(asMaps(staged[ec.PluginKey]), ec.PluginName)
	}
	res := StepResult{EntityID: ec.EntityID, NodeID: ec.NodeID}
	if installablePlugin(node.TypeHierarchy, removed) {
		res.PluginUninstall = removed
	}
	return res, nil
}

// Modify is remove followed by add; both side effects are reported.
func (h *pluginEntityHandler) Modify(ctx context.Context, ec *EntityContext, cs *Changeset) (StepResult, error) {
	removed, err := h.Remove(ctx, ec, cs)
	if err != nil {
		return StepResult{}, err
	}
	added, err := h.Add(ctx, ec, cs)
	if err != nil {
		return StepResult{}, err
	}
	added.PluginUninstall = removed.PluginUninstall
	return added, nil
}

func pluginList(node *stores.Node, key string) []map[string]any {
	if key == keyPluginsToInstall {
		return node.PluginsToInstall
	}
	return node.Plugins
}

func setPluginList(node *stores.Node, key string, list []map[string]any) {
	if key == keyPluginsToInstall {
		node.PluginsToInstall = list
	} else {
		node.Plugins = list
	}
}

func withoutPlugin(list []map[string]any, name string) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, p := range list {
		if p == nil {
			continue
		}
		if n, _ := p[keyPluginName].(string); n == name {
			continue
		}
		out = append(out, p)
	}
	return out
}

// installablePlugin gates install/uninstall side effects: only a host-agent
// plugin with its install flag set, on a compute node, needs agent action.
func installablePlugin(typeHierarchy []string, plugin map[string]any) bool {
	compute := false
	for _, t := range typeHierarchy {
		if t == computeNodeType {
			compute = true
			break
		}
	}
	if !compute {
		return false
	}
	install, _ := plugin[keyPluginInstall].(bool)
	executor, _ := plugin[keyExecutor].(string)
	return install && executor == hostAgent
}
