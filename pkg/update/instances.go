package update

import (
	"context"
	"errors"
	"reflect"
	"sort"

	"github.com/google/uuid"
	"github.com/updraft-io/updraft/pkg/stores"
	"github.com/updraft-io/updraft/pkg/telemetry"
)

// InstanceUpdateHandler is the node-instance-level counterpart of the
// topology handlers: it creates, extends, reduces, and deletes instances,
// then repairs relationship order once the node-level topology settles.
type InstanceUpdateHandler struct {
	store Storage
	log   *telemetry.Logger
}

// NewInstanceUpdateHandler returns an instance reconciler.
func NewInstanceUpdateHandler(store Storage, log *telemetry.Logger) *InstanceUpdateHandler {
	return &InstanceUpdateHandler{
		store: store,
		log:   log.NewComponentLogger("instance-update-handler"),
	}
}

// Handle applies the added, extended, and reduced instance buckets. Related
// instances pass through untouched; removed instances are only staged here
// and deleted at finalize, after neighbors dropped their references.
func (h *InstanceUpdateHandler) Handle(ctx context.Context, du *DeploymentUpdate) error {
	if du.ReducedRelationships == nil {
		du.ReducedRelationships = make(map[string][]map[string]any)
	}
	if err := h.addInstances(ctx, du); err != nil {
		return err
	}
	if err := h.extendInstances(ctx, du); err != nil {
		return err
	}
	return h.stageReducedInstances(ctx, du)
}

// addInstances bulk-creates new instances with fresh runtime state.
func (h *InstanceUpdateHandler) addInstances(ctx context.Context, du *DeploymentUpdate) error {
	added := du.InstanceChanges[ChangeAdded].Affected
	if len(added) == 0 {
		return nil
	}
	instances := make([]*stores.NodeInstance, 0, len(added))
	for _, raw := range added {
		id, _ := raw[keyID].(string)
		if id == "" {
			id = uuid.New().String()
		}
		nodeID, _ := raw[keyNodeID].(string)
		instances = append(instances, &stores.NodeInstance{
			ID:                id,
			NodeID:            nodeID,
			DeploymentID:      du.DeploymentID,
			State:             "",
			Version:           0,
			Relationships:     deepCopyMaps(asMaps(raw[keyRelationships])),
			RuntimeProperties: make(map[string]any),
		})
	}
	if err := h.store.CreateNodeInstances(ctx, instances); err != nil {
		return NewStorageFailure("create node instances", err)
	}
	h.log.WithDeploymentID(du.DeploymentID).
		WithField("count", len(instances)).
		Debug("created node instances")
	return nil
}

// extendInstances appends newly introduced relationships, sorted by their
// rel_index breadcrumb, onto each lock-acquired instance.
func (h *InstanceUpdateHandler) extendInstances(ctx context.Context, du *DeploymentUpdate) error {
	for _, raw := range du.InstanceChanges[ChangeExtended].Affected {
		id, _ := raw[keyID].(string)
		instance, err := h.store.GetNodeInstance(ctx, id, true)
		if err != nil {
			return NewStorageFailure("get node instance", err)
		}
		newRels := deepCopyMaps(asMaps(raw[keyRelationships]))
		sort.SliceStable(newRels, func(i, j int) bool {
			return asInt(newRels[i][keyRelIndex]) < asInt(newRels[j][keyRelIndex])
		})
		instance.Relationships = append(instance.Relationships, newRels...)
		instance.Version++
		if err := h.updateInstance(ctx, instance); err != nil {
			return err
		}
	}
	return nil
}

// stageReducedInstances computes each reduced instance's remaining
// relationship set and stages it for the finalize pass, where it is merged
// with any simultaneous extension of the same instance.
func (h *InstanceUpdateHandler) stageReducedInstances(ctx context.Context, du *DeploymentUpdate) error {
	for _, raw := range du.InstanceChanges[ChangeReduced].Affected {
		id, _ := raw[keyID].(string)
		instance, err := h.store.GetNodeInstance(ctx, id, false)
		if err != nil {
			return NewStorageFailure("get node instance", err)
		}
		removedTargets := make(map[string]bool)
		for _, rel := range asMaps(raw[keyRelationships]) {
			if target, _ := rel[keyTargetID].(string); target != "" {
				removedTargets[target] = true
			}
		}
		remaining := make([]map[string]any, 0, len(instance.Relationships))
		for _, rel := range instance.Relationships {
			if rel == nil {
				continue
			}
			if target, _ := rel[keyTargetID].(string); removedTargets[target] {
				continue
			}
			remaining = append(remaining, rel)
		}
		du.ReducedRelationships[id] = deepCopyMaps(remaining)
	}
	return nil
}

// Finalize repairs instance-level structure in three strictly ordered
// passes: reorder before reduce so index moves never race against entries
// being spliced out, and delete last so neighbors have already dropped
// references to departing instances.
func (h *InstanceUpdateHandler) Finalize(ctx context.Context, du *DeploymentUpdate) error {
	if err := h.reorderRelationships(ctx, du); err != nil {
		return err
	}
	if err := h.reduceInstances(ctx, du); err != nil {
		return err
	}
	return h.deleteInstances(ctx, du)
}

// reorderRelationships mirrors node-level relationship index moves onto
// each node's instances, places freshly extended relationships at their
// rel_index, and drops the nil placeholders left behind.
func (h *InstanceUpdateHandler) reorderRelationships(ctx context.Context, du *DeploymentUpdate) error {
	if du.ModifiedEntities == nil {
		return nil
	}
	nodeIDs := make([]string, 0, len(du.ModifiedEntities.RelMappings))
	for nodeID := range du.ModifiedEntities.RelMappings {
		nodeIDs = append(nodeIDs, nodeID)
	}
	sort.Strings(nodeIDs)

	for _, nodeID := range nodeIDs {
		moves := du.ModifiedEntities.RelMappings[nodeID]
		instances, err := h.store.ListNodeInstances(ctx, du.DeploymentID, nodeID)
		if err != nil {
			return NewStorageFailure("list node instances", err)
		}
		for _, inst := range instances {
			locked, err := h.store.GetNodeInstance(ctx, inst.ID, true)
			if err != nil {
				return NewStorageFailure("get node instance", err)
			}
			locked.Relationships = applyRelationshipMoves(locked.Relationships, moves)
			locked.Version++
			if err := h.updateInstance(ctx, locked); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyRelationshipMoves rebuilds a relationship list: moved entries land
// at their new index, unmoved entries keep their position, entries still
// carrying a rel_index breadcrumb are placed there, and nil slots are
// compacted away.
func applyRelationshipMoves(original []map[string]any, moves []IndexMove) []map[string]any {
	maxIndex := len(original) - 1
	movedFrom := make(map[int]bool, len(moves))
	targets := make(map[int]int, len(moves))
	for _, mv := range moves {
		movedFrom[mv.From] = true
		targets[mv.To] = mv.From
		if mv.To > maxIndex {
			maxIndex = mv.To
		}
	}
	result := make([]map[string]any, maxIndex+1)
	for i := range result {
		if from, ok := targets[i]; ok {
			if from < len(original) {
				result[i] = original[from]
			}
			continue
		}
		if i >= len(original) || movedFrom[i] || original[i] == nil {
			continue
		}
		if _, fresh := original[i][keyRelIndex]; fresh {
			// Placed by the second pass.
			continue
		}
		result[i] = original[i]
	}

	// Freshly extended relationships were appended, not placed; their
	// rel_index says where they belong, overriding whatever the moves left
	// in that slot.
	for _, rel := range original {
		if rel == nil {
			continue
		}
		raw, ok := rel[keyRelIndex]
		if !ok {
			continue
		}
		index := asInt(raw)
		delete(rel, keyRelIndex)
		result = growSlots(result, index)
		result[index] = rel
	}
	return compactSlots(result)
}

// reduceInstances applies the staged reductions: the remaining set is the
// staged relationships plus any simultaneous extension of the same
// instance, intersected against what is still physically persisted.
func (h *InstanceUpdateHandler) reduceInstances(ctx context.Context, du *DeploymentUpdate) error {
	extendedByID := make(map[string][]map[string]any)
	for _, raw := range du.InstanceChanges[ChangeExtended].Affected {
		if id, _ := raw[keyID].(string); id != "" {
			extendedByID[id] = asMaps(raw[keyRelationships])
		}
	}

	ids := make([]string, 0, len(du.ReducedRelationships))
	for id := range du.ReducedRelationships {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		locked, err := h.store.GetNodeInstance(ctx, id, true)
		if err != nil {
			return NewStorageFailure("get node instance", err)
		}
		stored := stripRelIndex(locked.Relationships)
		remaining := stripRelIndex(du.ReducedRelationships[id])
		remaining = append(remaining, stripRelIndex(extendedByID[id])...)

		final := make([]map[string]any, 0, len(remaining))
		for _, rel := range remaining {
			if containsRelationship(stored, rel) && !containsRelationship(final, rel) {
				final = append(final, rel)
			}
		}
		locked.Relationships = final
		locked.Version++
		if err := h.updateInstance(ctx, locked); err != nil {
			return err
		}
	}
	return nil
}

// deleteInstances removes the instances in the removed bucket.
func (h *InstanceUpdateHandler) deleteInstances(ctx context.Context, du *DeploymentUpdate) error {
	for _, raw := range du.InstanceChanges[ChangeRemoved].Affected {
		id, _ := raw[keyID].(string)
		if id == "" {
			continue
		}
		if err := h.store.DeleteNodeInstance(ctx, id); err != nil &&
			!errors.Is(err, stores.ErrNotFound) {
			return NewStorageFailure("delete node instance", err)
		}
		h.log.WithDeploymentID(du.DeploymentID).
			WithField("instance_id", id).
			Debug("deleted node instance")
	}
	return nil
}

// updateInstance persists an instance, translating optimistic-concurrency
// failures into the engine's conflict error.
func (h *InstanceUpdateHandler) updateInstance(ctx context.Context, instance *stores.NodeInstance) error {
	err := h.store.UpdateNodeInstance(ctx, instance)
	if errors.Is(err, stores.ErrVersionConflict) {
		return NewConcurrentModification(instance.ID, err)
	}
	if err != nil {
		return NewStorageFailure("update node instance", err)
	}
	return nil
}

// stripRelIndex clones relationships without the internal rel_index
// bookkeeping field, so content comparisons are positional-metadata-free.
func stripRelIndex(rels []map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(rels))
	for _, rel := range rels {
		if rel == nil {
			continue
		}
		clone := deepCopyMap(rel)
		delete(clone, keyRelIndex)
		out = append(out, clone)
	}
	return out
}

// containsRelationship reports whether rels contains a structurally equal
// relationship.
func containsRelationship(rels []map[string]any, rel map[string]any) bool {
	for _, r := range rels {
		if reflect.DeepEqual(r, rel) {
			return true
		}
	}
	return false
}
