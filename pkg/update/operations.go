package update

import (
	"context"

	"github.com/updraft-io/updraft/pkg/stores"
	"github.com/updraft-io/updraft/pkg/telemetry"
)

// Stored-operation parameter layout for resumable executions. An operation
// row carries the invocation under parameters.task_kwargs.kwargs, with the
// owning node and operation named in the nested workflow_context.
const (
	paramTaskKwargs      = "task_kwargs"
	paramKwargs          = "kwargs"
	paramWorkflowContext = "workflow_context"
	paramNodeName        = "node_name"
	paramOperationName   = "operation_name"
)

// resumableExecutionStatuses are the execution states whose stored
// operations may still run and therefore must pick up new inputs.
var resumableExecutionStatuses = []stores.ExecutionStatus{
	stores.ExecutionPending,
	stores.ExecutionStarted,
	stores.ExecutionCancelled,
	stores.ExecutionFailed,
}

// resumableOperationStates are the operation states that have not finished.
var resumableOperationStates = []stores.OperationState{
	stores.OperationPending,
	stores.OperationRescheduled,
	stores.OperationFailed,
}

// operationEntityHandler applies operation steps, for both node-level
// operations and relationship source/target operations.
type operationEntityHandler struct {
	store Storage
	log   *telemetry.Logger
}

func (h *operationEntityHandler) Modify(ctx context.Context, ec *EntityContext, cs *Changeset) (StepResult, error) {
	if ec.OperationKey == keyOperations {
		return h.modifyNodeOperation(ctx, ec, cs)
	}
	return h.modifyRelationshipOperation(ctx, ec, cs)
}

// Add is equivalent to Modify: both set the operation at the step's path.
func (h *operationEntityHandler) Add(ctx context.Context, ec *EntityContext, cs *Changeset) (StepResult, error) {
	return h.Modify(ctx, ec, cs)
}

// Remove deletes the operation from the staged snapshot only; the stored
// node catches up at finalize.
func (h *operationEntityHandler) Remove(ctx context.Context, ec *EntityContext, cs *Changeset) (StepResult, error) {
	staged := cs.node(ec.NodeID)
	if staged == nil {
		return StepResult{EntityID: ec.EntityID, NodeID: ec.NodeID}, nil
	}
	if ec.OperationKey == keyOperations {
		if ops := asMap(staged[keyOperations]); ops != nil {
			delete(ops, ec.OperationID)
		}
	} else {
		rels := asMaps(staged[keyRelationships])
		if ec.RelationshipIndex < len(rels) && rels[ec.RelationshipIndex] != nil {
			if ops := asMap(rels[ec.RelationshipIndex][ec.OperationKey]); ops != nil {
				delete(ops, ec.OperationID)
			}
		}
	}
	return StepResult{EntityID: ec.EntityID, NodeID: ec.NodeID}, nil
}

func (h *operationEntityHandler) modifyNodeOperation(ctx context.Context, ec *EntityContext, cs *Changeset) (StepResult, error) {
	staged := cs.node(ec.NodeID)
	if staged == nil {
		return StepResult{}, NewMalformedEntityID(ec.EntityType, ec.EntityID).
			WithField("reason", "node unknown")
	}
	ops := asMap(staged[keyOperations])
	if ops == nil {
		ops = make(map[string]any)
		staged[keyOperations] = ops
	}
	value := deepCopyValue(ec.RawEntityValue)
	if err := setOperationValue(ops, ec, value); err != nil {
		return StepResult{}, err
	}

	node, err := h.store.GetNode(ctx, ec.DeploymentID, ec.NodeID)
	if err != nil {
		return StepResult{}, NewStorageFailure("get node", err)
	}
	node.Operations = deepCopyMap(ops)
	if ec.RawNode != nil {
		node.Plugins = deepCopyMaps(asMaps(ec.RawNode[keyPlugins]))
		cs.setPlugins(ec.NodeID, ec.RawNode)
	}
	if err := h.store.UpdateNode(ctx, node); err != nil {
		return StepResult{}, NewStorageFailure("update node", err)
	}

	if err := h.updateStoredOperations(ctx, ec.DeploymentID, ec.NodeID, ec.OperationID, asMap(ops[ec.OperationID])); err != nil {
		return StepResult{}, err
	}
	return StepResult{EntityID: ec.EntityID, NodeID: ec.NodeID}, nil
}

func (h *operationEntityHandler) modifyRelationshipOperation(ctx context.Context, ec *EntityContext, cs *Changeset) (StepResult, error) {
	staged := cs.node(ec.NodeID)
	if staged == nil {
		return StepResult{}, NewMalformedEntityID(ec.EntityType, ec.EntityID).
			WithField("reason", "node unknown")
	}
	value := deepCopyValue(ec.RawEntityValue)

	stagedRels := asMaps(staged[keyRelationships])
	if ec.RelationshipIndex >= len(stagedRels) || stagedRels[ec.RelationshipIndex] == nil {
		return StepResult{}, NewMalformedEntityID(ec.EntityType, ec.EntityID).
			WithField("reason", "relationship slot empty")
	}
	stagedRel := stagedRels[ec.RelationshipIndex]
	ops := asMap(stagedRel[ec.OperationKey])
	if ops == nil {
		ops = make(map[string]any)
		stagedRel[ec.OperationKey] = ops
	}
	if err := setOperationValue(ops, ec, value); err != nil {
		return StepResult{}, err
	}

	node, err := h.store.GetNode(ctx, ec.DeploymentID, ec.NodeID)
	if err != nil {
		return StepResult{}, NewStorageFailure("get node", err)
	}
	if ec.RelationshipIndex < len(node.Relationships) && node.Relationships[ec.RelationshipIndex] != nil {
		node.Relationships[ec.RelationshipIndex][ec.OperationKey] = deepCopyMap(ops)
	}
	if ec.RawNode != nil {
		node.Plugins = deepCopyMaps(asMaps(ec.RawNode[keyPlugins]))
		cs.setPlugins(ec.NodeID, ec.RawNode)
	}
	if err := h.store.UpdateNode(ctx, node); err != nil {
		return StepResult{}, NewStorageFailure("update node", err)
	}

	// Target operations run on the relationship's target node, so stored
	// resumable operations are matched against it, not the source.
	matchNodeID := ec.NodeID
	if ec.OperationKey == keyTargetOperations {
		matchNodeID, _ = stagedRel[keyTargetID].(string)
	}
	if matchNodeID != "" {
		if err := h.updateStoredOperations(ctx, ec.DeploymentID, matchNodeID, ec.OperationID, asMap(ops[ec.OperationID])); err != nil {
			return StepResult{}, err
		}
	}
	return StepResult{EntityID: ec.EntityID, NodeID: ec.NodeID, TargetID: ec.TargetID}, nil
}

// setOperationValue writes the step's value into an operations mapping,
// descending through breadcrumbs for nested modifies.
func setOperationValue(ops map[string]any, ec *EntityContext, value any) error {
	if len(ec.Breadcrumbs) == 0 {
		ops[ec.OperationID] = value
		return nil
	}
	nested, ok := ops[ec.OperationID].(map[string]any)
	if !ok {
		nested = make(map[string]any)
		ops[ec.OperationID] = nested
	}
	if !setAtPath(nested, ec.Breadcrumbs, value) {
		return NewMalformedEntityID(ec.EntityType, ec.EntityID).
			WithField("reason", "breadcrumb path conflicts with existing value")
	}
	return nil
}

// updateStoredOperations merges the new operation inputs into any stored
// operation of an unfinished execution that names the same node and
// operation, so a resumed workflow runs with the updated inputs instead of
// stale ones. The merge is best-effort: a stored operation whose parameter
// shape does not match is skipped and logged, never fatal.
func (h *operationEntityHandler) updateStoredOperations(ctx context.Context, deploymentID, nodeID, operationName string, newOperation map[string]any) error {
	inputs := asMap(newOperation[keyInputs])
	if len(inputs) == 0 {
		return nil
	}
	executions, err := h.store.ListExecutions(ctx, deploymentID, resumableExecutionStatuses)
	if err != nil {
		return NewStorageFailure("list executions", err)
	}
	if len(executions) == 0 {
		return nil
	}
	executionIDs := make([]string, len(executions))
	for i, e := range executions {
		executionIDs[i] = e.ID
	}
	graphs, err := h.store.ListTasksGraphs(ctx, executionIDs)
	if err != nil {
		return NewStorageFailure("list tasks graphs", err)
	}
	if len(graphs) == 0 {
		return nil
	}
	graphIDs := make([]string, len(graphs))
	for i, g := range graphs {
		graphIDs[i] = g.ID
	}
	operations, err := h.store.ListOperations(ctx, graphIDs, resumableOperationStates)
	if err != nil {
		return NewStorageFailure("list operations", err)
	}

	for _, op := range operations {
		kwargs, opCtx := resumableContext(op.Parameters)
		if kwargs == nil || opCtx == nil {
			h.log.WithField("operation_id", op.ID).
				Debug("skipping stored operation with unrecognized parameter shape")
			continue
		}
		name, _ := opCtx[paramNodeName].(string)
		opName, _ := opCtx[paramOperationName].(string)
		if name != nodeID || opName != operationName {
			continue
		}
		for k, v := range inputs {
			kwargs[k] = deepCopyValue(v)
		}
		if err := h.store.UpdateOperation(ctx, op); err != nil {
			return NewStorageFailure("update operation", err)
		}
		h.log.WithNodeID(nodeID).WithField("operation_id", op.ID).
			Debug("merged new inputs into stored resumable operation")
	}
	return nil
}

// resumableContext digs out parameters.task_kwargs.kwargs and the nested
// workflow context. Either being absent means the operation does not follow
// the resumable layout.
func resumableContext(params map[string]any) (kwargs, opCtx map[string]any) {
	taskKwargs := asMap(params[paramTaskKwargs])
	kwargs = asMap(taskKwargs[paramKwargs])
	opCtx = asMap(kwargs[paramWorkflowContext])
	return kwargs, opCtx
}
