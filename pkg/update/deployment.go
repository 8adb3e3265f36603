package update

import (
	"context"
	"time"

	"github.com/updraft-io/updraft/pkg/telemetry"
)

// deploymentCollectionHandler applies workflow and output steps. Both
// entity kinds mutate a deployment-level mapping the same way, so one
// handler covers them, parameterized by the collection key.
type deploymentCollectionHandler struct {
	store Storage
	log   *telemetry.Logger
	key   string
}

func (h *deploymentCollectionHandler) entityID(ec *EntityContext) string {
	if h.key == keyWorkflows {
		return ec.WorkflowID
	}
	return ec.OutputID
}

// Modify sets the named entry, descending through breadcrumbs for nested
// modifies of the stored collection. The staged snapshot always receives
// the full plan-side value.
func (h *deploymentCollectionHandler) Modify(ctx context.Context, ec *EntityContext, cs *Changeset) (StepResult, error) {
	name := h.entityID(ec)
	value := deepCopyValue(ec.RawEntityValue)

	dep, err := h.store.GetDeployment(ctx, ec.DeploymentID)
	if err != nil {
		return StepResult{}, NewStorageFailure("get deployment", err)
	}
	collection := dep.Workflows
	if h.key == keyOutputs {
		collection = dep.Outputs
	}
	collection = deepCopyMap(collection)
	if collection == nil {
		collection = make(map[string]any)
	}
	if len(ec.Breadcrumbs) == 0 {
		collection[name] = value
	} else {
		nested, ok := collection[name].(map[string]any)
		if !ok {
			nested = make(map[string]any)
			collection[name] = nested
		}
		if !setAtPath(nested, ec.Breadcrumbs, value) {
			return StepResult{}, NewMalformedEntityID(ec.EntityType, ec.EntityID).
				WithField("reason", "breadcrumb path conflicts with existing value")
		}
	}
	if h.key == keyOutputs {
		dep.Outputs = collection
	} else {
		dep.Workflows = collection
	}
	if err := h.store.UpdateDeployment(ctx, dep); err != nil {
		return StepResult{}, NewStorageFailure("update deployment", err)
	}

	staged := asMap(cs.Deployment[h.key])
	if staged == nil {
		staged = make(map[string]any)
		cs.Deployment[h.key] = staged
	}
	staged[name] = deepCopyValue(planCollectionValue(ec, h.key, name))
	return StepResult{EntityID: name}, nil
}

// Add is set-at-path, same as Modify.
func (h *deploymentCollectionHandler) Add(ctx context.Context, ec *EntityContext, cs *Changeset) (StepResult, error) {
	return h.Modify(ctx, ec, cs)
}

// Remove deletes the named entry from both the stored row and the snapshot.
func (h *deploymentCollectionHandler) Remove(ctx context.Context, ec *EntityContext, cs *Changeset) (StepResult, error) {
	name := h.entityID(ec)
	dep, err := h.store.GetDeployment(ctx, ec.DeploymentID)
	if err != nil {
		return StepResult{}, NewStorageFailure("get deployment", err)
	}
	if h.key == keyOutputs {
		dep.Outputs = deepCopyMap(dep.Outputs)
		delete(dep.Outputs, name)
	} else {
		dep.Workflows = deepCopyMap(dep.Workflows)
		delete(dep.Workflows, name)
	}
	if err := h.store.UpdateDeployment(ctx, dep); err != nil {
		return StepResult{}, NewStorageFailure("update deployment", err)
	}
	if staged := asMap(cs.Deployment[h.key]); staged != nil {
		delete(staged, name)
	}
	return StepResult{EntityID: name}, nil
}

// planCollectionValue returns the full plan-side value for a workflow or
// output, regardless of how deep the step's breadcrumbs reached.
func planCollectionValue(ec *EntityContext, key, name string) any {
	collection := asMap(ec.Plan[key])
	if collection == nil {
		return ec.RawEntityValue
	}
	return collection[name]
}

// descriptionEntityHandler applies description steps.
type descriptionEntityHandler struct {
	store Storage
	log   *telemetry.Logger
}

func (h *descriptionEntityHandler) Modify(ctx context.Context, ec *EntityContext, cs *Changeset) (StepResult, error) {
	return h.set(ctx, ec, cs, ec.Plan.Description())
}

func (h *descriptionEntityHandler) Add(ctx context.Context, ec *EntityContext, cs *Changeset) (StepResult, error) {
	return h.Modify(ctx, ec, cs)
}

// Remove clears the description.
func (h *descriptionEntityHandler) Remove(ctx context.Context, ec *EntityContext, cs *Changeset) (StepResult, error) {
	return h.set(ctx, ec, cs, "")
}

func (h *descriptionEntityHandler) set(ctx context.Context, ec *EntityContext, cs *Changeset, description string) (StepResult, error) {
	dep, err := h.store.GetDeployment(ctx, ec.DeploymentID)
	if err != nil {
		return StepResult{}, NewStorageFailure("get deployment", err)
	}
	dep.Description = description
	if err := h.store.UpdateDeployment(ctx, dep); err != nil {
		return StepResult{}, NewStorageFailure("update deployment", err)
	}
	cs.Deployment[keyDescription] = description
	return StepResult{EntityID: keyDescription}, nil
}

// DeploymentUpdateHandler coordinates the deployment-scoped entity
// handlers: workflows, outputs, description.
type DeploymentUpdateHandler struct {
	store    Storage
	log      *telemetry.Logger
	dispatch dispatchTable
}

// NewDeploymentUpdateHandler wires the deployment-scoped dispatch table.
func NewDeploymentUpdateHandler(store Storage, log *telemetry.Logger) *DeploymentUpdateHandler {
	componentLog := log.NewComponentLogger("deployment-update-handler")
	workflows := &deploymentCollectionHandler{store: store, log: componentLog, key: keyWorkflows}
	outputs := &deploymentCollectionHandler{store: store, log: componentLog, key: keyOutputs}
	description := &descriptionEntityHandler{store: store, log: componentLog}

	return &DeploymentUpdateHandler{
		store: store,
		log:   componentLog,
		dispatch: dispatchTable{
			EntityWorkflow: {
				ActionAdd:    workflows.Add,
				ActionRemove: workflows.Remove,
				ActionModify: workflows.Modify,
			},
			EntityOutput: {
				ActionAdd:    outputs.Add,
				ActionRemove: outputs.Remove,
				ActionModify: outputs.Modify,
			},
			EntityDescription: {
				ActionAdd:    description.Add,
				ActionRemove: description.Remove,
				ActionModify: description.Modify,
			},
		},
	}
}

// Validate checks every deployment-scoped step against the dispatch table.
func (h *DeploymentUpdateHandler) Validate(steps []Step) error {
	return h.dispatch.validate(steps)
}

// Supports reports whether this handler owns the entity type.
func (h *DeploymentUpdateHandler) Supports(entityType EntityType) bool {
	return h.dispatch.supports(entityType)
}

// Handle replays the deployment-scoped steps in entity-id order.
func (h *DeploymentUpdateHandler) Handle(ctx context.Context, du *DeploymentUpdate) (*ModifiedEntities, error) {
	dep, err := h.store.GetDeployment(ctx, du.DeploymentID)
	if err != nil {
		return nil, NewStorageFailure("get deployment", err)
	}
	cs := newChangeset(nil, dep)
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
		h.log.WithDeploymentID(du.DeploymentID).
			WithField("entity_type", string(step.EntityType)).
			WithField("action", string(step.Action)).
			WithField("entity_id", step.EntityID).
			Debug("applied step")
	}
	return modified, nil
}

// Finalize stamps the deployment as updated.
func (h *DeploymentUpdateHandler) Finalize(ctx context.Context, du *DeploymentUpdate) error {
	dep, err := h.store.GetDeployment(ctx, du.DeploymentID)
	if err != nil {
		return NewStorageFailure("get deployment", err)
	}
	dep.UpdatedAt = time.Now().UTC()
	if err := h.store.UpdateDeployment(ctx, dep); err != nil {
		return NewStorageFailure("update deployment", err)
	}
	return nil
}
