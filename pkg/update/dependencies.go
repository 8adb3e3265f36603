package update

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/updraft-io/updraft/pkg/stores"
	"github.com/updraft-io/updraft/pkg/telemetry"
)

// DependencyUpdateHandler recomputes inter-deployment dependency edges from
// the new plan. Two passes run at different points of the update lifecycle:
// the non-node pass (top-level inter-deployment references) during handle,
// and the node-keyed pass (component / shared-resource nodes) at finalize,
// once the topology has settled.
type DependencyUpdateHandler struct {
	store Storage
	log   *telemetry.Logger

	onPruned func()
}

// NewDependencyUpdateHandler returns a dependency reconciler. onPruned, if
// non-nil, is invoked once per deleted stale edge.
func NewDependencyUpdateHandler(store Storage, log *telemetry.Logger, onPruned func()) *DependencyUpdateHandler {
	return &DependencyUpdateHandler{
		store:    store,
		log:      log.NewComponentLogger("dependency-update-handler"),
		onPruned: onPruned,
	}
}

// Handle runs the non-node pass. Stale edges are always pruned here; the
// retention flag only protects node-keyed edges.
func (h *DependencyUpdateHandler) Handle(ctx context.Context, du *DeploymentUpdate) error {
	expected := du.Plan.FunctionDependencies()
	return h.reconcile(ctx, du.DeploymentID, expected,
		func(creator string) bool { return !isNodeKeyedCreator(creator) },
		false)
}

// Finalize runs the node-keyed pass, honoring the retention flag, then
// surfaces any expected edge whose target deployment the plan cannot
// resolve. Dangling edges are reported, never silently healed.
func (h *DependencyUpdateHandler) Finalize(ctx context.Context, du *DeploymentUpdate) error {
	expected := du.Plan.NodeDependencies()
	if err := h.reconcile(ctx, du.DeploymentID, expected, isNodeKeyedCreator,
		du.KeepOldDependencies); err != nil {
		return err
	}

	var dangling []string
	for creator, target := range expected {
		if target == "" {
			dangling = append(dangling, creator)
		}
	}
	if len(dangling) > 0 {
		sort.Strings(dangling)
		return NewDanglingDependency(du.DeploymentID, dangling)
	}
	return nil
}

// reconcile diffs the current edges whose creator matches the filter
// against the expected set: new or retargeted edges are upserted, and edges
// whose creator no longer appears are deleted unless retention is on.
func (h *DependencyUpdateHandler) reconcile(
	ctx context.Context,
	sourceDeployment string,
	expected map[string]string,
	filter func(creator string) bool,
	keep bool,
) error {
	current, err := h.store.ListDependencies(ctx, sourceDeployment)
	if err != nil {
		return NewStorageFailure("list dependencies", err)
	}
	currentByCreator := make(map[string]*stores.Dependency)
	for _, dep := range current {
		if filter(dep.DependencyCreator) {
			currentByCreator[dep.DependencyCreator] = dep
		}
	}

	creators := make([]string, 0, len(expected))
	for creator := range expected {
		creators = append(creators, creator)
	}
	sort.Strings(creators)
	for _, creator := range creators {
		target := expected[creator]
		if target == "" {
			continue
		}
		existing := currentByCreator[creator]
		if existing != nil && existing.TargetDeployment == target {
			continue
		}
		dep := &stores.Dependency{
			ID:                uuid.New().String(),
			SourceDeployment:  sourceDeployment,
			TargetDeployment:  target,
			DependencyCreator: creator,
			CreatedAt:         time.Now().UTC(),
		}
		if existing != nil {
			dep.ID = existing.ID
			dep.CreatedAt = existing.CreatedAt
		}
		if err := h.store.PutDependency(ctx, dep); err != nil {
			return NewStorageFailure("put dependency", err)
		}
		h.log.WithDeploymentID(sourceDeployment).
			WithField("dependency_creator", creator).
			WithField("target_deployment", target).
			Debug("stored dependency edge")
	}

	if keep {
		return nil
	}
	for creator, dep := range currentByCreator {
		if _, ok := expected[creator]; ok {
			continue
		}
		if err := h.store.DeleteDependency(ctx, dep.ID); err != nil {
			return NewStorageFailure("delete dependency", err)
		}
		if h.onPruned != nil {
			h.onPruned()
		}
		h.log.WithDeploymentID(sourceDeployment).
			WithField("dependency_creator", creator).
			Debug("pruned stale dependency edge")
	}
	return nil
}
