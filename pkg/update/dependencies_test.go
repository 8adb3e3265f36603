package update

import (
	"context"
	"testing"
	"time"

	"github.com/updraft-io/updraft/pkg/stores"
	"github.com/updraft-io/updraft/pkg/telemetry"
)

func seedDependency(store *memStore, id, source, target, creator string) {
	store.dependencies[id] = &stores.Dependency{
		ID:                id,
		SourceDeployment:  source,
		TargetDeployment:  target,
		DependencyCreator: creator,
		CreatedAt:         time.Now().UTC(),
	}
}

func sharedResourcePlan(withNode bool) Plan {
	nodes := []map[string]any{{"id": "web", "type": "server"}}
	if withNode {
		nodes = append(nodes, map[string]any{
			"id":             "sr",
			"type":           "shared_resource",
			"type_hierarchy": []string{"base", "shared_resource"},
			"properties": map[string]any{
				"resource_config": map[string]any{
					"deployment": map[string]any{"id": "shared-dep"},
				},
			},
		})
	}
	return Plan{"nodes": nodes}
}

// A dependency created by a shared_resource node disappearing from the new
// plan is deleted at finalize when retention is off.
func TestSharedResourceDependencyPruned(t *testing.T) {
	store := newMemStore()
	seedDependency(store, "d1", "dep1", "shared-dep", "shared_resource.sr")

	h := NewDependencyUpdateHandler(store, telemetry.Nop(), nil)
	du := &DeploymentUpdate{
		DeploymentID: "dep1",
		Plan:         sharedResourcePlan(false),
	}
	if err := h.Finalize(context.Background(), du); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	deps, _ := store.ListDependencies(context.Background(), "dep1")
	if len(deps) != 0 {
		t.Errorf("dependencies = %v, want pruned", deps)
	}
}

// With keep_old_deployment_dependencies the stale edge survives.
func TestSharedResourceDependencyRetained(t *testing.T) {
	store := newMemStore()
	seedDependency(store, "d1", "dep1", "shared-dep", "shared_resource.sr")

	h := NewDependencyUpdateHandler(store, telemetry.Nop(), nil)
	du := &DeploymentUpdate{
		DeploymentID:        "dep1",
		Plan:                sharedResourcePlan(false),
		KeepOldDependencies: true,
	}
	if err := h.Finalize(context.Background(), du); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	deps, _ := store.ListDependencies(context.Background(), "dep1")
	if len(deps) != 1 {
		t.Errorf("dependencies = %v, want retained edge", deps)
	}
}

// A shared_resource node in the new plan produces its edge.
func TestSharedResourceDependencyCreated(t *testing.T) {
	store := newMemStore()
	h := NewDependencyUpdateHandler(store, telemetry.Nop(), nil)
	du := &DeploymentUpdate{
		DeploymentID: "dep1",
		Plan:         sharedResourcePlan(true),
	}
	if err := h.Finalize(context.Background(), du); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	deps, _ := store.ListDependencies(context.Background(), "dep1")
	if len(deps) != 1 {
		t.Fatalf("dependencies = %v, want one edge", deps)
	}
	if deps[0].DependencyCreator != "shared_resource.sr" || deps[0].TargetDeployment != "shared-dep" {
		t.Errorf("edge = %+v", deps[0])
	}
}

// The non-node pass never touches node-keyed edges, and vice versa.
func TestDependencyPassesAreDisjoint(t *testing.T) {
	store := newMemStore()
	seedDependency(store, "d1", "dep1", "other-dep", "component.comp")
	seedDependency(store, "d2", "dep1", "cap-dep", "capability.value")

	h := NewDependencyUpdateHandler(store, telemetry.Nop(), nil)
	du := &DeploymentUpdate{
		DeploymentID: "dep1",
		// Plan declares neither edge.
		Plan: Plan{"nodes": []map[string]any{}},
	}
	if err := h.Handle(context.Background(), du); err != nil {
		t.Fatalf("handle: %v", err)
	}
	deps, _ := store.ListDependencies(context.Background(), "dep1")
	if len(deps) != 1 || deps[0].DependencyCreator != "component.comp" {
		t.Errorf("after non-node pass: %v, want only the component edge left", deps)
	}

	if err := h.Finalize(context.Background(), du); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	deps, _ = store.ListDependencies(context.Background(), "dep1")
	if len(deps) != 0 {
		t.Errorf("after node-keyed pass: %v, want empty", deps)
	}
}

// A component node without a resolvable target deployment is surfaced as a
// dangling dependency, not silently healed.
func TestDanglingDependencySurfaced(t *testing.T) {
	store := newMemStore()
	h := NewDependencyUpdateHandler(store, telemetry.Nop(), nil)
	du := &DeploymentUpdate{
		DeploymentID: "dep1",
		Plan: Plan{
			"nodes": []map[string]any{
				{
					"id":             "comp",
					"type":           "component",
					"type_hierarchy": []string{"base", "component"},
				},
			},
		},
	}
	err := h.Finalize(context.Background(), du)
	if err == nil {
		t.Fatal("expected dangling dependency error")
	}
	if !IsDangling(err) {
		t.Errorf("error class = %v, want dangling", ClassOf(err))
	}
}

// Top-level inter-deployment references are reconciled during handle.
func TestFunctionDependenciesUpserted(t *testing.T) {
	store := newMemStore()
	seedDependency(store, "d1", "dep1", "old-target", "capability.endpoint")

	h := NewDependencyUpdateHandler(store, telemetry.Nop(), nil)
	du := &DeploymentUpdate{
		DeploymentID: "dep1",
		Plan: Plan{
			"nodes": []map[string]any{},
			"inter_deployment_dependencies": map[string]any{
				"capability.endpoint": "new-target",
				"capability.extra":    "other-dep",
			},
		},
	}
	if err := h.Handle(context.Background(), du); err != nil {
		t.Fatalf("handle: %v", err)
	}

	deps, _ := store.ListDependencies(context.Background(), "dep1")
	if len(deps) != 2 {
		t.Fatalf("dependencies = %v, want 2", deps)
	}
	byCreator := make(map[string]*stores.Dependency)
	for _, d := range deps {
		byCreator[d.DependencyCreator] = d
	}
	if got := byCreator["capability.endpoint"]; got == nil || got.TargetDeployment != "new-target" {
		t.Errorf("endpoint edge = %+v, want retargeted", got)
	}
	if got := byCreator["capability.endpoint"]; got != nil && got.ID != "d1" {
		t.Errorf("retargeted edge got new id %q, want upsert in place", got.ID)
	}
	if byCreator["capability.extra"] == nil {
		t.Error("new edge missing")
	}
}
