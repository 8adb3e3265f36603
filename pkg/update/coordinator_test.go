package update

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/updraft-io/updraft/pkg/stores"
	"github.com/updraft-io/updraft/pkg/telemetry"
)

func seedDeployment(store *memStore, id string) {
	store.deployments[id] = &stores.Deployment{
		ID:        id,
		Workflows: map[string]any{},
		Outputs:   map[string]any{},
		CreatedAt: time.Now().UTC(),
	}
}

func newTestReconciler(store *memStore) *Reconciler {
	return NewReconciler(store, telemetry.Nop(), nil, nil)
}

// Plan introduces a new node db with a relationship from existing node web
// at index 0, where web currently has zero relationships.
func twoTierUpdate() (*memStore, *DeploymentUpdate, InstanceChanges) {
	store := newMemStore()
	seedDeployment(store, "dep1")
	seedNode(store, &stores.Node{
		ID:            "web",
		DeploymentID:  "dep1",
		Type:          "server",
		TypeHierarchy: []string{"base", "compute"},
	})
	store.instances["web_1"] = &stores.NodeInstance{
		ID: "web_1", NodeID: "web", DeploymentID: "dep1",
		RuntimeProperties: map[string]any{},
	}

	plan := Plan{
		"nodes": []map[string]any{
			{
				"id":             "web",
				"type":           "server",
				"type_hierarchy": []string{"base", "compute"},
				"relationships": []map[string]any{
					{"target_id": "db", "type": "connected_to"},
				},
				"plugins": []map[string]any{
					{"name": "agent", "install": true, "executor": "host_agent"},
				},
			},
			{
				"id":   "db",
				"type": "database",
			},
		},
	}
	du := &DeploymentUpdate{
		ID:           "upd1",
		DeploymentID: "dep1",
		Plan:         plan,
		Steps: []Step{
			{EntityType: EntityNode, Action: ActionAdd, EntityID: "nodes:db"},
			{EntityType: EntityRelationship, Action: ActionAdd, EntityID: "nodes:web:relationships:[0]"},
		},
	}
	changes := InstanceChanges{
		ChangeAdded: {
			{"id": "db_1", "node_id": "db", "modification": "added"},
			{"id": "web_1", "node_id": "web"},
		},
	}
	return store, du, changes
}

func TestReconcilerAddNodeWithRelationship(t *testing.T) {
	store, du, changes := twoTierUpdate()
	result, err := newTestReconciler(store).Run(context.Background(), du, changes)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	web, err := store.GetNode(context.Background(), "dep1", "web")
	if err != nil {
		t.Fatalf("get web: %v", err)
	}
	if len(web.Relationships) != 1 || web.Relationships[0]["target_id"] != "db" {
		t.Errorf("web relationships = %v, want single relationship to db", web.Relationships)
	}
	if len(web.Plugins) != 1 || web.Plugins[0]["name"] != "agent" {
		t.Errorf("web plugins = %v, want refreshed agent plugin", web.Plugins)
	}

	if _, err := store.GetNode(context.Background(), "dep1", "db"); err != nil {
		t.Errorf("db node not created: %v", err)
	}
	dbInst, err := store.GetNodeInstance(context.Background(), "db_1", false)
	if err != nil {
		t.Fatalf("db_1 instance not created: %v", err)
	}
	if dbInst.Version != 0 || dbInst.State != "" {
		t.Errorf("fresh instance has version=%d state=%q", dbInst.Version, dbInst.State)
	}

	if got := result.ModifiedEntities.IDs[EntityNode]; len(got) != 1 || got[0] != "db" {
		t.Errorf("modified nodes = %v", got)
	}
	if got := result.ModifiedEntities.IDs[EntityRelationship]; len(got) != 1 {
		t.Errorf("modified relationships = %v", got)
	}
}

// Replaying the same step list must yield the same final topology.
func TestReconcilerReplayIsIdempotent(t *testing.T) {
	store, du, changes := twoTierUpdate()
	if _, err := newTestReconciler(store).Run(context.Background(), du, changes); err != nil {
		t.Fatalf("first run: %v", err)
	}
	firstWeb, _ := store.GetNode(context.Background(), "dep1", "web")
	firstDB, _ := store.GetNode(context.Background(), "dep1", "db")

	_, replay, replayChanges := twoTierUpdate()
	replay.ID = "upd2"
	if _, err := newTestReconciler(store).Run(context.Background(), replay, replayChanges); err != nil {
		t.Fatalf("replay: %v", err)
	}
	secondWeb, _ := store.GetNode(context.Background(), "dep1", "web")
	secondDB, _ := store.GetNode(context.Background(), "dep1", "db")

	if !reflect.DeepEqual(firstWeb, secondWeb) {
		t.Errorf("web diverged on replay:\n first: %+v\nsecond: %+v", firstWeb, secondWeb)
	}
	if !reflect.DeepEqual(firstDB, secondDB) {
		t.Errorf("db diverged on replay:\n first: %+v\nsecond: %+v", firstDB, secondDB)
	}
}

// A removed relationship slot is nulled during the step and compacted away
// only at finalize.
func TestReconcilerRemoveRelationshipCompacts(t *testing.T) {
	store := newMemStore()
	seedDeployment(store, "dep1")
	seedNode(store, &stores.Node{
		ID:           "web",
		DeploymentID: "dep1",
		Relationships: []map[string]any{
			{"target_id": "db", "type": "connected_to"},
			{"target_id": "cache", "type": "connected_to"},
		},
	})
	seedNode(store, &stores.Node{ID: "db", DeploymentID: "dep1"})
	seedNode(store, &stores.Node{ID: "cache", DeploymentID: "dep1"})

	du := &DeploymentUpdate{
		ID:           "upd1",
		DeploymentID: "dep1",
		Plan: Plan{
			"nodes": []map[string]any{
				{"id": "web", "relationships": []map[string]any{{"target_id": "cache", "type": "connected_to"}}},
				{"id": "db"},
				{"id": "cache"},
			},
		},
		Steps: []Step{
			{EntityType: EntityRelationship, Action: ActionRemove, EntityID: "nodes:web:relationships:[0]"},
		},
	}
	if _, err := newTestReconciler(store).Run(context.Background(), du, nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	web, _ := store.GetNode(context.Background(), "dep1", "web")
	if len(web.Relationships) != 1 || web.Relationships[0]["target_id"] != "cache" {
		t.Errorf("web relationships = %v, want compacted [cache]", web.Relationships)
	}
}

// An unsupported (entity type, action) combination fails before anything is
// written.
func TestReconcilerValidateRejectsUnsupported(t *testing.T) {
	store := newMemStore()
	seedDeployment(store, "dep1")
	seedNode(store, &stores.Node{ID: "web", DeploymentID: "dep1"})

	du := &DeploymentUpdate{
		ID:           "upd1",
		DeploymentID: "dep1",
		Plan:         Plan{"nodes": []map[string]any{{"id": "web"}}},
		Steps: []Step{
			{EntityType: EntityNode, Action: ActionModify, EntityID: "nodes:web"},
		},
	}
	_, err := newTestReconciler(store).Run(context.Background(), du, nil)
	if err == nil {
		t.Fatal("expected validation error for node modify")
	}
	if !IsMalformed(err) {
		t.Errorf("error class = %v, want malformed", ClassOf(err))
	}
	web, _ := store.GetNode(context.Background(), "dep1", "web")
	if web.Relationships != nil || web.Operations != nil {
		t.Errorf("node mutated despite validation failure: %+v", web)
	}
}

// Removed nodes are deleted at finalize together with their instances.
func TestReconcilerRemovesNode(t *testing.T) {
	store := newMemStore()
	seedDeployment(store, "dep1")
	seedNode(store, &stores.Node{ID: "web", DeploymentID: "dep1"})
	seedNode(store, &stores.Node{ID: "old", DeploymentID: "dep1"})
	store.instances["old_1"] = &stores.NodeInstance{
		ID: "old_1", NodeID: "old", DeploymentID: "dep1",
		RuntimeProperties: map[string]any{},
	}

	du := &DeploymentUpdate{
		ID:           "upd1",
		DeploymentID: "dep1",
		Plan:         Plan{"nodes": []map[string]any{{"id": "web"}}},
		Steps: []Step{
			{EntityType: EntityNode, Action: ActionRemove, EntityID: "nodes:old"},
		},
	}
	changes := InstanceChanges{
		ChangeRemoved: {
			{"id": "old_1", "node_id": "old", "modification": "removed"},
		},
	}
	if _, err := newTestReconciler(store).Run(context.Background(), du, changes); err != nil {
		t.Fatalf("run: %v", err)
	}

	if _, err := store.GetNode(context.Background(), "dep1", "old"); err == nil {
		t.Error("removed node still present")
	}
	if _, err := store.GetNodeInstance(context.Background(), "old_1", false); err == nil {
		t.Error("removed instance still present")
	}
}

// Workflow, output, and description steps land on the deployment row.
func TestReconcilerDeploymentScopedSteps(t *testing.T) {
	store := newMemStore()
	seedDeployment(store, "dep1")
	store.deployments["dep1"].Workflows = map[string]any{
		"install": map[string]any{"operation": "run"},
		"scale":   map[string]any{"operation": "scale"},
	}

	du := &DeploymentUpdate{
		ID:           "upd1",
		DeploymentID: "dep1",
		Plan: Plan{
			"nodes": []map[string]any{},
			"workflows": map[string]any{
				"install": map[string]any{"operation": "run_v2"},
			},
			"outputs": map[string]any{
				"endpoint": map[string]any{"value": "http://web"},
			},
			"description": "updated app",
		},
		Steps: []Step{
			{EntityType: EntityWorkflow, Action: ActionModify, EntityID: "workflows:install"},
			{EntityType: EntityWorkflow, Action: ActionRemove, EntityID: "workflows:scale"},
			{EntityType: EntityOutput, Action: ActionAdd, EntityID: "outputs:endpoint"},
			{EntityType: EntityDescription, Action: ActionModify, EntityID: "description"},
		},
	}
	if _, err := newTestReconciler(store).Run(context.Background(), du, nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	dep, _ := store.GetDeployment(context.Background(), "dep1")
	install := dep.Workflows["install"].(map[string]any)
	if install["operation"] != "run_v2" {
		t.Errorf("install workflow = %v", install)
	}
	if _, ok := dep.Workflows["scale"]; ok {
		t.Error("removed workflow still present")
	}
	if _, ok := dep.Outputs["endpoint"]; !ok {
		t.Error("added output missing")
	}
	if dep.Description != "updated app" {
		t.Errorf("description = %q", dep.Description)
	}
	if dep.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not stamped at finalize")
	}
}
