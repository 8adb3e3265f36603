package update

import (
	"context"
	"testing"

	"github.com/updraft-io/updraft/pkg/stores"
	"github.com/updraft-io/updraft/pkg/telemetry"
)

func resumableStore() *memStore {
	store := newMemStore()
	seedNode(store, &stores.Node{
		ID:           "web",
		DeploymentID: "dep1",
		Operations: map[string]any{
			"start": map[string]any{"inputs": map[string]any{"timeout": 30}},
		},
	})
	store.executions = []*stores.Execution{
		{ID: "e1", DeploymentID: "dep1", Status: stores.ExecutionStarted},
		{ID: "e2", DeploymentID: "dep1", Status: stores.ExecutionTerminated},
	}
	store.graphs = []*stores.TasksGraph{
		{ID: "g1", ExecutionID: "e1", Name: "install"},
	}
	store.operations["op1"] = &stores.Operation{
		ID: "op1", TasksGraphID: "g1", Name: "task", State: stores.OperationPending,
		Parameters: map[string]any{
			"task_kwargs": map[string]any{
				"kwargs": map[string]any{
					"timeout": 30,
					"workflow_context": map[string]any{
						"node_name":      "web",
						"operation_name": "start",
					},
				},
			},
		},
	}
	// Same node, different operation: untouched.
	store.operations["op2"] = &stores.Operation{
		ID: "op2", TasksGraphID: "g1", Name: "task", State: stores.OperationPending,
		Parameters: map[string]any{
			"task_kwargs": map[string]any{
				"kwargs": map[string]any{
					"timeout": 30,
					"workflow_context": map[string]any{
						"node_name":      "web",
						"operation_name": "stop",
					},
				},
			},
		},
	}
	// Unrecognized parameter shape: skipped, never fatal.
	store.operations["op3"] = &stores.Operation{
		ID: "op3", TasksGraphID: "g1", Name: "task", State: stores.OperationPending,
		Parameters: map[string]any{"task_kwargs": "not a mapping"},
	}
	return store
}

func TestOperationModifyRetargetsResumableOperations(t *testing.T) {
	store := resumableStore()
	plan := Plan{
		"nodes": []map[string]any{
			{
				"id": "web",
				"operations": map[string]any{
					"start": map[string]any{"inputs": map[string]any{"timeout": 60}},
				},
			},
		},
	}
	cs := changesetFor(t, store, "dep1")
	ec, err := resolveEntity(plan, "dep1", EntityOperation, "nodes:web:operations:start")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	h := &operationEntityHandler{store: store, log: telemetry.Nop()}
	if _, err := h.Modify(context.Background(), ec, cs); err != nil {
		t.Fatalf("modify: %v", err)
	}

	// The stored node picked up the new operation.
	web, _ := store.GetNode(context.Background(), "dep1", "web")
	start := web.Operations["start"].(map[string]any)
	if start["inputs"].(map[string]any)["timeout"] != 60 {
		t.Errorf("node operation = %v", start)
	}

	// The matching resumable operation's kwargs got the new input merged.
	kwargs := store.operations["op1"].Parameters["task_kwargs"].(map[string]any)["kwargs"].(map[string]any)
	if kwargs["timeout"] != 60 {
		t.Errorf("op1 timeout = %v, want 60", kwargs["timeout"])
	}

	// A different operation of the same node stays stale.
	kwargs = store.operations["op2"].Parameters["task_kwargs"].(map[string]any)["kwargs"].(map[string]any)
	if kwargs["timeout"] != 30 {
		t.Errorf("op2 timeout = %v, want untouched 30", kwargs["timeout"])
	}
}

func TestOperationRemoveStagesOnly(t *testing.T) {
	store := resumableStore()
	plan := Plan{"nodes": []map[string]any{{"id": "web"}}}
	cs := changesetFor(t, store, "dep1")
	ec, err := resolveEntity(plan, "dep1", EntityOperation, "nodes:web:operations:start")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	h := &operationEntityHandler{store: store, log: telemetry.Nop()}
	if _, err := h.Remove(context.Background(), ec, cs); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if _, ok := cs.node("web")["operations"].(map[string]any)["start"]; ok {
		t.Error("operation still staged after remove")
	}
	// Storage catches up at finalize, not here.
	web, _ := store.GetNode(context.Background(), "dep1", "web")
	if _, ok := web.Operations["start"]; !ok {
		t.Error("stored operation removed prematurely")
	}
}

func TestRelationshipOperationModify(t *testing.T) {
	store := newMemStore()
	seedNode(store, &stores.Node{
		ID:           "web",
		DeploymentID: "dep1",
		Relationships: []map[string]any{
			{
				"target_id": "db",
				"source_operations": map[string]any{
					"preconfigure": map[string]any{"inputs": map[string]any{"retries": 1}},
				},
			},
		},
	})
	plan := Plan{
		"nodes": []map[string]any{
			{
				"id": "web",
				"relationships": []map[string]any{
					{
						"target_id": "db",
						"source_operations": map[string]any{
							"preconfigure": map[string]any{"inputs": map[string]any{"retries": 5}},
						},
					},
				},
			},
			{"id": "db"},
		},
	}
	cs := changesetFor(t, store, "dep1")
	ec, err := resolveEntity(plan, "dep1", EntityOperation,
		"nodes:web:relationships:[0]:source_operations:preconfigure")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	h := &operationEntityHandler{store: store, log: telemetry.Nop()}
	if _, err := h.Modify(context.Background(), ec, cs); err != nil {
		t.Fatalf("modify: %v", err)
	}

	web, _ := store.GetNode(context.Background(), "dep1", "web")
	ops := web.Relationships[0]["source_operations"].(map[string]any)
	pre := ops["preconfigure"].(map[string]any)
	if pre["inputs"].(map[string]any)["retries"] != 5 {
		t.Errorf("relationship operation = %v", pre)
	}
}
