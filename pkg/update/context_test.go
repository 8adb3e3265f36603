package update

import (
	"errors"
	"testing"
)

func testPlan() Plan {
	return Plan{
		"nodes": []map[string]any{
			{
				"id":             "web",
				"type":           "server",
				"type_hierarchy": []string{"base", "compute"},
				"properties":     map[string]any{"port": 8080},
				"operations": map[string]any{
					"start": map[string]any{"inputs": map[string]any{"timeout": 30}},
				},
				"relationships": []map[string]any{
					{
						"target_id": "db",
						"type":      "connected_to",
						"source_operations": map[string]any{
							"preconfigure": map[string]any{"inputs": map[string]any{}},
						},
					},
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
		"workflows":   map[string]any{"install": map[string]any{"operation": "run"}},
		"outputs":     map[string]any{"endpoint": map[string]any{"value": "http://web"}},
		"description": "two tier app",
	}
}

func TestResolveEntityNode(t *testing.T) {
	ec, err := resolveEntity(testPlan(), "dep1", EntityNode, "nodes:web")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ec.NodeID != "web" {
		t.Errorf("NodeID = %q, want web", ec.NodeID)
	}
	if ec.RawNode == nil || ec.RawNode["id"] != "web" {
		t.Errorf("RawNode not resolved: %v", ec.RawNode)
	}
}

func TestResolveEntityRelationship(t *testing.T) {
	for _, entityID := range []string{"nodes:web:relationships:[0]", "nodes:web:relationships:0"} {
		ec, err := resolveEntity(testPlan(), "dep1", EntityRelationship, entityID)
		if err != nil {
			t.Fatalf("resolve %q: %v", entityID, err)
		}
		if ec.RelationshipIndex != 0 {
			t.Errorf("%q: RelationshipIndex = %d, want 0", entityID, ec.RelationshipIndex)
		}
		if ec.TargetID != "db" {
			t.Errorf("%q: TargetID = %q, want db", entityID, ec.TargetID)
		}
		if ec.RawTargetNode == nil {
			t.Errorf("%q: RawTargetNode not resolved", entityID)
		}
	}
}

func TestResolveEntityNodeOperation(t *testing.T) {
	ec, err := resolveEntity(testPlan(), "dep1", EntityOperation, "nodes:web:operations:start:inputs:timeout")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ec.OperationKey != "operations" || ec.OperationID != "start" {
		t.Errorf("operation key/id = %q/%q", ec.OperationKey, ec.OperationID)
	}
	if len(ec.Breadcrumbs) != 2 || ec.Breadcrumbs[0] != "inputs" || ec.Breadcrumbs[1] != "timeout" {
		t.Errorf("Breadcrumbs = %v", ec.Breadcrumbs)
	}
	if ec.RawEntityValue != 30 {
		t.Errorf("RawEntityValue = %v, want 30", ec.RawEntityValue)
	}
}

func TestResolveEntityRelationshipOperation(t *testing.T) {
	ec, err := resolveEntity(testPlan(), "dep1", EntityOperation,
		"nodes:web:relationships:[0]:source_operations:preconfigure")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ec.OperationKey != "source_operations" || ec.OperationID != "preconfigure" {
		t.Errorf("operation key/id = %q/%q", ec.OperationKey, ec.OperationID)
	}
	if ec.RelationshipIndex != 0 {
		t.Errorf("RelationshipIndex = %d", ec.RelationshipIndex)
	}
}

func TestResolveEntityProperty(t *testing.T) {
	ec, err := resolveEntity(testPlan(), "dep1", EntityProperty, "nodes:web:properties:port")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ec.PropertyID != "port" {
		t.Errorf("PropertyID = %q", ec.PropertyID)
	}
	if ec.RawEntityValue != 8080 {
		t.Errorf("RawEntityValue = %v, want 8080", ec.RawEntityValue)
	}
}

func TestResolveEntityDeploymentScoped(t *testing.T) {
	ec, err := resolveEntity(testPlan(), "dep1", EntityWorkflow, "workflows:install")
	if err != nil {
		t.Fatalf("resolve workflow: %v", err)
	}
	if ec.WorkflowID != "install" {
		t.Errorf("WorkflowID = %q", ec.WorkflowID)
	}

	ec, err = resolveEntity(testPlan(), "dep1", EntityOutput, "outputs:endpoint")
	if err != nil {
		t.Fatalf("resolve output: %v", err)
	}
	if ec.OutputID != "endpoint" {
		t.Errorf("OutputID = %q", ec.OutputID)
	}

	ec, err = resolveEntity(testPlan(), "dep1", EntityDescription, "description")
	if err != nil {
		t.Fatalf("resolve description: %v", err)
	}
	if ec.RawEntityValue != "two tier app" {
		t.Errorf("RawEntityValue = %v", ec.RawEntityValue)
	}
}

func TestResolveEntityPlugin(t *testing.T) {
	ec, err := resolveEntity(testPlan(), "dep1", EntityPlugin, "nodes:web:plugins:agent")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ec.PluginKey != "plugins" || ec.PluginName != "agent" {
		t.Errorf("plugin key/name = %q/%q", ec.PluginKey, ec.PluginName)
	}
}

func TestResolveEntityMalformed(t *testing.T) {
	cases := []struct {
		entityType EntityType
		entityID   string
	}{
		{EntityNode, "web"},
		{EntityNode, "nodes:web:extra"},
		{EntityRelationship, "nodes:web:operations:[0]"},
		{EntityRelationship, "nodes:web:relationships:abc"},
		{EntityOperation, "nodes:web:relationships:[0]:wrong_operations:op"},
		{EntityProperty, "nodes:web:port"},
		{EntityWorkflow, "install"},
		{EntityDescription, "description:extra"},
		{EntityPlugin, "nodes:web:plugins"},
	}
	for _, tc := range cases {
		_, err := resolveEntity(testPlan(), "dep1", tc.entityType, tc.entityID)
		if err == nil {
			t.Errorf("%s %q: expected error", tc.entityType, tc.entityID)
			continue
		}
		var ue *UpdateError
		if !errors.As(err, &ue) || ue.Code != ErrCodeMalformedEntityID {
			t.Errorf("%s %q: got %v, want malformed entity id", tc.entityType, tc.entityID, err)
		}
	}
}
