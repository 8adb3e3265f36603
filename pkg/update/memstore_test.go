package update

import (
	"context"
	"sort"

	"github.com/updraft-io/updraft/pkg/stores"
)

// memStore is an in-memory Storage implementation for engine tests. It
// mimics the SQLite store's semantics: rows are copied on the way in and
// out, and instance updates enforce the version check.
type memStore struct {
	deployments  map[string]*stores.Deployment
	nodes        map[string]*stores.Node
	instances    map[string]*stores.NodeInstance
	executions   []*stores.Execution
	graphs       []*stores.TasksGraph
	operations   map[string]*stores.Operation
	dependencies map[string]*stores.Dependency

	// afterGetInstance, if set, runs after each instance read. Tests use it
	// to interleave a concurrent writer between a read and its write-back.
	afterGetInstance func(s *memStore, id string)
}

func newMemStore() *memStore {
	return &memStore{
		deployments:  make(map[string]*stores.Deployment),
		nodes:        make(map[string]*stores.Node),
		instances:    make(map[string]*stores.NodeInstance),
		operations:   make(map[string]*stores.Operation),
		dependencies: make(map[string]*stores.Dependency),
	}
}

func nodeKey(deploymentID, nodeID string) string {
	return deploymentID + "/" + nodeID
}

func copyNode(n *stores.Node) *stores.Node {
	clone := *n
	clone.TypeHierarchy = append([]string(nil), n.TypeHierarchy...)
	clone.Properties = deepCopyMap(n.Properties)
	clone.Operations = deepCopyMap(n.Operations)
	clone.Relationships = deepCopyMaps(n.Relationships)
	clone.Plugins = deepCopyMaps(n.Plugins)
	clone.PluginsToInstall = deepCopyMaps(n.PluginsToInstall)
	return &clone
}

func copyInstance(i *stores.NodeInstance) *stores.NodeInstance {
	clone := *i
	clone.Relationships = deepCopyMaps(i.Relationships)
	clone.RuntimeProperties = deepCopyMap(i.RuntimeProperties)
	return &clone
}

func copyDeployment(d *stores.Deployment) *stores.Deployment {
	clone := *d
	clone.Workflows = deepCopyMap(d.Workflows)
	clone.Outputs = deepCopyMap(d.Outputs)
	return &clone
}

func (s *memStore) GetDeployment(_ context.Context, id string) (*stores.Deployment, error) {
	dep, ok := s.deployments[id]
	if !ok {
		return nil, stores.ErrNotFound
	}
	return copyDeployment(dep), nil
}

func (s *memStore) UpdateDeployment(_ context.Context, dep *stores.Deployment) error {
	if _, ok := s.deployments[dep.ID]; !ok {
		return stores.ErrNotFound
	}
	s.deployments[dep.ID] = copyDeployment(dep)
	return nil
}

func (s *memStore) ListNodes(_ context.Context, deploymentID string) ([]*stores.Node, error) {
	var out []*stores.Node
	for _, n := range s.nodes {
		if n.DeploymentID == deploymentID {
			out = append(out, copyNode(n))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) GetNode(_ context.Context, deploymentID, nodeID string) (*stores.Node, error) {
	n, ok := s.nodes[nodeKey(deploymentID, nodeID)]
	if !ok {
		return nil, stores.ErrNotFound
	}
	return copyNode(n), nil
}

func (s *memStore) CreateNodes(_ context.Context, nodes []*stores.Node) error {
	for _, n := range nodes {
		s.nodes[nodeKey(n.DeploymentID, n.ID)] = copyNode(n)
	}
	return nil
}

func (s *memStore) UpdateNode(_ context.Context, node *stores.Node) error {
	key := nodeKey(node.DeploymentID, node.ID)
	if _, ok := s.nodes[key]; !ok {
		return stores.ErrNotFound
	}
	s.nodes[key] = copyNode(node)
	return nil
}

func (s *memStore) DeleteNode(_ context.Context, deploymentID, nodeID string) error {
	key := nodeKey(deploymentID, nodeID)
	if _, ok := s.nodes[key]; !ok {
		return stores.ErrNotFound
	}
	delete(s.nodes, key)
	return nil
}

func (s *memStore) ListNodeInstances(_ context.Context, deploymentID, nodeID string) ([]*stores.NodeInstance, error) {
	var out []*stores.NodeInstance
	for _, i := range s.instances {
		if i.DeploymentID == deploymentID && (nodeID == "" || i.NodeID == nodeID) {
			out = append(out, copyInstance(i))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) GetNodeInstance(_ context.Context, id string, _ bool) (*stores.NodeInstance, error) {
	i, ok := s.instances[id]
	if !ok {
		return nil, stores.ErrNotFound
	}
	out := copyInstance(i)
	if s.afterGetInstance != nil {
		s.afterGetInstance(s, id)
	}
	return out, nil
}

func (s *memStore) CreateNodeInstances(_ context.Context, instances []*stores.NodeInstance) error {
	for _, i := range instances {
		s.instances[i.ID] = copyInstance(i)
	}
	return nil
}

func (s *memStore) UpdateNodeInstance(_ context.Context, instance *stores.NodeInstance) error {
	existing, ok := s.instances[instance.ID]
	if !ok {
		return stores.ErrNotFound
	}
	if existing.Version != instance.Version-1 {
		return stores.ErrVersionConflict
	}
	s.instances[instance.ID] = copyInstance(instance)
	return nil
}

func (s *memStore) DeleteNodeInstance(_ context.Context, id string) error {
	if _, ok := s.instances[id]; !ok {
		return stores.ErrNotFound
	}
	delete(s.instances, id)
	return nil
}

func (s *memStore) ListExecutions(_ context.Context, deploymentID string, statuses []stores.ExecutionStatus) ([]*stores.Execution, error) {
	var out []*stores.Execution
	for _, e := range s.executions {
		if e.DeploymentID != deploymentID {
			continue
		}
		for _, status := range statuses {
			if e.Status == status {
				out = append(out, e)
				break
			}
		}
	}
	return out, nil
}

func (s *memStore) ListTasksGraphs(_ context.Context, executionIDs []string) ([]*stores.TasksGraph, error) {
	ids := make(map[string]bool, len(executionIDs))
	for _, id := range executionIDs {
		ids[id] = true
	}
	var out []*stores.TasksGraph
	for _, g := range s.graphs {
		if ids[g.ExecutionID] {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *memStore) ListOperations(_ context.Context, tasksGraphIDs []string, states []stores.OperationState) ([]*stores.Operation, error) {
	ids := make(map[string]bool, len(tasksGraphIDs))
	for _, id := range tasksGraphIDs {
		ids[id] = true
	}
	var out []*stores.Operation
	for _, op := range s.operations {
		if !ids[op.TasksGraphID] {
			continue
		}
		for _, state := range states {
			if op.State == state {
				clone := *op
				clone.Parameters = deepCopyMap(op.Parameters)
				out = append(out, &clone)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) UpdateOperation(_ context.Context, op *stores.Operation) error {
	if _, ok := s.operations[op.ID]; !ok {
		return stores.ErrNotFound
	}
	clone := *op
	clone.Parameters = deepCopyMap(op.Parameters)
	s.operations[op.ID] = &clone
	return nil
}

func (s *memStore) ListDependencies(_ context.Context, sourceDeployment string) ([]*stores.Dependency, error) {
	var out []*stores.Dependency
	for _, d := range s.dependencies {
		if d.SourceDeployment == sourceDeployment {
			clone := *d
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DependencyCreator < out[j].DependencyCreator })
	return out, nil
}

func (s *memStore) PutDependency(_ context.Context, dep *stores.Dependency) error {
	clone := *dep
	s.dependencies[dep.ID] = &clone
	return nil
}

func (s *memStore) DeleteDependency(_ context.Context, id string) error {
	if _, ok := s.dependencies[id]; !ok {
		return stores.ErrNotFound
	}
	delete(s.dependencies, id)
	return nil
}
