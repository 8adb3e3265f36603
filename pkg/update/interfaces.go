package update

import (
	"context"

	"github.com/updraft-io/updraft/pkg/stores"
)

// Storage is the persistence surface the engine needs. pkg/stores satisfies
// it; tests provide an in-memory implementation.
type Storage interface {
	// Deployment
	GetDeployment(ctx context.Context, id string) (*stores.Deployment, error)
	UpdateDeployment(ctx context.Context, dep *stores.Deployment) error

	// Nodes
	ListNodes(ctx context.Context, deploymentID string) ([]*stores.Node, error)
	GetNode(ctx context.Context, deploymentID, nodeID string) (*stores.Node, error)
	CreateNodes(ctx context.Context, nodes []*stores.Node) error
	UpdateNode(ctx context.Context, node *stores.Node) error
	DeleteNode(ctx context.Context, deploymentID, nodeID string) error

	// Node instances
	ListNodeInstances(ctx context.Context, deploymentID, nodeID string) ([]*stores.NodeInstance, error)
	GetNodeInstance(ctx context.Context, id string, locking bool) (*stores.NodeInstance, error)
	CreateNodeInstances(ctx context.Context, instances []*stores.NodeInstance) error
	UpdateNodeInstance(ctx context.Context, instance *stores.NodeInstance) error
	DeleteNodeInstance(ctx context.Context, id string) error

	// Resumable operations
	ListExecutions(ctx context.Context, deploymentID string, statuses []stores.ExecutionStatus) ([]*stores.Execution, error)
	ListTasksGraphs(ctx context.Context, executionIDs []string) ([]*stores.TasksGraph, error)
	ListOperations(ctx context.Context, tasksGraphIDs []string, states []stores.OperationState) ([]*stores.Operation, error)
	UpdateOperation(ctx context.Context, op *stores.Operation) error

	// Inter-deployment dependencies
	ListDependencies(ctx context.Context, sourceDeployment string) ([]*stores.Dependency, error)
	PutDependency(ctx context.Context, dep *stores.Dependency) error
	DeleteDependency(ctx context.Context, id string) error
}
