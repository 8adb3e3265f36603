package stores

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned when an optimistic-concurrency check fails,
// i.e. the row was modified by another writer since it was read.
var ErrVersionConflict = errors.New("version conflict")

// ExecutionStatus represents the status of a workflow execution.
type ExecutionStatus string

const (
	ExecutionPending    ExecutionStatus = "pending"
	ExecutionStarted    ExecutionStatus = "started"
	ExecutionCancelled  ExecutionStatus = "cancelled"
	ExecutionFailed     ExecutionStatus = "failed"
	ExecutionTerminated ExecutionStatus = "terminated"
)

// OperationState represents the state of a single operation within a tasks graph.
type OperationState string

const (
	OperationPending     OperationState = "pending"
	OperationStarted     OperationState = "started"
	OperationRescheduled OperationState = "rescheduled"
	OperationFailed      OperationState = "failed"
	OperationSucceeded   OperationState = "succeeded"
)

// Deployment represents one deployed topology.
type Deployment struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	Workflows   map[string]any `json:"workflows"`
	Outputs     map[string]any `json:"outputs"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Node represents the persisted definition of one topology node.
//
// Relationships is positionally indexed: instance-level relationships refer
// to it by index, so a removed relationship leaves a nil slot behind until
// the finalize pass compacts the array.
type Node struct {
	ID                       string           `json:"id"`
	DeploymentID             string           `json:"deployment_id"`
	Type                     string           `json:"type"`
	TypeHierarchy            []string         `json:"type_hierarchy"`
	Properties               map[string]any   `json:"properties"`
	Operations               map[string]any   `json:"operations"`
	Relationships            []map[string]any `json:"relationships"`
	Plugins                  []map[string]any `json:"plugins"`
	PluginsToInstall         []map[string]any `json:"plugins_to_install"`
	NumberOfInstances        int              `json:"number_of_instances"`
	PlannedNumberOfInstances int              `json:"planned_number_of_instances"`
}

// NodeInstance represents the runtime state of one node instance.
// Version is bumped on every mutation and enforced on update.
type NodeInstance struct {
	ID                string           `json:"id"`
	NodeID            string           `json:"node_id"`
	DeploymentID      string           `json:"deployment_id"`
	State             string           `json:"state"`
	Version           int              `json:"version"`
	Relationships     []map[string]any `json:"relationships"`
	RuntimeProperties map[string]any   `json:"runtime_properties"`
}

// Execution represents a workflow execution run against a deployment.
type Execution struct {
	ID           string          `json:"id"`
	DeploymentID string          `json:"deployment_id"`
	Status       ExecutionStatus `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
}

// TasksGraph represents the stored task graph of one execution.
type TasksGraph struct {
	ID          string `json:"id"`
	ExecutionID string `json:"execution_id"`
	Name        string `json:"name"`
}

// Operation represents a single stored operation of a tasks graph.
// Parameters is a nested mapping holding the task invocation arguments.
type Operation struct {
	ID           string         `json:"id"`
	TasksGraphID string         `json:"tasks_graph_id"`
	Name         string         `json:"name"`
	State        OperationState `json:"state"`
	Parameters   map[string]any `json:"parameters"`
}

// Dependency represents one inter-deployment dependency edge.
// DependencyCreator identifies the plan element that created the edge.
type Dependency struct {
	ID                string    `json:"id"`
	SourceDeployment  string    `json:"source_deployment"`
	TargetDeployment  string    `json:"target_deployment"`
	DependencyCreator string    `json:"dependency_creator"`
	CreatedAt         time.Time `json:"created_at"`
}

// Store defines the interface for the persistence layer.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Deployment operations
	CreateDeployment(ctx context.Context, dep *Deployment) error
	GetDeployment(ctx context.Context, id string) (*Deployment, error)
	UpdateDeployment(ctx context.Context, dep *Deployment) error
	DeleteDeployment(ctx context.Context, id string) error

	// Node operations
	ListNodes(ctx context.Context, deploymentID string) ([]*Node, error)
	GetNode(ctx context.Context, deploymentID, nodeID string) (*Node, error)
	CreateNodes(ctx context.Context, nodes []*Node) error
	UpdateNode(ctx context.Context, node *Node) error
	DeleteNode(ctx context.Context, deploymentID, nodeID string) error

	// NodeInstance operations
	ListNodeInstances(ctx context.Context, deploymentID, nodeID string) ([]*NodeInstance, error)
	GetNodeInstance(ctx context.Context, id string, locking bool) (*NodeInstance, error)
	CreateNodeInstances(ctx context.Context, instances []*NodeInstance) error
	UpdateNodeInstance(ctx context.Context, instance *NodeInstance) error
	DeleteNodeInstance(ctx context.Context, id string) error

	// Execution / operation lookups (resumable-operation retargeting)
	ListExecutions(ctx context.Context, deploymentID string, statuses []ExecutionStatus) ([]*Execution, error)
	ListTasksGraphs(ctx context.Context, executionIDs []string) ([]*TasksGraph, error)
	ListOperations(ctx context.Context, tasksGraphIDs []string, states []OperationState) ([]*Operation, error)
	UpdateOperation(ctx context.Context, op *Operation) error

	// Inter-deployment dependency operations
	ListDependencies(ctx context.Context, sourceDeployment string) ([]*Dependency, error)
	PutDependency(ctx context.Context, dep *Dependency) error
	DeleteDependency(ctx context.Context, id string) error

	// Utility
	HealthCheck(ctx context.Context) error
}
