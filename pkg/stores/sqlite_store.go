package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite.
//
// Locking semantics: SQLite has no per-row SELECT ... FOR UPDATE. The store
// opens the database with _txlock=immediate so that write transactions
// serialize against each other, and UpdateNodeInstance enforces the instance
// version check, which turns a lost update into ErrVersionConflict instead
// of a silent overwrite.
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction.
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CommitTx commits a transaction.
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction.
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

// toJSON marshals a nested structure into its column representation.
// A nil value marshals to the JSON zero of its kind so that scans round-trip.
func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode column: %w", err)
	}
	return string(b), nil
}

func fromJSON(data string, v any) error {
	if data == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("failed to decode column: %w", err)
	}
	return nil
}

// placeholders returns a "?, ?, ..." list for n parameters.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// CreateDeployment creates a new deployment record.
func (s *SQLiteStore) CreateDeployment(ctx context.Context, dep *Deployment) error {
	workflows, err := toJSON(dep.Workflows)
	if err != nil {
		return err
	}
	outputs, err := toJSON(dep.Outputs)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO deployments (id, description, workflows, outputs, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		dep.ID, dep.Description, workflows, outputs, dep.CreatedAt, dep.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create deployment: %w", err)
	}
	return nil
}

// GetDeployment retrieves a deployment by ID.
func (s *SQLiteStore) GetDeployment(ctx context.Context, id string) (*Deployment, error) {
	query := `
		SELECT id, description, workflows, outputs, created_at, updated_at
		FROM deployments
		WHERE id = ?
	`

	dep := &Deployment{}
	var workflows, outputs string
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&dep.ID, &dep.Description, &workflows, &outputs, &dep.CreatedAt, &dep.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("deployment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}

	if err := fromJSON(workflows, &dep.Workflows); err != nil {
		return nil, err
	}
	if err := fromJSON(outputs, &dep.Outputs); err != nil {
		return nil, err
	}
	return dep, nil
}

// UpdateDeployment updates a deployment row.
func (s *SQLiteStore) UpdateDeployment(ctx context.Context, dep *Deployment) error {
	workflows, err := toJSON(dep.Workflows)
	if err != nil {
		return err
	}
	outputs, err := toJSON(dep.Outputs)
	if err != nil {
		return err
	}

	query := `
		UPDATE deployments
		SET description = ?, workflows = ?, outputs = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		dep.Description, workflows, outputs, dep.UpdatedAt, dep.ID)
	if err != nil {
		return fmt.Errorf("failed to update deployment: %w", err)
	}
	return checkAffected(result, "deployment", dep.ID)
}

// DeleteDeployment deletes a deployment by ID.
func (s *SQLiteStore) DeleteDeployment(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM deployments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete deployment: %w", err)
	}
	return checkAffected(result, "deployment", id)
}

const nodeColumns = `id, deployment_id, type, type_hierarchy, properties, operations,
	relationships, plugins, plugins_to_install, number_of_instances, planned_number_of_instances`

// ListNodes lists all nodes of a deployment.
func (s *SQLiteStore) ListNodes(ctx context.Context, deploymentID string) ([]*Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE deployment_id = ? ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	defer rows.Close()

	nodes := []*Node{}
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating nodes: %w", err)
	}
	return nodes, nil
}

// GetNode retrieves one node of a deployment.
func (s *SQLiteStore) GetNode(ctx context.Context, deploymentID, nodeID string) (*Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE deployment_id = ? AND id = ?`

	row := s.db.QueryRowContext(ctx, query, deploymentID, nodeID)
	node, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("node %s/%s: %w", deploymentID, nodeID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return node, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*Node, error) {
	node := &Node{}
	var hierarchy, properties, operations, relationships, plugins, pluginsToInstall string
	err := row.Scan(
		&node.ID,
		&node.DeploymentID,
		&node.Type,
		&hierarchy,
		&properties,
		&operations,
		&relationships,
		&plugins,
		&pluginsToInstall,
		&node.NumberOfInstances,
		&node.PlannedNumberOfInstances,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan node: %w", err)
	}

	for _, col := range []struct {
		data string
		dst  any
	}{
		{hierarchy, &node.TypeHierarchy},
		{properties, &node.Properties},
		{operations, &node.Operations},
		{relationships, &node.Relationships},
		{plugins, &node.Plugins},
		{pluginsToInstall, &node.PluginsToInstall},
	} {
		if err := fromJSON(col.data, col.dst); err != nil {
			return nil, err
		}
	}
	return node, nil
}

// CreateNodes bulk-creates node rows.
func (s *SQLiteStore) CreateNodes(ctx context.Context, nodes []*Node) error {
	query := `
		INSERT INTO nodes (` + nodeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, node := range nodes {
		args, err := nodeArgs(node)
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to create node %s: %w", node.ID, err)
		}
	}
	return nil
}

// UpdateNode updates a node row.
func (s *SQLiteStore) UpdateNode(ctx context.Context, node *Node) error {
	query := `
		UPDATE nodes
		SET type = ?, type_hierarchy = ?, properties = ?, operations = ?,
			relationships = ?, plugins = ?, plugins_to_install = ?,
			number_of_instances = ?, planned_number_of_instances = ?
		WHERE deployment_id = ? AND id = ?
	`
	args, err := nodeArgs(node)
	if err != nil {
		return err
	}
	// nodeArgs orders id, deployment_id first; reorder for the UPDATE form.
	updateArgs := append(args[2:], node.DeploymentID, node.ID)
	result, err := s.db.ExecContext(ctx, query, updateArgs...)
	if err != nil {
		return fmt.Errorf("failed to update node: %w", err)
	}
	return checkAffected(result, "node", node.ID)
}

// DeleteNode deletes one node of a deployment.
func (s *SQLiteStore) DeleteNode(ctx context.Context, deploymentID, nodeID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM nodes WHERE deployment_id = ? AND id = ?`, deploymentID, nodeID)
	if err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}
	return checkAffected(result, "node", nodeID)
}

func nodeArgs(node *Node) ([]any, error) {
	hierarchy, err := toJSON(node.TypeHierarchy)
	if err != nil {
		return nil, err
	}
	properties, err := toJSON(node.Properties)
	if err != nil {
		return nil, err
	}
	operations, err := toJSON(node.Operations)
	if err != nil {
		return nil, err
	}
	relationships, err := toJSON(node.Relationships)
	if err != nil {
		return nil, err
	}
	plugins, err := toJSON(node.Plugins)
	if err != nil {
		return nil, err
	}
	pluginsToInstall, err := toJSON(node.PluginsToInstall)
	if err != nil {
		return nil, err
	}
	return []any{
		node.ID,
		node.DeploymentID,
		node.Type,
		hierarchy,
		properties,
		operations,
		relationships,
		plugins,
		pluginsToInstall,
		node.NumberOfInstances,
		node.PlannedNumberOfInstances,
	}, nil
}

const instanceColumns = `id, node_id, deployment_id, state, version, relationships, runtime_properties`

// ListNodeInstances lists node instances of a deployment, optionally
// filtered to one node (empty nodeID lists all).
func (s *SQLiteStore) ListNodeInstances(ctx context.Context, deploymentID, nodeID string) ([]*NodeInstance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM node_instances
		WHERE deployment_id = ?
		  AND (? = '' OR node_id = ?)
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, deploymentID, nodeID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list node instances: %w", err)
	}
	defer rows.Close()

	instances := []*NodeInstance{}
	for rows.Next() {
		instance, err := scanNodeInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, instance)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating node instances: %w", err)
	}
	return instances, nil
}

// GetNodeInstance retrieves a node instance by ID. The locking flag is
// advisory here; write serialization is provided by immediate transactions
// and the version check in UpdateNodeInstance.
func (s *SQLiteStore) GetNodeInstance(ctx context.Context, id string, locking bool) (*NodeInstance, error) {
	_ = locking
	query := `SELECT ` + instanceColumns + ` FROM node_instances WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)
	instance, err := scanNodeInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("node instance %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func scanNodeInstance(row rowScanner) (*NodeInstance, error) {
	instance := &NodeInstance{}
	var relationships, runtimeProperties string
	err := row.Scan(
		&instance.ID,
		&instance.NodeID,
		&instance.DeploymentID,
		&instance.State,
		&instance.Version,
		&relationships,
		&runtimeProperties,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan node instance: %w", err)
	}
	if err := fromJSON(relationships, &instance.Relationships); err != nil {
		return nil, err
	}
	if err := fromJSON(runtimeProperties, &instance.RuntimeProperties); err != nil {
		return nil, err
	}
	return instance, nil
}

// CreateNodeInstances bulk-creates node instance rows.
func (s *SQLiteStore) CreateNodeInstances(ctx context.Context, instances []*NodeInstance) error {
	query := `
		INSERT INTO node_instances (` + instanceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	for _, instance := range instances {
		relationships, err := toJSON(instance.Relationships)
		if err != nil {
			return err
		}
		runtimeProperties, err := toJSON(instance.RuntimeProperties)
		if err != nil {
			return err
		}
		_, err = s.db.ExecContext(ctx, query,
			instance.ID,
			instance.NodeID,
			instance.DeploymentID,
			instance.State,
			instance.Version,
			relationships,
			runtimeProperties,
		)
		if err != nil {
			return fmt.Errorf("failed to create node instance %s: %w", instance.ID, err)
		}
	}
	return nil
}

// UpdateNodeInstance updates a node instance row. The caller must have
// bumped Version by one; the previous version is enforced in the WHERE
// clause and a concurrent modification surfaces as ErrVersionConflict.
func (s *SQLiteStore) UpdateNodeInstance(ctx context.Context, instance *NodeInstance) error {
	relationships, err := toJSON(instance.Relationships)
	if err != nil {
		return err
	}
	runtimeProperties, err := toJSON(instance.RuntimeProperties)
	if err != nil {
		return err
	}

	query := `
		UPDATE node_instances
		SET state = ?, version = ?, relationships = ?, runtime_properties = ?
		WHERE id = ? AND version = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		instance.State,
		instance.Version,
		relationships,
		runtimeProperties,
		instance.ID,
		instance.Version-1,
	)
	if err != nil {
		return fmt.Errorf("failed to update node instance: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		// Distinguish a missing row from a version mismatch.
		var exists int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM node_instances WHERE id = ?`, instance.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check node instance: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("node instance %s: %w", instance.ID, ErrNotFound)
		}
		return fmt.Errorf("node instance %s: %w", instance.ID, ErrVersionConflict)
	}
	return nil
}

// DeleteNodeInstance deletes a node instance by ID.
func (s *SQLiteStore) DeleteNodeInstance(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM node_instances WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete node instance: %w", err)
	}
	return checkAffected(result, "node instance", id)
}

// ListExecutions lists executions of a deployment filtered by status.
func (s *SQLiteStore) ListExecutions(ctx context.Context, deploymentID string, statuses []ExecutionStatus) ([]*Execution, error) {
	args := []any{deploymentID}
	query := `
		SELECT id, deployment_id, status, created_at
		FROM executions
		WHERE deployment_id = ?
	`
	if len(statuses) > 0 {
		query += ` AND status IN (` + placeholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	executions := []*Execution{}
	for rows.Next() {
		execution := &Execution{}
		if err := rows.Scan(&execution.ID, &execution.DeploymentID, &execution.Status, &execution.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, execution)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}
	return executions, nil
}

// ListTasksGraphs lists tasks graphs belonging to the given executions.
func (s *SQLiteStore) ListTasksGraphs(ctx context.Context, executionIDs []string) ([]*TasksGraph, error) {
	if len(executionIDs) == 0 {
		return []*TasksGraph{}, nil
	}

	query := `
		SELECT id, execution_id, name
		FROM tasks_graphs
		WHERE execution_id IN (` + placeholders(len(executionIDs)) + `)
	`
	args := make([]any, 0, len(executionIDs))
	for _, id := range executionIDs {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks graphs: %w", err)
	}
	defer rows.Close()

	graphs := []*TasksGraph{}
	for rows.Next() {
		graph := &TasksGraph{}
		if err := rows.Scan(&graph.ID, &graph.ExecutionID, &graph.Name); err != nil {
			return nil, fmt.Errorf("failed to scan tasks graph: %w", err)
		}
		graphs = append(graphs, graph)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks graphs: %w", err)
	}
	return graphs, nil
}

// ListOperations lists operations of the given tasks graphs filtered by state.
func (s *SQLiteStore) ListOperations(ctx context.Context, tasksGraphIDs []string, states []OperationState) ([]*Operation, error) {
	if len(tasksGraphIDs) == 0 {
		return []*Operation{}, nil
	}

	query := `
		SELECT id, tasks_graph_id, name, state, parameters
		FROM operations
		WHERE tasks_graph_id IN (` + placeholders(len(tasksGraphIDs)) + `)
	`
	args := make([]any, 0, len(tasksGraphIDs)+len(states))
	for _, id := range tasksGraphIDs {
		args = append(args, id)
	}
	if len(states) > 0 {
		query += ` AND state IN (` + placeholders(len(states)) + `)`
		for _, state := range states {
			args = append(args, state)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	operations := []*Operation{}
	for rows.Next() {
		op := &Operation{}
		var parameters string
		if err := rows.Scan(&op.ID, &op.TasksGraphID, &op.Name, &op.State, &parameters); err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		if err := fromJSON(parameters, &op.Parameters); err != nil {
			return nil, err
		}
		operations = append(operations, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operations: %w", err)
	}
	return operations, nil
}

// UpdateOperation updates the stored parameters and state of an operation.
func (s *SQLiteStore) UpdateOperation(ctx context.Context, op *Operation) error {
	parameters, err := toJSON(op.Parameters)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE operations SET state = ?, parameters = ? WHERE id = ?`,
		op.State, parameters, op.ID)
	if err != nil {
		return fmt.Errorf("failed to update operation: %w", err)
	}
	return checkAffected(result, "operation", op.ID)
}

// ListDependencies lists inter-deployment dependency edges by source deployment.
func (s *SQLiteStore) ListDependencies(ctx context.Context, sourceDeployment string) ([]*Dependency, error) {
	query := `
		SELECT id, source_deployment, target_deployment, dependency_creator, created_at
		FROM inter_deployment_dependencies
		WHERE source_deployment = ?
		ORDER BY dependency_creator ASC
	`

	rows, err := s.db.QueryContext(ctx, query, sourceDeployment)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependencies: %w", err)
	}
	defer rows.Close()

	dependencies := []*Dependency{}
	for rows.Next() {
		dep := &Dependency{}
		if err := rows.Scan(&dep.ID, &dep.SourceDeployment, &dep.TargetDeployment,
			&dep.DependencyCreator, &dep.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		dependencies = append(dependencies, dep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependencies: %w", err)
	}
	return dependencies, nil
}

// PutDependency inserts or updates a dependency edge keyed by
// (source_deployment, dependency_creator).
func (s *SQLiteStore) PutDependency(ctx context.Context, dep *Dependency) error {
	query := `
		INSERT INTO inter_deployment_dependencies (
			id, source_deployment, target_deployment, dependency_creator, created_at
		) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_deployment, dependency_creator) DO UPDATE SET
			target_deployment = excluded.target_deployment
	`
	_, err := s.db.ExecContext(ctx, query,
		dep.ID, dep.SourceDeployment, dep.TargetDeployment, dep.DependencyCreator, dep.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to put dependency: %w", err)
	}
	return nil
}

// DeleteDependency deletes a dependency edge by ID.
func (s *SQLiteStore) DeleteDependency(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM inter_deployment_dependencies WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete dependency: %w", err)
	}
	return checkAffected(result, "dependency", id)
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

func checkAffected(result sql.Result, kind, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
