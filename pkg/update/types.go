package update

// EntityType identifies which kind of topology entity a step addresses.
type EntityType string

const (
	EntityNode         EntityType = "node"
	EntityRelationship EntityType = "relationship"
	EntityOperation    EntityType = "operation"
	EntityProperty     EntityType = "property"
	EntityWorkflow     EntityType = "workflow"
	EntityOutput       EntityType = "output"
	EntityDescription  EntityType = "description"
	EntityPlugin       EntityType = "plugin"
)

// Action identifies what a step does to its entity.
type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
	ActionModify Action = "modify"
)

// Step is one atomic instruction within a deployment update. EntityID is a
// colon-separated path into the deployment plan, e.g.
// "nodes:web:relationships:[0]".
type Step struct {
	EntityType EntityType `json:"entity_type" yaml:"entity_type"`
	Action     Action     `json:"action" yaml:"action"`
	EntityID   string     `json:"entity_id" yaml:"entity_id"`
}

// ChangeType classifies a node-instance-level change.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeExtended ChangeType = "extended"
	ChangeReduced  ChangeType = "reduced"
	ChangeRemoved  ChangeType = "removed"
)

// ChangeTypes lists all instance change types in processing order.
var ChangeTypes = []ChangeType{ChangeAdded, ChangeExtended, ChangeReduced, ChangeRemoved}

// InstanceChanges is the raw instance change input, keyed by change type.
// Each instance mapping may carry a "modification" key naming the change
// that touched it directly; instances without a matching modification are
// neighbors included for relationship bookkeeping only.
type InstanceChanges map[ChangeType][]map[string]any

// Buckets splits one change type's instances into directly affected
// instances and related neighbors.
type Buckets struct {
	Affected []map[string]any
	Related  []map[string]any
}

// Partition splits raw instance changes into affected/related buckets per
// change type.
func (c InstanceChanges) Partition() map[ChangeType]Buckets {
	out := make(map[ChangeType]Buckets, len(c))
	for changeType, instances := range c {
		var b Buckets
		for _, inst := range instances {
			if mod, _ := inst[keyModification].(string); mod == string(changeType) {
				b.Affected = append(b.Affected, inst)
			} else {
				b.Related = append(b.Related, inst)
			}
		}
		out[changeType] = b
	}
	return out
}

// DeploymentUpdate carries the state of one reconciliation run.
type DeploymentUpdate struct {
	ID           string
	DeploymentID string
	Plan         Plan
	Steps        []Step

	// KeepOldDependencies retains inter-deployment dependency edges absent
	// from the new plan instead of deleting them. Used when an update is
	// partially rolled back.
	KeepOldDependencies bool

	// Nodes holds the staged node snapshots after the topology handlers ran,
	// consumed by the finalize pass.
	Nodes []map[string]any

	// InstanceChanges holds the partitioned instance buckets.
	InstanceChanges map[ChangeType]Buckets

	// ReducedRelationships stages, per instance id, the relationship set
	// remaining after reduction. Applied during the instance finalize pass so
	// it can be merged with simultaneous extensions.
	ReducedRelationships map[string][]map[string]any

	// ModifiedEntities accumulates everything the steps touched.
	ModifiedEntities *ModifiedEntities
}

// IndexMove records a relationship moving from one array index to another.
type IndexMove struct {
	From int
	To   int
}

// ModifiedEntities tracks every entity a reconciliation run touched, plus
// the side effects callers act on afterwards.
type ModifiedEntities struct {
	// IDs holds, per entity type, the ids returned by the applied steps.
	IDs map[EntityType][]string

	// RelMappings holds, per node id, the relationship index moves applied
	// by modify steps. Consumed by the instance reorder pass.
	RelMappings map[string][]IndexMove

	// PluginInstalls and PluginUninstalls list plugins whose addition or
	// removal requires host-agent action.
	PluginInstalls   []map[string]any
	PluginUninstalls []map[string]any
}

// NewModifiedEntities returns an empty accumulator.
func NewModifiedEntities() *ModifiedEntities {
	return &ModifiedEntities{
		IDs:         make(map[EntityType][]string),
		RelMappings: make(map[string][]IndexMove),
	}
}

// Add records one touched entity id under its type.
func (m *ModifiedEntities) Add(entityType EntityType, id string) {
	m.IDs[entityType] = append(m.IDs[entityType], id)
}

// AddRelMapping records a relationship index move for a node.
func (m *ModifiedEntities) AddRelMapping(nodeID string, move IndexMove) {
	m.RelMappings[nodeID] = append(m.RelMappings[nodeID], move)
}

// Merge folds another accumulator into this one.
func (m *ModifiedEntities) Merge(other *ModifiedEntities) {
	if other == nil {
		return
	}
	for entityType, ids := range other.IDs {
		m.IDs[entityType] = append(m.IDs[entityType], ids...)
	}
	for nodeID, moves := range other.RelMappings {
		m.RelMappings[nodeID] = append(m.RelMappings[nodeID], moves...)
	}
	m.PluginInstalls = append(m.PluginInstalls, other.PluginInstalls...)
	m.PluginUninstalls = append(m.PluginUninstalls, other.PluginUninstalls...)
}

// StepResult is what one applied step reports back to the coordinator.
type StepResult struct {
	// EntityID is recorded under the step's entity type.
	EntityID string

	// NodeID is the owning node, when the entity belongs to one.
	NodeID string

	// TargetID is the relationship target node, when applicable.
	TargetID string

	// IndexMove is set by relationship modify steps.
	IndexMove *IndexMove

	// PluginInstall / PluginUninstall report installable plugin side effects.
	PluginInstall   map[string]any
	PluginUninstall map[string]any
}
