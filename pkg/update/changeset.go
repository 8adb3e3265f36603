package update

import "github.com/updraft-io/updraft/pkg/stores"

// Changeset is the in-memory staging snapshot threaded through the step
// handlers. Handlers mutate it alongside their storage writes so later
// steps in the same update observe earlier steps' effects; the finalize
// pass then makes storage match the settled snapshot.
type Changeset struct {
	// Nodes maps node id to its staged snapshot.
	Nodes map[string]map[string]any

	// Deployment stages the deployment-level collections: workflows,
	// outputs, description.
	Deployment map[string]any
}

// newChangeset snapshots the current persisted state.
func newChangeset(nodes []*stores.Node, dep *stores.Deployment) *Changeset {
	cs := &Changeset{
		Nodes:      make(map[string]map[string]any, len(nodes)),
		Deployment: make(map[string]any),
	}
	for _, n := range nodes {
		cs.Nodes[n.ID] = nodeToMap(n)
	}
	if dep != nil {
		cs.Deployment[keyWorkflows] = deepCopyMap(dep.Workflows)
		cs.Deployment[keyOutputs] = deepCopyMap(dep.Outputs)
		cs.Deployment[keyDescription] = dep.Description
	}
	return cs
}

// node returns the staged snapshot for a node id, or nil.
func (c *Changeset) node(id string) map[string]any {
	return c.Nodes[id]
}

// relationships returns a node's staged relationship slots.
func (c *Changeset) relationships(nodeID string) []map[string]any {
	staged := c.Nodes[nodeID]
	if staged == nil {
		return nil
	}
	return asMaps(staged[keyRelationships])
}

// setRelationships replaces a node's staged relationship slots.
func (c *Changeset) setRelationships(nodeID string, rels []map[string]any) {
	if staged := c.Nodes[nodeID]; staged != nil {
		staged[keyRelationships] = rels
	}
}

// setPlugins refreshes a staged node's plugin lists from a raw plan node.
func (c *Changeset) setPlugins(nodeID string, rawNode map[string]any) {
	staged := c.Nodes[nodeID]
	if staged == nil || rawNode == nil {
		return
	}
	staged[keyPlugins] = deepCopyMaps(asMaps(rawNode[keyPlugins]))
	staged[keyPluginsToInstall] = deepCopyMaps(asMaps(rawNode[keyPluginsToInstall]))
}
