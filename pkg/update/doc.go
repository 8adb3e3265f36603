// Package update implements the deployment-update reconciliation engine.
//
// Given a newly evaluated deployment plan and an ordered list of change
// steps, the engine applies each step to the persisted topology (nodes,
// relationships, operations, properties, workflows, outputs, plugins),
// tracks every entity it touched, and runs a finalize pass that repairs
// structural consequences a single step cannot express: sparse relationship
// slots are compacted, node-instance relationship order is restored, stale
// inter-deployment dependency edges are pruned.
//
// The engine assumes the step list was computed externally. It never diffs
// plans itself.
package update
