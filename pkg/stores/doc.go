// Package stores provides the persistence layer for updraft.
//
// It persists the two-level topology model: node-level definitions
// (deployments, nodes) and instance-level runtime state (node instances),
// plus the execution/operation tables consulted when a deployment update
// retargets resumable operations, and the inter-deployment dependency edges
// recomputed on every update.
//
// The default implementation is SQLite-backed (modernc.org/sqlite, pure Go)
// with schema migrations embedded in the binary. Nested structures
// (properties, operations, relationships, plugins, parameters) are stored
// as JSON blob columns.
package stores
