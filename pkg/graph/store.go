package graph

import (
	"context"
	"errors"
)

// ErrNotFound is returned by accessor methods when the requested node or
// edge does not exist.
var ErrNotFound = errors.New("graph: not found")

// Store is the narrow persistence interface that every mutation and query
// component in this service is built against. It deliberately leaks no
// vendor query language above this package, so the reference Postgres +
// pgvector implementation in pkg/graph/postgres can be swapped for another
// backend (or for the in-memory fake in pkg/graph/memstore, used in tests)
// without touching callers.
//
// Every method operates within a single user's graph; the caller is
// responsible for obtaining the per-user-graph writer lock (see
// [pkg/graph/memstore] and [pkg/graph/postgres] for how each implementation
// serializes writers) before calling a mutating method — a Store
// implementation is free to assume single-writer-per-user-graph discipline
// is already being honored by its caller and need not re-derive it itself.
//
// All implementations must be safe for concurrent use.
type Store interface {
	// UpsertNode inserts a new node or merges into an existing one matched by
	// kind + case-folded name/alias. The returned Node carries its resolved ID.
	UpsertNode(ctx context.Context, n Node) (Node, error)

	// GetNode returns the node with the given ID, or ErrNotFound.
	GetNode(ctx context.Context, id string) (Node, error)

	// DeleteNode removes a node and all edges touching it. Used only by
	// explicit user-initiated deletion (spec §4.1); ordinary edge retraction
	// never deletes a node.
	DeleteNode(ctx context.Context, id string) error

	// FindNodes returns nodes matching the given options.
	FindNodes(ctx context.Context, opts ...FindOpt) ([]Node, error)

	// CreateEdge inserts a brand-new edge in EdgeProposed or EdgeActive state.
	CreateEdge(ctx context.Context, e Edge) (Edge, error)

	// GetEdge returns the edge with the given ID, or ErrNotFound.
	GetEdge(ctx context.Context, id string) (Edge, error)

	// ReinforceEdge applies the Confidence Engine's reinforce transition to an
	// existing edge: raises confidence, bumps LastReinforced, and appends the
	// new source episode ID.
	ReinforceEdge(ctx context.Context, id string, newConfidence float64, episodeID string) (Edge, error)

	// ReviseEdge supersedes an existing edge with a replacement. The original
	// edge transitions to EdgeRevised and its SupersededBy is set to the new
	// edge's ID; the new edge is inserted and returned.
	ReviseEdge(ctx context.Context, supersededID string, replacement Edge) (Edge, error)

	// ArchiveEdge transitions an edge to EdgeArchived, typically from the
	// decay cycle once confidence has fallen below the archive threshold.
	ArchiveEdge(ctx context.Context, id string) error

	// DecayEdge lowers an existing edge's confidence to newConfidence and
	// transitions it to EdgeDecaying, without superseding it with a new edge
	// ID. Used by the decay cycle for edges that have lost confidence but
	// not yet crossed the archive threshold.
	DecayEdge(ctx context.Context, id string, newConfidence float64) (Edge, error)

	// RetractEdge marks an edge retracted with a reason, used for explicit
	// user corrections that negate a fact outright (as opposed to revising it).
	RetractEdge(ctx context.Context, id string, reason string) error

	// Edges returns edges matching the given options.
	Edges(ctx context.Context, opts ...EdgeOpt) ([]Edge, error)

	// Neighbors performs a bounded breadth-first traversal from id and
	// returns the nodes reached, honoring the given traversal options.
	Neighbors(ctx context.Context, id string, maxNodes int, opts ...TraverseOpt) ([]Node, error)

	// Snapshot exports the full graph state for a user, used by
	// graph_snapshot and by the backup/restore round-trip property.
	Snapshot(ctx context.Context) (Snapshot, error)

	// Close releases any resources (connection pools, etc.) held by the store.
	Close() error
}
