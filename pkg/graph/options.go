package graph

// findOptions accumulates options for [Store.FindNodes].
// Unexported — callers configure it via [FindOpt] functional options.
type findOptions struct {
	kind          NodeKind
	hasKind       bool
	nameContains  string
	aliasContains string
}

// FindOpt is a functional option for [Store.FindNodes].
type FindOpt func(*findOptions)

// WithKind restricts [Store.FindNodes] to nodes of the given kind.
func WithKind(kind NodeKind) FindOpt {
	return func(o *findOptions) { o.kind = kind; o.hasKind = true }
}

// WithNameContains restricts results to nodes whose canonical name contains
// the given substring (case-insensitive).
func WithNameContains(s string) FindOpt {
	return func(o *findOptions) { o.nameContains = s }
}

// WithAliasContains restricts results to nodes having an alias containing
// the given substring (case-insensitive, matched against the case-folded
// alias set).
func WithAliasContains(s string) FindOpt {
	return func(o *findOptions) { o.aliasContains = s }
}

// ApplyFindOpts applies a slice of [FindOpt] values and returns the resolved
// parameters. Exported so storage backends outside this package can read
// option values without reaching into unexported fields.
func ApplyFindOpts(opts []FindOpt) (kind NodeKind, hasKind bool, nameContains, aliasContains string) {
	o := &findOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o.kind, o.hasKind, o.nameContains, o.aliasContains
}

// traverseOptions accumulates options for [Store.Neighbors].
type traverseOptions struct {
	relations       []string
	minConfidence   float64
	includeInactive bool
}

// TraverseOpt is a functional option for [Store.Neighbors].
type TraverseOpt func(*traverseOptions)

// WithRelations restricts traversal to edges whose relation is in the
// provided list. An empty list (the default) follows all relation types.
func WithRelations(relations ...string) TraverseOpt {
	return func(o *traverseOptions) { o.relations = append(o.relations, relations...) }
}

// WithMinConfidence excludes edges whose confidence is below min.
func WithMinConfidence(min float64) TraverseOpt {
	return func(o *traverseOptions) { o.minConfidence = min }
}

// IncludeInactive includes retracted, archived, and expired edges in the
// traversal. Intended for audit use only — ordinary query paths must not
// set this option (spec §4.1).
func IncludeInactive() TraverseOpt {
	return func(o *traverseOptions) { o.includeInactive = true }
}

// ApplyTraverseOpts applies a slice of [TraverseOpt] values and returns the
// resolved parameters.
func ApplyTraverseOpts(opts []TraverseOpt) (relations []string, minConfidence float64, includeInactive bool) {
	o := &traverseOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o.relations, o.minConfidence, o.includeInactive
}

// edgeOptions accumulates options for [Store.Edges].
type edgeOptions struct {
	source, target, relation string
	minConfidence            float64
	includeInactive          bool
}

// EdgeOpt is a functional option for [Store.Edges].
type EdgeOpt func(*edgeOptions)

// WithSource restricts results to edges whose source node is id.
func WithSource(id string) EdgeOpt { return func(o *edgeOptions) { o.source = id } }

// WithTarget restricts results to edges whose target node is id.
func WithTarget(id string) EdgeOpt { return func(o *edgeOptions) { o.target = id } }

// WithRelation restricts results to edges with the given relation.
func WithRelation(relation string) EdgeOpt { return func(o *edgeOptions) { o.relation = relation } }

// WithEdgeMinConfidence excludes edges whose confidence is below min.
func WithEdgeMinConfidence(min float64) EdgeOpt {
	return func(o *edgeOptions) { o.minConfidence = min }
}

// EdgeIncludeInactive includes retracted, archived, and expired edges.
// Audit-only, per spec §4.1.
func EdgeIncludeInactive() EdgeOpt { return func(o *edgeOptions) { o.includeInactive = true } }

// ApplyEdgeOpts applies a slice of [EdgeOpt] values and returns the resolved
// parameters.
func ApplyEdgeOpts(opts []EdgeOpt) (source, target, relation string, minConfidence float64, includeInactive bool) {
	o := &edgeOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o.source, o.target, o.relation, o.minConfidence, o.includeInactive
}
