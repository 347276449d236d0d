package graph

import "context"

// EpisodeStore persists [Episode] and [Experience] records. Kept separate
// from [Store]: the online extraction path, the Background Workers'
// episode-clustering cycle and the Query Surface's experience lookups are
// its only callers, while every other component is built against node/edge
// operations alone — splitting it out
// keeps Store's surface narrow for the components that never touch episodes.
//
// A backend implementing [Store] typically implements EpisodeStore too
// (see pkg/graph/postgres, pkg/graph/memstore); they are declared
// separately so a caller that only needs node/edge access can depend on the
// smaller interface.
type EpisodeStore interface {
	// RecordEpisode inserts a new episode, returning it with its resolved ID.
	RecordEpisode(ctx context.Context, e Episode) (Episode, error)

	// Episodes returns every recorded episode for the user, most recent
	// first.
	Episodes(ctx context.Context) ([]Episode, error)

	// CreateExperience inserts a new Experience node, returning it with its
	// resolved ID.
	CreateExperience(ctx context.Context, e Experience) (Experience, error)

	// Experiences returns every derived experience for the user, used by the
	// Query Surface to include generalized patterns alongside node/edge
	// results.
	Experiences(ctx context.Context) ([]Experience, error)
}
