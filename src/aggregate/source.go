package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"releasedash/src/buildbot"
	"releasedash/src/cache"
	"releasedash/src/model"
)

// ErrBuilderDisconnected is returned when a tracked builder has no
// connected worker. The cache turns this into a stale-or-absent cell
// like any other loader failure, so a briefly offline builder keeps
// showing its last known status.
var ErrBuilderDisconnected = errors.New("builder has no connected worker")

// ErrBuilderUnknown is returned when a tracked builder name does not
// exist upstream (usually a config typo or a decommissioned builder).
var ErrBuilderUnknown = errors.New("builder not known to the status API")

// ErrBuilderUntracked is returned when a builder exists upstream but its
// tags exclude it from the dashboard: not marked stable, or a
// pull-request builder.
var ErrBuilderUntracked = errors.New("builder tags exclude it from tracking")

// BuildbotSource adapts the buildbot client to the StatusSource contract.
// Builder name→ID resolution and worker connectivity are fetched lazily
// once and reused for the resolveFor window, since builder identity is
// reference data that changes rarely.
type BuildbotSource struct {
	client *buildbot.Client
	limit  int
	clock  cache.Clock

	mu         sync.Mutex
	resolvedAt time.Time
	resolveFor time.Duration
	byName     map[string]buildbot.Builder
	connected  map[int64]bool
}

// NewBuildbotSource creates a source fetching up to limit builds per pair.
// A nil clock falls back to time.Now.
func NewBuildbotSource(client *buildbot.Client, limit int, clock cache.Clock) *BuildbotSource {
	if limit <= 0 {
		limit = 200
	}
	if clock == nil {
		clock = time.Now
	}
	return &BuildbotSource{
		client:     client,
		limit:      limit,
		clock:      clock,
		resolveFor: 10 * time.Minute,
	}
}

// LatestBuilds fetches recent completed builds for the pair, newest first.
func (s *BuildbotSource) LatestBuilds(ctx context.Context, pair model.Pair) ([]model.Build, error) {
	builder, connected, err := s.resolve(ctx, pair.Builder.Name)
	if err != nil {
		return nil, err
	}
	if !connected {
		return nil, fmt.Errorf("%w: %s", ErrBuilderDisconnected, pair.Builder.Name)
	}

	raw, err := s.client.GetRecentBuilds(ctx, builder.BuilderID, s.limit)
	if err != nil {
		return nil, err
	}

	builds := make([]model.Build, 0, len(raw))
	for _, b := range raw {
		builds = append(builds, model.Build{
			ID:          b.BuildID,
			BuilderName: pair.Builder.Name,
			Branch:      pair.Branch,
			StartedAt:   time.Unix(int64(b.StartedAt), 0).UTC(),
			Complete:    b.Complete,
			Outcome:     b.Outcome(),
			HasArtifact: b.HasArtifact(),
		})
	}
	return builds, nil
}

// DiscoverPairs derives the tracked reference set from upstream builder
// tags: stable non-pull-request builders only, with branch and tier read
// from the tag list. Used when the configuration does not pin an
// explicit tracking section.
func (s *BuildbotSource) DiscoverPairs(ctx context.Context) ([]model.Pair, error) {
	builders, err := s.client.GetBuilders(ctx)
	if err != nil {
		return nil, err
	}

	var pairs []model.Pair
	for _, b := range builders {
		if !b.IsTracked() {
			continue
		}
		pairs = append(pairs, model.Pair{
			Branch:  model.Branch(b.BranchTag()),
			Builder: model.Builder{Name: b.Name, Tier: b.TierTag()},
		})
	}
	return pairs, nil
}

// resolve maps a builder name to its upstream identity and connectivity,
// refreshing the lookup tables when they are older than resolveFor.
// Builders whose tags exclude them from the dashboard resolve to
// ErrBuilderUntracked even when explicitly configured.
func (s *BuildbotSource) resolve(ctx context.Context, name string) (buildbot.Builder, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.byName == nil || s.clock().Sub(s.resolvedAt) > s.resolveFor {
		builders, err := s.client.GetBuilders(ctx)
		if err != nil {
			return buildbot.Builder{}, false, err
		}
		connected, err := s.client.GetConnectedBuilderIDs(ctx)
		if err != nil {
			return buildbot.Builder{}, false, err
		}

		byName := make(map[string]buildbot.Builder, len(builders))
		for _, b := range builders {
			byName[b.Name] = b
		}
		s.byName = byName
		s.connected = connected
		s.resolvedAt = s.clock()
	}

	builder, ok := s.byName[name]
	if !ok {
		return buildbot.Builder{}, false, fmt.Errorf("%w: %s", ErrBuilderUnknown, name)
	}
	if !builder.IsTracked() {
		return buildbot.Builder{}, false, fmt.Errorf("%w: %s", ErrBuilderUntracked, name)
	}
	return builder, s.connected[builder.BuilderID], nil
}
