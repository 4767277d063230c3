// Package aggregate composes cached build status and cached failure
// detail into the branch-by-builder status matrix. All staleness and
// failure recovery lives in the cache layer; the aggregator only decides
// what each cell means.
package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"releasedash/src/cache"
	"releasedash/src/logger"
	"releasedash/src/model"
	"releasedash/src/results"
)

// ErrNoReferenceData is returned when the tracked pair list is empty.
// This is the only fatal condition: with no reference data there is
// nothing meaningful to display.
var ErrNoReferenceData = errors.New("no tracked branch/builder pairs")

// StatusSource produces recent completed builds (newest first) for one
// tracked pair. Implementations perform one bounded fetch and no retries.
type StatusSource interface {
	LatestBuilds(ctx context.Context, pair model.Pair) ([]model.Build, error)
}

// ArtifactReader looks up mirrored failure detail for a build.
// *results.Reader satisfies this.
type ArtifactReader interface {
	Lookup(builderName string, buildID int64) results.Result
	ModTime(builderName string, buildID int64) time.Time
}

// TTLs configures per-source-kind freshness. Status queries are cheap and
// refetched often; artifact reads are keyed on file modification time
// instead of age, so their TTL is normally unbounded (zero).
type TTLs struct {
	Status time.Duration
	Detail time.Duration
}

// Aggregator walks the tracked matrix and fills one StatusCell per pair.
type Aggregator struct {
	cache  *cache.Cache
	source StatusSource
	reader ArtifactReader
	clock  cache.Clock
	log    logger.Logger

	ttls TTLs
	// minStreak is the consecutive-failure count that marks a builder as
	// broken rather than flaky.
	minStreak int
}

// New creates an aggregator. clock may be nil for wall-clock time;
// minStreak <= 0 defaults to 2.
func New(c *cache.Cache, source StatusSource, reader ArtifactReader, ttls TTLs, minStreak int, clock cache.Clock, log logger.Logger) *Aggregator {
	if clock == nil {
		clock = time.Now
	}
	if log == nil {
		log = logger.NewSilentLogger()
	}
	if minStreak <= 0 {
		minStreak = 2
	}
	return &Aggregator{
		cache:     c,
		source:    source,
		reader:    reader,
		clock:     clock,
		log:       log,
		ttls:      ttls,
		minStreak: minStreak,
	}
}

// Snapshot produces the full matrix for the tracked pairs. Every pair gets
// exactly one cell regardless of source failures; the only error condition
// is an empty tracked set.
func (a *Aggregator) Snapshot(ctx context.Context, pairs []model.Pair) (*model.Matrix, error) {
	if len(pairs) == 0 {
		return nil, ErrNoReferenceData
	}

	branches, builders := referenceSets(pairs)
	matrix := model.NewMatrix(branches, builders, a.clock())

	for _, pair := range pairs {
		matrix.Set(a.cell(ctx, pair))
	}
	return matrix, nil
}

// referenceSets extracts the unique branch and builder lists from the
// tracked pairs, preserving first-seen identity.
func referenceSets(pairs []model.Pair) ([]model.Branch, []model.Builder) {
	var branches []model.Branch
	var builders []model.Builder
	seenBranch := make(map[model.Branch]bool)
	seenBuilder := make(map[string]bool)

	for _, p := range pairs {
		if !seenBranch[p.Branch] {
			seenBranch[p.Branch] = true
			branches = append(branches, p.Branch)
		}
		if !seenBuilder[p.Builder.Name] {
			seenBuilder[p.Builder.Name] = true
			builders = append(builders, p.Builder)
		}
	}
	return branches, builders
}

// cell computes one StatusCell. Per-entry failures degrade the cell to
// unknown/partial/absent; nothing here returns an error.
func (a *Aggregator) cell(ctx context.Context, pair model.Pair) *model.StatusCell {
	cell := &model.StatusCell{
		Branch:       pair.Branch,
		Builder:      pair.Builder,
		Outcome:      model.OutcomeUnknown,
		Completeness: model.CompletenessAbsent,
		Failures:     []model.TestFailure{},
	}

	builds, statusHit, ok := a.loadStatus(ctx, pair)
	if !ok || len(builds) == 0 {
		return cell
	}

	latest := builds[0]
	cell.Build = &latest
	cell.Outcome = latest.Outcome
	cell.Stale = statusHit.Stale
	cell.StatusFetchedAt = statusHit.FetchedAt
	cell.Completeness = model.CompletenessComplete

	if failing, breaking := BreakingBuild(builds, a.minStreak); failing && breaking != nil {
		cell.Breaking = breaking
	}

	if !latest.HasArtifact {
		return cell
	}

	detail, detailHit, ok := a.loadDetail(pair.Builder.Name, latest.ID)
	if !ok {
		cell.Completeness = model.CompletenessPartial
		return cell
	}
	cell.DetailFetchedAt = detailHit.FetchedAt

	switch detail.State {
	case results.StateParsed:
		cell.Failures = detail.Failures
		if cell.Failures == nil {
			cell.Failures = []model.TestFailure{}
		}
	case results.StateParseError:
		// Malformed artifact: a completeness defect, never fatal.
		a.log.Error("aggregate: artifact for %s build %d unparseable: %s",
			pair.Builder.Name, latest.ID, detail.Defect)
		cell.Completeness = model.CompletenessPartial
	default:
		// Absent from the mirror. Expected steady state; the status is
		// still known, so the failure is reported with partial detail.
		cell.Completeness = model.CompletenessPartial
	}

	cell.DetailMismatch = a.detailMismatch(cell, detail, statusHit, detailHit)
	return cell
}

// detailMismatch flags cells whose advisory failure detail disagrees with
// the authoritative build outcome, or whose detail entry comes from a
// newer refresh cycle than a stale status entry. The outcome field is
// never changed because of detail; the renderer decides how loudly to
// flag the skew.
func (a *Aggregator) detailMismatch(cell *model.StatusCell, detail results.Result, statusHit, detailHit cache.Hit) bool {
	if detail.State != results.StateParsed {
		return false
	}
	if cell.Outcome == model.OutcomeFailure && len(detail.Failures) == 0 {
		return true
	}
	if cell.Outcome == model.OutcomeSuccess && len(detail.Failures) > 0 {
		return true
	}
	if statusHit.Stale && detailHit.FetchedAt.After(statusHit.FetchedAt) {
		return true
	}
	return false
}

// loadStatus fetches the recent-build summary through the cache.
func (a *Aggregator) loadStatus(ctx context.Context, pair model.Pair) ([]model.Build, cache.Hit, bool) {
	fp := cache.Fingerprint("builds", pair.Builder.Name, string(pair.Branch))

	hit, ok := a.cache.Get(fp, a.ttls.Status, func() ([]byte, error) {
		builds, err := a.source.LatestBuilds(ctx, pair)
		if err != nil {
			return nil, err
		}
		return json.Marshal(builds)
	})
	if !ok {
		return nil, cache.Hit{}, false
	}

	var builds []model.Build
	if err := json.Unmarshal(hit.Payload, &builds); err != nil {
		// A payload we wrote ourselves failed to decode; treat as absent.
		a.log.Error("aggregate: corrupt status payload for %s: %v", fp, err)
		return nil, cache.Hit{}, false
	}
	return builds, hit, true
}

// loadDetail fetches parsed artifact detail through the cache. The
// fingerprint includes the mirrored file's modification time, so a new
// extraction run rolls the entry without any TTL bookkeeping; the entry
// itself never ages out.
func (a *Aggregator) loadDetail(builderName string, buildID int64) (results.Result, cache.Hit, bool) {
	modTime := a.reader.ModTime(builderName, buildID)
	fp := cache.Fingerprint("artifact", builderName,
		fmt.Sprintf("%d", buildID), fmt.Sprintf("%d", modTime.UnixNano()))

	hit, ok := a.cache.Get(fp, a.ttls.Detail, func() ([]byte, error) {
		return json.Marshal(a.reader.Lookup(builderName, buildID))
	})
	if !ok {
		return results.Result{}, cache.Hit{}, false
	}

	var res results.Result
	if err := json.Unmarshal(hit.Payload, &res); err != nil {
		a.log.Error("aggregate: corrupt detail payload for %s: %v", fp, err)
		return results.Result{}, cache.Hit{}, false
	}
	return res, hit, true
}
