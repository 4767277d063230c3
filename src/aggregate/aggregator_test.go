package aggregate

import (
	"context"
	"errors"
	"testing"
	"time"

	"releasedash/src/cache"
	"releasedash/src/model"
	"releasedash/src/results"
)

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time          { return f.now }
func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

// fakeSource serves canned builds per pair and counts fetches.
type fakeSource struct {
	builds map[string][]model.Build
	errs   map[string]error
	calls  int
}

func pairKey(p model.Pair) string {
	return p.Builder.Name + "|" + string(p.Branch)
}

func (f *fakeSource) LatestBuilds(ctx context.Context, pair model.Pair) ([]model.Build, error) {
	f.calls++
	if err := f.errs[pairKey(pair)]; err != nil {
		return nil, err
	}
	return f.builds[pairKey(pair)], nil
}

// fakeReader serves canned artifact results per build id.
type fakeReader struct {
	results  map[int64]results.Result
	modTimes map[int64]time.Time
}

func (f *fakeReader) Lookup(builderName string, buildID int64) results.Result {
	res, ok := f.results[buildID]
	if !ok {
		return results.Result{State: results.StateUnavailable}
	}
	return res
}

func (f *fakeReader) ModTime(builderName string, buildID int64) time.Time {
	return f.modTimes[buildID]
}

var (
	linuxBuilder = model.Builder{Name: "linux-x86_64", Platform: "linux", Tier: "tier-1"}
	trackedPair  = model.Pair{Branch: "3.12", Builder: linuxBuilder}
)

func failedBuild(id int64, hasArtifact bool) model.Build {
	return model.Build{
		ID:          id,
		BuilderName: linuxBuilder.Name,
		Branch:      "3.12",
		Complete:    true,
		Outcome:     model.OutcomeFailure,
		HasArtifact: hasArtifact,
	}
}

func successBuild(id int64) model.Build {
	return model.Build{
		ID:          id,
		BuilderName: linuxBuilder.Name,
		Branch:      "3.12",
		Complete:    true,
		Outcome:     model.OutcomeSuccess,
	}
}

func newAggregator(source StatusSource, reader ArtifactReader, clock *fakeClock) *Aggregator {
	c := cache.New(nil, clock.Now, nil)
	return New(c, source, reader, TTLs{Status: 6 * time.Minute}, 2, clock.Now, nil)
}

func TestSnapshot_EmptyTrackedSetIsFatal(t *testing.T) {
	agg := newAggregator(&fakeSource{}, &fakeReader{}, newFakeClock())

	if _, err := agg.Snapshot(context.Background(), nil); !errors.Is(err, ErrNoReferenceData) {
		t.Fatalf("expected ErrNoReferenceData, got %v", err)
	}
}

func TestSnapshot_EveryPairGetsExactlyOneCell(t *testing.T) {
	// Three pairs, all with failing sources: no pair may be omitted.
	pairs := []model.Pair{
		{Branch: "3.12", Builder: model.Builder{Name: "a", Tier: "tier-1"}},
		{Branch: "3.12", Builder: model.Builder{Name: "b", Tier: "tier-2"}},
		{Branch: "3.11", Builder: model.Builder{Name: "a", Tier: "tier-1"}},
	}
	source := &fakeSource{errs: map[string]error{
		"a|3.12": errors.New("timeout"),
		"b|3.12": errors.New("timeout"),
		"a|3.11": errors.New("timeout"),
	}}
	agg := newAggregator(source, &fakeReader{}, newFakeClock())

	matrix, err := agg.Snapshot(context.Background(), pairs)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	for _, p := range pairs {
		cell := matrix.Cell(p.Branch, p.Builder.Name)
		if cell == nil {
			t.Fatalf("pair (%s, %s) has no cell", p.Branch, p.Builder.Name)
		}
		if cell.Outcome != model.OutcomeUnknown {
			t.Errorf("(%s, %s) outcome = %q, want unknown", p.Branch, p.Builder.Name, cell.Outcome)
		}
		if cell.Completeness != model.CompletenessAbsent {
			t.Errorf("(%s, %s) completeness = %q, want absent", p.Branch, p.Builder.Name, cell.Completeness)
		}
		if cell.Failures == nil {
			t.Errorf("(%s, %s) failures must be empty, not nil", p.Branch, p.Builder.Name)
		}
	}
}

func TestSnapshot_FailureWithMissingArtifactIsPartial(t *testing.T) {
	// Remote says failure with an artifact recorded; the mirror has
	// nothing. Status stays failure, detail is partial, failures empty.
	source := &fakeSource{builds: map[string][]model.Build{
		pairKey(trackedPair): {failedBuild(4821, true)},
	}}
	agg := newAggregator(source, &fakeReader{}, newFakeClock())

	matrix, err := agg.Snapshot(context.Background(), []model.Pair{trackedPair})
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	cell := matrix.Cell("3.12", "linux-x86_64")
	if cell.Outcome != model.OutcomeFailure {
		t.Errorf("outcome = %q, want failure", cell.Outcome)
	}
	if cell.Completeness != model.CompletenessPartial {
		t.Errorf("completeness = %q, want partial", cell.Completeness)
	}
	if len(cell.Failures) != 0 {
		t.Errorf("failures = %d records, want 0", len(cell.Failures))
	}
	if cell.Build == nil || cell.Build.ID != 4821 {
		t.Errorf("cell must reference build 4821, got %+v", cell.Build)
	}
}

func TestSnapshot_FailureWithParsedArtifactIsComplete(t *testing.T) {
	source := &fakeSource{builds: map[string][]model.Build{
		pairKey(trackedPair): {failedBuild(4821, true)},
	}}
	reader := &fakeReader{
		results: map[int64]results.Result{
			4821: {State: results.StateParsed, Failures: []model.TestFailure{
				{SuiteName: "test_ssl", CaseName: "test_handshake", Kind: "failure", BuildID: 4821},
				{SuiteName: "test_ssl", CaseName: "test_cert", Kind: "error", BuildID: 4821},
			}},
		},
		modTimes: map[int64]time.Time{4821: time.Date(2024, 6, 1, 11, 0, 0, 0, time.UTC)},
	}
	agg := newAggregator(source, reader, newFakeClock())

	matrix, err := agg.Snapshot(context.Background(), []model.Pair{trackedPair})
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	cell := matrix.Cell("3.12", "linux-x86_64")
	if cell.Outcome != model.OutcomeFailure {
		t.Errorf("outcome = %q, want failure", cell.Outcome)
	}
	if cell.Completeness != model.CompletenessComplete {
		t.Errorf("completeness = %q, want complete", cell.Completeness)
	}
	if len(cell.Failures) != 2 {
		t.Errorf("failures = %d records, want 2", len(cell.Failures))
	}
	if cell.DetailMismatch {
		t.Errorf("failure outcome with parsed failures must not be flagged")
	}
}

func TestSnapshot_OutcomePrecedenceOverEmptyDetail(t *testing.T) {
	// Artifact parses to zero failures for a failed build (stale or
	// mismatched extraction): outcome stays failure, mismatch flagged.
	source := &fakeSource{builds: map[string][]model.Build{
		pairKey(trackedPair): {failedBuild(4821, true)},
	}}
	reader := &fakeReader{
		results:  map[int64]results.Result{4821: {State: results.StateParsed}},
		modTimes: map[int64]time.Time{4821: time.Date(2024, 6, 1, 11, 0, 0, 0, time.UTC)},
	}
	agg := newAggregator(source, reader, newFakeClock())

	matrix, _ := agg.Snapshot(context.Background(), []model.Pair{trackedPair})
	cell := matrix.Cell("3.12", "linux-x86_64")

	if cell.Outcome != model.OutcomeFailure {
		t.Errorf("outcome = %q, want failure (never downgraded by detail)", cell.Outcome)
	}
	if !cell.DetailMismatch {
		t.Errorf("failure outcome with zero parsed failures must be flagged")
	}
}

func TestSnapshot_ParseErrorIsPartialNotFatal(t *testing.T) {
	source := &fakeSource{builds: map[string][]model.Build{
		pairKey(trackedPair): {failedBuild(4821, true)},
	}}
	reader := &fakeReader{
		results:  map[int64]results.Result{4821: {State: results.StateParseError, Defect: "bad xml"}},
		modTimes: map[int64]time.Time{4821: time.Date(2024, 6, 1, 11, 0, 0, 0, time.UTC)},
	}
	agg := newAggregator(source, reader, newFakeClock())

	matrix, err := agg.Snapshot(context.Background(), []model.Pair{trackedPair})
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	cell := matrix.Cell("3.12", "linux-x86_64")
	if cell.Completeness != model.CompletenessPartial {
		t.Errorf("completeness = %q, want partial", cell.Completeness)
	}
	if cell.Outcome != model.OutcomeFailure {
		t.Errorf("outcome = %q, want failure", cell.Outcome)
	}
}

func TestSnapshot_CachedStatusSkipsSource(t *testing.T) {
	// Second render within the status TTL: the source is not consulted
	// again and the cell is identical.
	source := &fakeSource{builds: map[string][]model.Build{
		pairKey(trackedPair): {successBuild(100)},
	}}
	clock := newFakeClock()
	agg := newAggregator(source, &fakeReader{}, clock)

	if _, err := agg.Snapshot(context.Background(), []model.Pair{trackedPair}); err != nil {
		t.Fatalf("first Snapshot failed: %v", err)
	}
	callsAfterFirst := source.calls

	clock.Advance(3 * time.Minute)
	matrix, err := agg.Snapshot(context.Background(), []model.Pair{trackedPair})
	if err != nil {
		t.Fatalf("second Snapshot failed: %v", err)
	}

	if source.calls != callsAfterFirst {
		t.Errorf("source consulted %d more times within TTL", source.calls-callsAfterFirst)
	}
	cell := matrix.Cell("3.12", "linux-x86_64")
	if cell.Outcome != model.OutcomeSuccess || cell.Stale {
		t.Errorf("cached cell = outcome %q stale %v, want fresh success", cell.Outcome, cell.Stale)
	}
}

func TestSnapshot_StaleStatusAfterSourceFailure(t *testing.T) {
	// TTL expires, source starts failing: the cell keeps the old status
	// and is marked stale.
	source := &fakeSource{builds: map[string][]model.Build{
		pairKey(trackedPair): {successBuild(100)},
	}}
	clock := newFakeClock()
	agg := newAggregator(source, &fakeReader{}, clock)

	if _, err := agg.Snapshot(context.Background(), []model.Pair{trackedPair}); err != nil {
		t.Fatalf("first Snapshot failed: %v", err)
	}

	source.errs = map[string]error{pairKey(trackedPair): errors.New("network timeout")}
	clock.Advance(20 * time.Minute)

	matrix, err := agg.Snapshot(context.Background(), []model.Pair{trackedPair})
	if err != nil {
		t.Fatalf("second Snapshot failed: %v", err)
	}

	cell := matrix.Cell("3.12", "linux-x86_64")
	if cell.Outcome != model.OutcomeSuccess {
		t.Errorf("outcome = %q, want stale success", cell.Outcome)
	}
	if !cell.Stale {
		t.Errorf("cell served from expired entry must be marked stale")
	}
}

func TestSnapshot_BreakingBuildOnStreak(t *testing.T) {
	source := &fakeSource{builds: map[string][]model.Build{
		pairKey(trackedPair): {
			failedBuild(103, false),
			failedBuild(102, false),
			failedBuild(101, false),
			successBuild(100),
		},
	}}
	agg := newAggregator(source, &fakeReader{}, newFakeClock())

	matrix, _ := agg.Snapshot(context.Background(), []model.Pair{trackedPair})
	cell := matrix.Cell("3.12", "linux-x86_64")

	if cell.Breaking == nil {
		t.Fatal("three consecutive failures must identify a breaking build")
	}
	if cell.Breaking.ID != 101 {
		t.Errorf("breaking build = %d, want 101 (first of the streak)", cell.Breaking.ID)
	}
}

func TestSnapshot_FreshStatusWithNewerDetailNotFlagged(t *testing.T) {
	// Detail is re-extracted between two renders while the status entry is
	// still fresh. The detail entry is newer than the status entry, but
	// both halves describe the same refresh cycle: no skew to flag.
	source := &fakeSource{builds: map[string][]model.Build{
		pairKey(trackedPair): {failedBuild(4821, true)},
	}}
	reader := &fakeReader{
		results: map[int64]results.Result{
			4821: {State: results.StateParsed, Failures: []model.TestFailure{
				{SuiteName: "test_os", CaseName: "test_stat", Kind: "failure", BuildID: 4821},
			}},
		},
		modTimes: map[int64]time.Time{4821: time.Date(2024, 6, 1, 11, 0, 0, 0, time.UTC)},
	}
	clock := newFakeClock()
	agg := newAggregator(source, reader, clock)

	if _, err := agg.Snapshot(context.Background(), []model.Pair{trackedPair}); err != nil {
		t.Fatalf("first Snapshot failed: %v", err)
	}

	clock.Advance(3 * time.Minute)
	reader.modTimes[4821] = time.Date(2024, 6, 1, 12, 2, 0, 0, time.UTC)

	matrix, err := agg.Snapshot(context.Background(), []model.Pair{trackedPair})
	if err != nil {
		t.Fatalf("second Snapshot failed: %v", err)
	}

	cell := matrix.Cell("3.12", "linux-x86_64")
	if cell.Stale {
		t.Fatalf("status within TTL must not be stale")
	}
	if !cell.DetailFetchedAt.After(cell.StatusFetchedAt) {
		t.Fatalf("detail entry should be newer than the status entry")
	}
	if cell.DetailMismatch {
		t.Errorf("newer detail against a fresh status must not be flagged")
	}
}

func TestSnapshot_StaleStatusWithNewerDetailFlagged(t *testing.T) {
	// Detail is re-extracted while the status entry is being served stale
	// after a source outage: the two halves come from different refresh
	// cycles, so the skew is flagged.
	source := &fakeSource{builds: map[string][]model.Build{
		pairKey(trackedPair): {failedBuild(4821, true)},
	}}
	reader := &fakeReader{
		results: map[int64]results.Result{
			4821: {State: results.StateParsed, Failures: []model.TestFailure{
				{SuiteName: "test_os", CaseName: "test_stat", Kind: "failure", BuildID: 4821},
			}},
		},
		modTimes: map[int64]time.Time{4821: time.Date(2024, 6, 1, 11, 0, 0, 0, time.UTC)},
	}
	clock := newFakeClock()
	agg := newAggregator(source, reader, clock)

	if _, err := agg.Snapshot(context.Background(), []model.Pair{trackedPair}); err != nil {
		t.Fatalf("first Snapshot failed: %v", err)
	}

	source.errs = map[string]error{pairKey(trackedPair): errors.New("network timeout")}
	clock.Advance(20 * time.Minute)
	reader.modTimes[4821] = time.Date(2024, 6, 1, 12, 15, 0, 0, time.UTC)

	matrix, err := agg.Snapshot(context.Background(), []model.Pair{trackedPair})
	if err != nil {
		t.Fatalf("second Snapshot failed: %v", err)
	}

	cell := matrix.Cell("3.12", "linux-x86_64")
	if !cell.Stale {
		t.Fatalf("expired status after source failure must be stale")
	}
	if !cell.DetailMismatch {
		t.Errorf("newer detail against a stale status must be flagged")
	}
}

func TestSnapshot_SuccessWithResidualFailuresFlagged(t *testing.T) {
	// Outcome success but a (stale or mismatched) artifact parses to
	// failures: outcome stays success, mismatch flagged for the renderer.
	build := successBuild(200)
	build.HasArtifact = true
	source := &fakeSource{builds: map[string][]model.Build{
		pairKey(trackedPair): {build},
	}}
	reader := &fakeReader{
		results: map[int64]results.Result{
			200: {State: results.StateParsed, Failures: []model.TestFailure{
				{SuiteName: "s", CaseName: "c", Kind: "failure", BuildID: 150},
			}},
		},
	}
	agg := newAggregator(source, reader, newFakeClock())

	matrix, _ := agg.Snapshot(context.Background(), []model.Pair{trackedPair})
	cell := matrix.Cell("3.12", "linux-x86_64")

	if cell.Outcome != model.OutcomeSuccess {
		t.Errorf("outcome = %q, want success (detail is advisory)", cell.Outcome)
	}
	if !cell.DetailMismatch {
		t.Errorf("success outcome with parsed failures must be flagged")
	}
}
