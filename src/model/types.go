// Package model defines the shared data model for the release dashboard:
// builders, branches, builds, test failures, and the status matrix the
// aggregator produces for rendering.
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Outcome is the recorded result of a build.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeUnknown Outcome = "unknown"
)

// Completeness describes how much of a cell's underlying data was retrievable.
type Completeness string

const (
	// CompletenessComplete means both build status and failure detail were available.
	CompletenessComplete Completeness = "complete"
	// CompletenessPartial means the build status is known but failure detail
	// could not be retrieved (missing or malformed artifact).
	CompletenessPartial Completeness = "partial"
	// CompletenessAbsent means no build status could be retrieved at all.
	CompletenessAbsent Completeness = "absent"
)

// Builder identifies a CI worker configuration. Reference data, read-only
// for the duration of a run.
type Builder struct {
	Name     string `yaml:"name" json:"name"`
	Platform string `yaml:"platform" json:"platform"`
	// Tier is the builder's stability tier ("tier-1" .. "tier-3").
	// Empty means untiered; untiered builders sort last in rollups.
	Tier string `yaml:"tier,omitempty" json:"tier,omitempty"`
}

// Branch identifies a tracked release line, e.g. "3.12".
type Branch string

// MinorVersion returns the numeric minor component of the branch name,
// or 99 when it cannot be parsed. Used to order branches newest-first;
// the 99 sentinel puts unparseable branches ahead of every numbered one.
func (b Branch) MinorVersion() int {
	parts := strings.Split(string(b), ".")
	minor, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return 99
	}
	return minor
}

// Build is one executed run of a Builder against a Branch.
type Build struct {
	ID          int64     `json:"id"`
	BuilderName string    `json:"builder"`
	Branch      Branch    `json:"branch"`
	StartedAt   time.Time `json:"started_at"`
	Complete    bool      `json:"complete"`
	Outcome     Outcome   `json:"outcome"`
	// HasArtifact reports whether the build recorded a JUnit artifact
	// location. The artifact may still be absent from the local mirror.
	HasArtifact bool `json:"has_artifact"`
}

// TestFailure is a single failing or erroring test case extracted from a
// build's JUnit artifact.
type TestFailure struct {
	SuiteName string `json:"suite"`
	CaseName  string `json:"case"`
	// Kind is "failure" or "error", matching the JUnit node kind.
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Trace   string `json:"trace,omitempty"`
	BuildID int64  `json:"build_id"`
}

// DisplayName returns the suite-qualified case name.
func (f TestFailure) DisplayName() string {
	if f.SuiteName == "" {
		return f.CaseName
	}
	return fmt.Sprintf("%s::%s", f.SuiteName, f.CaseName)
}

// Pair is one tracked (branch, builder) position. The tracked set is
// reference data: loaded from configuration, read-only during a render.
type Pair struct {
	Branch  Branch
	Builder Builder
}

// StatusCell is the aggregator's per-(branch, builder) output unit.
// Cells are recomputed on every render and never persisted.
type StatusCell struct {
	Branch  Branch  `json:"branch"`
	Builder Builder `json:"builder"`

	Outcome Outcome `json:"outcome"`
	// Build is the most recent completed build, nil when no status could
	// be retrieved.
	Build *Build `json:"build,omitempty"`
	// Breaking is the first build of the current consecutive-failure
	// streak, nil when the builder is not in a failing streak.
	Breaking     *Build        `json:"breaking,omitempty"`
	Failures     []TestFailure `json:"failures"`
	Completeness Completeness  `json:"completeness"`

	// Stale marks a cell whose status came from an expired cache entry
	// after a fresh fetch failed.
	Stale bool `json:"stale,omitempty"`
	// DetailMismatch flags disagreement between the build's recorded
	// outcome and the parsed failure detail, or detail fetched from a
	// different refresh cycle than the status. The outcome field stays
	// authoritative; detail is advisory.
	DetailMismatch bool `json:"detail_mismatch,omitempty"`

	StatusFetchedAt time.Time `json:"status_fetched_at,omitempty"`
	DetailFetchedAt time.Time `json:"detail_fetched_at,omitempty"`
}

// FailureCount returns the number of failure records on the cell.
func (c StatusCell) FailureCount() int { return len(c.Failures) }
