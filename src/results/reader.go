// Package results reads locally-mirrored JUnit XML artifacts. The mirror
// is populated by an external, privileged transfer process; a missing
// file is the normal steady state, not an error.
package results

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"releasedash/src/model"
)

// State is the closed set of lookup outcomes. Downstream code must switch
// on it rather than treating an empty failure list as "no failures":
// Unavailable and ParseError carry no data value at all.
type State string

const (
	// StateUnavailable means no artifact exists in the mirror for the build.
	StateUnavailable State = "unavailable"
	// StateParseError means the artifact exists but is not readable JUnit XML.
	StateParseError State = "parse_error"
	// StateParsed means the artifact was read; Failures holds zero or more records.
	StateParsed State = "parsed"
)

// Result is the outcome of one artifact lookup.
type Result struct {
	State    State               `json:"state"`
	Failures []model.TestFailure `json:"failures,omitempty"`
	// Defect carries the parse error message when State == StateParseError.
	Defect string `json:"defect,omitempty"`
	// ModTime is the artifact file's modification time when one exists.
	// Zero for StateUnavailable.
	ModTime time.Time `json:"mod_time,omitempty"`
}

// Reader looks up mirrored artifacts under a root directory.
type Reader struct {
	root string
}

// NewReader creates a reader rooted at the mirror directory.
func NewReader(root string) *Reader {
	return &Reader{root: root}
}

// ArtifactPath returns the deterministic mirror path for a build:
// <root>/<builder>/build-<id>.xml. The builder name is sanitized the same
// way the transfer process sanitizes it, so both sides agree on layout.
func (r *Reader) ArtifactPath(builderName string, buildID int64) string {
	return filepath.Join(r.root, sanitizeName(builderName), fmt.Sprintf("build-%d.xml", buildID))
}

// Lookup reads and parses the artifact for a build. It never returns an
// error: absence and malformedness are data states, not failures.
func (r *Reader) Lookup(builderName string, buildID int64) Result {
	path := r.ArtifactPath(builderName, buildID)

	info, err := os.Stat(path)
	if err != nil {
		return Result{State: StateUnavailable}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Result{State: StateParseError, Defect: err.Error(), ModTime: info.ModTime()}
	}

	failures, err := parseJUnit(data, buildID)
	if err != nil {
		return Result{State: StateParseError, Defect: err.Error(), ModTime: info.ModTime()}
	}

	return Result{State: StateParsed, Failures: failures, ModTime: info.ModTime()}
}

// ModTime returns the artifact file's modification time, or zero when the
// file does not exist. The cache layer keys artifact fingerprints on this,
// so a re-extraction rolls the cache entry without any TTL bookkeeping.
func (r *Reader) ModTime(builderName string, buildID int64) time.Time {
	info, err := os.Stat(r.ArtifactPath(builderName, buildID))
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// sanitizeName makes a builder name safe as a directory component.
func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}
