package buildbot

import "strings"

// Builders carry their branch and tier as free-form tags, e.g.
// ["stable", "3.12", "tier-1", "unix"]. These helpers pull the dashboard's
// classification out of the tag list.

// BranchTag returns the release-line tag ("3.12" style) on the builder,
// or "no-branch" when none is present.
func (b Builder) BranchTag() string {
	for _, tag := range b.Tags {
		if strings.Contains(tag, "3.") {
			return tag
		}
	}
	return "no-branch"
}

// TierTag returns the builder's tier tag, or "" when untiered.
func (b Builder) TierTag() string {
	for _, tag := range b.Tags {
		if strings.HasPrefix(tag, "tier-") {
			return tag
		}
	}
	return ""
}

// IsTracked reports whether the builder belongs on the dashboard: stable
// builders only, pull-request builders excluded.
func (b Builder) IsTracked() bool {
	stable := false
	for _, tag := range b.Tags {
		if tag == "stable" {
			stable = true
		}
		if tag == "PullRequest" {
			return false
		}
	}
	return stable
}
