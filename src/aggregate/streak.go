package aggregate

import "releasedash/src/model"

// BreakingBuild scans builds (newest first) for the current failure
// streak. It reports whether the builder is failing and, when the streak
// reached minStreak before the last success, the earliest build of that
// streak. A single failure followed by a success is flaky, not broken.
//
// Incomplete builds are skipped; an unknown outcome resets the streak.
func BreakingBuild(builds []model.Build, minStreak int) (failing bool, breaking *model.Build) {
	streak := 0
	var firstFailing *model.Build

	for i := range builds {
		build := builds[i]
		if !build.Complete {
			continue
		}
		switch build.Outcome {
		case model.OutcomeFailure:
			streak++
			firstFailing = &builds[i]
		case model.OutcomeSuccess:
			if streak >= minStreak {
				return true, firstFailing
			}
			return false, nil
		default:
			streak = 0
			firstFailing = nil
		}
	}

	// Never saw a success: failing if any failure was seen, but with no
	// success boundary there is no identified breaking build.
	return firstFailing != nil, nil
}
