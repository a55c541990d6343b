// Package match ranks canonical programs against a farmer's selected
// criteria. The filter favors recall; the score answers "how much of what I
// asked for does this program cover".
package match

import (
	"fmt"
	"sort"

	"github.com/farmassist/harvester/internal/catalog"
)

// Result pairs a program with its score and the overlapping flags that
// produced it, so callers can render why the program matched.
type Result struct {
	Program      catalog.Program       `json:"program"`
	Score        float64               `json:"match_score"`
	MatchedFlags []catalog.CriteriaFlag `json:"matched_flags"`
}

// ValidateProfile rejects flags outside the enumerated vocabulary.
func ValidateProfile(selected []catalog.CriteriaFlag) error {
	for _, flag := range selected {
		if !catalog.ValidFlag(flag) {
			return fmt.Errorf("unknown criteria flag %q", flag)
		}
	}
	return nil
}

// Match scores every program whose known-true flags intersect the selection
// and returns them best-first. An empty selection returns no results; there
// is no implicit match-everything.
func Match(programs []catalog.Program, selected []catalog.CriteriaFlag) []Result {
	selection := dedupe(selected)
	if len(selection) == 0 {
		return nil
	}

	var results []Result
	for _, p := range programs {
		matched := intersect(p.Criteria, selection)
		if len(matched) == 0 {
			continue
		}
		results = append(results, Result{
			Program:      p,
			Score:        float64(len(matched)) / float64(len(selection)) * 100,
			MatchedFlags: matched,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Program.Confidence != results[j].Program.Confidence {
			return results[i].Program.Confidence > results[j].Program.Confidence
		}
		return results[i].Program.ProgramName < results[j].Program.ProgramName
	})
	return results
}

// intersect returns the selected flags the program explicitly satisfies,
// sorted for deterministic output. Unknown and False both count as not
// satisfied.
func intersect(criteria catalog.CriteriaSet, selection []catalog.CriteriaFlag) []catalog.CriteriaFlag {
	var matched []catalog.CriteriaFlag
	for _, flag := range selection {
		if criteria.Get(flag) == catalog.True {
			matched = append(matched, flag)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i] < matched[j] })
	return matched
}

func dedupe(flags []catalog.CriteriaFlag) []catalog.CriteriaFlag {
	seen := make(map[catalog.CriteriaFlag]bool, len(flags))
	var out []catalog.CriteriaFlag
	for _, flag := range flags {
		if !seen[flag] {
			seen[flag] = true
			out = append(out, flag)
		}
	}
	return out
}
