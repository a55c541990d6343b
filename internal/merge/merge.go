// Package merge folds program candidates into canonical programs. It is the
// sole writer of the canonical store; everything downstream reads what it
// produces.
package merge

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/farmassist/harvester/internal/catalog"
)

// Merger combines candidates sharing a logical identity into one Program
// per identity. Merging the same candidate set twice yields the same output.
type Merger struct {
	clock  catalog.Clock
	logger *zap.Logger
}

// New constructs a Merger.
func New(clock catalog.Clock, logger *zap.Logger) *Merger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Merger{clock: clock, logger: logger}
}

// Merge groups candidates by logical identity and produces the canonical
// program set, sorted by logical ID. Candidates with neither a code nor a
// usable name are skipped.
func (m *Merger) Merge(candidates []catalog.ProgramCandidate) []catalog.Program {
	groups := make(map[string][]catalog.ProgramCandidate)
	for _, c := range candidates {
		id := LogicalID(c.ProgramCode, c.ProgramName)
		if id == "" {
			m.logger.Warn("candidate has no usable identity", zap.String("url", c.SourceURL))
			continue
		}
		groups[id] = append(groups[id], c)
	}

	programs := make([]catalog.Program, 0, len(groups))
	for id, group := range groups {
		programs = append(programs, m.mergeGroup(id, group))
	}
	sort.Slice(programs, func(i, j int) bool { return programs[i].LogicalID < programs[j].LogicalID })
	return programs
}

// mergeGroup folds one identity's candidates into a canonical record. Per
// field the highest-confidence candidate that has the field wins, ties going
// to the most recent extraction.
func (m *Merger) mergeGroup(logicalID string, group []catalog.ProgramCandidate) catalog.Program {
	ordered := make([]catalog.ProgramCandidate, len(group))
	copy(ordered, group)
	// Strongest candidate first; deterministic regardless of input order.
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Confidence != ordered[j].Confidence {
			return ordered[i].Confidence > ordered[j].Confidence
		}
		if !ordered[i].ExtractedAt.Equal(ordered[j].ExtractedAt) {
			return ordered[i].ExtractedAt.After(ordered[j].ExtractedAt)
		}
		return ordered[i].SourceURL < ordered[j].SourceURL
	})

	p := catalog.Program{
		LogicalID:    logicalID,
		FieldSources: make(map[string]catalog.FieldProvenance),
		UpdatedAt:    m.clock.Now(),
	}

	for _, c := range ordered {
		if c.Confidence > p.Confidence {
			p.Confidence = c.Confidence
		}
		takeString(&p, "program_name", &p.ProgramName, c.ProgramName, c)
		takeString(&p, "program_code", &p.ProgramCode, c.ProgramCode, c)
		takeString(&p, "source_url", &p.SourceURL, c.SourceURL, c)
		takeString(&p, "description", &p.Description, c.Description, c)
		takeString(&p, "eligibility_raw", &p.EligibilityRaw, c.EligibilityRaw, c)
		takeString(&p, "payment_info_raw", &p.PaymentInfoRaw, c.PaymentInfoRaw, c)
		takeString(&p, "payment_formula", &p.PaymentFormula, c.PaymentFormula, c)
		takeString(&p, "payment_unit", &p.PaymentUnit, c.PaymentUnit, c)
		takeString(&p, "payment_range_text", &p.PaymentRangeText, c.PaymentRangeText, c)
		takeString(&p, "deadline_text", &p.DeadlineText, c.DeadlineText, c)
		takeFloat(&p, "payment_min", &p.PaymentMin, c.PaymentMin, c)
		takeFloat(&p, "payment_max", &p.PaymentMax, c.PaymentMax, c)
		takeTime(&p, "application_start", &p.ApplicationStart, c.ApplicationStart, c)
		takeTime(&p, "application_end", &p.ApplicationEnd, c.ApplicationEnd, c)
	}

	p.Criteria = mergeCriteria(ordered)
	p.Flagged = violatesInvariants(p)
	return p
}

// mergeCriteria applies the three-valued vote: true if anyone says true,
// false only if someone says false and nobody says true, unknown otherwise.
func mergeCriteria(group []catalog.ProgramCandidate) catalog.CriteriaSet {
	merged := make(catalog.CriteriaSet)
	for _, c := range group {
		for flag, v := range c.Criteria {
			switch v {
			case catalog.True:
				merged[flag] = catalog.True
			case catalog.False:
				if merged[flag] != catalog.True {
					merged[flag] = catalog.False
				}
			}
		}
	}
	if len(merged) == 0 {
		return nil
	}
	return merged
}

func violatesInvariants(p catalog.Program) bool {
	if p.PaymentMin != nil && p.PaymentMax != nil && *p.PaymentMin > *p.PaymentMax {
		return true
	}
	if p.ApplicationStart != nil && p.ApplicationEnd != nil && p.ApplicationStart.After(*p.ApplicationEnd) {
		return true
	}
	return false
}

// Candidates iterate strongest-first, so the first candidate to carry a
// field wins it and records its provenance.

func takeString(p *catalog.Program, field string, dst *string, val string, c catalog.ProgramCandidate) {
	if *dst != "" || val == "" {
		return
	}
	*dst = val
	recordSource(p, field, c)
}

func takeFloat(p *catalog.Program, field string, dst **float64, val *float64, c catalog.ProgramCandidate) {
	if *dst != nil || val == nil {
		return
	}
	v := *val
	*dst = &v
	recordSource(p, field, c)
}

func takeTime(p *catalog.Program, field string, dst **time.Time, val *time.Time, c catalog.ProgramCandidate) {
	if *dst != nil || val == nil {
		return
	}
	v := *val
	*dst = &v
	recordSource(p, field, c)
}

func recordSource(p *catalog.Program, field string, c catalog.ProgramCandidate) {
	p.FieldSources[field] = catalog.FieldProvenance{
		SourceURL:   c.SourceURL,
		Confidence:  c.Confidence,
		ExtractedAt: c.ExtractedAt,
	}
}
