// Package gaps derives missing-field reports from the canonical program set.
// The analyzer is a pure function: given the same programs it emits the same
// gap rows, and each run fully replaces the prior set for every program it
// examines.
package gaps

import (
	"github.com/farmassist/harvester/internal/catalog"
)

// High-value fields checked per program, with the importance of their
// absence. Payment terms are what farmers ask about first.
type fieldCheck struct {
	field      string
	importance catalog.GapImportance
	missing    func(catalog.Program) bool
	note       string
}

var fieldChecks = []fieldCheck{
	{
		field:      "payment_info",
		importance: catalog.GapCritical,
		missing:    func(p catalog.Program) bool { return p.PaymentMin == nil && p.PaymentInfoRaw == "" },
		note:       "no payment rate or range found in any source",
	},
	{
		field:      "eligibility",
		importance: catalog.GapImportant,
		missing:    func(p catalog.Program) bool { return len(p.Criteria) == 0 && p.EligibilityRaw == "" },
		note:       "no eligibility statement found in any source",
	},
	{
		field:      "deadline",
		importance: catalog.GapImportant,
		missing:    func(p catalog.Program) bool { return p.ApplicationEnd == nil && p.DeadlineText == "" },
		note:       "no application deadline found in any source",
	},
	{
		field:      "description",
		importance: catalog.GapNiceToHave,
		missing:    func(p catalog.Program) bool { return p.Description == "" },
	},
	{
		field:      "program_code",
		importance: catalog.GapNiceToHave,
		missing:    func(p catalog.Program) bool { return p.ProgramCode == "" },
	},
}

// Analyze emits one DataGap per (program, missing field). Flagged programs
// are skipped: their fields are present but inconsistent, which is a data
// quality problem, not a coverage gap.
func Analyze(programs []catalog.Program) []catalog.DataGap {
	var gaps []catalog.DataGap
	for _, p := range programs {
		if p.Flagged {
			continue
		}
		for _, check := range fieldChecks {
			if check.missing(p) {
				gaps = append(gaps, catalog.DataGap{
					LogicalID:    p.LogicalID,
					ProgramName:  p.ProgramName,
					MissingField: check.field,
					Importance:   check.importance,
					Note:         check.note,
				})
			}
		}
	}
	return gaps
}

// Completeness summarizes field coverage across the program set.
type Completeness struct {
	TotalPrograms  int     `json:"total_programs"`
	WithPayments   int     `json:"programs_with_payments"`
	WithElig       int     `json:"programs_with_eligibility"`
	WithDeadlines  int     `json:"programs_with_deadlines"`
	HighConfidence int     `json:"high_confidence_programs"`
	LowConfidence  int     `json:"low_confidence_programs"`
	AvgConfidence  float64 `json:"avg_confidence"`
	PaymentPct     float64 `json:"payment_percentage"`
	EligPct        float64 `json:"eligibility_percentage"`
	DeadlinePct    float64 `json:"deadline_percentage"`
}

// Confidence thresholds for the summary buckets.
const (
	highConfidenceFloor = 0.7
	lowConfidenceCeil   = 0.4
)

// Summarize computes coverage statistics over the full program set,
// including flagged programs.
func Summarize(programs []catalog.Program) Completeness {
	c := Completeness{TotalPrograms: len(programs)}
	if len(programs) == 0 {
		return c
	}

	var confidenceSum float64
	for _, p := range programs {
		if p.PaymentMin != nil || p.PaymentInfoRaw != "" {
			c.WithPayments++
		}
		if len(p.Criteria) > 0 || p.EligibilityRaw != "" {
			c.WithElig++
		}
		if p.ApplicationEnd != nil || p.DeadlineText != "" {
			c.WithDeadlines++
		}
		if p.Confidence >= highConfidenceFloor {
			c.HighConfidence++
		}
		if p.Confidence < lowConfidenceCeil {
			c.LowConfidence++
		}
		confidenceSum += p.Confidence
	}

	total := float64(len(programs))
	c.AvgConfidence = confidenceSum / total
	c.PaymentPct = float64(c.WithPayments) / total * 100
	c.EligPct = float64(c.WithElig) / total * 100
	c.DeadlinePct = float64(c.WithDeadlines) / total * 100
	return c
}
