package extract

import "github.com/farmassist/harvester/internal/catalog"

// Field weights for confidence scoring. Payment carries the most weight,
// dates the least; the denominator is the weight total so a fully parsed
// candidate scores exactly 1.
const (
	weightName        = 0.2
	weightDescription = 0.2
	weightPayment     = 0.3
	weightEligibility = 0.2
	weightDates       = 0.1

	minDescriptionLen = 50
)

// scoreConfidence measures how much of the expected field set was parsed.
// It is a property of the extraction, not a claim about the source being
// correct.
func scoreConfidence(c catalog.ProgramCandidate) float64 {
	var score, total float64

	total += weightName
	if c.ProgramName != "" {
		score += weightName
	}

	total += weightDescription
	if len(c.Description) > minDescriptionLen {
		score += weightDescription
	}

	total += weightPayment
	if c.PaymentMin != nil || c.PaymentInfoRaw != "" {
		score += weightPayment
	}

	total += weightEligibility
	if c.EligibilityRaw != "" {
		score += weightEligibility
	}

	total += weightDates
	if c.ApplicationEnd != nil || c.DeadlineText != "" {
		score += weightDates
	}

	result := score / total
	if result < 0 {
		return 0
	}
	if result > 1 {
		return 1
	}
	return result
}
