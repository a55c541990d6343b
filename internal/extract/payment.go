package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/farmassist/harvester/internal/catalog"
)

// Payment phrasing families observed on FSA and RMA program pages.
var paymentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\$[\d,]+\.?\d*\s*(?:per|/)\s*acre`),
	regexp.MustCompile(`(?i)\$[\d,]+\.?\d*\s*(?:per|/)\s*head`),
	regexp.MustCompile(`(?i)\$[\d,]+\.?\d*\s*(?:per|/)\s*bushel`),
	regexp.MustCompile(`(?i)(?:up to|maximum of?)\s*\$[\d,]+\.?\d*`),
	regexp.MustCompile(`(?i)[\d,]+\.?\d*%\s*of\s*(?:losses|costs|expenses|value)`),
	regexp.MustCompile(`(?i)payment rates?\s*(?:is|are|of)?\s*\$[\d,]+\.?\d*`),
	regexp.MustCompile(`(?i)\$[\d,]+\.?\d*\s*to\s*\$[\d,]+\.?\d*`),
	regexp.MustCompile(`(?i)between\s*\$[\d,]+\.?\d*\s*and\s*\$[\d,]+\.?\d*`),
}

var dollarAmountPattern = regexp.MustCompile(`\$[\d,]+\.?\d*`)

// Payment units in priority order. The first unit mentioned anywhere in
// the matched phrases wins.
var paymentUnits = []string{"acre", "head", "bushel", "cwt", "ton", "animal"}

// PaymentInfo is the parsed payment portion of a candidate.
type PaymentInfo struct {
	Raw       string
	RangeText string
	Min       *float64
	Max       *float64
	Unit      string
}

// parsePayments scans free text for payment phrasing and derives the numeric
// range and unit. Matches that contain no parseable dollar amount produce an
// unparsable_number warning rather than failing the extraction.
func parsePayments(text string) (PaymentInfo, []catalog.Warning) {
	var matches []string
	for _, pattern := range paymentPatterns {
		matches = append(matches, pattern.FindAllString(text, -1)...)
	}
	if len(matches) == 0 {
		return PaymentInfo{}, nil
	}

	info := PaymentInfo{
		Raw:       strings.Join(matches, " | "),
		RangeText: matches[0],
		Unit:      detectPaymentUnit(matches),
	}

	var warnings []catalog.Warning
	var amounts []float64
	for _, m := range matches {
		for _, raw := range dollarAmountPattern.FindAllString(m, -1) {
			cleaned := strings.NewReplacer("$", "", ",", "").Replace(raw)
			amount, err := strconv.ParseFloat(cleaned, 64)
			if err != nil {
				warnings = append(warnings, catalog.Warning{
					Field:  "payment_min",
					Kind:   catalog.WarnUnparsableNumber,
					Detail: raw,
				})
				continue
			}
			amounts = append(amounts, amount)
		}
	}
	if len(amounts) > 0 {
		minAmount, maxAmount := amounts[0], amounts[0]
		for _, a := range amounts[1:] {
			if a < minAmount {
				minAmount = a
			}
			if a > maxAmount {
				maxAmount = a
			}
		}
		info.Min = &minAmount
		info.Max = &maxAmount
	}
	return info, warnings
}

func detectPaymentUnit(matches []string) string {
	combined := strings.ToLower(strings.Join(matches, " "))
	for _, unit := range paymentUnits {
		if strings.Contains(combined, unit) {
			return "per " + unit
		}
	}
	if strings.Contains(combined, "%") {
		return "percentage"
	}
	return "flat_rate"
}
