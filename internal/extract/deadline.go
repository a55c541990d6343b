package extract

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/farmassist/harvester/internal/catalog"
)

// Deadline phrasing families. Each pattern captures the date-bearing clause.
var deadlinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:deadline|due date|apply by|submit by)[:\s]+([A-Z][a-z]+ \d{1,2},?\s*\d{4})`),
	regexp.MustCompile(`(?i)(?:applications? (?:open|close)s?)[:\s]+([A-Z][a-z]+ \d{1,2},?\s*\d{4})`),
	regexp.MustCompile(`(?i)(?:enrollment period)[:\s]+([A-Z][a-z]+ \d{1,2}.*?through.*?\d{4})`),
	regexp.MustCompile(`(?i)(?:sign.?up|signup) (?:begins|starts|ends)[:\s]+([A-Z][a-z]+ \d{1,2},?\s*\d{4})`),
}

// DeadlineInfo is the parsed application-window portion of a candidate.
type DeadlineInfo struct {
	Text  string
	Start *time.Time
	End   *time.Time
}

// parseDeadlines scans free text for application window phrasing. With two or
// more parseable dates the earliest becomes the window start and the latest
// the end; a single date is treated as the end only, since deadline clauses
// overwhelmingly state when applications close.
func parseDeadlines(text string) (DeadlineInfo, []catalog.Warning) {
	var clauses []string
	for _, pattern := range deadlinePatterns {
		for _, m := range pattern.FindAllStringSubmatch(text, -1) {
			clauses = append(clauses, m[1])
		}
	}
	if len(clauses) == 0 {
		return DeadlineInfo{}, nil
	}

	info := DeadlineInfo{Text: strings.Join(clauses, " | ")}

	var warnings []catalog.Warning
	var dates []time.Time
	for _, clause := range clauses {
		parsed, err := dateparse.ParseAny(clause)
		if err != nil {
			warnings = append(warnings, catalog.Warning{
				Field:  "application_end",
				Kind:   catalog.WarnUnparsableDate,
				Detail: clause,
			})
			continue
		}
		dates = append(dates, parsed)
	}
	if len(dates) == 0 {
		return info, warnings
	}

	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	end := dates[len(dates)-1]
	info.End = &end
	if len(dates) > 1 {
		start := dates[0]
		info.Start = &start
	}
	return info, warnings
}
