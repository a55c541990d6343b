// Package extract turns raw page and document text into program candidates.
// All extractors are pattern and keyword rules over text; none of them depend
// on any particular site template, so a page with an unexpected shape
// degrades to a low-confidence candidate instead of an error.
package extract

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/farmassist/harvester/internal/catalog"
)

var (
	titleSuffixPattern = regexp.MustCompile(`\s*\|\s*.*$`)
	parenCodePattern   = regexp.MustCompile(`\(([A-Z]{2,6})\)`)
	bareCodePattern    = regexp.MustCompile(`\b([A-Z]{2,6})\b`)
	eligibilityPattern = regexp.MustCompile(`(?i)eligib`)
	programSplitter    = regexp.MustCompile(`(?i)program`)
)

// Agency acronyms that look like program codes but never are.
var codeStopList = map[string]bool{
	"FSA": true, "USDA": true, "USA": true, "PDF": true,
	"NRCS": true, "RMA": true, "HTML": true,
}

// Engine extracts ProgramCandidates from fetched content.
type Engine struct {
	ids    catalog.IDGenerator
	clock  catalog.Clock
	logger *zap.Logger
}

// NewEngine constructs an extraction engine.
func NewEngine(ids catalog.IDGenerator, clock catalog.Clock, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{ids: ids, clock: clock, logger: logger}
}

func (e *Engine) newID() string {
	id, err := e.ids.NewID()
	if err != nil {
		e.logger.Warn("id generation failed", zap.Error(err))
	}
	return id
}

// FromHTML extracts a candidate from a fetched HTML page. Unparseable markup
// yields a candidate built from the raw bytes as text, with a structure
// warning and whatever the pattern extractors can still find.
func (e *Engine) FromHTML(item catalog.RawItem) catalog.ProgramCandidate {
	c := catalog.ProgramCandidate{
		ID:          e.newID(),
		SourceURL:   item.URL,
		SourceType:  item.SourceType,
		ExtractedAt: e.clock.Now(),
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(item.Content))
	if err != nil {
		c.Warnings = append(c.Warnings, catalog.Warning{
			Field:  "document",
			Kind:   catalog.WarnStructure,
			Detail: err.Error(),
		})
		e.fillFromText(&c, string(item.Content), item.URL)
		return c
	}

	text := normalizeSpace(doc.Text())

	c.ProgramName = extractName(doc, item.URL)
	if c.ProgramName == "" {
		c.Warnings = append(c.Warnings, catalog.Warning{
			Field: "program_name", Kind: catalog.WarnNotFound,
		})
	}
	c.ProgramCode = extractCode(text)
	c.Description = extractDescription(doc)
	c.EligibilityRaw = extractEligibility(doc)
	if c.EligibilityRaw == "" {
		c.Warnings = append(c.Warnings, catalog.Warning{
			Field: "eligibility_raw", Kind: catalog.WarnNotFound,
		})
	}

	e.finish(&c, text)
	return c
}

// FromText extracts a candidate from already extracted document text, such
// as a PDF's text layer.
func (e *Engine) FromText(text, sourceURL string, sourceType catalog.SourceType) catalog.ProgramCandidate {
	c := catalog.ProgramCandidate{
		ID:          e.newID(),
		SourceURL:   sourceURL,
		SourceType:  sourceType,
		ExtractedAt: e.clock.Now(),
	}
	e.fillFromText(&c, text, sourceURL)
	return c
}

// fillFromText runs the structure-independent extractors over plain text.
func (e *Engine) fillFromText(c *catalog.ProgramCandidate, rawText, sourceURL string) {
	text := normalizeSpace(rawText)

	c.ProgramName = firstHeadingLine(rawText)
	if c.ProgramName == "" {
		c.ProgramName = nameFromURL(sourceURL)
	}
	if c.ProgramName == "" {
		c.Warnings = append(c.Warnings, catalog.Warning{
			Field: "program_name", Kind: catalog.WarnNotFound,
		})
	}
	c.ProgramCode = extractCode(text)
	c.EligibilityRaw = eligibilitySentences(text)
	if c.EligibilityRaw == "" {
		c.Warnings = append(c.Warnings, catalog.Warning{
			Field: "eligibility_raw", Kind: catalog.WarnNotFound,
		})
	}

	e.finish(c, text)
}

// finish runs the shared payment, deadline, criteria, and scoring stages.
func (e *Engine) finish(c *catalog.ProgramCandidate, text string) {
	payment, payWarnings := parsePayments(text)
	c.PaymentInfoRaw = payment.Raw
	c.PaymentRangeText = payment.RangeText
	c.PaymentMin = payment.Min
	c.PaymentMax = payment.Max
	c.PaymentUnit = payment.Unit
	c.Warnings = append(c.Warnings, payWarnings...)

	deadline, dateWarnings := parseDeadlines(text)
	c.DeadlineText = deadline.Text
	c.ApplicationStart = deadline.Start
	c.ApplicationEnd = deadline.End
	c.Warnings = append(c.Warnings, dateWarnings...)

	criteriaText := strings.Join([]string{c.EligibilityRaw, c.ProgramName, c.Description}, " ")
	c.Criteria = ParseCriteria(criteriaText)

	appendInvariantWarnings(c)

	c.Confidence = scoreConfidence(*c)

	e.logger.Debug("extracted candidate",
		zap.String("url", c.SourceURL),
		zap.String("program", c.ProgramName),
		zap.Float64("confidence", c.Confidence),
		zap.Int("warnings", len(c.Warnings)))
}

// appendInvariantWarnings records one warning per violated data invariant,
// labeled with the field that broke it.
func appendInvariantWarnings(c *catalog.ProgramCandidate) {
	if c.PaymentMin != nil && c.PaymentMax != nil && *c.PaymentMin > *c.PaymentMax {
		c.Warnings = append(c.Warnings, catalog.Warning{
			Field: "payment_min",
			Kind:  catalog.WarnInvariant,
		})
	}
	if c.ApplicationStart != nil && c.ApplicationEnd != nil && c.ApplicationStart.After(*c.ApplicationEnd) {
		c.Warnings = append(c.Warnings, catalog.Warning{
			Field: "application_start",
			Kind:  catalog.WarnInvariant,
		})
	}
}

// extractName prefers the first h1, then the page title with its site suffix
// stripped, then a last-resort slug from the URL.
func extractName(doc *goquery.Document, url string) string {
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		return normalizeSpace(h1)
	}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return normalizeSpace(titleSuffixPattern.ReplaceAllString(title, ""))
	}
	return nameFromURL(url)
}

func nameFromURL(url string) string {
	parts := strings.Split(strings.TrimRight(url, "/"), "/")
	if len(parts) == 0 {
		return ""
	}
	slug := parts[len(parts)-1]
	slug = strings.TrimSuffix(slug, ".html")
	slug = strings.TrimSuffix(slug, ".pdf")
	slug = strings.ReplaceAll(slug, "-", " ")
	slug = strings.ReplaceAll(slug, "_", " ")
	return strings.TrimSpace(titleCase(slug))
}

// extractCode finds the program acronym, preferring parenthesized forms like
// "Agriculture Risk Coverage (ARC)" over bare capitalized tokens.
func extractCode(text string) string {
	if m := parenCodePattern.FindStringSubmatch(text); m != nil {
		if !codeStopList[m[1]] {
			return m[1]
		}
	}
	sections := programSplitter.Split(text, 2)
	for _, section := range sections {
		if len(section) > 200 {
			section = section[:200]
		}
		for _, m := range bareCodePattern.FindAllStringSubmatch(section, -1) {
			if !codeStopList[m[1]] {
				return m[1]
			}
		}
	}
	return ""
}

// extractDescription prefers the meta description, then the first paragraph
// long enough to be substantive.
func extractDescription(doc *goquery.Document) string {
	if meta, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		if trimmed := strings.TrimSpace(meta); trimmed != "" {
			return trimmed
		}
	}
	var desc string
	doc.Find("p").EachWithBreak(func(i int, sel *goquery.Selection) bool {
		if i >= 5 {
			return false
		}
		text := normalizeSpace(sel.Text())
		if len(text) > 100 {
			desc = text
			return false
		}
		return true
	})
	return desc
}

// extractEligibility gathers page fragments mentioning eligibility, keeping
// those whose surrounding block is a plausible statement length.
func extractEligibility(doc *goquery.Document) string {
	var fragments []string
	doc.Find("div, section, p, li").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if len(fragments) >= 5 {
			return false
		}
		own := sel.Clone().ChildrenFiltered("*").Remove().End().Text()
		if !eligibilityPattern.MatchString(own) {
			return true
		}
		block := normalizeSpace(sel.Parent().Text())
		if block == "" {
			block = normalizeSpace(sel.Text())
		}
		if len(block) > 50 && len(block) < 1000 && !contains(fragments, block) {
			fragments = append(fragments, block)
		}
		return true
	})
	return strings.Join(fragments, " | ")
}

// eligibilitySentences is the plain-text fallback for document text.
func eligibilitySentences(text string) string {
	var fragments []string
	for _, sentence := range strings.Split(text, ". ") {
		if len(fragments) >= 5 {
			break
		}
		if !eligibilityPattern.MatchString(sentence) {
			continue
		}
		sentence = strings.TrimSpace(sentence)
		if len(sentence) > 30 && len(sentence) < 1000 {
			fragments = append(fragments, sentence)
		}
	}
	return strings.Join(fragments, " | ")
}

// firstHeadingLine returns the first short non-empty line of document text,
// which for fact sheets is nearly always the program title.
func firstHeadingLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = normalizeSpace(line)
		if len(line) >= 8 && len(line) <= 120 {
			return line
		}
	}
	return ""
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if len(w) > 0 {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
