package source

import (
	"net/url"
	"strings"
)

// Path keywords that mark a link as likely program content and worth
// following during discovery.
var programLinkKeywords = []string{
	"program", "assistance", "loan", "insurance",
	"conservation", "disaster", "payment", "subsidy",
}

// Page text signals used to decide whether a fetched page describes a
// specific program rather than an index or news page.
var programPageIndicators = []string{
	"eligibility", "payment rate", "how to apply", "deadline",
	"enrollment", "program description", "benefits", "requirements",
}

// Three or more indicators plus a program-shaped URL clears the bar.
const programPageMinIndicators = 3

// IsPDFLink reports whether the link points at a PDF document.
func IsPDFLink(link string) bool {
	return strings.Contains(strings.ToLower(link), ".pdf")
}

// IsProgramLink reports whether the link belongs to an allowed host and its
// path suggests program content.
func IsProgramLink(link string, allowHosts []string) bool {
	if !AllowedHost(link, allowHosts) {
		return false
	}
	lower := strings.ToLower(link)
	for _, kw := range programLinkKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// AllowedHost reports whether the link's host is in the allow list.
func AllowedHost(link string, allowHosts []string) bool {
	parsed, err := url.Parse(link)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := strings.ToLower(parsed.Host)
	for _, allowed := range allowHosts {
		if host == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

// IsProgramPage reports whether the page text describes a specific program.
func IsProgramPage(text, pageURL string) bool {
	lowerText := strings.ToLower(text)
	count := 0
	for _, indicator := range programPageIndicators {
		if strings.Contains(lowerText, indicator) {
			count++
		}
	}
	if count < programPageMinIndicators {
		return false
	}

	lowerURL := strings.ToLower(pageURL)
	for _, kw := range []string{"program", "assistance", "loan", "insurance"} {
		if strings.Contains(lowerURL, kw) {
			return true
		}
	}
	return false
}
