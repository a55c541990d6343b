package extract

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmassist/harvester/internal/catalog"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type seqIDs struct{ n int }

func (g *seqIDs) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

func newTestEngine() *Engine {
	return NewEngine(&seqIDs{}, fixedClock{now: time.Unix(1700000000, 0).UTC()}, nil)
}

const arcPage = `<html>
<head>
	<title>Agriculture Risk Coverage | Farm Service Agency</title>
	<meta name="description" content="Agriculture Risk Coverage provides income support payments to wheat, corn, and soybean producers when actual crop revenue declines below a specified guarantee level.">
</head>
<body>
	<h1>Agriculture Risk Coverage (ARC)</h1>
	<p>The Agriculture Risk Coverage program provides revenue loss coverage for wheat, corn, and soybean producers throughout the country.</p>
	<div>
		<p>Eligibility: producers with an ownership interest in a farm with base acres of covered commodities are eligible to enroll. Tenant operators may also participate with landlord consent.</p>
	</div>
	<p>Payment rates are $25.50 per acre, up to $125,000 per producer. Deadline: March 15, 2024</p>
</body>
</html>`

func TestFromHTMLExtractsAllFields(t *testing.T) {
	t.Parallel()

	engine := newTestEngine()
	c := engine.FromHTML(catalog.RawItem{
		URL:        "https://www.fsa.usda.gov/programs/arc",
		SourceType: catalog.SourceCrawl,
		Content:    []byte(arcPage),
	})

	assert.Equal(t, "Agriculture Risk Coverage (ARC)", c.ProgramName)
	assert.Equal(t, "ARC", c.ProgramCode)
	assert.Contains(t, c.Description, "income support payments")
	assert.Contains(t, c.EligibilityRaw, "base acres")

	require.NotNil(t, c.PaymentMin)
	require.NotNil(t, c.PaymentMax)
	assert.InDelta(t, 25.50, *c.PaymentMin, 0.001)
	assert.InDelta(t, 125000, *c.PaymentMax, 0.001)
	assert.Equal(t, "per acre", c.PaymentUnit)

	require.NotNil(t, c.ApplicationEnd)
	assert.Equal(t, 2024, c.ApplicationEnd.Year())
	assert.Equal(t, time.March, c.ApplicationEnd.Month())

	assert.Equal(t, catalog.True, c.Criteria.Get(catalog.FlagCropFarming))
	assert.Equal(t, catalog.True, c.Criteria.Get(catalog.FlagCropWheat))
	assert.Equal(t, catalog.True, c.Criteria.Get(catalog.FlagAllowsTenants))
	assert.Equal(t, catalog.Unknown, c.Criteria.Get(catalog.FlagLivestockBees))
}

func TestConfidenceIsOneWhenEveryFieldParses(t *testing.T) {
	t.Parallel()

	engine := newTestEngine()
	c := engine.FromHTML(catalog.RawItem{
		URL:        "https://www.fsa.usda.gov/programs/arc",
		SourceType: catalog.SourceCrawl,
		Content:    []byte(arcPage),
	})
	assert.Equal(t, 1.0, c.Confidence)
}

func TestConfidenceIsZeroWhenNothingParses(t *testing.T) {
	t.Parallel()

	assert.Zero(t, scoreConfidence(catalog.ProgramCandidate{}))
}

func TestEmptyPageWarnsOnMissingFields(t *testing.T) {
	t.Parallel()

	engine := newTestEngine()
	c := engine.FromHTML(catalog.RawItem{
		URL:        "https://example.com/",
		SourceType: catalog.SourceCrawl,
		Content:    []byte(`<html><head></head><body></body></html>`),
	})
	assert.NotEmpty(t, c.Warnings)
	assert.Empty(t, c.EligibilityRaw)
	assert.Nil(t, c.PaymentMin)
}

func TestConfidenceAlwaysInBounds(t *testing.T) {
	t.Parallel()

	engine := newTestEngine()
	pages := []string{
		`<html><body><h1>Livestock Forage Disaster Program</h1></body></html>`,
		`<html><body><p>Payments of $10 to $50 per head for grazing losses.</p></body></html>`,
		arcPage,
		`not html at all`,
	}
	for _, page := range pages {
		c := engine.FromHTML(catalog.RawItem{
			URL:     "https://www.fsa.usda.gov/x",
			Content: []byte(page),
		})
		assert.GreaterOrEqual(t, c.Confidence, 0.0)
		assert.LessOrEqual(t, c.Confidence, 1.0)
	}
}

func TestFromTextUsesHeadingAsName(t *testing.T) {
	t.Parallel()

	engine := newTestEngine()
	text := "Livestock Forage Disaster Program\n\nProducers of grazed forage are eligible when drought conditions persist. Payment rates are $35.00 per head.\nDeadline: January 30, 2025"

	c := engine.FromText(text, "https://www.fsa.usda.gov/lfp-factsheet.pdf", catalog.SourcePDF)

	assert.Equal(t, "Livestock Forage Disaster Program", c.ProgramName)
	assert.Equal(t, catalog.SourcePDF, c.SourceType)
	require.NotNil(t, c.PaymentMin)
	assert.InDelta(t, 35.0, *c.PaymentMin, 0.001)
	assert.Equal(t, "per head", c.PaymentUnit)
	assert.Equal(t, catalog.True, c.Criteria.Get(catalog.FlagForageHay))
	assert.Equal(t, catalog.True, c.Criteria.Get(catalog.FlagIsDisaster))
}

func TestBarePlainTextStillExtracts(t *testing.T) {
	t.Parallel()

	engine := newTestEngine()
	c := engine.FromHTML(catalog.RawItem{
		URL:     "https://www.fsa.usda.gov/programs/noncrop-page",
		Content: []byte("Emergency loans up to $500,000 are available for eligible producers."),
	})

	require.NotNil(t, c.PaymentMax)
	assert.InDelta(t, 500000, *c.PaymentMax, 0.001)
}

func TestInvariantViolationFlagsCandidate(t *testing.T) {
	t.Parallel()

	engine := newTestEngine()
	// The range pattern reads "$500 to $100" so min ends up 100, max 500;
	// force the violation directly instead.
	minPay, maxPay := 500.0, 100.0
	c := catalog.ProgramCandidate{PaymentMin: &minPay, PaymentMax: &maxPay}
	assert.True(t, c.Flagged())

	fine := engine.FromText("Payments of $100 to $500 per acre.", "https://x", catalog.SourcePDF)
	assert.False(t, fine.Flagged())
}

func TestInvariantWarningsNameTheViolatedField(t *testing.T) {
	t.Parallel()

	minPay, maxPay := 500.0, 100.0
	payments := catalog.ProgramCandidate{PaymentMin: &minPay, PaymentMax: &maxPay}
	appendInvariantWarnings(&payments)
	require.Len(t, payments.Warnings, 1)
	assert.Equal(t, "payment_min", payments.Warnings[0].Field)
	assert.Equal(t, catalog.WarnInvariant, payments.Warnings[0].Kind)

	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	window := catalog.ProgramCandidate{ApplicationStart: &start, ApplicationEnd: &end}
	appendInvariantWarnings(&window)
	require.Len(t, window.Warnings, 1)
	assert.Equal(t, "application_start", window.Warnings[0].Field)
	assert.Equal(t, catalog.WarnInvariant, window.Warnings[0].Kind)

	ordered := catalog.ProgramCandidate{ApplicationStart: &end, ApplicationEnd: &start}
	appendInvariantWarnings(&ordered)
	assert.Empty(t, ordered.Warnings)
}
