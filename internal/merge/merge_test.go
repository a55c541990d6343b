package merge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmassist/harvester/internal/catalog"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestMerger() *Merger {
	return New(fixedClock{now: time.Unix(1700000000, 0).UTC()}, nil)
}

func fl(v float64) *float64 { return &v }

func TestHigherConfidenceSourceWinsMissingFields(t *testing.T) {
	t.Parallel()

	base := time.Unix(1690000000, 0).UTC()
	sourceA := catalog.ProgramCandidate{
		SourceURL:   "https://a.example/arc",
		ProgramCode: "ARC",
		ProgramName: "Agriculture Risk Coverage",
		PaymentMin:  fl(100),
		Confidence:  0.4,
		ExtractedAt: base,
	}
	sourceB := catalog.ProgramCandidate{
		SourceURL:   "https://b.example/arc",
		ProgramCode: "ARC",
		ProgramName: "Agriculture Risk Coverage",
		PaymentMin:  fl(100),
		PaymentMax:  fl(5000),
		Confidence:  0.8,
		ExtractedAt: base.Add(time.Hour),
	}

	programs := newTestMerger().Merge([]catalog.ProgramCandidate{sourceA, sourceB})
	require.Len(t, programs, 1)
	p := programs[0]

	require.NotNil(t, p.PaymentMin)
	require.NotNil(t, p.PaymentMax)
	assert.Equal(t, 100.0, *p.PaymentMin)
	assert.Equal(t, 5000.0, *p.PaymentMax)

	// Both fields attributed to the stronger source.
	assert.Equal(t, "https://b.example/arc", p.FieldSources["payment_min"].SourceURL)
	assert.Equal(t, 0.8, p.FieldSources["payment_max"].Confidence)
	assert.Equal(t, 0.8, p.Confidence)
}

func TestMergeIsIdempotent(t *testing.T) {
	t.Parallel()

	base := time.Unix(1690000000, 0).UTC()
	candidates := []catalog.ProgramCandidate{
		{SourceURL: "https://a", ProgramName: "Livestock Forage Program", Confidence: 0.5, ExtractedAt: base,
			Criteria: catalog.CriteriaSet{catalog.FlagLivestock: catalog.True}},
		{SourceURL: "https://b", ProgramName: "Livestock Forage Program", Confidence: 0.7, ExtractedAt: base,
			Criteria: catalog.CriteriaSet{catalog.FlagForageHay: catalog.True}},
	}

	merger := newTestMerger()
	once := merger.Merge(candidates)
	doubled := merger.Merge(append(append([]catalog.ProgramCandidate{}, candidates...), candidates...))

	assert.Equal(t, once, doubled)
}

func TestMergeGroupsByCodeThenNormalizedName(t *testing.T) {
	t.Parallel()

	base := time.Unix(1690000000, 0).UTC()
	candidates := []catalog.ProgramCandidate{
		{SourceURL: "https://a", ProgramCode: "LFP", ProgramName: "Livestock Forage Disaster Program", Confidence: 0.6, ExtractedAt: base},
		{SourceURL: "https://b", ProgramCode: "LFP", ProgramName: "LFP Fact Sheet", Confidence: 0.3, ExtractedAt: base},
		{SourceURL: "https://c", ProgramName: "Emergency   Conservation-Program", Confidence: 0.5, ExtractedAt: base},
		{SourceURL: "https://d", ProgramName: "emergency conservation program", Confidence: 0.4, ExtractedAt: base},
	}

	programs := newTestMerger().Merge(candidates)
	require.Len(t, programs, 2)

	assert.Equal(t, "emergency conservation program", programs[0].LogicalID)
	assert.Equal(t, "lfp", programs[1].LogicalID)
	assert.Equal(t, "Livestock Forage Disaster Program", programs[1].ProgramName)
}

func TestCriteriaThreeValuedMerge(t *testing.T) {
	t.Parallel()

	base := time.Unix(1690000000, 0).UTC()
	candidates := []catalog.ProgramCandidate{
		{SourceURL: "https://a", ProgramName: "P", Confidence: 0.5, ExtractedAt: base,
			Criteria: catalog.CriteriaSet{
				catalog.FlagCropWheat: catalog.True,
				catalog.FlagCropCorn:  catalog.False,
				catalog.FlagIsLoan:    catalog.False,
			}},
		{SourceURL: "https://b", ProgramName: "P", Confidence: 0.6, ExtractedAt: base,
			Criteria: catalog.CriteriaSet{
				catalog.FlagCropCorn: catalog.True,
			}},
	}

	programs := newTestMerger().Merge(candidates)
	require.Len(t, programs, 1)
	criteria := programs[0].Criteria

	assert.Equal(t, catalog.True, criteria.Get(catalog.FlagCropWheat))
	// One true vote beats a false vote.
	assert.Equal(t, catalog.True, criteria.Get(catalog.FlagCropCorn))
	// A lone false vote stays false.
	assert.Equal(t, catalog.False, criteria.Get(catalog.FlagIsLoan))
	// Never mentioned stays unknown.
	assert.Equal(t, catalog.Unknown, criteria.Get(catalog.FlagOrganic))
}

func TestMergeMonotonicity(t *testing.T) {
	t.Parallel()

	base := time.Unix(1690000000, 0).UTC()
	weak := catalog.ProgramCandidate{
		SourceURL: "https://a", ProgramName: "P", PaymentMin: fl(10), Confidence: 0.3, ExtractedAt: base,
	}

	merger := newTestMerger()
	before := merger.Merge([]catalog.ProgramCandidate{weak})
	require.Len(t, before, 1)

	strong := catalog.ProgramCandidate{
		SourceURL: "https://b", ProgramName: "P", PaymentMin: fl(20), Confidence: 0.9, ExtractedAt: base,
	}
	after := merger.Merge([]catalog.ProgramCandidate{weak, strong})
	require.Len(t, after, 1)

	assert.GreaterOrEqual(t,
		after[0].FieldSources["payment_min"].Confidence,
		before[0].FieldSources["payment_min"].Confidence)
	assert.GreaterOrEqual(t, after[0].Confidence, before[0].Confidence)
}

func TestInvariantViolationIsFlaggedNotCorrected(t *testing.T) {
	t.Parallel()

	base := time.Unix(1690000000, 0).UTC()
	candidates := []catalog.ProgramCandidate{
		{SourceURL: "https://a", ProgramName: "P", PaymentMin: fl(500), Confidence: 0.8, ExtractedAt: base},
		{SourceURL: "https://b", ProgramName: "P", PaymentMax: fl(100), Confidence: 0.4, ExtractedAt: base},
	}

	programs := newTestMerger().Merge(candidates)
	require.Len(t, programs, 1)
	p := programs[0]

	assert.True(t, p.Flagged)
	assert.Equal(t, 500.0, *p.PaymentMin)
	assert.Equal(t, 100.0, *p.PaymentMax)
}

func TestNormalizeName(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Agriculture Risk Coverage":   "agriculture risk coverage",
		"  Emergency--Loan  Program ": "emergency loan program",
		"Café Crédit (Pilot)":         "cafe credit pilot",
		"ARC/PLC Election":            "arc plc election",
		"":                            "",
	}
	for input, want := range cases {
		assert.Equal(t, want, NormalizeName(input), "input %q", input)
	}
}

func TestLogicalIDPrefersCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "arc", LogicalID("ARC", "Agriculture Risk Coverage"))
	assert.Equal(t, "agriculture risk coverage", LogicalID("", "Agriculture Risk Coverage"))
	assert.Equal(t, "", LogicalID("", "  "))
}
