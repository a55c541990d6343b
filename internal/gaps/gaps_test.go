package gaps

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmassist/harvester/internal/catalog"
)

func fl(v float64) *float64 { return &v }

func completeProgram() catalog.Program {
	end := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	return catalog.Program{
		LogicalID:   "arc",
		ProgramName: "Agriculture Risk Coverage",
		ProgramCode: "ARC",
		Description: "Revenue loss coverage for covered commodities.",
		PaymentMin:  fl(10),
		PaymentMax:  fl(50),
		Criteria: catalog.CriteriaSet{
			catalog.FlagCropFarming: catalog.True,
		},
		ApplicationEnd: &end,
		Confidence:     0.9,
	}
}

func TestAnalyzeCompleteProgramHasNoGaps(t *testing.T) {
	t.Parallel()

	assert.Empty(t, Analyze([]catalog.Program{completeProgram()}))
}

func TestAnalyzeMissingFieldsWithImportance(t *testing.T) {
	t.Parallel()

	p := catalog.Program{
		LogicalID:   "elap",
		ProgramName: "Emergency Livestock Assistance",
		Description: "Assistance for livestock losses.",
	}

	gaps := Analyze([]catalog.Program{p})
	require.Len(t, gaps, 4)

	byField := map[string]catalog.DataGap{}
	for _, g := range gaps {
		byField[g.MissingField] = g
	}

	assert.Equal(t, catalog.GapCritical, byField["payment_info"].Importance)
	assert.Equal(t, catalog.GapImportant, byField["eligibility"].Importance)
	assert.Equal(t, catalog.GapImportant, byField["deadline"].Importance)
	assert.Equal(t, catalog.GapNiceToHave, byField["program_code"].Importance)
	assert.NotContains(t, byField, "description")
	assert.Equal(t, "elap", byField["deadline"].LogicalID)
}

func TestAnalyzeSkipsFlaggedPrograms(t *testing.T) {
	t.Parallel()

	flagged := catalog.Program{
		LogicalID:   "broken",
		ProgramName: "Broken Range Program",
		PaymentMin:  fl(500),
		PaymentMax:  fl(100),
		Flagged:     true,
	}

	assert.Empty(t, Analyze([]catalog.Program{flagged}))
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	t.Parallel()

	programs := []catalog.Program{
		{LogicalID: "a", ProgramName: "A"},
		completeProgram(),
		{LogicalID: "b", ProgramName: "B", PaymentMin: fl(1)},
	}

	first := Analyze(programs)
	second := Analyze(programs)
	assert.Equal(t, first, second)
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	programs := []catalog.Program{
		completeProgram(),
		{LogicalID: "x", ProgramName: "X", Confidence: 0.3},
		{LogicalID: "y", ProgramName: "Y", PaymentInfoRaw: "$10 per acre", Confidence: 0.5},
		{LogicalID: "z", ProgramName: "Z", EligibilityRaw: "producers", Confidence: 0.8},
	}

	c := Summarize(programs)
	assert.Equal(t, 4, c.TotalPrograms)
	assert.Equal(t, 2, c.WithPayments)
	assert.Equal(t, 2, c.WithElig)
	assert.Equal(t, 1, c.WithDeadlines)
	assert.Equal(t, 2, c.HighConfidence)
	assert.Equal(t, 1, c.LowConfidence)
	assert.InDelta(t, 0.625, c.AvgConfidence, 0.0001)
	assert.InDelta(t, 50.0, c.PaymentPct, 0.0001)
	assert.InDelta(t, 25.0, c.DeadlinePct, 0.0001)
}

func TestSummarizeEmpty(t *testing.T) {
	t.Parallel()

	c := Summarize(nil)
	assert.Zero(t, c.TotalPrograms)
	assert.Zero(t, c.AvgConfidence)
}
