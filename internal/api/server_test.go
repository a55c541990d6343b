package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/farmassist/harvester/internal/catalog"
	storemem "github.com/farmassist/harvester/internal/store/memory"
)

type serverFixture struct {
	server   *Server
	programs *storemem.ProgramStore
	gaps     *storemem.GapStore
	jobs     *storemem.JobStore
	payments *storemem.PaymentStore
}

func newTestServer() *serverFixture {
	programs := storemem.NewProgramStore()
	gapStore := storemem.NewGapStore()
	jobs := storemem.NewJobStore()
	payments := storemem.NewPaymentStore()
	return &serverFixture{
		server:   NewServer(programs, gapStore, jobs, payments, nil),
		programs: programs,
		gaps:     gapStore,
		jobs:     jobs,
		payments: payments,
	}
}

func seedProgram(t *testing.T, f *serverFixture, p catalog.Program) {
	t.Helper()
	require.NoError(t, f.programs.UpsertProgram(context.Background(), p))
}

func TestServer_Match_ReturnsRankedResults(t *testing.T) {
	t.Parallel()

	f := newTestServer()
	seedProgram(t, f, catalog.Program{
		LogicalID:   "clp",
		ProgramName: "Crop Loan Program",
		Confidence:  0.8,
		Criteria: catalog.CriteriaSet{
			catalog.FlagCropFarming: catalog.True,
			catalog.FlagIsLoan:      catalog.True,
		},
	})
	seedProgram(t, f, catalog.Program{
		LogicalID:   "grant",
		ProgramName: "Grant Program",
		Confidence:  0.9,
		Criteria: catalog.CriteriaSet{
			catalog.FlagCropFarming: catalog.True,
		},
	})

	body := []byte(`{"criteria":["crop_farming","is_loan"]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/match", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Count   int `json:"count"`
		Results []struct {
			Score        float64  `json:"match_score"`
			MatchedFlags []string `json:"matched_flags"`
			Program      struct {
				LogicalID string `json:"logical_id"`
			} `json:"program"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Count)
	require.Equal(t, "clp", resp.Results[0].Program.LogicalID)
	require.InDelta(t, 100, resp.Results[0].Score, 0.001)
	require.InDelta(t, 50, resp.Results[1].Score, 0.001)
}

func TestServer_Match_RejectsUnknownFlag(t *testing.T) {
	t.Parallel()

	f := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/v1/match",
		bytes.NewBufferString(`{"criteria":["not_a_flag"]}`))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Match_InvalidJSON(t *testing.T) {
	t.Parallel()

	f := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/v1/match", bytes.NewBufferString("{invalid"))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Match_EmptyQueryReturnsEmpty(t *testing.T) {
	t.Parallel()

	f := newTestServer()
	seedProgram(t, f, catalog.Program{LogicalID: "clp", ProgramName: "Crop Loan Program"})

	req := httptest.NewRequest(http.MethodPost, "/v1/match",
		bytes.NewBufferString(`{"criteria":[]}`))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"count":0`)
}

func TestServer_GetProgram_NotFound(t *testing.T) {
	t.Parallel()

	f := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/v1/programs/missing", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ListGaps_FiltersByProgram(t *testing.T) {
	t.Parallel()

	f := newTestServer()
	require.NoError(t, f.gaps.ReplaceGaps(context.Background(), "clp", []catalog.DataGap{
		{LogicalID: "clp", ProgramName: "Crop Loan Program", MissingField: "payment_info", Importance: catalog.GapCritical},
	}))
	require.NoError(t, f.gaps.ReplaceGaps(context.Background(), "arc", []catalog.DataGap{
		{LogicalID: "arc", ProgramName: "ARC", MissingField: "deadline", Importance: catalog.GapImportant},
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/gaps?logical_id=clp", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "payment_info")
	require.NotContains(t, rec.Body.String(), "deadline")
}

func TestServer_GapSummary_ReportsCompleteness(t *testing.T) {
	t.Parallel()

	f := newTestServer()
	min := 10.0
	seedProgram(t, f, catalog.Program{
		LogicalID:   "clp",
		ProgramName: "Crop Loan Program",
		Confidence:  0.8,
		PaymentMin:  &min,
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/gaps/summary", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"total_programs":1`)
}

func TestServer_GetJob_RoundTrip(t *testing.T) {
	t.Parallel()

	f := newTestServer()
	job := catalog.Job{
		ID:        "job-1",
		Type:      catalog.JobTypeDiscovery,
		Status:    catalog.JobStatusCompleted,
		Submitted: time.Unix(1700000000, 0).UTC(),
	}
	require.NoError(t, f.jobs.CreateJob(context.Background(), job))

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"completed"`)

	req = httptest.NewRequest(http.MethodGet, "/v1/jobs/missing", nil)
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ListPayments_FiltersByProgramName(t *testing.T) {
	t.Parallel()

	f := newTestServer()
	amount := 1250.0
	require.NoError(t, f.payments.UpsertHistoricalPayment(context.Background(), catalog.HistoricalPayment{
		ProgramName: "CORN - ACRES PLANTED",
		Year:        2022,
		State:       "ND",
		County:      "CASS",
		Source:      "nass_quickstats",
		Amount:      &amount,
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/payments?program=CORN+-+ACRES+PLANTED", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "CASS")
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	f := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
