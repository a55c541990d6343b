// Package source implements the harvesting tiers behind the uniform
// SourceAdapter contract: the QuickStats survey API, the discovery crawl,
// and the PDF document batch.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/farmassist/harvester/internal/catalog"
	"github.com/farmassist/harvester/internal/config"
	"github.com/farmassist/harvester/internal/store"
)

// nassRecord is one row of a QuickStats JSON response.
type nassRecord struct {
	StateAlpha    string `json:"state_alpha"`
	CountyName    string `json:"county_name"`
	Year          any    `json:"year"`
	CommodityDesc string `json:"commodity_desc"`
	ShortDesc     string `json:"short_desc"`
	Value         string `json:"Value"`
	UnitDesc      string `json:"unit_desc"`
	SourceDesc    string `json:"source_desc"`
}

type nassResponse struct {
	Data []nassRecord `json:"data"`
}

// APIAdapter harvests county-level survey data from the QuickStats API.
// Each batch executes up to concurrency (commodity, year) requests in
// parallel; the cursor is the index into the commodity x year request list,
// so a resumed run skips completed pairs.
type APIAdapter struct {
	cfg         config.SourceConfig
	fetcher     catalog.Fetcher
	retry       *RetryPolicy
	payments    store.PaymentStore
	clock       catalog.Clock
	concurrency int
	logger      *zap.Logger
}

// NewAPIAdapter constructs the API tier.
func NewAPIAdapter(cfg config.SourceConfig, fetcher catalog.Fetcher, retry *RetryPolicy,
	payments store.PaymentStore, clock catalog.Clock, concurrency int, logger *zap.Logger) *APIAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &APIAdapter{
		cfg:         cfg,
		fetcher:     fetcher,
		retry:       retry,
		payments:    payments,
		clock:       clock,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Type implements SourceAdapter.
func (a *APIAdapter) Type() catalog.SourceType { return catalog.SourceAPI }

// JobType implements SourceAdapter.
func (a *APIAdapter) JobType() catalog.JobType { return catalog.JobTypeAPI }

// request is one (commodity, year) pair in the fixed request plan.
type apiRequest struct {
	commodity string
	year      int
}

func (a *APIAdapter) plan() []apiRequest {
	var plan []apiRequest
	for _, commodity := range a.cfg.Commodities {
		for year := a.cfg.YearStart; year <= a.cfg.YearEnd; year++ {
			plan = append(plan, apiRequest{commodity: commodity, year: year})
		}
	}
	return plan
}

// FetchBatch executes the next slice of the plan, one goroutine per request
// up to the concurrency bound. A missing API key or an auth rejection is
// fatal for the tier; everything else is a per-item failure and the plan
// advances.
func (a *APIAdapter) FetchBatch(ctx context.Context, cursor string) (catalog.Batch, []catalog.ItemError, error) {
	if strings.TrimSpace(a.cfg.APIKey) == "" {
		return catalog.Batch{}, nil, catalog.Fatalf("quickstats api key is not configured")
	}

	plan := a.plan()
	idx := 0
	if cursor != "" {
		parsed, err := strconv.Atoi(cursor)
		if err != nil {
			return catalog.Batch{}, nil, catalog.Fatalf("malformed api cursor %q: %v", cursor, err)
		}
		idx = parsed
	}
	if idx >= len(plan) {
		return catalog.Batch{Done: true}, nil, nil
	}

	count := a.concurrency
	if remaining := len(plan) - idx; count > remaining {
		count = remaining
	}

	type planResult struct {
		item     *catalog.RawItem
		itemErrs []catalog.ItemError
		fatal    error
	}
	results := make([]planResult, count)
	forEachBounded(ctx, a.concurrency, count, func(ctx context.Context, i int) {
		item, itemErrs, fatal := a.fetchPlanRequest(ctx, plan[idx+i])
		results[i] = planResult{item: item, itemErrs: itemErrs, fatal: fatal}
	})

	var items []catalog.RawItem
	var itemErrs []catalog.ItemError
	for _, res := range results {
		if res.fatal != nil {
			return catalog.Batch{}, nil, res.fatal
		}
		if res.item != nil {
			items = append(items, *res.item)
		}
		itemErrs = append(itemErrs, res.itemErrs...)
	}

	return catalog.Batch{
		Items:      items,
		NextCursor: strconv.Itoa(idx + count),
		Done:       idx+count >= len(plan),
	}, itemErrs, nil
}

// fetchPlanRequest executes one (commodity, year) request and stores its
// payment rows.
func (a *APIAdapter) fetchPlanRequest(ctx context.Context, req apiRequest) (*catalog.RawItem, []catalog.ItemError, error) {
	requestURL := a.buildURL(req)
	publicURL := a.buildPublicURL(req)

	var result catalog.FetchResult
	err := a.retry.Do(ctx, func() error {
		var fetchErr error
		result, fetchErr = a.fetcher.Fetch(ctx, requestURL)
		return fetchErr
	})
	if err != nil {
		a.logger.Warn("quickstats request failed",
			zap.String("commodity", req.commodity), zap.Int("year", req.year), zap.Error(err))
		return nil, []catalog.ItemError{{
			Item: publicURL, Kind: "fetch_error", Detail: err.Error(),
		}}, nil
	}
	if result.StatusCode == 401 || result.StatusCode == 403 {
		return nil, nil, catalog.Fatalf("quickstats rejected credentials: status %d", result.StatusCode)
	}
	if result.StatusCode != 200 {
		return nil, []catalog.ItemError{{
			Item: publicURL, Kind: "fetch_error",
			Detail: fmt.Sprintf("status %d", result.StatusCode),
		}}, nil
	}

	var parsed nassResponse
	if err := json.Unmarshal(result.Body, &parsed); err != nil {
		return nil, []catalog.ItemError{{
			Item: publicURL, Kind: "unexpected_structure", Detail: err.Error(),
		}}, nil
	}

	itemErrs := a.storePayments(ctx, parsed.Data, publicURL)

	item := catalog.RawItem{
		URL:        publicURL,
		SourceType: catalog.SourceAPI,
		FetchedAt:  a.clock.Now(),
		StatusCode: result.StatusCode,
		Content:    result.Body,
		Metadata: map[string]string{
			"commodity": req.commodity,
			"year":      strconv.Itoa(req.year),
			"state":     a.cfg.TargetState,
			"records":   strconv.Itoa(len(parsed.Data)),
		},
	}

	a.logger.Info("quickstats batch fetched",
		zap.String("commodity", req.commodity),
		zap.Int("year", req.year),
		zap.Int("records", len(parsed.Data)))

	return &item, itemErrs, nil
}

func (a *APIAdapter) storePayments(ctx context.Context, records []nassRecord, requestURL string) []catalog.ItemError {
	var itemErrs []catalog.ItemError
	now := a.clock.Now()
	for _, rec := range records {
		year, err := recordYear(rec.Year)
		if err != nil {
			itemErrs = append(itemErrs, catalog.ItemError{
				Item: requestURL, Kind: "unparsable_number",
				Detail: fmt.Sprintf("year %v", rec.Year),
			})
			continue
		}
		payment := catalog.HistoricalPayment{
			ProgramName: rec.ShortDesc,
			Year:        year,
			State:       rec.StateAlpha,
			County:      rec.CountyName,
			Source:      "nass_quickstats",
			Unit:        rec.UnitDesc,
			FetchedAt:   now,
		}
		if amount, ok := parseValue(rec.Value); ok {
			payment.Amount = &amount
		}
		if err := a.payments.UpsertHistoricalPayment(ctx, payment); err != nil {
			itemErrs = append(itemErrs, catalog.ItemError{
				Item: requestURL, Kind: "store_error", Detail: err.Error(),
			})
		}
	}
	return itemErrs
}

func (a *APIAdapter) buildURL(req apiRequest) string {
	params := url.Values{}
	params.Set("key", a.cfg.APIKey)
	params.Set("source_desc", "SURVEY")
	params.Set("sector_desc", "CROPS")
	params.Set("commodity_desc", req.commodity)
	params.Set("state_alpha", a.cfg.TargetState)
	params.Set("year", strconv.Itoa(req.year))
	params.Set("agg_level_desc", "COUNTY")
	params.Set("format", "JSON")
	return a.cfg.APIBaseURL + "?" + params.Encode()
}

// buildPublicURL is the identity URL stored for the raw item, with the
// credential stripped.
func (a *APIAdapter) buildPublicURL(req apiRequest) string {
	params := url.Values{}
	params.Set("commodity_desc", req.commodity)
	params.Set("state_alpha", a.cfg.TargetState)
	params.Set("year", strconv.Itoa(req.year))
	params.Set("agg_level_desc", "COUNTY")
	return a.cfg.APIBaseURL + "?" + params.Encode()
}

func recordYear(raw any) (int, error) {
	switch v := raw.(type) {
	case float64:
		return int(v), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(v))
	default:
		return 0, fmt.Errorf("unsupported year type %T", raw)
	}
}

// parseValue handles QuickStats numeric values, which arrive as strings with
// thousands separators and use codes like "(D)" for withheld data.
func parseValue(raw string) (float64, bool) {
	cleaned := strings.TrimSpace(strings.ReplaceAll(raw, ",", ""))
	if cleaned == "" || strings.HasPrefix(cleaned, "(") {
		return 0, false
	}
	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}
