package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/farmassist/harvester/internal/catalog"
)

// Shared fakes for the adapter tests.

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var testClock = fixedClock{now: time.Unix(1700000000, 0).UTC()}

// fakeFetcher serves canned responses keyed by exact URL. Adapters fetch
// batches concurrently, so the call log is mutex guarded.
type fakeFetcher struct {
	responses map[string]catalog.FetchResult
	errs      map[string]error

	mu    sync.Mutex
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (catalog.FetchResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.mu.Unlock()
	if err, ok := f.errs[url]; ok {
		return catalog.FetchResult{}, err
	}
	if res, ok := f.responses[url]; ok {
		return res, nil
	}
	return catalog.FetchResult{}, fmt.Errorf("no canned response for %s", url)
}

func (f *fakeFetcher) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func fastRetry() *RetryPolicy {
	return NewRetryPolicy(1, time.Millisecond, time.Millisecond)
}
