package source

import (
	"context"
	"sync"
)

// forEachBounded runs fn for every index in [0, n) across at most limit
// goroutines and waits for all of them. Callers hand each invocation its own
// result slot, so no synchronization is needed on their side.
func forEachBounded(ctx context.Context, limit, n int, fn func(ctx context.Context, i int)) {
	if limit <= 0 {
		limit = 1
	}
	var wg sync.WaitGroup
	sem := make(chan struct{}, limit)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			fn(ctx, i)
		}(i)
	}
	wg.Wait()
}
