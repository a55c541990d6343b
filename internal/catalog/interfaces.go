package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrNotFound is returned by stores when no row matches.
var ErrNotFound = errors.New("not found")

// FatalError marks an unrecoverable tier condition (missing credentials,
// unreachable source). A tier hitting one ends its job with status failed;
// per-item failures never do.
type FatalError struct {
	Err error
}

// Error implements the error interface.
func (e *FatalError) Error() string { return fmt.Sprintf("fatal: %v", e.Err) }

// Unwrap exposes the wrapped error.
func (e *FatalError) Unwrap() error { return e.Err }

// Fatalf builds a FatalError from a format string.
func Fatalf(format string, args ...any) error {
	return &FatalError{Err: fmt.Errorf(format, args...)}
}

// IsFatal reports whether err carries a FatalError anywhere in its chain.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// FetchResult is the outcome of an HTTP fetch.
type FetchResult struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Fetcher retrieves a URL over plain HTTP.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResult, error)
}

// Renderer executes a page with JavaScript enabled and returns the DOM
// snapshot. Pages behind client-side rendering need this instead of Fetcher.
type Renderer interface {
	Render(ctx context.Context, url string) (FetchResult, error)
}

// DocumentContent is the output of the PDF extraction capability.
type DocumentContent struct {
	Text      string
	Tables    []Table
	PageCount int
	Method    string
}

// DocumentExtractor converts PDF bytes into text and tables. Implementations
// wrap real PDF libraries; tests substitute deterministic fakes.
type DocumentExtractor interface {
	Extract(ctx context.Context, data []byte) (DocumentContent, error)
}

// Batch is one page of items from a source adapter.
type Batch struct {
	Items      []RawItem
	NextCursor string
	Done       bool
}

// ItemError records a single non-fatal item failure inside a batch.
type ItemError struct {
	Item   string
	Kind   string
	Detail string
}

// SourceAdapter is the uniform tier contract. A cursor fully determines
// progress, so a crashed run resumes without re-fetching completed items.
type SourceAdapter interface {
	Type() SourceType
	JobType() JobType
	FetchBatch(ctx context.Context, cursor string) (Batch, []ItemError, error)
}

// Clock returns the current time (substituted in tests).
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock with time.Now.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// IDGenerator produces job and candidate IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Publisher pushes canonical-program events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
