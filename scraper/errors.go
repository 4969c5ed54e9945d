package scraper

import (
	"errors"
	"fmt"
	"time"
)

// ErrFetchFailed wraps the final error returned once retries are exhausted.
var ErrFetchFailed = errors.New("scraper: fetch failed")

// classified is implemented by every typed fetch error.
type classified interface {
	error
	label() string
	transient() bool
}

// ErrTimeout indicates the request or connection timed out.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string   { return "timeout: " + e.Err.Error() }
func (e ErrTimeout) Unwrap() error   { return e.Err }
func (e ErrTimeout) label() string   { return "timeout" }
func (e ErrTimeout) transient() bool { return true }

// ErrConnection indicates the site could not be reached.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string   { return "connection: " + e.Err.Error() }
func (e ErrConnection) Unwrap() error   { return e.Err }
func (e ErrConnection) label() string   { return "connection" }
func (e ErrConnection) transient() bool { return true }

// ErrForbidden indicates an HTTP 403, usually a block of the client.
type ErrForbidden struct {
	Err error
}

func (e ErrForbidden) Error() string   { return "forbidden: " + e.Err.Error() }
func (e ErrForbidden) Unwrap() error   { return e.Err }
func (e ErrForbidden) label() string   { return "forbidden" }
func (e ErrForbidden) transient() bool { return false }

// ErrNotFound indicates an HTTP 404, for example a section that no longer exists.
type ErrNotFound struct {
	Err error
}

func (e ErrNotFound) Error() string   { return "not_found: " + e.Err.Error() }
func (e ErrNotFound) Unwrap() error   { return e.Err }
func (e ErrNotFound) label() string   { return "not_found" }
func (e ErrNotFound) transient() bool { return false }

// ErrRateLimited indicates an HTTP 429. RetryAfter holds the wait the site asked
// for, zero when it sent none.
type ErrRateLimited struct {
	RetryAfter time.Duration
	Err        error
}

func (e ErrRateLimited) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate_limited (retry after %s): %v", e.RetryAfter, e.Err)
	}
	return "rate_limited: " + e.Err.Error()
}
func (e ErrRateLimited) Unwrap() error   { return e.Err }
func (e ErrRateLimited) label() string   { return "rate_limited" }
func (e ErrRateLimited) transient() bool { return true }

// ErrServer indicates a 5xx response.
type ErrServer struct {
	Status int
	Err    error
}

func (e ErrServer) Error() string   { return fmt.Sprintf("server_error %d: %v", e.Status, e.Err) }
func (e ErrServer) Unwrap() error   { return e.Err }
func (e ErrServer) label() string   { return "server_error" }
func (e ErrServer) transient() bool { return true }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var c classified
	return errors.As(err, &c) && c.transient()
}

// ErrorTypeLabel returns the metrics label for err: "unknown" for nil and "other"
// for errors outside the taxonomy.
func ErrorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var c classified
	if errors.As(err, &c) {
		return c.label()
	}
	return "other"
}

// retryAfter returns the wait requested by a rate-limited response.
func retryAfter(err error) time.Duration {
	var limited ErrRateLimited
	if errors.As(err, &limited) {
		return limited.RetryAfter
	}
	return 0
}
