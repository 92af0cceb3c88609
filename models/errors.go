package models

import (
	"context"
	"errors"
	"fmt"
)

// Error codes carried by CrawlError and surfaced in results.
const (
	ErrCodeInvalidTask         = "INVALID_TASK"
	ErrCodeUnsupportedPlatform = "UNSUPPORTED_PLATFORM"
	ErrCodeNavigation          = "NAVIGATION_FAILED"
	ErrCodeTimeout             = "CRAWL_TIMEOUT"
	ErrCodeBrowserCrash        = "BROWSER_CRASH"
	ErrCodeExtraction          = "EXTRACTION_FAILED"
	ErrCodeNotInitialized      = "NOT_INITIALIZED"
	ErrCodeSidecarNotRunning   = "SIDECAR_NOT_RUNNING"
	ErrCodeSidecarTransport    = "SIDECAR_TRANSPORT"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// CrawlError is the internal error type carrying an error code.
type CrawlError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *CrawlError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CrawlError) Unwrap() error {
	return e.Err
}

// NewCrawlError creates a new CrawlError.
func NewCrawlError(code, message string, err error) *CrawlError {
	return &CrawlError{Code: code, Message: message, Err: err}
}

// CategorizeError wraps err with a code derived from its cause.
// Errors that already carry a code are returned unchanged.
func CategorizeError(err error, msg string) *CrawlError {
	var ce *CrawlError
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewCrawlError(ErrCodeTimeout, msg, err)
	}
	return NewCrawlError(ErrCodeNavigation, msg, err)
}

// ErrorCode returns the code of err, or ErrCodeInternal.
func ErrorCode(err error) string {
	var ce *CrawlError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ErrCodeInternal
}
