package reports

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInsufficientData indicates the subject has no survey answers to analyze.
	ErrInsufficientData = errors.New("no survey responses to generate a report from")

	// ErrNotFound indicates the report (or its subject) does not exist.
	ErrNotFound = errors.New("report not found")

	// ErrForbidden indicates the report belongs to another subject.
	ErrForbidden = errors.New("report belongs to another user")

	// ErrAnalysisTimeout indicates the analysis call hit its deadline.
	// Timeouts are never retried.
	ErrAnalysisTimeout = errors.New("analysis timed out")
)

// RateLimitedError is returned when a subject asks for a new report inside
// the cool-down window. RetryAfter carries the remaining wait.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("report generation rate limited, retry in %s", e.RetryAfter.Round(time.Second))
}

// AnalysisUnavailableError is returned after the retry budget is exhausted.
// Last holds the error from the final attempt.
type AnalysisUnavailableError struct {
	Last error
}

func (e *AnalysisUnavailableError) Error() string {
	return fmt.Sprintf("analysis unavailable: %v", e.Last)
}

func (e *AnalysisUnavailableError) Unwrap() error { return e.Last }

// RenderError is returned when the artifact could not be fully written.
// The reservation stays behind marked failed; no partial file remains.
type RenderError struct {
	Err error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("report rendering failed: %v", e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }
