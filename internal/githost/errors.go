package githost

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/go-github/v79/github"
)

// HTTPError carries the provider status code for callers that classify
// failures without depending on the go-github error types.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// StatusCode extracts the HTTP status from a provider error, or 0 when the
// error carries none (transport failures, context cancellation).
func StatusCode(err error) int {
	if err == nil {
		return 0
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		if rateErr.Response != nil {
			return rateErr.Response.StatusCode
		}
		return http.StatusForbidden
	}
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return ghErr.Response.StatusCode
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) && abuseErr.Response != nil {
		return abuseErr.Response.StatusCode
	}
	return 0
}

func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

func isRateLimited(err error) bool {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return true
	}
	return StatusCode(err) == http.StatusTooManyRequests
}

// UserMessage maps a provider error to the human-readable string shown to the
// UI. Unrecognized errors pass through unchanged.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return fmt.Sprintf("Rate limit exceeded. Remaining %d/%d requests.", rateErr.Rate.Remaining, rateErr.Rate.Limit)
	}
	if isRateLimited(err) {
		return "Rate limit exceeded. Please try again later."
	}
	switch StatusCode(err) {
	case http.StatusNotFound:
		return "Repository not found. Check that it exists and that your token has access to it."
	case http.StatusForbidden:
		return "Access denied. Your token or app installation may need additional permissions."
	case http.StatusUnauthorized:
		return "Authentication failed. Check your credentials."
	default:
		return err.Error()
	}
}
