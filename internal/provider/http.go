package provider

import (
	"fmt"
	"net/http"
)

// ClassifyHTTPStatus maps an HTTP status to the retry taxonomy shared by
// the HTTP-backed providers: server-side and throttling failures are
// transient, credential and request errors are not.
func ClassifyHTTPStatus(stage string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Fatal(stage, fmt.Sprintf("authentication rejected (HTTP %d)", status), nil)
	case status == http.StatusTooManyRequests || status >= 500:
		return Retryable(stage, fmt.Sprintf("backend unavailable (HTTP %d)", status), nil)
	default:
		return Fatal(stage, fmt.Sprintf("request rejected (HTTP %d)", status), nil)
	}
}
