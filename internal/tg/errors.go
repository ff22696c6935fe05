package tg

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type APIError struct {
	Method      string
	StatusCode  int
	Code        int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram api %s status %d: %s", e.Method, e.StatusCode, e.Description)
}

// Outcome classifies the result of a send or edit so callers can pick a
// fallback deliberately.
type Outcome int

const (
	OutcomeOK Outcome = iota
	// OutcomeFlood means Telegram asked us to slow down and the single
	// retry did not clear it.
	OutcomeFlood
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeFlood:
		return "flood"
	default:
		return "fatal"
	}
}

func OutcomeOf(err error) Outcome {
	if err == nil {
		return OutcomeOK
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.RetryAfter > 0 || apiErr.StatusCode == http.StatusTooManyRequests || apiErr.Code == http.StatusTooManyRequests) {
		return OutcomeFlood
	}
	return OutcomeFatal
}

// IsMessageNotModified reports the harmless error Telegram returns when an
// edit leaves the message unchanged.
func IsMessageNotModified(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && strings.Contains(apiErr.Description, "message is not modified")
}
