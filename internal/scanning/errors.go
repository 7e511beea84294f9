package scanning

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrMissingAPIKey is returned by constructors of remote backends when no credential is given
	ErrMissingAPIKey = errors.New("api key is required")

	// ErrEmptyResponse is returned when the model replies without any text
	ErrEmptyResponse = errors.New("empty response from model")
)

// TransportError is a non-success reply from an AI backend
type TransportError struct {
	Backend    string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	msg := e.Body
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s API error (status %d): %s", e.Backend, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s API error: %s", e.Backend, msg)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RateLimited reports whether the backend rejected the call for exceeding its rate limit
func (e *TransportError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// QuotaExceeded reports whether the backend rejected the call because credits ran out
func (e *TransportError) QuotaExceeded() bool {
	return e.StatusCode == http.StatusPaymentRequired
}

// IsRateLimited reports whether err is a rate-limit TransportError
func IsRateLimited(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.RateLimited()
}

// IsQuotaExceeded reports whether err is a quota-exhaustion TransportError
func IsQuotaExceeded(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.QuotaExceeded()
}
