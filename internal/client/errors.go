package client

import (
	"errors"
	"fmt"
	"net/http"
)

type HTTPStatusError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "http request failed"
	}
	if e.Status != "" {
		return e.Status
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("http status %d", e.StatusCode)
	}
	return "http request failed"
}

func IsUnauthorized(err error) bool {
	code := StatusCode(err)
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		return 0
	}
	return statusErr.StatusCode
}

func isStatus(err error, code int) bool {
	return err != nil && StatusCode(err) == code
}
