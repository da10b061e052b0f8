package forge

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx response from the hosting service.
type APIError struct {
	StatusCode int
	URL        string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("forge API %d for %s: %s", e.StatusCode, e.URL, e.Message)
	}
	return fmt.Sprintf("forge API %d for %s", e.StatusCode, e.URL)
}

// IsNotFound reports whether err is an APIError for a missing resource.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
