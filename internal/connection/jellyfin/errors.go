package jellyfin

import (
	"fmt"
	"net/http"
)

var (
	_ error = &ConfigurationError{}
	_ error = &HTTPError{}
	_ error = &ParseError{}
)

// ConfigurationError reports a server record whose URL cannot be used as an
// absolute base URL. No request is attempted when it is returned.
type ConfigurationError struct {
	ServerURL string
	Err       error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return "remote server url is not a valid absolute url: " + e.Err.Error()
	}
	return "remote server url is not a valid absolute url"
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// HTTPError is returned when the remote server answers with a non-2xx status.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	if e.Body == "" {
		return "unexpected status " + status
	}
	return fmt.Sprintf("unexpected status %s: %s", status, e.Body)
}

// ParseError is returned when a 2xx response body is not valid JSON.
type ParseError struct {
	Err  error
	Body []byte
}

func (e *ParseError) Error() string {
	return "parse: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
