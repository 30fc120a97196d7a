package jellyfin

import (
	"errors"
	"net/url"
	"strings"

	"github.com/sydlexius/smack/internal/connection"
)

// baseURL validates server.ServerURL and returns it with exactly one
// trailing slash, so relative API paths can be appended directly.
func baseURL(server connection.Server) (string, error) {
	raw := strings.TrimSpace(server.ServerURL)
	u, err := url.Parse(raw)
	if err != nil {
		return "", &ConfigurationError{ServerURL: server.ServerURL, Err: err}
	}
	if !u.IsAbs() || u.Host == "" {
		return "", &ConfigurationError{ServerURL: server.ServerURL, Err: errors.New("scheme and host are required")}
	}

	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimRight(u.Path, "/") + "/"
	if u.RawPath != "" {
		u.RawPath = strings.TrimRight(u.RawPath, "/") + "/"
	}
	return u.String(), nil
}

// escape percent-encodes everything outside the RFC 3986 unreserved set.
// url.QueryEscape already does that except for turning spaces into '+'.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// redact hides the api_key value of a request URL for logging.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	q := u.Query()
	if q.Has("api_key") {
		q.Set("api_key", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
