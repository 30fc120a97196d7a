// Package jellyfin talks to remote Jellyfin-compatible media servers on
// behalf of a stored connection.Server record.
package jellyfin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/sydlexius/smack/internal/connection"
	"github.com/valyala/fastjson"
)

// maxErrBody caps how much of a failed response is kept in an HTTPError.
const maxErrBody = 1 << 20 // 1 MB

// Client issues requests against remote servers. It holds no per-server
// state, so one Client serves every record and is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Client on top of http.DefaultClient.
func New(logger *slog.Logger) *Client {
	return NewWithHTTPClient(http.DefaultClient, logger)
}

// NewWithHTTPClient creates a Client with a caller-supplied transport. Any
// timeout policy belongs to that http.Client.
func NewWithHTTPClient(httpClient *http.Client, logger *slog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger.With(slog.String("integration", "jellyfin")),
	}
}

// ListLibraries returns the library views visible to the API key's user.
// Views without an id are dropped.
func (c *Client) ListLibraries(ctx context.Context, server connection.Server) ([]LibraryView, error) {
	base, err := baseURL(server)
	if err != nil {
		return nil, err
	}

	body, err := c.get(ctx, base+"Users/Me/Views?api_key="+escape(server.APIKey))
	if err != nil {
		return nil, fmt.Errorf("getting library views: %w", err)
	}

	libs := []LibraryView{}
	err = eachItem(body, func(v *fastjson.Value) {
		id := stringField(v, "Id")
		if id == "" {
			return
		}
		libs = append(libs, LibraryView{
			ID:   id,
			Name: stringField(v, "Name"),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("decoding library views: %w", err)
	}
	return libs, nil
}

// ListItems returns the direct children of parentID. An empty parentID is
// sent as-is and lets the remote server pick its default root.
func (c *Client) ListItems(ctx context.Context, server connection.Server, parentID string) ([]Item, error) {
	base, err := baseURL(server)
	if err != nil {
		return nil, err
	}

	target := base + "Users/Me/Items?ParentId=" + escape(parentID) +
		"&Fields=BasicSyncInfo&api_key=" + escape(server.APIKey)

	body, err := c.get(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("getting items: %w", err)
	}

	items := []Item{}
	err = eachItem(body, func(v *fastjson.Value) {
		id := stringField(v, "Id")
		if id == "" {
			return
		}
		items = append(items, Item{
			ID:       id,
			Name:     stringField(v, "Name"),
			ParentID: stringField(v, "ParentId"),
			Type:     stringField(v, "Type"),
			IsFolder: boolField(v, "IsFolder"),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("decoding items: %w", err)
	}
	return items, nil
}

// StreamURL builds the direct download URL for itemID. It makes no request.
// A blank itemID yields a nil URL and no error.
func (c *Client) StreamURL(server connection.Server, itemID string) (*url.URL, error) {
	return StreamURL(server, itemID)
}

// StreamURL is the transport-free form of Client.StreamURL.
func StreamURL(server connection.Server, itemID string) (*url.URL, error) {
	if strings.TrimSpace(itemID) == "" {
		return nil, nil
	}

	base, err := baseURL(server)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(base + "Items/" + escape(itemID) + "/Download?api_key=" + escape(server.APIKey))
	if err != nil {
		return nil, fmt.Errorf("building stream url: %w", err)
	}
	return u, nil
}

// get performs a GET and returns the full body of a 2xx response. The body
// is always closed, including on cancellation.
func (c *Client) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("remote request", slog.String("url", redact(target)))

	resp, err := c.httpClient.Do(req) //nolint:gosec // URL built from a validated base + fixed API path
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			uerr.URL = redact(uerr.URL)
		}
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(errBody)),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return body, nil
}
