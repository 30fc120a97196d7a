package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sydlexius/smack/internal/connection"
	"github.com/sydlexius/smack/internal/connection/jellyfin"
)

const (
	msgNoConfiguration = "Plugin configuration not available."
	msgServerNotFound  = "Remote server not found."
	msgNotConfigured   = "Remote server is not fully configured."
	msgNoStreamURL     = "Unable to build stream URL for remote item."
)

// serverResponse is the public projection of a remote server record. It has
// no field for the API key.
type serverResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ServerURL    string `json:"serverUrl"`
	RemoteUserID string `json:"remoteUserId"`
	Configured   bool   `json:"configured"`
}

type streamResponse struct {
	StreamURL  string `json:"streamUrl"`
	ServerName string `json:"serverName"`
	ItemID     string `json:"itemId"`
	Protocol   string `json:"protocol"`
	MediaType  string `json:"mediaType"`
	Name       string `json:"name"`
}

func toServerResponse(s connection.Server) serverResponse {
	return serverResponse{
		ID:           s.ID,
		Name:         s.Name,
		ServerURL:    s.ServerURL,
		RemoteUserID: s.RemoteUserID,
		Configured:   s.Configured(),
	}
}

// handleListServers lists configured remote servers without credentials.
// GET /Smack/Servers
func (r *Router) handleListServers(w http.ResponseWriter, req *http.Request) {
	out := []serverResponse{}
	if r.servers == nil {
		writeJSON(w, http.StatusOK, out)
		return
	}

	servers, err := r.servers.List(req.Context())
	if err != nil {
		r.internalError(w, req, "listing remote servers", err)
		return
	}
	for _, s := range servers {
		out = append(out, toServerResponse(s))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleListLibraries lists the top-level views of a remote server.
// GET /Smack/Libraries/{serverId}
func (r *Router) handleListLibraries(w http.ResponseWriter, req *http.Request) {
	srv, ok := r.resolveServer(w, req)
	if !ok {
		return
	}

	libraries, err := r.remote.ListLibraries(req.Context(), *srv)
	if err != nil {
		r.remoteError(w, req, srv, err)
		return
	}
	writeJSON(w, http.StatusOK, libraries)
}

// handleListItems lists the children of a library or folder on a remote server.
// GET /Smack/Items/{serverId}/{parentId}
func (r *Router) handleListItems(w http.ResponseWriter, req *http.Request) {
	srv, ok := r.resolveServer(w, req)
	if !ok {
		return
	}

	items, err := r.remote.ListItems(req.Context(), *srv, req.PathValue("parentId"))
	if err != nil {
		r.remoteError(w, req, srv, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// handleStream returns a direct download URL for a remote item.
// GET /Smack/Stream/{serverId}/{itemId}
func (r *Router) handleStream(w http.ResponseWriter, req *http.Request) {
	srv, ok := r.resolveServer(w, req)
	if !ok {
		return
	}

	itemID := req.PathValue("itemId")
	u, err := r.remote.StreamURL(*srv, itemID)
	if err != nil {
		r.remoteError(w, req, srv, err)
		return
	}
	if u == nil {
		writeError(w, http.StatusNotFound, msgNoStreamURL)
		return
	}

	name := srv.Name
	if name == "" {
		name = "Server"
	}
	writeJSON(w, http.StatusOK, streamResponse{
		StreamURL:  u.String(),
		ServerName: srv.Name,
		ItemID:     itemID,
		Protocol:   "File",
		MediaType:  "Video",
		Name:       "Remote: " + name,
	})
}

// resolveServer looks up the record named by the serverId path value and
// rejects records that lack a URL or API key. It writes the error response
// itself and reports whether the caller should continue.
func (r *Router) resolveServer(w http.ResponseWriter, req *http.Request) (*connection.Server, bool) {
	if r.servers == nil {
		writeError(w, http.StatusNotFound, msgNoConfiguration)
		return nil, false
	}

	srv, err := r.servers.GetByID(req.Context(), req.PathValue("serverId"))
	if errors.Is(err, connection.ErrNotFound) {
		writeError(w, http.StatusNotFound, msgServerNotFound)
		return nil, false
	}
	if err != nil {
		r.internalError(w, req, "loading remote server", err)
		return nil, false
	}

	if !srv.Configured() {
		writeError(w, http.StatusBadRequest, msgNotConfigured)
		return nil, false
	}
	return srv, true
}

// remoteError maps a remote client failure onto an HTTP response.
func (r *Router) remoteError(w http.ResponseWriter, req *http.Request, srv *connection.Server, err error) {
	var (
		cfgErr   *jellyfin.ConfigurationError
		httpErr  *jellyfin.HTTPError
		parseErr *jellyfin.ParseError
	)

	switch {
	case errors.Is(err, context.Canceled) && req.Context().Err() != nil:
		r.logger.Debug("remote request canceled",
			"server_id", srv.ID, "path", req.URL.Path)
	case errors.As(err, &cfgErr):
		writeError(w, http.StatusBadRequest, cfgErr.Error())
	case errors.As(err, &httpErr):
		r.logger.Warn("remote server returned an error",
			"server_id", srv.ID, "status", httpErr.StatusCode)
		writeError(w, http.StatusBadGateway, fmt.Sprintf("Remote server error: unexpected status %d %s",
			httpErr.StatusCode, http.StatusText(httpErr.StatusCode)))
	case errors.As(err, &parseErr):
		r.internalError(w, req, "parsing remote response", err)
	default:
		r.logger.Warn("remote request failed", "server_id", srv.ID, "error", err)
		writeError(w, http.StatusBadGateway, "Remote server error: "+err.Error())
	}
}

func (r *Router) internalError(w http.ResponseWriter, req *http.Request, msg string, err error) {
	if req.Context().Err() != nil {
		r.logger.Debug(msg+" canceled", "error", err)
		return
	}
	r.logger.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}
