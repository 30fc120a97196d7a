package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sydlexius/smack/internal/api/middleware"
	"github.com/sydlexius/smack/internal/connection"
	"github.com/sydlexius/smack/internal/connection/jellyfin"
)

// ServerStore is the read side of the remote server configuration store.
type ServerStore interface {
	List(ctx context.Context) ([]connection.Server, error)
	GetByID(ctx context.Context, id string) (*connection.Server, error)
}

// RouterDeps bundles all dependencies needed by the HTTP router.
type RouterDeps struct {
	// Servers may be nil when no configuration store is available; the
	// remote endpoints then answer 404.
	Servers     ServerStore
	Remote      *jellyfin.Client
	RateLimiter *middleware.RateLimiter
	Logger      *slog.Logger
	BasePath    string
}

// Router sets up all HTTP routes for the application.
type Router struct {
	servers     ServerStore
	remote      *jellyfin.Client
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
	basePath    string
}

// NewRouter creates a new Router with all routes configured.
func NewRouter(deps RouterDeps) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	remote := deps.Remote
	if remote == nil {
		remote = jellyfin.New(logger)
	}
	return &Router{
		servers:     deps.Servers,
		remote:      remote,
		rateLimiter: deps.RateLimiter,
		logger:      logger.With(slog.String("component", "api")),
		basePath:    deps.BasePath,
	}
}

// Handler returns the fully configured HTTP handler with middleware applied.
func (r *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	bp := r.basePath

	mux.HandleFunc("GET "+bp+"/api/v1/health", r.handleHealth)
	mux.HandleFunc("GET "+bp+"/Smack/Browser", r.handleBrowserPage)

	// Remote browsing routes
	mux.HandleFunc("GET "+bp+"/Smack/Servers", r.limit(r.handleListServers))
	mux.HandleFunc("GET "+bp+"/Smack/Libraries/{serverId}", r.limit(r.handleListLibraries))
	mux.HandleFunc("GET "+bp+"/Smack/Items/{serverId}/{parentId}", r.limit(r.handleListItems))
	mux.HandleFunc("GET "+bp+"/Smack/Stream/{serverId}/{itemId}", r.limit(r.handleStream))

	return middleware.Logging(r.logger)(middleware.SecurityHeaders(mux))
}

// limit wraps a handler with the per-client rate limiter, if configured.
func (r *Router) limit(h http.HandlerFunc) http.HandlerFunc {
	if r.rateLimiter == nil {
		return h
	}
	return r.rateLimiter.Middleware(h).ServeHTTP
}
