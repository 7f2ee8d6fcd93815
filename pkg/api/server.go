package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hexagonlabs/roster/pkg/avatars"
	"github.com/hexagonlabs/roster/pkg/httputil"
	"github.com/hexagonlabs/roster/pkg/identity"
	"github.com/hexagonlabs/roster/pkg/middleware"
	"github.com/hexagonlabs/roster/pkg/observability"
)

// maxRequestBytes caps request bodies; avatar uploads are the largest
// legitimate payload
const maxRequestBytes = avatars.MaxAvatarBytes + 4096

// ServerConfig carries the server's optional pieces
type ServerConfig struct {
	AllowedOrigins []string
	// AvatarStore enables avatar uploads when set
	AvatarStore *avatars.Store
	// RateLimit enables Redis-backed rate limiting when set
	RateLimit *middleware.RateLimitMiddleware
	// Metrics enables request instrumentation when set
	Metrics *observability.Metrics
	// Tracing wraps the router in OTel HTTP spans
	Tracing bool
}

// Server is the HTTP surface of the service
type Server struct {
	router  *mux.Router
	handler http.Handler
	logger  *observability.Logger
}

// NewServer assembles the router and middleware chain. Authentication
// runs in optional mode: routes that need a caller identity enforce it
// through the gateway, so public reads and logins share one chain.
func NewServer(gateway *Gateway, identitySvc identity.Service, logger *observability.Logger, cfg ServerConfig) *Server {
	router := mux.NewRouter()

	NewAuthHandlers(gateway, identitySvc, cfg.AvatarStore).RegisterRoutes(router)
	NewOrgHandlers(gateway).RegisterRoutes(router)

	authMw := middleware.NewAuthMiddleware(identitySvc, true)

	middlewares := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		observability.PanicRecoveryMiddleware(logger),
		httputil.CORSMiddleware(cfg.AllowedOrigins),
		httputil.MaxBytesMiddleware(maxRequestBytes),
		authMw.Handler,
	}
	if cfg.RateLimit != nil {
		middlewares = append(middlewares, cfg.RateLimit.Handler)
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, observability.HTTPMetricsMiddleware(cfg.Metrics))
	}

	handler := httputil.Chain(middlewares...)(router)
	if cfg.Tracing {
		handler = otelhttp.NewHandler(handler, "roster.api")
	}

	return &Server{
		router:  router,
		handler: handler,
		logger:  logger,
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router exposes the bare router for tests
func (s *Server) Router() *mux.Router {
	return s.router
}
