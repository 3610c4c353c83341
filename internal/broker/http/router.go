package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/mcpbroker/internal/broker/domain"
	"github.com/aussiebroadwan/mcpbroker/internal/broker/mcp"
	"github.com/aussiebroadwan/mcpbroker/internal/broker/service"
	"github.com/aussiebroadwan/mcpbroker/internal/broker/session"
	"github.com/aussiebroadwan/mcpbroker/internal/broker/store"
	"github.com/aussiebroadwan/mcpbroker/pkg/httpx"
	"github.com/aussiebroadwan/mcpbroker/pkg/slogx"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/aussiebroadwan/mcpbroker/internal/broker/http/docs"
)

// DefaultMaxBodyBytes bounds every request body the broker reads.
const DefaultMaxBodyBytes = 1 << 20

// MCPPath is where the MCP transport is mounted.
const MCPPath = "/mcp"

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	baseURL      string
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger
	maxBody      int64

	store    store.Store
	sessions *session.Registry

	TokenService     *service.TokenService
	AuthorizeService *service.AuthorizeService
	DeviceService    *service.DeviceService
	GrantService     *service.GrantService
	MCPHandler       *mcp.Handler
}

// NewRouter creates a router for the broker reachable at baseURL. Services
// are assigned to the exported fields before ApplyRoutes.
func NewRouter(
	baseURL, buildVersion string,
	st store.Store,
	sessions *session.Registry,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		baseURL:      baseURL,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
		maxBody:      DefaultMaxBodyBytes,
		store:        st,
		sessions:     sessions,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
		httpx.Recoverer(),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerOAuth2()
	r.registerDevice()
	r.registerMCP()
	r.registerDiscovery()
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title						MCP Broker API
//	@version					0.1.0
//	@description				OAuth 2.1 authorization server and MCP session broker in front of the main application.
//
//	@contact.name				Aussie Broadwan
//	@contact.url				https://github.com/aussiebroadwan/mcpbroker
//
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//
//	@host						localhost:8080
//	@BasePath					/
//	@schemes					http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Type "Bearer" followed by a space and the access token.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

// userVerifier accepts main application session tokens.
func (r *Router) userVerifier() httpx.VerifierFunc {
	return httpx.VerifierFunc(r.TokenService.VerifyUserToken)
}

func (r *Router) registerOAuth2() {
	authorizeHandler := &AuthorizeHandler{AuthorizeService: r.AuthorizeService}

	// GET and POST /authorize - limited by IP, every call creates a record
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		r.Mux.Handle(method+" /authorize",
			httpx.Chain(authorizeHandler,
				httpx.RateLimitByIP(httpx.RateLimitFromEnv("authorize", httpx.AuthorizeLimit)),
				httpx.MaxBodyBytes(r.maxBody),
			),
		)
	}

	// POST /consent - the signed-in user decides
	r.Mux.Handle("POST /consent",
		httpx.Chain(&ConsentHandler{AuthorizeService: r.AuthorizeService},
			httpx.RateLimitByIP(httpx.RateLimitFromEnv("consent", httpx.ConsentLimit)),
			httpx.MaxBodyBytes(r.maxBody),
			httpx.Authenticate(r.userVerifier()),
		),
	)

	// GET /pending/{authId} - bearer is optional here
	r.Mux.Handle("GET /pending/{authId}",
		httpx.Chain(&PendingHandler{AuthorizeService: r.AuthorizeService, Verifier: r.userVerifier()},
			httpx.RateLimitByIP(httpx.RateLimitFromEnv("consent", httpx.ConsentLimit)),
		),
	)

	// POST /token - all grant types share one IP bucket
	r.Mux.Handle("POST /token",
		httpx.Chain(&TokenHandler{GrantService: r.GrantService},
			httpx.RateLimitByIP(httpx.RateLimitFromEnv("token", httpx.TokenLimit)),
			httpx.MaxBodyBytes(r.maxBody),
		),
	)
}

func (r *Router) registerDevice() {
	h := &DeviceHandler{DeviceService: r.DeviceService}

	r.Mux.Handle("POST /device/code",
		httpx.Chain(http.HandlerFunc(h.HandleCode),
			httpx.RateLimitByIP(httpx.RateLimitFromEnv("authorize", httpx.AuthorizeLimit)),
			httpx.MaxBodyBytes(r.maxBody),
		),
	)

	// GET /device/verify - keyed by IP and user_code so guessing is bounded per code
	r.Mux.Handle("GET /device/verify",
		httpx.Chain(http.HandlerFunc(h.HandleVerify),
			httpx.RateLimitByIPAndField(httpx.RateLimitFromEnv("consent", httpx.ConsentLimit), "user_code"),
		),
	)

	r.Mux.Handle("POST /device/approve",
		httpx.Chain(http.HandlerFunc(h.HandleApprove),
			httpx.RateLimitByIP(httpx.RateLimitFromEnv("consent", httpx.ConsentLimit)),
			httpx.MaxBodyBytes(r.maxBody),
			httpx.Authenticate(r.userVerifier()),
		),
	)
}

func (r *Router) registerMCP() {
	// GET opens the event stream, POST carries JSON-RPC, DELETE ends a
	// session. Anything else is answered 405 by the handler.
	r.Mux.Handle(MCPPath,
		httpx.Chain(r.MCPHandler,
			httpx.MaxBodyBytes(r.maxBody),
			httpx.Authenticate(httpx.VerifierFunc(r.TokenService.VerifyAccessToken),
				httpx.WithResourceMetadata(r.baseURL+protectedResourceMetadataPath),
				httpx.WithRealm("mcp"),
			),
			httpx.RequireAnyScope(domain.SupportedScopes...),
			httpx.RateLimitBySubject(httpx.RateLimitFromEnv("mcp", httpx.MCPLimit)),
		),
	)
}

func (r *Router) registerDiscovery() {
	r.Mux.Handle("GET "+authorizationServerMetadataPath, AuthorizationServerMetadataHandler(r.baseURL))
	r.Mux.Handle("GET "+protectedResourceMetadataPath, ProtectedResourceMetadataHandler(r.baseURL, MCPPath))
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez", LivezHandler(r.startTime, r.buildVersion))
	r.Mux.Handle("GET /readyz", ReadyzHandler(r.startTime, r.buildVersion, r.store, r.sessions))
}
