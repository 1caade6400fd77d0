package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"ruleengine/config"
	"ruleengine/service"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HealthChecker reports whether a backing dependency is reachable
type HealthChecker func(ctx context.Context) error

// API holds the HTTP server for the rule engine
type API struct {
	router      *mux.Router
	server      *http.Server
	ruleService *service.RuleService
	health      map[string]HealthChecker
	rateLimiter *RateLimiter
	proxies     []*net.IPNet
	config      *config.Config
	logger      *zap.SugaredLogger
}

// NewAPI creates the API and registers its routes. health may be nil.
func NewAPI(ruleService *service.RuleService, health map[string]HealthChecker, cfg *config.Config, logger *zap.SugaredLogger) *API {
	a := &API{
		router:      mux.NewRouter(),
		ruleService: ruleService,
		health:      health,
		config:      cfg,
		logger:      logger,
		rateLimiter: NewRateLimiter(
			cfg.API.RateLimit.RequestsPerSecond,
			cfg.API.RateLimit.Burst,
			logger,
		),
	}
	proxies, err := cfg.API.TrustedProxyNets()
	if err != nil {
		logger.Warnw("Ignoring trusted proxies", "error", err)
	}
	a.proxies = proxies
	a.setupRoutes()
	a.server = &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return a
}

func (a *API) setupRoutes() {
	a.router.Use(a.rateLimitMiddleware)

	v1 := a.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/rules/parse", a.parseRule).Methods("POST")
	v1.HandleFunc("/rules/evaluate", a.evaluateRule).Methods("POST")
	v1.HandleFunc("/rules/combine", a.combineRules).Methods("POST")
	v1.HandleFunc("/rules", a.listRules).Methods("GET")
	v1.HandleFunc("/rules", a.createRule).Methods("POST")
	v1.HandleFunc("/rules/{id}", a.getRule).Methods("GET")
	v1.HandleFunc("/rules/{id}", a.deleteRule).Methods("DELETE")
	v1.HandleFunc("/rules/{id}/evaluate", a.evaluateStoredRule).Methods("POST")
	v1.HandleFunc("/rules/{id}/conditions", a.addCondition).Methods("POST")
	v1.HandleFunc("/rules/{id}/conditions", a.removeCondition).Methods("DELETE")
	v1.HandleFunc("/rules/{id}/nodes", a.updateNode).Methods("PATCH")
	v1.HandleFunc("/catalog", a.getCatalog).Methods("GET")

	a.router.HandleFunc("/health", a.healthCheck).Methods("GET")
	a.router.Handle("/metrics", promhttp.Handler())
}

// Handler returns the root HTTP handler
func (a *API) Handler() http.Handler {
	return a.router
}

// Start serves on the configured address until Stop is called
func (a *API) Start() error {
	a.logger.Infow("API server listening", "addr", a.server.Addr)
	return a.server.ListenAndServe()
}

// Serve accepts connections on ln until Stop is called
func (a *API) Serve(ln net.Listener) error {
	a.logger.Infow("API server listening", "addr", ln.Addr().String())
	return a.server.Serve(ln)
}

// Stop shuts the server down and stops the rate limiter
func (a *API) Stop(ctx context.Context) error {
	a.rateLimiter.Close()
	return a.server.Shutdown(ctx)
}
