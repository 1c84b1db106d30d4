package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"carrier_sales/internal/carrier"
	"carrier_sales/internal/config"
	"carrier_sales/internal/loads"
	"carrier_sales/internal/logger"
	"carrier_sales/internal/metrics"
	"carrier_sales/internal/store"
)

const apiKeyHeader = "X-API-Key"

var (
	errBadRequest   = errors.New("bad request")
	errUnauthorized = errors.New("unauthorized")
)

// Router builds the gin engine serving /health, /metrics and /api.
type Router struct {
	cfg      config.Config
	loads    *loads.Repository
	verifier *carrier.Verifier
	store    *store.Store
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

func NewRouter(cfg config.Config, repo *loads.Repository, verifier *carrier.Verifier, st *store.Store, m *metrics.Metrics, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		cfg:      cfg,
		loads:    repo,
		verifier: verifier,
		store:    st,
		metrics:  m,
		logger:   log,
		now:      config.Now,
	}
}

// Engine returns a gin engine with logging, recovery and metrics middleware
// and every route registered.
func (r *Router) Engine() *gin.Engine {
	engine := gin.New()
	engine.Use(logger.GinMiddleware(r.logger))
	engine.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		r.logger.Error("panic in handler", zap.Any("panic", recovered), zap.String("path", c.Request.URL.Path))
		r.fail(c, http.StatusInternalServerError, errors.New("internal server error"))
	}))
	if r.metrics != nil {
		engine.Use(r.metrics.GinMiddleware())
	}
	engine.Use(r.corsMiddleware())
	r.Register(engine)
	return engine
}

// corsMiddleware answers browser preflights before API key checks run, so
// dashboards on another origin can send X-API-Key.
func (r *Router) corsMiddleware() gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", apiKeyHeader, logger.RequestIDHeader},
		ExposeHeaders: []string{logger.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	var origins []string
	for _, o := range r.cfg.CORSOrigins {
		if strings.HasPrefix(o, "http://") || strings.HasPrefix(o, "https://") {
			origins = append(origins, o)
			continue
		}
		r.logger.Warn("ignoring invalid cors origin", zap.String("origin", o))
	}
	switch {
	case len(r.cfg.CORSOrigins) == 0:
		cfg.AllowAllOrigins = true
	case len(origins) == 0:
		cfg.AllowOriginFunc = func(string) bool { return false }
	default:
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

func (r *Router) Register(engine *gin.Engine) {
	engine.GET("/health", r.health)
	if r.metrics != nil {
		engine.GET("/metrics", gin.WrapH(r.metrics.Handler()))
	}

	api := engine.Group("/api", r.requireAPIKey())
	api.GET("/verify-carrier", r.verifyCarrier)
	api.GET("/loads", r.searchLoads)
	api.GET("/loads/:load_id", r.getLoad)
	api.POST("/call-results", r.saveCallResult)
	api.POST("/save-call-results", r.saveCallResult)
	api.GET("/calls", r.listCalls)
	api.GET("/calls/:call_id", r.getCall)
	api.GET("/analytics", r.getAnalytics)

	engine.NoRoute(func(c *gin.Context) {
		r.fail(c, http.StatusNotFound, errors.New("endpoint not found"))
	})
}

// requireAPIKey rejects requests whose X-API-Key does not match the configured
// key. An unconfigured key rejects everything.
func (r *Router) requireAPIKey() gin.HandlerFunc {
	want := []byte(r.cfg.APIKey)
	return func(c *gin.Context) {
		got := []byte(strings.TrimSpace(c.GetHeader(apiKeyHeader)))
		if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
			r.logger.Warn("rejected api request",
				zap.String("path", c.Request.URL.Path),
				zap.String("api_key", logger.MaskAPIKey(string(got))))
			r.fail(c, http.StatusUnauthorized, errUnauthorized)
			return
		}
		c.Next()
	}
}

func (r *Router) timestamp() string {
	return r.now().UTC().Format(time.RFC3339)
}

// respondJSON writes a success envelope around payload.
func (r *Router) respondJSON(c *gin.Context, status int, payload gin.H) {
	body := gin.H{"success": true, "timestamp": r.timestamp()}
	for k, v := range payload {
		body[k] = v
	}
	c.JSON(status, body)
}

func (r *Router) fail(c *gin.Context, status int, err error) {
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		r.logger.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		var perr *store.PersistenceError
		if errors.As(err, &perr) {
			msg = "failed to persist call result"
		}
	}
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msg, "timestamp": r.timestamp()})
}

// failErr maps domain errors onto HTTP status codes.
func (r *Router) failErr(c *gin.Context, err error) {
	r.fail(c, statusFor(err), err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, carrier.ErrInvalidArgument),
		errors.Is(err, store.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, loads.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
