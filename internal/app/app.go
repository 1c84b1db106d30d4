package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"carrier_sales/internal/cache"
	"carrier_sales/internal/carrier"
	"carrier_sales/internal/config"
	"carrier_sales/internal/httpapi"
	"carrier_sales/internal/loads"
	"carrier_sales/internal/metrics"
	"carrier_sales/internal/store"
)

const shutdownTimeout = 10 * time.Second

// App wires the load repository, carrier verifier, call store and HTTP API.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	loads   *loads.Repository
	store   *store.Store
	metrics *metrics.Metrics
	watcher *loads.Watcher
	handler http.Handler
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if !cfg.IsLocal() {
		gin.SetMode(gin.ReleaseMode)
	}
	m := metrics.New()

	repo := LoadRepository(cfg, log)
	m.SetLoadsLoaded(repo.Len())

	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log.Info("call store opened",
		zap.String("backend", cfg.StoreBackend),
		zap.Int("records", st.Len()))

	verifier := NewVerifier(cfg, log, m)
	router := httpapi.NewRouter(cfg, repo, verifier, st, m, log.Named("http"))

	a := &App{
		cfg:     cfg,
		logger:  log,
		loads:   repo,
		store:   st,
		metrics: m,
		handler: router.Engine(),
	}
	if cfg.WatchLoads {
		a.watcher = loads.NewWatcher(cfg.LoadsPath, repo, log.Named("loads"))
		a.watcher.OnReload = m.SetLoadsLoaded
	}
	return a, nil
}

// LoadRepository reads the load file. A bad file leaves the repository empty
// and the service keeps running.
func LoadRepository(cfg config.Config, log *zap.Logger) *loads.Repository {
	repo := loads.NewRepository()
	if err := repo.LoadFile(cfg.LoadsPath); err != nil {
		log.Error("loads unavailable, serving an empty set", zap.String("path", cfg.LoadsPath), zap.Error(err))
		return repo
	}
	log.Info("loads loaded", zap.String("path", cfg.LoadsPath), zap.Int("count", repo.Len()))
	return repo
}

// OpenStore opens the call store on the configured backend.
func OpenStore(ctx context.Context, cfg config.Config) (*store.Store, error) {
	var backend store.Backend
	switch cfg.StoreBackend {
	case config.BackendJSON, "":
		backend = store.NewJSONFile(cfg.CallsPath)
	case config.BackendSQLite:
		db, err := store.OpenSQLite(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store %s: %w", cfg.DBPath, err)
		}
		backend = db
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
	st, err := store.Open(ctx, backend, store.WithClock(config.Now))
	if err != nil {
		backend.Close()
		return nil, err
	}
	return st, nil
}

// NewVerifier builds the FMCSA-backed verifier. m may be nil.
func NewVerifier(cfg config.Config, log *zap.Logger, m *metrics.Metrics) *carrier.Verifier {
	client := carrier.NewFMCSAClient(cfg.FMCSA.BaseURL, cfg.FMCSA.APIKey, &http.Client{Timeout: cfg.FMCSA.Timeout})
	opts := []carrier.Option{}
	if cfg.VerifyCacheTTL > 0 {
		opts = append(opts, carrier.WithCache(cache.NewTTLCache[string, *carrier.Record](), cfg.VerifyCacheTTL))
	}
	if m != nil {
		opts = append(opts, carrier.WithObserver(func(st carrier.Status) {
			m.RecordVerification(string(st.Source), st.Verified)
		}))
	}
	if cfg.FMCSA.APIKey == "" {
		log.Warn("FMCSA_API_KEY not set, carrier verification will use the offline fallback")
	}
	return carrier.NewVerifier(client, cfg.FMCSA.Timeout, log.Named("carrier"), opts...)
}

// Run serves HTTP and, when enabled, watches the load file until ctx is done.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPPort,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if a.watcher != nil {
		g.Go(func() error {
			if err := a.watcher.Run(gctx); err != nil {
				a.logger.Warn("load watcher stopped", zap.Error(err))
			}
			return nil
		})
	}

	err := g.Wait()
	if cerr := a.store.Close(); err == nil {
		err = cerr
	}
	a.logger.Info("shutdown complete")
	return err
}

func (a *App) Handler() http.Handler { return a.handler }
func (a *App) Store() *store.Store { return a.store }
func (a *App) Loads() *loads.Repository { return a.loads }
func (a *App) Metrics() *metrics.Metrics { return a.metrics }
