package carrier

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"carrier_sales/internal/cache"
)

// Verifier checks carriers against a Registry with a bounded timeout. When the
// registry cannot answer it returns the Fallback status instead of an error.
type Verifier struct {
	registry Registry
	timeout  time.Duration
	logger   *zap.Logger
	cache    cache.Cache[string, *Record]
	cacheTTL time.Duration
	observe  func(Status)
}

type Option func(*Verifier)

// WithCache caches registry answers for ttl, including "no such carrier".
// Failed lookups are never cached.
func WithCache(c cache.Cache[string, *Record], ttl time.Duration) Option {
	return func(v *Verifier) {
		v.cache = c
		v.cacheTTL = ttl
	}
}

// WithObserver registers a callback invoked with every returned status.
func WithObserver(fn func(Status)) Option {
	return func(v *Verifier) { v.observe = fn }
}

func NewVerifier(registry Registry, timeout time.Duration, logger *zap.Logger, opts ...Option) *Verifier {
	v := &Verifier{
		registry: registry,
		timeout:  timeout,
		logger:   logger,
		cache:    cache.NoopCache[string, *Record]{},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify looks up a carrier by MC number, or by DOT number when no MC number
// is given.
func (v *Verifier) Verify(ctx context.Context, mcNumber, dotNumber string) (Status, error) {
	mc, dot := NormalizeNumber(mcNumber), NormalizeNumber(dotNumber)
	if mc == "" && dot == "" {
		return Status{}, fmt.Errorf("%w: mc_number or dot_number required", ErrInvalidArgument)
	}
	if mc != "" && !isDigits(mc) {
		return Status{}, fmt.Errorf("%w: mc_number %q must be numeric", ErrInvalidArgument, mcNumber)
	}
	if dot != "" && !isDigits(dot) {
		return Status{}, fmt.Errorf("%w: dot_number %q must be numeric", ErrInvalidArgument, dotNumber)
	}

	id := Identifier{Kind: KindMC, Number: mc}
	if mc == "" {
		id = Identifier{Kind: KindDOT, Number: dot}
	}

	rec, ok := v.cache.Get(id.String())
	if ok {
		v.logger.Debug("carrier record from cache", zap.String("id", id.String()))
	} else {
		var err error
		rec, err = v.lookup(ctx, id)
		if err != nil {
			return v.done(Fallback(mc, dot, err)), nil
		}
		v.cache.Set(id.String(), rec, v.cacheTTL)
	}

	if rec == nil {
		return v.done(Status{
			MCNumber:        mc,
			DOTNumber:       dot,
			OperatingStatus: StatusUnknown,
			Source:          SourceLive,
			Message:         "carrier not found in FMCSA",
		}), nil
	}
	return v.done(rec.toStatus(mc, dot)), nil
}

func (v *Verifier) lookup(ctx context.Context, id Identifier) (*Record, error) {
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}
	start := time.Now()
	rec, err := v.registry.Lookup(ctx, id)
	if err != nil {
		v.logger.Warn("carrier registry lookup failed, using fallback",
			zap.String("id", id.String()),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, err
	}
	if rec == nil {
		v.logger.Info("carrier not found in registry", zap.String("id", id.String()))
		return nil, nil
	}
	v.logger.Info("carrier found",
		zap.String("id", id.String()),
		zap.String("legal_name", rec.LegalName),
		zap.String("allowed_to_operate", rec.AllowedToOperate),
		zap.Bool("out_of_service", rec.outOfService()))
	return rec, nil
}

func (v *Verifier) done(st Status) Status {
	if v.observe != nil {
		v.observe(st)
	}
	return st
}
