package entitlements

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sidebar-notepads/backend/internal/pkg/metrics"
)

const DefaultResolveTimeout = 5 * time.Second

var (
	// ErrProviderUnavailable means the billing provider could not be asked.
	// Callers must treat it as "cannot verify" and never as "not Pro".
	ErrProviderUnavailable = errors.New("billing provider unavailable")
	ErrEmailRequired       = errors.New("email is required")
)

// Resolver answers whether an authenticated email currently holds Pro.
type Resolver interface {
	Resolve(ctx context.Context, email string) (Decision, error)
}

// CustomerSource looks up the full billing record for an email. A nil record
// with a nil error means the provider has no such customer.
type CustomerSource interface {
	LookupCustomer(ctx context.Context, email string) (*CustomerRecord, error)
}

// CacheStore reads the locally persisted decision for an email.
type CacheStore interface {
	CachedDecision(ctx context.Context, email string) (Decision, bool, error)
}

// LiveResolver asks the provider on every call.
type LiveResolver struct {
	source  CustomerSource
	catalog Catalog
	timeout time.Duration
}

func NewLiveResolver(source CustomerSource, catalog Catalog, timeout time.Duration) *LiveResolver {
	if timeout <= 0 {
		timeout = DefaultResolveTimeout
	}
	return &LiveResolver{source: source, catalog: catalog, timeout: timeout}
}

func (r *LiveResolver) Resolve(ctx context.Context, email string) (Decision, error) {
	email = normalizeEmail(email)
	if email == "" {
		return Free(), ErrEmailRequired
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rec, err := r.source.LookupCustomer(ctx, email)
	if err != nil {
		metrics.EntitlementResolutions.WithLabelValues("live", "provider_error").Inc()
		log.Warn().Err(err).
			Str("email", email).
			Str("call", "lookup_customer").
			Msg("entitlement resolution failed")
		return Free(), fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}

	decision := r.catalog.Derive(rec)
	metrics.EntitlementResolutions.WithLabelValues("live", outcomeLabel(decision)).Inc()
	return decision, nil
}

// CachedResolver serves the webhook-maintained decision and falls back to
// another resolver when nothing is cached for the email.
type CachedResolver struct {
	store    CacheStore
	fallback Resolver
}

func NewCachedResolver(store CacheStore, fallback Resolver) *CachedResolver {
	return &CachedResolver{store: store, fallback: fallback}
}

func (r *CachedResolver) Resolve(ctx context.Context, email string) (Decision, error) {
	email = normalizeEmail(email)
	if email == "" {
		return Free(), ErrEmailRequired
	}

	decision, found, err := r.store.CachedDecision(ctx, email)
	switch {
	case err != nil:
		log.Warn().Err(err).Str("email", email).Msg("cached entitlement read failed, resolving live")
	case found:
		metrics.EntitlementResolutions.WithLabelValues("cache", outcomeLabel(decision)).Inc()
		return NewDecision(decision.Plan), nil
	}

	if r.fallback == nil {
		return Free(), fmt.Errorf("%w: no fallback resolver", ErrProviderUnavailable)
	}
	return r.fallback.Resolve(ctx, email)
}

func outcomeLabel(d Decision) string {
	if d.HasPro {
		return string(d.Plan)
	}
	return "free"
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
