package tokengate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/sidebar-notepads/backend/app/models"
	"github.com/sidebar-notepads/backend/internal/pkg/entitlements"
	"github.com/sidebar-notepads/backend/internal/pkg/metrics"
)

var (
	ErrNotEntitled     = errors.New("pro subscription required")
	ErrNoLinkedAccount = errors.New("no google account linked")
	ErrNoAccessToken   = errors.New("no access token available")
	ErrTokenExpired    = errors.New("access token expired")
)

// AccountStore reads the linked provider account of a user.
type AccountStore interface {
	GetByUserAndProvider(ctx context.Context, userID, provider string) (*models.ProviderAccount, error)
}

// Decrypter opens tokens sealed at rest.
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// Token is what the extension receives. ExpiresAt and ExpiresIn are nil when
// the provider never reported an expiry.
type Token struct {
	AccessToken string     `json:"accessToken"`
	ExpiresAt   *time.Time `json:"expiresAt"`
	ExpiresIn   *int64     `json:"expiresIn"`
	Scopes      []string   `json:"scopes"`
}

// Gate releases a user's stored Google access token only to Pro users.
type Gate struct {
	resolver entitlements.Resolver
	accounts AccountStore
	cipher   Decrypter
	now      func() time.Time
}

func New(resolver entitlements.Resolver, accounts AccountStore, cipher Decrypter) *Gate {
	return &Gate{resolver: resolver, accounts: accounts, cipher: cipher, now: time.Now}
}

// Release checks entitlement before touching the account store, so a
// provider failure never leaks a token.
func (g *Gate) Release(ctx context.Context, userID, email string) (*Token, error) {
	decision, err := g.resolver.Resolve(ctx, email)
	if err != nil {
		metrics.TokenGateOutcomes.WithLabelValues("provider_error").Inc()
		return nil, err
	}
	if !decision.HasPro {
		metrics.TokenGateOutcomes.WithLabelValues("not_entitled").Inc()
		return nil, ErrNotEntitled
	}

	account, err := g.accounts.GetByUserAndProvider(ctx, userID, models.ProviderGoogle)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.TokenGateOutcomes.WithLabelValues("no_account").Inc()
		return nil, ErrNoLinkedAccount
	}
	if err != nil {
		return nil, fmt.Errorf("load google account: %w", err)
	}
	if strings.TrimSpace(account.AccessTokenEnc) == "" {
		metrics.TokenGateOutcomes.WithLabelValues("no_token").Inc()
		return nil, ErrNoAccessToken
	}

	now := g.now()
	if account.IsAccessTokenExpired(now) {
		metrics.TokenGateOutcomes.WithLabelValues("expired").Inc()
		return nil, ErrTokenExpired
	}

	accessToken, err := g.cipher.Decrypt(account.AccessTokenEnc)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("stored google token cannot be decrypted")
		metrics.TokenGateOutcomes.WithLabelValues("no_token").Inc()
		return nil, ErrNoAccessToken
	}

	out := &Token{AccessToken: accessToken, Scopes: account.Scopes()}
	if account.AccessTokenExpiresAt != nil {
		expiresAt := account.AccessTokenExpiresAt.UTC()
		expiresIn := int64(expiresAt.Sub(now) / time.Second)
		if expiresIn < 0 {
			expiresIn = 0
		}
		out.ExpiresAt = &expiresAt
		out.ExpiresIn = &expiresIn
	}
	metrics.TokenGateOutcomes.WithLabelValues("released").Inc()
	return out, nil
}
