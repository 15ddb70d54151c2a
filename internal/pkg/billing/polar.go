package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"

	"github.com/sidebar-notepads/backend/internal/pkg/entitlements"
	"github.com/sidebar-notepads/backend/internal/pkg/metrics"
)

const (
	PolarProductionBaseURL = "https://api.polar.sh"
	PolarSandboxBaseURL    = "https://sandbox-api.polar.sh"

	defaultPolarTimeout  = 15 * time.Second
	polarPageLimit       = 100
	polarMaxPages        = 50
	polarBreakerFailures = 5
)

var ErrPolarNotConfigured = errors.New("POLAR_ACCESS_TOKEN is not configured")

// PolarAPIError is a non-2xx answer from the Polar API.
type PolarAPIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *PolarAPIError) Error() string {
	return fmt.Sprintf("polar %s %s failed: status=%d body=%s", e.Method, e.Path, e.StatusCode, e.Body)
}

type PolarConfig struct {
	AccessToken string
	BaseURL     string
	Sandbox     bool
	Timeout     time.Duration
}

// PolarClient talks to the Polar REST API with an organization access token.
// All calls share one circuit breaker that opens after consecutive transport
// or 5xx failures.
type PolarClient struct {
	APIBaseURL string
	HTTPClient *http.Client

	configured bool
	breaker    *gobreaker.CircuitBreaker[[]byte]
}

type polarCustomer struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	ExternalID string `json:"external_id"`
}

type polarProduct struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type polarSubscription struct {
	ID                string         `json:"id"`
	Status            string         `json:"status"`
	CustomerID        string         `json:"customer_id"`
	ProductID         string         `json:"product_id"`
	CurrentPeriodEnd  *time.Time     `json:"current_period_end"`
	CancelAtPeriodEnd bool           `json:"cancel_at_period_end"`
	Customer          *polarCustomer `json:"customer"`
	Product           *polarProduct  `json:"product"`
}

type polarOrder struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	CustomerID     string         `json:"customer_id"`
	ProductID      string         `json:"product_id"`
	BillingReason  string         `json:"billing_reason"`
	SubscriptionID *string        `json:"subscription_id"`
	Customer       *polarCustomer `json:"customer"`
	Product        *polarProduct  `json:"product"`
}

type polarList[T any] struct {
	Items      []T `json:"items"`
	Pagination struct {
		TotalCount int `json:"total_count"`
		MaxPage    int `json:"max_page"`
	} `json:"pagination"`
}

// CheckoutRequest is the body of POST /v1/checkouts/.
type CheckoutRequest struct {
	Products           []string          `json:"products"`
	SuccessURL         string            `json:"success_url"`
	CustomerEmail      string            `json:"customer_email,omitempty"`
	ExternalCustomerID string            `json:"external_customer_id,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

type Checkout struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func NewPolarClient(cfg PolarConfig) *PolarClient {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = PolarProductionBaseURL
		if cfg.Sandbox {
			baseURL = PolarSandboxBaseURL
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultPolarTimeout
	}

	token := strings.TrimSpace(cfg.AccessToken)
	httpClient := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))
	httpClient.Timeout = timeout

	return &PolarClient{
		APIBaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: httpClient,
		configured: token != "",
		breaker:    newPolarBreaker(),
	}
}

func newPolarBreaker() *gobreaker.CircuitBreaker[[]byte] {
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "polar",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= polarBreakerFailures
		},
		// A 4xx is a well-formed answer from a healthy provider.
		IsSuccessful: func(err error) bool {
			var apiErr *PolarAPIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode < http.StatusInternalServerError
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
			metrics.ProviderCircuitState.Set(float64(to))
		},
	})
}

// FindCustomerByEmail returns nil, nil when Polar has no customer with this email.
func (c *PolarClient) FindCustomerByEmail(ctx context.Context, email string) (*entitlements.CustomerRecord, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, entitlements.ErrEmailRequired
	}
	q := url.Values{}
	q.Set("email", email)
	q.Set("limit", "1")

	var out polarList[polarCustomer]
	if err := c.getJSON(ctx, "/v1/customers/", q, &out); err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, nil
	}
	cust := out.Items[0]
	return &entitlements.CustomerRecord{
		ID:         cust.ID,
		Email:      strings.ToLower(strings.TrimSpace(cust.Email)),
		ExternalID: cust.ExternalID,
	}, nil
}

func (c *PolarClient) ListSubscriptions(ctx context.Context, customerID string) ([]entitlements.SubscriptionRecord, error) {
	q := url.Values{}
	q.Set("customer_id", customerID)

	items, err := listAllPages[polarSubscription](ctx, c, "/v1/subscriptions/", q)
	if err != nil {
		return nil, err
	}
	subs := make([]entitlements.SubscriptionRecord, 0, len(items))
	for _, s := range items {
		subs = append(subs, s.record())
	}
	return subs, nil
}

func (c *PolarClient) ListOrders(ctx context.Context, customerID string) ([]entitlements.OrderRecord, error) {
	q := url.Values{}
	q.Set("customer_id", customerID)

	items, err := listAllPages[polarOrder](ctx, c, "/v1/orders/", q)
	if err != nil {
		return nil, err
	}
	orders := make([]entitlements.OrderRecord, 0, len(items))
	for _, o := range items {
		orders = append(orders, o.record())
	}
	return orders, nil
}

// LookupCustomer loads the customer for an email together with all of its
// subscriptions and orders.
func (c *PolarClient) LookupCustomer(ctx context.Context, email string) (*entitlements.CustomerRecord, error) {
	rec, err := c.FindCustomerByEmail(ctx, email)
	if err != nil || rec == nil {
		return rec, err
	}
	if rec.Subscriptions, err = c.ListSubscriptions(ctx, rec.ID); err != nil {
		return nil, err
	}
	if rec.Orders, err = c.ListOrders(ctx, rec.ID); err != nil {
		return nil, err
	}
	return rec, nil
}

func (c *PolarClient) CreateCheckout(ctx context.Context, in CheckoutRequest) (*Checkout, error) {
	if len(in.Products) == 0 {
		return nil, errors.New("at least one product is required")
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	body, err := c.do(ctx, http.MethodPost, "/v1/checkouts/", nil, payload)
	if err != nil {
		return nil, err
	}
	var out Checkout
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode polar checkout: %w", err)
	}
	if out.URL == "" {
		return nil, errors.New("polar checkout response missing url")
	}
	return &out, nil
}

// listAllPages follows Polar's page/max_page pagination. A customer with more
// than polarMaxPages pages is reported as an error rather than truncated, so a
// lifetime order on a later page is never silently missed.
func listAllPages[T any](ctx context.Context, c *PolarClient, path string, query url.Values) ([]T, error) {
	var items []T
	for page := 1; ; page++ {
		if page > polarMaxPages {
			return nil, fmt.Errorf("polar %s: more than %d pages", path, polarMaxPages)
		}
		q := url.Values{}
		for k, v := range query {
			q[k] = v
		}
		q.Set("limit", fmt.Sprint(polarPageLimit))
		q.Set("page", fmt.Sprint(page))

		var out polarList[T]
		if err := c.getJSON(ctx, path, q, &out); err != nil {
			return nil, err
		}
		items = append(items, out.Items...)
		if page >= out.Pagination.MaxPage || len(out.Items) == 0 {
			return items, nil
		}
	}
}

func (c *PolarClient) getJSON(ctx context.Context, path string, query url.Values, dst any) error {
	body, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode polar %s: %w", path, err)
	}
	return nil
}

func (c *PolarClient) do(ctx context.Context, method, path string, query url.Values, payload []byte) ([]byte, error) {
	if !c.configured {
		return nil, ErrPolarNotConfigured
	}
	return c.breaker.Execute(func() ([]byte, error) {
		u := c.APIBaseURL + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &PolarAPIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(body)}
		}
		return body, nil
	})
}

func (s polarSubscription) record() entitlements.SubscriptionRecord {
	rec := entitlements.SubscriptionRecord{
		ID:        s.ID,
		Status:    s.Status,
		ProductID: s.ProductID,
	}
	if s.ProductID == "" && s.Product != nil {
		rec.ProductID = s.Product.ID
	}
	if s.CurrentPeriodEnd != nil {
		rec.CurrentPeriodEnd = s.CurrentPeriodEnd.UTC().Format(time.RFC3339)
	}
	return rec
}

func (o polarOrder) record() entitlements.OrderRecord {
	rec := entitlements.OrderRecord{
		ID:            o.ID,
		Status:        o.Status,
		ProductID:     o.ProductID,
		BillingReason: o.BillingReason,
	}
	if o.SubscriptionID != nil {
		rec.SubscriptionID = *o.SubscriptionID
	}
	if o.Product != nil {
		rec.ProductName = o.Product.Name
		if rec.ProductID == "" {
			rec.ProductID = o.Product.ID
		}
	}
	return rec
}
