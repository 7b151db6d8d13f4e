// Package client is the Go client for the ledger API. It keeps an
// owner-scoped read cache with optimistic overlays and invalidates it from
// the server's change feed.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"bizledger/internal/api"
	"bizledger/internal/models"
	"bizledger/internal/summary"
)

const refreshTimeout = 15 * time.Second

type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      RetryConfig
	logger     *slog.Logger

	mu    sync.RWMutex
	token string
	owner string

	parties *Cache[[]models.Party]
	txns    *Cache[[]models.Transaction]

	searchMu     sync.Mutex
	searchCancel context.CancelFunc

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

func WithRetry(r RetryConfig) Option {
	return func(c *Client) {
		c.retry = r
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", baseURL)
	}
	bgCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry:      DefaultRetryConfig(),
		logger:     slog.Default(),
		parties:    NewCache[[]models.Party](),
		txns:       NewCache[[]models.Transaction](),
		bgCtx:      bgCtx,
		bgCancel:   cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close stops background refreshes and waits for them to finish.
func (c *Client) Close() {
	c.bgCancel()
	c.bg.Wait()
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) Owner() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.owner
}

// SetSession installs the identity every call runs as.
func (c *Client) SetSession(ownerID, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owner, c.token = ownerID, token
}

// ClearSession forgets the identity and everything cached for it.
func (c *Client) ClearSession() {
	c.mu.Lock()
	owner := c.owner
	c.owner, c.token = "", ""
	c.mu.Unlock()
	if owner != "" {
		c.parties.Purge(owner)
		c.txns.Purge(owner)
	}
}

func (c *Client) requireOwner() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.owner == "" || c.token == "" {
		return "", &AuthError{Message: "not signed in"}
	}
	return c.owner, nil
}

func (c *Client) Register(ctx context.Context, email, password, displayName string) (api.TokenResponse, error) {
	var out api.TokenResponse
	_, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/register",
		body:   api.RegisterRequest{Email: email, Password: password, DisplayName: displayName},
		public: true,
	}, &out)
	if err != nil {
		return api.TokenResponse{}, err
	}
	c.SetSession(out.User.ID, out.Token)
	return out, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (api.TokenResponse, error) {
	var out api.TokenResponse
	_, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/login",
		body:   api.LoginRequest{Email: email, Password: password},
		public: true,
	}, &out)
	if err != nil {
		return api.TokenResponse{}, err
	}
	c.SetSession(out.User.ID, out.Token)
	return out, nil
}

// Authenticate resumes a session from a stored token.
func (c *Client) Authenticate(ctx context.Context, token string) (api.User, error) {
	if token == "" {
		return api.User{}, &AuthError{Message: "no token"}
	}
	c.SetSession("", token)
	var user api.User
	if _, err := c.doRetry(ctx, request{method: http.MethodGet, path: "/auth/me"}, &user); err != nil {
		c.SetSession("", "")
		return api.User{}, err
	}
	c.SetSession(user.ID, token)
	return user, nil
}

// filterKey is the canonical cache id of a party filter.
func filterKey(f models.PartyFilter) string {
	v := url.Values{}
	if f.Kind != "" {
		v.Set("kind", string(f.Kind))
	}
	if f.Status != "" {
		v.Set("status", string(f.Status))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		v.Set("search", s)
	}
	if f.Sort != "" {
		v.Set("sort", f.Sort)
	}
	return v.Encode()
}

func parseFilterKey(id string) models.PartyFilter {
	v, _ := url.ParseQuery(id)
	return models.PartyFilter{
		Kind:   models.PartyKind(v.Get("kind")),
		Status: models.PartyStatus(v.Get("status")),
		Search: v.Get("search"),
		Sort:   v.Get("sort"),
	}
}

func (c *Client) fetchParties(ctx context.Context, key Key) ([]models.Party, error) {
	var wire []api.Party
	query, _ := url.ParseQuery(key.ID)
	if _, err := c.doRetry(ctx, request{method: http.MethodGet, path: "/parties", query: query}, &wire); err != nil {
		return nil, err
	}
	parties := make([]models.Party, 0, len(wire))
	for _, p := range wire {
		party, err := p.Model()
		if err != nil {
			return nil, err
		}
		parties = append(parties, party)
	}
	return parties, nil
}

func (c *Client) fetchTransactions(ctx context.Context, key Key) ([]models.Transaction, error) {
	var wire []api.Transaction
	path := "/parties/" + url.PathEscape(key.ID) + "/transactions"
	if _, err := c.doRetry(ctx, request{method: http.MethodGet, path: path}, &wire); err != nil {
		return nil, err
	}
	txns := make([]models.Transaction, 0, len(wire))
	for _, t := range wire {
		txn, err := t.Model(key.Owner)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, nil
}

// read serves a cache entry, fetching on a miss and revalidating in the
// background when stale. A transient failure falls back to the cached value.
func read[V any](ctx context.Context, c *Client, cache *Cache[V], key Key, fetch func(context.Context, Key) (V, error)) (V, error) {
	if snap, ok := cache.Get(key); ok {
		if snap.Stale {
			revalidate(c, cache, key, fetch)
		}
		return snap.Value, nil
	}

	ticket := cache.Ticket()
	value, err := fetch(ctx, key)
	if err != nil {
		if snap, ok := cache.Get(key); ok && IsTransient(err) {
			c.logger.Warn("serving cached value after fetch failure", "kind", key.Kind, "id", key.ID, "error", err)
			return snap.Value, nil
		}
		var zero V
		return zero, err
	}
	cache.Apply(key, ticket, value)
	if snap, ok := cache.Get(key); ok {
		return snap.Value, nil
	}
	return value, nil
}

func revalidate[V any](c *Client, cache *Cache[V], key Key, fetch func(context.Context, Key) (V, error)) {
	ticket, ok := cache.BeginRefresh(key)
	if !ok {
		return
	}
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		ctx, cancel := context.WithTimeout(c.bgCtx, refreshTimeout)
		defer cancel()
		value, err := fetch(ctx, key)
		if err != nil {
			cache.Abandon(key, ticket)
			if !errors.Is(err, context.Canceled) {
				c.logger.Warn("background refresh failed", "kind", key.Kind, "id", key.ID, "error", err)
			}
			return
		}
		cache.Apply(key, ticket, value)
	}()
}

func (c *Client) refreshParties(owner string) {
	for _, key := range c.parties.Keys(owner, KindParties) {
		revalidate(c, c.parties, key, c.fetchParties)
	}
}

// ListParties returns the owner's parties matching filter.
func (c *Client) ListParties(ctx context.Context, filter models.PartyFilter) ([]models.Party, error) {
	owner, err := c.requireOwner()
	if err != nil {
		return nil, err
	}
	if filter.Kind != "" && !filter.Kind.Valid() {
		return nil, &ValidationError{Message: "unknown kind", Fields: map[string]string{"kind": "must be customer or supplier"}}
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, &ValidationError{Message: "unknown status", Fields: map[string]string{"status": "must be active or settled"}}
	}
	return read(ctx, c, c.parties, Key{Owner: owner, Kind: KindParties, ID: filterKey(filter)}, c.fetchParties)
}

// SearchParties is ListParties for type-ahead input: starting a search
// cancels the one before it, which then returns ErrSuperseded.
func (c *Client) SearchParties(ctx context.Context, filter models.PartyFilter) ([]models.Party, error) {
	searchCtx, cancel := context.WithCancel(ctx)
	c.searchMu.Lock()
	if c.searchCancel != nil {
		c.searchCancel()
	}
	c.searchCancel = cancel
	c.searchMu.Unlock()
	defer cancel()

	parties, err := c.ListParties(searchCtx, filter)
	if err != nil && searchCtx.Err() != nil && ctx.Err() == nil {
		return nil, ErrSuperseded
	}
	return parties, err
}

func (c *Client) ListTransactions(ctx context.Context, partyID string) ([]models.Transaction, error) {
	owner, err := c.requireOwner()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(partyID) == "" {
		return nil, &ValidationError{Message: "party id is required"}
	}
	return read(ctx, c, c.txns, Key{Owner: owner, Kind: KindTransactions, ID: partyID}, c.fetchTransactions)
}

// Summary aggregates the cached active parties locally.
func (c *Client) Summary(ctx context.Context) (summary.Summary, error) {
	parties, err := c.ListParties(ctx, models.PartyFilter{Status: models.StatusActive})
	if err != nil {
		return summary.Summary{}, err
	}
	return summary.Compute(parties), nil
}

func (c *Client) Reminder(ctx context.Context, partyID string) (api.ReminderResponse, error) {
	if _, err := c.requireOwner(); err != nil {
		return api.ReminderResponse{}, err
	}
	var out api.ReminderResponse
	_, err := c.doRetry(ctx, request{method: http.MethodGet, path: "/parties/" + url.PathEscape(partyID) + "/reminder"}, &out)
	return out, err
}

func (c *Client) SelfCheck(ctx context.Context) (api.SelfCheckResponse, error) {
	if _, err := c.requireOwner(); err != nil {
		return api.SelfCheckResponse{}, err
	}
	var out api.SelfCheckResponse
	_, err := c.doRetry(ctx, request{method: http.MethodGet, path: "/parties/self-check"}, &out)
	return out, err
}

// HandleEvent applies one change notification. Events for anyone but the
// signed-in owner are ignored.
func (c *Client) HandleEvent(event models.ChangeEvent) {
	owner := c.Owner()
	if owner == "" || event.OwnerID != owner {
		return
	}
	c.parties.InvalidateKind(owner, KindParties)
	switch event.Table {
	case models.TableTransactions:
		if event.PartyID != "" {
			c.txns.Invalidate(Key{Owner: owner, Kind: KindTransactions, ID: event.PartyID})
		}
	case models.TableParties:
		if event.Event == models.EventDelete {
			c.txns.Remove(Key{Owner: owner, Kind: KindTransactions, ID: event.RowID})
		}
	}
	c.refreshParties(owner)
}

// Resync marks every cached read of the owner stale and refreshes it in the
// background. The change feed calls it after reconnecting.
func (c *Client) Resync(owner string) {
	if owner == "" || owner != c.Owner() {
		return
	}
	c.parties.InvalidateKind(owner, KindParties)
	for _, key := range c.txns.InvalidateKind(owner, KindTransactions) {
		revalidate(c, c.txns, key, c.fetchTransactions)
	}
	c.refreshParties(owner)
}
