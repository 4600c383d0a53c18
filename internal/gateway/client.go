// Package gateway is a thin client for the hosted-checkout payment provider.
// It knows how to authenticate, create checkout sessions, and query session
// state; it holds no order state of its own.
package gateway

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// Session statuses as reported by the provider.
const (
	SessionPending = "pending"
	SessionPaid    = "paid"
	SessionFailed  = "failed"
	SessionExpired = "expired"
)

// Errors surfaced by the client. Payment declines are not errors: they arrive
// as Session.Status == SessionFailed.
var (
	// ErrUnavailable covers timeouts, connection failures, and provider 5xx.
	// Callers may retry with backoff.
	ErrUnavailable = errors.New("payment gateway unavailable")

	// ErrDuplicateSession is the provider's 409 when a session already exists
	// for the reference. The orchestrator resolves it by re-querying.
	ErrDuplicateSession = errors.New("duplicate checkout session for reference")

	// ErrSessionNotFound is the provider's 404 for an unknown session or
	// reference lookup.
	ErrSessionNotFound = errors.New("checkout session not found")
)

// Session is the provider's view of a hosted checkout session. It is never
// persisted as ground truth; only the order's own status is.
type Session struct {
	ID            string
	PayURL        string
	Status        string
	Reference     string
	TransactionID string
}

// Config holds the provider credentials and endpoint.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string

	// Timeout bounds every HTTP round trip. Zero means 10s.
	Timeout time.Duration
}

// Client issues authenticated calls to the payment provider.
type Client struct {
	http    *http.Client
	baseURL string
	id      string
	secret  string

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

// tokenSlack refreshes the access token slightly before the provider expires
// it, so in-flight calls do not race the expiry.
const tokenSlack = 30 * time.Second

// NewClient creates a provider client. The HTTP client applies cfg.Timeout to
// every call, token fetches included.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		id:      cfg.ClientID,
		secret:  cfg.ClientSecret,
	}
}

// AccessToken returns a valid bearer token, fetching a fresh one when the
// cached token is absent or near expiry. Tokens are short-lived; the cache
// only spares repeated round trips within a single process lifetime.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExp.Add(-tokenSlack)) {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.id)
	form.Set("client_secret", c.secret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.Wrap(err, "build token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(ErrUnavailable, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errors.Wrap(ErrUnavailable, "read token response")
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 {
			return "", errors.Wrapf(ErrUnavailable, "token endpoint status %d", resp.StatusCode)
		}
		return "", errors.Errorf("token request rejected: status %d", resp.StatusCode)
	}

	var token string
	var expiresIn int64
	d := jx.DecodeBytes(body)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "access_token":
			v, err := d.Str()
			token = v
			return err
		case "expires_in":
			v, err := d.Int64()
			expiresIn = v
			return err
		default:
			return d.Skip()
		}
	}); err != nil {
		return "", errors.Wrap(err, "decode token response")
	}
	if token == "" {
		return "", errors.New("token response missing access_token")
	}
	if expiresIn <= 0 {
		expiresIn = 300
	}

	c.token = token
	c.tokenExp = time.Now().Add(time.Duration(expiresIn) * time.Second)
	return c.token, nil
}

// invalidateToken drops the cached token so the next call fetches a new one.
func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// CreateSession opens a hosted checkout session for the given order
// reference. The amount is transmitted as a fixed two-decimal string to match
// the provider's ledger exactly.
func (c *Client) CreateSession(ctx context.Context, reference string, amount decimal.Decimal, currency, description string) (*Session, error) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("reference", func(e *jx.Encoder) { e.Str(reference) })
		e.Field("amount", func(e *jx.Encoder) { e.Str(amount.StringFixed(2)) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(currency) })
		e.Field("description", func(e *jx.Encoder) { e.Str(description) })
	})

	body, err := c.doJSON(ctx, http.MethodPost, "/v1/checkout/sessions", e.Bytes())
	if err != nil {
		return nil, err
	}
	return decodeSession(body)
}

// SessionStatus queries the provider for the current state of a session.
func (c *Client) SessionStatus(ctx context.Context, sessionID string) (*Session, error) {
	body, err := c.doJSON(ctx, http.MethodGet,
		"/v1/checkout/sessions/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return nil, err
	}
	return decodeSession(body)
}

// SessionByReference looks up the session the provider holds for an order
// reference. Used to recover from a duplicate-session collision.
func (c *Client) SessionByReference(ctx context.Context, reference string) (*Session, error) {
	body, err := c.doJSON(ctx, http.MethodGet,
		"/v1/checkout/sessions?reference="+url.QueryEscape(reference), nil)
	if err != nil {
		return nil, err
	}
	return decodeSession(body)
}

// doJSON performs one authenticated round trip. A 401 invalidates the cached
// token and retries once with a fresh one; provider 5xx and transport errors
// map to ErrUnavailable.
func (c *Client) doJSON(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		token, err := c.AccessToken(ctx)
		if err != nil {
			return nil, err
		}

		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
		if err != nil {
			return nil, errors.Wrap(err, "build request")
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, errors.Wrap(ErrUnavailable, err.Error())
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if err != nil {
			return nil, errors.Wrap(ErrUnavailable, "read response")
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized && attempt == 0:
			c.invalidateToken()
			continue
		case resp.StatusCode == http.StatusNotFound:
			return nil, ErrSessionNotFound
		case resp.StatusCode == http.StatusConflict:
			if code := decodeErrorCode(body); code == "duplicate_reference" {
				return nil, ErrDuplicateSession
			}
			return nil, errors.Errorf("gateway conflict: %s", decodeErrorCode(body))
		case resp.StatusCode >= 500:
			return nil, errors.Wrapf(ErrUnavailable, "gateway status %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			return nil, errors.Errorf("gateway rejected request: status %d code %s",
				resp.StatusCode, decodeErrorCode(body))
		}
		return body, nil
	}
}

func decodeSession(body []byte) (*Session, error) {
	var s Session
	d := jx.DecodeBytes(body)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			s.ID, err = strOrNull(d)
		case "pay_url":
			s.PayURL, err = strOrNull(d)
		case "status":
			s.Status, err = strOrNull(d)
		case "reference":
			s.Reference, err = strOrNull(d)
		case "transaction_id":
			s.TransactionID, err = strOrNull(d)
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		return nil, errors.Wrap(err, "decode session")
	}
	if s.ID == "" {
		return nil, errors.New("session response missing id")
	}
	return &s, nil
}

// strOrNull reads a string field, treating JSON null as the empty string.
func strOrNull(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

// decodeErrorCode extracts the "code" field from a provider error body.
// Returns an empty string when the body is not a recognizable error object.
func decodeErrorCode(body []byte) string {
	var code string
	d := jx.DecodeBytes(body)
	_ = d.Obj(func(d *jx.Decoder, key string) error {
		if key == "code" {
			v, err := d.Str()
			code = v
			return err
		}
		return d.Skip()
	})
	return code
}
