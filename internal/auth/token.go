// Package auth obtains and caches the bearer credential used against the
// payment provider.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/eventpass/ticketpay/internal/config"
	"github.com/eventpass/ticketpay/internal/metrics"
	"github.com/eventpass/ticketpay/internal/patterns"
)

// Provider tokens live for one hour; the cache drops them this long before
// the provider would, so a token handed out here is never about to expire
// mid-charge.
const refreshMargin = 10 * time.Minute

const tokenLifetime = time.Hour

// AuthError reports a failed credential exchange.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("credential exchange failed with status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("credential exchange failed: %s", e.Message)
}

// TokenSource yields a bearer token for the payment provider.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// ClientCredentials is a TokenSource backed by the provider's OAuth2
// client-credentials grant. The token is cached process-wide; refreshes are
// single-flight, so concurrent callers holding an expired token share one
// exchange call instead of issuing redundant ones.
type ClientCredentials struct {
	client *resty.Client
	cfg    config.Provider

	group singleflight.Group

	mutex     sync.RWMutex
	token     string
	expiresAt time.Time

	now func() time.Time
}

// NewClientCredentials creates a token source for the given provider config.
func NewClientCredentials(cfg config.Provider) *ClientCredentials {
	return &ClientCredentials{
		client: resty.New().SetTimeout(patterns.DefaultTimeout).SetRetryCount(0),
		cfg:    cfg,
		now:    time.Now,
	}
}

// Token returns the cached token while it is fresh, refreshing it otherwise.
func (c *ClientCredentials) Token(ctx context.Context) (string, error) {
	c.mutex.RLock()
	token, expiresAt := c.token, c.expiresAt
	c.mutex.RUnlock()

	if token != "" && c.now().Before(expiresAt) {
		return token, nil
	}

	result, err, _ := c.group.Do("token", func() (interface{}, error) {
		// Re-check under the lock: a caller queued behind a completed
		// refresh should not trigger another one.
		c.mutex.RLock()
		token, expiresAt := c.token, c.expiresAt
		c.mutex.RUnlock()
		if token != "" && c.now().Before(expiresAt) {
			return token, nil
		}
		return c.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

func (c *ClientCredentials) refresh(ctx context.Context) (string, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "client_credentials",
			"client_id":     c.cfg.ClientID,
			"client_secret": c.cfg.ClientSecret,
			"resource":      c.cfg.Resource,
		}).
		Post(c.cfg.TokenURL)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		return "", &AuthError{Message: err.Error()}
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		return "", &AuthError{StatusCode: resp.StatusCode(), Message: resp.String()}
	}

	var body tokenResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil || body.AccessToken == "" {
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		return "", &AuthError{StatusCode: resp.StatusCode(), Message: "malformed token response"}
	}

	c.mutex.Lock()
	c.token = body.AccessToken
	c.expiresAt = c.now().Add(tokenLifetime - refreshMargin)
	c.mutex.Unlock()

	metrics.TokenRefreshes.WithLabelValues("ok").Inc()
	log.WithField("expires_at", c.expiresAt).Debug("Provider credential refreshed")

	return body.AccessToken, nil
}

// StaticTokenSource returns the same token on every call. Used in sandbox
// mode where no credential exchange happens.
type StaticTokenSource struct {
	Value string
}

func (s *StaticTokenSource) Token(ctx context.Context) (string, error) {
	return s.Value, nil
}
