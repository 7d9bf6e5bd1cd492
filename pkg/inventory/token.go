package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/model"
)

// accessToken is a provider bearer token. Values are immutable once published.
type accessToken struct {
	value     string
	expiresAt time.Time
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// validToken returns the cached token when it stays valid for at least the
// configured margin. Readers never block.
func (c *Client) validToken() *accessToken {
	t := c.token.Load()
	if t == nil || !c.now().Add(c.cfg.TokenMargin).Before(t.expiresAt) {
		return nil
	}
	return t
}

// getToken returns a usable token, acquiring one if needed. Concurrent callers
// that find no valid token share a single acquisition request.
func (c *Client) getToken(ctx context.Context) (*accessToken, error) {
	if t := c.validToken(); t != nil {
		return t, nil
	}

	ch := c.tokenGroup.DoChan("token", func() (any, error) {
		if t := c.validToken(); t != nil {
			return t, nil
		}
		// The request outlives any single caller's cancellation: others may be waiting on it.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Timeout)
		defer cancel()

		t, err := c.fetchToken(fetchCtx)
		if err != nil {
			return nil, err
		}
		c.token.Store(t)
		c.metrics.TokenRefresh()
		c.logger.Debug("provider token acquired", "expires_at", t.expiresAt)
		return t, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*accessToken), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for access token: %w", model.ErrProvider, ctx.Err())
	}
}

// dropToken forgets t if it is still the cached token.
func (c *Client) dropToken(t *accessToken) {
	c.token.CompareAndSwap(t, nil)
}

func (c *Client) fetchToken(ctx context.Context) (*accessToken, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: token request paced out: %w", model.ErrAuth, err)
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/v1/security/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: create token request", model.ErrAuth)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		// The transport error may echo the request, so only its kind is kept.
		return nil, fmt.Errorf("%w: token request failed", model.ErrAuth)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: token endpoint returned status %d", model.ErrAuth, resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("%w: malformed token response", model.ErrAuth)
	}
	if tr.AccessToken == "" || tr.ExpiresIn <= 0 {
		return nil, fmt.Errorf("%w: token response missing access_token or expires_in", model.ErrAuth)
	}

	return &accessToken{
		value:     tr.AccessToken,
		expiresAt: c.now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}
