package users

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/md-rashed-zaman/freelance-notify/libs/httpx"
	"github.com/segmentio/encoding/json"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type TokenSource interface {
	Token() (string, error)
}

// HTTPClient calls GET {baseURL}/{identifier} on the platform and expects {"username","email"}.
type HTTPClient struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
}

func NewHTTPClient(baseURL string, tokens TokenSource, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		tokens:  tokens,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (c *HTTPClient) ResolveUser(ctx context.Context, id Identifier) (User, error) {
	if id.IsZero() {
		return User{}, ErrNotFound
	}
	identifier := strings.TrimSpace(id.Value)
	if c.baseURL == "" {
		return User{}, fmt.Errorf("user lookup url not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+url.PathEscape(identifier), nil)
	if err != nil {
		return User{}, err
	}
	req.Header.Set("Accept", "application/json")
	httpx.PropagateRequestID(req)
	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return User{}, fmt.Errorf("service token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return User{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return User{}, fmt.Errorf("%w: %s", ErrNotFound, identifier)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return User{}, fmt.Errorf("user lookup returned %d", resp.StatusCode)
	}

	var u User
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&u); err != nil {
		return User{}, fmt.Errorf("decode user: %w", err)
	}
	return u, nil
}
