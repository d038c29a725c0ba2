package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/driftwell/driftwell-go/common"
	"github.com/driftwell/driftwell-go/models"
)

// refreshLeeway is how close to expiry an access token may get before we
// refresh it proactively instead of waiting for a 401 mid-drain.
const refreshLeeway = 30 * time.Second

// HTTPClient implements Service over the backend's JSON API. The transport is
// injectable so the caching interceptor can wrap it.
type HTTPClient struct {
	baseURL string
	http    *http.Client

	mu           sync.Mutex
	accessToken  string
	refreshToken string
}

func NewHTTPClient(baseURL string, transport http.RoundTripper, timeout time.Duration) *HTTPClient {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Transport: transport, Timeout: timeout},
	}
}

// SetTokens installs the session's access/refresh token pair.
func (c *HTTPClient) SetTokens(access, refresh string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = access
	c.refreshToken = refresh
}

// ensureFreshToken refreshes the access token when its exp claim is near.
// The claim is parsed unverified: this is a client-side scheduling hint, the
// server still validates every request.
func (c *HTTPClient) ensureFreshToken(ctx context.Context) error {
	c.mu.Lock()
	access, refresh := c.accessToken, c.refreshToken
	c.mu.Unlock()

	if access == "" || refresh == "" {
		return nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(access, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if time.Until(exp.Time) > refreshLeeway {
		return nil
	}

	var out struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	in := map[string]string{"refreshToken": refresh}
	if err := c.do(ctx, http.MethodPost, "/api/auth/refresh", in, &out); err != nil {
		return err
	}

	c.mu.Lock()
	c.accessToken = out.AccessToken
	c.refreshToken = out.RefreshToken
	c.mu.Unlock()
	return nil
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/ping", nil, nil)
}

func (c *HTTPClient) CreateEntry(ctx context.Context, e *models.Entry) (*models.Entry, error) {
	if err := c.ensureFreshToken(ctx); err != nil {
		return nil, err
	}
	out := &models.Entry{}
	if err := c.do(ctx, http.MethodPost, "/api/entries", e, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) UpdateEntry(ctx context.Context, e *models.Entry) (*models.Entry, error) {
	if err := c.ensureFreshToken(ctx); err != nil {
		return nil, err
	}
	out := &models.Entry{}
	if err := c.do(ctx, http.MethodPut, "/api/entries/"+url.PathEscape(e.Id), e, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) DeleteEntry(ctx context.Context, id string) error {
	if err := c.ensureFreshToken(ctx); err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, "/api/entries/"+url.PathEscape(id), nil, nil)
}

func (c *HTTPClient) ListEntries(ctx context.Context, ownerID string) ([]models.Entry, error) {
	if err := c.ensureFreshToken(ctx); err != nil {
		return nil, err
	}
	var out []models.Entry
	path := "/api/entries?owner=" + url.QueryEscape(ownerID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchAsset streams a media payload. A cancelled context surfaces as
// ErrDownloadAborted and no partial bytes escape to the caller.
func (c *HTTPClient) FetchAsset(ctx context.Context, assetURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			return nil, common.ErrDownloadAborted
		}
		return nil, fmt.Errorf("%w: %w", common.ErrRemoteUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: download failed: %s", common.ErrRemoteUnreachable, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			return nil, common.ErrDownloadAborted
		}
		return nil, fmt.Errorf("%w: read body: %w", common.ErrRemoteUnreachable, err)
	}
	return data, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	c.mu.Lock()
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
	c.mu.Unlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrRemoteUnreachable, err)
	}
	defer resp.Body.Close()

	if err := mapStatus(resp.StatusCode); err != nil {
		return err
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// mapStatus sorts responses into the error taxonomy: 5xx and 503 are
// transport-class (retriable), other 4xx are application-level rejections.
func mapStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return common.ErrNotFound
	case code >= 500:
		return fmt.Errorf("%w: server returned %d", common.ErrRemoteUnreachable, code)
	default:
		return fmt.Errorf("%w: server returned %d", common.ErrReplayFailed, code)
	}
}
