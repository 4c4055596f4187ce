package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"signpad-agent/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// Client is the HTTP client for the backend device API. All responses pass
// through the normalization layer in result.go.
type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger

	mu    sync.RWMutex
	token string
}

func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "api").Logger(),
	}
}

// SetToken stores the bearer token issued at registration.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token, empty when none was issued.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// TokenExpiry reads the expiry claim from the stored token without verifying
// the signature. Returns false when no token is held or no expiry is set.
func (c *Client) TokenExpiry() (time.Time, bool) {
	token := c.Token()
	if token == "" {
		return time.Time{}, false
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}

	return exp.Time, true
}

func (c *Client) RegisterDevice(ctx context.Context, req *domain.RegisterDeviceRequest) (*domain.RegisterDeviceResponse, error) {
	payload, err := c.post(ctx, "/register-device", req)
	if err != nil {
		return nil, err
	}

	var resp domain.RegisterDeviceResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode registration response: %w", err)
	}

	// Some deployments return the device record at the top level rather
	// than nested.
	if resp.Device.ID == "" {
		var flat domain.RegisteredDevice
		if err := json.Unmarshal(payload, &flat); err == nil && flat.ID != "" {
			resp.Device = flat
		}
	}

	if resp.Token != "" {
		c.SetToken(resp.Token)
	}

	return &resp, nil
}

func (c *Client) UpdateConnection(ctx context.Context, req *domain.UpdateConnectionRequest) (*domain.UpdateConnectionResponse, error) {
	payload, err := c.post(ctx, "/update-connection", req)
	if err != nil {
		return nil, err
	}

	var resp domain.UpdateConnectionResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode connection update response: %w", err)
	}

	return &resp, nil
}

// OnlineDevices lists the devices the backend currently considers online.
// The collection arrives either as a bare array or nested under devices.
func (c *Client) OnlineDevices(ctx context.Context) ([]*domain.RegisteredDevice, error) {
	payload, err := c.get(ctx, "/online-devices")
	if err != nil {
		return nil, err
	}

	var devices []*domain.RegisteredDevice
	if err := json.Unmarshal(payload, &devices); err == nil {
		return devices, nil
	}

	var nested struct {
		Devices []*domain.RegisteredDevice `json:"devices"`
	}
	if err := json.Unmarshal(payload, &nested); err != nil {
		return nil, fmt.Errorf("failed to decode online devices: %w", err)
	}

	return nested.Devices, nil
}

func (c *Client) SubmitSignature(ctx context.Context, req *domain.SubmitSignatureRequest) (*domain.SubmitSignatureResponse, error) {
	payload, err := c.post(ctx, "/submit-signature", req)
	if err != nil {
		return nil, err
	}

	// An empty body is still a success per the lenient contract.
	var resp domain.SubmitSignatureResponse
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &resp)
	}

	return &resp, nil
}

// SignReview fetches the reviewable document HTML for a patron. Pass-through
// display concern.
func (c *Client) SignReview(ctx context.Context, patronID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/sign-review/"+patronID, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build sign-review request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch sign review: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read sign review body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &APIError{Status: resp.StatusCode}
	}

	return string(body), nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

func (c *Client) get(ctx context.Context, path string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	return c.do(req)
}

func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	c.authorize(req)

	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.logger.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("backend call")

	return normalize(resp.StatusCode, body)
}

func (c *Client) authorize(req *http.Request) {
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
