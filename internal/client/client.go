// Package client is the Go client for the check-in action API. It holds the
// session token, lazily loads thumbnails and drives the two-phase save.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds a single API call
const DefaultTimeout = 30 * time.Second

// CodeAuthRequired is returned when a protected action has no valid token
const CodeAuthRequired = "AUTH_REQUIRED"

// APIError is a failure envelope returned by the server
type APIError struct {
	Action  string
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Action, e.Message, e.Code)
}

// IsAuthRequired reports whether err is an AUTH_REQUIRED API error
func IsAuthRequired(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeAuthRequired
}

// TransportError means no valid envelope was received. The request may
// still have been committed server side.
type TransportError struct {
	Action string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Action, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// CheckIn is a record as returned by the listing
type CheckIn struct {
	ID           string    `json:"id"`
	LocationName string    `json:"locationName"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Timestamp    time.Time `json:"timestamp"`
	Description  string    `json:"description"`
	Category     string    `json:"category"`
	HasThumbnail bool      `json:"hasThumbnail"`
}

// CheckInInput holds the fields of a new record
type CheckInInput struct {
	LocationName string
	Latitude     float64
	Longitude    float64
	Description  string
	Category     string
}

// SaveResult is the stored record echoed by a save
type SaveResult = CheckIn

// AttachResult reports whether a thumbnail was kept
type AttachResult struct {
	ID           string `json:"id"`
	HasThumbnail bool   `json:"hasThumbnail"`
}

// Page is one window of the newest-first listing
type Page struct {
	Items      []CheckIn `json:"items"`
	Page       int       `json:"page"`
	Limit      int       `json:"limit"`
	Total      int       `json:"total"`
	TotalPages int       `json:"totalPages"`
}

// Stats holds the public counters
type Stats struct {
	VisitCount     int64 `json:"visitCount"`
	TotalLocations int   `json:"totalLocations"`
}

// Config configures a Client
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Tokens     TokenStore
	Timeout    time.Duration
	// Now overrides the clock used for token expiry; nil means time.Now
	Now func() time.Time
}

// Client calls the action endpoint. Protected actions carry the token held
// in the TokenStore.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenStore
	timeout time.Duration
	now     func() time.Time
}

// New creates a Client for the endpoint at cfg.BaseURL
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Tokens == nil {
		cfg.Tokens = NewMemoryTokenStore()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    cfg.HTTPClient,
		tokens:  cfg.Tokens,
		timeout: cfg.Timeout,
		now:     cfg.Now,
	}
}

// Tokens returns the token store used by the client
func (c *Client) Tokens() TokenStore {
	return c.tokens
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

// call posts params as a JSON body. The body is sent as text/plain, which
// browsers and the server both accept without a preflight.
func (c *Client) call(ctx context.Context, action string, params map[string]any, out any) error {
	body := map[string]any{"action": action}
	for k, v := range params {
		body[k] = v
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", action, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api", bytes.NewReader(raw))
	if err != nil {
		return &TransportError{Action: action, Err: err}
	}
	req.Header.Set("Content-Type", "text/plain;charset=utf-8")

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Action: action, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Action: action, Err: err}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return &TransportError{Action: action, Err: fmt.Errorf("invalid response (status %d): %w", resp.StatusCode, err)}
	}
	if !env.Success {
		return &APIError{Action: action, Status: resp.StatusCode, Code: env.Code, Message: env.Error}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &TransportError{Action: action, Err: fmt.Errorf("invalid data: %w", err)}
	}
	return nil
}

func (c *Client) callWithToken(ctx context.Context, action string, params map[string]any, out any) error {
	if params == nil {
		params = map[string]any{}
	}
	params["token"] = c.tokens.Token()
	return c.call(ctx, action, params, out)
}

// Login exchanges the PIN for a session token and stores it
func (c *Client) Login(ctx context.Context, pin string) error {
	var res struct {
		Token     string `json:"token"`
		ExpiresIn int64  `json:"expiresIn"`
	}
	if err := c.call(ctx, "login", map[string]any{"pin": pin}, &res); err != nil {
		return err
	}
	c.tokens.SetToken(res.Token, c.now().Add(time.Duration(res.ExpiresIn)*time.Second))
	return nil
}

// VerifyToken asks the server whether the stored token is still valid. An
// invalid token is cleared from the store.
func (c *Client) VerifyToken(ctx context.Context) (bool, error) {
	token := c.tokens.Token()
	if token == "" {
		return false, nil
	}
	var res struct {
		Valid bool `json:"valid"`
	}
	if err := c.call(ctx, "verifyToken", map[string]any{"token": token}, &res); err != nil {
		return false, err
	}
	if !res.Valid {
		c.tokens.Clear()
	}
	return res.Valid, nil
}

// Logout drops the session on the server and clears the local token
func (c *Client) Logout(ctx context.Context) error {
	defer c.tokens.Clear()
	if c.tokens.Token() == "" {
		return nil
	}
	return c.callWithToken(ctx, "logout", nil, nil)
}

func checkInParams(in CheckInInput) map[string]any {
	return map[string]any{
		"locationName": in.LocationName,
		"latitude":     in.Latitude,
		"longitude":    in.Longitude,
		"description":  in.Description,
		"category":     in.Category,
	}
}

// SaveCheckIn creates a record without a thumbnail
func (c *Client) SaveCheckIn(ctx context.Context, in CheckInInput) (*SaveResult, error) {
	var res SaveResult
	if err := c.callWithToken(ctx, "saveCheckIn", checkInParams(in), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SaveWithImage creates a record and its thumbnail in one request
func (c *Client) SaveWithImage(ctx context.Context, in CheckInInput, thumbnail string) (*SaveResult, error) {
	params := checkInParams(in)
	params["thumbnail"] = thumbnail
	var res SaveResult
	if err := c.callWithToken(ctx, "saveWithImage", params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// AttachThumbnail adds a thumbnail to an existing record
func (c *Client) AttachThumbnail(ctx context.Context, id, thumbnail string) (*AttachResult, error) {
	var res AttachResult
	if err := c.callWithToken(ctx, "attachThumbnail", map[string]any{"id": id, "thumbnail": thumbnail}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// DeleteCheckIn removes a record and its thumbnail
func (c *Client) DeleteCheckIn(ctx context.Context, id string) error {
	return c.callWithToken(ctx, "deleteCheckIn", map[string]any{"id": id}, nil)
}

// GetCheckIns fetches one page of the listing
func (c *Client) GetCheckIns(ctx context.Context, page, limit int) (*Page, error) {
	var res Page
	if err := c.call(ctx, "getCheckIns", map[string]any{"page": page, "limit": limit}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetThumbnail fetches the thumbnail for id; "" when there is none
func (c *Client) GetThumbnail(ctx context.Context, id string) (string, error) {
	var res struct {
		Thumbnail string `json:"thumbnail"`
	}
	if err := c.call(ctx, "getThumbnail", map[string]any{"id": id}, &res); err != nil {
		return "", err
	}
	return res.Thumbnail, nil
}

// GetStats fetches the public counters
func (c *Client) GetStats(ctx context.Context) (*Stats, error) {
	var res Stats
	if err := c.call(ctx, "getStats", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// IncrementVisit bumps the visit counter
func (c *Client) IncrementVisit(ctx context.Context) (int64, error) {
	var res struct {
		VisitCount int64 `json:"visitCount"`
	}
	if err := c.call(ctx, "incrementVisit", nil, &res); err != nil {
		return 0, err
	}
	return res.VisitCount, nil
}

// SetPin configures the shared PIN using the admin secret
func (c *Client) SetPin(ctx context.Context, adminSecret, pin string) error {
	return c.call(ctx, "setPin", map[string]any{"adminSecret": adminSecret, "pin": pin}, nil)
}

// ChangePin replaces the shared PIN using the current session
func (c *Client) ChangePin(ctx context.Context, newPin string) error {
	return c.callWithToken(ctx, "changePin", map[string]any{"newPin": newPin}, nil)
}
