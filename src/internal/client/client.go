package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"pushguard/src/internal/guard"
	"pushguard/src/internal/intercept"
	"pushguard/src/internal/sanitize"
	"pushguard/src/internal/tasks"
)

// ErrUnauthorized is returned after the backend answered 401. The stored
// credentials are already cleared when it is returned.
var ErrUnauthorized = errors.New("authentication expired, please log in again")

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d", e.Status)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

// Credentials is where the bearer token lives between runs.
type Credentials interface {
	Token() string
	SaveCredentials(token string, user map[string]any) error
	ClearCredentials() error
}

type Options struct {
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	Transport     http.RoundTripper
	Logger        *slog.Logger
}

type Client struct {
	baseURL   string
	http      *http.Client
	transport *intercept.Transport
	limiter   *rate.Limiter
	creds     Credentials
	sanitizer *sanitize.Sanitizer
	logger    *slog.Logger
}

type LoginResponse struct {
	Token       string `json:"token"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

func New(opts Options, creds Credentials) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	tr := intercept.Wrap(opts.Transport)
	return &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		http:      &http.Client{Timeout: opts.Timeout, Transport: tr},
		transport: tr,
		limiter:   rate.NewLimiter(limit, opts.Burst),
		creds:     creds,
		// listing observers on the transport already warn about these repairs
		sanitizer: sanitize.New(logger).WithLevel(slog.LevelDebug),
		logger:    logger.With("component", "api_client"),
	}
}

// Transport is the interceptor every request of this client goes through.
func (c *Client) Transport() *intercept.Transport {
	return c.transport
}

func (c *Client) token() string {
	if c.creds == nil {
		return ""
	}
	return c.creds.Token()
}

// do sends one JSON request. With auth set it carries the bearer token and
// treats 401 as an expired session.
func (c *Client) do(ctx context.Context, method, path string, body, out any, auth bool) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if auth {
		bearer := ""
		if tok := c.token(); tok != "" {
			bearer = "Bearer " + tok
		}
		req.Header.Set("Authorization", bearer)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("api request", "method", method, "path", path)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}

	if resp.StatusCode == http.StatusUnauthorized && auth {
		c.logger.Warn("authentication failed, clearing credentials", "path", path)
		if c.creds != nil {
			if err := c.creds.ClearCredentials(); err != nil {
				c.logger.Error("failed to clear credentials", "error", err)
			}
		}
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Message: errorMessage(data)}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func errorMessage(data []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return strings.TrimSpace(string(data))
	}
	if body.Error != "" {
		return body.Error
	}
	return body.Message
}

// taskPath validates id and builds /api/push_task/<id><suffix>.
func taskPath(id, suffix string) (string, error) {
	if err := guard.ValidateID(id, true); err != nil {
		return "", err
	}
	return "/api/push_task/" + url.PathEscape(strings.TrimSpace(id)) + suffix, nil
}

// Login exchanges username and password for a token and stores it.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResponse, error) {
	var out LoginResponse
	in := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", in, &out, false); err != nil {
		return LoginResponse{}, err
	}
	if out.Token == "" {
		return LoginResponse{}, fmt.Errorf("login response carried no token")
	}
	if c.creds != nil {
		user := map[string]any{"username": out.Username, "display_name": out.DisplayName, "role": out.Role}
		if err := c.creds.SaveCredentials(out.Token, user); err != nil {
			return out, fmt.Errorf("save credentials: %w", err)
		}
	}
	return out, nil
}

func (c *Client) CurrentUser(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodGet, "/api/user/current", nil, &out, true)
	return out, err
}

func (c *Client) Version(ctx context.Context) (string, error) {
	var out struct {
		Version string `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/version", nil, &out, false); err != nil {
		return "", err
	}
	return out.Version, nil
}

// ListTasks fetches the task listing and returns it sanitized. The same
// response also reaches the interceptor's listing observers.
func (c *Client) ListTasks(ctx context.Context) ([]tasks.Record, sanitize.Report, error) {
	var payload any
	if err := c.do(ctx, http.MethodGet, "/api/push_task", nil, &payload, true); err != nil {
		return nil, sanitize.Report{}, err
	}
	records, ok := tasks.ExtractRecords(payload)
	if !ok {
		return nil, sanitize.Report{}, fmt.Errorf("unexpected task listing shape %T", payload)
	}
	return records, c.sanitizer.Records(records), nil
}

func (c *Client) CreateTask(ctx context.Context, task tasks.Record) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodPost, "/api/push_task", task, &out, true)
	return out, err
}

func (c *Client) UpdateTask(ctx context.Context, id string, task tasks.Record) error {
	path, err := taskPath(id, "")
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, path, task, nil, true)
}

func (c *Client) ToggleTask(ctx context.Context, id string, enabled bool) error {
	path, err := taskPath(id, "/toggle")
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, path, map[string]bool{"enabled": enabled}, nil, true)
}

func (c *Client) RunTask(ctx context.Context, id string) error {
	path, err := taskPath(id, "/run")
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, nil, nil, true)
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	path, err := taskPath(id, "")
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil, true)
}

func (c *Client) ListWebhooks(ctx context.Context) ([]map[string]any, error) {
	return c.list(ctx, "/api/feishu_webhook")
}

func (c *Client) ListSendRecords(ctx context.Context) ([]map[string]any, error) {
	return c.list(ctx, "/api/send_records")
}

func (c *Client) list(ctx context.Context, path string) ([]map[string]any, error) {
	var payload any
	if err := c.do(ctx, http.MethodGet, path, nil, &payload, true); err != nil {
		return nil, err
	}
	records, ok := tasks.ExtractRecords(payload)
	if !ok {
		return nil, fmt.Errorf("unexpected response shape %T from %s", payload, path)
	}
	out := make([]map[string]any, len(records))
	for i, r := range records {
		out[i] = r
	}
	return out, nil
}
