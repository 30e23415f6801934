package restapi

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

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/nerrad567/fleetsync-core/internal/infrastructure/config"
	"github.com/nerrad567/fleetsync-core/internal/vendorapi"
)

// Kind is the adapter kind this package registers under.
const Kind = "rest"

const maxBodyBytes = 16 << 20

// Paths are the endpoint paths relative to the base URL. DiscoveryItem
// must contain the {ip} placeholder.
type Paths struct {
	Devices       string
	Discovery     string
	DiscoveryItem string
	Health        string
}

// DefaultPaths returns the paths used when none are configured.
func DefaultPaths() Paths {
	return Paths{
		Devices:       "/api/v1/devices",
		Discovery:     "/api/v1/discovery",
		DiscoveryItem: "/api/v1/discovery/{ip}",
		Health:        "/api/v1/health",
	}
}

// Config configures a Client.
type Config struct {
	Manufacturer string
	BaseURL      string
	Token        string
	Timeout      time.Duration

	// RateLimit is requests per second; 0 disables limiting.
	RateLimit float64
	Burst     int

	// Retries is the number of retries after the first attempt.
	Retries        int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	Paths Paths
}

// ConfigFrom maps manufacturer configuration onto a Config.
func ConfigFrom(m config.ManufacturerConfig) Config {
	paths := DefaultPaths()
	for key, p := range m.Adapter.Paths {
		switch key {
		case "devices":
			paths.Devices = p
		case "discovery":
			paths.Discovery = p
		case "discovery_item":
			paths.DiscoveryItem = p
		case "health":
			paths.Health = p
		}
	}
	return Config{
		Manufacturer: m.Code,
		BaseURL:      m.Adapter.BaseURL,
		Token:        m.Adapter.Token,
		Timeout:      m.Adapter.GetTimeout(),
		RateLimit:    m.Adapter.RateLimit,
		Burst:        m.Adapter.Burst,
		Retries:      m.Adapter.Retries,
		Paths:        paths,
	}
}

// Constructor builds a Client from manufacturer configuration. It is the
// vendorapi.Constructor registered for Kind.
func Constructor(m config.ManufacturerConfig) (vendorapi.Adapter, error) {
	return New(ConfigFrom(m))
}

// Logger is the logging interface used by the Client.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client implements vendorapi.Adapter over a JSON REST API.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Client struct {
	cfg     Config
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	logger  Logger
}

// New creates a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base_url is required", vendorapi.ErrNotConfigured)
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: invalid base_url %q", vendorapi.ErrNotConfigured, cfg.BaseURL)
	}

	def := DefaultPaths()
	if cfg.Paths.Devices == "" {
		cfg.Paths.Devices = def.Devices
	}
	if cfg.Paths.Discovery == "" {
		cfg.Paths.Discovery = def.Discovery
	}
	if cfg.Paths.DiscoveryItem == "" {
		cfg.Paths.DiscoveryItem = def.DiscoveryItem
	}
	if cfg.Paths.Health == "" {
		cfg.Paths.Health = def.Health
	}
	if !strings.Contains(cfg.Paths.DiscoveryItem, "{ip}") {
		return nil, fmt.Errorf("%w: discovery_item path must contain {ip}", vendorapi.ErrNotConfigured)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	c := &Client{
		cfg:     cfg,
		base:    base,
		http:    &http.Client{},
		limiter: rate.NewLimiter(limit, burst),
		logger:  noopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	c.logger = logger
}

// ListDevices implements vendorapi.Adapter.
func (c *Client) ListDevices(ctx context.Context) ([]vendorapi.Payload, error) {
	const op = "list devices"
	body, _, err := c.do(ctx, op, http.MethodGet, c.cfg.Paths.Devices, nil, true)
	if err != nil {
		return nil, err
	}

	items, err := decodeList(body, "devices", "items", "data")
	if err != nil {
		return nil, c.fail(op, 0, err)
	}

	devices := make([]vendorapi.Payload, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		devices = append(devices, vendorapi.Payload(obj))
	}
	return devices, nil
}

// RemoteDiscoveryIPs implements vendorapi.Adapter.
func (c *Client) RemoteDiscoveryIPs(ctx context.Context) ([]string, error) {
	const op = "list discovery"
	body, _, err := c.do(ctx, op, http.MethodGet, c.cfg.Paths.Discovery, nil, true)
	if err != nil {
		return nil, err
	}

	items, err := decodeList(body, "ips", "items", "data")
	if err != nil {
		return nil, c.fail(op, 0, err)
	}

	ips := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			ips = append(ips, strings.TrimSpace(v))
		case map[string]any:
			for _, key := range []string{"ip", "address", "host"} {
				if s, ok := v[key].(string); ok && s != "" {
					ips = append(ips, strings.TrimSpace(s))
					break
				}
			}
		}
	}
	return ips, nil
}

// AddDiscoveryIP implements vendorapi.Adapter.
func (c *Client) AddDiscoveryIP(ctx context.Context, ip string) (bool, error) {
	payload, err := json.Marshal(map[string]string{"ip": ip})
	if err != nil {
		return false, c.fail("add discovery ip", 0, err)
	}
	_, status, err := c.do(ctx, "add discovery ip", http.MethodPost, c.cfg.Paths.Discovery, payload, false)
	if status == http.StatusConflict {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RemoveDiscoveryIP implements vendorapi.Adapter.
func (c *Client) RemoveDiscoveryIP(ctx context.Context, ip string) (bool, error) {
	path := strings.ReplaceAll(c.cfg.Paths.DiscoveryItem, "{ip}", url.PathEscape(ip))
	_, status, err := c.do(ctx, "remove discovery ip", http.MethodDelete, path, nil, false)
	if status == http.StatusNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CheckHealth implements vendorapi.Adapter. A non-2xx response is reported as
// unhealthy without an error; transport failures return both.
func (c *Client) CheckHealth(ctx context.Context) (vendorapi.Health, error) {
	start := time.Now()
	h := vendorapi.Health{CheckedAt: start.UTC()}

	_, status, err := c.attempt(ctx, http.MethodGet, c.cfg.Paths.Health, nil)
	h.Latency = time.Since(start)

	switch {
	case status >= 200 && status < 300:
		h.Status = vendorapi.HealthHealthy
		if h.Latency > c.cfg.Timeout/2 {
			h.Status = vendorapi.HealthDegraded
			h.Message = "slow response"
		}
		return h, nil
	case status != 0:
		h.Status = vendorapi.HealthUnhealthy
		h.Message = fmt.Sprintf("health endpoint returned %d", status)
		return h, nil
	default:
		h.Status = vendorapi.HealthUnhealthy
		h.Message = err.Error()
		return h, c.fail("health check", 0, err)
	}
}

// statusError is a non-2xx response.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return http.StatusText(e.status)
	}
	return fmt.Sprintf("%s: %s", http.StatusText(e.status), e.body)
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// do performs a request with rate limiting and retries. The returned status
// is the last HTTP status seen, 0 when no response arrived.
func (c *Client) do(ctx context.Context, op, method, path string, payload []byte, wantBody bool) ([]byte, int, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialBackoff
	bo.MaxInterval = c.cfg.MaxBackoff

	var lastStatus int
	operation := func() ([]byte, error) {
		body, status, err := c.attempt(ctx, method, path, payload)
		lastStatus = status
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		var se *statusError
		if errors.As(err, &se) && !retryable(se.status) {
			return nil, backoff.Permanent(err)
		}
		c.logger.Debug("vendor call failed, retrying",
			"manufacturer", c.cfg.Manufacturer,
			"op", op,
			"status", status,
			"error", err,
		)
		return nil, err
	}

	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(c.cfg.Retries+1)),
	)
	if err != nil {
		return nil, lastStatus, c.fail(op, lastStatus, err)
	}
	if !wantBody {
		return nil, lastStatus, nil
	}
	return body, lastStatus, nil
}

// attempt performs one request.
func (c *Client) attempt(ctx context.Context, method, path string, payload []byte) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path), reqBody)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, resp.StatusCode, &statusError{status: resp.StatusCode, body: snippet}
	}
	return body, resp.StatusCode, nil
}

func (c *Client) resolve(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return c.base.String() + path
	}
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + "/" + strings.TrimLeft(ref.Path, "/")
	u.RawPath = ""
	if ref.RawQuery != "" {
		u.RawQuery = ref.RawQuery
	}
	return u.String()
}

func (c *Client) fail(op string, status int, err error) error {
	return &vendorapi.Error{Manufacturer: c.cfg.Manufacturer, Op: op, StatusCode: status, Err: err}
}

// decodeList accepts a bare JSON array or an object wrapping one under any
// of keys. Numbers decode as json.Number.
func decodeList(body []byte, keys ...string) ([]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	switch x := v.(type) {
	case []any:
		return x, nil
	case map[string]any:
		for _, key := range keys {
			switch list := x[key].(type) {
			case []any:
				return list, nil
			case nil:
				if _, present := x[key]; present {
					return nil, nil
				}
			}
		}
		return nil, fmt.Errorf("decoding response: no list under %s", strings.Join(keys, ", "))
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("decoding response: unexpected %T", v)
	}
}
