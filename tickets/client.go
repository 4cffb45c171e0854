package tickets

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"
	"golang.org/x/time/rate"
)

// AuthScheme selects how the API key is presented to Freshdesk.
type AuthScheme string

const (
	// AuthBasic sends the key as the basic-auth user with "X" as password.
	AuthBasic  AuthScheme = "basic"
	AuthBearer AuthScheme = "bearer"
)

// Credentials are supplied by the connection preset and never modified by the core.
type Credentials struct {
	Domain string
	APIKey string
	Auth   AuthScheme
}

// BaseURL returns the API root. A domain without a scheme is served over HTTPS.
func (c Credentials) BaseURL() string {
	if strings.Contains(c.Domain, "://") {
		return strings.TrimSuffix(c.Domain, "/")
	}
	return "https://" + strings.TrimSuffix(c.Domain, "/")
}

// Response is the raw outcome of a single Freshdesk call.
type Response struct {
	Status int
	Body   []byte
	Header http.Header
}

// Client executes authenticated Freshdesk requests with pacing and bounded retries.
type Client struct {
	credentials Credentials
	policy      RetryPolicy
	limiter     *rate.Limiter
	transport   http.RoundTripper
	recordDir   string
	sleep       Sleeper
	now         func() time.Time
	logger      *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

func WithRetryPolicy(policy RetryPolicy) ClientOption {
	return func(c *Client) { c.policy = policy }
}

// WithRequestsPerMinute paces outgoing requests. Zero or less disables pacing.
func WithRequestsPerMinute(n int) ClientOption {
	return func(c *Client) {
		if n <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(float64(n)/60), 1)
	}
}

func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *Client) { c.transport = rt }
}

// WithRecording stores every exchange under dir so it can be replayed in tests.
func WithRecording(dir string) ClientOption {
	return func(c *Client) { c.recordDir = dir }
}

func WithSleeper(s Sleeper) ClientOption {
	return func(c *Client) { c.sleep = s }
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient builds a client for the given credentials.
func NewClient(credentials Credentials, opts ...ClientOption) *Client {
	if credentials.Auth == "" {
		credentials.Auth = AuthBasic
	}
	c := &Client{
		credentials: credentials,
		policy:      DefaultRetryPolicy(),
		sleep:       sleepContext,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = WithComponent(c.logger, "http")
	return c
}

// apiBuilder returns a new requests.Builder configured for the Freshdesk API.
func (c *Client) apiBuilder() *requests.Builder {
	builder := requests.
		URL(c.credentials.BaseURL()).
		Client(&http.Client{Timeout: HTTPRequestTimeout}).
		Accept("application/json")
	switch {
	case c.recordDir != "":
		builder = builder.Transport(requests.Record(c.transport, c.recordDir))
	case c.transport != nil:
		builder = builder.Transport(c.transport)
	}
	if c.credentials.Auth == AuthBearer {
		builder = builder.Bearer(c.credentials.APIKey)
	} else {
		builder = builder.BasicAuth(c.credentials.APIKey, "X")
	}
	return builder
}

// acceptAnyStatus replaces the default 2xx validator so that status handling
// stays in Request.
func acceptAnyStatus(*http.Response) error { return nil }

func (c *Client) once(ctx context.Context, method, path string, query url.Values) (Response, error) {
	var result Response
	builder := c.apiBuilder().
		Method(method).
		Path(path)
	for key, values := range query {
		builder = builder.Param(key, values...)
	}
	err := builder.
		AddValidator(acceptAnyStatus).
		Handle(func(res *http.Response) error {
			result.Status = res.StatusCode
			result.Header = res.Header
			body, err := io.ReadAll(res.Body)
			result.Body = body
			return err
		}).
		Fetch(ctx)
	return result, err
}

// Request performs one logical call. Rate limiting and server errors are
// retried inside; any other non-2xx status fails immediately.
func (c *Client) Request(ctx context.Context, method, path string, query url.Values) (Response, error) {
	tracker := newRetryTracker(c.policy)
	for {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return Response{}, fmt.Errorf("rate limiter: %w", err)
			}
		}

		c.logger.Debug("freshdesk request", "method", method, "path", path, "query", query.Encode())
		resp, fetchErr := c.once(ctx, method, path, query)

		var delay time.Duration
		var err error
		switch {
		case fetchErr != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return resp, ctxErr
			}
			delay, err = tracker.onTransient(0, fetchErr)
		case resp.Status == http.StatusTooManyRequests:
			delay, err = tracker.onRateLimited(resp.Header, c.now())
		case resp.Status >= http.StatusInternalServerError:
			delay, err = tracker.onTransient(resp.Status, fmt.Errorf("status %d: %s", resp.Status, resp.Body))
		case resp.Status >= http.StatusOK && resp.Status < http.StatusMultipleChoices:
			return resp, nil
		default:
			return resp, &RequestRejectedError{Method: method, Path: path, Status: resp.Status, Body: string(resp.Body)}
		}
		if err != nil {
			c.logger.Error("giving up on freshdesk request", "method", method, "path", path, "error", err)
			return resp, err
		}

		c.logger.Warn("retrying freshdesk request",
			"method", method,
			"path", path,
			"status", resp.Status,
			"delay", delay.String(),
			"error", fetchErr)
		if err := c.sleep(ctx, delay); err != nil {
			return resp, err
		}
	}
}

// Get is shorthand for a GET Request.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (Response, error) {
	return c.Request(ctx, http.MethodGet, path, query)
}
