package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mpapenbr/nexttogo-service-go/log"
)

const (
	DefaultBaseURL  = "https://api.neds.com.au"
	nextRacesPath   = "/rest/v1/racing/"
	nextRacesMethod = "nextraces"
)

var ErrUnexpectedStatus = errors.New("unexpected response status")

// Source delivers a batch of upcoming races.
type Source interface {
	FetchNextRaces(ctx context.Context, count int) (*NextRacesResponse, error)
}

type (
	Client struct {
		baseURL    string
		httpClient *http.Client
		timeout    time.Duration
		l          *log.Logger
	}
	Option func(*Client)
)

var _ Source = (*Client)(nil)

func NewClient(baseURL string, opts ...Option) *Client {
	ret := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		timeout:    10 * time.Second,
		l:          log.Default().Named("feed"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		cl.timeout = d
	}
}

func WithLogger(l *log.Logger) Option {
	return func(cl *Client) {
		cl.l = l
	}
}

// WithTracing wraps the transport of the http client with otel instrumentation.
func WithTracing() Option {
	return func(cl *Client) {
		base := cl.httpClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		cl.httpClient.Transport = otelhttp.NewTransport(base)
	}
}

//nolint:whitespace // editor/linter issue
func (c *Client) FetchNextRaces(ctx context.Context, count int) (
	*NextRacesResponse, error,
) {
	reqURL, err := c.requestURL(count)
	if err != nil {
		return nil, err
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch next races: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		//nolint:errcheck // best effort for diagnostics
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %d %s", ErrUnexpectedStatus,
			resp.StatusCode, string(body))
	}
	var ret NextRacesResponse
	if err := json.NewDecoder(resp.Body).Decode(&ret); err != nil {
		return nil, fmt.Errorf("decode next races: %w", err)
	}
	c.l.Debug("fetched next races",
		log.Int("requested", count),
		log.Int("received", len(ret.Data.RaceSummaries)),
		log.Duration("duration", time.Since(start)))
	return &ret, nil
}

func (c *Client) requestURL(count int) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid feed url %q: %w", c.baseURL, err)
	}
	u = u.JoinPath(nextRacesPath)
	q := u.Query()
	q.Set("method", nextRacesMethod)
	q.Set("count", strconv.Itoa(count))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
