// Package httpclient is the outbound HTTP layer shared by extension requests
// and repository downloads. Each remote host gets its own circuit breaker.
package httpclient

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"sourcekit/internal/domain"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
	defaultMaxBodyBytes  int64         = 32 << 20
)

// Config configures the client.
type Config struct {
	UserAgent string
	// MaxBodyBytes caps response bodies. Larger bodies are a transport failure.
	MaxBodyBytes int64
	// MaxFailures is the number of consecutive failures before a host's circuit opens.
	MaxFailures uint32
	// Timeout is how long a circuit stays open before transitioning to half-open.
	Timeout time.Duration
}

// Result is a fully read response.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client executes requests through per-host circuit breakers. Only transport
// failures count against a host; any HTTP status is a successful exchange.
type Client struct {
	http   *http.Client
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*Result]
}

// New wraps hc. If cfg fields are zero, sensible defaults are used.
func New(hc *http.Client, cfg Config, logger *slog.Logger) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = defaultCBMaxFailures
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultCBTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:     hc,
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker[*Result]),
	}
}

func (c *Client) breaker(host string) *gobreaker.CircuitBreaker[*Result] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[host]; ok {
		return cb
	}
	maxFailures := c.cfg.MaxFailures
	cb := gobreaker.NewCircuitBreaker[*Result](gobreaker.Settings{
		Name:        "host:" + host,
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    defaultCBInterval,
		Timeout:     c.cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})
	c.breakers[host] = cb
	return cb
}

// Do sends req and reads the whole body. Every failure wraps domain.ErrTransport.
func (c *Client) Do(req *http.Request) (*Result, error) {
	if c.cfg.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	host := req.URL.Host
	res, err := c.breaker(host).Execute(func() (*Result, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes+1))
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		if int64(len(body)) > c.cfg.MaxBodyBytes {
			return nil, fmt.Errorf("body exceeds %d bytes", c.cfg.MaxBodyBytes)
		}
		return &Result{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, domain.NewSubSystemError("network", "httpclient.Do", domain.ErrTransport,
				fmt.Sprintf("host %q circuit open", host))
		}
		if errors.Is(err, domain.ErrTransport) {
			return nil, err
		}
		return nil, domain.NewSubSystemError("network", "httpclient.Do", domain.ErrTransport, err.Error())
	}
	return res, nil
}

// State returns the breaker state for host, for monitoring.
func (c *Client) State(host string) gobreaker.State {
	return c.breaker(host).State()
}
