package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sourcekit/internal/adapter/httpclient"
	"sourcekit/internal/domain"
	"sourcekit/internal/security"
)

// Priority is a scheduling hint. It is advisory only: requests are never
// reordered by priority.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// Cookie is a cookie attached to an outgoing request.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain,omitempty"`
}

// Request is an extension-built network request.
type Request struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	// Param is appended verbatim to URL.
	Param   string            `json:"param"`
	Data    any               `json:"data"`
	Cookies []Cookie          `json:"cookies"`
}

// Response is what extension code receives. Status 0 means the request never
// completed; Data and RawData are then empty.
type Response struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Data    string            `json:"data"`
	RawData []byte            `json:"rawData,omitempty"`
	Request *Request          `json:"request"`
}

// Interceptor may rewrite requests before they are sent and responses after
// they arrive. An error from either hook fails the request with Status 0.
type Interceptor interface {
	InterceptRequest(ctx context.Context, req *Request) (*Request, error)
	InterceptResponse(ctx context.Context, resp *Response) (*Response, error)
}

// ManagerConfig is what an extension passes to createRequestManager.
type ManagerConfig struct {
	// RequestsPerSecond <= 0 means unlimited.
	RequestsPerSecond float64
	// RequestTimeout <= 0 means no per-request timeout.
	RequestTimeout    time.Duration
	Interceptor       Interceptor
}

var binaryExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
	".avif": true,
}

// IsBinaryURL reports whether a response for rawURL should be delivered as
// raw bytes: the URL carries the DRM marker or names an image file.
func IsBinaryURL(rawURL string) bool {
	if domain.IsDRMMarked(rawURL) {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return binaryExtensions[strings.ToLower(path.Ext(u.Path))]
}

// Scheduler performs requests on behalf of one extension. It never returns an
// error to extension code; failures surface as Status 0.
type Scheduler struct {
	client *httpclient.Client
	logger *slog.Logger

	mu          sync.RWMutex
	limiter     *rate.Limiter
	timeout     time.Duration
	interceptor Interceptor
}

// NewScheduler creates a scheduler with the given configuration.
func NewScheduler(client *httpclient.Client, cfg ManagerConfig, logger *slog.Logger) *Scheduler {
	s := &Scheduler{client: client, logger: logger}
	s.Configure(cfg)
	return s
}

// Configure replaces the rate limit, timeout and interceptor.
func (s *Scheduler) Configure(cfg ManagerConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limiter = nil
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	s.timeout = cfg.RequestTimeout
	s.interceptor = cfg.Interceptor
}

func (s *Scheduler) settings() (*rate.Limiter, time.Duration, Interceptor) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.limiter, s.timeout, s.interceptor
}

// Schedule performs req. The returned Response is never nil.
func (s *Scheduler) Schedule(ctx context.Context, req *Request, priority Priority) *Response {
	if req == nil {
		req = &Request{}
	}
	resp, err := s.do(ctx, req, priority)
	if err != nil {
		s.logger.Warn("request failed",
			"url", req.URL,
			"priority", int(priority),
			"error", err,
		)
		return &Response{Status: 0, Headers: map[string]string{}, Request: req}
	}
	return resp
}

func (s *Scheduler) do(ctx context.Context, req *Request, priority Priority) (*Response, error) {
	limiter, timeout, interceptor := s.settings()

	if interceptor != nil {
		rewritten, err := interceptor.InterceptRequest(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("intercept request: %w", err)
		}
		if rewritten != nil {
			req = rewritten
		}
	}

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	httpReq, err := buildHTTPRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("scheduling request", "method", httpReq.Method, "url", req.URL, "priority", int(priority))

	res, err := s.client.Do(httpReq)
	if err != nil {
		return nil, err
	}

	resp := &Response{
		Status:  res.StatusCode,
		Headers: flattenHeader(res.Header),
		Request: req,
	}
	if IsBinaryURL(req.URL) {
		resp.RawData = res.Body
	} else {
		resp.Data = string(res.Body)
	}

	if interceptor != nil {
		rewritten, err := interceptor.InterceptResponse(ctx, resp)
		if err != nil {
			return nil, fmt.Errorf("intercept response: %w", err)
		}
		if rewritten != nil {
			resp = rewritten
		}
	}
	return resp, nil
}

func buildHTTPRequest(ctx context.Context, req *Request) (*http.Request, error) {
	u, err := security.CheckScheme(req.URL + req.Param)
	if err != nil {
		return nil, err
	}
	// The DRM marker is a local convention and never goes on the wire.
	u.Fragment = ""

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	body, contentType, err := encodeBody(req.Data, req.Headers)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, domain.NewDomainError("Scheduler.Schedule", domain.ErrInvalidInput, err.Error())
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for _, c := range req.Cookies {
		httpReq.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	return httpReq, nil
}

// encodeBody renders request data. Strings and bytes are sent as-is, maps are
// form-encoded when the extension asked for a form and JSON otherwise.
func encodeBody(data any, headers map[string]string) (io.Reader, string, error) {
	switch t := data.(type) {
	case nil:
		return nil, "", nil
	case string:
		return strings.NewReader(t), "", nil
	case []byte:
		return bytes.NewReader(t), "", nil
	case map[string]any:
		if isForm(headers) {
			form := url.Values{}
			for k, v := range t {
				form.Set(k, toString(v))
			}
			return strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", nil
		}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, "", domain.NewDomainError("Scheduler.Schedule", domain.ErrInvalidInput, "encode body: "+err.Error())
	}
	return bytes.NewReader(raw), "application/json", nil
}

func isForm(headers map[string]string) bool {
	for k, v := range headers {
		if strings.EqualFold(k, "Content-Type") {
			return strings.HasPrefix(strings.ToLower(v), "application/x-www-form-urlencoded")
		}
	}
	return false
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

// RequestFromMap builds a Request from a loosely typed object as produced by
// an engine's value export.
func RequestFromMap(m map[string]any) *Request {
	req := &Request{
		URL:     str(m, "url"),
		Method:  strOr(m, "method", http.MethodGet),
		Param:   str(m, "param"),
		Data:    m["data"],
		Headers: map[string]string{},
	}
	if h, ok := m["headers"].(map[string]any); ok {
		for k, v := range h {
			req.Headers[k] = toString(v)
		}
	}
	if cs, ok := m["cookies"].([]any); ok {
		for _, c := range cs {
			cm, ok := c.(map[string]any)
			if !ok {
				continue
			}
			req.Cookies = append(req.Cookies, Cookie{
				Name:   str(cm, "name"),
				Value:  str(cm, "value"),
				Domain: str(cm, "domain"),
			})
		}
	}
	return req
}

// ManagerConfigFromMap reads requestsPerSecond and requestTimeout
// (milliseconds) from a createRequestManager argument.
func ManagerConfigFromMap(m map[string]any) ManagerConfig {
	return ManagerConfig{
		RequestsPerSecond: num(m, "requestsPerSecond"),
		RequestTimeout:    time.Duration(num(m, "requestTimeout")) * time.Millisecond,
	}
}

// Map renders the request as a plain object.
func (r *Request) Map() map[string]any {
	headers := make(map[string]any, len(r.Headers))
	for k, v := range r.Headers {
		headers[k] = v
	}
	cookies := make([]any, 0, len(r.Cookies))
	for _, c := range r.Cookies {
		cookies = append(cookies, map[string]any{"name": c.Name, "value": c.Value, "domain": c.Domain})
	}
	return map[string]any{
		"url":     r.URL,
		"method":  r.Method,
		"headers": headers,
		"param":   r.Param,
		"data":    r.Data,
		"cookies": cookies,
	}
}

// Map renders the response as a plain object. rawData is present only for
// binary responses.
func (r *Response) Map() map[string]any {
	headers := make(map[string]any, len(r.Headers))
	for k, v := range r.Headers {
		headers[k] = v
	}
	out := map[string]any{
		"status":  r.Status,
		"headers": headers,
		"data":    r.Data,
	}
	if r.RawData != nil {
		out["rawData"] = r.RawData
	}
	if r.Request != nil {
		out["request"] = r.Request.Map()
	}
	return out
}

// ResponseFromMap is the inverse of Response.Map, used when an interceptor
// hands back a rewritten response.
func ResponseFromMap(m map[string]any) *Response {
	resp := &Response{
		Status:  int(num(m, "status")),
		Data:    str(m, "data"),
		Headers: map[string]string{},
	}
	if h, ok := m["headers"].(map[string]any); ok {
		for k, v := range h {
			resp.Headers[k] = toString(v)
		}
	}
	if raw, ok := m["rawData"].([]byte); ok {
		resp.RawData = raw
	}
	if rm, ok := m["request"].(map[string]any); ok {
		resp.Request = RequestFromMap(rm)
	}
	return resp
}
