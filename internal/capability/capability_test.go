package capability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sourcekit/internal/adapter/httpclient"
	"sourcekit/internal/adapter/sqlite"
	"sourcekit/internal/domain"
	"sourcekit/internal/infra/logger"
	"sourcekit/internal/security"
)

func newTestHost(t *testing.T, kv domain.KVStore, kc *security.Keychain, hc *http.Client) *Host {
	t.Helper()
	client := httpclient.New(hc, httpclient.Config{UserAgent: "sourcekit-test"}, logger.Discard())
	return NewHost(client, kv, kc, HostOptions{}, logger.Discard())
}

func TestStateNamespaceIsolation(t *testing.T) {
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	host := newTestHost(t, db.State(), nil, nil)
	ctx := context.Background()
	a := host.NewSession("alpha")
	b := host.NewSession("beta")

	a.State().Store(ctx, "token", "secret-a")
	assert.Equal(t, "secret-a", a.State().Retrieve(ctx, "token"))
	assert.Nil(t, b.State().Retrieve(ctx, "token"))
	assert.Nil(t, a.Keychain().Retrieve(ctx, "token"))

	// A fresh session for the same extension sees the durable value.
	assert.Equal(t, "secret-a", host.NewSession("alpha").State().Retrieve(ctx, "token"))
}

func TestStateStructuredValues(t *testing.T) {
	host := newTestHost(t, nil, nil, nil)
	ctx := context.Background()
	s := host.NewSession("ext")

	s.State().Store(ctx, "prefs", map[string]any{"lang": "en", "page": 2})
	got, ok := s.State().Retrieve(ctx, "prefs").(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "en", got["lang"])
	assert.Equal(t, float64(2), got["page"])

	s.State().Store(ctx, "prefs", nil)
	assert.Nil(t, s.State().Retrieve(ctx, "prefs"))
}

type failingKV struct{}

func (failingKV) Get(context.Context, string, string, string) (string, bool, error) {
	return "", false, errors.New("disk gone")
}
func (failingKV) Set(context.Context, string, string, string, string) error {
	return errors.New("disk gone")
}
func (failingKV) Delete(context.Context, string, string, string) error {
	return errors.New("disk gone")
}

func TestStateFallsBackToMemory(t *testing.T) {
	host := newTestHost(t, failingKV{}, nil, nil)
	ctx := context.Background()
	s := host.NewSession("ext")

	s.State().Store(ctx, "k", "v")
	assert.Equal(t, "v", s.State().Retrieve(ctx, "k"))
	assert.Nil(t, host.NewSession("other").State().Retrieve(ctx, "k"))
}

func TestKeychainEncryptedAtRest(t *testing.T) {
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	salt, err := security.NewSalt()
	require.NoError(t, err)
	kc, err := security.NewKeychain("passphrase", salt)
	require.NoError(t, err)

	host := newTestHost(t, db.State(), kc, nil)
	ctx := context.Background()
	s := host.NewSession("ext")
	s.Keychain().Store(ctx, "password", "hunter2")

	raw, ok, err := db.State().Get(ctx, "ext", domain.NamespaceKeychain, "password")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, security.IsSealed(raw))
	assert.NotContains(t, raw, "hunter2")

	assert.Equal(t, "hunter2", s.Keychain().Retrieve(ctx, "password"))
}

func TestScheduleTextAndBinary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Path", r.URL.Path)
		io.WriteString(w, "payload")
	}))
	defer srv.Close()

	host := newTestHost(t, nil, nil, srv.Client())
	sched := host.NewSession("ext").Requests()
	ctx := context.Background()

	text := sched.Schedule(ctx, &Request{URL: srv.URL + "/list"}, PriorityNormal)
	assert.Equal(t, http.StatusOK, text.Status)
	assert.Equal(t, "payload", text.Data)
	assert.Empty(t, text.RawData)
	assert.Equal(t, "/list", text.Headers["X-Path"])

	img := sched.Schedule(ctx, &Request{URL: srv.URL + "/page.PNG"}, PriorityHigh)
	assert.Equal(t, []byte("payload"), img.RawData)
	assert.Empty(t, img.Data)

	drm := sched.Schedule(ctx, &Request{URL: srv.URL + "/page/1#drm"}, PriorityLow)
	assert.Equal(t, []byte("payload"), drm.RawData)
	assert.Equal(t, "/page/1", drm.Headers["X-Path"])
}

func TestScheduleTransportFailureIsStatusZero(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	host := newTestHost(t, nil, nil, &http.Client{Timeout: time.Second})
	resp := host.NewSession("ext").Requests().Schedule(context.Background(), &Request{URL: url}, PriorityNormal)
	require.NotNil(t, resp)
	assert.Equal(t, 0, resp.Status)
	assert.Empty(t, resp.Data)

	bad := host.NewSession("ext").Requests().Schedule(context.Background(), &Request{URL: "file:///etc/passwd"}, PriorityNormal)
	assert.Equal(t, 0, bad.Status)
}

type headerInterceptor struct {
	failResponse bool
}

func (h headerInterceptor) InterceptRequest(_ context.Context, req *Request) (*Request, error) {
	out := *req
	out.Headers = map[string]string{"X-Token": "abc"}
	return &out, nil
}

func (h headerInterceptor) InterceptResponse(_ context.Context, resp *Response) (*Response, error) {
	if h.failResponse {
		return nil, errors.New("blocked")
	}
	resp.Data = "[" + resp.Data + "]"
	return resp, nil
}

func TestScheduleInterceptor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, r.Header.Get("X-Token"))
	}))
	defer srv.Close()

	host := newTestHost(t, nil, nil, srv.Client())
	s := host.NewSession("ext")

	sched := s.NewRequestManager(ManagerConfig{Interceptor: headerInterceptor{}})
	resp := sched.Schedule(context.Background(), &Request{URL: srv.URL}, PriorityNormal)
	assert.Equal(t, "[abc]", resp.Data)

	sched.Configure(ManagerConfig{Interceptor: headerInterceptor{failResponse: true}})
	resp = sched.Schedule(context.Background(), &Request{URL: srv.URL}, PriorityNormal)
	assert.Equal(t, 0, resp.Status)
}

func TestScheduleBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		io.WriteString(w, r.Method+" "+r.Header.Get("Content-Type")+" "+string(body))
	}))
	defer srv.Close()

	sched := newTestHost(t, nil, nil, srv.Client()).NewSession("ext").Requests()
	ctx := context.Background()

	form := sched.Schedule(ctx, &Request{
		URL:     srv.URL,
		Method:  "post",
		Headers: map[string]string{"content-type": "application/x-www-form-urlencoded"},
		Data:    map[string]any{"q": "one piece"},
	}, PriorityNormal)
	assert.Equal(t, "POST application/x-www-form-urlencoded q=one+piece", form.Data)

	js := sched.Schedule(ctx, &Request{URL: srv.URL, Method: "POST", Data: map[string]any{"id": 1}}, PriorityNormal)
	assert.Equal(t, `POST application/json {"id":1}`, js.Data)

	param := sched.Schedule(ctx, &Request{URL: srv.URL + "/search", Param: "?q=x"}, PriorityNormal)
	assert.Equal(t, "GET  ", param.Data)
}

func TestScheduleRateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	s := newTestHost(t, nil, nil, srv.Client()).NewSession("ext")
	sched := s.NewRequestManager(ManagerConfig{RequestsPerSecond: 0.001})

	ctx := context.Background()
	assert.Equal(t, http.StatusOK, sched.Schedule(ctx, &Request{URL: srv.URL}, PriorityNormal).Status)

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.Equal(t, 0, sched.Schedule(short, &Request{URL: srv.URL}, PriorityNormal).Status)
}

func TestIsBinaryURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://cdn.example/a/001.jpg", true},
		{"https://cdn.example/a/001.webp?token=1", true},
		{"https://cdn.example/a/001#drm", true},
		{"https://example.com/manga/42", false},
		{"https://example.com/api.json", false},
		{"::not a url", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsBinaryURL(tt.url), tt.url)
	}
}

func TestSessionImagePrimitives(t *testing.T) {
	s := newTestHost(t, nil, nil, nil).NewSession("ext")
	info := s.DecodeImage([]byte("not an image"))
	assert.Zero(t, info.Width)
	assert.Zero(t, info.Height)
	require.NotNil(t, info.Image)

	canvas := s.CreateCanvas()
	assert.Nil(t, canvas.Encode())
}
