package security

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sourcekit/internal/domain"
)

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"10.1.2.3", true},
		{"172.16.0.1", true},
		{"192.168.1.1", true},
		{"127.0.0.1", true},
		{"169.254.169.254", true},
		{"::1", true},
		{"fd00::1", true},
		{"8.8.8.8", false},
		{"2606:4700::1111", false},
		{"::ffff:127.0.0.1", true},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPrivateIP(net.ParseIP(tt.ip)))
		})
	}
}

func TestCheckScheme(t *testing.T) {
	_, err := CheckScheme("https://example.com/a.jpg")
	assert.NoError(t, err)

	_, err = CheckScheme("file:///etc/passwd")
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	_, err = CheckScheme("http://")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = CheckScheme("://bad")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestNewTransportBlocksPrivate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	open := &http.Client{Transport: NewTransport(false)}
	resp, err := open.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	blocked := &http.Client{Transport: NewTransport(true)}
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	_, err = blocked.Do(req)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
}
