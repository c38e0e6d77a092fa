package security

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sourcekit/internal/domain"
)

// privateRanges lists all private/reserved CIDR blocks refused when private
// addresses are blocked.
var privateRanges = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"0.0.0.0/8",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
}

var parsedRanges []*net.IPNet

func init() {
	for _, cidr := range privateRanges {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %q: %v", cidr, err))
		}
		parsedRanges = append(parsedRanges, ipnet)
	}
}

// IsPrivateIP checks if an IP falls within any private/reserved range.
func IsPrivateIP(ip net.IP) bool {
	// Normalize IPv4-mapped IPv6 to IPv4
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, ipnet := range parsedRanges {
		if ipnet.Contains(ip) {
			return true
		}
	}
	return false
}

// CheckScheme accepts only absolute http and https URLs. Extension code
// must not reach file:// or other local schemes through the scheduler.
func CheckScheme(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, domain.NewSubSystemError("network", "CheckScheme", domain.ErrInvalidInput, err.Error())
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, domain.NewSubSystemError("network", "CheckScheme", domain.ErrPermissionDenied,
			fmt.Sprintf("scheme %q not allowed, only http/https", u.Scheme))
	}
	if u.Hostname() == "" {
		return nil, domain.NewSubSystemError("network", "CheckScheme", domain.ErrInvalidInput, "empty hostname")
	}
	return u, nil
}

// NewTransport returns the HTTP transport used for extension traffic and
// source downloads. With blockPrivate set, every resolved address is
// validated at dial time and the connection goes to the validated IP, so a
// DNS answer cannot change between check and connect.
func NewTransport(blockPrivate bool) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	t := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if !blockPrivate {
		return t
	}
	t.Proxy = nil
	t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid address: %w", err)
		}

		// Resolve DNS once
		ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, domain.NewDomainError("Transport.Dial", domain.ErrTransport,
				fmt.Sprintf("DNS lookup failed for %s: %v", host, err))
		}
		if len(ips) == 0 {
			return nil, domain.NewDomainError("Transport.Dial", domain.ErrTransport, "no IPs resolved for "+host)
		}

		for _, ip := range ips {
			if IsPrivateIP(ip.IP) {
				return nil, domain.NewSubSystemError("network", "Transport.Dial", domain.ErrPermissionDenied,
					fmt.Sprintf("%s resolves to private IP %s", host, ip.IP))
			}
		}

		// Connect directly to first validated IP (no second DNS lookup)
		return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].IP.String(), port))
	}
	return t
}
