// Package security は掲示板フィード取得時の接続先制限を提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// blockedPrefixes はフィード取得で接続を拒否するアドレス範囲。
// 実際の接続時はsafeurlがDNS解決後のIPを検証するため、ここは事前チェック用。
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"), // クラウドメタデータを含む
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("fc00::/7"),
}

// GuardOptions はFetchGuardの設定。
type GuardOptions struct {
	// AllowLocal はローカル・プライベートアドレスへの接続を許可する。開発・テスト用。
	AllowLocal bool
	// Ports は接続を許可するポート。空の場合は80と443。
	Ports []int
}

// FetchGuard はフィードURLの事前検証と、接続先を制限したHTTPクライアントの生成を行う。
type FetchGuard struct {
	opts GuardOptions
}

// NewFetchGuard はFetchGuardを生成する。
func NewFetchGuard(opts GuardOptions) *FetchGuard {
	if len(opts.Ports) == 0 {
		opts.Ports = []int{80, 443}
	}
	return &FetchGuard{opts: opts}
}

// Client はフィード取得用のHTTPクライアントを返す。
// AllowLocalでない場合はsafeurlのDialer検証によりDNS再バインディングも防ぐ。
func (g *FetchGuard) Client(timeout time.Duration) *http.Client {
	if g.opts.AllowLocal {
		return &http.Client{Timeout: timeout}
	}

	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(g.opts.Ports...).
		Build()

	return safeurl.Client(config).Client
}

// Check はURLを静的に検証する。DNS解決は行わない。
func (g *FetchGuard) Check(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("disallowed scheme: %q", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}
	if g.opts.AllowLocal {
		return nil
	}

	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}
	if ip := net.ParseIP(host); ip != nil {
		addr, ok := netip.AddrFromSlice(ip)
		if ok && isBlocked(addr.Unmap()) {
			return fmt.Errorf("blocked IP address: %s", host)
		}
	}

	return nil
}

func isBlocked(addr netip.Addr) bool {
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
