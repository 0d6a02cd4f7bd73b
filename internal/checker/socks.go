package checker

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/price-monitor-bot/internal/types"
	"golang.org/x/net/proxy"
)

func (c *Checker) checkSOCKS5(ctx context.Context, candidate types.ProxyCandidate, startTime time.Time) CheckResult {
	transport, err := SOCKS5Transport(candidate, c.timeout)
	if err != nil {
		return CheckResult{
			Proxy: candidate.Address,
			Alive: false,
			Error: fmt.Sprintf("SOCKS5 dialer error: %v", err),
		}
	}

	return c.probe(ctx, c.newClient(transport), candidate, startTime)
}

// SOCKS5Transport builds an HTTP transport that dials through the candidate
func SOCKS5Transport(candidate types.ProxyCandidate, timeout time.Duration) (*http.Transport, error) {
	var auth *proxy.Auth
	hostPort := candidate.Address
	if i := strings.LastIndex(hostPort, "@"); i >= 0 {
		user, password, _ := strings.Cut(hostPort[:i], ":")
		auth = &proxy.Auth{User: user, Password: password}
		hostPort = hostPort[i+1:]
	}

	forward := &net.Dialer{Timeout: timeout}
	dialer, err := proxy.SOCKS5("tcp", hostPort, auth, forward)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		DisableKeepAlives:   true,
		TLSHandshakeTimeout: timeout,
	}
	if contextDialer, ok := dialer.(proxy.ContextDialer); ok {
		transport.DialContext = contextDialer.DialContext
	} else {
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
	}

	return transport, nil
}
