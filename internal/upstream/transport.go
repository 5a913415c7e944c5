package upstream

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rs/dnscache"
)

// NewTransport returns a tuned *http.Transport for the upstream
// connection with connection pooling and optional DNS caching.
// connectTimeout bounds dialing; responseTimeout bounds the wait for
// response headers (the body read is left open for streaming). Zero
// timeouts keep the transport defaults. Set forceHTTP2 to true for
// remote HTTPS proxies, false for local HTTP/1.1 servers.
func NewTransport(resolver *dnscache.Resolver, connectTimeout, responseTimeout time.Duration, forceHTTP2 bool) *http.Transport {
	t := &http.Transport{
		MaxIdleConnsPerHost:   100,
		MaxConnsPerHost:       200,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     forceHTTP2,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: responseTimeout,
	}
	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		d := net.Dialer{Timeout: connectTimeout}
		if resolver == nil {
			return d.DialContext(ctx, network, addr)
		}
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		ips, err := resolver.LookupHost(ctx, host)
		if err != nil {
			return nil, err
		}
		return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
	}
	t.DialContext = dial
	return t
}
