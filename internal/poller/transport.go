package poller

import (
	"net/http"
	"time"
)

// MaxResponseBodySize caps how much of a response body sources read.
const MaxResponseBodySize = 1 << 20 // 1MB

// connection pooling limits shared by the HTTP-based sources
const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 10
	defaultIdleConnTimeout     = 60 * time.Second
)

// NewTransport returns the pooled [http.Transport] used by the HTTP-based
// sources.
//
// Timeouts are not set here. Each source applies its own request timeout,
// so one slow reservation site cannot stall another.
//
// Connection pooling configuration:
//   - MaxIdleConns: 100 total idle connections
//   - MaxIdleConnsPerHost: 10 idle connections per host
//   - MaxConnsPerHost: 10 concurrent connections per host
//   - IdleConnTimeout: 60 seconds before closing idle connections
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
		MaxConnsPerHost:     defaultMaxConnsPerHost,
		IdleConnTimeout:     defaultIdleConnTimeout,
		ForceAttemptHTTP2:   true,
	}
}
