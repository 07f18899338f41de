package httputil

import (
	"net"
	"net/http"
	"time"

	"propmarket/config"
)

type Clients struct {
	Storage *http.Client // storage REST API (list/upload/move/remove)
}

// NewClients builds the shared clients. Storage calls carry their own
// per-call context deadline; the client timeout only backs that up for
// callers that pass a context without one.
func NewClients(cfg *config.StorageConfig) *Clients {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}

	timeout := 2 * cfg.CallTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Clients{
		Storage: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}
