// Package httpclient builds the outbound http.Client for the binaries.
package httpclient

import (
	"net/http"
	"time"

	"github.com/doyensec/safeurl"
	"github.com/hashicorp/go-cleanhttp"
)

// New returns a pooled client with timeout. With safe set, requests to
// private, loopback, link-local and metadata addresses are refused after DNS
// resolution, which matters when profile urls come from users.
func New(timeout time.Duration, safe bool) *http.Client {
	if safe {
		config := safeurl.GetConfigBuilder().
			SetTimeout(timeout).
			SetAllowedSchemes("http", "https").
			Build()

		return safeurl.Client(config).Client
	}

	h := cleanhttp.DefaultPooledClient()
	h.Timeout = timeout
	return h
}
