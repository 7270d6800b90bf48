// Package shape talks to the hosted change-stream service: Proxy forwards
// browser subscriptions with the source credentials attached, and Stream
// consumes a shape from Go, keeping a materialized copy of its rows.
package shape

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

const shapePath = "/v1/shape"

type (
	Proxy struct {
		origin    *url.URL
		sourceID  string
		secret    string
		transport http.RoundTripper
		logger    logrus.FieldLogger
	}

	ProxyOption func(p *Proxy)
)

// NewProxy builds a proxy to the service at serviceURL. Only the origin of
// serviceURL is used; a missing scheme defaults to https.
func NewProxy(serviceURL, sourceID, secret string, options ...ProxyOption) (*Proxy, error) {
	origin, err := Origin(serviceURL)
	if err != nil {
		return nil, err
	}

	p := &Proxy{
		origin:    origin,
		sourceID:  sourceID,
		secret:    secret,
		transport: http.DefaultTransport,
		logger:    logrus.StandardLogger(),
	}
	for _, option := range options {
		option(p)
	}
	return p, nil
}

func WithTransport(rt http.RoundTripper) ProxyOption {
	return func(p *Proxy) {
		p.transport = rt
	}
}

func WithProxyLogger(logger logrus.FieldLogger) ProxyOption {
	return func(p *Proxy) {
		p.logger = logger
	}
}

// Origin returns scheme://host of raw.
func Origin(raw string) (*url.URL, error) {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid change stream url %q", raw)
	}
	return &url.URL{Scheme: u.Scheme, Host: u.Host}, nil
}

// Target is the upstream URL for a subscription to table. Client parameters
// are kept; table and credentials always win.
func (p *Proxy) Target(table string, query url.Values) *url.URL {
	q := url.Values{}
	for key, values := range query {
		q[key] = append([]string(nil), values...)
	}
	q.Set("table", table)
	q.Set("source_id", p.sourceID)
	q.Set("source_secret", p.secret)

	target := *p.origin
	target.Path = shapePath
	target.RawQuery = q.Encode()
	return &target
}

// Handler streams the upstream response for table back unchanged, except for
// CORS headers which the API router owns.
func (p *Proxy) Handler(table string) http.Handler {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL = p.Target(table, pr.In.URL.Query())
			pr.Out.Host = pr.Out.URL.Host
			p.logger.Debugf("Fetching shape from change stream: %s", redact(pr.Out.URL))
		},
		Transport:     p.transport,
		FlushInterval: -1,
		ModifyResponse: func(resp *http.Response) error {
			for key := range resp.Header {
				if strings.HasPrefix(http.CanonicalHeaderKey(key), "Access-Control-") {
					resp.Header.Del(key)
				}
			}
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			p.logger.Errorf("Shape proxy for %s: %s", table, err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"message": "Failed to reach change stream",
				"error":   err.Error(),
			})
		},
	}
}

func redact(u *url.URL) string {
	c := *u
	q := c.Query()
	if q.Has("source_secret") {
		q.Set("source_secret", "REDACTED")
	}
	c.RawQuery = q.Encode()
	return c.String()
}
