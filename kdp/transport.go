package kdp

import (
	"net/http"
	"net/url"
	"strings"
)

// originTransport pins the Referer and Origin headers on every request
// to the portal host. The portal rejects cross-origin API calls, so the
// headers are fixed once at client construction, the same way a gateway
// rewrite rule would be, rather than decided per request.
type originTransport struct {
	host    string
	referer string
	origin  string
	next    http.RoundTripper
}

func newOriginTransport(base *url.URL, next http.RoundTripper) *originTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	origin := base.Scheme + "://" + base.Host
	return &originTransport{
		host:    base.Host,
		referer: origin + "/",
		origin:  origin,
		next:    next,
	}
}

// RoundTrip rewrites headers for portal requests and passes everything
// else through untouched.
func (t *originTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Host != t.host {
		return t.next.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("Referer", t.referer)
	clone.Header.Set("Origin", t.origin)
	return t.next.RoundTrip(clone)
}

// parseCookieHeader turns a raw "name=value; name2=value2" Cookie header
// string into cookies that can seed the client jar.
func parseCookieHeader(raw string) []*http.Cookie {
	var cookies []*http.Cookie
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok || name == "" {
			continue
		}
		cookies = append(cookies, &http.Cookie{Name: name, Value: value})
	}
	return cookies
}
