package proxy

import (
	"net"
	"net/http"
	"strings"
)

// ResolveURL returns the fully-resolved URL of a proxied request as rules see
// it: scheme://host[:port]/path?query. The host is lower-cased, the port is
// dropped when it is the scheme default, and userinfo and fragment are removed.
// defaultScheme applies when the request URL carries none (origin-form requests
// read from an intercepted TLS connection).
func ResolveURL(r *http.Request, defaultScheme string) string {
	u := *r.URL
	if u.Scheme == "" {
		u.Scheme = defaultScheme
	}
	u.Scheme = strings.ToLower(u.Scheme)

	host := u.Host
	if host == "" {
		host = r.Host
	}
	u.Host = canonicalHost(host, u.Scheme)
	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

func canonicalHost(host, scheme string) string {
	host = strings.ToLower(host)
	name, port, err := net.SplitHostPort(host)
	if err != nil {
		return host
	}
	if port == defaultPort(scheme) || port == "" {
		if strings.Contains(name, ":") {
			return "[" + name + "]"
		}
		return name
	}
	return host
}

func defaultPort(scheme string) string {
	if scheme == "https" {
		return "443"
	}
	return "80"
}

// hostname strips any port from a host[:port] authority.
func hostname(authority string) string {
	if name, _, err := net.SplitHostPort(authority); err == nil {
		return strings.ToLower(name)
	}
	return strings.ToLower(strings.Trim(authority, "[]"))
}
