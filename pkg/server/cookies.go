package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// SecureCookiePrefix is prepended to cookie names before transmission and
// stripped when reading the Cookie header back.
const SecureCookiePrefix = "__Secure-"

// parseCookies splits a Cookie header on ';', percent-decodes each name and
// value, and strips the secure prefix. Any pair that does not decode to
// exactly two non-empty parts fails the whole request.
func parseCookies(header string) (map[string]string, error) {
	cookies := make(map[string]string)
	if header == "" {
		return cookies, nil
	}

	for _, pair := range strings.Split(header, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("%w: %q", ErrMalformedCookie, pair)
		}
		name, err := url.QueryUnescape(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrMalformedCookie, pair, err)
		}
		value, err := url.QueryUnescape(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrMalformedCookie, pair, err)
		}
		if name == "" || value == "" {
			return nil, fmt.Errorf("%w: %q", ErrMalformedCookie, pair)
		}
		cookies[strings.TrimPrefix(name, SecureCookiePrefix)] = value
	}
	return cookies, nil
}

// cookiePolicy renders outbound cookies with the server's security
// attributes applied uniformly.
type cookiePolicy struct {
	secure   bool
	sameSite http.SameSite
}

func newCookiePolicy(config *ServerConfig) *cookiePolicy {
	return &cookiePolicy{
		secure:   config.SecureCookies,
		sameSite: config.SameSiteMode,
	}
}

// Set builds a cookie with the secure name prefix, percent-encoded name and
// value, Path=/, HttpOnly and the configured SameSite mode. maxAge <= 0
// means a session cookie.
func (p *cookiePolicy) Set(name, value string, maxAge int) *http.Cookie {
	encoded := url.QueryEscape(name)
	if p.secure {
		encoded = SecureCookiePrefix + encoded
	}
	return &http.Cookie{
		Name:     encoded,
		Value:    url.QueryEscape(value),
		Path:     "/",
		MaxAge:   maxAge,
		Secure:   p.secure,
		HttpOnly: true,
		SameSite: p.sameSite,
	}
}

// Delete builds an expiring cookie for the given name.
func (p *cookiePolicy) Delete(name string) *http.Cookie {
	c := p.Set(name, "-", 0)
	c.MaxAge = -1
	return c
}
