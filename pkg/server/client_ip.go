package server

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// proxyMatcher answers whether a peer address belongs to the configured set
// of trusted reverse proxies. Forwarded headers are only honored when the
// direct peer is trusted.
type proxyMatcher struct {
	ips  map[string]struct{}
	nets []*net.IPNet
}

func newProxyMatcher(entries []string, logger *slog.Logger) *proxyMatcher {
	if len(entries) == 0 {
		return nil
	}

	ips := make(map[string]struct{})
	var nets []*net.IPNet

	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			_, network, err := net.ParseCIDR(entry)
			if err != nil {
				if logger != nil {
					logger.Warn("invalid trusted proxy CIDR", "entry", entry, "error", err)
				}
				continue
			}
			nets = append(nets, network)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			if logger != nil {
				logger.Warn("invalid trusted proxy IP", "entry", entry)
			}
			continue
		}
		ips[ip.String()] = struct{}{}
	}

	if len(ips) == 0 && len(nets) == 0 {
		return nil
	}

	return &proxyMatcher{ips: ips, nets: nets}
}

func (m *proxyMatcher) IsTrusted(ip net.IP) bool {
	if m == nil || ip == nil {
		return false
	}
	if _, ok := m.ips[ip.String()]; ok {
		return true
	}
	for _, network := range m.nets {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// clientIP resolves the client address for a request. Behind a trusted proxy
// the rightmost untrusted X-Forwarded-For entry wins; otherwise the socket
// peer address is used as-is.
func clientIP(r *http.Request, trusted *proxyMatcher) string {
	remote := remoteIP(r)
	if remote == nil {
		return ""
	}
	if trusted == nil || !trusted.IsTrusted(remote) {
		return remote.String()
	}

	forwarded := parseForwardedFor(r.Header.Get("X-Forwarded-For"))
	if len(forwarded) == 0 {
		return remote.String()
	}

	for i := len(forwarded) - 1; i >= 0; i-- {
		if !trusted.IsTrusted(forwarded[i]) {
			return forwarded[i].String()
		}
	}
	return forwarded[0].String()
}

func remoteIP(r *http.Request) net.IP {
	if r == nil {
		return nil
	}
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return nil
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if zone := strings.Index(host, "%"); zone != -1 {
		host = host[:zone]
	}
	return net.ParseIP(host)
}

func parseForwardedFor(header string) []net.IP {
	if header == "" {
		return nil
	}

	var out []net.IP
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		part = strings.Trim(part, "\"")
		if part == "" || strings.EqualFold(part, "unknown") {
			continue
		}

		host := part
		if strings.HasPrefix(host, "[") {
			if end := strings.Index(host, "]"); end != -1 {
				host = host[1:end]
			}
		} else if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		} else if strings.Count(host, ":") > 1 {
			host = strings.Trim(host, "[]")
		}

		if zone := strings.Index(host, "%"); zone != -1 {
			host = host[:zone]
		}
		if ip := net.ParseIP(host); ip != nil {
			out = append(out, ip)
		}
	}
	return out
}

// forwardedProto returns the scheme asserted by a trusted proxy, or "" when
// the request should fall back to the listener's own scheme.
func forwardedProto(r *http.Request, trusted *proxyMatcher) string {
	if !trusted.IsTrusted(remoteIP(r)) {
		return ""
	}
	value := r.Header.Get("X-Forwarded-Proto")
	if value == "" {
		return ""
	}
	value = strings.TrimSpace(strings.Split(value, ",")[0])
	return strings.ToLower(strings.Trim(value, "\""))
}

// forwardedHost returns the host asserted by a trusted proxy, or "".
func forwardedHost(r *http.Request, trusted *proxyMatcher) string {
	if !trusted.IsTrusted(remoteIP(r)) {
		return ""
	}
	value := r.Header.Get("X-Forwarded-Host")
	if value == "" {
		return ""
	}
	return strings.TrimSpace(strings.Split(value, ",")[0])
}
