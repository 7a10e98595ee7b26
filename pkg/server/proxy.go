package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// contentProxy streams remote media through the server so pages stay
// same-origin. Only image, video and audio responses are relayed, and only
// from hosts other than this server's own.
type contentProxy struct {
	client       *http.Client
	streamBudget time.Duration
}

func newContentProxy(config *ServerConfig) *contentProxy {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: config.ProxyConnectTimeout,
		}).DialContext,
		TLSHandshakeTimeout:   config.ProxyConnectTimeout,
		ResponseHeaderTimeout: config.ProxyConnectTimeout,
	}
	return &contentProxy{
		client:       &http.Client{Transport: transport},
		streamBudget: config.ProxyStreamTimeout,
	}
}

func (p *contentProxy) serve(w http.ResponseWriter, r *http.Request) {
	destination := r.URL.Query().Get("destination")
	target, err := url.Parse(destination)
	if err != nil || destination == "" || !target.IsAbs() {
		http.Error(w, "invalid destination", http.StatusUnprocessableEntity)
		return
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		http.Error(w, "invalid destination", http.StatusUnprocessableEntity)
		return
	}
	if strings.EqualFold(target.Host, r.Host) {
		http.Error(w, "destination must not point back at this host", http.StatusUnprocessableEntity)
		return
	}

	// The fetch is bounded by the stream budget and aborted the moment the
	// requesting client goes away.
	ctx, cancel := context.WithTimeout(r.Context(), p.streamBudget)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		http.Error(w, "invalid destination", http.StatusUnprocessableEntity)
		return
	}

	upstream, err := p.client.Do(req)
	if err != nil {
		http.Error(w, "upstream fetch failed", http.StatusBadGateway)
		return
	}
	defer upstream.Body.Close()

	if upstream.StatusCode < 200 || upstream.StatusCode >= 300 {
		http.Error(w, "upstream fetch failed", http.StatusBadGateway)
		return
	}

	contentType := upstream.Header.Get("Content-Type")
	if !isMediaType(contentType) {
		http.Error(w, "destination is not media", http.StatusUnprocessableEntity)
		return
	}

	w.Header().Set("Content-Type", contentType)
	if length := upstream.Header.Get("Content-Length"); length != "" {
		w.Header().Set("Content-Length", length)
	}
	w.WriteHeader(http.StatusOK)

	// Headers are out; an upstream failure from here on can only terminate
	// the connection, not change the status.
	io.Copy(w, upstream.Body)
}

func isMediaType(contentType string) bool {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	return strings.HasPrefix(contentType, "image/") ||
		strings.HasPrefix(contentType, "video/") ||
		strings.HasPrefix(contentType, "audio/")
}
