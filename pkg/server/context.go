package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FileRef describes one uploaded file written to the request's temporary
// directory. The directory (and the file with it) is removed when the
// underlying response is finalized, success or failure.
type FileRef struct {
	FieldName        string
	OriginalFilename string
	MIMEType         string
	StoredPath       string
}

// Context is the structured view of one incoming request. It is created per
// request and discarded after the response loop exits; only the Live field
// may outlive it, through the registry.
type Context struct {
	// ID is a random opaque token identifying the request. It is reused as
	// the connection id across requests that belong to the same live
	// connection.
	ID string

	// StartTime is when the request was accepted.
	StartTime time.Time

	// ClientIP is the resolved client address.
	ClientIP string

	// URL is the absolute request URL, rebuilt from trusted forwarded
	// headers when present.
	URL *url.URL

	// PathCaptures holds named captures from the matched route pattern.
	PathCaptures map[string]string

	// SearchParams holds the query string, last value per key.
	SearchParams map[string]string

	// Cookies holds parsed request cookies, secure prefix stripped.
	Cookies map[string]string

	// Fields holds parsed body fields. A value is either a string or, for
	// names submitted with a "[]" suffix, a []string.
	Fields map[string]any

	// Files holds uploaded files. A value is either a *FileRef or, for
	// names submitted with a "[]" suffix, a []*FileRef.
	Files map[string]any

	// State is scratch space for handlers, reset at the start of every
	// dispatch pass.
	State map[string]any

	// Err is the handler error currently being replayed into error-phase
	// routes, nil during the normal phase.
	Err error

	// Live is the attached live connection, nil for plain requests.
	Live *LiveConnection

	// Request is the underlying HTTP request.
	Request *http.Request

	// Response wraps the outbound side.
	Response *Response

	tempDir string
}

// newContext parses the request line, headers and cookies into a Context.
// Any failure here is fatal for the request (400, no route dispatched).
func newContext(r *http.Request, w http.ResponseWriter, config *ServerConfig, trusted *proxyMatcher, policy *cookiePolicy) (*Context, error) {
	absURL, err := absoluteURL(r, trusted)
	if err != nil {
		return nil, err
	}

	cookies, err := parseCookies(r.Header.Get("Cookie"))
	if err != nil {
		return nil, err
	}

	params := make(map[string]string)
	for key, values := range absURL.Query() {
		if len(values) > 0 {
			params[key] = values[len(values)-1]
		}
	}

	ctx := &Context{
		ID:           uuid.NewString(),
		StartTime:    time.Now(),
		ClientIP:     clientIP(r, trusted),
		URL:          absURL,
		PathCaptures: make(map[string]string),
		SearchParams: params,
		Cookies:      cookies,
		Fields:       make(map[string]any),
		Files:        make(map[string]any),
		State:        make(map[string]any),
		Request:      r,
	}
	ctx.Response = newResponse(w, policy)
	return ctx, nil
}

// absoluteURL rebuilds the full request URL. Forwarded headers win when the
// peer is a trusted proxy; otherwise the direct Host header is used with the
// listener's own scheme.
func absoluteURL(r *http.Request, trusted *proxyMatcher) (*url.URL, error) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := forwardedProto(r, trusted); proto != "" {
		scheme = proto
	}

	host := r.Host
	if fh := forwardedHost(r, trusted); fh != "" {
		host = fh
	}
	if host == "" {
		return nil, fmt.Errorf("server: request has no host")
	}

	u, err := url.ParseRequestURI(r.RequestURI)
	if err != nil {
		// CONNECT and some proxied forms carry an opaque target.
		u = r.URL
		if u == nil {
			return nil, fmt.Errorf("server: unparseable request target %q", r.RequestURI)
		}
	}

	abs := *u
	abs.Scheme = scheme
	abs.Host = host
	return &abs, nil
}

// checkCSRF enforces the custom-header contract: any non-GET request must
// carry the configured header with a truthy value, unless its pathname
// matches the exception pattern.
func checkCSRF(r *http.Request, config *ServerConfig) error {
	if r.Method == http.MethodGet {
		return nil
	}
	if config.CSRFExceptionPath != nil && config.CSRFExceptionPath.MatchString(r.URL.Path) {
		return nil
	}
	value := strings.TrimSpace(r.Header.Get(config.CSRFHeader))
	if value == "" || value == "false" || value == "0" {
		return ErrCSRFRejected
	}
	return nil
}

// Header returns a request header value.
func (c *Context) Header(name string) string {
	return c.Request.Header.Get(name)
}

// Field returns a scalar body field, or "" when absent. Array fields return
// their last value.
func (c *Context) Field(name string) string {
	switch v := c.Fields[name].(type) {
	case string:
		return v
	case []string:
		if len(v) > 0 {
			return v[len(v)-1]
		}
	}
	return ""
}

// FieldValues returns a body field as a slice regardless of how it was
// submitted.
func (c *Context) FieldValues(name string) []string {
	switch v := c.Fields[name].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	}
	return nil
}

// File returns a single uploaded file for the field, or nil.
func (c *Context) File(name string) *FileRef {
	switch v := c.Files[name].(type) {
	case *FileRef:
		return v
	case []*FileRef:
		if len(v) > 0 {
			return v[len(v)-1]
		}
	}
	return nil
}

// FileValues returns the uploaded files for the field as a slice.
func (c *Context) FileValues(name string) []*FileRef {
	switch v := c.Files[name].(type) {
	case *FileRef:
		return []*FileRef{v}
	case []*FileRef:
		return v
	}
	return nil
}

// Elapsed returns the time since the request was accepted.
func (c *Context) Elapsed() time.Duration {
	return time.Since(c.StartTime)
}

// resetPass clears per-pass state before a new dispatch iteration.
func (c *Context) resetPass() {
	c.State = make(map[string]any)
	c.Err = nil
	c.PathCaptures = make(map[string]string)
}
