package server

import (
	"log/slog"
	"net/http"
	"regexp"
	"sync"
)

// HandlerFunc processes one dispatch pass for a request. A non-nil error
// switches the pass into the error phase, where only error routes run with
// ctx.Err populated.
type HandlerFunc func(ctx *Context) error

// Matcher matches a method or pathname either exactly or with a compiled
// pattern. Pattern capture groups with names are merged into the request's
// path captures. The zero Matcher matches nothing; use Any for a wildcard.
type Matcher struct {
	exact string
	re    *regexp.Regexp
	any   bool
}

// Exact returns a Matcher requiring an exact string match.
func Exact(s string) Matcher {
	return Matcher{exact: s}
}

// Pattern returns a Matcher backed by a regular expression. Named groups
// become path captures.
func Pattern(expr string) (Matcher, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Matcher{}, err
	}
	return Matcher{re: re}, nil
}

// MustPattern is Pattern that panics on a bad expression. For use with
// route tables built at startup.
func MustPattern(expr string) Matcher {
	m, err := Pattern(expr)
	if err != nil {
		panic(err)
	}
	return m
}

// Any returns a Matcher that matches every input.
func Any() Matcher {
	return Matcher{any: true}
}

func (m Matcher) match(s string, captures map[string]string) bool {
	if m.any {
		return true
	}
	if m.re == nil {
		return m.exact != "" && m.exact == s
	}
	groups := m.re.FindStringSubmatch(s)
	if groups == nil {
		return false
	}
	if captures != nil {
		for i, name := range m.re.SubexpNames() {
			if name != "" && i < len(groups) {
				captures[name] = groups[i]
			}
		}
	}
	return true
}

// Route is one entry of the ordered route list. Insertion order is match
// priority.
type Route struct {
	Method       Matcher
	Path         Matcher
	ErrorHandler bool
	Handler      HandlerFunc
}

// Router holds the ordered, mutable route list and runs the two-phase
// dispatch pipeline. It is safe for concurrent use; mutation and dispatch
// take the same lock.
type Router struct {
	mu     sync.RWMutex
	routes []Route
	logger *slog.Logger
}

// NewRouter creates an empty Router.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{logger: logger.With("component", "router")}
}

// Handle appends a normal-phase route.
func (rt *Router) Handle(method, path Matcher, h HandlerFunc) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.routes = append(rt.routes, Route{Method: method, Path: path, Handler: h})
}

// HandleError appends an error-phase route. Error routes run from the top of
// the list once a normal handler has failed, with ctx.Err set.
func (rt *Router) HandleError(method, path Matcher, h HandlerFunc) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.routes = append(rt.routes, Route{Method: method, Path: path, ErrorHandler: true, Handler: h})
}

// Len returns the number of registered routes.
func (rt *Router) Len() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.routes)
}

// exhaustedBody is the fixed diagnostic written when no route ends the
// response. Reaching it means a missing route registration, not a normal
// outcome.
const exhaustedBody = "internal error: no route finalized the response\n"

// Dispatch runs one pass of the pipeline: normal routes in registration
// order until one ends the response or fails, then error routes from the
// top. If the pass finishes with the response still open, a 500 with a
// fixed diagnostic body is forced.
func (rt *Router) Dispatch(ctx *Context) {
	rt.mu.RLock()
	routes := make([]Route, len(rt.routes))
	copy(routes, rt.routes)
	rt.mu.RUnlock()

	ctx.Err = nil
	rt.runPhase(ctx, routes, false)
	if ctx.Err != nil {
		rt.runPhase(ctx, routes, true)
	}

	if !ctx.Response.Ended() {
		rt.logger.Error("dispatch exhausted without ending response",
			"request_id", ctx.ID,
			"method", ctx.Request.Method,
			"path", ctx.URL.Path,
			"error_phase", ctx.Err != nil)
		ctx.Response.SetStatus(http.StatusInternalServerError)
		ctx.Response.SetHeader("Content-Type", "text/plain; charset=utf-8")
		ctx.Response.End([]byte(exhaustedBody))
	}
}

func (rt *Router) runPhase(ctx *Context, routes []Route, errorPhase bool) {
	for _, route := range routes {
		if route.ErrorHandler != errorPhase {
			continue
		}
		if ctx.Response.Ended() {
			return
		}
		if !route.Method.match(ctx.Request.Method, nil) {
			continue
		}
		if !route.Path.match(ctx.URL.Path, ctx.PathCaptures) {
			continue
		}

		if err := route.Handler(ctx); err != nil {
			if errorPhase {
				// An error route failing is logged and skipped; the
				// original error stays visible to later error routes.
				rt.logger.Error("error route failed",
					"request_id", ctx.ID,
					"path", ctx.URL.Path,
					"error", err)
				continue
			}
			ctx.Err = &DispatchError{
				RequestID: ctx.ID,
				Method:    ctx.Request.Method,
				Path:      ctx.URL.Path,
				Err:       err,
			}
			rt.logger.Error("handler failed",
				"request_id", ctx.ID,
				"method", ctx.Request.Method,
				"path", ctx.URL.Path,
				"elapsed", ctx.Elapsed(),
				"error", err)
			return
		}
	}
}
