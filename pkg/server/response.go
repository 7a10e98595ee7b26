package server

import (
	"encoding/json"
	"net/http"
	"sync"
)

// jsonLinesContentType is the content type of a live update stream. Each
// pushed update is one JSON value followed by a newline; blank lines are
// heartbeats and must be ignored by clients.
const jsonLinesContentType = "application/json-lines; charset=utf-8"

// Response wraps the outbound status, headers and body stream. Ending a
// response is irreversible: no write is observable after End, and End is an
// idempotent no-op when already ended.
//
// With a live connection attached the response switches to streaming mode:
// End serializes its payload as one line of the JSON stream and marks the
// current dispatch pass ended without closing the socket. PushUpdate writes
// a line without ending anything.
type Response struct {
	mu     sync.Mutex
	w      http.ResponseWriter
	policy *cookiePolicy

	status      int
	wroteHeader bool

	streaming bool // live mode: newline-delimited JSON
	passEnded bool // virtual end of the current dispatch pass
	ended     bool // real end; nothing observable afterwards
	closed    bool // write path torn down (takeover or client gone)
}

func newResponse(w http.ResponseWriter, policy *cookiePolicy) *Response {
	return &Response{w: w, policy: policy, status: http.StatusOK}
}

// SetStatus sets the response status code. It has no effect once headers
// have been sent.
func (r *Response) SetStatus(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.wroteHeader {
		r.status = code
	}
}

// Status returns the status code that was, or will be, sent.
func (r *Response) Status() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// SetHeader sets a response header. No effect after headers are sent.
func (r *Response) SetHeader(name, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.wroteHeader {
		r.w.Header().Set(name, value)
	}
}

// SetCookie writes a cookie with the server's security attributes.
// maxAge <= 0 means a session cookie.
func (r *Response) SetCookie(name, value string, maxAge int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.wroteHeader {
		http.SetCookie(r.w, r.policy.Set(name, value, maxAge))
	}
}

// DeleteCookie expires a cookie.
func (r *Response) DeleteCookie(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.wroteHeader {
		http.SetCookie(r.w, r.policy.Delete(name))
	}
}

// Redirect ends the response with a redirect to the given location. In
// streaming mode the stream stays open: the location is delivered as one
// JSON line and only the current pass ends.
func (r *Response) Redirect(location string, code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended || r.passEnded || r.closed {
		return
	}
	if r.streaming {
		payload, _ := json.Marshal(map[string]string{"redirect": location})
		r.writeLineLocked(payload)
		r.passEnded = true
		return
	}
	if !r.wroteHeader {
		r.w.Header().Set("Location", location)
		r.status = code
	}
	r.endLocked(nil)
}

// End finishes the response with the given body. In streaming mode the body
// must already be a JSON-encoded value; it is written as one line and only
// the current pass is marked ended.
func (r *Response) End(body []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended || r.passEnded || r.closed {
		return
	}
	if r.streaming {
		r.writeLineLocked(body)
		r.passEnded = true
		return
	}
	r.endLocked(body)
}

// EndJSON finishes the response with a JSON body. This is the call that
// behaves uniformly in both plain and streaming mode.
func (r *Response) EndJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended || r.passEnded || r.closed {
		return ErrResponseEnded
	}
	if r.streaming {
		r.writeLineLocked(payload)
		r.passEnded = true
		return nil
	}
	if !r.wroteHeader {
		r.w.Header().Set("Content-Type", "application/json; charset=utf-8")
	}
	r.endLocked(payload)
	return nil
}

// EndHTML finishes the response with an HTML body.
func (r *Response) EndHTML(body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended || r.passEnded || r.closed {
		return
	}
	if r.streaming {
		payload, _ := json.Marshal(body)
		r.writeLineLocked(payload)
		r.passEnded = true
		return
	}
	if !r.wroteHeader {
		r.w.Header().Set("Content-Type", "text/html; charset=utf-8")
	}
	r.endLocked([]byte(body))
}

// PushUpdate writes one JSON value to the stream without ending anything.
// It is only valid in streaming mode.
func (r *Response) PushUpdate(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.ended {
		return ErrConnectionClosed
	}
	if !r.streaming {
		return ErrResponseEnded
	}
	return r.writeLineLocked(payload)
}

// Ended reports whether the response, or the current pass in streaming
// mode, has been ended.
func (r *Response) Ended() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ended || r.passEnded || r.closed
}

// ContentType returns the Content-Type header that was set, if any.
func (r *Response) ContentType() string {
	return r.w.Header().Get("Content-Type")
}

// beginStream switches the response to live streaming mode and commits the
// headers. No status change is possible afterwards.
func (r *Response) beginStream() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.streaming || r.wroteHeader {
		return
	}
	r.streaming = true
	r.w.Header().Set("Content-Type", jsonLinesContentType)
	r.w.Header().Set("Cache-Control", "no-store")
	r.w.WriteHeader(r.status)
	r.wroteHeader = true
	r.flushLocked()
}

// heartbeat writes a blank keep-alive line.
func (r *Response) heartbeat() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.ended || !r.streaming {
		return ErrConnectionClosed
	}
	return r.writeLineLocked(nil)
}

// resetPass re-arms the virtual end marker for the next dispatch pass.
func (r *Response) resetPass() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.passEnded = false
}

// closeStream tears down the write path for good. Used on takeover by a
// newer response for the same connection id and on shutdown.
func (r *Response) closeStream() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.ended = true
}

func (r *Response) endLocked(body []byte) {
	if !r.wroteHeader {
		r.w.WriteHeader(r.status)
		r.wroteHeader = true
	}
	if len(body) > 0 {
		r.w.Write(body)
	}
	r.ended = true
	r.flushLocked()
}

func (r *Response) writeLineLocked(payload []byte) error {
	if !r.wroteHeader {
		r.w.WriteHeader(r.status)
		r.wroteHeader = true
	}
	if _, err := r.w.Write(append(payload, '\n')); err != nil {
		r.closed = true
		return err
	}
	r.flushLocked()
	return nil
}

func (r *Response) flushLocked() {
	if f, ok := r.w.(http.Flusher); ok {
		f.Flush()
	}
}
