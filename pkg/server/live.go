package server

import (
	"regexp"
	"sync"
	"time"
)

// liveIDPattern constrains connection ids carried in the Live-Connection
// header: restricted alphanumerics (plus '-'), minimum length 16.
var liveIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]{16,64}$`)

// LiveConnection is a logical, id-addressed subscription that survives
// across multiple physical HTTP request/response pairs. Identity is the id,
// not the socket: the same connection migrates across many underlying
// responses over its lifetime.
//
// At most one LiveConnection exists per id at any time; replacing the
// current response on re-establishment atomically closes the previous write
// path before attaching the new one.
type LiveConnection struct {
	// ID is the connection id, originally a request id.
	ID string

	// URL is the absolute URL the connection was established with.
	// Reattachment requests must match it exactly.
	URL string

	mu           sync.Mutex
	current      *Response
	detached     chan struct{} // closed when current is replaced or torn down
	establishing bool
	skipUpdate   bool
	updateCh     chan struct{}
	abandon      *time.Timer
	closed       bool
	createdAt    time.Time
}

func newLiveConnection(id, url string) *LiveConnection {
	return &LiveConnection{
		ID:        id,
		URL:       url,
		updateCh:  make(chan struct{}, 1),
		createdAt: time.Now(),
	}
}

// attach makes resp the authoritative response for this connection, closing
// the previous one's write path first. It returns a channel closed when a
// newer response takes over or the connection is destroyed.
func (lc *LiveConnection) attach(resp *Response) <-chan struct{} {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if lc.abandon != nil {
		lc.abandon.Stop()
		lc.abandon = nil
	}
	if lc.current != nil {
		lc.current.closeStream()
	}
	if lc.detached != nil {
		close(lc.detached)
	}

	lc.current = resp
	lc.detached = make(chan struct{})
	return lc.detached
}

// claimEstablishing consumes the marker set when the connection was booked
// as a candidate and has never carried a response.
func (lc *LiveConnection) claimEstablishing() bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	claimed := lc.establishing
	lc.establishing = false
	return claimed
}

// release records that resp's socket has closed. If resp is still the
// current response, the abandonment timer is armed; reattachment before it
// fires cancels it.
func (lc *LiveConnection) release(resp *Response, grace time.Duration, onAbandon func()) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if lc.closed || lc.current != resp {
		return
	}
	lc.current = nil
	if lc.detached != nil {
		close(lc.detached)
		lc.detached = nil
	}
	if lc.abandon != nil {
		lc.abandon.Stop()
	}
	lc.abandon = time.AfterFunc(grace, onAbandon)
}

// Signal requests an update pass. Signals coalesce: the channel holds at
// most one pending update, so a trigger racing the periodic timer costs at
// most one extra pass.
func (lc *LiveConnection) Signal() {
	select {
	case lc.updateCh <- struct{}{}:
	default:
	}
}

// Updates exposes the pending-update channel for the dispatch loop's wait
// point.
func (lc *LiveConnection) Updates() <-chan struct{} {
	return lc.updateCh
}

// Attached reports whether a response is currently attached.
func (lc *LiveConnection) Attached() bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.current != nil
}

// isCurrent reports whether resp is still the authoritative response.
func (lc *LiveConnection) isCurrent(resp *Response) bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.current == resp
}

// destroy tears the connection down: the current stream is ended so the
// client reconnects promptly, and any pending abandonment timer is stopped.
func (lc *LiveConnection) destroy() {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if lc.closed {
		return
	}
	lc.closed = true
	if lc.abandon != nil {
		lc.abandon.Stop()
		lc.abandon = nil
	}
	if lc.current != nil {
		lc.current.closeStream()
		lc.current = nil
	}
	if lc.detached != nil {
		close(lc.detached)
		lc.detached = nil
	}
}

// takeImmediate reports whether the freshly attached response should get an
// update pass right away, and consumes the establish-time skip marker. A
// candidate connection skips the first pass: the client already holds the
// state its HTML response carried.
func (lc *LiveConnection) takeImmediate() bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	immediate := !lc.skipUpdate
	lc.skipUpdate = false
	return immediate
}
