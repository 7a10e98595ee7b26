package server

import (
	"log/slog"
	"net/url"
	"regexp"
	"sync"
	"sync/atomic"
	"time"
)

// LiveRegistry is the single mutable set of live connections, keyed by id.
// All insertion, removal and lookup happens under one mutex; the
// single-threaded registry of the protocol becomes this lock.
type LiveRegistry struct {
	mu    sync.Mutex
	conns map[string]*LiveConnection

	config *LiveConfig
	logger *slog.Logger

	totalCreated atomic.Uint64
	totalClosed  atomic.Uint64
	reattaches   atomic.Uint64
}

// NewLiveRegistry creates an empty registry.
func NewLiveRegistry(config *LiveConfig, logger *slog.Logger) *LiveRegistry {
	if config == nil {
		config = DefaultLiveConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LiveRegistry{
		conns:  make(map[string]*LiveConnection),
		config: config,
		logger: logger.With("component", "live_registry"),
	}
}

// Attach resolves the Live-Connection header for a request. An unknown id
// creates and attaches a new connection under that id. A known id must match
// the original URL exactly; on match the previous response's write path is
// closed and resp takes over.
func (lr *LiveRegistry) Attach(id, rawURL string, resp *Response) (*LiveConnection, <-chan struct{}, error) {
	lr.mu.Lock()
	conn, ok := lr.conns[id]
	if !ok {
		conn = newLiveConnection(id, rawURL)
		lr.conns[id] = conn
		lr.totalCreated.Add(1)
		lr.mu.Unlock()

		detach := conn.attach(resp)
		recordLiveCreated(lr.Count())
		lr.logger.Info("live connection established",
			"connection_id", id,
			"url", rawURL,
			"active", lr.Count())
		return conn, detach, nil
	}
	lr.mu.Unlock()

	if conn.URL != rawURL {
		return nil, nil, ErrLiveURLMismatch
	}

	detach := conn.attach(resp)
	if conn.claimEstablishing() {
		// First response claiming a connection booked by an HTML response.
		// Not a reattachment; the candidate never carried a stream.
		lr.logger.Info("live connection claimed", "connection_id", id, "url", conn.URL)
		return conn, detach, nil
	}
	lr.reattaches.Add(1)
	recordLiveReattach()
	lr.logger.Debug("live connection reattached", "connection_id", id)
	return conn, detach, nil
}

// Candidate registers a detached connection for a request that completed
// with a successful HTML response, making it addressable for future pushes.
// The abandonment timer is armed immediately; the client has the grace
// window to come back with the id.
func (lr *LiveRegistry) Candidate(id, rawURL string) *LiveConnection {
	lr.mu.Lock()
	if existing, ok := lr.conns[id]; ok {
		lr.mu.Unlock()
		return existing
	}
	conn := newLiveConnection(id, rawURL)
	conn.establishing = true
	conn.skipUpdate = true
	lr.conns[id] = conn
	lr.totalCreated.Add(1)
	lr.mu.Unlock()

	conn.mu.Lock()
	conn.abandon = time.AfterFunc(lr.config.AbandonTimeout, func() { lr.Remove(id) })
	conn.mu.Unlock()

	recordLiveCreated(lr.Count())
	lr.logger.Debug("live connection candidate", "connection_id", id, "url", rawURL)
	return conn
}

// Release arms the abandonment timer for a connection whose current
// response's socket has closed.
func (lr *LiveRegistry) Release(conn *LiveConnection, resp *Response) {
	conn.release(resp, lr.config.AbandonTimeout, func() { lr.Remove(conn.ID) })
}

// Get looks up a connection by id.
func (lr *LiveRegistry) Get(id string) *LiveConnection {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	return lr.conns[id]
}

// Remove destroys a connection and deletes it from the registry.
func (lr *LiveRegistry) Remove(id string) {
	lr.mu.Lock()
	conn, ok := lr.conns[id]
	if ok {
		delete(lr.conns, id)
	}
	remaining := len(lr.conns)
	lr.mu.Unlock()

	if !ok {
		return
	}
	conn.destroy()
	lr.totalClosed.Add(1)
	recordLiveClosed(remaining)
	lr.logger.Info("live connection removed",
		"connection_id", id,
		"active", remaining)
}

// Count returns the number of registered connections.
func (lr *LiveRegistry) Count() int {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	return len(lr.conns)
}

// Broadcast fires the update signal of every connection whose URL path
// matches the pattern, returning how many matched.
func (lr *LiveRegistry) Broadcast(pathname *regexp.Regexp) int {
	lr.mu.Lock()
	conns := make([]*LiveConnection, 0, len(lr.conns))
	for _, conn := range lr.conns {
		conns = append(conns, conn)
	}
	lr.mu.Unlock()

	matched := 0
	for _, conn := range conns {
		if pathname.MatchString(connPath(conn)) {
			conn.Signal()
			matched++
		}
	}
	if matched > 0 {
		recordLivePush(matched)
	}
	return matched
}

// ForEach iterates over a snapshot of all connections.
func (lr *LiveRegistry) ForEach(fn func(*LiveConnection) bool) {
	lr.mu.Lock()
	conns := make([]*LiveConnection, 0, len(lr.conns))
	for _, conn := range lr.conns {
		conns = append(conns, conn)
	}
	lr.mu.Unlock()

	for _, conn := range conns {
		if !fn(conn) {
			return
		}
	}
}

// Shutdown destroys every connection, explicitly ending all live response
// streams so clients reconnect instead of hanging.
func (lr *LiveRegistry) Shutdown() {
	lr.mu.Lock()
	conns := make([]*LiveConnection, 0, len(lr.conns))
	for _, conn := range lr.conns {
		conns = append(conns, conn)
	}
	lr.conns = make(map[string]*LiveConnection)
	lr.mu.Unlock()

	for _, conn := range conns {
		conn.destroy()
		lr.totalClosed.Add(1)
	}

	lr.logger.Info("live registry shutdown", "closed_connections", len(conns))
}

// Stats returns aggregated registry statistics.
func (lr *LiveRegistry) Stats() RegistryStats {
	return RegistryStats{
		Active:       lr.Count(),
		TotalCreated: lr.totalCreated.Load(),
		TotalClosed:  lr.totalClosed.Load(),
		Reattaches:   lr.reattaches.Load(),
	}
}

// RegistryStats contains aggregated live-connection statistics.
type RegistryStats struct {
	Active       int
	TotalCreated uint64
	TotalClosed  uint64
	Reattaches   uint64
}

// connPath extracts the pathname from the connection's absolute URL.
func connPath(conn *LiveConnection) string {
	u, err := url.Parse(conn.URL)
	if err != nil {
		return conn.URL
	}
	return u.Path
}
