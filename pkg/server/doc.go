// Package server implements an HTTP push server built on plain HTTP
// semantics: requests are parsed into structured contexts, dispatched
// through an ordered two-phase route pipeline, and long-lived "live"
// connections let handlers push asynchronous updates to clients as a
// newline-delimited JSON stream, with the same logical connection
// migrating across physical requests.
//
// A live connection is addressed by an opaque id carried in the
// Live-Connection header of GET requests. The server holds one open
// response per subscriber, re-runs the route pipeline per update, writes
// blank heartbeat lines to survive intermediary idle timeouts, and keeps a
// grace window after a socket closes during which the client can reattach
// before the connection is abandoned.
package server
