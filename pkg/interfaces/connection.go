package interfaces

// Connection is one live, bidirectional client channel.
// ARCHITECTURAL DISCOVERY: writes are serialized by the implementation so
// callers can fan out from any goroutine without holding a write lock
type Connection interface {
	// ID returns the server-generated connection id.
	ID() string

	// Send enqueues an encoded frame without blocking. A full queue closes the
	// connection and returns an error; the caller never waits on a slow peer.
	Send(frame []byte) error

	// Ping requests a protocol-level liveness probe without blocking.
	Ping() error

	// Close tears the connection down. Safe to call more than once.
	Close() error

	// Done is closed once the connection has been closed.
	Done() <-chan struct{}
}
