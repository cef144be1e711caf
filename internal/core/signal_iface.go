package core

// Frame is a raw encoded wire message.
type Frame []byte

// SignalConn abstracts a system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConn interface {
	// TrySend queues a frame for delivery without blocking. Frames queued on
	// the same connection are delivered in order.
	TrySend(Frame) error
	Close()
}
