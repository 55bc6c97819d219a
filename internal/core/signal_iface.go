package core

import "errors"

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// Frame is a raw encoded envelope.
type Frame []byte

// SignalConnection abstracts a system messaging transport.
// Owned by the adapter; the adapter must Close() it.
//
//go:generate mockgen -source=signal_iface.go -destination=mocks/signal_mock.go -package=mocks
type SignalConnection interface {
	// TrySend queues a frame without blocking. Returns ErrBackpressure when
	// the outbound buffer is full and ErrConnClosed after Close.
	TrySend(Frame) error
	// IsOpen reports whether the transport can currently accept a send.
	IsOpen() bool
	Close()
}
