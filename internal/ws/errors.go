package ws

import "errors"

var (
	// ErrTransport wraps read and write failures on an established socket.
	ErrTransport = errors.New("transport error")
	// ErrMalformedMessage marks an inbound frame that could not be parsed.
	// The frame is dropped and the connection stays open.
	ErrMalformedMessage = errors.New("malformed inbound message")
	// ErrDeliveryTimeout is returned when a connection's queue stays full
	// past the broadcast deadline. It is handled like ErrTransport.
	ErrDeliveryTimeout = errors.New("delivery timed out")
	// ErrConnectionClosed is returned by Deliver once teardown has begun.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrRegistryClosed is returned by Insert after Drain has started.
	ErrRegistryClosed = errors.New("registry closed")
	// ErrTooManyConnections is returned when a user is at the configured cap.
	ErrTooManyConnections = errors.New("too many connections for user")
)
