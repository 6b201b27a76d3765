package signalr

import "context"

// StartTransportOptions carries the parameters a Transport needs to
// begin operation: the transfer format negotiated and an optional
// bearer token for the Authorization header.
type StartTransportOptions struct {
	TransferFormat TransferFormat
	AccessToken    string
}

// TransportDelegate receives the three lifecycle callbacks a Transport
// emits (spec.md §4.2's contract): OnTransportOpen fires at most once
// and before any receive; OnTransportReceive may fire any number of
// times after open; OnTransportClose fires exactly once and is
// terminal.
type TransportDelegate interface {
	OnTransportOpen()
	OnTransportReceive(data []byte)
	OnTransportClose(err error)
}

// Transport is the capability contract HTTPConnection drives (spec.md
// §4.2). Implementations: WebSocketTransport, LongPollingTransport,
// SSETransport (constructible but never factory-selected).
type Transport interface {
	// Start begins operation asynchronously; readiness is signaled via
	// the delegate's OnTransportOpen, not by Start's return.
	Start(ctx context.Context, url string, opts StartTransportOptions) error

	// Send enqueues data for delivery. It must fail with
	// *StateError after Close has produced OnTransportClose.
	Send(ctx context.Context, data []byte) error

	// Close initiates shutdown. It is idempotent and eventually
	// produces exactly one OnTransportClose call.
	Close() error

	// InherentKeepAlive reports whether the transport's own protocol
	// already proves liveness (long-polling: true; WebSocket: false).
	InherentKeepAlive() bool

	// SetDelegate installs the single delegate that receives this
	// transport's callbacks. Must be called before Start.
	SetDelegate(d TransportDelegate)
}
