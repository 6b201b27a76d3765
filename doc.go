// Package signalr implements the transport-negotiation and connection
// layer of the SignalR client protocol: negotiate, transport selection,
// WebSocket/long-polling/SSE transports, and the HTTPConnection state
// machine that ties them together. It does not implement the hub
// protocol or invocation layer built on top of a connection.
package signalr
