// Package transport defines the interfaces between the camera client and the
// network. A transport carries an opaque, ordered byte stream; framing lives in
// the framing package and the exchange logic in the client package.
//
// Key Components:
//
//   - IAdapter: Event interface of one connection. The client's event goroutine
//     dials through it, polls it with Service for Connected, Data, Writable and
//     Closed events and writes at most one chunk per Writable event.
//
//   - IClientTransport: Factory of adapters for one kind of transport.
//
//   - IServerTransport: Server side used by the camera emulator. Every accepted
//     connection is served by a ServerConnHandler.
//
// Implementations live in the tcp, unix and ws sub packages, built on the base
// package.
package transport
