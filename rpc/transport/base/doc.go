// Package base provides the protocol-independent part of the camera transports.
// It turns blocking stream connections (TCP, Unix sockets, WebSockets) into the
// event interface the client's per-slot event goroutine is driven by, and serves
// accepted connections on the camera side.
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Interfaces for protocol-specific operations
//     that allow extending the base transport with different network protocols.
//
//   - adapter: Client side implementation of transport.IAdapter. A dial goroutine
//     and a reader goroutine queue Connected, Data and Closed events, Service
//     hands them to the event goroutine and synthesizes Writable events while a
//     write is pending. Writes are bounded by a chunk size and a short deadline,
//     so a slow peer yields short writes instead of blocking the event goroutine.
//
//   - serverTransport: Accepts connections and runs the registered handler for
//     each in its own goroutine. Open connections are tracked so Close can shut
//     them down.
//
// Thread Safety:
//
//	An adapter is driven by a single goroutine, only Wake and Close may be called
//	concurrently. The server transport is safe for concurrent use.
package base
