// Package rpc provides the network transport between rcam clients and remote
// depth cameras. Requests and responses travel as length-prefixed frames, a
// response may be followed by a raw trailer carrying frame data.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the system,
//     including the request/response protocol, error classes, configuration
//     structures, and logging.
//
//   - framing: The length-prefixed wire format and the incremental response
//     decoder that reassembles frames and raw trailers from arbitrary chunks.
//
//   - serializer: Message serialization with multiple format options (Proto,
//     Binary, JSON, GOB).
//
//   - transport: Network communication abstractions with pluggable
//     implementations (TCP, Unix sockets, WebSocket) for clients and servers.
//
//   - client: The camera pool, a fixed table of four slots each driven by its own
//     event goroutine, with blocking connect and send operations.
//
//   - server: The camera emulator answering requests on behalf of an emulated
//     time-of-flight camera.
package rpc
