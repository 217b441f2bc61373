// Package client implements the connection pool of the camera client. A pool
// drives up to MaxCameras remote cameras, each over its own stream connection
// with its own event goroutine.
//
// The package focuses on:
//   - Blocking request/response exchanges on top of an event driven transport
//   - Reassembly of responses and their raw frame trailers from arbitrary chunks
//   - Strict single-exchange-per-slot discipline and bounded waits
//
// Key Components:
//
//   - Pool: Public API. Connect, SendCommand, Recv, the status queries and
//     Disconnect work on a slot index. Slots share nothing but the table.
//
//   - slot: One connection. Caller goroutines block on a condition variable
//     while the slot's event goroutine services the transport adapter, writes
//     the pending request chunk by chunk and feeds received bytes into the
//     response decoder. The event goroutine never does I/O while holding the
//     slot mutex.
//
//   - machine: Explicit state machine (Disconnected, Connecting, Connected,
//     Closing, Closed). It holds the pending-send buffer, the raw destination of
//     the in-flight exchange and the status flags, and is driven by events only,
//     which makes it testable without sockets.
//
//   - Stats: Exchange counts, latencies and byte counters per slot, also
//     exported in prometheus format by Pool.WritePrometheus.
//
// Usage Example:
//
//	config := common.DefaultClientConfig()
//	pool := client.NewPool(config, tcp.NewTCPClientTransport(), serializer.NewProtoSerializer())
//	defer pool.Close()
//
//	if err := pool.Connect(ctx, 0, "10.0.0.7:5000"); err != nil {
//	  return err
//	}
//
//	// 1024x1024 depth frame, 2 bytes per pixel
//	frame := make([]byte, 1024*1024*2)
//	resp, err := pool.SendCommand(ctx, 0, common.NewGetFrameRequest(), frame)
//
// Error Handling:
//
//	Errors wrap the classes of the common package: common.ErrConnectFailed
//	(never connected), common.ErrTransportClosed (connection lost during the
//	exchange), common.ErrFraming (malformed exchange rejected), common.ErrTimeout
//	and common.ErrProtocolMisuse. Nothing is retried inside the pool, a closed
//	slot is reconnected by calling Connect again.
//
// Thread Safety:
//
//	All Pool methods are safe for concurrent use. Exchanges on different slots
//	run in parallel, exchanges on one slot never overlap.
package client
