// Package server implements the camera emulator: a server speaking the rcam
// wire protocol on behalf of a single emulated time-of-flight camera. It is the
// peer the client pool is tested and demonstrated against.
//
// Key Components:
//
//   - IRPCServerAdapter: Interface defining the contract for server adapters,
//     with the Handle method that processes a request against a Camera and
//     returns the response plus its raw trailer.
//
//   - Camera: The emulated device state (open, streaming, active mode, frame
//     counter and a register file). It is shared by all connections of a server.
//
//   - NewCameraServerAdapter: Factory function creating the adapter translating
//     every opcode into a Camera operation. Depth frames are returned as raw
//     trailer of the get-frame response.
//
//   - NewCameraServer: Factory function creating a configured server with the
//     specified transport and serializer mechanisms.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  CameraName: "bench-cam",
//	  MetricsEndpoint: "127.0.0.1:9100",
//	  LogLevel: "info",
//	  Transport: common.ServerTransportConfig{Endpoint: "0.0.0.0:7700"},
//	}
//
//	s := server.NewCameraServer(
//	  config,
//	  tcp.NewTCPServerTransport(),
//	  serializer.NewProtoSerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Modes:
//
//	The camera offers the modes in DefaultModes, every pixel is a little endian
//	uint16 depth value. The "test" mode produces frames of exactly 1024 bytes.
//
// Thread Safety:
//
//	Every connection is served by its own goroutine and answers its requests
//	in order. One-way requests are executed but never answered.
package server
