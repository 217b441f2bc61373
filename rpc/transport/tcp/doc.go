// Package tcp implements the TCP transport of the camera client and the camera
// emulator. It provides the TCP specific connectors for the base package, which
// contributes the event adapter and the accept loop.
//
// Key Components:
//
//   - clientConnector: Dials the camera and applies the configured socket options
//
//   - serverConnector: Creates TCP listeners and tunes accepted connections
//
// Socket options (Nagle, keep-alive, linger, buffer sizes) come from the TCPConf
// and SocketConf parts of the client and server configuration.
package tcp
