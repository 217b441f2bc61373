// Package unix implements a transport using Unix domain sockets. It is meant for
// cameras bridged by a local daemon and for running the emulator next to the
// client.
//
// Key Components:
//
//   - clientConnector: Establishes connections using Unix domain sockets
//
//   - serverConnector: Creates Unix socket listeners, an existing socket file
//     at the endpoint is removed first
package unix
