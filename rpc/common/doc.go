// Package common provides the core data structures shared by the camera client,
// the camera emulator and the CLI.
//
// Key Components:
//
//   - ClientRequest / ServerResponse: the structured messages of the camera
//     protocol. A response may declare a raw trailer (RawLength) that follows it
//     on the stream without further framing.
//
//   - Opcode / Status: enumerations of camera operations and result codes.
//
//   - ClientConfig / ServerConfig: configuration of the connection pool and of
//     the emulator, including socket and TCP options.
//
//   - Error taxonomy: ErrConnectFailed, ErrTransportClosed, ErrFraming, ErrTimeout
//     and the ErrProtocolMisuse class. Callers use errors.Is to tell them apart.
//
//   - Logger: custom logger implementation plugged into dragonboat's logger
//     package so every component logs in the same format.
package common
