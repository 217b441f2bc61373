// Package framing implements the length-prefixed wire format of the camera
// protocol and the streaming reassembly of responses.
//
// Frame format:
//
//	┌──────────────┬──────────────────────┬─────────────────────────┐
//	│ length (u32) │ serialized message   │ raw trailer (responses) │
//	│ big endian   │ length bytes         │ RawLength bytes         │
//	└──────────────┴──────────────────────┴─────────────────────────┘
//
// The raw trailer carries bulk frame data (depth, IR, XYZ buffers). It is not
// self-delimited: its size is only known from the RawLength field of the
// response that precedes it.
//
// Key Components:
//
//   - EncodeRequest / DecodeRequest / EncodeResponse / DecodeResponse: conversion
//     between messages and complete frames.
//
//   - ResponseDecoder: accumulates partial length prefixes, payloads and
//     trailers across arbitrary transport chunks. Trailer bytes are copied
//     straight into a caller owned destination, never beyond the declared
//     length, and bytes belonging to the next frame are kept.
//
//   - ReadRequest / WriteResponse: blocking helpers for the server side.
//
// Every decoding error wraps common.ErrFraming. Once a framing error occurred
// the stream alignment cannot be trusted and the connection must be closed.
package framing
