// Package ws implements a websocket transport for cameras that are reached
// through a websocket bridge. The byte stream of the camera protocol is carried
// in binary messages, message boundaries carry no meaning: a frame may span
// several messages and a message may hold several frames.
//
// Key Components:
//
//   - clientConnector: Dials ws://<endpoint>/camera (or a full ws:// url) and
//     plugs into the event adapter of the base package
//
//   - wsServerTransport: HTTP server upgrading requests on /camera and serving
//     each websocket with the registered connection handler
//
//   - wsConn: Byte stream view of a websocket used on both sides
package ws
