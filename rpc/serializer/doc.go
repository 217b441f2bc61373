// Package serializer provides message serialization for the camera protocol. It
// defines a common interface and multiple implementations for serializing the
// structured part of requests and responses. Raw frame trailers never pass
// through a serializer, they are copied by the framing layer as they are.
//
// Key Components:
//
//   - IRPCSerializer: Core interface that all serializer implementations must satisfy.
//
//   - protoSerializerImpl: Protobuf wire format built with protowire. This is the
//     encoding spoken by camera firmware and the default of the CLI. Unknown
//     fields are skipped, so newer peers can add fields without breaking older ones.
//
//   - binarySerializerImpl: Custom binary format using a flag byte to encode only
//     present fields. Smallest payloads, but only understood by rcam peers.
//
//   - jsonSerializerImpl: JSON encoding, useful for debugging with packet captures.
//
//   - gobSerializerImpl: Go's gob encoding, for Go-only deployments.
//
// Every implementation carries common.ProtocolVersion and rejects payloads with a
// different version.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	s, err := serializer.New("proto")
//	data, err := s.SerializeRequest(*common.NewRequest(common.OpStart))
//	// ... send data ...
//	var resp common.ServerResponse
//	err = s.DeserializeResponse(receivedData, &resp)
package serializer
