package serializer

import "github.com/ValentinKolb/rcam/rpc/common"

// IRPCSerializer is the interface for all message serializers.
// Every implementation carries common.ProtocolVersion and rejects payloads
// written with another schema version.
type IRPCSerializer interface {
	// Name returns the name of the serializer (e.g., "proto", "binary")
	Name() string
	// SerializeRequest serializes a request into a byte array
	SerializeRequest(req common.ClientRequest) ([]byte, error)
	// DeserializeRequest deserializes a byte array into the given request
	DeserializeRequest(b []byte, req *common.ClientRequest) error
	// SerializeResponse serializes a response into a byte array
	SerializeResponse(resp common.ServerResponse) ([]byte, error)
	// DeserializeResponse deserializes a byte array into the given response
	DeserializeResponse(b []byte, resp *common.ServerResponse) error
}

// New returns the serializer registered under the given name
func New(name string) (IRPCSerializer, error) {
	switch name {
	case "proto":
		return NewProtoSerializer(), nil
	case "binary":
		return NewBinarySerializer(), nil
	case "json":
		return NewJSONSerializer(), nil
	case "gob":
		return NewGOBSerializer(), nil
	default:
		return nil, errUnknownSerializer(name)
	}
}
