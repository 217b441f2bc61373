package serializer

import (
	"bytes"
	"encoding/gob"
	"github.com/ValentinKolb/rcam/rpc/common"
)

// NewGOBSerializer creates a new serializer using Go's binary gob format
func NewGOBSerializer() IRPCSerializer {
	return &gobSerializerImpl{}
}

// gobSerializerImpl implements the IRPCSerializer interface using gob encoding
type gobSerializerImpl struct {
}

// gobEnvelope wraps a message together with the schema version
type gobEnvelope[T any] struct {
	Version uint8
	Body    T
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (g gobSerializerImpl) Name() string {
	return "gob"
}

func (g gobSerializerImpl) SerializeRequest(req common.ClientRequest) ([]byte, error) {
	return gobEncode(gobEnvelope[common.ClientRequest]{Version: common.ProtocolVersion, Body: req})
}

func (g gobSerializerImpl) DeserializeRequest(b []byte, req *common.ClientRequest) error {
	return gobDecode(b, req)
}

func (g gobSerializerImpl) SerializeResponse(resp common.ServerResponse) ([]byte, error) {
	return gobEncode(gobEnvelope[common.ServerResponse]{Version: common.ProtocolVersion, Body: resp})
}

func (g gobSerializerImpl) DeserializeResponse(b []byte, resp *common.ServerResponse) error {
	return gobDecode(b, resp)
}

func gobEncode[T any](env gobEnvelope[T]) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(env); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode[T any](b []byte, msg *T) error {
	var env gobEnvelope[T]
	dec := gob.NewDecoder(bytes.NewBuffer(b))
	if err := dec.Decode(&env); err != nil {
		return err
	}
	if env.Version != common.ProtocolVersion {
		return errVersion(env.Version)
	}
	*msg = env.Body
	return nil
}
