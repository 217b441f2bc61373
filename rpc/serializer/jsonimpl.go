package serializer

import (
	"encoding/json"
	"github.com/ValentinKolb/rcam/rpc/common"
)

// NewJSONSerializer creates a new serializer using json encoding
func NewJSONSerializer() IRPCSerializer {
	return &jsonSerializerImpl{}
}

// jsonSerializerImpl implements the IRPCSerializer interface using json encoding
type jsonSerializerImpl struct {
}

// jsonEnvelope wraps a message together with the schema version
type jsonEnvelope[T any] struct {
	Version uint8 `json:"v"`
	Body    T     `json:"body"`
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (j jsonSerializerImpl) Name() string {
	return "json"
}

func (j jsonSerializerImpl) SerializeRequest(req common.ClientRequest) ([]byte, error) {
	return json.Marshal(jsonEnvelope[common.ClientRequest]{Version: common.ProtocolVersion, Body: req})
}

func (j jsonSerializerImpl) DeserializeRequest(b []byte, req *common.ClientRequest) error {
	return jsonDecode(b, req)
}

func (j jsonSerializerImpl) SerializeResponse(resp common.ServerResponse) ([]byte, error) {
	return json.Marshal(jsonEnvelope[common.ServerResponse]{Version: common.ProtocolVersion, Body: resp})
}

func (j jsonSerializerImpl) DeserializeResponse(b []byte, resp *common.ServerResponse) error {
	return jsonDecode(b, resp)
}

// jsonDecode unwraps an envelope into msg after checking its version
func jsonDecode[T any](b []byte, msg *T) error {
	var env jsonEnvelope[T]
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	if env.Version != common.ProtocolVersion {
		return errVersion(env.Version)
	}
	*msg = env.Body
	return nil
}
