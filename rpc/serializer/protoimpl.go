package serializer

import (
	"fmt"
	"github.com/ValentinKolb/rcam/rpc/common"
	"google.golang.org/protobuf/encoding/protowire"
	"math"
)

// NewProtoSerializer creates a new serializer producing protobuf wire format.
// The schema mirrors the camera firmware's message definitions:
//
//	message ClientRequest {
//	  uint32 version = 1; uint32 opcode = 2;
//	  repeated int32 int_params = 3; repeated float float_params = 4;
//	  repeated string str_params = 5; bytes bytes = 6; bool one_way = 7;
//	}
//	message ServerResponse {
//	  uint32 version = 1; uint32 opcode = 2; uint32 status = 3;
//	  repeated int32 int_results = 4; repeated float float_results = 5;
//	  repeated string str_results = 6; bytes bytes = 7; string message = 8;
//	  uint32 raw_length = 9;
//	}
func NewProtoSerializer() IRPCSerializer {
	return &protoSerializerImpl{}
}

// protoSerializerImpl implements the IRPCSerializer interface using protowire
type protoSerializerImpl struct {
}

// Field numbers of ClientRequest
const (
	reqVersion     protowire.Number = 1
	reqOpcode      protowire.Number = 2
	reqIntParams   protowire.Number = 3
	reqFloatParams protowire.Number = 4
	reqStrParams   protowire.Number = 5
	reqBytes       protowire.Number = 6
	reqOneWay      protowire.Number = 7
)

// Field numbers of ServerResponse
const (
	respVersion      protowire.Number = 1
	respOpcode       protowire.Number = 2
	respStatus       protowire.Number = 3
	respIntResults   protowire.Number = 4
	respFloatResults protowire.Number = 5
	respStrResults   protowire.Number = 6
	respBytes        protowire.Number = 7
	respMessage      protowire.Number = 8
	respRawLength    protowire.Number = 9
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (p protoSerializerImpl) Name() string {
	return "proto"
}

func (p protoSerializerImpl) SerializeRequest(req common.ClientRequest) ([]byte, error) {
	var b []byte
	b = appendVarintField(b, reqVersion, uint64(common.ProtocolVersion))
	b = appendVarintField(b, reqOpcode, uint64(req.Opcode))
	b = appendPackedInt32(b, reqIntParams, req.IntParams)
	b = appendPackedFloat(b, reqFloatParams, req.FloatParams)
	for _, s := range req.StrParams {
		b = protowire.AppendTag(b, reqStrParams, protowire.BytesType)
		b = protowire.AppendString(b, s)
	}
	if len(req.Bytes) > 0 {
		b = protowire.AppendTag(b, reqBytes, protowire.BytesType)
		b = protowire.AppendBytes(b, req.Bytes)
	}
	if req.OneWay {
		b = appendVarintField(b, reqOneWay, 1)
	}
	return b, nil
}

func (p protoSerializerImpl) DeserializeRequest(b []byte, req *common.ClientRequest) error {
	*req = common.ClientRequest{}
	var version uint64

	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, field []byte) (int, error) {
		switch num {
		case reqVersion:
			return consumeVarint(typ, field, &version)
		case reqOpcode:
			var v uint64
			n, err := consumeVarint(typ, field, &v)
			req.Opcode = common.Opcode(v)
			return n, err
		case reqIntParams:
			return consumeInt32s(typ, field, &req.IntParams)
		case reqFloatParams:
			return consumeFloats(typ, field, &req.FloatParams)
		case reqStrParams:
			var s []byte
			n, err := consumeBytes(typ, field, &s)
			req.StrParams = append(req.StrParams, string(s))
			return n, err
		case reqBytes:
			return consumeBytes(typ, field, &req.Bytes)
		case reqOneWay:
			var v uint64
			n, err := consumeVarint(typ, field, &v)
			req.OneWay = v != 0
			return n, err
		}
		return -1, nil
	})
	if err != nil {
		return err
	}
	if version != uint64(common.ProtocolVersion) {
		return errVersion(uint8(version))
	}
	return nil
}

func (p protoSerializerImpl) SerializeResponse(resp common.ServerResponse) ([]byte, error) {
	var b []byte
	b = appendVarintField(b, respVersion, uint64(common.ProtocolVersion))
	b = appendVarintField(b, respOpcode, uint64(resp.Opcode))
	b = appendVarintField(b, respStatus, uint64(resp.Status))
	b = appendPackedInt32(b, respIntResults, resp.IntResults)
	b = appendPackedFloat(b, respFloatResults, resp.FloatResults)
	for _, s := range resp.StrResults {
		b = protowire.AppendTag(b, respStrResults, protowire.BytesType)
		b = protowire.AppendString(b, s)
	}
	if len(resp.Bytes) > 0 {
		b = protowire.AppendTag(b, respBytes, protowire.BytesType)
		b = protowire.AppendBytes(b, resp.Bytes)
	}
	if resp.Message != "" {
		b = protowire.AppendTag(b, respMessage, protowire.BytesType)
		b = protowire.AppendString(b, resp.Message)
	}
	b = appendVarintField(b, respRawLength, uint64(resp.RawLength))
	return b, nil
}

func (p protoSerializerImpl) DeserializeResponse(b []byte, resp *common.ServerResponse) error {
	*resp = common.ServerResponse{}
	var version uint64

	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, field []byte) (int, error) {
		var v uint64
		switch num {
		case respVersion:
			return consumeVarint(typ, field, &version)
		case respOpcode:
			n, err := consumeVarint(typ, field, &v)
			resp.Opcode = common.Opcode(v)
			return n, err
		case respStatus:
			n, err := consumeVarint(typ, field, &v)
			resp.Status = common.Status(v)
			return n, err
		case respIntResults:
			return consumeInt32s(typ, field, &resp.IntResults)
		case respFloatResults:
			return consumeFloats(typ, field, &resp.FloatResults)
		case respStrResults:
			var s []byte
			n, err := consumeBytes(typ, field, &s)
			resp.StrResults = append(resp.StrResults, string(s))
			return n, err
		case respBytes:
			return consumeBytes(typ, field, &resp.Bytes)
		case respMessage:
			var s []byte
			n, err := consumeBytes(typ, field, &s)
			resp.Message = string(s)
			return n, err
		case respRawLength:
			n, err := consumeVarint(typ, field, &v)
			if v > math.MaxUint32 {
				return n, fmt.Errorf("raw length %d out of range", v)
			}
			resp.RawLength = uint32(v)
			return n, err
		}
		return -1, nil
	})
	if err != nil {
		return err
	}
	if version != uint64(common.ProtocolVersion) {
		return errVersion(uint8(version))
	}
	return nil
}

// --------------------------------------------------------------------------
// Encoding helpers
// --------------------------------------------------------------------------

// appendVarintField appends a varint field, zero values are omitted (proto3)
func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendPackedInt32(b []byte, num protowire.Number, values []int32) []byte {
	if len(values) == 0 {
		return b
	}
	var packed []byte
	for _, v := range values {
		// int32 is sign extended to 64 bit on the wire
		packed = protowire.AppendVarint(packed, uint64(int64(v)))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func appendPackedFloat(b []byte, num protowire.Number, values []float32) []byte {
	if len(values) == 0 {
		return b
	}
	packed := make([]byte, 0, 4*len(values))
	for _, v := range values {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

// --------------------------------------------------------------------------
// Decoding helpers
// --------------------------------------------------------------------------

// fieldFunc decodes the value of one field starting at field[0]. It returns the
// number of consumed bytes, or -1 if the field is unknown and must be skipped.
type fieldFunc func(num protowire.Number, typ protowire.Type, field []byte) (int, error)

// consumeFields walks all fields of a message
func consumeFields(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			// Skip unknown fields for forward compatibility
			m = protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return protowire.ParseError(m)
			}
		}
		b = b[m:]
	}
	return nil
}

func consumeVarint(typ protowire.Type, b []byte, v *uint64) (int, error) {
	if typ != protowire.VarintType {
		return 0, fmt.Errorf("unexpected wire type %d for varint field", typ)
	}
	x, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*v = x
	return n, nil
}

func consumeBytes(typ protowire.Type, b []byte, v *[]byte) (int, error) {
	if typ != protowire.BytesType {
		return 0, fmt.Errorf("unexpected wire type %d for bytes field", typ)
	}
	x, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	if len(x) > 0 {
		*v = append([]byte(nil), x...)
	}
	return n, nil
}

// consumeInt32s accepts packed and unpacked encodings
func consumeInt32s(typ protowire.Type, b []byte, values *[]int32) (int, error) {
	if typ == protowire.VarintType {
		var v uint64
		n, err := consumeVarint(typ, b, &v)
		*values = append(*values, int32(v))
		return n, err
	}
	packed, n := protowire.ConsumeBytes(b)
	if n < 0 || typ != protowire.BytesType {
		return 0, fmt.Errorf("invalid packed int32 field")
	}
	for len(packed) > 0 {
		v, m := protowire.ConsumeVarint(packed)
		if m < 0 {
			return 0, protowire.ParseError(m)
		}
		*values = append(*values, int32(v))
		packed = packed[m:]
	}
	return n, nil
}

// consumeFloats accepts packed and unpacked encodings
func consumeFloats(typ protowire.Type, b []byte, values *[]float32) (int, error) {
	if typ == protowire.Fixed32Type {
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		*values = append(*values, math.Float32frombits(v))
		return n, nil
	}
	packed, n := protowire.ConsumeBytes(b)
	if n < 0 || typ != protowire.BytesType || len(packed)%4 != 0 {
		return 0, fmt.Errorf("invalid packed float field")
	}
	for len(packed) > 0 {
		v, _ := protowire.ConsumeFixed32(packed)
		*values = append(*values, math.Float32frombits(v))
		packed = packed[4:]
	}
	return n, nil
}
