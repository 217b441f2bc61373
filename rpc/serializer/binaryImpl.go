package serializer

import (
	"encoding/binary"
	"fmt"
	"github.com/ValentinKolb/rcam/rpc/common"
	"math"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasInts      byte = 1 << 0
	hasFloats    byte = 1 << 1
	hasStrs      byte = 1 << 2
	hasBytes     byte = 1 << 3
	isOneWay     byte = 1 << 4
	hasMessage   byte = 1 << 5
	hasRawLength byte = 1 << 6
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Name() string {
	return "binary"
}

func (b binarySerializerImpl) SerializeRequest(req common.ClientRequest) ([]byte, error) {
	// Header: version, opcode, flags
	result := make([]byte, 3, 3+b.sizeParams(req.IntParams, req.FloatParams, req.StrParams, req.Bytes))
	result[0] = common.ProtocolVersion
	result[1] = byte(req.Opcode)

	var flags byte = 0
	result, flags = appendParams(result, flags, req.IntParams, req.FloatParams, req.StrParams, req.Bytes)
	if req.OneWay {
		flags |= isOneWay
	}

	// Set flags byte after knowing which fields are present
	result[2] = flags

	return result, nil
}

func (b binarySerializerImpl) DeserializeRequest(data []byte, req *common.ClientRequest) error {
	// Check minimum size (version + opcode + flags)
	if len(data) < 3 {
		return fmt.Errorf("data too short for request header")
	}
	if data[0] != common.ProtocolVersion {
		return errVersion(data[0])
	}

	req.Opcode = common.Opcode(data[1])
	flags := data[2]

	r := binReader{data: data, pos: 3}
	var err error
	if req.IntParams, req.FloatParams, req.StrParams, req.Bytes, err = r.params(flags); err != nil {
		return err
	}
	req.OneWay = flags&isOneWay != 0

	return r.finish()
}

func (b binarySerializerImpl) SerializeResponse(resp common.ServerResponse) ([]byte, error) {
	// Header: version, opcode, status, flags
	size := 4 + b.sizeParams(resp.IntResults, resp.FloatResults, resp.StrResults, resp.Bytes) + 4 + len(resp.Message) + 4
	result := make([]byte, 4, size)
	result[0] = common.ProtocolVersion
	result[1] = byte(resp.Opcode)
	result[2] = byte(resp.Status)

	var flags byte = 0
	result, flags = appendParams(result, flags, resp.IntResults, resp.FloatResults, resp.StrResults, resp.Bytes)

	// Handle Message
	if resp.Message != "" {
		flags |= hasMessage
		result = binary.BigEndian.AppendUint32(result, uint32(len(resp.Message)))
		result = append(result, resp.Message...)
	}

	// Handle RawLength
	if resp.RawLength > 0 {
		flags |= hasRawLength
		result = binary.BigEndian.AppendUint32(result, resp.RawLength)
	}

	result[3] = flags

	return result, nil
}

func (b binarySerializerImpl) DeserializeResponse(data []byte, resp *common.ServerResponse) error {
	// Check minimum size (version + opcode + status + flags)
	if len(data) < 4 {
		return fmt.Errorf("data too short for response header")
	}
	if data[0] != common.ProtocolVersion {
		return errVersion(data[0])
	}

	resp.Opcode = common.Opcode(data[1])
	resp.Status = common.Status(data[2])
	flags := data[3]

	r := binReader{data: data, pos: 4}
	var err error
	if resp.IntResults, resp.FloatResults, resp.StrResults, resp.Bytes, err = r.params(flags); err != nil {
		return err
	}

	// Read Message if present
	resp.Message = ""
	if flags&hasMessage != 0 {
		msg, err := r.bytes("message")
		if err != nil {
			return err
		}
		resp.Message = string(msg)
	}

	// Read RawLength if present
	resp.RawLength = 0
	if flags&hasRawLength != 0 {
		if resp.RawLength, err = r.uint32("raw length"); err != nil {
			return err
		}
	}

	return r.finish()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeParams returns the encoded size of the shared parameter lists
func (b binarySerializerImpl) sizeParams(ints []int32, floats []float32, strs []string, raw []byte) int {
	size := 4 + 4*len(ints) + 4 + 4*len(floats) + 4 + 4 + len(raw)
	for _, s := range strs {
		size += 4 + len(s)
	}
	return size
}

// appendParams appends the parameter lists shared by requests and responses
// and returns the updated flags
func appendParams(result []byte, flags byte, ints []int32, floats []float32, strs []string, raw []byte) ([]byte, byte) {
	// Handle Ints
	if len(ints) > 0 {
		flags |= hasInts
		result = binary.BigEndian.AppendUint32(result, uint32(len(ints)))
		for _, v := range ints {
			result = binary.BigEndian.AppendUint32(result, uint32(v))
		}
	}

	// Handle Floats
	if len(floats) > 0 {
		flags |= hasFloats
		result = binary.BigEndian.AppendUint32(result, uint32(len(floats)))
		for _, v := range floats {
			result = binary.BigEndian.AppendUint32(result, math.Float32bits(v))
		}
	}

	// Handle Strs
	if len(strs) > 0 {
		flags |= hasStrs
		result = binary.BigEndian.AppendUint32(result, uint32(len(strs)))
		for _, s := range strs {
			result = binary.BigEndian.AppendUint32(result, uint32(len(s)))
			result = append(result, s...)
		}
	}

	// Handle Bytes
	if len(raw) > 0 {
		flags |= hasBytes
		result = binary.BigEndian.AppendUint32(result, uint32(len(raw)))
		result = append(result, raw...)
	}

	return result, flags
}

// binReader reads length checked fields from a serialized message
type binReader struct {
	data []byte
	pos  int
}

func (r *binReader) uint32(field string) (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, fmt.Errorf("data too short for %s", field)
	}
	v := binary.BigEndian.Uint32(r.data[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

// count reads a list length and checks that the remaining data can hold
// at least minSize bytes per element
func (r *binReader) count(field string, minSize int) (int, error) {
	n, err := r.uint32(field + " count")
	if err != nil {
		return 0, err
	}
	if uint64(n)*uint64(minSize) > uint64(len(r.data)-r.pos) {
		return 0, fmt.Errorf("data too short for %s", field)
	}
	return int(n), nil
}

func (r *binReader) bytes(field string) ([]byte, error) {
	n, err := r.count(field, 1)
	if err != nil {
		return nil, err
	}
	v := r.data[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}

// params reads the parameter lists announced by flags
func (r *binReader) params(flags byte) (ints []int32, floats []float32, strs []string, raw []byte, err error) {
	// Read Ints if present
	if flags&hasInts != 0 {
		n, err := r.count("ints", 4)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		ints = make([]int32, n)
		for i := range ints {
			v, _ := r.uint32("int")
			ints[i] = int32(v)
		}
	}

	// Read Floats if present
	if flags&hasFloats != 0 {
		n, err := r.count("floats", 4)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		floats = make([]float32, n)
		for i := range floats {
			v, _ := r.uint32("float")
			floats[i] = math.Float32frombits(v)
		}
	}

	// Read Strs if present
	if flags&hasStrs != 0 {
		n, err := r.count("strings", 4)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		strs = make([]string, n)
		for i := range strs {
			s, err := r.bytes("string")
			if err != nil {
				return nil, nil, nil, nil, err
			}
			strs[i] = string(s)
		}
	}

	// Read Bytes if present, copied so the message does not alias the frame buffer
	if flags&hasBytes != 0 {
		b, err := r.bytes("bytes")
		if err != nil {
			return nil, nil, nil, nil, err
		}
		raw = append([]byte(nil), b...)
	}

	return ints, floats, strs, raw, nil
}

// finish rejects trailing garbage
func (r *binReader) finish() error {
	if r.pos != len(r.data) {
		return fmt.Errorf("%d unexpected trailing bytes", len(r.data)-r.pos)
	}
	return nil
}

func errVersion(v uint8) error {
	return fmt.Errorf("unsupported protocol version %d, expected %d", v, common.ProtocolVersion)
}

func errUnknownSerializer(name string) error {
	return fmt.Errorf("invalid serializer %s", name)
}
