package serializer

import (
	"github.com/ValentinKolb/rcam/rpc/common"
	"math"
	"reflect"
	"testing"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"Proto":  NewProtoSerializer,
	"Binary": NewBinarySerializer,
	"JSON":   NewJSONSerializer,
	"GOB":    NewGOBSerializer,
}

// testRequests creates a set of requests with different fields filled
func testRequests() []common.ClientRequest {
	return []common.ClientRequest{
		// Basic request with just an opcode
		{Opcode: common.OpStart},

		// Mode selection
		{Opcode: common.OpSetMode, StrParams: []string{"near", ""}},

		// Register write with negative values
		{Opcode: common.OpWriteRegisters, IntParams: []int32{0x0102, -1, math.MaxInt32, math.MinInt32}},

		// One way request with all fields filled
		{
			Opcode:      common.OpPing,
			IntParams:   []int32{1, 2, 3},
			FloatParams: []float32{0.5, -1.25, math.MaxFloat32},
			StrParams:   []string{"a", "bc"},
			Bytes:       []byte{0, 1, 2, 255},
			OneWay:      true,
		},
	}
}

// testResponses creates a set of responses with different fields filled
func testResponses() []common.ServerResponse {
	return []common.ServerResponse{
		// Plain ok
		{Opcode: common.OpStop, Status: common.StatusOk},

		// Error response
		{Opcode: common.OpSetMode, Status: common.StatusInvalidArgument, Message: "unknown mode"},

		// Frame response declaring a raw trailer
		{Opcode: common.OpGetFrame, IntResults: []int32{640, 480, 2}, RawLength: 640 * 480 * 2},

		// Response with all fields filled
		{
			Opcode:       common.OpGetStatus,
			Status:       common.StatusBusy,
			IntResults:   []int32{-7, 0, 7},
			FloatResults: []float32{36.6, 0},
			StrResults:   []string{"camera", "v1"},
			Bytes:        []byte("opaque"),
			Message:      "still warming up",
			RawLength:    math.MaxUint32,
		},
	}
}

// TestSerializerRoundTrip tests that messages can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, req := range testRequests() {
				data, err := serializer.SerializeRequest(req)
				if err != nil {
					t.Errorf("Failed to serialize request %d: %v", i, err)
					continue
				}

				var result common.ClientRequest
				if err := serializer.DeserializeRequest(data, &result); err != nil {
					t.Errorf("Failed to deserialize request %d: %v", i, err)
					continue
				}

				if !reflect.DeepEqual(req, result) {
					t.Errorf("Request %d doesn't match after round trip:\nOriginal: %+v\nResult: %+v", i, req, result)
				}
			}

			for i, resp := range testResponses() {
				data, err := serializer.SerializeResponse(resp)
				if err != nil {
					t.Errorf("Failed to serialize response %d: %v", i, err)
					continue
				}

				var result common.ServerResponse
				if err := serializer.DeserializeResponse(data, &result); err != nil {
					t.Errorf("Failed to deserialize response %d: %v", i, err)
					continue
				}

				if !reflect.DeepEqual(resp, result) {
					t.Errorf("Response %d doesn't match after round trip:\nOriginal: %+v\nResult: %+v", i, resp, result)
				}
			}
		})
	}
}

// TestOpcodes tests each opcode with each serializer
func TestOpcodes(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for op := common.OpOpen; op <= common.OpPing; op++ {
				data, err := serializer.SerializeRequest(common.ClientRequest{Opcode: op})
				if err != nil {
					t.Errorf("Failed to serialize opcode %s: %v", op, err)
					continue
				}

				var result common.ClientRequest
				if err := serializer.DeserializeRequest(data, &result); err != nil {
					t.Errorf("Failed to deserialize opcode %s: %v", op, err)
					continue
				}

				if result.Opcode != op {
					t.Errorf("Opcode doesn't match after round trip: Expected %s, got %s", op, result.Opcode)
				}
			}
		})
	}
}

// TestVersionMismatch tests that payloads of another schema version are rejected
func TestVersionMismatch(t *testing.T) {
	var req common.ClientRequest
	var resp common.ServerResponse

	if err := NewBinarySerializer().DeserializeRequest([]byte{common.ProtocolVersion + 1, 1, 0}, &req); err == nil {
		t.Errorf("binary: expected version error for request")
	}
	if err := NewBinarySerializer().DeserializeResponse([]byte{common.ProtocolVersion + 1, 1, 0, 0}, &resp); err == nil {
		t.Errorf("binary: expected version error for response")
	}

	// A proto message without the version field decodes as version 0
	if err := NewProtoSerializer().DeserializeRequest([]byte{0x10, 0x05}, &req); err == nil {
		t.Errorf("proto: expected version error for request")
	}

	if err := NewJSONSerializer().DeserializeResponse([]byte(`{"v":9,"body":{"opcode":"ping","status":"ok"}}`), &resp); err == nil {
		t.Errorf("json: expected version error for response")
	}
}

// TestProtoUnknownFields tests that unknown protobuf fields are skipped
func TestProtoUnknownFields(t *testing.T) {
	s := NewProtoSerializer()

	data, err := s.SerializeResponse(common.ServerResponse{Opcode: common.OpGetStatus, Message: "ok"})
	if err != nil {
		t.Fatalf("Failed to serialize: %v", err)
	}

	// field 15, varint 42 and field 16, bytes "xy"
	data = append(data, 0x78, 42, 0x82, 0x01, 2, 'x', 'y')

	var result common.ServerResponse
	if err := s.DeserializeResponse(data, &result); err != nil {
		t.Fatalf("Failed to deserialize with unknown fields: %v", err)
	}
	if result.Opcode != common.OpGetStatus || result.Message != "ok" {
		t.Errorf("Unexpected result: %+v", result)
	}
}

// TestInvalidBinaryData tests how the binary serializer handles corrupt or invalid data
func TestInvalidBinaryData(t *testing.T) {
	serializer := NewBinarySerializer()
	v := common.ProtocolVersion

	testCases := []struct {
		name        string
		data        []byte
		expectError bool
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectError: true,
		},
		{
			name:        "Too short header",
			data:        []byte{v, 1}, // No flags
			expectError: true,
		},
		{
			name:        "Valid header only",
			data:        []byte{v, 1, 0},
			expectError: false,
		},
		{
			name:        "Invalid count for ints",
			data:        []byte{v, 1, hasInts, 0, 0, 0, 5, 0, 0, 0, 1}, // Claims 5 ints but only one provided
			expectError: true,
		},
		{
			name:        "Invalid length for bytes",
			data:        []byte{v, 1, hasBytes, 0, 0, 0, 10}, // Claims 10 bytes but none provided
			expectError: true,
		},
		{
			name:        "Huge string count",
			data:        []byte{v, 1, hasStrs, 0xff, 0xff, 0xff, 0xff},
			expectError: true,
		},
		{
			name:        "Trailing garbage",
			data:        []byte{v, 1, 0, 42},
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var req common.ClientRequest
			err := serializer.DeserializeRequest(tc.data, &req)

			if tc.expectError && err == nil {
				t.Errorf("Expected error but got none")
			} else if !tc.expectError && err != nil {
				t.Errorf("Did not expect error but got: %v", err)
			}
		})
	}
}

// TestNew tests the serializer lookup by name
func TestNew(t *testing.T) {
	for _, name := range []string{"proto", "binary", "json", "gob"} {
		s, err := New(name)
		if err != nil {
			t.Fatalf("New(%s) failed: %v", name, err)
		}
		if s.Name() != name {
			t.Errorf("New(%s) returned serializer %s", name, s.Name())
		}
	}
	if _, err := New("xml"); err == nil {
		t.Errorf("Expected error for unknown serializer")
	}
}
