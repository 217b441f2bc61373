package common

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the schema version carried by every serialized message.
// Peers speaking a different version are rejected by the serializers.
const ProtocolVersion uint8 = 1

// --------------------------------------------------------------------------
// Message Structures
// --------------------------------------------------------------------------

// ClientRequest is a single structured request sent to a remote camera.
// Which parameter lists are used depends on the opcode.
type ClientRequest struct {
	// Camera operation to invoke
	Opcode Opcode `json:"opcode"`

	// Typed parameters
	IntParams   []int32   `json:"int_params,omitempty"`
	FloatParams []float32 `json:"float_params,omitempty"`
	StrParams   []string  `json:"str_params,omitempty"`
	Bytes       []byte    `json:"bytes,omitempty"`

	// OneWay requests are not answered by the camera
	OneWay bool `json:"one_way,omitempty"`
}

// ServerResponse is a single structured response received from a remote camera.
// If RawLength is non-zero, exactly RawLength unframed bytes follow the response
// on the stream.
type ServerResponse struct {
	// Opcode of the request this response answers
	Opcode Opcode `json:"opcode"`
	Status Status `json:"status"`

	// Typed results
	IntResults   []int32   `json:"int_results,omitempty"`
	FloatResults []float32 `json:"float_results,omitempty"`
	StrResults   []string  `json:"str_results,omitempty"`
	Bytes        []byte    `json:"bytes,omitempty"`

	// Message contains a human readable error description, empty on success
	Message string `json:"message,omitempty"`

	// RawLength is the size of the raw trailer following this response
	RawLength uint32 `json:"raw_length,omitempty"`
}

// Clone returns a deep copy of the response, so it can be handed to callers
// without sharing slices with the connection.
func (r *ServerResponse) Clone() *ServerResponse {
	if r == nil {
		return nil
	}
	c := *r
	if r.IntResults != nil {
		c.IntResults = append([]int32(nil), r.IntResults...)
	}
	if r.FloatResults != nil {
		c.FloatResults = append([]float32(nil), r.FloatResults...)
	}
	if r.StrResults != nil {
		c.StrResults = append([]string(nil), r.StrResults...)
	}
	if r.Bytes != nil {
		c.Bytes = append([]byte(nil), r.Bytes...)
	}
	return &c
}

// Err converts a non-ok status into an error, nil otherwise
func (r *ServerResponse) Err() error {
	if r.Status == StatusOk {
		return nil
	}
	if r.Message != "" {
		return fmt.Errorf("camera %s failed with status %s: %s", r.Opcode, r.Status, r.Message)
	}
	return fmt.Errorf("camera %s failed with status %s", r.Opcode, r.Status)
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewRequest creates a request with the given integer parameters
func NewRequest(op Opcode, params ...int32) *ClientRequest {
	req := &ClientRequest{Opcode: op}
	if len(params) > 0 {
		req.IntParams = params
	}
	return req
}

// NewSetModeRequest creates a request selecting a sensor mode by name
func NewSetModeRequest(mode string) *ClientRequest {
	return &ClientRequest{
		Opcode:    OpSetMode,
		StrParams: []string{mode},
	}
}

// NewGetFrameRequest creates a request for a single frame. The frame is
// delivered as the raw trailer of the response.
func NewGetFrameRequest() *ClientRequest {
	return &ClientRequest{Opcode: OpGetFrame}
}

// NewReadRegistersRequest creates a request reading the given register addresses
func NewReadRegistersRequest(addresses ...int32) *ClientRequest {
	return NewRequest(OpReadRegisters, addresses...)
}

// NewWriteRegistersRequest creates a request writing address/value pairs
func NewWriteRegistersRequest(pairs ...int32) *ClientRequest {
	return NewRequest(OpWriteRegisters, pairs...)
}

// NewPingRequest creates a ping carrying an opaque payload that is echoed back
func NewPingRequest(payload []byte) *ClientRequest {
	return &ClientRequest{Opcode: OpPing, Bytes: payload}
}

// NewResponse creates a response for the given opcode
func NewResponse(op Opcode, status Status) *ServerResponse {
	return &ServerResponse{Opcode: op, Status: status}
}

// NewErrorResponse creates an error response for the given opcode
func NewErrorResponse(op Opcode, status Status, err string) *ServerResponse {
	return &ServerResponse{
		Opcode:  op,
		Status:  status,
		Message: err,
	}
}

// --------------------------------------------------------------------------
// Opcode Definition
// --------------------------------------------------------------------------

// Opcode identifies the camera operation of a request.
type Opcode uint8

const (
	OpUnknown Opcode = iota
	OpOpen
	OpClose
	OpGetAvailableModes
	OpSetMode
	OpStart
	OpStop
	OpGetStatus
	OpGetFrame
	OpReadRegisters
	OpWriteRegisters
	OpPing
)

var opcodeNames = map[Opcode]string{
	OpUnknown:           "unknown",
	OpOpen:              "open",
	OpClose:             "close",
	OpGetAvailableModes: "get-modes",
	OpSetMode:           "set-mode",
	OpStart:             "start",
	OpStop:              "stop",
	OpGetStatus:         "status",
	OpGetFrame:          "get-frame",
	OpReadRegisters:     "read-registers",
	OpWriteRegisters:    "write-registers",
	OpPing:              "ping",
}

// String returns the string representation of an Opcode.
func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return "unknown"
}

// ParseOpcode converts the string representation back into an Opcode
func ParseOpcode(s string) (Opcode, error) {
	for op, name := range opcodeNames {
		if name == s && op != OpUnknown {
			return op, nil
		}
	}
	return OpUnknown, fmt.Errorf("unknown opcode: %s", s)
}

// MarshalJSON implements the json.Marshaller interface for Opcode.
func (o Opcode) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for Opcode.
func (o *Opcode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "unknown" {
		*o = OpUnknown
		return nil
	}
	op, err := ParseOpcode(s)
	if err != nil {
		return err
	}
	*o = op
	return nil
}

// --------------------------------------------------------------------------
// Status Definition
// --------------------------------------------------------------------------

// Status is the result code of a camera operation.
type Status uint8

const (
	StatusOk Status = iota
	StatusBusy
	StatusUnreachable
	StatusInvalidArgument
	StatusUnavailable
	StatusGenericError
)

// String returns the string representation of a Status.
func (s Status) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusBusy:
		return "busy"
	case StatusUnreachable:
		return "unreachable"
	case StatusInvalidArgument:
		return "invalid-argument"
	case StatusUnavailable:
		return "unavailable"
	case StatusGenericError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for Status.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for Status.
func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	for st := StatusOk; st <= StatusGenericError; st++ {
		if st.String() == str {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown status: %s", str)
}
