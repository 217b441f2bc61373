package framing

import (
	"encoding/binary"
	"fmt"
	"github.com/ValentinKolb/rcam/rpc/common"
	"github.com/ValentinKolb/rcam/rpc/serializer"
	"io"
	"net"
)

// HeaderSize is the size of the length prefix of every frame
const HeaderSize = 4

// --------------------------------------------------------------------------
// Encoding
// --------------------------------------------------------------------------

// EncodeRequest serializes a request into a complete frame with the format:
// - 4 bytes: payload length (uint32, big endian)
// - N bytes: serialized request
func EncodeRequest(s serializer.IRPCSerializer, req *common.ClientRequest) ([]byte, error) {
	payload, err := s.SerializeRequest(*req)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize request: %w", err)
	}
	return frame(payload), nil
}

// EncodeResponse serializes a response into a complete frame. The raw trailer
// announced by resp.RawLength is not part of the frame and must be written
// right after it.
func EncodeResponse(s serializer.IRPCSerializer, resp *common.ServerResponse) ([]byte, error) {
	payload, err := s.SerializeResponse(*resp)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize response: %w", err)
	}
	return frame(payload), nil
}

// frame prefixes the payload with its length
func frame(payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[:HeaderSize], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf
}

// --------------------------------------------------------------------------
// Decoding of complete frames
// --------------------------------------------------------------------------

// DecodeRequest decodes a complete request frame
func DecodeRequest(s serializer.IRPCSerializer, frame []byte) (*common.ClientRequest, error) {
	payload, err := unframe(frame)
	if err != nil {
		return nil, err
	}
	req := &common.ClientRequest{}
	if err := s.DeserializeRequest(payload, req); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrFraming, err)
	}
	return req, nil
}

// DecodeResponse decodes a complete response frame and returns the response
// together with the number of raw bytes that follow it on the stream
func DecodeResponse(s serializer.IRPCSerializer, frame []byte) (*common.ServerResponse, int, error) {
	payload, err := unframe(frame)
	if err != nil {
		return nil, 0, err
	}
	resp := &common.ServerResponse{}
	if err := s.DeserializeResponse(payload, resp); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", common.ErrFraming, err)
	}
	return resp, int(resp.RawLength), nil
}

// unframe checks the length prefix against the frame and returns the payload
func unframe(frame []byte) ([]byte, error) {
	if len(frame) < HeaderSize {
		return nil, fmt.Errorf("%w: frame shorter than its header", common.ErrFraming)
	}
	size := binary.BigEndian.Uint32(frame[:HeaderSize])
	if int(size) != len(frame)-HeaderSize {
		return nil, fmt.Errorf("%w: header announces %d bytes, frame carries %d", common.ErrFraming, size, len(frame)-HeaderSize)
	}
	return frame[HeaderSize:], nil
}

// --------------------------------------------------------------------------
// Blocking stream helpers (used by the camera server)
// --------------------------------------------------------------------------

// ReadRequest reads one request frame from r using the provided buffer.
// If the buffer is too small, a new temporary buffer is allocated for the payload.
func ReadRequest(r io.Reader, s serializer.IRPCSerializer, maxFrameSize int, buf []byte) (*common.ClientRequest, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(header[:])
	if size == 0 || (maxFrameSize > 0 && int(size) > maxFrameSize) {
		return nil, fmt.Errorf("%w: invalid frame size %d", common.ErrFraming, size)
	}

	// Check if buffer is large enough for data
	if len(buf) < int(size) {
		buf = make([]byte, size)
	}
	if _, err := io.ReadFull(r, buf[:size]); err != nil {
		return nil, err
	}

	req := &common.ClientRequest{}
	if err := s.DeserializeRequest(buf[:size], req); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrFraming, err)
	}
	return req, nil
}

// WriteResponse writes a response frame followed by its raw trailer.
// len(raw) must match resp.RawLength.
func WriteResponse(w io.Writer, s serializer.IRPCSerializer, resp *common.ServerResponse, raw []byte) error {
	if int(resp.RawLength) != len(raw) {
		return fmt.Errorf("response declares %d raw bytes, got %d", resp.RawLength, len(raw))
	}
	f, err := EncodeResponse(s, resp)
	if err != nil {
		return err
	}

	b := net.Buffers{f}
	if len(raw) > 0 {
		b = append(b, raw)
	}
	_, err = b.WriteTo(w)
	return err
}
