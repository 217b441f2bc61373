package framing

import (
	"encoding/binary"
	"fmt"
	"github.com/ValentinKolb/rcam/rpc/common"
	"github.com/ValentinKolb/rcam/rpc/serializer"
)

// Sink receives the artifacts of a ResponseDecoder.
type Sink interface {
	// OnResponse is called once the structured part of a response is decoded.
	// It returns the destination of the raw trailer, nil discards the trailer.
	OnResponse(resp *common.ServerResponse) []byte

	// OnComplete is called once the response and its whole trailer have been
	// consumed. copied is the number of trailer bytes written to the destination,
	// it is smaller than resp.RawLength if the destination was too small.
	OnComplete(resp *common.ServerResponse, copied int)
}

// stage of the reassembly
type stage uint8

const (
	stageHeader stage = iota
	stagePayload
	stageRaw
)

// ResponseDecoder reassembles responses and their raw trailers from arbitrary
// chunks of a byte stream. It is not safe for concurrent use.
type ResponseDecoder struct {
	serializer   serializer.IRPCSerializer
	maxFrameSize int
	maxRawSize   int

	stage stage

	// length prefix
	header  [HeaderSize]byte
	headerN int

	// structured payload, the buffer is reused between frames
	payload  []byte
	payloadN int

	// raw trailer of the current response
	resp         *common.ServerResponse
	rawDst       []byte
	rawRemaining int
	rawCopied    int
}

// NewResponseDecoder creates a decoder. Frames above maxFrameSize and trailers
// above maxRawSize are framing errors, values <= 0 select the defaults.
func NewResponseDecoder(s serializer.IRPCSerializer, maxFrameSize, maxRawSize int) *ResponseDecoder {
	if maxFrameSize <= 0 {
		maxFrameSize = common.DefaultMaxFrameSize
	}
	if maxRawSize <= 0 {
		maxRawSize = common.DefaultMaxRawSize
	}
	return &ResponseDecoder{
		serializer:   s,
		maxFrameSize: maxFrameSize,
		maxRawSize:   maxRawSize,
	}
}

// Feed consumes one chunk of the stream. Completed responses are reported to
// the sink in stream order. Bytes after a completed trailer are kept for the
// next response. An error wraps common.ErrFraming and leaves the decoder in an
// undefined state, the stream must be abandoned.
func (d *ResponseDecoder) Feed(chunk []byte, sink Sink) error {
	for len(chunk) > 0 {
		switch d.stage {
		case stageHeader:
			n := copy(d.header[d.headerN:], chunk)
			d.headerN += n
			chunk = chunk[n:]
			if d.headerN < HeaderSize {
				continue
			}

			size := int(binary.BigEndian.Uint32(d.header[:]))
			if size == 0 || size > d.maxFrameSize {
				return fmt.Errorf("%w: invalid frame size %d (max %d)", common.ErrFraming, size, d.maxFrameSize)
			}
			if cap(d.payload) < size {
				d.payload = make([]byte, size)
			}
			d.payload = d.payload[:size]
			d.payloadN = 0
			d.stage = stagePayload

		case stagePayload:
			n := copy(d.payload[d.payloadN:], chunk)
			d.payloadN += n
			chunk = chunk[n:]
			if d.payloadN < len(d.payload) {
				continue
			}

			resp := &common.ServerResponse{}
			if err := d.serializer.DeserializeResponse(d.payload, resp); err != nil {
				return fmt.Errorf("%w: %v", common.ErrFraming, err)
			}
			if int64(resp.RawLength) > int64(d.maxRawSize) {
				return fmt.Errorf("%w: raw trailer of %d bytes exceeds %d", common.ErrFraming, resp.RawLength, d.maxRawSize)
			}

			d.resp = resp
			d.rawDst = sink.OnResponse(resp)
			d.rawRemaining = int(resp.RawLength)
			d.rawCopied = 0
			if d.rawRemaining == 0 {
				d.complete(sink)
			} else {
				d.stage = stageRaw
			}

		case stageRaw:
			// never take more than the declared trailer from this chunk
			n := min(len(chunk), d.rawRemaining)
			if d.rawCopied < len(d.rawDst) {
				d.rawCopied += copy(d.rawDst[d.rawCopied:], chunk[:n])
			}
			d.rawRemaining -= n
			chunk = chunk[n:]
			if d.rawRemaining == 0 {
				d.complete(sink)
			}
		}
	}
	return nil
}

// complete reports the current response and prepares the next frame
func (d *ResponseDecoder) complete(sink Sink) {
	resp, copied := d.resp, d.rawCopied
	d.resp = nil
	d.rawDst = nil
	d.rawCopied = 0
	d.headerN = 0
	d.stage = stageHeader
	sink.OnComplete(resp, copied)
}

// InFrame reports whether the decoder holds a partially received response
func (d *ResponseDecoder) InFrame() bool {
	return d.stage != stageHeader || d.headerN > 0
}

// Reset drops any partially received response
func (d *ResponseDecoder) Reset() {
	d.stage = stageHeader
	d.headerN = 0
	d.payloadN = 0
	d.resp = nil
	d.rawDst = nil
	d.rawRemaining = 0
	d.rawCopied = 0
}
