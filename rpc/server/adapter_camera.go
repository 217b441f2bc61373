package server

import (
	"fmt"
	"github.com/ValentinKolb/rcam/rpc/common"
)

func NewCameraServerAdapter() IRPCServerAdapter {
	return &cameraServerAdapterImpl{}
}

type cameraServerAdapterImpl struct{}

func (adapter *cameraServerAdapterImpl) Handle(req *common.ClientRequest, camera *Camera) (*common.ServerResponse, []byte) {
	// Check for nil camera
	if camera == nil {
		return common.NewErrorResponse(req.Opcode, common.StatusUnreachable, "handler: camera is nil"), nil
	}

	// Handle different opcodes
	switch req.Opcode {
	case common.OpOpen:
		return camera.handleOpen(), nil
	case common.OpClose:
		return camera.handleClose(), nil
	case common.OpGetAvailableModes:
		return camera.handleGetModes(), nil
	case common.OpSetMode:
		return camera.handleSetMode(req), nil
	case common.OpStart:
		return camera.handleStart(), nil
	case common.OpStop:
		return camera.handleStop(), nil
	case common.OpGetStatus:
		return camera.handleStatus(), nil
	case common.OpGetFrame:
		return camera.handleGetFrame()
	case common.OpReadRegisters:
		return camera.handleReadRegisters(req), nil
	case common.OpWriteRegisters:
		return camera.handleWriteRegisters(req), nil
	case common.OpPing:
		resp := common.NewResponse(common.OpPing, common.StatusOk)
		resp.Bytes = req.Bytes
		return resp, nil
	default:
		return common.NewErrorResponse(
			req.Opcode,
			common.StatusGenericError,
			fmt.Sprintf("RPC CameraAdapter - Unsupported opcode: %d", req.Opcode),
		), nil
	}
}

// --------------------------------------------------------------------------
// Camera operations
// --------------------------------------------------------------------------

func (c *Camera) handleOpen() *common.ServerResponse {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.open = true
	resp := common.NewResponse(common.OpOpen, common.StatusOk)
	resp.StrResults = []string{c.name}
	return resp
}

func (c *Camera) handleClose() *common.ServerResponse {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.open = false
	c.streaming = false
	return common.NewResponse(common.OpClose, common.StatusOk)
}

// handleGetModes lists the modes by name, IntResults holds width and height of
// every mode in the same order
func (c *Camera) handleGetModes() *common.ServerResponse {
	resp := common.NewResponse(common.OpGetAvailableModes, common.StatusOk)
	for _, m := range c.modes {
		resp.StrResults = append(resp.StrResults, m.Name)
		resp.IntResults = append(resp.IntResults, int32(m.Width), int32(m.Height))
	}
	return resp
}

func (c *Camera) handleSetMode(req *common.ClientRequest) *common.ServerResponse {
	if len(req.StrParams) != 1 {
		return common.NewErrorResponse(common.OpSetMode, common.StatusInvalidArgument, "expected exactly one mode name")
	}
	mode, ok := c.findMode(req.StrParams[0])
	if !ok {
		return common.NewErrorResponse(common.OpSetMode, common.StatusInvalidArgument, fmt.Sprintf("unknown mode %q", req.StrParams[0]))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.streaming {
		return common.NewErrorResponse(common.OpSetMode, common.StatusBusy, "stop streaming before changing the mode")
	}
	c.mode = mode
	resp := common.NewResponse(common.OpSetMode, common.StatusOk)
	resp.IntResults = []int32{int32(mode.Width), int32(mode.Height)}
	return resp
}

func (c *Camera) handleStart() *common.ServerResponse {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return common.NewErrorResponse(common.OpStart, common.StatusUnavailable, "camera is not open")
	}
	c.streaming = true
	return common.NewResponse(common.OpStart, common.StatusOk)
}

func (c *Camera) handleStop() *common.ServerResponse {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.streaming = false
	return common.NewResponse(common.OpStop, common.StatusOk)
}

// handleStatus reports [open, streaming, frames captured, width, height] and the
// name of the active mode
func (c *Camera) handleStatus() *common.ServerResponse {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp := common.NewResponse(common.OpGetStatus, common.StatusOk)
	resp.IntResults = []int32{
		boolToInt(c.open),
		boolToInt(c.streaming),
		int32(c.frames),
		int32(c.mode.Width),
		int32(c.mode.Height),
	}
	resp.StrResults = []string{c.mode.Name}
	return resp
}

// handleGetFrame captures a frame, the depth data is returned as raw trailer.
// IntResults holds [width, height, frame index].
func (c *Camera) handleGetFrame() (*common.ServerResponse, []byte) {
	c.mu.Lock()
	if !c.streaming {
		c.mu.Unlock()
		return common.NewErrorResponse(common.OpGetFrame, common.StatusUnavailable, "camera is not streaming"), nil
	}
	mode := c.mode
	index := c.frames
	c.frames++
	c.mu.Unlock()

	raw := c.captureFrame(mode, index)

	resp := common.NewResponse(common.OpGetFrame, common.StatusOk)
	resp.IntResults = []int32{int32(mode.Width), int32(mode.Height), int32(index)}
	resp.RawLength = uint32(len(raw))
	return resp, raw
}

// handleReadRegisters returns the values of the requested addresses, unset
// registers read as zero
func (c *Camera) handleReadRegisters(req *common.ClientRequest) *common.ServerResponse {
	resp := common.NewResponse(common.OpReadRegisters, common.StatusOk)
	resp.IntResults = make([]int32, len(req.IntParams))
	for i, addr := range req.IntParams {
		resp.IntResults[i], _ = c.registers.Load(addr)
	}
	return resp
}

func (c *Camera) handleWriteRegisters(req *common.ClientRequest) *common.ServerResponse {
	if len(req.IntParams)%2 != 0 {
		return common.NewErrorResponse(common.OpWriteRegisters, common.StatusInvalidArgument, "expected address/value pairs")
	}
	for i := 0; i < len(req.IntParams); i += 2 {
		c.registers.Store(req.IntParams[i], req.IntParams[i+1])
	}
	return common.NewResponse(common.OpWriteRegisters, common.StatusOk)
}

func boolToInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
