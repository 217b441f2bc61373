package server

import (
	"github.com/ValentinKolb/rcam/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters
// It is responsible for handling requests and responses
type IRPCServerAdapter interface {
	// Handle handles a request against the camera and returns the response and
	// its raw trailer (nil if there is none). If an error occurs, it is reported
	// through the status of the response.
	Handle(req *common.ClientRequest, camera *Camera) (resp *common.ServerResponse, raw []byte)
}
