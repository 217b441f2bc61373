package cam

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/ValentinKolb/rcam/rpc/common"
	"github.com/spf13/cobra"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

var (
	sendStrParams []string
	sendPayload   string
	sendOneWay    bool

	frameMode  string
	frameCount int
	frameOut   string

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Print the connection and camera status of every slot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			slots, err := targetSlots()
			if err != nil {
				return err
			}
			for _, slot := range slots {
				flags := pool.Flags(slot)
				fmt.Printf("slot %d (%s)\n", slot, clientConfig.Endpoints[slot])
				fmt.Printf("  state     : %s\n", pool.State(slot))
				fmt.Printf("  session   : %s\n", pool.SessionID(slot))
				fmt.Printf("  flags     : connected=%t sent=%t received=%t thread=%t closed=%t\n",
					flags.Connected, flags.SendSuccessful, flags.DataReceived, flags.ThreadRunning, flags.Closed)

				resp, err := pool.Invoke(context.Background(), slot, common.NewRequest(common.OpGetStatus), nil)
				if err != nil {
					fmt.Printf("  camera    : %v\n", err)
					continue
				}
				if len(resp.IntResults) >= 5 && len(resp.StrResults) >= 1 {
					fmt.Printf("  camera    : open=%t streaming=%t frames=%d mode=%s (%dx%d)\n",
						resp.IntResults[0] == 1, resp.IntResults[1] == 1, resp.IntResults[2],
						resp.StrResults[0], resp.IntResults[3], resp.IntResults[4])
				} else {
					fmt.Printf("  camera    : %v %v\n", resp.IntResults, resp.StrResults)
				}
			}
			return nil
		},
	}
	sendCmd = &cobra.Command{
		Use:   "send [opcode] [int params...]",
		Short: "Sends a single command and prints the response",
		Long:  "Sends a single command and prints the response as JSON. Opcodes: open, close, get-modes, set-mode, start, stop, status, get-frame, read-registers, write-registers, ping. A raw trailer is discarded, use frame to save frames.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := common.ParseOpcode(args[0])
			if err != nil {
				return err
			}

			req := &common.ClientRequest{
				Opcode:    op,
				StrParams: sendStrParams,
				OneWay:    sendOneWay,
			}
			if sendPayload != "" {
				req.Bytes = []byte(sendPayload)
			}
			for _, arg := range args[1:] {
				v, err := strconv.ParseInt(arg, 0, 32)
				if err != nil {
					return fmt.Errorf("int param %q must be a number: %w", arg, err)
				}
				req.IntParams = append(req.IntParams, int32(v))
			}

			slots, err := targetSlots()
			if err != nil {
				return err
			}
			for _, slot := range slots {
				resp, err := pool.SendCommand(context.Background(), slot, req, nil)
				if err != nil {
					return fmt.Errorf("slot %d: %w", slot, err)
				}
				if req.OneWay {
					fmt.Printf("slot %d: sent\n", slot)
					continue
				}
				out, err := json.MarshalIndent(resp, "", "  ")
				if err != nil {
					return err
				}
				fmt.Printf("slot %d: %s\n", slot, out)
			}
			return nil
		},
	}
	pingCmd = &cobra.Command{
		Use:   "ping [count]",
		Short: "Measures the round trip time of every slot",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			count := 4
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("count must be a positive number")
				}
				count = n
			}

			slots, err := targetSlots()
			if err != nil {
				return err
			}
			for _, slot := range slots {
				payload := []byte(fmt.Sprintf("rcam-ping-%d", slot))
				for i := 0; i < count; i++ {
					start := time.Now()
					resp, err := pool.Invoke(context.Background(), slot, common.NewPingRequest(payload), nil)
					if err != nil {
						return fmt.Errorf("slot %d: %w", slot, err)
					}
					if string(resp.Bytes) != string(payload) {
						return fmt.Errorf("slot %d: ping payload mismatch", slot)
					}
					fmt.Printf("slot %d: seq=%d time=%s\n", slot, i, time.Since(start))
				}
			}
			return nil
		},
	}
	frameCmd = &cobra.Command{
		Use:   "frame",
		Short: "Captures frames and optionally saves the raw depth data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			slots, err := targetSlots()
			if err != nil {
				return err
			}
			if frameOut != "" {
				if err := os.MkdirAll(frameOut, 0o755); err != nil {
					return err
				}
			}

			for _, slot := range slots {
				buf, err := startStreaming(slot, frameMode)
				if err != nil {
					return fmt.Errorf("slot %d: %w", slot, err)
				}

				for i := 0; i < frameCount; i++ {
					resp, err := pool.Invoke(context.Background(), slot, common.NewGetFrameRequest(), buf)
					if err != nil {
						return fmt.Errorf("slot %d: %w", slot, err)
					}
					raw := buf[:resp.RawLength]
					fmt.Printf("slot %d: frame %v (%d bytes)\n", slot, resp.IntResults, len(raw))

					if frameOut != "" {
						path := filepath.Join(frameOut, fmt.Sprintf("slot%d-frame%d.raw", slot, i))
						if err := os.WriteFile(path, raw, 0o644); err != nil {
							return err
						}
					}
				}

				if _, err := pool.Invoke(context.Background(), slot, common.NewRequest(common.OpStop), nil); err != nil {
					return fmt.Errorf("slot %d: %w", slot, err)
				}
			}
			return nil
		},
	}
)

func init() {
	sendCmd.Flags().StringSliceVar(&sendStrParams, "str", nil, "String parameters of the request")
	sendCmd.Flags().StringVar(&sendPayload, "payload", "", "Opaque payload of the request")
	sendCmd.Flags().BoolVar(&sendOneWay, "one-way", false, "Do not wait for a response")

	frameCmd.Flags().StringVar(&frameMode, "mode", "test", "Camera mode to capture in")
	frameCmd.Flags().IntVar(&frameCount, "count", 1, "Number of frames to capture per slot")
	frameCmd.Flags().StringVar(&frameOut, "out", "", "Directory to save the raw frames to")
}

// startStreaming opens the camera of a slot, selects the mode and starts
// streaming. It returns a buffer large enough for a frame of the mode.
func startStreaming(slot int, mode string) ([]byte, error) {
	ctx := context.Background()

	if _, err := pool.Invoke(ctx, slot, common.NewRequest(common.OpOpen), nil); err != nil {
		return nil, err
	}
	resp, err := pool.Invoke(ctx, slot, common.NewSetModeRequest(mode), nil)
	if err != nil {
		return nil, err
	}
	if len(resp.IntResults) < 2 {
		return nil, fmt.Errorf("set-mode response carries no geometry")
	}
	if _, err := pool.Invoke(ctx, slot, common.NewRequest(common.OpStart), nil); err != nil {
		return nil, err
	}

	// width * height * uint16 depth
	return make([]byte, int(resp.IntResults[0])*int(resp.IntResults[1])*2), nil
}
