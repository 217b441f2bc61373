package cam

import (
	"context"
	"encoding/csv"
	"fmt"
	"github.com/ValentinKolb/rcam/cmd/util"
	"github.com/ValentinKolb/rcam/rpc/client"
	"github.com/ValentinKolb/rcam/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"
	"os"
	"strconv"
	"sync"
	"time"
)

var (
	streamCmd = &cobra.Command{
		Use:     "stream",
		Short:   "Streams frames from all slots in parallel and reports the throughput",
		RunE:    runStream,
		PreRunE: processStreamConfig,
	}
	streamFPS      = 30.0
	streamDuration = 10 * time.Second
	streamMode     = "test"
)

// streamResult is the outcome of streaming from one slot
type streamResult struct {
	slot     int
	frames   int
	failures int
	bytes    int64
	elapsed  time.Duration
	stats    client.Stats
}

func init() {
	key := "fps"
	streamCmd.Flags().Float64(key, 30, util.WrapString("Frames per second requested from every slot (0 requests as fast as possible)"))
	key = "duration"
	streamCmd.Flags().Duration(key, 10*time.Second, util.WrapString("How long to stream"))
	key = "mode"
	streamCmd.Flags().String(key, "test", util.WrapString("Camera mode to stream in"))
	key = "csv"
	streamCmd.Flags().String(key, "", util.WrapString("Optional path to save the results as CSV"))
}

func processStreamConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	streamFPS = viper.GetFloat64("fps")
	streamDuration = viper.GetDuration("duration")
	streamMode = viper.GetString("mode")

	if streamFPS < 0 {
		return fmt.Errorf("fps must not be negative")
	}
	return nil
}

func runStream(_ *cobra.Command, _ []string) error {
	slots, err := targetSlots()
	if err != nil {
		return err
	}

	fmt.Printf("Streaming %s frames from %d slot(s) for %s\n", streamMode, len(slots), streamDuration)
	fmt.Println(clientConfig.String())

	ctx, cancel := context.WithTimeout(context.Background(), streamDuration)
	defer cancel()

	results := make([]streamResult, len(slots))
	var wg sync.WaitGroup
	for i, slot := range slots {
		wg.Add(1)
		go func(i, slot int) {
			defer wg.Done()
			results[i] = streamSlot(ctx, slot)
		}(i, slot)
	}
	wg.Wait()

	for _, result := range results {
		printResult(result)
	}

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, clientConfig); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// streamSlot requests frames from one slot until ctx expires. The request
// rate is bounded by a token bucket.
func streamSlot(ctx context.Context, slot int) streamResult {
	result := streamResult{slot: slot}

	buf, err := startStreaming(slot, streamMode)
	if err != nil {
		Logger.Errorf("slot %d: failed to start streaming: %v", slot, err)
		result.failures++
		return result
	}

	limit := rate.Inf
	if streamFPS > 0 {
		limit = rate.Limit(streamFPS)
	}
	limiter := rate.NewLimiter(limit, 1)

	start := time.Now()
	for {
		if err := limiter.Wait(ctx); err != nil {
			break
		}

		// A frame request in flight is allowed to finish after the stream ended
		resp, err := pool.Invoke(context.Background(), slot, common.NewGetFrameRequest(), buf)
		if err != nil {
			Logger.Warningf("slot %d: frame failed: %v", slot, err)
			result.failures++
			if !pool.IsConnected(slot) {
				break
			}
			continue
		}
		result.frames++
		result.bytes += int64(resp.RawLength)
	}
	result.elapsed = time.Since(start)

	if pool.IsConnected(slot) {
		if _, err := pool.Invoke(context.Background(), slot, common.NewRequest(common.OpStop), nil); err != nil {
			Logger.Warningf("slot %d: failed to stop streaming: %v", slot, err)
		}
	}
	result.stats = pool.Stats(slot)
	return result
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func (r streamResult) fps() float64 {
	if r.elapsed <= 0 {
		return 0
	}
	return float64(r.frames) / r.elapsed.Seconds()
}

func (r streamResult) mbps() float64 {
	if r.elapsed <= 0 {
		return 0
	}
	return float64(r.bytes) / (1024 * 1024) / r.elapsed.Seconds()
}

// printResult prints the result of a slot in a formatted way
func printResult(r streamResult) {
	if r.frames == 0 {
		fmt.Printf("slot %-4dno frames (%d failures)\n", r.slot, r.failures)
		return
	}
	fmt.Printf("slot %-4d%d frames\t%.1f fps\t%.2f MB/s\t%d failures\n", r.slot, r.frames, r.fps(), r.mbps(), r.failures)
	fmt.Printf("          %s\n", r.stats.String())
}

// writeResultsToCSV writes the stream results to a CSV file
func writeResultsToCSV(csvPath string, results []streamResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Slot", "Endpoint", "Frames", "Failures", "Bytes", "Seconds", "FPS", "MBps",
		"MeanLatency", "P99Latency", "MaxLatency",
		"Mode", "RequestedFPS", "Serializer", "Transport", "TimeoutSec",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write slot results
	for _, r := range results {
		row := []string{
			strconv.Itoa(r.slot),
			config.Endpoints[r.slot],
			strconv.Itoa(r.frames),
			strconv.Itoa(r.failures),
			strconv.FormatInt(r.bytes, 10),
			fmt.Sprintf("%.3f", r.elapsed.Seconds()),
			fmt.Sprintf("%.2f", r.fps()),
			fmt.Sprintf("%.2f", r.mbps()),
			r.stats.MeanLatency.String(),
			r.stats.P99Latency.String(),
			r.stats.MaxLatency.String(),
			streamMode,
			strconv.FormatFloat(streamFPS, 'f', -1, 64),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(config.TimeoutSecond),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for slot %d: %v", r.slot, err)
		}
	}

	return nil
}
