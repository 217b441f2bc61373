package cam

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/rcam/cmd/util"
	"github.com/ValentinKolb/rcam/rpc/client"
	"github.com/ValentinKolb/rcam/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
)

var (
	Logger = logger.GetLogger("cli")

	pool         *client.Pool
	clientConfig *common.ClientConfig

	// CameraCommands represents the camera command group
	CameraCommands = &cobra.Command{
		Use:                "cam",
		Short:              "Talk to remote cameras",
		Long:               "Connect to one to four remote cameras (one per slot) and run commands against them. The endpoint position in --endpoints is the slot number.",
		PersistentPreRunE:  setupPool,
		PersistentPostRunE: teardownPool,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add common connection flags to the cam command
	util.SetupClientFlags(CameraCommands)

	key := "slot"
	CameraCommands.PersistentFlags().Int(key, -1, util.WrapString("Slot to run the command on, -1 runs it on every connected slot"))

	key = "metrics"
	CameraCommands.PersistentFlags().Bool(key, false, util.WrapString("Print the client metrics in prometheus format after the command"))

	key = "log-level"
	CameraCommands.PersistentFlags().String(key, "warn", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	// Add subcommands
	CameraCommands.AddCommand(statusCmd)
	CameraCommands.AddCommand(sendCmd)
	CameraCommands.AddCommand(pingCmd)
	CameraCommands.AddCommand(frameCmd)
	CameraCommands.AddCommand(streamCmd)
}

// setupPool creates the pool and connects every configured endpoint
func setupPool(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	if err := common.InitLoggers(viper.GetString("log-level")); err != nil {
		return err
	}

	config, err := util.GetClientConfig()
	if err != nil {
		return err
	}
	if len(config.Endpoints) > client.MaxCameras {
		return fmt.Errorf("at most %d endpoints are supported, got %d", client.MaxCameras, len(config.Endpoints))
	}
	clientConfig = config

	// Get serializer and transport
	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetClientTransport()
	if err != nil {
		return err
	}

	pool = client.NewPool(*config, t, s)

	for slot, endpoint := range config.Endpoints {
		if err := pool.Connect(context.Background(), slot, endpoint); err != nil {
			_ = pool.Close()
			return fmt.Errorf("slot %d (%s): %w", slot, endpoint, err)
		}
		Logger.Infof("slot %d connected to %s (session %s)", slot, endpoint, pool.SessionID(slot))
	}

	return nil
}

// teardownPool prints the metrics if requested and closes all connections
func teardownPool(_ *cobra.Command, _ []string) error {
	if pool == nil {
		return nil
	}
	if viper.GetBool("metrics") {
		fmt.Println()
		pool.WritePrometheus(os.Stdout)
	}
	return pool.Close()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// targetSlots returns the slots a command runs on
func targetSlots() ([]int, error) {
	slot := viper.GetInt("slot")
	if slot >= 0 {
		if !pool.IsConnected(slot) {
			return nil, fmt.Errorf("slot %d is not connected", slot)
		}
		return []int{slot}, nil
	}

	slots := make([]int, 0, client.MaxCameras)
	for i := range clientConfig.Endpoints {
		if pool.IsConnected(i) {
			slots = append(slots, i)
		}
	}
	return slots, nil
}
