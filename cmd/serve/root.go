package serve

import (
	"github.com/ValentinKolb/rcam/cmd/util"
	"github.com/ValentinKolb/rcam/rpc/common"
	"github.com/ValentinKolb/rcam/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the camera emulator",
		Long:    `Start a camera emulator speaking the rcam protocol. The configuration can be set via command line flags or environment variables. The format of the environment variables is RCAM_<flag> (e.g. RCAM_CAMERA_NAME=bench-cam)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	// add flags
	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:7700", util.WrapString("The address on which the camera will listen (e.g. 0.0.0.0:7700, /tmp/rcam.sock, ...)"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, util.WrapString("Write timeout of a response in seconds, 0 disables it"))

	key = "camera-name"
	ServeCmd.PersistentFlags().String(key, "rcam-emulator", util.WrapString("Name reported by the emulated camera"))

	key = "frame-width"
	ServeCmd.PersistentFlags().Int(key, 0, util.WrapString("Width of an additional 'custom' mode (0 disables it)"))

	key = "frame-height"
	ServeCmd.PersistentFlags().Int(key, 0, util.WrapString("Height of an additional 'custom' mode (0 disables it)"))

	key = "max-frame-size"
	ServeCmd.PersistentFlags().Int(key, common.DefaultMaxFrameSize/1024, util.WrapString("Largest accepted request frame (in KB)"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", util.WrapString("Address of the prometheus metrics endpoint (e.g. 127.0.0.1:9100), empty disables it"))

	key = "transport-write-buffer"
	ServeCmd.PersistentFlags().Int(key, 512, util.WrapString("The size of the socket write buffer (in KB)"))

	key = "transport-read-buffer"
	ServeCmd.PersistentFlags().Int(key, 512, util.WrapString("The size of the socket read buffer (in KB)"))

	key = "transport-tcp-nodelay"
	ServeCmd.PersistentFlags().Bool(key, true, util.WrapString("Whether to enable TCP_NODELAY (tcp only)"))

	key = "transport-tcp-keepalive"
	ServeCmd.PersistentFlags().Int(key, 0, util.WrapString("The keepalive interval (in seconds, tcp only)"))

	key = "transport-tcp-linger"
	ServeCmd.PersistentFlags().Int(key, -1, util.WrapString("The linger time (in seconds, tcp only, -1 keeps the OS default)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.CameraName = viper.GetString("camera-name")
	serveCmdConfig.FrameWidth = viper.GetInt("frame-width")
	serveCmdConfig.FrameHeight = viper.GetInt("frame-height")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.Transport = common.ServerTransportConfig{
		Endpoint:     viper.GetString("endpoint"),
		MaxFrameSize: viper.GetInt("max-frame-size") * 1024,
		SocketConf: common.SocketConf{
			WriteBufferSize: viper.GetInt("transport-write-buffer") * 1024,
			ReadBufferSize:  viper.GetInt("transport-read-buffer") * 1024,
		},
		TCPConf: common.TCPConf{
			TCPNoDelay:      viper.GetBool("transport-tcp-nodelay"),
			TCPKeepAliveSec: viper.GetInt("transport-tcp-keepalive"),
			TCPLingerSec:    viper.GetInt("transport-tcp-linger"),
		},
	}

	// validate the log level early
	_, err := common.ParseLogLevel(serveCmdConfig.LogLevel)
	return err
}

// run starts the camera emulator
func run(_ *cobra.Command, _ []string) error {
	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetServerTransport()
	if err != nil {
		return err
	}

	serv := server.NewCameraServer(
		*serveCmdConfig,
		t,
		s,
	)

	return serv.Serve()
}
