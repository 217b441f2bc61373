package util

import (
	"fmt"
	"github.com/ValentinKolb/rcam/rpc/common"
	"github.com/ValentinKolb/rcam/rpc/serializer"
	"github.com/ValentinKolb/rcam/rpc/transport"
	"github.com/ValentinKolb/rcam/rpc/transport/tcp"
	"github.com/ValentinKolb/rcam/rpc/transport/unix"
	"github.com/ValentinKolb/rcam/rpc/transport/ws"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"strings"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupClientFlags adds the camera connection flags to a command
func SetupClientFlags(cmd *cobra.Command) {
	key := "endpoints"
	cmd.PersistentFlags().String(key, "localhost:7700", WrapString("Comma-separated list of up to four camera endpoints, the position is the slot (e.g. localhost:7700, /tmp/rcam.sock, ws://cam-1:7700/camera)"))

	key = "connect-timeout"
	cmd.PersistentFlags().Int(key, 5, WrapString("Timeout in seconds for establishing a connection"))

	key = "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("Timeout in seconds of a single exchange, an expired exchange closes the connection"))

	key = "serialize-exchanges"
	cmd.PersistentFlags().Bool(key, false, WrapString("Queue overlapping commands on a slot instead of rejecting them as busy"))

	key = "service-interval"
	cmd.PersistentFlags().Int(key, common.DefaultServiceIntervalMs, WrapString("Bounded wait of one event loop iteration (in ms)"))

	key = "write-chunk"
	cmd.PersistentFlags().Int(key, common.DefaultWriteChunkSize/1024, WrapString("Largest chunk written per writable callback (in KB)"))

	key = "max-raw"
	cmd.PersistentFlags().Int(key, common.DefaultMaxRawSize/(1024*1024), WrapString("Largest accepted raw trailer (in MB)"))

	key = "transport-write-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the socket write buffer (in KB)"))

	key = "transport-read-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the socket read buffer (in KB)"))

	key = "transport-tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY (tcp and ws only)"))

	key = "transport-tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval (in seconds, tcp only)"))

	key = "transport-tcp-linger"
	cmd.PersistentFlags().Int(key, -1, WrapString("The linger time (in seconds, tcp only, -1 keeps the OS default)"))
}

// InitConfig loads .env files and binds environment variables with the RCAM_ prefix
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("rcam")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetClientConfig reads the client configuration from viper
func GetClientConfig() (*common.ClientConfig, error) {
	conf := common.DefaultClientConfig()

	conf.Endpoints = nil
	for _, endpoint := range strings.Split(viper.GetString("endpoints"), ",") {
		if endpoint = strings.TrimSpace(endpoint); endpoint != "" {
			conf.Endpoints = append(conf.Endpoints, endpoint)
		}
	}
	if len(conf.Endpoints) == 0 {
		return nil, fmt.Errorf("no endpoint configured")
	}

	conf.ConnectTimeoutSecond = viper.GetInt("connect-timeout")
	conf.TimeoutSecond = viper.GetInt("timeout")
	conf.SerializeExchanges = viper.GetBool("serialize-exchanges")
	conf.Transport.ServiceIntervalMs = viper.GetInt("service-interval")
	conf.Transport.WriteChunkSize = viper.GetInt("write-chunk") * 1024
	conf.Transport.MaxRawSize = viper.GetInt("max-raw") * 1024 * 1024
	conf.Transport.SocketConf = common.SocketConf{
		WriteBufferSize: viper.GetInt("transport-write-buffer") * 1024,
		ReadBufferSize:  viper.GetInt("transport-read-buffer") * 1024,
	}
	conf.Transport.TCPConf = common.TCPConf{
		TCPKeepAliveSec: viper.GetInt("transport-tcp-keepalive"),
		TCPLingerSec:    viper.GetInt("transport-tcp-linger"),
		TCPNoDelay:      viper.GetBool("transport-tcp-nodelay"),
	}

	return &conf, nil
}

// GetSerializer creates a serializer based on configuration
func GetSerializer() (serializer.IRPCSerializer, error) {
	return serializer.New(viper.GetString("serializer"))
}

// GetClientTransport creates the client transport based on configuration
func GetClientTransport() (transport.IClientTransport, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPClientTransport(), nil
	case "unix":
		return unix.NewUnixClientTransport(), nil
	case "ws":
		return ws.NewWSClientTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// GetServerTransport creates the server transport based on configuration
func GetServerTransport() (transport.IServerTransport, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPServerTransport(), nil
	case "unix":
		return unix.NewUnixServerTransport(), nil
	case "ws":
		return ws.NewWSServerTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
