package cmd

import (
	"fmt"
	"github.com/ValentinKolb/rcam/cmd/cam"
	"github.com/ValentinKolb/rcam/cmd/serve"
	"github.com/ValentinKolb/rcam/cmd/util"
	"github.com/spf13/cobra"
	"os"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "rcam",
		Short: "remote depth-camera transport",
		Long: fmt.Sprintf(`rcam (v%s)

A client-side network transport for remote depth cameras written in Go.
It drives up to four cameras in parallel over length-prefixed frames
with raw depth trailers, and ships a camera emulator for development.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of rcam",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rcam v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(cam.CameraCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "proto", util.WrapString("serializer to use (proto, binary, json, gob), must match the camera"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (tcp, unix, ws)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
