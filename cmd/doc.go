// Package cmd implements the command-line interface of rcam. It provides a
// hierarchical command structure for running the camera emulator and for
// talking to remote cameras as a client.
//
// The package is organized into several subpackages:
//
//   - cam: Commands run against one to four cameras (status, send, ping, frame, stream)
//   - serve: Command for starting and configuring the camera emulator
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set as environment variable RCAM_<FLAG> or in a
// .env / .env.local file. See rcam -help for a list of all commands.
package cmd
