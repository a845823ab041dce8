// Command appforge runs the local agent engine behind a desktop app builder.
// It connects a model provider to a project workspace and serves the UI
// bridge on a loopback websocket.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "appforge",
		Short:         "Local agent engine for building apps from chat",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
