package cmd

import (
	"fmt"
	"os"

	"github.com/dsengine/ds/cmd/dsctl"
	"github.com/spf13/cobra"
)

const (
	Version = "1.0.0"
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "ds",
		Short: "durable, sharded storage engine for MQTT messages",
		Long: fmt.Sprintf(`ds (v%s)

A durable, sharded, log-structured storage engine for MQTT messages,
built around a learned topic structure and generation-based retention.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of ds",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ds v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(dsctl.Cmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
