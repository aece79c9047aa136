package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/rbkv/cmd/index"
	"github.com/ValentinKolb/rbkv/cmd/serve"
	"github.com/ValentinKolb/rbkv/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "rbkv",
		Short: "key-value store on a concurrent red-black tree",
		Long: fmt.Sprintf(`rbkv (v%s)

An in-memory key-value store written in Go. Keys are hashed into
digests and kept in a concurrent red-black tree with striped value
locks, namespaces are served over HTTP and persisted as snapshots.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of rbkv",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rbkv v%s\n", Version)
		},
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(index.IndexCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
