package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cmdUtil "github.com/ValentinKolb/rbkv/cmd/util"
	"github.com/ValentinKolb/rbkv/server"
	"github.com/ValentinKolb/rbkv/server/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the rbkv server",
		Long:    `Start the rbkv HTTP server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is RBKV_<flag> (e.g. RBKV_SNAPSHOT_DIR=/var/lib/rbkv)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// add flags
	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the HTTP API will listen (e.g. localhost:8080)"))

	key = "namespaces"
	ServeCmd.PersistentFlags().String(key, "default", cmdUtil.WrapString("Comma-separated list of namespaces created on startup. Further namespaces are created on their first write"))

	key = "vlock-size"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Number of value locks shared by all namespaces, rounded up to a power of two (0 = derived from GOMAXPROCS)"))

	key = "snapshot-dir"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Directory for namespace snapshots. Snapshots are loaded on startup and written on shutdown. Empty disables persistence"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.LockTableSize = viper.GetInt("vlock-size")
	serveCmdConfig.SnapshotDir = viper.GetString("snapshot-dir")
	serveCmdConfig.Namespaces = cmdUtil.SplitList(viper.GetString("namespaces"))

	if serveCmdConfig.LockTableSize < 0 {
		return fmt.Errorf("vlock-size must not be negative, got %d", serveCmdConfig.LockTableSize)
	}
	for _, ns := range serveCmdConfig.Namespaces {
		if !server.ValidNamespace(ns) {
			return fmt.Errorf("invalid namespace %q (allowed are letters, digits, '.', '-' and '_')", ns)
		}
	}

	return cmdUtil.InitLogging()
}

// run starts the rbkv server and blocks until SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	fmt.Println("Configuration:")
	fmt.Println(serveCmdConfig.String())

	serv, err := server.NewServer(*serveCmdConfig)
	if err != nil {
		return err
	}
	defer serv.Close()

	if err := serv.LoadSnapshots(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serv.Serve(ctx)
}
