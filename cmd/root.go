package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ignitionstack/wasmshim/internal/config"
	"github.com/ignitionstack/wasmshim/internal/logging"
)

// Global flags
var (
	configPath string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "wasmshim",
	Short: "WASM shim execution adapter",
	Long: `wasmshim runs WebAssembly payloads the way a container runtime runs
processes: a wasip1 module executes its start function, a component is
routed by its declared world, and a wasi:http incoming-handler component
is served as a long-running HTTP endpoint until shutdown.`,
	Example: `  # Run a module's _start function
  wasmshim run ./app.wasm

  # Run a named export with arguments
  wasmshim run ./app.wasm --func handle -- arg1 arg2

  # Serve an incoming-handler component on a custom address
  wasmshim run ./proxy.wasm --env WASMTIME_HTTP_PROXY_SOCKET_ADDR=127.0.0.1:9000

  # Precompile OCI layers into the artifact cache
  wasmshim precompile ./layer0.wasm ./layer1.wasm --out-dir ./precompiled`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		var err error
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		logger, err = logging.New(cfg.Log.Level, cfg.Log.File)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath, "Path to the configuration file")

	rootCmd.AddCommand(NewRunCommand())
	rootCmd.AddCommand(NewPrecompileCommand())
}
