package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/ignitionstack/wasmshim/pkg/engine"
	"github.com/ignitionstack/wasmshim/pkg/shim"
)

func NewRunCommand() *cobra.Command {
	var (
		funcName string
		name     string
		envs     []string
	)

	cmd := &cobra.Command{
		Use:   "run <wasm file> [-- guest args...]",
		Short: "Execute a WASM module or component",
		Long: `Run executes a payload to completion and exits with the guest's exit
code. An incoming-handler component keeps serving HTTP until terminated;
one signal drains in-flight requests, a second forces exit.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Flags().Visit(func(f *pflag.Flag) {
				logger.Debug("flag override",
					zap.String("flag", f.Name),
					zap.String("value", f.Value.String()))
			})

			path := args[0]
			if name == "" {
				name = filepath.Base(path)
			}

			fullEnv := append(os.Environ(), envs...)
			entry := shim.Entrypoint{
				Source: shim.FileSource(path),
				Func:   funcName,
				Name:   name,
			}
			rctx := shim.NewLocalContext(entry, args[1:], fullEnv)

			eng, err := engine.New(cmd.Context(), engine.Config{
				CacheDir:        cfg.Engine.CacheDir,
				ModuleCacheSize: cfg.Engine.ModuleCacheSize,
				Logger:          logger,
			})
			if err != nil {
				return err
			}
			defer eng.Close(cmd.Context())

			code, err := eng.RunWasi(cmd.Context(), rctx, shim.InheritedStdio())
			if err != nil {
				logger.Error("execution failed", zap.String("name", name), zap.Error(err))
				_ = logger.Sync()
				os.Exit(1)
			}
			_ = logger.Sync()
			os.Exit(code)
			return nil
		},
	}

	cmd.Flags().StringVar(&funcName, "func", "_start", "Function to invoke")
	cmd.Flags().StringVar(&name, "name", "", "Display name for the execution (defaults to the file name)")
	cmd.Flags().StringArrayVarP(&envs, "env", "e", nil, "Extra KEY=VALUE environment entries for the guest")
	return cmd
}
