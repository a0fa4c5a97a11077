package cmd

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ignitionstack/wasmshim/internal/artifact"
	"github.com/ignitionstack/wasmshim/pkg/engine"
	"github.com/ignitionstack/wasmshim/pkg/shim"
)

// wasmMediaType labels file-sourced layers; OCI-sourced layers carry
// their manifest media type instead.
const wasmMediaType = "application/wasm"

func NewPrecompileCommand() *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "precompile <layer files...>",
		Short: "Precompile WASM layers into the artifact cache",
		Long: `Precompile warms the engine's compilation cache for each layer and
stores the resulting artifacts keyed by the engine compatibility
identifier, so stale artifacts from older engine builds are never
reused. Layers already in precompiled form are passed over.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := engine.New(cmd.Context(), engine.Config{
				CacheDir:        cfg.Engine.CacheDir,
				ModuleCacheSize: cfg.Engine.ModuleCacheSize,
				Logger:          logger,
			})
			if err != nil {
				return err
			}
			defer eng.Close(cmd.Context())

			compatKey, ok := eng.CanPrecompile()
			if !ok {
				return fmt.Errorf("engine does not support precompilation")
			}

			store, err := artifact.Open(filepath.Join(cfg.Engine.CacheDir, "artifacts"), compatKey)
			if err != nil {
				return err
			}
			defer store.Close()

			if removed, err := store.InvalidateStale(); err != nil {
				return err
			} else if removed > 0 {
				logger.Info("removed stale artifacts", zap.Int("count", removed))
			}

			layers := make([]shim.WasmLayer, len(args))
			digests := make([]string, len(args))
			for i, path := range args {
				b, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("failed to read layer %q: %w", path, err)
				}
				layers[i] = shim.WasmLayer{MediaType: wasmMediaType, Layer: b}
				sum := sha256.Sum256(b)
				digests[i] = hex.EncodeToString(sum[:])
			}

			// Layers already cached under the current compatibility key
			// skip the engine entirely.
			pending := make([]shim.WasmLayer, 0, len(args))
			pendingIdx := make([]int, 0, len(args))
			for i := range layers {
				blob, ok, err := store.Get(digests[i])
				if err != nil {
					return err
				}
				if ok {
					logger.Info("artifact cache hit",
						zap.String("layer", args[i]),
						zap.String("digest", digests[i][:12]))
					if outDir != "" {
						if err := writeArtifact(outDir, args[i], blob); err != nil {
							return err
						}
					}
					continue
				}
				pending = append(pending, layers[i])
				pendingIdx = append(pendingIdx, i)
			}

			blobs, err := eng.Precompile(cmd.Context(), pending)
			if err != nil {
				return err
			}

			for j, blob := range blobs {
				i := pendingIdx[j]
				if blob == nil {
					logger.Info("layer needs no re-encoding", zap.String("layer", args[i]))
					continue
				}
				if err := store.Put(digests[i], blob); err != nil {
					return err
				}
				if outDir != "" {
					if err := writeArtifact(outDir, args[i], blob); err != nil {
						return err
					}
				}
				logger.Info("precompiled layer",
					zap.String("layer", args[i]),
					zap.String("digest", digests[i][:12]))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&outDir, "out-dir", "", "Also write precompiled artifacts to this directory")
	return cmd
}

func writeArtifact(dir, layerPath string, blob []byte) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	out := filepath.Join(dir, filepath.Base(layerPath)+".precompiled")
	if err := os.WriteFile(out, blob, 0644); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	return nil
}
