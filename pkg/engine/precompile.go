package engine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"

	"github.com/ignitionstack/wasmshim/pkg/shim"
	"github.com/ignitionstack/wasmshim/pkg/wasm"
)

// A precompiled artifact is an envelope around the original bytes: the
// runtime compiles through an on-disk cache rather than emitting
// standalone machine-code blobs, so precompilation warms that cache and
// the envelope records what was warmed and under which compatibility
// key. A key mismatch means the artifact is stale and unrecognized.
var envelopeMagic = []byte{0x00, 'w', 's', 'p'}

const (
	envelopeVersion byte = 0x01

	envelopeKindModule    byte = 0x01
	envelopeKindComponent byte = 0x02
)

var compatibilityKey = sync.OnceValue(func() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%d", wazeroVersion(), runtime.GOOS, runtime.GOARCH, envelopeVersion)
	return hex.EncodeToString(h.Sum(nil))[:16]
})

// wazeroVersion reads the linked engine version from build info so the
// compatibility key changes with engine upgrades.
func wazeroVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, dep := range info.Deps {
			if dep.Path == "github.com/tetratelabs/wazero" {
				return dep.Version
			}
		}
	}
	return "unknown"
}

func encodeEnvelope(kind byte, payload []byte) []byte {
	key := compatibilityKey()
	out := make([]byte, 0, len(envelopeMagic)+3+len(key)+len(payload))
	out = append(out, envelopeMagic...)
	out = append(out, envelopeVersion, kind, byte(len(key)))
	out = append(out, key...)
	out = append(out, payload...)
	return out
}

// detectPrecompiled probes b for a current-key envelope and unwraps its
// payload.
func detectPrecompiled(b []byte) (binaryKind, []byte, bool) {
	if len(b) < len(envelopeMagic)+3 || !bytes.Equal(b[:len(envelopeMagic)], envelopeMagic) {
		return kindUnrecognized, nil, false
	}
	rest := b[len(envelopeMagic):]
	version, kind, keyLen := rest[0], rest[1], int(rest[2])
	if version != envelopeVersion || len(rest) < 3+keyLen {
		return kindUnrecognized, nil, false
	}
	if string(rest[3:3+keyLen]) != compatibilityKey() {
		return kindUnrecognized, nil, false
	}
	payload := rest[3+keyLen:]
	switch kind {
	case envelopeKindModule:
		return kindPrecompiledModule, payload, true
	case envelopeKindComponent:
		return kindPrecompiledComponent, payload, true
	}
	return kindUnrecognized, nil, false
}

// Precompile processes OCI layers in order. Already-precompiled layers
// yield a nil entry, meaning no re-encoding is needed; unrecognized
// layers are skipped with a warning and also yield nil.
func (e *Engine) Precompile(ctx context.Context, layers []shim.WasmLayer) ([][]byte, error) {
	out := make([][]byte, len(layers))
	for i, layer := range layers {
		kind, payload := classify(layer.Layer)
		switch kind {
		case kindPrecompiledModule, kindPrecompiledComponent:
			out[i] = nil
		case kindModule:
			if _, err := e.compileModule(ctx, payload); err != nil {
				return nil, fmt.Errorf("failed to precompile layer %d: %w", i, err)
			}
			out[i] = encodeEnvelope(envelopeKindModule, payload)
		case kindComponent:
			info, err := wasm.ScanComponent(payload)
			if err != nil {
				return nil, fmt.Errorf("failed to precompile layer %d: %w", i, err)
			}
			if _, err := e.compileModule(ctx, info.CoreModules[0]); err != nil {
				return nil, fmt.Errorf("failed to precompile layer %d: %w", i, err)
			}
			out[i] = encodeEnvelope(envelopeKindComponent, payload)
		default:
			e.logger.Warn("skipping unrecognized layer during precompile",
				zap.Int("layer", i),
				zap.String("media_type", layer.MediaType),
				zap.Int("size", len(layer.Layer)))
			out[i] = nil
		}
	}
	return out, nil
}

// CanPrecompile reports the stable compatibility identifier callers use
// to invalidate cached artifacts.
func (e *Engine) CanPrecompile() (string, bool) {
	return compatibilityKey(), true
}
