package gnarkadapter

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	gnarklogger "github.com/consensys/gnark/logger"
	"github.com/rs/zerolog"
)

const (
	// ProgramName identifies the compiled circuit and its key files.
	ProgramName = "geofence_ray4"
	// Scale is the fixed-point scale the circuit offsets assume.
	Scale int64 = 1_000_000

	pkFile = ProgramName + ".pk"
	vkFile = ProgramName + ".vk"
)

// Runtime holds the compiled circuit and its Groth16 keys. It loads on first
// use and is read-only once loaded. A failed load is retried by the next
// caller. It implements ports.CircuitProgram.
type Runtime struct {
	keyDir string

	mu    sync.Mutex
	ready atomic.Bool

	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
	vk  groth16.VerifyingKey
}

// NewRuntime creates a lazily loaded runtime. Keys are read from keyDir when
// present, otherwise generated and written there. An empty keyDir keeps
// generated keys in memory only.
func NewRuntime(keyDir string) *Runtime {
	return &Runtime{keyDir: keyDir}
}

func (r *Runtime) Name() string     { return ProgramName }
func (r *Runtime) VertexCount() int { return NumVertices }
func (r *Runtime) Scale() int64     { return Scale }

// Load compiles the circuit and loads or creates its keys. Concurrent callers
// wait for the running initialisation; after a failure the next call starts
// over from scratch.
func (r *Runtime) Load() error {
	if r.ready.Load() {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ready.Load() {
		return nil
	}
	if err := r.load(); err != nil {
		r.ccs, r.pk, r.vk = nil, nil, nil
		return err
	}
	r.ready.Store(true)
	return nil
}

// Loaded reports whether Load has completed successfully.
func (r *Runtime) Loaded() bool {
	return r.ready.Load()
}

// Constraints returns the constraint count of the compiled circuit.
func (r *Runtime) Constraints() int {
	if !r.Loaded() {
		return 0
	}
	return r.ccs.GetNbConstraints()
}

// WriteVerifyingKey exports the verifying key, e.g. for contract generation.
func (r *Runtime) WriteVerifyingKey(w io.Writer) error {
	if err := r.Load(); err != nil {
		return err
	}
	_, err := r.vk.WriteTo(w)
	return err
}

func (r *Runtime) load() error {
	start := time.Now()

	var circuit GeofenceCircuit
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		return fmt.Errorf("compile %s: %w", ProgramName, err)
	}
	r.ccs = ccs

	loaded, err := r.readKeys()
	if err != nil {
		return err
	}
	if !loaded {
		pk, vk, err := groth16.Setup(ccs)
		if err != nil {
			return fmt.Errorf("groth16 setup: %w", err)
		}
		r.pk, r.vk = pk, vk
		if loaded, err = r.writeKeys(); err != nil {
			return err
		}
	}

	slog.Info("circuit runtime loaded",
		"program", ProgramName,
		"constraints", ccs.GetNbConstraints(),
		"keys_from_disk", loaded,
		"duration", time.Since(start),
	)
	return nil
}

func (r *Runtime) readKeys() (bool, error) {
	if r.keyDir == "" {
		return false, nil
	}
	pkPath := filepath.Join(r.keyDir, pkFile)
	vkPath := filepath.Join(r.keyDir, vkFile)

	if _, err := os.Stat(pkPath); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}

	pk := groth16.NewProvingKey(ecc.BN254)
	if err := readFrom(pkPath, pk); err != nil {
		return false, fmt.Errorf("read proving key: %w", err)
	}
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if err := readFrom(vkPath, vk); err != nil {
		return false, fmt.Errorf("read verifying key: %w", err)
	}
	r.pk, r.vk = pk, vk
	return true, nil
}

// writeKeys persists freshly generated keys. The pk file marks a complete
// pair, so the vk goes first. When another process published its pair while
// this one ran setup, that pair is adopted instead and true is returned.
func (r *Runtime) writeKeys() (bool, error) {
	if r.keyDir == "" {
		return false, nil
	}
	if err := os.MkdirAll(r.keyDir, 0o755); err != nil {
		return false, fmt.Errorf("key dir: %w", err)
	}
	if loaded, err := r.readKeys(); err != nil || loaded {
		return loaded, err
	}
	if err := writeTo(filepath.Join(r.keyDir, vkFile), r.vk); err != nil {
		return false, fmt.Errorf("write verifying key: %w", err)
	}
	if err := writeTo(filepath.Join(r.keyDir, pkFile), r.pk); err != nil {
		return false, fmt.Errorf("write proving key: %w", err)
	}
	return false, nil
}

func readFrom(path string, r io.ReaderFrom) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = r.ReadFrom(f)
	return err
}

// writeTo writes to a temp file in the same directory and renames it over
// path, so readers never see a partial key.
func writeTo(path string, w io.WriterTo) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := w.WriteTo(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// ConfigureLogs routes gnark's internal zerolog output. Outside debug level
// it is discarded; in debug it goes to w as JSON.
func ConfigureLogs(w io.Writer, debug bool) {
	if !debug {
		gnarklogger.Set(zerolog.New(io.Discard).Level(zerolog.Disabled))
		return
	}
	gnarklogger.Set(zerolog.New(w).With().Timestamp().Str("component", "gnark").Logger())
}
