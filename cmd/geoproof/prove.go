package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	gnarkadapter "github.com/samirrijal/geoproof/internal/adapters/gnark"
	"github.com/samirrijal/geoproof/internal/core/domain"
	"github.com/samirrijal/geoproof/internal/core/usecases"
	"github.com/samirrijal/geoproof/internal/pkg/geospatial"
)

var setupExportVK string

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Compile the circuit and create or load its keys",
	Long: `Compiles the geofence circuit and loads its Groth16 keys from --key-dir,
generating and writing them when absent. With --export-vk the verifying key
is written to a file for contract generation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt := gnarkadapter.NewRuntime(cfg.Circuit.KeyDir)
		start := time.Now()
		if err := rt.Load(); err != nil {
			return err
		}
		if setupExportVK != "" {
			f, err := os.Create(setupExportVK)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := rt.WriteVerifyingKey(f); err != nil {
				return fmt.Errorf("export verifying key: %w", err)
			}
		}
		return printJSON(map[string]any{
			"program":      rt.Name(),
			"vertex_count": rt.VertexCount(),
			"scale":        rt.Scale(),
			"constraints":  rt.Constraints(),
			"key_dir":      cfg.Circuit.KeyDir,
			"duration_ms":  time.Since(start).Milliseconds(),
		})
	},
}

var proveFlags struct {
	lat, lon, accuracy float64
	vertices           []string
	contract           string
	inside, submit     bool
}

// proveOutput is printed by the prove command. It never contains the
// reading itself.
type proveOutput struct {
	Felts         domain.FeltArray           `json:"felts"`
	PublicInputs  []string                   `json:"public_inputs"`
	Contract      string                     `json:"contract_address,omitempty"`
	ProveMillis   int64                      `json:"prove_ms"`
	Verification  *domain.VerificationResult `json:"verification,omitempty"`
	VerifyFailure string                     `json:"verify_error,omitempty"`
}

var proveCmd = &cobra.Command{
	Use:   "prove",
	Short: "Prove a location against a polygon",
	Long: `Runs codec, witness, Groth16 proof, local verification and formatting.
The polygon is given with four --vertex lat,lon flags or read from the
contract named by --contract. --submit also calls verify_proof.`,
	Example: `  geoproof prove --lat 30.3 --lon 60.06 --accuracy 8 --inside \
    --vertex 30.05,60.05 --vertex 30.55,60.09 --vertex 30.65,59.80 --vertex 30.05,59.83`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		rt := gnarkadapter.NewRuntime(cfg.Circuit.KeyDir)

		var verifier *usecases.OnChainVerifier
		if proveFlags.contract != "" {
			v, closeFn, err := dialVerifier(ctx)
			if err != nil {
				return err
			}
			defer closeFn()
			verifier = v
		} else if proveFlags.submit {
			return fmt.Errorf("--submit requires --contract")
		}

		poly, err := resolvePolygon(ctx, verifier, proveFlags.contract, proveFlags.vertices, rt.Scale())
		if err != nil {
			return err
		}

		reading := domain.LocationReading{
			Point:          domain.GeoPoint{Lat: proveFlags.lat, Lon: proveFlags.lon},
			AccuracyMeters: proveFlags.accuracy,
			Timestamp:      time.Now().UTC(),
		}
		start := time.Now()
		proof, felts, err := runPipeline(ctx, rt, reading, poly, proveFlags.inside)
		if err != nil {
			return err
		}
		out := proveOutput{Felts: felts, Contract: proveFlags.contract, ProveMillis: time.Since(start).Milliseconds()}

		inputs, err := gnarkadapter.PublicInputs(proof)
		if err != nil {
			return err
		}
		for _, in := range inputs {
			out.PublicInputs = append(out.PublicInputs, "0x"+in.Text(16))
		}

		if proveFlags.submit {
			vr := verifier.Verify(ctx, proveFlags.contract, felts)
			out.Verification = &vr
			if vr.Err != nil {
				out.VerifyFailure = vr.Err.Error()
			}
		}
		return printJSON(out)
	},
}

func init() {
	setupCmd.Flags().StringVar(&setupExportVK, "export-vk", "", "write the verifying key to this file")

	f := proveCmd.Flags()
	f.Float64Var(&proveFlags.lat, "lat", 0, "latitude in degrees")
	f.Float64Var(&proveFlags.lon, "lon", 0, "longitude in degrees")
	f.Float64Var(&proveFlags.accuracy, "accuracy", 0, "horizontal accuracy radius in meters")
	f.StringArrayVar(&proveFlags.vertices, "vertex", nil, "polygon vertex as lat,lon (repeat, in order)")
	f.StringVar(&proveFlags.contract, "contract", "", "verifier contract address; its get_vertices is the polygon")
	f.BoolVar(&proveFlags.inside, "inside", false, "claim the location is inside the polygon")
	f.BoolVar(&proveFlags.submit, "submit", false, "submit the proof to verify_proof")
	_ = proveCmd.MarkFlagRequired("lat")
	_ = proveCmd.MarkFlagRequired("lon")
}

// resolvePolygon reads the contract's vertices when a contract is given and
// checks them against --vertex flags when both are present.
func resolvePolygon(ctx context.Context, verifier *usecases.OnChainVerifier, contract string, vertexFlags []string, scale int64) (domain.Polygon, error) {
	var given domain.Polygon
	if len(vertexFlags) > 0 {
		points, err := parseVertices(vertexFlags)
		if err != nil {
			return nil, err
		}
		given, err = geospatial.PolygonToFixed(points, scale)
		if err != nil {
			return nil, err
		}
	}
	if contract == "" {
		if given == nil {
			return nil, fmt.Errorf("either --vertex or --contract is required")
		}
		return given, nil
	}

	onChain, err := verifier.GetVertices(ctx, contract)
	if err != nil {
		return nil, err
	}
	if given != nil && !given.Equal(onChain) {
		return nil, domain.InputError(domain.StageFence, fmt.Errorf("%w: contract %s", domain.ErrPolygonMismatch, contract))
	}
	return onChain, nil
}

// runPipeline runs every off-chain stage in order and returns the proof
// with its felt calldata.
func runPipeline(ctx context.Context, rt *gnarkadapter.Runtime, reading domain.LocationReading, poly domain.Polygon, inside bool) (domain.Proof, domain.FeltArray, error) {
	prover := gnarkadapter.NewProver(rt)
	pipeline := usecases.Pipeline{
		Witness: usecases.NewWitnessBuilder(gnarkadapter.NewExecutor(rt), rt),
		Prover:  usecases.NewProofGenerator(prover),
		Local:   prover,
	}
	input, err := pipeline.Encode(reading, poly, inside)
	if err != nil {
		return domain.Proof{}, nil, err
	}
	return pipeline.Prove(ctx, input, func(ctx context.Context, stage domain.Stage, fn func(context.Context) error) error {
		start := time.Now()
		err := fn(ctx)
		slog.Debug("stage done", "stage", stage, "duration", time.Since(start), "error", err)
		return err
	})
}
