package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/samirrijal/geoproof/internal/core/domain"
	"github.com/samirrijal/geoproof/internal/core/usecases"
	"github.com/samirrijal/geoproof/internal/pkg/geospatial"
)

var verifyFile string

var verifyCmd = &cobra.Command{
	Use:   "verify <contract> [felt...]",
	Short: "Submit felts to a contract's verify_proof",
	Long: `Submits a felt array to verify_proof exactly once. Felts are given as
arguments or read from --file, which may hold a JSON array or the output of
"geoproof prove".`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		felts := domain.FeltArray(args[1:])
		if verifyFile != "" {
			var err error
			if felts, err = readFelts(verifyFile); err != nil {
				return err
			}
		}

		verifier, closeFn, err := dialVerifier(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		vr := verifier.Verify(cmd.Context(), args[0], felts)
		out := map[string]any{
			"status":     vr.Status,
			"valid":      vr.Valid(),
			"latency_ms": vr.Latency.Milliseconds(),
		}
		if vr.Reason != "" {
			out["reason"] = vr.Reason
		}
		if err := printJSON(out); err != nil {
			return err
		}
		return vr.Err
	},
}

var verticesCmd = &cobra.Command{
	Use:   "vertices <contract>",
	Short: "Read the polygon a contract enforces",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		verifier, closeFn, err := dialVerifier(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		poly, err := verifier.GetVertices(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"contract_address": args[0],
			"vertices":         poly,
			"degrees":          geospatial.PolygonFromFixed(poly, cfg.Circuit.Scale),
		})
	},
}

var calldataVertices []string

var calldataCmd = &cobra.Command{
	Use:   "calldata",
	Short: "Constructor calldata for a verifier contract",
	Long: `Converts polygon vertices (degrees, in order) into the constructor
calldata [n, xs..., n, ys...]. Declaring and deploying the contract is left to
the wallet tooling.`,
	Example: `  geoproof calldata --vertex 30.05,60.05 --vertex 30.55,60.09 --vertex 30.65,59.80 --vertex 30.05,59.83`,
	RunE: func(cmd *cobra.Command, args []string) error {
		points, err := parseVertices(calldataVertices)
		if err != nil {
			return err
		}
		poly, err := geospatial.PolygonToFixed(points, cfg.Circuit.Scale)
		if err != nil {
			return err
		}
		if len(poly) != cfg.Circuit.VertexCount {
			return domain.InputError(domain.StageCodec,
				fmt.Errorf("%w: got %d vertices, circuit takes %d", domain.ErrCardinality, len(poly), cfg.Circuit.VertexCount))
		}
		return printJSON(map[string]any{
			"vertices": poly,
			"calldata": usecases.ConstructorCalldata(poly),
		})
	},
}

var formatFile string

var formatCmd = &cobra.Command{
	Use:   "format",
	Short: "Flatten a proof JSON document into felts",
	Long: `Reads a proof (a hex string, an array, or an object of named fields) from
--file or stdin and prints the felt252 calldata in declaration order.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(formatFile)
		if err != nil {
			return err
		}
		var proof domain.Proof
		if err := json.Unmarshal(data, &proof); err != nil {
			return domain.FormatError(err)
		}
		felts, err := usecases.FlattenProof(proof)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"kind":  proof.Kind().String(),
			"count": len(felts),
			"felts": felts,
		})
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifyFile, "file", "", "read felts from a JSON file")
	calldataCmd.Flags().StringArrayVar(&calldataVertices, "vertex", nil, "polygon vertex as lat,lon (repeat, in order)")
	_ = calldataCmd.MarkFlagRequired("vertex")
	formatCmd.Flags().StringVar(&formatFile, "file", "", "proof JSON file (default stdin)")
}

// parseVertices parses "lat,lon" pairs keeping their order.
func parseVertices(values []string) ([]domain.GeoPoint, error) {
	out := make([]domain.GeoPoint, 0, len(values))
	for i, v := range values {
		latStr, lonStr, ok := strings.Cut(v, ",")
		if !ok {
			return nil, fmt.Errorf("vertex %d: want lat,lon, got %q", i, v)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
		if err != nil {
			return nil, fmt.Errorf("vertex %d latitude: %w", i, err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
		if err != nil {
			return nil, fmt.Errorf("vertex %d longitude: %w", i, err)
		}
		out = append(out, domain.GeoPoint{Lat: lat, Lon: lon})
	}
	return out, nil
}

// readFelts accepts a JSON felt array or an object with a "felts" field.
func readFelts(path string) (domain.FeltArray, error) {
	data, err := readInput(path)
	if err != nil {
		return nil, err
	}
	var felts domain.FeltArray
	if err := json.Unmarshal(data, &felts); err == nil {
		return felts, nil
	}
	var wrapped struct {
		Felts domain.FeltArray `json:"felts"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("%s: expected a felt array or {\"felts\": [...]}: %w", path, err)
	}
	return wrapped.Felts, nil
}

func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
