package http

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/samirrijal/geoproof/internal/core/domain"
	"github.com/samirrijal/geoproof/internal/core/usecases"
	"github.com/samirrijal/geoproof/internal/pkg/geospatial"
)

// RegisterGeofenceRequest is the body of POST /v1/geofences. Vertices are in
// degrees and keep their order all the way to the contract.
type RegisterGeofenceRequest struct {
	Name            string            `json:"name"`
	ContractAddress string            `json:"contract_address"`
	Vertices        []domain.GeoPoint `json:"vertices"`
}

// VerifyRequest is the body of POST /v1/proofs/verify.
type VerifyRequest struct {
	AttemptID       string           `json:"attempt_id,omitempty"`
	ContractAddress string           `json:"contract_address"`
	Felts           domain.FeltArray `json:"felts"`
}

// FormatRequest is the body of POST /v1/proofs/format.
type FormatRequest struct {
	Proof domain.Proof `json:"proof"`
}

// ContractVertices is returned by GET /v1/contracts/:address/vertices.
type ContractVertices struct {
	ContractAddress string            `json:"contract_address"`
	Vertices        domain.Polygon    `json:"vertices"`
	Degrees         []domain.GeoPoint `json:"degrees"`
	GeofenceID      string            `json:"geofence_id,omitempty"`
	MatchesRegistry *bool             `json:"matches_registry,omitempty"`
}

// ListGeofencesHandler returns registered geofences, newest first.
func ListGeofencesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		offset, limit := pageParams(c, 50, 100)

		fences, total, err := deps.Geofences.List(c.UserContext(), offset, limit)
		if err != nil {
			return errFromDomain(c, err)
		}
		if fences == nil {
			fences = []domain.Geofence{}
		}

		pg := Pagination{Offset: offset, Limit: limit, Total: total}
		SetLinkHeaders(c, pg)
		return c.JSON(PaginatedResponse{Data: fences, Pagination: pg})
	}
}

// RegisterGeofenceHandler converts and stores a geofence.
func RegisterGeofenceHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req RegisterGeofenceRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid JSON body")
		}
		if req.ContractAddress == "" {
			return errBadRequest(c, "contract_address is required")
		}

		fence, err := deps.Geofences.Register(c.UserContext(), req.Name, req.ContractAddress, req.Vertices)
		if err != nil {
			return errFromDomain(c, err)
		}

		c.Location("/v1/geofences/" + fence.ID)
		return c.Status(fiber.StatusCreated).JSON(fence)
	}
}

// NearbyGeofencesHandler returns geofences around a point.
func NearbyGeofencesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Query("lat") == "" || c.Query("lon") == "" {
			return errBadRequest(c, "lat and lon are required")
		}
		lat := c.QueryFloat("lat", 0)
		lon := c.QueryFloat("lon", 0)
		radius := c.QueryFloat("radius", 5000)
		limit := c.QueryInt("limit", 20)

		if radius <= 0 || radius > 50000 {
			return errBadRequest(c, "radius must be between 1 and 50000 meters")
		}

		fences, err := deps.Geofences.FindNearby(c.UserContext(), lat, lon, radius, limit)
		if err != nil {
			return errFromDomain(c, err)
		}
		if fences == nil {
			fences = []domain.Geofence{}
		}

		return c.JSON(fences)
	}
}

// GetGeofenceHandler returns a single geofence by id.
func GetGeofenceHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if id == "" {
			return errBadRequest(c, "geofence id is required")
		}

		fence, err := deps.Geofences.GetByID(c.UserContext(), id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return errNotFound(c, "geofence not found")
			}
			return errFromDomain(c, err)
		}
		return c.JSON(fence)
	}
}

// GeofenceAttemptsHandler returns the proof attempt audit log of a geofence.
func GeofenceAttemptsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		limit := c.QueryInt("limit", 20)

		if _, err := deps.Geofences.GetByID(c.UserContext(), id); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return errNotFound(c, "geofence not found")
			}
			return errFromDomain(c, err)
		}

		attempts, err := deps.Proofs.Attempts(c.UserContext(), id, limit)
		if err != nil {
			return errFromDomain(c, err)
		}
		if attempts == nil {
			attempts = []domain.ProofAttempt{}
		}
		return c.JSON(attempts)
	}
}

// ContractVerticesHandler reads get_vertices from the contract and compares
// it with the registry when the contract is known.
func ContractVerticesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		address := c.Params("address")

		poly, err := deps.Geofences.OnChainVertices(c.UserContext(), address)
		if err != nil {
			return errFromDomain(c, err)
		}

		scale := geospatial.Scale
		resp := ContractVertices{ContractAddress: address, Vertices: poly}

		fence, err := deps.Geofences.GetByAddress(c.UserContext(), address)
		switch {
		case err == nil:
			match := fence.Vertices.Equal(poly)
			resp.ContractAddress = fence.ContractAddress
			resp.GeofenceID = fence.ID
			resp.MatchesRegistry = &match
			scale = fence.Scale
		case !errors.Is(err, domain.ErrNotFound):
			LoggerFromCtx(c.UserContext()).Warn("registry lookup failed", "contract", address, "error", err)
		}

		resp.Degrees = geospatial.PolygonFromFixed(poly, scale)
		return c.JSON(resp)
	}
}

// ContractCalldataHandler returns the constructor calldata for a registered
// contract's polygon: [n, xs..., n, ys...].
func ContractCalldataHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		fence, err := deps.Geofences.GetByAddress(c.UserContext(), c.Params("address"))
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return errNotFound(c, "no geofence registered for contract")
			}
			return errFromDomain(c, err)
		}

		return c.JSON(fiber.Map{
			"contract_address": fence.ContractAddress,
			"geofence_id":      fence.ID,
			"calldata":         usecases.ConstructorCalldata(fence.Vertices),
		})
	}
}

// ProveHandler runs the proof pipeline synchronously. With "submit" the
// felts are also verified on-chain.
func ProveHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		req, err := parseProofRequest(c)
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		if deps.Circuit != nil && !deps.Circuit.Loaded() {
			return errUnavailable(c, "circuit keys are still loading")
		}

		result, err := deps.Proofs.Prove(c.UserContext(), req)
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(result)
	}
}

// ProveAsyncHandler queues a proof request for the workers and returns the
// attempt id to watch on the websocket feed.
func ProveAsyncHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		req, err := parseProofRequest(c)
		if err != nil {
			return errBadRequest(c, err.Error())
		}

		id, err := deps.Proofs.Enqueue(c.UserContext(), req)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return errNotFound(c, "geofence not found")
			}
			if domain.CategoryOf(err) != "" {
				return errFromDomain(c, err)
			}
			LoggerFromCtx(c.UserContext()).Error("enqueue proof", "error", err)
			return errUnavailable(c, "async proving unavailable")
		}

		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"attempt_id": id,
			"status":     domain.AttemptPending,
		})
	}
}

// FormatProofHandler flattens an externally produced proof into felts.
func FormatProofHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req FormatRequest
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			if errors.Is(err, domain.ErrUnsupportedProofShape) {
				return unsupportedProof(c, err)
			}
			return errBadRequest(c, "invalid JSON body")
		}
		if req.Proof.IsZero() {
			return errBadRequest(c, "proof is required")
		}

		felts, err := usecases.FlattenProof(req.Proof)
		if err != nil {
			return unsupportedProof(c, err)
		}
		return c.JSON(fiber.Map{
			"kind":  req.Proof.Kind().String(),
			"count": len(felts),
			"felts": felts,
		})
	}
}

// VerifyProofHandler submits felts to a verifier contract. Valid and
// invalid proofs are both 200 responses; only call failures are errors.
func VerifyProofHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req VerifyRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid JSON body")
		}
		if req.ContractAddress == "" && req.AttemptID == "" {
			return errBadRequest(c, "contract_address or attempt_id is required")
		}

		vr, err := deps.Proofs.Submit(c.UserContext(), req.AttemptID, req.ContractAddress, req.Felts)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return errNotFound(c, "attempt not found")
			}
			return errFromDomain(c, err)
		}
		if vr.Status == domain.VerificationError {
			return errFromDomain(c, vr.Err)
		}

		return c.JSON(fiber.Map{
			"status":     vr.Status,
			"valid":      vr.Valid(),
			"reason":     vr.Reason,
			"latency_ms": vr.Latency.Milliseconds(),
		})
	}
}

func parseProofRequest(c *fiber.Ctx) (domain.ProofRequest, error) {
	var req domain.ProofRequest
	if err := c.BodyParser(&req); err != nil {
		return req, errors.New("invalid JSON body")
	}
	req.GeofenceID = strings.TrimSpace(req.GeofenceID)
	if req.GeofenceID == "" {
		return req, errors.New("geofence_id is required")
	}
	if req.Reading.Timestamp.IsZero() {
		req.Reading.Timestamp = time.Now().UTC()
	}
	// attempt ids are server assigned
	req.AttemptID = ""
	return req, nil
}

// unsupportedProof reports a client-supplied proof the formatter rejects.
// The proof came from the caller, so this is a 422 rather than a 500.
func unsupportedProof(c *fiber.Ctx, err error) error {
	return writeAPIError(c, APIError{
		Status:   fiber.StatusUnprocessableEntity,
		Code:     "unsupported_proof",
		Message:  err.Error(),
		Stage:    string(domain.StageFormat),
		Category: string(domain.CategoryFormat),
	})
}
