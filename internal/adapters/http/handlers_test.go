package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	handler "github.com/samirrijal/geoproof/internal/adapters/http"
	"github.com/samirrijal/geoproof/internal/core/domain"
	"github.com/samirrijal/geoproof/internal/core/ports"
	"github.com/samirrijal/geoproof/internal/core/usecases"
)

const testAddress = "0x4ab"

// square around (60.0, 30.3)
var testPolygon = domain.Polygon{
	{X: 60050000, Y: 30050000},
	{X: 60090000, Y: 30550000},
	{X: 59800000, Y: 30650000},
	{X: 59830000, Y: 30050000},
}

func testFence() *domain.Geofence {
	return &domain.Geofence{
		ID:              "f1",
		Name:            "Campus",
		ContractAddress: testAddress,
		Vertices:        testPolygon,
		Scale:           1_000_000,
		CreatedAt:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

// ---- Mocks ----

type testProgram struct{}

func (testProgram) Name() string     { return "geofence_test" }
func (testProgram) VertexCount() int { return 4 }
func (testProgram) Scale() int64     { return 1_000_000 }

type mockCircuit struct{ loaded bool }

func (m mockCircuit) Name() string { return "geofence_test" }
func (m mockCircuit) Loaded() bool { return m.loaded }

type mockFenceRepo struct {
	mu             sync.Mutex
	upserted       []domain.Geofence
	count          int
	getByIDFn      func(ctx context.Context, id string) (*domain.Geofence, error)
	getByAddressFn func(ctx context.Context, address string) (*domain.Geofence, error)
	listFn         func(ctx context.Context, offset, limit int) ([]domain.Geofence, error)
	findNearbyFn   func(ctx context.Context, lat, lon, radius float64, limit int) ([]domain.Geofence, error)
}

func (m *mockFenceRepo) Upsert(ctx context.Context, f *domain.Geofence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserted = append(m.upserted, *f)
	return nil
}
func (m *mockFenceRepo) UpsertBatch(ctx context.Context, fences []domain.Geofence) error { return nil }
func (m *mockFenceRepo) GetByID(ctx context.Context, id string) (*domain.Geofence, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}
func (m *mockFenceRepo) GetByAddress(ctx context.Context, address string) (*domain.Geofence, error) {
	if m.getByAddressFn != nil {
		return m.getByAddressFn(ctx, address)
	}
	return nil, domain.ErrNotFound
}
func (m *mockFenceRepo) List(ctx context.Context, offset, limit int) ([]domain.Geofence, error) {
	if m.listFn != nil {
		return m.listFn(ctx, offset, limit)
	}
	return nil, nil
}
func (m *mockFenceRepo) Count(ctx context.Context) (int, error) { return m.count, nil }
func (m *mockFenceRepo) FindNearby(ctx context.Context, lat, lon, radius float64, limit int) ([]domain.Geofence, error) {
	if m.findNearbyFn != nil {
		return m.findNearbyFn(ctx, lat, lon, radius, limit)
	}
	return nil, nil
}

type mockAttemptRepo struct {
	mu       sync.Mutex
	attempts map[string]domain.ProofAttempt
}

func newAttemptRepo() *mockAttemptRepo {
	return &mockAttemptRepo{attempts: make(map[string]domain.ProofAttempt)}
}

func (m *mockAttemptRepo) Create(ctx context.Context, a *domain.ProofAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[a.ID] = *a
	return nil
}
func (m *mockAttemptRepo) Update(ctx context.Context, a *domain.ProofAttempt) error {
	return m.Create(ctx, a)
}
func (m *mockAttemptRepo) GetByID(ctx context.Context, id string) (*domain.ProofAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &a, nil
}
func (m *mockAttemptRepo) ListByGeofence(ctx context.Context, geofenceID string, limit int) ([]domain.ProofAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ProofAttempt
	for _, a := range m.attempts {
		if a.GeofenceID == geofenceID {
			out = append(out, a)
		}
	}
	return out, nil
}

type mockCaller struct {
	callFn    func(ctx context.Context, address, entryPoint string, calldata []string) ([]string, error)
	executeFn func(ctx context.Context, address, entryPoint string, calldata []string) ([]string, error)
}

func (m *mockCaller) Call(ctx context.Context, address, entryPoint string, calldata []string) ([]string, error) {
	if m.callFn != nil {
		return m.callFn(ctx, address, entryPoint, calldata)
	}
	return usecases.ConstructorCalldata(testPolygon), nil
}
func (m *mockCaller) Execute(ctx context.Context, address, entryPoint string, calldata []string) ([]string, error) {
	if m.executeFn != nil {
		return m.executeFn(ctx, address, entryPoint, calldata)
	}
	return []string{"0x1", "0x1", "0x0"}, nil
}

type mockExecutor struct {
	executeFn func(ctx context.Context, program ports.CircuitProgram, input domain.CircuitInput) (domain.Witness, error)
}

func (m *mockExecutor) Execute(ctx context.Context, program ports.CircuitProgram, input domain.CircuitInput) (domain.Witness, error) {
	if m.executeFn != nil {
		return m.executeFn(ctx, program, input)
	}
	return domain.Witness{0x01}, nil
}

type mockBackend struct{}

func (mockBackend) Prove(ctx context.Context, w domain.Witness) (domain.Proof, error) {
	return domain.NamedFieldsProof(
		domain.ProofField{Name: "a", Value: domain.ListValue("0x1", "0x2")},
		domain.ProofField{Name: "public_inputs", Value: domain.ListValue("0x3")},
	), nil
}

// ---- Test helpers ----

type fixture struct {
	fences   *mockFenceRepo
	attempts *mockAttemptRepo
	caller   *mockCaller
	executor *mockExecutor
}

func newFixture() *fixture {
	return &fixture{
		fences: &mockFenceRepo{
			getByIDFn: func(ctx context.Context, id string) (*domain.Geofence, error) {
				if id == "f1" {
					return testFence(), nil
				}
				return nil, domain.ErrNotFound
			},
			getByAddressFn: func(ctx context.Context, address string) (*domain.Geofence, error) {
				if address == testAddress {
					return testFence(), nil
				}
				return nil, domain.ErrNotFound
			},
		},
		attempts: newAttemptRepo(),
		caller:   &mockCaller{},
		executor: &mockExecutor{},
	}
}

func (f *fixture) deps(opts ...func(*handler.Dependencies)) *handler.Dependencies {
	verifier := usecases.NewOnChainVerifier(f.caller, time.Second)
	geofences := usecases.NewGeofenceService(f.fences, verifier, nil, testProgram{})
	pipeline := usecases.Pipeline{
		Witness:  usecases.NewWitnessBuilder(f.executor, testProgram{}),
		Prover:   usecases.NewProofGenerator(mockBackend{}),
		Verifier: verifier,
	}
	d := &handler.Dependencies{
		Geofences: geofences,
		Proofs:    usecases.NewProofService(geofences, f.attempts, pipeline, nil),
		Circuit:   mockCircuit{loaded: true},
		SpecPath:  "../../../api/openapi.yaml",
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func setupApp(deps *handler.Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	handler.SetupRoutes(app, deps)
	return app
}

func readBody(t *testing.T, body io.Reader) []byte {
	t.Helper()
	b, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return b
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string) (int, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, readBody(t, resp.Body)
}

type apiError struct {
	Status   int    `json:"status"`
	Code     string `json:"code"`
	Stage    string `json:"stage"`
	Category string `json:"category"`
}

func decodeError(t *testing.T, body []byte) apiError {
	t.Helper()
	var e apiError
	if err := json.Unmarshal(body, &e); err != nil {
		t.Fatalf("decode error body %s: %v", body, err)
	}
	return e
}

const insideReading = `{"geofence_id":"f1","claim_inside":true,"reading":{"point":{"lat":30.3,"lon":60.06},"accuracy_m":5}}`

// ---- Geofence handler tests ----

func TestListGeofences_Pagination(t *testing.T) {
	f := newFixture()
	f.fences.count = 5
	f.fences.listFn = func(ctx context.Context, offset, limit int) ([]domain.Geofence, error) {
		if offset != 2 || limit != 2 {
			t.Errorf("expected offset 2 limit 2, got %d/%d", offset, limit)
		}
		return []domain.Geofence{*testFence(), *testFence()}, nil
	}
	app := setupApp(f.deps())

	req := httptest.NewRequest("GET", "/v1/geofences?offset=2&limit=2", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result struct {
		Data       []domain.Geofence `json:"data"`
		Pagination struct {
			Offset int `json:"offset"`
			Limit  int `json:"limit"`
			Total  int `json:"total"`
		} `json:"pagination"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.Pagination.Total != 5 || result.Pagination.Offset != 2 {
		t.Errorf("unexpected pagination %+v", result.Pagination)
	}
	if len(result.Data) != 2 {
		t.Errorf("expected 2 geofences, got %d", len(result.Data))
	}
	if !result.Data[0].Vertices.Equal(testPolygon) {
		t.Errorf("vertices changed in transit: %v", result.Data[0].Vertices)
	}
	if link := resp.Header.Get("Link"); !strings.Contains(link, `offset=4&limit=2>; rel="next"`) {
		t.Errorf("expected next link, got %q", link)
	}
}

func TestRegisterGeofence_Created(t *testing.T) {
	f := newFixture()
	app := setupApp(f.deps())

	body := `{"name":"Campus","contract_address":"0x04AB","vertices":[
		{"lat":30.05,"lon":60.05},{"lat":30.55,"lon":60.09},{"lat":30.65,"lon":59.8},{"lat":30.05,"lon":59.83}]}`
	req := httptest.NewRequest("POST", "/v1/geofences", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 201 {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, readBody(t, resp.Body))
	}
	if !strings.HasPrefix(resp.Header.Get("Location"), "/v1/geofences/") {
		t.Errorf("missing Location header: %q", resp.Header.Get("Location"))
	}
	if len(f.fences.upserted) != 1 {
		t.Fatalf("expected 1 upsert, got %d", len(f.fences.upserted))
	}
	stored := f.fences.upserted[0]
	if stored.ContractAddress != testAddress {
		t.Errorf("expected canonical address %s, got %s", testAddress, stored.ContractAddress)
	}
	if !stored.Vertices.Equal(testPolygon) {
		t.Errorf("expected %v, got %v", testPolygon, stored.Vertices)
	}
}

func TestRegisterGeofence_WrongCardinality(t *testing.T) {
	app := setupApp(newFixture().deps())

	status, body := doJSON(t, app, "POST", "/v1/geofences",
		`{"name":"Tri","contract_address":"0x1","vertices":[{"lat":1,"lon":1},{"lat":2,"lon":2},{"lat":1,"lon":3}]}`)
	if status != 422 {
		t.Fatalf("expected 422, got %d: %s", status, body)
	}
	if e := decodeError(t, body); e.Code != "invalid_input" || e.Category != "input" {
		t.Errorf("unexpected error %+v", e)
	}
}

func TestRegisterGeofence_MissingAddress(t *testing.T) {
	app := setupApp(newFixture().deps())

	status, _ := doJSON(t, app, "POST", "/v1/geofences", `{"name":"x","vertices":[]}`)
	if status != 400 {
		t.Fatalf("expected 400, got %d", status)
	}
}

func TestNearbyGeofences_MissingParams(t *testing.T) {
	app := setupApp(newFixture().deps())

	req := httptest.NewRequest("GET", "/v1/geofences/nearby?lat=30.3", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if e := decodeError(t, readBody(t, resp.Body)); e.Code != "bad_request" {
		t.Errorf("expected bad_request, got %s", e.Code)
	}
}

func TestNearbyGeofences_ZeroCoordinatesAllowed(t *testing.T) {
	f := newFixture()
	called := false
	f.fences.findNearbyFn = func(ctx context.Context, lat, lon, radius float64, limit int) ([]domain.Geofence, error) {
		called = true
		return nil, nil
	}
	app := setupApp(f.deps())

	req := httptest.NewRequest("GET", "/v1/geofences/nearby?lat=0&lon=0&radius=1000", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !called {
		t.Error("repository was not queried")
	}
	if body := strings.TrimSpace(string(readBody(t, resp.Body))); body != "[]" {
		t.Errorf("expected empty list, got %s", body)
	}
}

func TestNearbyGeofences_BadRadius(t *testing.T) {
	app := setupApp(newFixture().deps())

	req := httptest.NewRequest("GET", "/v1/geofences/nearby?lat=30.3&lon=60.06&radius=90000", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestGetGeofence_NotFound(t *testing.T) {
	app := setupApp(newFixture().deps())

	req := httptest.NewRequest("GET", "/v1/geofences/missing", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestGetGeofence_ETag(t *testing.T) {
	app := setupApp(newFixture().deps())

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/geofences/f1", nil), -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	etag := resp.Header.Get("ETag")
	if etag == "" {
		t.Fatal("missing ETag")
	}

	req := httptest.NewRequest("GET", "/v1/geofences/f1", nil)
	req.Header.Set("If-None-Match", `W/"other", `+etag)
	resp, _ = app.Test(req, -1)
	if resp.StatusCode != 304 {
		t.Fatalf("expected 304, got %d", resp.StatusCode)
	}
}

func TestGeofenceAttempts_NoStore(t *testing.T) {
	f := newFixture()
	_ = f.attempts.Create(context.Background(), &domain.ProofAttempt{ID: "a1", GeofenceID: "f1", Status: domain.AttemptVerified})
	app := setupApp(f.deps())

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/geofences/f1/attempts", nil), -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-store" {
		t.Errorf("expected no-store, got %q", cc)
	}
	var attempts []domain.ProofAttempt
	if err := json.NewDecoder(resp.Body).Decode(&attempts); err != nil {
		t.Fatal(err)
	}
	if len(attempts) != 1 || attempts[0].Status != domain.AttemptVerified {
		t.Errorf("unexpected attempts %+v", attempts)
	}
}

// ---- Contract handler tests ----

func TestContractVertices_MatchesRegistry(t *testing.T) {
	app := setupApp(newFixture().deps())

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/contracts/0x4ab/vertices", nil), -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out handler.ContractVertices
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if !out.Vertices.Equal(testPolygon) {
		t.Errorf("unexpected vertices %v", out.Vertices)
	}
	if out.MatchesRegistry == nil || !*out.MatchesRegistry {
		t.Error("expected matches_registry = true")
	}
	if out.GeofenceID != "f1" {
		t.Errorf("expected geofence f1, got %q", out.GeofenceID)
	}
	if len(out.Degrees) != 4 || out.Degrees[0].Lon != 60.05 {
		t.Errorf("unexpected degrees %v", out.Degrees)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "public, max-age=300" {
		t.Errorf("unexpected Cache-Control %q", cc)
	}
}

func TestContractVertices_RPCDown(t *testing.T) {
	f := newFixture()
	f.caller.callFn = func(ctx context.Context, address, entryPoint string, calldata []string) ([]string, error) {
		return nil, fmt.Errorf("%w: connection refused", domain.ErrRPCUnreachable)
	}
	app := setupApp(f.deps())

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/contracts/0x4ab/vertices", nil), -1)
	if resp.StatusCode != 503 {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if e := decodeError(t, readBody(t, resp.Body)); e.Category != "network" || e.Stage != "fence" {
		t.Errorf("unexpected error %+v", e)
	}
}

func TestContractCalldata(t *testing.T) {
	app := setupApp(newFixture().deps())

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/contracts/0x4ab/calldata", nil), -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out struct {
		Calldata []string `json:"calldata"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	want := usecases.ConstructorCalldata(testPolygon)
	if strings.Join(out.Calldata, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, out.Calldata)
	}
	if out.Calldata[0] != "0x4" || out.Calldata[5] != "0x4" {
		t.Errorf("expected length prefixes at 0 and 5, got %v", out.Calldata)
	}
}

func TestContractCalldata_Unregistered(t *testing.T) {
	app := setupApp(newFixture().deps())

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/contracts/0x999/calldata", nil), -1)
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

// ---- Proof handler tests ----

func TestProve_Success(t *testing.T) {
	f := newFixture()
	app := setupApp(f.deps())

	status, body := doJSON(t, app, "POST", "/v1/proofs", insideReading)
	if status != 200 {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	var result domain.ProofResult
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatal(err)
	}
	if strings.Join(result.Felts, ",") != "0x1,0x2,0x3" {
		t.Errorf("unexpected felts %v", result.Felts)
	}
	if result.Verification != nil {
		t.Error("verification should be absent without submit")
	}

	stored, err := f.attempts.GetByID(context.Background(), result.AttemptID)
	if err != nil {
		t.Fatalf("attempt not recorded: %v", err)
	}
	if stored.Status != domain.AttemptProved || stored.FeltCount != 3 {
		t.Errorf("unexpected attempt %+v", stored)
	}
}

func TestProve_SubmitValid(t *testing.T) {
	app := setupApp(newFixture().deps())

	body := strings.Replace(insideReading, `"claim_inside":true`, `"claim_inside":true,"submit":true`, 1)
	status, resp := doJSON(t, app, "POST", "/v1/proofs", body)
	if status != 200 {
		t.Fatalf("expected 200, got %d: %s", status, resp)
	}
	var result domain.ProofResult
	if err := json.Unmarshal(resp, &result); err != nil {
		t.Fatal(err)
	}
	if result.Verification == nil || result.Verification.Status != domain.VerificationValid {
		t.Errorf("expected valid verification, got %+v", result.Verification)
	}
}

func TestProve_PolygonMismatch(t *testing.T) {
	f := newFixture()
	f.caller.callFn = func(ctx context.Context, address, entryPoint string, calldata []string) ([]string, error) {
		moved := append(domain.Polygon(nil), testPolygon...)
		moved[2].X++
		return usecases.ConstructorCalldata(moved), nil
	}
	app := setupApp(f.deps())

	status, body := doJSON(t, app, "POST", "/v1/proofs", insideReading)
	if status != 422 {
		t.Fatalf("expected 422, got %d: %s", status, body)
	}
	if e := decodeError(t, body); e.Stage != "fence" {
		t.Errorf("expected fence stage, got %+v", e)
	}
}

func TestProve_Unsatisfied(t *testing.T) {
	f := newFixture()
	f.executor.executeFn = func(ctx context.Context, program ports.CircuitProgram, input domain.CircuitInput) (domain.Witness, error) {
		return nil, domain.ErrUnsatisfied
	}
	app := setupApp(f.deps())

	status, body := doJSON(t, app, "POST", "/v1/proofs", insideReading)
	if status != 502 {
		t.Fatalf("expected 502, got %d: %s", status, body)
	}
	e := decodeError(t, body)
	if e.Code != "execution_failed" || e.Stage != "witness" {
		t.Errorf("unexpected error %+v", e)
	}
}

func TestProve_OutOfRangeReading(t *testing.T) {
	app := setupApp(newFixture().deps())

	status, body := doJSON(t, app, "POST", "/v1/proofs",
		`{"geofence_id":"f1","reading":{"point":{"lat":95,"lon":60},"accuracy_m":5}}`)
	if status != 422 {
		t.Fatalf("expected 422, got %d: %s", status, body)
	}
	if e := decodeError(t, body); e.Stage != "codec" {
		t.Errorf("expected codec stage, got %+v", e)
	}
}

func TestProve_CircuitLoading(t *testing.T) {
	f := newFixture()
	app := setupApp(f.deps(func(d *handler.Dependencies) {
		d.Circuit = mockCircuit{loaded: false}
	}))

	status, _ := doJSON(t, app, "POST", "/v1/proofs", insideReading)
	if status != 503 {
		t.Fatalf("expected 503, got %d", status)
	}
}

func TestProve_MissingGeofence(t *testing.T) {
	app := setupApp(newFixture().deps())

	status, _ := doJSON(t, app, "POST", "/v1/proofs", `{"reading":{"point":{"lat":1,"lon":1}}}`)
	if status != 400 {
		t.Fatalf("expected 400, got %d", status)
	}
	status, _ = doJSON(t, app, "POST", "/v1/proofs", `{"geofence_id":"nope","reading":{"point":{"lat":1,"lon":1}}}`)
	if status != 404 {
		t.Fatalf("expected 404, got %d", status)
	}
}

func TestProveAsync_NoPublisher(t *testing.T) {
	app := setupApp(newFixture().deps())

	status, _ := doJSON(t, app, "POST", "/v1/proofs/async", insideReading)
	if status != 503 {
		t.Fatalf("expected 503, got %d", status)
	}
}

func TestFormatProof(t *testing.T) {
	app := setupApp(newFixture().deps())

	status, body := doJSON(t, app, "POST", "/v1/proofs/format",
		`{"proof":{"b":["0xA","11"],"a":"0x0001","c":[]}}`)
	if status != 200 {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	var out struct {
		Kind  string   `json:"kind"`
		Felts []string `json:"felts"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if out.Kind != "named_fields" {
		t.Errorf("expected named_fields, got %s", out.Kind)
	}
	// declaration order, not alphabetical
	if strings.Join(out.Felts, ",") != "0xa,0xb,0x1" {
		t.Errorf("unexpected felts %v", out.Felts)
	}
}

func TestFormatProof_Unsupported(t *testing.T) {
	app := setupApp(newFixture().deps())

	tests := []struct {
		name string
		body string
	}{
		{"nested object", `{"proof":{"a":{"x":"0x1"}}}`},
		{"boolean element", `{"proof":[true]}`},
		{"overflow", `{"proof":"0x800000000000011000000000000000000000000000000000000000000000001"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := doJSON(t, app, "POST", "/v1/proofs/format", tt.body)
			if status != 422 {
				t.Fatalf("expected 422, got %d: %s", status, body)
			}
			if e := decodeError(t, body); e.Category != "format" {
				t.Errorf("expected format category, got %+v", e)
			}
		})
	}
}

func TestFormatProof_Missing(t *testing.T) {
	app := setupApp(newFixture().deps())

	status, _ := doJSON(t, app, "POST", "/v1/proofs/format", `{}`)
	if status != 400 {
		t.Fatalf("expected 400, got %d", status)
	}
}

func TestVerifyProof(t *testing.T) {
	tests := []struct {
		name       string
		ret        []string
		err        error
		wantStatus int
		wantValid  bool
	}{
		{"valid", []string{"0x1", "0x1", "0x0"}, nil, 200, true},
		{"invalid", []string{"0x0"}, nil, 200, false},
		{"rpc down", nil, domain.ErrRPCUnreachable, 503, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			var calldata []string
			f.caller.executeFn = func(ctx context.Context, address, entryPoint string, cd []string) ([]string, error) {
				calldata = cd
				return tt.ret, tt.err
			}
			app := setupApp(f.deps())

			status, body := doJSON(t, app, "POST", "/v1/proofs/verify",
				`{"contract_address":"0x4ab","felts":["0x1","0x2"]}`)
			if status != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, status, body)
			}
			if strings.Join(calldata, ",") != "0x2,0x1,0x2" {
				t.Errorf("expected length-prefixed calldata, got %v", calldata)
			}
			if status != 200 {
				return
			}
			var out struct {
				Valid bool `json:"valid"`
			}
			if err := json.Unmarshal(body, &out); err != nil {
				t.Fatal(err)
			}
			if out.Valid != tt.wantValid {
				t.Errorf("expected valid=%v", tt.wantValid)
			}
		})
	}
}

func TestVerifyProof_EmptyFeltsInvalidWithoutCall(t *testing.T) {
	f := newFixture()
	f.caller.executeFn = func(ctx context.Context, address, entryPoint string, cd []string) ([]string, error) {
		t.Error("verify_proof must not be called for an empty proof")
		return nil, errors.New("unexpected")
	}
	app := setupApp(f.deps())

	status, body := doJSON(t, app, "POST", "/v1/proofs/verify", `{"contract_address":"0x4ab","felts":[]}`)
	if status != 200 || !strings.Contains(string(body), `"status":"invalid"`) {
		t.Fatalf("expected invalid verification, got %d: %s", status, body)
	}
}

func TestVerifyProof_UnknownAttempt(t *testing.T) {
	app := setupApp(newFixture().deps())

	status, _ := doJSON(t, app, "POST", "/v1/proofs/verify", `{"attempt_id":"nope","felts":["0x1"]}`)
	if status != 404 {
		t.Fatalf("expected 404, got %d", status)
	}
}

// ---- Health, GraphQL, docs ----

func TestHealth(t *testing.T) {
	app := setupApp(newFixture().deps(func(d *handler.Dependencies) { d.Version = "1.2.3" }))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/health", nil), -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out["version"] != "1.2.3" || out["status"] != "healthy" {
		t.Errorf("unexpected health %v", out)
	}
}

func TestReady_NotReadyWithoutBackends(t *testing.T) {
	app := setupApp(newFixture().deps(func(d *handler.Dependencies) {
		d.Circuit = mockCircuit{loaded: false}
	}))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/ready", nil), -1)
	if resp.StatusCode != 503 {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	var out struct {
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Checks["database"] != "not configured" {
		t.Errorf("unexpected database check %q", out.Checks["database"])
	}
	if !strings.HasPrefix(out.Checks["circuit"], "loading") {
		t.Errorf("unexpected circuit check %q", out.Checks["circuit"])
	}
}

func TestGraphQL_GeofenceByAddress(t *testing.T) {
	app := setupApp(newFixture().deps())

	q := `{"query":"{ geofenceByAddress(address: \"0x4ab\") { id name scale vertices { x y } degrees { lat lon } on_chain_vertices { x } } }"}`
	status, body := doJSON(t, app, "POST", "/graphql", q)
	if status != 200 {
		t.Fatalf("expected 200, got %d", status)
	}

	var out struct {
		Data struct {
			Fence struct {
				ID       string              `json:"id"`
				Scale    int                 `json:"scale"`
				Vertices []domain.FixedPoint `json:"vertices"`
				Degrees  []domain.GeoPoint   `json:"degrees"`
				OnChain  []domain.FixedPoint `json:"on_chain_vertices"`
			} `json:"geofenceByAddress"`
		} `json:"data"`
		Errors []interface{} `json:"errors"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Errors) > 0 {
		t.Fatalf("graphql errors: %v", out.Errors)
	}
	fence := out.Data.Fence
	if fence.ID != "f1" || fence.Scale != 1_000_000 {
		t.Errorf("unexpected fence %+v", fence)
	}
	if !domain.Polygon(fence.Vertices).Equal(testPolygon) {
		t.Errorf("unexpected vertices %v", fence.Vertices)
	}
	if len(fence.Degrees) != 4 || len(fence.OnChain) != 4 {
		t.Errorf("expected 4 degrees and 4 on-chain vertices, got %d/%d", len(fence.Degrees), len(fence.OnChain))
	}
}

func TestGraphQL_BadBody(t *testing.T) {
	app := setupApp(newFixture().deps())

	status, _ := doJSON(t, app, "POST", "/graphql", `{}`)
	if status != 400 {
		t.Fatalf("expected 400, got %d", status)
	}
}

func TestDocs(t *testing.T) {
	app := setupApp(newFixture().deps())

	resp, _ := app.Test(httptest.NewRequest("GET", "/docs/openapi.yaml", nil), -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(readBody(t, resp.Body)), "GeoProof API") {
		t.Error("served document is not the GeoProof spec")
	}
}

func TestWebSocket_RequiresUpgrade(t *testing.T) {
	app := setupApp(newFixture().deps())

	resp, _ := app.Test(httptest.NewRequest("GET", "/ws", nil), -1)
	if resp.StatusCode != fiber.StatusUpgradeRequired {
		t.Fatalf("expected 426, got %d", resp.StatusCode)
	}
}
