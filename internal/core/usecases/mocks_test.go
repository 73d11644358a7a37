package usecases_test

import (
	"context"
	"sync"

	"github.com/samirrijal/geoproof/internal/core/domain"
	"github.com/samirrijal/geoproof/internal/core/ports"
)

// --- Circuit program ---

type testProgram struct {
	n     int
	scale int64
}

func (p testProgram) Name() string     { return "geofence_test" }
func (p testProgram) VertexCount() int { return p.n }
func (p testProgram) Scale() int64     { return p.scale }

var program4 = testProgram{n: 4, scale: 1_000_000}

// square around (60.0, 30.3) from the reference scenario
var testPolygon = domain.Polygon{
	{X: 60050000, Y: 30050000},
	{X: 60090000, Y: 30550000},
	{X: 59800000, Y: 30650000},
	{X: 59830000, Y: 30050000},
}

// --- Mock CircuitExecutor ---

type mockExecutor struct {
	mu        sync.Mutex
	calls     int
	executeFn func(ctx context.Context, program ports.CircuitProgram, input domain.CircuitInput) (domain.Witness, error)
}

func (m *mockExecutor) Execute(ctx context.Context, program ports.CircuitProgram, input domain.CircuitInput) (domain.Witness, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.executeFn != nil {
		return m.executeFn(ctx, program, input)
	}
	return domain.Witness{0x01}, nil
}

func (m *mockExecutor) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// --- Mock ProvingBackend ---

type mockBackend struct {
	proveFn func(ctx context.Context, w domain.Witness) (domain.Proof, error)
}

func (m *mockBackend) Prove(ctx context.Context, w domain.Witness) (domain.Proof, error) {
	if m.proveFn != nil {
		return m.proveFn(ctx, w)
	}
	return domain.NamedFieldsProof(
		domain.ProofField{Name: "a", Value: domain.ListValue("0x1", "0x2")},
		domain.ProofField{Name: "public_inputs", Value: domain.ListValue("0x3")},
	), nil
}

// --- Mock LocalVerifier ---

type mockLocal struct {
	err error
}

func (m *mockLocal) VerifyLocal(ctx context.Context, p domain.Proof) error { return m.err }

// --- Mock ContractCaller ---

type contractCall struct {
	address    string
	entryPoint string
	calldata   []string
	execute    bool
}

type mockCaller struct {
	mu        sync.Mutex
	calls     []contractCall
	callFn    func(ctx context.Context, address, entryPoint string, calldata []string) ([]string, error)
	executeFn func(ctx context.Context, address, entryPoint string, calldata []string) ([]string, error)
}

func (m *mockCaller) record(c contractCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
}

func (m *mockCaller) Call(ctx context.Context, address, entryPoint string, calldata []string) ([]string, error) {
	m.record(contractCall{address, entryPoint, calldata, false})
	if m.callFn != nil {
		return m.callFn(ctx, address, entryPoint, calldata)
	}
	return nil, nil
}

func (m *mockCaller) Execute(ctx context.Context, address, entryPoint string, calldata []string) ([]string, error) {
	m.record(contractCall{address, entryPoint, calldata, true})
	if m.executeFn != nil {
		return m.executeFn(ctx, address, entryPoint, calldata)
	}
	return []string{"0x0"}, nil
}

func (m *mockCaller) Calls() []contractCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]contractCall(nil), m.calls...)
}

// --- Mock GeofenceRepository ---

type mockFenceRepo struct {
	upsertFn       func(ctx context.Context, f *domain.Geofence) error
	upsertBatchFn  func(ctx context.Context, fences []domain.Geofence) error
	getByIDFn      func(ctx context.Context, id string) (*domain.Geofence, error)
	getByAddressFn func(ctx context.Context, address string) (*domain.Geofence, error)
	listFn         func(ctx context.Context, offset, limit int) ([]domain.Geofence, error)
	findNearbyFn   func(ctx context.Context, lat, lon, radius float64, limit int) ([]domain.Geofence, error)
	count          int
}

func (m *mockFenceRepo) Upsert(ctx context.Context, f *domain.Geofence) error {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, f)
	}
	return nil
}

func (m *mockFenceRepo) UpsertBatch(ctx context.Context, fences []domain.Geofence) error {
	if m.upsertBatchFn != nil {
		return m.upsertBatchFn(ctx, fences)
	}
	return nil
}

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

// --- Mock AttemptRepository ---

type mockAttemptRepo struct {
	mu       sync.Mutex
	attempts map[string]domain.ProofAttempt
}

func newMockAttemptRepo() *mockAttemptRepo {
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

// --- Mock CacheService ---

type mockCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMockCache() *mockCache { return &mockCache{data: make(map[string][]byte)} }

func (m *mockCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return v, nil
}

func (m *mockCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mockCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// --- Mock EventPublisher ---

type mockPublisher struct {
	mu       sync.Mutex
	events   []domain.ProofEvent
	requests []domain.ProofRequest
	drifts   []domain.FenceDrift
}

func (m *mockPublisher) PublishProofEvent(ctx context.Context, ev *domain.ProofEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *ev)
	return nil
}

func (m *mockPublisher) PublishProofRequest(ctx context.Context, req *domain.ProofRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, *req)
	return nil
}

func (m *mockPublisher) PublishFenceDrift(ctx context.Context, d *domain.FenceDrift) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drifts = append(m.drifts, *d)
	return nil
}

func (m *mockPublisher) EventTypes() []domain.ProofEventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ProofEventType
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}
