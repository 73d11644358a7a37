package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/geoproof/internal/core/domain"
)

const geofenceColumns = `id, name, contract_address, vertices_x, vertices_y, scale, created_at`

// GeofenceRepo implements ports.GeofenceRepository with pgx + PostGIS.
type GeofenceRepo struct {
	db *DB
}

// NewGeofenceRepo creates a new GeofenceRepo.
func NewGeofenceRepo(db *DB) *GeofenceRepo {
	return &GeofenceRepo{db: db}
}

const upsertGeofence = `
	INSERT INTO geofences (id, name, contract_address, vertices_x, vertices_y, scale, area, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, ST_GeomFromText($7, 4326)::geography, $8)
	ON CONFLICT (contract_address) DO UPDATE
	SET name = EXCLUDED.name, vertices_x = EXCLUDED.vertices_x,
	    vertices_y = EXCLUDED.vertices_y, scale = EXCLUDED.scale, area = EXCLUDED.area
	RETURNING id, created_at
`

// Upsert inserts a fence or replaces the one registered for the same
// contract. The stored id and creation time are written back to f.
func (r *GeofenceRepo) Upsert(ctx context.Context, f *domain.Geofence) error {
	return r.db.Pool.QueryRow(ctx, upsertGeofence, upsertArgs(f)...).Scan(&f.ID, &f.CreatedAt)
}

// UpsertBatch inserts many fences using pgx.Batch.
func (r *GeofenceRepo) UpsertBatch(ctx context.Context, fences []domain.Geofence) error {
	batch := &pgx.Batch{}
	for i := range fences {
		batch.Queue(upsertGeofence, upsertArgs(&fences[i])...)
	}
	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range fences {
		if err := br.QueryRow().Scan(&fences[i].ID, &fences[i].CreatedAt); err != nil {
			return fmt.Errorf("batch upsert %s: %w", fences[i].ContractAddress, err)
		}
	}
	return nil
}

// GetByID returns a fence by UUID.
func (r *GeofenceRepo) GetByID(ctx context.Context, id string) (*domain.Geofence, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	row := r.db.Pool.QueryRow(ctx, `SELECT `+geofenceColumns+` FROM geofences WHERE id = $1`, id)
	return scanGeofence(row)
}

// GetByAddress returns the fence registered for a contract.
func (r *GeofenceRepo) GetByAddress(ctx context.Context, address string) (*domain.Geofence, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+geofenceColumns+` FROM geofences WHERE contract_address = $1`, address)
	return scanGeofence(row)
}

// List returns fences newest first.
func (r *GeofenceRepo) List(ctx context.Context, offset, limit int) ([]domain.Geofence, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+geofenceColumns+`
		FROM geofences
		ORDER BY created_at DESC, id
		OFFSET $1 LIMIT $2
	`, offset, limit)
	if err != nil {
		return nil, err
	}
	return collectGeofences(rows)
}

// Count returns the number of registered fences.
func (r *GeofenceRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.Pool.QueryRow(ctx, `SELECT count(*) FROM geofences`).Scan(&n)
	return n, err
}

// FindNearby returns fences whose area lies within radiusMeters, nearest first.
func (r *GeofenceRepo) FindNearby(ctx context.Context, lat, lon, radiusMeters float64, limit int) ([]domain.Geofence, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+geofenceColumns+`
		FROM geofences
		WHERE ST_DWithin(area, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)
		ORDER BY ST_Distance(area, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography)
		LIMIT $4
	`, lon, lat, radiusMeters, limit)
	if err != nil {
		return nil, err
	}
	return collectGeofences(rows)
}

func upsertArgs(f *domain.Geofence) []any {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	return []any{f.ID, f.Name, f.ContractAddress, f.Vertices.Xs(), f.Vertices.Ys(), f.Scale, polygonWKT(f.Vertices, f.Scale), f.CreatedAt}
}

// polygonWKT renders the fence as a closed WKT ring in degrees (lon lat).
func polygonWKT(poly domain.Polygon, scale int64) string {
	if len(poly) == 0 || scale == 0 {
		return "POLYGON EMPTY"
	}
	var b strings.Builder
	b.WriteString("POLYGON((")
	s := float64(scale)
	for i := 0; i <= len(poly); i++ {
		p := poly[i%len(poly)]
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.FormatFloat(float64(p.X)/s, 'f', -1, 64))
		b.WriteByte(' ')
		b.WriteString(strconv.FormatFloat(float64(p.Y)/s, 'f', -1, 64))
	}
	b.WriteString("))")
	return b.String()
}

func scanGeofence(row pgx.Row) (*domain.Geofence, error) {
	var f domain.Geofence
	var xs, ys []int64
	if err := row.Scan(&f.ID, &f.Name, &f.ContractAddress, &xs, &ys, &f.Scale, &f.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	f.Vertices = zipVertices(xs, ys)
	return &f, nil
}

func collectGeofences(rows pgx.Rows) ([]domain.Geofence, error) {
	defer rows.Close()
	var fences []domain.Geofence
	for rows.Next() {
		f, err := scanGeofence(rows)
		if err != nil {
			return nil, err
		}
		fences = append(fences, *f)
	}
	return fences, rows.Err()
}

func zipVertices(xs, ys []int64) domain.Polygon {
	n := min(len(xs), len(ys))
	poly := make(domain.Polygon, n)
	for i := 0; i < n; i++ {
		poly[i] = domain.FixedPoint{X: xs[i], Y: ys[i]}
	}
	return poly
}
