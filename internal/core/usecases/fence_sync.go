package usecases

import (
	"context"
	"log/slog"
	"sync"

	"github.com/samirrijal/geoproof/internal/core/domain"
	"github.com/samirrijal/geoproof/internal/core/ports"
)

const syncPageSize = 100

// SyncReport summarises one drift sweep.
type SyncReport struct {
	Checked int
	Drifted int
	Failed  int
}

// FenceSync compares every registered fence with its contract's
// get_vertices and publishes an alert for each one that drifted.
type FenceSync struct {
	fences      *GeofenceService
	publisher   ports.EventPublisher
	concurrency int
}

// NewFenceSync creates a FenceSync. publisher may be nil, in which case
// drift is only logged.
func NewFenceSync(fences *GeofenceService, publisher ports.EventPublisher, concurrency int) *FenceSync {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &FenceSync{fences: fences, publisher: publisher, concurrency: concurrency}
}

// RunOnce sweeps the whole registry. A failing contract is counted and
// skipped; only a registry read error aborts the sweep.
func (s *FenceSync) RunOnce(ctx context.Context) (SyncReport, error) {
	var (
		mu     sync.Mutex
		report SyncReport
		wg     sync.WaitGroup
	)
	sem := make(chan struct{}, s.concurrency)

	for offset := 0; ; offset += syncPageSize {
		page, _, err := s.fences.List(ctx, offset, syncPageSize)
		if err != nil {
			wg.Wait()
			return report, err
		}

		for i := range page {
			fence := page[i]
			wg.Add(1)
			go func() {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				drift, err := s.check(ctx, &fence)

				mu.Lock()
				defer mu.Unlock()
				report.Checked++
				switch {
				case err != nil:
					report.Failed++
				case drift != nil:
					report.Drifted++
				}
			}()
		}

		if len(page) < syncPageSize {
			break
		}
	}

	wg.Wait()
	return report, ctx.Err()
}

func (s *FenceSync) check(ctx context.Context, fence *domain.Geofence) (*domain.FenceDrift, error) {
	drift, err := s.fences.CheckDrift(ctx, fence)
	if err != nil {
		slog.Warn("drift check failed",
			"geofence_id", fence.ID,
			"contract", fence.ContractAddress,
			"category", domain.CategoryOf(err),
			"error", err,
		)
		return nil, err
	}
	if drift == nil {
		return nil, nil
	}

	slog.Warn("geofence drifted from contract",
		"geofence_id", fence.ID,
		"contract", fence.ContractAddress,
	)
	if s.publisher != nil {
		if err := s.publisher.PublishFenceDrift(ctx, drift); err != nil {
			slog.Error("publish drift", "geofence_id", fence.ID, "error", err)
		}
	}
	return drift, nil
}
