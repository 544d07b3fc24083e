package simulation

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"mixpower/adapters/rng"
	"mixpower/domain/core"
	"mixpower/domain/power"
)

// PointFunc runs the full pipeline for one sweep point.
type PointFunc func(ctx context.Context, point power.SweepPoint) (*power.Run, error)

// SweepPoints expands subject × item counts into points, subject count varying
// slowest. Each point gets its own seed derived from base and its index.
func SweepPoints(subjectNs, itemNs []int, base int64) ([]power.SweepPoint, error) {
	if len(subjectNs) == 0 || len(itemNs) == 0 {
		return nil, core.NewArgumentError("sweep", "subject_n and item_n lists must be non-empty")
	}
	for _, n := range append(append([]int(nil), subjectNs...), itemNs...) {
		if n <= 0 {
			return nil, core.NewArgumentError("sweep", fmt.Sprintf("counts must be positive, got %d", n))
		}
	}

	points := make([]power.SweepPoint, 0, len(subjectNs)*len(itemNs))
	for _, s := range subjectNs {
		for _, i := range itemNs {
			idx := len(points)
			points = append(points, power.SweepPoint{
				Index:    idx,
				SubjectN: s,
				ItemN:    i,
				Seed:     rng.DeriveSeed(base, idx),
			})
		}
	}
	return points, nil
}

// Sweep runs fn for every point with at most concurrency points in flight.
// Results are returned in point order. The first error cancels the remaining points.
func Sweep(ctx context.Context, points []power.SweepPoint, concurrency int, fn PointFunc) ([]power.SweepResult, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(int64(concurrency))
	results := make([]power.SweepResult, len(points))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
	}

	for i, point := range points {
		if err := sem.Acquire(ctx, 1); err != nil {
			fail(err)
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			run, err := fn(ctx, point)
			if err != nil {
				fail(fmt.Errorf("sweep point %d (subject_n=%d, item_n=%d): %w", point.Index, point.SubjectN, point.ItemN, err))
				return
			}
			results[i] = power.SweepResult{Point: point, Run: run}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}
