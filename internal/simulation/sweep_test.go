package simulation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mixpower/domain/core"
	"mixpower/domain/power"
)

func TestSweepPoints(t *testing.T) {
	points, err := SweepPoints([]int{20, 30, 40}, []int{10, 20, 30}, 7)
	require.NoError(t, err)
	require.Len(t, points, 9)

	assert.Equal(t, power.SweepPoint{Index: 0, SubjectN: 20, ItemN: 10, Seed: points[0].Seed}, points[0])
	assert.Equal(t, 20, points[2].SubjectN)
	assert.Equal(t, 30, points[2].ItemN)
	assert.Equal(t, 30, points[3].SubjectN)

	seeds := map[int64]bool{}
	for i, p := range points {
		assert.Equal(t, i, p.Index)
		assert.GreaterOrEqual(t, p.Seed, int64(0))
		seeds[p.Seed] = true
	}
	assert.Len(t, seeds, 9)

	again, err := SweepPoints([]int{20, 30, 40}, []int{10, 20, 30}, 7)
	require.NoError(t, err)
	assert.Equal(t, points, again)

	_, err = SweepPoints(nil, []int{10}, 1)
	assert.True(t, core.IsInvalidArgument(err))
	_, err = SweepPoints([]int{10, 0}, []int{10}, 1)
	assert.True(t, core.IsInvalidArgument(err))
}

func TestSweep_OrderAndConcurrencyBound(t *testing.T) {
	points, err := SweepPoints([]int{1, 2, 3}, []int{4, 5, 6}, 1)
	require.NoError(t, err)

	var inFlight, peak atomic.Int64
	fn := func(ctx context.Context, p power.SweepPoint) (*power.Run, error) {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return &power.Run{Config: power.SimulationConfig{SubjectN: p.SubjectN, ItemN: p.ItemN, Seed: p.Seed}}, nil
	}

	results, err := Sweep(context.Background(), points, 2, fn)
	require.NoError(t, err)
	require.Len(t, results, 9)
	for i, r := range results {
		assert.Equal(t, points[i], r.Point)
		assert.Equal(t, points[i].SubjectN, r.Run.Config.SubjectN)
		assert.Equal(t, points[i].Seed, r.Run.Config.Seed)
	}
	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestSweep_FirstErrorStopsRun(t *testing.T) {
	points, err := SweepPoints([]int{1, 2}, []int{1, 2}, 1)
	require.NoError(t, err)

	boom := errors.New("boom")
	fn := func(ctx context.Context, p power.SweepPoint) (*power.Run, error) {
		if p.Index == 1 {
			return nil, boom
		}
		return &power.Run{}, nil
	}

	_, err = Sweep(context.Background(), points, 1, fn)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "sweep point 1")
}
