package runner

import (
	"context"

	"github.com/LAPS-Group/laps/pkg/types"
)

// DummyPathfinder walks from start to stop along the x axis first and the y
// axis second, ignoring the map entirely. Useful for exercising the
// coordination protocol without a real algorithm.
func DummyPathfinder(_ context.Context, job types.JobInfo) ([]types.Vector, error) {
	points := []types.Vector{job.Start}
	cur := job.Start
	for cur.X != job.Stop.X {
		cur.X = step(cur.X, job.Stop.X)
		points = append(points, cur)
	}
	for cur.Y != job.Stop.Y {
		cur.Y = step(cur.Y, job.Stop.Y)
		points = append(points, cur)
	}
	return points, nil
}

func step(from, to uint32) uint32 {
	if from < to {
		return from + 1
	}
	return from - 1
}
