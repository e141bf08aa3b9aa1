package mesh

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/pspoerri/tilemesh/internal/affine"
	"github.com/pspoerri/tilemesh/internal/coord"
)

// Job describes one raster to mesh.
type Job struct {
	Width, Height int
	GeoTransform  affine.GeoTransform
	Projection    coord.Projection
	Options       Options
}

// BuildAll meshes independent rasters in parallel, at most concurrency at a
// time (unbounded when concurrency <= 0). Results are in job order. The
// first error cancels the remaining jobs.
func BuildAll(ctx context.Context, jobs []Job, concurrency int) ([]*Mesh, error) {
	out := make([]*Mesh, len(jobs))

	g, ctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, job := range jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			m, err := BuildWithOptions(job.Width, job.Height, job.GeoTransform, job.Projection, job.Options)
			if err != nil {
				return err
			}
			out[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
