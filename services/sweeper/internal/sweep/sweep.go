package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"recipeshare/pkg/queue"
	"recipeshare/pkg/storage"
)

// DefaultGrace keeps fresh blobs out of a sweep: CreateRecipe uploads the
// image before it writes the record that references it.
const DefaultGrace = 15 * time.Minute

// References lists the image keys recipe records point at.
type References interface {
	ReferencedImageKeys(ctx context.Context) ([]string, error)
}

// Metrics receives sweep outcomes.
type Metrics interface {
	SweepRun(outcome string)
	SweepDeleted(n int)
}

type Config struct {
	Objects     storage.ObjectStore
	Refs        References
	Metrics     Metrics
	Logger      *slog.Logger
	Grace       time.Duration
	Concurrency int
	DryRun      bool
	Now         func() time.Time
}

// Result summarizes one reconciliation pass.
type Result struct {
	Scanned    int
	Referenced int
	Orphans    []string
	Deleted    int
	Failed     int
}

// Sweeper deletes image blobs no recipe references.
type Sweeper struct {
	objects     storage.ObjectStore
	refs        References
	metrics     Metrics
	logger      *slog.Logger
	grace       time.Duration
	concurrency int
	dryRun      bool
	now         func() time.Time
}

func New(cfg Config) (*Sweeper, error) {
	if cfg.Objects == nil || cfg.Refs == nil {
		return nil, errors.New("sweeper requires object store and references")
	}
	s := &Sweeper{
		objects:     cfg.Objects,
		refs:        cfg.Refs,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		grace:       cfg.Grace,
		concurrency: cfg.Concurrency,
		dryRun:      cfg.DryRun,
		now:         cfg.Now,
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.grace < 0 {
		s.grace = 0
	}
	if s.concurrency <= 0 {
		s.concurrency = 4
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Run lists stored images and recipe references side by side, then deletes
// every unreferenced image older than the grace period.
func (s *Sweeper) Run(ctx context.Context) (Result, error) {
	res, err := s.run(ctx)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.SweepRun(outcome)
	s.metrics.SweepDeleted(res.Deleted)
	s.logger.Info("sweep finished",
		"outcome", outcome,
		"scanned", res.Scanned,
		"referenced", res.Referenced,
		"orphans", len(res.Orphans),
		"deleted", res.Deleted,
		"failed", res.Failed,
		"dry_run", s.dryRun,
	)
	return res, err
}

func (s *Sweeper) run(ctx context.Context) (Result, error) {
	var (
		objects []storage.ObjectInfo
		refs    []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		objects, err = s.objects.List(gctx, storage.ImagePrefix)
		if err != nil {
			return fmt.Errorf("list images: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		refs, err = s.refs.ReferencedImageKeys(gctx)
		if err != nil {
			return fmt.Errorf("list references: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	referenced := make(map[string]struct{}, len(refs))
	for _, key := range refs {
		referenced[key] = struct{}{}
	}
	res := Result{Scanned: len(objects), Referenced: len(referenced)}
	cutoff := s.now().Add(-s.grace)
	for _, obj := range objects {
		if _, ok := referenced[obj.Key]; ok {
			continue
		}
		if !obj.LastModified.IsZero() && obj.LastModified.After(cutoff) {
			continue
		}
		res.Orphans = append(res.Orphans, obj.Key)
	}
	if s.dryRun || len(res.Orphans) == 0 {
		return res, nil
	}

	var deleted, failed atomic.Int64
	dg, dctx := errgroup.WithContext(ctx)
	dg.SetLimit(s.concurrency)
	for _, key := range res.Orphans {
		dg.Go(func() error {
			if err := s.objects.Delete(dctx, key); err != nil {
				failed.Add(1)
				s.logger.Warn("delete orphan image failed", "key", key, "err", err)
				return nil
			}
			deleted.Add(1)
			return nil
		})
	}
	_ = dg.Wait()
	res.Deleted = int(deleted.Load())
	res.Failed = int(failed.Load())
	if res.Failed > 0 {
		return res, fmt.Errorf("delete orphan images: %d of %d failed", res.Failed, len(res.Orphans))
	}
	return res, ctx.Err()
}

// HandleJob deletes the blob named by a cleanup job unless a recipe still
// references it. An error hands the job back to the queue for a retry.
func (s *Sweeper) HandleJob(ctx context.Context, job queue.CleanupJob) error {
	refs, err := s.refs.ReferencedImageKeys(ctx)
	if err != nil {
		return fmt.Errorf("list references: %w", err)
	}
	for _, key := range refs {
		if key == job.Key {
			s.logger.Info("cleanup job skipped, image still referenced", "key", job.Key, "reason", job.Reason)
			return nil
		}
	}
	if s.dryRun {
		s.logger.Info("cleanup job dry run", "key", job.Key, "reason", job.Reason)
		return nil
	}
	if err := s.objects.Delete(ctx, job.Key); err != nil {
		return fmt.Errorf("delete image %s: %w", job.Key, err)
	}
	s.metrics.SweepDeleted(1)
	s.logger.Info("cleanup job done", "key", job.Key, "reason", job.Reason, "attempts", job.Attempts)
	return nil
}

type nopMetrics struct{}

func (nopMetrics) SweepRun(string) {}
func (nopMetrics) SweepDeleted(int) {}
