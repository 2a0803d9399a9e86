// Package repository owns the recipe, user and favorite invariants on top of
// the document store and the object store.
package repository

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	"recipeshare/pkg/queue"
	"recipeshare/pkg/storage"
)

const (
	DefaultTimeout      = 5 * time.Second
	DefaultReadRetries  = 2
	DefaultRetryBackoff = 100 * time.Millisecond
	DefaultScanLimit    = 10
)

// Metrics receives domain events. A nil Metrics is ignored.
type Metrics interface {
	RecipeCreated()
	OrphanBlob(source string)
}

// CleanupQueue schedules deletion of blobs no recipe references.
type CleanupQueue interface {
	Enqueue(ctx context.Context, key, reason string) (queue.CleanupJob, error)
}

// Options tunes how repositories talk to the stores.
type Options struct {
	// Timeout bounds each individual store or blob call.
	Timeout time.Duration
	// ReadRetries is how many times a failed read is retried. Writes are never retried.
	ReadRetries  uint64
	RetryBackoff time.Duration
	// ScanLimit is the page size for listing and search.
	ScanLimit int
	Cleanup   CleanupQueue
	Metrics   Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = DefaultRetryBackoff
	}
	if o.ScanLimit <= 0 {
		o.ScanLimit = DefaultScanLimit
	}
	if o.Metrics == nil {
		o.Metrics = nopMetrics{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// DefaultOptions returns the production call policy.
func DefaultOptions() Options {
	return Options{ReadRetries: DefaultReadRetries}.withDefaults()
}

type nopMetrics struct{}

func (nopMetrics) RecipeCreated()    {}
func (nopMetrics) OrphanBlob(string) {}

// read runs fn under a per-attempt timeout and retries failures with a
// constant backoff.
func (o Options) read(ctx context.Context, fn func(context.Context) error) error {
	backoff := retry.WithMaxRetries(o.ReadRetries, retry.NewConstant(o.RetryBackoff))
	var last error
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, o.Timeout)
		defer cancel()
		if err := fn(callCtx); err != nil {
			last = err
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil && last != nil && !errors.Is(err, last) {
		return last
	}
	return err
}

// write runs fn once under a per-call timeout.
func (o Options) write(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()
	return fn(callCtx)
}

// open retries fn like read. The winning attempt's timeout stays armed until
// the returned stream is closed. A missing object is not retried.
func (o Options) open(ctx context.Context, fn func(context.Context) (io.ReadCloser, error)) (io.ReadCloser, error) {
	backoff := retry.WithMaxRetries(o.ReadRetries, retry.NewConstant(o.RetryBackoff))
	var (
		rc   io.ReadCloser
		last error
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, o.Timeout)
		body, err := fn(callCtx)
		if err != nil {
			cancel()
			last = err
			if errors.Is(err, storage.ErrObjectNotFound) {
				return err
			}
			return retry.RetryableError(err)
		}
		rc = &cancelOnClose{ReadCloser: body, cancel: cancel}
		return nil
	})
	if err != nil && last != nil && !errors.Is(err, last) {
		return nil, last
	}
	if err != nil {
		return nil, err
	}
	return rc, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}

// detached returns a context that outlives the caller's cancellation, for
// cleanup that must run even when the request is gone.
func (o Options) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.Timeout)
}
