package source

import (
	"context"

	"golang.org/x/time/rate"

	"cu-log-sync/config"
)

type throttled struct {
	next    Source
	limiter *rate.Limiter
}

// Throttle limits the remote operations of src to opsPerSecond, with a burst of one.
func Throttle(src Source, opsPerSecond float64) Source {
	return &throttled{next: src, limiter: rate.NewLimiter(rate.Limit(opsPerSecond), 1)}
}

func (t *throttled) Connect(ctx context.Context) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	return t.next.Connect(ctx)
}

func (t *throttled) ListDirectories(ctx context.Context) ([]config.Directory, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.next.ListDirectories(ctx)
}

func (t *throttled) ListFiles(ctx context.Context, dir string) ([]string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.next.ListFiles(ctx, dir)
}

func (t *throttled) Download(ctx context.Context, dir, name string) ([]byte, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.next.Download(ctx, dir, name)
}

func (t *throttled) Delete(ctx context.Context, dir, name string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	return t.next.Delete(ctx, dir, name)
}

func (t *throttled) Close() error { return t.next.Close() }
