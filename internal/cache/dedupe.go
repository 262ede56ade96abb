package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Deduper suppresses repeat alerts inside a sliding window. Two alerts with
// the same content hash within the window collapse to the first one's case.
// A cache outage degrades to no dedupe rather than blocking intake.
type Deduper struct {
	logger   *slog.Logger
	provider Provider
	window   time.Duration
}

// NewDeduper builds a Deduper over the given provider.
func NewDeduper(logger *slog.Logger, provider Provider, window time.Duration) *Deduper {
	if logger == nil {
		logger = slog.Default()
	}
	if provider == nil {
		provider = NoopProvider{}
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Deduper{logger: logger, provider: provider, window: window}
}

// Claim registers the alert's content hash. Returns the original alert id and
// true when an identical alert already claimed the window.
func (d *Deduper) Claim(ctx context.Context, contentHash, alertID string) (string, bool) {
	key := "dedupe:" + contentHash

	ok, err := d.provider.SetNX(ctx, key, []byte(alertID), d.window)
	if err != nil {
		d.logger.Warn("dedupe cache unavailable, accepting alert", slog.String("error", err.Error()))
		return "", false
	}
	if ok {
		return "", false
	}

	original, err := d.provider.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			d.logger.Warn("dedupe lookup failed, accepting alert", slog.String("error", err.Error()))
		}
		// The entry expired between SetNX and Get; treat as fresh.
		return "", false
	}
	return string(original), true
}

// Release drops the window entry, letting the next identical alert through.
// Called when a case reaches a terminal state.
func (d *Deduper) Release(ctx context.Context, contentHash string) {
	if err := d.provider.Del(ctx, "dedupe:"+contentHash); err != nil {
		d.logger.Warn("dedupe release failed", slog.String("error", err.Error()))
	}
}
