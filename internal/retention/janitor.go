// Package retention expires old invoices and their document indexes.
package retention

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/tagihan/pkg/utils"
)

// DefaultMaxAge is how long invoices and indexes are kept.
const DefaultMaxAge = 7 * 24 * time.Hour

// InvoiceStore deletes expired invoices. *repository.SQLRepository implements it.
type InvoiceStore interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]string, error)
}

// IndexStore lists and deletes expired document indexes. *indexer.Indexer implements it.
type IndexStore interface {
	Expired(cutoff time.Time) ([]string, error)
	Delete(docID string) error
}

// Result reports what a sweep removed.
type Result struct {
	Invoices int
	Indexes  int
}

// Janitor removes invoices and indexes older than MaxAge.
type Janitor struct {
	invoices InvoiceStore
	indexes  IndexStore
	maxAge   time.Duration
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// Option configures a Janitor.
type Option func(*Janitor)

// WithClock sets the clock used to compute the cutoff.
func WithClock(now func() time.Time) Option {
	return func(j *Janitor) { j.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(j *Janitor) { j.logger = l }
}

// NewJanitor creates a janitor. maxAge defaults to DefaultMaxAge and interval to one hour.
func NewJanitor(invoices InvoiceStore, indexes IndexStore, maxAge, interval time.Duration, opts ...Option) *Janitor {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if interval <= 0 {
		interval = time.Hour
	}
	j := &Janitor{
		invoices: invoices,
		indexes:  indexes,
		maxAge:   maxAge,
		interval: interval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	j.logger = utils.OrNop(j.logger)
	return j
}

// Sweep deletes invoices created before now-maxAge, their indexes, and any other index whose
// manifest is older than the cutoff. Failures to delete single indexes are collected; the sweep
// carries on.
func (j *Janitor) Sweep(ctx context.Context) (Result, error) {
	var res Result
	cutoff := j.now().Add(-j.maxAge)

	ids, err := j.invoices.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return res, err
	}
	res.Invoices = len(ids)

	expired, err := j.indexes.Expired(cutoff)
	if err != nil {
		return res, err
	}

	seen := make(map[string]bool, len(ids)+len(expired))
	var errs []error
	for _, id := range append(ids, expired...) {
		if seen[id] {
			continue
		}
		seen[id] = true
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := j.indexes.Delete(id); err != nil {
			errs = append(errs, err)
			continue
		}
		res.Indexes++
	}

	if res.Invoices > 0 || res.Indexes > 0 {
		j.logger.Info("retention sweep",
			zap.Time("cutoff", cutoff),
			zap.Int("invoices", res.Invoices),
			zap.Int("indexes", res.Indexes))
	}
	return res, errors.Join(errs...)
}

// Run sweeps immediately and then every interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		if _, err := j.Sweep(ctx); err != nil && ctx.Err() == nil {
			j.logger.Warn("retention sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
