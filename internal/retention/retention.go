package retention

import (
	"context"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/schema"
)

const defaultDays = 90

// Policy bounds how far back raw rows and daily buckets are kept.
// Boundaries are whole UTC days so a sweep never splits a bucket.
type Policy struct {
	Days int
}

// Cutoff returns the eviction boundary for a sweep running at now: rows
// with ts before the returned timestamp and buckets dated before the
// returned date are out of retention. The cutoff is midnight UTC of the
// oldest retained day.
func (p Policy) Cutoff(now time.Time) (int64, schema.Date) {
	days := p.Days
	if days <= 0 {
		days = defaultDays
	}
	oldest := schema.DateOf(now.UTC().AddDate(0, 0, -(days - 1)))
	return BucketStart(oldest), oldest
}

// BucketStart returns the inclusive start of a day bucket, UTC.
func BucketStart(date schema.Date) int64 {
	return date.Time().UnixNano()
}

// BucketEnd returns the exclusive end of a day bucket, UTC.
func BucketEnd(date schema.Date) int64 {
	return date.Next().Time().UnixNano()
}

// SweepFunc removes data before the boundary and reports rows removed.
type SweepFunc func(ctx context.Context, cutoffTs int64, cutoffDate schema.Date) (int64, error)

// PolicySource yields the policy for the next sweep. Re-reading it every
// sweep lets a hot-reloaded retention window take effect without restart.
type PolicySource func() Policy

// Sweeper periodically applies a Policy through a SweepFunc.
type Sweeper struct {
	policy   PolicySource
	interval time.Duration
	sweep    SweepFunc
	now      func() time.Time
}

func NewSweeper(policy PolicySource, interval time.Duration, sweep SweepFunc) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		policy:   policy,
		interval: interval,
		sweep:    sweep,
		now:      time.Now,
	}
}

// Run sweeps on the configured interval until ctx is done. A failed sweep
// is logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce applies the policy once at the current time.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	cutoffTs, cutoffDate := s.policy().Cutoff(s.now())
	pruned, err := s.sweep(ctx, cutoffTs, cutoffDate)
	if err != nil {
		logs.Errorf("retention sweep, err: %+v", err)
		return
	}
	if pruned != 0 {
		logs.Infof("retention sweep removed %d rows before %s", pruned, cutoffDate)
	}
}
