// Package usage tracks and enforces the per-user daily quotas that bracket
// every call to the analysis backend: check before the call, record after it
// succeeds. Records are lazily created per (user, day); a new day simply has
// no record until first use.
package usage

import (
	"context"
	"fmt"

	"github.com/fibscan/fibscan-backend/internal/tier"
)

// Record is a user's consumption for one calendar day.
type Record struct {
	UserID        string `db:"user_id"`
	Day           string `db:"day"`
	AnalysisCount int    `db:"analysis_count"`
	ScanCount     int    `db:"scan_count"`
}

// Store is the persistence collaborator. Increments are atomic at the store;
// the check/record pair around the external call is deliberately not a
// transaction (small overshoot under concurrent requests is tolerated).
type Store interface {
	TodayUsage(ctx context.Context, userID string) (Record, error)
	IncrementAnalysis(ctx context.Context, userID string) (int, error)
	IncrementScan(ctx context.Context, userID string) (int, error)
}

// LimitError reports a quota hit, carrying enough for the client to render
// "X/Y used today". Surfaced as HTTP 429.
type LimitError struct {
	Feature string
	Limit   int
	Current int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("daily %s limit reached: %d/%d", e.Feature, e.Current, e.Limit)
}

// Limiter enforces tier quotas against a Store.
type Limiter struct {
	store Store
}

func NewLimiter(store Store) *Limiter { return &Limiter{store: store} }

// CheckAnalysis is a pure read: it fails with *LimitError when the user has
// already consumed today's analysis quota, and has no side effects either
// way. Call it before the costly external call.
func (l *Limiter) CheckAnalysis(ctx context.Context, userID string, t tier.Tier) error {
	rec, err := l.store.TodayUsage(ctx, userID)
	if err != nil {
		return err
	}
	return checkCeiling("analysis", rec.AnalysisCount, tier.LimitsFor(t).AnalysesPerDay)
}

// CheckScan is the scan counterpart of CheckAnalysis.
func (l *Limiter) CheckScan(ctx context.Context, userID string, t tier.Tier) error {
	rec, err := l.store.TodayUsage(ctx, userID)
	if err != nil {
		return err
	}
	return checkCeiling("scan", rec.ScanCount, tier.LimitsFor(t).ScansPerDay)
}

// RecordAnalysis charges one analysis and returns the updated count. Only
// call it after the analysis succeeded; failed calls are not charged.
func (l *Limiter) RecordAnalysis(ctx context.Context, userID string) (int, error) {
	return l.store.IncrementAnalysis(ctx, userID)
}

// RecordScan charges one scan and returns the updated count.
func (l *Limiter) RecordScan(ctx context.Context, userID string) (int, error) {
	return l.store.IncrementScan(ctx, userID)
}

// Usage exposes today's raw counters, for the internal ops endpoints.
func (l *Limiter) Usage(ctx context.Context, userID string) (Record, error) {
	return l.store.TodayUsage(ctx, userID)
}

func checkCeiling(feature string, current, limit int) error {
	if limit == tier.Unlimited {
		return nil
	}
	if current >= limit {
		return &LimitError{Feature: feature, Limit: limit, Current: current}
	}
	return nil
}

// FeatureQuota is the used/limit/remaining view for one feature. Remaining
// is tier.Unlimited when the tier is uncapped.
type FeatureQuota struct {
	Used      int `json:"used"`
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

// Quotas is the full remaining-quota report for a user.
type Quotas struct {
	Analyses FeatureQuota `json:"analyses"`
	Scans    FeatureQuota `json:"scans"`
}

// Remaining reads today's usage once and derives the quota report.
func (l *Limiter) Remaining(ctx context.Context, userID string, t tier.Tier) (Quotas, error) {
	rec, err := l.store.TodayUsage(ctx, userID)
	if err != nil {
		return Quotas{}, err
	}
	lim := tier.LimitsFor(t)
	return Quotas{
		Analyses: featureQuota(rec.AnalysisCount, lim.AnalysesPerDay),
		Scans:    featureQuota(rec.ScanCount, lim.ScansPerDay),
	}, nil
}

func featureQuota(used, limit int) FeatureQuota {
	q := FeatureQuota{Used: used, Limit: limit, Remaining: tier.Unlimited}
	if limit != tier.Unlimited {
		q.Remaining = limit - used
		if q.Remaining < 0 {
			q.Remaining = 0
		}
	}
	return q
}
