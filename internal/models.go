package database

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Subscription represents the 'subscriptions' table. Rows are written by the
// billing webhook consumer; this service only reads the tier.
type Subscription struct {
	UserID           string     `db:"user_id"`
	Tier             string     `db:"tier"` // "free", "pro", "max"
	StripeCustomerID *string    `db:"stripe_customer_id"`
	CurrentPeriodEnd *time.Time `db:"current_period_end"`
	CreatedAt        time.Time  `db:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
}

// UsageRecord represents the 'usage_records' table: per-user, per-day
// counters, lazily created on first use each day.
type UsageRecord struct {
	UserID        string    `db:"user_id"`
	Day           time.Time `db:"day"`
	AnalysisCount int       `db:"analysis_count"`
	ScanCount     int       `db:"scan_count"`
}

// AuthEvent represents the 'auth_events' table, the hash-chained audit trail
// of authorization-relevant rejections and issuances.
type AuthEvent struct {
	ID        uuid.UUID       `db:"id"`
	Seq       int64           `db:"seq"`
	EventType string          `db:"event_type"` // e.g. "token-rejected", "ip-rejected", "token-issued"
	Service   *string         `db:"service"`    // service identity when known
	ClientIP  *string         `db:"client_ip"`
	Reason    *string         `db:"reason"`
	Detail    json.RawMessage `db:"detail"`
	PrevHash  string          `db:"prev_hash"`
	ThisHash  string          `db:"this_hash"`
	CreatedAt time.Time       `db:"created_at"`
}

// LatestRuns represents the 'latest_runs' table: the most recent published
// scan-run payload per universe, upserted by the cron service through the
// protected internal endpoint.
type LatestRuns struct {
	Universe  string          `db:"universe"`
	Payload   json.RawMessage `db:"payload"`
	UpdatedBy string          `db:"updated_by"` // service identity
	UpdatedAt time.Time       `db:"updated_at"`
}
