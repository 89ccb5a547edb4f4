// Package audit records authorization-relevant events (rejected tokens,
// disallowed IPs, missing scopes, quota hits, token issuance) to a
// hash-chained table. Writing the trail is a required side effect of every
// rejection, not optional telemetry; failures are logged but never fail the
// request that triggered them.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"

	db "github.com/fibscan/fibscan-backend/internal"
	"github.com/google/uuid"
)

// Event types written by the middleware and handlers.
const (
	EventTokenIssued   = "token-issued"
	EventTokenRejected = "token-rejected"
	EventScopeRejected = "scope-rejected"
	EventIPRejected    = "ip-rejected"
	EventQuotaRejected = "quota-rejected"
)

// Entry is one audit event. Service is empty when the caller never
// authenticated far enough to name itself.
type Entry struct {
	EventType string
	Service   string
	ClientIP  string
	Reason    string
	Detail    any
}

// chainLockID is the advisory-lock key serializing chain appends. Middleware
// rejections land here concurrently; without the lock two writers can read
// the same head and fork the chain, which Verify would report as a break.
const chainLockID = 804297

// Append writes the entry, chaining this_hash = SHA256(prev_hash_bytes ||
// canonical_json). Best effort: errors are logged and swallowed so a broken
// audit store cannot turn rejections into 500s.
func Append(ctx context.Context, e Entry) {
	if db.DB == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"event_type": e.EventType,
		"service":    e.Service,
		"client_ip":  e.ClientIP,
		"reason":     e.Reason,
		"detail":     e.Detail,
	})
	if err != nil {
		log.Printf("audit: marshal failed: %v", err)
		return
	}

	tx, err := db.DB.BeginTxx(ctx, nil)
	if err != nil {
		log.Printf("audit: begin failed: %v", err)
		return
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, chainLockID); err != nil {
		log.Printf("audit: chain lock failed: %v", err)
		return
	}

	var prev string
	_ = tx.GetContext(ctx, &prev, `SELECT this_hash FROM auth_events ORDER BY seq DESC LIMIT 1`)

	h := sha256.New()
	if prev != "" {
		if pb, err := hex.DecodeString(prev); err == nil {
			h.Write(pb)
		}
	}
	h.Write(payload)
	thisHash := hex.EncodeToString(h.Sum(nil))

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO auth_events(id, event_type, service, client_ip, reason, detail, prev_hash, this_hash)
		 VALUES ($1,$2,NULLIF($3,''),NULLIF($4,''),NULLIF($5,''),$6,$7,$8)`,
		uuid.New(), e.EventType, e.Service, e.ClientIP, e.Reason, payload, prev, thisHash); err != nil {
		log.Printf("audit: append failed: %v", err)
		return
	}
	if err := tx.Commit(); err != nil {
		log.Printf("audit: commit failed: %v", err)
	}
}

// Verify walks the chain and returns the first broken seq (1-based), or 0
// when the chain is intact.
func Verify(ctx context.Context, limit int) (int64, error) {
	type row struct {
		Seq     int64  `db:"seq"`
		This    string `db:"this_hash"`
		Payload []byte `db:"detail"`
	}
	if limit <= 0 || limit > 10000 {
		limit = 10000
	}
	rows := []row{}
	if err := db.DB.SelectContext(ctx, &rows,
		`SELECT seq, this_hash, detail FROM auth_events ORDER BY seq ASC LIMIT $1`, limit); err != nil {
		return 0, err
	}
	var last string
	for _, r := range rows {
		h := sha256.New()
		if last != "" {
			if pb, err := hex.DecodeString(last); err == nil {
				h.Write(pb)
			}
		}
		h.Write(r.Payload)
		if hex.EncodeToString(h.Sum(nil)) != r.This {
			return r.Seq, nil
		}
		last = r.This
	}
	return 0, nil
}
