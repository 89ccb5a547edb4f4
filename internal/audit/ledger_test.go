package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	db "github.com/fibscan/fibscan-backend/internal"
)

func newMockDB(t *testing.T) sqlmock.Sqlmock {
	t.Helper()
	sqldb, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	db.DB = sqlx.NewDb(sqldb, "sqlmock")
	t.Cleanup(func() { db.DB = nil })
	return mock
}

func entryPayload(t *testing.T, e Entry) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"event_type": e.EventType,
		"service":    e.Service,
		"client_ip":  e.ClientIP,
		"reason":     e.Reason,
		"detail":     e.Detail,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return payload
}

func chainHash(prevHex string, payload []byte) string {
	h := sha256.New()
	if prevHex != "" {
		if pb, err := hex.DecodeString(prevHex); err == nil {
			h.Write(pb)
		}
	}
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func expectAppend(mock sqlmock.Sqlmock, e Entry, payload []byte, prevHex string) {
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_xact_lock($1)`)).
		WithArgs(chainLockID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	rows := sqlmock.NewRows([]string{"this_hash"})
	if prevHex != "" {
		rows.AddRow(prevHex)
	}
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT this_hash FROM auth_events ORDER BY seq DESC LIMIT 1`)).
		WillReturnRows(rows)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO auth_events`)).
		WithArgs(sqlmock.AnyArg(), e.EventType, e.Service, e.ClientIP, e.Reason,
			payload, prevHex, chainHash(prevHex, payload)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func TestAppendGenesis(t *testing.T) {
	mock := newMockDB(t)
	e := Entry{EventType: EventTokenRejected, ClientIP: "10.0.0.5", Reason: "verification-failed"}
	expectAppend(mock, e, entryPayload(t, e), "")

	Append(context.Background(), e)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sqlmock unmet: %v", err)
	}
}

func TestAppendChainsOnPrevious(t *testing.T) {
	mock := newMockDB(t)
	e := Entry{
		EventType: EventIPRejected,
		Service:   "cron",
		ClientIP:  "8.8.8.8",
		Reason:    "ip not allowlisted",
	}
	genesis := Entry{EventType: EventTokenRejected, ClientIP: "10.0.0.5", Reason: "no-token"}
	prev := chainHash("", entryPayload(t, genesis))
	expectAppend(mock, e, entryPayload(t, e), prev)

	Append(context.Background(), e)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sqlmock unmet: %v", err)
	}
}

func TestAppendNilDBIsNoop(t *testing.T) {
	db.DB = nil
	Append(context.Background(), Entry{EventType: EventQuotaRejected, ClientIP: "10.0.0.5"})
}

func TestVerifyIntactChain(t *testing.T) {
	mock := newMockDB(t)
	p1 := entryPayload(t, Entry{EventType: EventTokenRejected, ClientIP: "10.0.0.5", Reason: "no-token"})
	h1 := chainHash("", p1)
	p2 := entryPayload(t, Entry{EventType: EventIPRejected, ClientIP: "8.8.8.8", Reason: "ip not allowlisted"})
	h2 := chainHash(h1, p2)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT seq, this_hash, detail FROM auth_events ORDER BY seq ASC LIMIT $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"seq", "this_hash", "detail"}).
			AddRow(int64(1), h1, p1).
			AddRow(int64(2), h2, p2))

	broken, err := Verify(context.Background(), 100)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if broken != 0 {
		t.Fatalf("intact chain reported broken at seq %d", broken)
	}
}

func TestVerifyDetectsBrokenChain(t *testing.T) {
	mock := newMockDB(t)
	p1 := entryPayload(t, Entry{EventType: EventTokenRejected, ClientIP: "10.0.0.5", Reason: "no-token"})
	h1 := chainHash("", p1)
	p2 := entryPayload(t, Entry{EventType: EventIPRejected, ClientIP: "8.8.8.8", Reason: "ip not allowlisted"})
	// A tampered second row: its stored hash was not derived from h1.
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT seq, this_hash, detail FROM auth_events ORDER BY seq ASC LIMIT $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"seq", "this_hash", "detail"}).
			AddRow(int64(1), h1, p1).
			AddRow(int64(2), chainHash("", p2), p2))

	broken, err := Verify(context.Background(), 100)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if broken != 2 {
		t.Fatalf("broken seq: got %d, want 2", broken)
	}
}
