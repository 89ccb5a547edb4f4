package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	database "github.com/fibscan/fibscan-backend/internal"
	"github.com/fibscan/fibscan-backend/internal/auth"
	"github.com/fibscan/fibscan-backend/internal/config"
	"github.com/fibscan/fibscan-backend/internal/ipallow"
	"github.com/fibscan/fibscan-backend/internal/usage"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestServer(secret string) *Server {
	cfg := &config.Config{ServiceTokenSecret: secret, UserJWTSecret: "user-secret"}
	return NewServer(cfg,
		auth.NewTokenService(secret),
		ipallow.New(nil),
		usage.NewLimiter(&nullStore{}),
		nil)
}

type nullStore struct{}

func (nullStore) TodayUsage(ctx context.Context, userID string) (usage.Record, error) {
	return usage.Record{UserID: userID}, nil
}
func (nullStore) IncrementAnalysis(ctx context.Context, userID string) (int, error) { return 1, nil }
func (nullStore) IncrementScan(ctx context.Context, userID string) (int, error)     { return 1, nil }

func issueRouter(s *Server) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/internal/token/issue", s.IPAllow(), s.IssueServiceToken)
	return r
}

func postJSON(r *gin.Engine, path, body, fromIP string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if fromIP != "" {
		req.Header.Set("x-forwarded-for", fromIP)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestIssueServiceToken(t *testing.T) {
	database.DB = nil
	s := newTestServer(testSecret)
	r := issueRouter(s)

	w := postJSON(r, "/internal/token/issue", `{"service":"cron","scopes":["write:latest-runs"]}`, "10.0.0.5")
	if w.Code != 200 {
		t.Fatalf("status: %d body=%s", w.Code, w.Body.String())
	}
	var out struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expiresIn"`
		ExpiresAt string `json:"expiresAt"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("json: %v", err)
	}
	if out.ExpiresIn != 3600 {
		t.Fatalf("expiresIn: %d", out.ExpiresIn)
	}
	if out.ExpiresAt == "" {
		t.Fatal("expiresAt missing")
	}
	res := s.tokens.Verify(out.Token)
	if !res.Valid {
		t.Fatalf("issued token does not verify: %s", res.Reason)
	}
	if res.Claims.Subject != "cron" || !res.Claims.HasScope(auth.ScopeWriteLatestRuns) {
		t.Fatalf("claims: %+v", res.Claims)
	}
	// The advertised expiry must be the token's own exp claim.
	if want := res.Claims.ExpiresAt.Time.UTC().Format(time.RFC3339); out.ExpiresAt != want {
		t.Fatalf("expiresAt %q does not match token exp %q", out.ExpiresAt, want)
	}
}

func TestIssueRejectsOutsideIP(t *testing.T) {
	database.DB = nil
	r := issueRouter(newTestServer(testSecret))
	w := postJSON(r, "/internal/token/issue", `{"service":"cron","scopes":["read:usage"]}`, "8.8.8.8")
	if w.Code != http.StatusForbidden {
		t.Fatalf("status: %d body=%s", w.Code, w.Body.String())
	}
}

func TestIssueRejectsUnknownIP(t *testing.T) {
	database.DB = nil
	r := issueRouter(newTestServer(testSecret))
	// No forwarding headers at all resolves to "unknown", which is never
	// allowlisted.
	w := postJSON(r, "/internal/token/issue", `{"service":"cron","scopes":["read:usage"]}`, "")
	if w.Code != http.StatusForbidden {
		t.Fatalf("status: %d body=%s", w.Code, w.Body.String())
	}
}

func TestIssueUnknownServiceName(t *testing.T) {
	database.DB = nil
	r := issueRouter(newTestServer(testSecret))
	w := postJSON(r, "/internal/token/issue", `{"service":"intruder","scopes":["read:usage"]}`, "10.0.0.5")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: %d body=%s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "intruder") {
		t.Fatalf("error should name the offending value: %s", w.Body.String())
	}
}

func TestIssueUnknownScopeName(t *testing.T) {
	database.DB = nil
	r := issueRouter(newTestServer(testSecret))
	w := postJSON(r, "/internal/token/issue", `{"service":"cron","scopes":["write:anything"]}`, "10.0.0.5")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: %d body=%s", w.Code, w.Body.String())
	}
}

func TestIssueUnconfiguredSecret(t *testing.T) {
	database.DB = nil
	r := issueRouter(newTestServer("short"))
	w := postJSON(r, "/internal/token/issue", `{"service":"cron","scopes":["read:usage"]}`, "10.0.0.5")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: %d body=%s", w.Code, w.Body.String())
	}
}

func TestIssueMalformedBody(t *testing.T) {
	database.DB = nil
	r := issueRouter(newTestServer(testSecret))
	w := postJSON(r, "/internal/token/issue", `{`, "10.0.0.5")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: %d body=%s", w.Code, w.Body.String())
	}
}
