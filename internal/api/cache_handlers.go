package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	database "github.com/fibscan/fibscan-backend/internal"
)

type updateLatestRunsReq struct {
	Universe string          `json:"universe"`
	Payload  json.RawMessage `json:"payload"`
}

// UpdateLatestRuns upserts the published scan-run payload for a universe.
// POST /internal/cache/latest-runs. The route group enforces both defense
// layers: a bearer token with scope write:latest-runs AND an allowlisted IP.
func (s *Server) UpdateLatestRuns(c *gin.Context) {
	var req updateLatestRunsReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Universe == "" || len(req.Payload) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "universe and payload required"})
		return
	}
	service := c.GetString("serviceID")
	_, err := database.DB.ExecContext(c.Request.Context(),
		`INSERT INTO latest_runs(universe, payload, updated_by, updated_at) VALUES ($1,$2,$3,NOW())
		 ON CONFLICT (universe) DO UPDATE SET payload=EXCLUDED.payload, updated_by=EXCLUDED.updated_by, updated_at=NOW()`,
		req.Universe, []byte(req.Payload), service)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true, "universe": req.Universe})
}

// GetLatestRuns serves the most recent published runs for a universe with
// short-lived HTTP caching. GET /v1/latest-runs?universe=sp500.
func (s *Server) GetLatestRuns(c *gin.Context) {
	universe := c.DefaultQuery("universe", "sp500")
	var row struct {
		Payload   json.RawMessage `db:"payload"`
		UpdatedAt string          `db:"updated_at"`
	}
	err := database.DB.GetContext(c.Request.Context(), &row,
		`SELECT payload, updated_at::text FROM latest_runs WHERE universe=$1`, universe)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no runs published for universe"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Cache-Control", "public, max-age=60, stale-while-revalidate=300")
	c.JSON(http.StatusOK, gin.H{"universe": universe, "updatedAt": row.UpdatedAt, "runs": row.Payload})
}

// GetUserUsage returns the day's counters for a user. GET
// /internal/usage/:userId, gated by scope read:usage plus the IP allowlist;
// /admin/usage/:userId offers the same view behind the ops admin key.
func (s *Server) GetUserUsage(c *gin.Context) {
	userID := c.Param("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId required"})
		return
	}
	rec, err := s.limiter.Usage(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"userId":        userID,
		"analysisCount": rec.AnalysisCount,
		"scanCount":     rec.ScanCount,
	})
}
