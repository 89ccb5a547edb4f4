package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	database "github.com/fibscan/fibscan-backend/internal"
	"github.com/fibscan/fibscan-backend/internal/audit"
	"github.com/fibscan/fibscan-backend/internal/ipallow"
	"github.com/fibscan/fibscan-backend/internal/mcp"
	"github.com/fibscan/fibscan-backend/internal/tier"
	"github.com/fibscan/fibscan-backend/internal/usage"
)

// resolveTier reads the user's subscription tier. No subscription row, or a
// read failure, resolves to free: never grant more than free by accident.
func resolveTier(c *gin.Context, userID string) tier.Tier {
	var t string
	err := database.DB.GetContext(c.Request.Context(), &t,
		`SELECT tier FROM subscriptions WHERE user_id=$1`, userID)
	if err != nil {
		return tier.Free
	}
	return tier.ParseTier(t)
}

func (s *Server) rejectQuota(c *gin.Context, userID string, t tier.Tier, limitErr *usage.LimitError) {
	RecordQuotaRejection(limitErr.Feature, string(t))
	audit.Append(c.Request.Context(), audit.Entry{
		EventType: audit.EventQuotaRejected,
		ClientIP:  ipallow.ClientIP(c.Request),
		Reason:    limitErr.Error(),
		Detail:    gin.H{"userId": userID, "feature": limitErr.Feature, "limit": limitErr.Limit, "current": limitErr.Current},
	})
	c.JSON(http.StatusTooManyRequests, gin.H{
		"error":   limitErr.Error(),
		"feature": limitErr.Feature,
		"limit":   limitErr.Limit,
		"current": limitErr.Current,
	})
}

type analyzeReq struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
}

// Analyze proxies a single-symbol analysis to the MCP backend, bracketed by
// the usage limiter: check before the call, charge only after it succeeds.
// POST /v1/analyze.
func (s *Server) Analyze(c *gin.Context) {
	userID := c.GetString("userID")
	var req analyzeReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol required"})
		return
	}
	if req.Timeframe == "" {
		req.Timeframe = "1d"
	}

	t := resolveTier(c, userID)
	if !tier.CanAccessTimeframe(t, req.Timeframe) {
		c.JSON(http.StatusForbidden, gin.H{"error": "timeframe not available on your plan", "timeframe": req.Timeframe})
		return
	}
	if err := s.limiter.CheckAnalysis(c.Request.Context(), userID, t); err != nil {
		var limitErr *usage.LimitError
		if errors.As(err, &limitErr) {
			s.rejectQuota(c, userID, t, limitErr)
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	start := time.Now()
	result, err := s.mcp.Analyze(c.Request.Context(), mcp.AnalyzeRequest{Symbol: req.Symbol, Timeframe: req.Timeframe})
	RecordExternalOp("analyze", time.Since(start), err == nil)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "analysis backend unavailable"})
		return
	}

	used, err := s.limiter.RecordAnalysis(c.Request.Context(), userID)
	if err != nil {
		// The analysis already succeeded; losing one charge beats failing
		// the request.
		used = -1
	}
	resp := gin.H{"analysis": result}
	if limit := tier.LimitsFor(t).AnalysesPerDay; limit != tier.Unlimited && used >= 0 {
		resp["usage"] = gin.H{"used": used, "limit": limit}
	}
	c.JSON(http.StatusOK, resp)
}

type scanReq struct {
	Universe  string `json:"universe"`
	Timeframe string `json:"timeframe"`
	Strategy  string `json:"strategy"`
}

// Scan proxies a universe scan, enforcing the tier's universe/timeframe
// entitlements and clamping the result list to its scan-results limit.
// POST /v1/scan.
func (s *Server) Scan(c *gin.Context) {
	userID := c.GetString("userID")
	var req scanReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Universe == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "universe required"})
		return
	}
	if req.Timeframe == "" {
		req.Timeframe = "1d"
	}

	t := resolveTier(c, userID)
	if !tier.CanAccessUniverse(t, req.Universe) {
		c.JSON(http.StatusForbidden, gin.H{"error": "universe not available on your plan", "universe": req.Universe})
		return
	}
	if !tier.CanAccessTimeframe(t, req.Timeframe) {
		c.JSON(http.StatusForbidden, gin.H{"error": "timeframe not available on your plan", "timeframe": req.Timeframe})
		return
	}
	if err := s.limiter.CheckScan(c.Request.Context(), userID, t); err != nil {
		var limitErr *usage.LimitError
		if errors.As(err, &limitErr) {
			s.rejectQuota(c, userID, t, limitErr)
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	start := time.Now()
	result, err := s.mcp.Scan(c.Request.Context(), mcp.ScanRequest{Universe: req.Universe, Timeframe: req.Timeframe, Strategy: req.Strategy})
	RecordExternalOp("scan", time.Since(start), err == nil)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "analysis backend unavailable"})
		return
	}

	truncated := false
	if max := tier.LimitsFor(t).ScanResultsLimit; max != tier.Unlimited && len(result.Results) > max {
		result.Results = result.Results[:max]
		truncated = true
	}

	used, err := s.limiter.RecordScan(c.Request.Context(), userID)
	if err != nil {
		used = -1
	}
	resp := gin.H{"results": result.Results, "truncated": truncated}
	if len(result.Meta) > 0 {
		resp["meta"] = result.Meta
	}
	if limit := tier.LimitsFor(t).ScansPerDay; limit != tier.Unlimited && used >= 0 {
		resp["usage"] = gin.H{"used": used, "limit": limit}
	}
	c.JSON(http.StatusOK, resp)
}

// GetLimits reports the caller's tier and remaining daily quotas.
// GET /v1/limits.
func (s *Server) GetLimits(c *gin.Context) {
	userID := c.GetString("userID")
	t := resolveTier(c, userID)
	quotas, err := s.limiter.Remaining(c.Request.Context(), userID, t)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	lim := tier.LimitsFor(t)
	c.JSON(http.StatusOK, gin.H{
		"tier":       t,
		"quotas":     quotas,
		"timeframes": lim.Timeframes,
		"universes":  lim.Universes,
		"features":   lim.Features,
	})
}
