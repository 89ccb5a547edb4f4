package api

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fibscan/fibscan-backend/internal/audit"
	"github.com/fibscan/fibscan-backend/internal/auth"
	"github.com/fibscan/fibscan-backend/internal/ipallow"
)

type issueTokenReq struct {
	Service string   `json:"service"`
	Scopes  []string `json:"scopes"`
}

// IssueServiceToken mints a short-lived HS256 token for a known internal
// service. POST /internal/token/issue. The route group already enforces the
// IP allowlist; this handler owns validation and issuance.
func (s *Server) IssueServiceToken(c *gin.Context) {
	var req issueTokenReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "service and scopes required"})
		return
	}

	identity, err := auth.ParseIdentity(req.Service)
	if err != nil {
		RecordTokenIssue(req.Service, false)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	scopes, err := auth.ParseScopes(req.Scopes)
	if err != nil {
		RecordTokenIssue(req.Service, false)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, claims, err := s.tokens.Issue(identity, scopes)
	if err != nil {
		RecordTokenIssue(req.Service, false)
		var cfgErr *auth.ConfigError
		if errors.As(err, &cfgErr) {
			log.Printf("token issuance unavailable: %v", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "token signing not configured"})
			return
		}
		var unk *auth.UnknownIdentifierError
		if errors.As(err, &unk) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	audit.Append(c.Request.Context(), audit.Entry{
		EventType: audit.EventTokenIssued,
		Service:   string(identity),
		ClientIP:  ipallow.ClientIP(c.Request),
		Detail:    gin.H{"scopes": req.Scopes},
	})
	RecordTokenIssue(req.Service, true)
	// Expiry is reported from the claims that were actually signed, not a
	// second clock read.
	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"expiresIn": int(claims.ExpiresAt.Sub(claims.IssuedAt.Time).Seconds()),
		"expiresAt": claims.ExpiresAt.Time.UTC().Format(time.RFC3339),
	})
}
