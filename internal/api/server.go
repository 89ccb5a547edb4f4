package api

import (
	"github.com/fibscan/fibscan-backend/internal/auth"
	"github.com/fibscan/fibscan-backend/internal/config"
	"github.com/fibscan/fibscan-backend/internal/ipallow"
	"github.com/fibscan/fibscan-backend/internal/mcp"
	"github.com/fibscan/fibscan-backend/internal/usage"
)

// Server bundles the constructed dependencies the handlers need. Everything
// here is built once in main and read-only afterwards; the database pool
// stays the package-global database.DB.
type Server struct {
	cfg     *config.Config
	tokens  *auth.TokenService
	allow   *ipallow.Allowlist
	limiter *usage.Limiter
	mcp     *mcp.Client
}

func NewServer(cfg *config.Config, tokens *auth.TokenService, allow *ipallow.Allowlist, limiter *usage.Limiter, mcpClient *mcp.Client) *Server {
	return &Server{cfg: cfg, tokens: tokens, allow: allow, limiter: limiter, mcp: mcpClient}
}
