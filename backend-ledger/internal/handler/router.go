package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/ticket-ledger/pkg/middleware"
)

// RouterConfig wires the cross-cutting middleware of the ledger API
type RouterConfig struct {
	// JWT guards operator routes; nil leaves them unregistered
	JWT *middleware.JWTConfig
	// OperatorLimiter throttles operator routes per token subject
	OperatorLimiter   middleware.Limiter
	OperatorRateLimit middleware.RateLimitConfig
	// Audit records mutating requests; nil disables auditing
	Audit       *middleware.AuditLogger
	CORSOrigins []string
}

// RegisterRoutes mounts the ledger API on r
func RegisterRoutes(r *gin.Engine, h *LedgerHandler, cfg RouterConfig) {
	r.Use(middleware.RequestID(), middleware.CORS(cfg.CORSOrigins...))
	r.GET("/health", h.Health)

	v1 := r.Group("/api/v1")
	if cfg.Audit != nil {
		v1.Use(middleware.AuditMiddleware(cfg.Audit))
	}

	transactions := v1.Group("/transactions")
	{
		transactions.POST("", h.SubmitTransaction)
		transactions.GET("", h.ListTransactions)
		transactions.GET("/:id", h.GetTransaction)
	}

	v1.GET("/accounts/:address", h.GetAccount)
	v1.GET("/derive/:kind", h.Derive)

	if cfg.JWT == nil {
		return
	}

	operator := v1.Group("")
	operator.Use(middleware.JWTMiddleware(cfg.JWT), middleware.RequireRole(middleware.RoleOperator))
	if cfg.OperatorLimiter != nil {
		rl := cfg.OperatorRateLimit
		rl.KeyFunc = func(c *gin.Context) string {
			subject, _ := middleware.GetSubject(c)
			return subject
		}
		operator.Use(middleware.RateLimiter(cfg.OperatorLimiter, rl))
	}
	{
		operator.POST("/airdrop", h.Airdrop)
		operator.GET("/journal/verify", h.VerifyJournal)
	}
}
