package router

import (
	"fmt"
	"strings"

	"github.com/tickrace/tickrace-sub001/internal/cache"
	"github.com/tickrace/tickrace-sub001/internal/config"
	"github.com/tickrace/tickrace-sub001/internal/constants"
	apihandlers "github.com/tickrace/tickrace-sub001/internal/http/handlers/api"
	"github.com/tickrace/tickrace-sub001/internal/http/response"
	"github.com/tickrace/tickrace-sub001/internal/logger"
	"github.com/tickrace/tickrace-sub001/internal/provider"

	"github.com/gin-gonic/gin"
)

// SetupRouter wires middleware and routes.
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	log := logger.L
	if log == nil {
		log = logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	}
	r := gin.New()

	handler := apihandlers.New(c)
	redisPrefix := strings.TrimSpace(cfg.Redis.Prefix)
	if redisPrefix == "" {
		redisPrefix = "tr"
	}
	redisClient := cache.Client()
	refundRule := RateLimitRule{
		Prefix:        fmt.Sprintf("%s:rate:refund", redisPrefix),
		WindowSeconds: cfg.Security.RefundRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.RefundRateLimit.MaxAttempts,
		Message:       "too many refund requests",
	}

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware(cfg.CORS))

	r.GET("/health", func(ctx *gin.Context) {
		response.Success(ctx, gin.H{"status": "ok"})
	})

	// Invoice documents rendered to disk.
	if cfg.Billing.DocumentDir != "" {
		r.Static("/documents", cfg.Billing.DocumentDir)
	}

	apiV1 := r.Group("/api/v1")
	{
		// Runner-facing refund endpoints.
		user := apiV1.Group("")
		user.Use(UserAuthMiddleware(c.CredentialService))
		{
			user.POST("/registrations/:id/refund", RateLimitMiddleware(redisClient, refundRule, KeyByUserID), handler.Refund)
			user.POST("/groups/:id/refund", RateLimitMiddleware(redisClient, refundRule, KeyByUserID), handler.TeamRefund)
		}

		// Internal callers reconciling processor fees.
		feeSync := apiV1.Group("")
		feeSync.Use(ServiceAuthMiddleware(c.CredentialService, constants.ScopeFeeSync))
		{
			feeSync.POST("/payments/:id/sync-fees", handler.SyncFees)
		}

		// Organizer ledger, readable by runners and back-office callers.
		ledger := apiV1.Group("")
		ledger.Use(UserOrServiceAuthMiddleware(c.CredentialService, constants.ScopeBilling))
		{
			ledger.GET("/organizers/:id/ledger", handler.Ledger)
		}

		// Back-office billing and reporting.
		billing := apiV1.Group("")
		billing.Use(ServiceAuthMiddleware(c.CredentialService, constants.ScopeBilling))
		{
			billing.GET("/organizers/:id/invoices", handler.ListInvoices)
			billing.POST("/invoices/generate", handler.GenerateInvoice)
			billing.GET("/invoices/:id", handler.GetInvoice)
		}
	}

	return r
}
