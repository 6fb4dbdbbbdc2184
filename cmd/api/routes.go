package main

import (
	"github.com/gin-gonic/gin"

	"cashback-platform/internal/httpapi"
	"cashback-platform/internal/rbac"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		// WALLET routes. Direct credit/debit is a back-office operation;
		// settlement flows go through order transitions.
		wallets := v1.Group("/wallets")
		{
			wallets.GET("/:owner_id/balance", h.GetWalletBalance)
			wallets.GET("/:owner_id/transactions", h.ListTransactions)
			wallets.POST("/credit",
				rbac.RequireAnyRole(rbac.RoleFinance), h.ApplyCredit)
			wallets.POST("/debit",
				rbac.RequireAnyRole(rbac.RoleFinance), h.ApplyDebit)
		}

		// ORDER routes
		orders := v1.Group("/orders")
		{
			orders.POST("",
				rbac.RequireAnyRole(rbac.RoleShopper, rbac.RoleMediator), h.CreateOrder)
			orders.GET("/:order_id", h.GetOrder)
			orders.POST("/:order_id/transition",
				rbac.RequireAnyRole(rbac.RoleMediator, rbac.RoleAgency, rbac.RoleBrand, rbac.RoleFinance), h.TransitionOrder)
			orders.DELETE("/:order_id",
				rbac.RequireAnyRole(rbac.RoleFinance), h.ArchiveOrder)
		}

		// ADMIN routes
		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleFinance))
		{
			admin.POST("/replication/resync", h.ResyncAfterBulkUpdate)
		}
	}
}
