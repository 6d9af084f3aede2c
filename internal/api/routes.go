package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"immoledger/server/internal/metrics"
)

func SetupRoutes(router *gin.Engine, handler *Handler, collector *metrics.Collector, origins []string) {
	corsConfig := cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept-Language", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		corsConfig.AllowOrigins = nil
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	}
	router.Use(cors.New(corsConfig))

	router.GET("/ping", handler.Ping)
	if collector != nil {
		router.GET("/metrics", gin.WrapH(collector.Handler()))
	}

	api := router.Group("/api")
	{
		api.POST("/sales", handler.CreateSale)
		api.POST("/schedules/preview", handler.PreviewSchedule)
		api.GET("/sales/:id", handler.GetSale)
		api.POST("/sales/:id/cancel", handler.CancelSale)

		api.POST("/installments/:id/pay", handler.PayInstallment)
		api.POST("/installments/:id/checkout", handler.CheckoutInstallment)

		api.GET("/agencies/:agency_id/overdue", handler.ListOverdue)
		api.GET("/agencies/:agency_id/subscription", handler.GetSubscription)
		api.GET("/agencies/:agency_id/transactions", handler.ListTransactions)

		api.GET("/plans", handler.ListPlans)
		api.POST("/checkout", handler.Checkout)
		api.GET("/transactions/:id", handler.GetTransaction)
		api.POST("/transactions/:id/refresh", handler.RefreshTransaction)

		api.POST("/webhooks/:provider", handler.Webhook)
	}
}
