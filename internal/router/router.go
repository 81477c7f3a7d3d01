package router

import (
	"github.com/KOPOData2025/HanaChain-sub001/internal/handler"
	"github.com/KOPOData2025/HanaChain-sub001/internal/logic"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func Setup(db *gorm.DB, campaignLogic *logic.CampaignChainLogic, donationLogic *logic.DonationChainLogic, syncLogic *logic.SyncLogic) *gin.Engine {
	r := gin.Default()

	// 中间件
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "donation-chain-service",
		})
	})

	// API版本组
	v1 := r.Group("/api/v1")
	{
		chainHandler := handler.NewChainHandler(db, campaignLogic, donationLogic, syncLogic)

		// 活动链上操作
		campaigns := v1.Group("/campaigns")
		{
			campaigns.POST("/:id/chain", chainHandler.DeployCampaign)
			campaigns.POST("/:id/chain/retry", chainHandler.RetryCampaign)
			campaigns.POST("/:id/chain/finalize", chainHandler.FinalizeCampaign)
			campaigns.POST("/:id/chain/sync", chainHandler.SyncCampaign)
			campaigns.GET("/:id/chain", chainHandler.GetChainStatus)
			campaigns.GET("/:id/chain/transactions", chainHandler.GetCampaignTransactions)
		}

		// 捐赠链上操作
		donations := v1.Group("/donations")
		{
			donations.POST("/:id/chain", chainHandler.DeployDonation)
		}
	}

	return r
}

// CORS中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
