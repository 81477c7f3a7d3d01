package main

import (
	"time"

	"github.com/KOPOData2025/HanaChain-sub001/internal/chain"
	"github.com/KOPOData2025/HanaChain-sub001/internal/config"
	"github.com/KOPOData2025/HanaChain-sub001/internal/database"
	"github.com/KOPOData2025/HanaChain-sub001/internal/logger"
	"github.com/KOPOData2025/HanaChain-sub001/internal/logic"
	"github.com/KOPOData2025/HanaChain-sub001/internal/router"
	"github.com/KOPOData2025/HanaChain-sub001/internal/task"
	"github.com/gin-gonic/gin"
	"github.com/panjf2000/ants/v2"
)

func main() {
	// 加载配置
	cfg := config.Load()

	// 初始化日志
	logLevel := logger.ParseLogLevel(cfg.Log.Level)
	var appLogger *logger.Logger
	var logErr error
	if cfg.Log.Output == "file" {
		appLogger, logErr = logger.NewWithFileRotation(logLevel, cfg.Log.File)
	} else {
		appLogger, logErr = logger.New(logLevel)
	}
	if logErr != nil {
		logger.Fatal("Failed to initialize logger: %v", logErr)
	}
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// 初始化数据库
	db, err := database.Init(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to initialize database: %v", err)
	}

	// 初始化链上客户端
	chainClient, err := chain.NewClient(cfg.Chain)
	if err != nil {
		logger.Fatal("Failed to initialize chain client: %v", err)
	}
	defer chainClient.Close()

	// 链上任务协程池
	pool, err := ants.NewPool(cfg.Worker.PoolSize)
	if err != nil {
		logger.Fatal("Failed to create worker pool: %v", err)
	}
	defer pool.Release()

	// 初始化业务编排
	donationLogic := logic.NewDonationChainLogic(db, chainClient, pool)
	decoder, err := chain.NewEventDecoder(donationLogic)
	if err != nil {
		logger.Fatal("Failed to create event decoder: %v", err)
	}
	campaignLogic := logic.NewCampaignChainLogic(db, chainClient, decoder, pool)
	syncLogic := logic.NewSyncLogic(db, chainClient, decoder)

	// 启动定时任务
	taskManager, err := task.NewManager()
	if err != nil {
		logger.Fatal("Failed to create task manager: %v", err)
	}
	taskManager.Register(task.NewChainMonitorJob(campaignLogic,
		time.Duration(cfg.Task.MonitorInterval)*time.Second, chainClient.ConfirmTimeout()))
	taskManager.Register(task.NewCampaignSyncJob(syncLogic,
		time.Duration(cfg.Task.SyncInterval)*time.Second))
	if err := taskManager.Start(); err != nil {
		logger.Fatal("Failed to start task manager: %v", err)
	}
	defer taskManager.Stop()

	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 初始化路由
	r := router.Setup(db, campaignLogic, donationLogic, syncLogic)

	// 启动服务器
	logger.Info("Server starting on port %s", cfg.Server.Port)
	if err := r.Run(":" + cfg.Server.Port); err != nil {
		logger.Fatal("Failed to start server: %v", err)
	}
}
