package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"coach-chat/internal/constants"
	"coach-chat/internal/delivery"
	"coach-chat/internal/platform/config"
	"coach-chat/internal/platform/driver"
	"coach-chat/internal/platform/logger"
	"coach-chat/internal/platform/server"
	"coach-chat/internal/service"
	"coach-chat/internal/storage/database"

	"github.com/joho/godotenv"
)

func main() {
	if err := mainNoExit(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// mainNoExit 分離主要邏輯以避免 exitAfterDefer 問題，確保 defer 函數正常執行.
func mainNoExit() error {
	// 載入 .env（不存在時沿用進程環境變量）
	_ = godotenv.Load()

	// 初始化日誌.
	if err := logger.InitLogger(); err != nil {
		return err
	}
	defer logger.CloseLogger()

	ctx := context.Background()

	// 載入配置.
	if err := config.Load(); err != nil {
		return err
	}
	cfg := config.Get()
	logger.Infof(ctx, "設定載入成功，環境: %s", config.GetEnv())

	// 連接資料庫.
	if err := driver.ConnectMongo(); err != nil {
		return err
	}
	defer func() {
		if err := driver.CloseMongo(); err != nil {
			logger.Errorf(ctx, "關閉 MongoDB 連接失敗: %v", err)
		}
	}()

	// 初始化 Repository.
	repos := database.NewRepositories(driver.GetMongoDatabase())

	// 初始化事件中樞與輸入中追蹤器
	hubOpts := []delivery.HubOption{}
	if cfg.Limits.Message.ChannelBuffer > 0 {
		hubOpts = append(hubOpts, delivery.WithBuffer(cfg.Limits.Message.ChannelBuffer))
	}
	if cfg.Limits.Delivery.FanoutTimeoutMS > 0 {
		hubOpts = append(hubOpts, delivery.WithPushTimeout(time.Duration(cfg.Limits.Delivery.FanoutTimeoutMS)*time.Millisecond))
	}
	hub := delivery.NewHub(hubOpts...)

	typingTTL := time.Duration(constants.DefaultTypingTTLSeconds) * time.Second
	if cfg.Limits.Delivery.TypingTTLSeconds > 0 {
		typingTTL = time.Duration(cfg.Limits.Delivery.TypingTTLSeconds) * time.Second
	}
	typing := delivery.NewTypingTracker(hub, typingTTL)

	// 組裝聊天服務
	auditEnabled := os.Getenv("AUDIT_ENABLED") != "false"
	svc := service.NewChatService(
		repos.Thread,
		repos.Message,
		hub,
		typing,
		service.NewLogNotifier(),
		service.NewAuditService(auditEnabled),
	)

	logger.Info(ctx, "[System] 服務初始化完成")

	// 啟動 HTTP 服務器並阻塞至關閉
	return server.Start(svc)
}
