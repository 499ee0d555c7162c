package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coach-chat/internal/platform/config"
	"coach-chat/internal/platform/logger"
	"coach-chat/internal/service"

	"github.com/gin-gonic/gin"
)

// Start 啟動伺服器並阻塞直到收到關閉信號
func Start(svc *service.ChatService) error {
	cfg := config.Get()

	if !config.IsDebug() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := Router(svc)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.Timeout) * time.Second,
		WriteTimeout: 0, // SSE 需要長連接，設為 0 表示不超時
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.LogInfof("伺服器正在監聽埠口: %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.LogErrorf("伺服器啟動失敗: %v", err)
			os.Exit(1)
		}
	}()

	// 等待關閉信號
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.LogInfof("收到關閉信號，正在優雅關閉伺服器...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.LogErrorf("伺服器關閉失敗: %v", err)
		return err
	}

	logger.LogInfof("伺服器已優雅關閉")
	return nil
}
