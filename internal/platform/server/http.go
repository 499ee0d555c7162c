package server

import (
	"strconv"
	"time"

	"coach-chat/internal/constants"
	"coach-chat/internal/httputil"
	"coach-chat/internal/platform/config"
	"coach-chat/internal/platform/health"
	"coach-chat/internal/platform/middleware"
	"coach-chat/internal/service"
	"coach-chat/internal/storage/database/chatstore"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// securityHeadersMiddleware 添加安全標頭
func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 防止點擊劫持
		c.Header("X-Frame-Options", "DENY")

		// 防止 MIME 類型嗅探
		c.Header("X-Content-Type-Options", "nosniff")

		// 內容安全策略
		c.Header("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none';")

		// 推薦政策
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		c.Next()
	}
}

// handlers 持有 HTTP 層依賴的聊天服務
type handlers struct {
	svc *service.ChatService
}

// Router 設定路由
func Router(svc *service.ChatService) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// 添加請求 ID 中間件（最優先）
	r.Use(middleware.RequestIDMiddleware())

	// 添加安全標頭中間件
	r.Use(securityHeadersMiddleware())

	// 添加請求元數據中間件（提取 IP、User-Agent、呼叫者身份）
	r.Use(middleware.RequestMetadataMiddleware())

	cfg := config.Get()

	// 創建 Rate Limiter
	defaultLimit := constants.DefaultRateLimitPerMinute
	if cfg != nil && cfg.Limits.RateLimiting.DefaultPerMinute > 0 {
		defaultLimit = cfg.Limits.RateLimiting.DefaultPerMinute
	}
	rateLimiter := middleware.NewPerEndpointRateLimiter(defaultLimit)

	// 為不同端點設置不同的速率限制
	if cfg != nil && cfg.Limits.RateLimiting.Enabled {
		if cfg.Limits.RateLimiting.MessagesPerMin > 0 {
			rateLimiter.SetLimit("/api/v1/threads/:thread_id/messages", cfg.Limits.RateLimiting.MessagesPerMin)
		}
		if cfg.Limits.RateLimiting.ThreadsPerMin > 0 {
			rateLimiter.SetLimit("/api/v1/threads", cfg.Limits.RateLimiting.ThreadsPerMin)
		}
		if cfg.Limits.RateLimiting.SSEPerMin > 0 {
			rateLimiter.SetLimit("/api/v1/threads/:thread_id/stream", cfg.Limits.RateLimiting.SSEPerMin)
		}
		r.Use(rateLimiter.Middleware())
	}

	// 創建 SSE 連接限制器
	sseMaxPerIP := constants.DefaultSSEMaxConnectionsPerIP
	sseInterval := constants.DefaultSSEMinConnectionInterval
	sseMaxTotal := constants.DefaultSSEMaxTotalConnections
	if cfg != nil {
		if cfg.Limits.SSE.MaxConnectionsPerIP > 0 {
			sseMaxPerIP = cfg.Limits.SSE.MaxConnectionsPerIP
		}
		if cfg.Limits.SSE.MinConnectionInterval > 0 {
			sseInterval = cfg.Limits.SSE.MinConnectionInterval
		}
		if cfg.Limits.SSE.MaxTotalConnections > 0 {
			sseMaxTotal = cfg.Limits.SSE.MaxTotalConnections
		}
	}
	sseLimiter := middleware.NewSSEConnectionLimiter(sseMaxPerIP, time.Duration(sseInterval)*time.Second, sseMaxTotal)

	h := &handlers{svc: svc}
	healthHandler := health.NewHealthHandler()

	// health check 與指標
	r.GET("/health", healthHandler.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 對話串 API
	r.POST("/api/v1/threads", h.createThread)
	r.GET("/api/v1/threads", h.listThreads)
	r.GET("/api/v1/threads/:thread_id", h.getThread)
	r.PUT("/api/v1/threads/:thread_id/archive", h.archiveThread)
	r.POST("/api/v1/threads/:thread_id/participants", h.addParticipant)
	r.DELETE("/api/v1/threads/:thread_id/participants/:user_id", h.removeParticipant)
	r.POST("/api/v1/threads/:thread_id/videos", h.addVideoResponse)
	r.GET("/api/v1/threads/:thread_id/unread", h.unreadCount)
	r.POST("/api/v1/threads/:thread_id/typing", h.setTyping)

	// 訊息 API
	r.POST("/api/v1/threads/:thread_id/messages", h.sendMessage)
	r.GET("/api/v1/threads/:thread_id/messages", h.getMessages)
	r.DELETE("/api/v1/threads/:thread_id/messages/:message_id", h.deleteMessage)
	r.PUT("/api/v1/threads/:thread_id/messages/:message_id/delivered", h.markDelivered)
	r.PUT("/api/v1/threads/:thread_id/messages/:message_id/read", h.markRead)
	r.POST("/api/v1/threads/:thread_id/messages/:message_id/reactions", h.addReaction)

	// SSE endpoint - 應用額外的連接限制
	r.GET("/api/v1/threads/:thread_id/stream", sseLimiter.Middleware(), h.streamEvents)

	return r
}

// callerFrom 從請求標頭提取呼叫者身份
// 身份驗證由上游閘道完成，這裡只消費結果
func callerFrom(c *gin.Context) (service.Caller, bool) {
	meta := middleware.GetRequestMetadataFromGin(c)
	if meta == nil || meta.CallerID == "" {
		httputil.BadRequest(c, "缺少 "+middleware.CallerIDHeader+" 標頭")
		return service.Caller{}, false
	}
	if err := middleware.ValidateUserID(meta.CallerID); err != nil {
		httputil.BadRequest(c, err.Error())
		return service.Caller{}, false
	}
	return service.Caller{ID: meta.CallerID, Role: meta.CallerRole}, true
}

// pageParams 解析分頁參數
func pageParams(c *gin.Context) (limit int, cursor string) {
	cursor = c.Query("cursor")
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil {
			limit = parsed
		}
	}
	return limit, cursor
}

// 創建對話串
func (h *handlers) createThread(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	var req struct {
		Title        string `json:"title"`
		Kind         string `json:"kind"`
		Participants []struct {
			UserID string `json:"user_id"`
			Role   string `json:"role"`
		} `json:"participants"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "無效的請求格式")
		return
	}

	participants := make([]chatstore.Participant, len(req.Participants))
	for i, p := range req.Participants {
		participants[i] = chatstore.Participant{UserID: p.UserID, Role: p.Role}
	}

	thread, err := h.svc.CreateThread(c.Request.Context(), caller, service.CreateThreadInput{
		Title:        middleware.SanitizeInput(req.Title),
		Kind:         req.Kind,
		Participants: participants,
	})
	if err != nil {
		httputil.WriteError(c, err)
		return
	}

	c.JSON(201, httputil.NewSuccessResponse("對話串創建成功", thread))
}

// 列出呼叫者的對話串
func (h *handlers) listThreads(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	limit, cursor := pageParams(c)
	filter := chatstore.ThreadFilter{Kind: c.Query("kind")}
	if archivedStr := c.Query("archived"); archivedStr != "" {
		archived := archivedStr == "true"
		filter.IsArchived = &archived
	}

	threads, nextCursor, hasMore, err := h.svc.ListThreads(c.Request.Context(), caller, limit, cursor, filter)
	if err != nil {
		httputil.WriteError(c, err)
		return
	}

	c.JSON(200, httputil.NewPagedResponse(threads, nextCursor, hasMore))
}

// 獲取單一對話串
func (h *handlers) getThread(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	thread, err := h.svc.GetThread(c.Request.Context(), caller, c.Param("thread_id"))
	if err != nil {
		httputil.WriteError(c, err)
		return
	}

	c.JSON(200, httputil.NewSuccessResponse("", thread))
}

// 封存對話串
func (h *handlers) archiveThread(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	if err := h.svc.ArchiveThread(c.Request.Context(), caller, c.Param("thread_id")); err != nil {
		httputil.WriteError(c, err)
		return
	}

	c.JSON(200, httputil.Success("對話串已封存"))
}

// 添加參與者
func (h *handlers) addParticipant(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	var req struct {
		UserID string `json:"user_id"`
		Role   string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "無效的請求格式")
		return
	}

	if err := h.svc.AddParticipant(c.Request.Context(), caller, c.Param("thread_id"), req.UserID, req.Role); err != nil {
		httputil.WriteError(c, err)
		return
	}

	c.JSON(200, httputil.Success("參與者添加成功"))
}

// 移除參與者
func (h *handlers) removeParticipant(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	if err := h.svc.RemoveParticipant(c.Request.Context(), caller, c.Param("thread_id"), c.Param("user_id")); err != nil {
		httputil.WriteError(c, err)
		return
	}

	c.JSON(200, httputil.Success("參與者移除成功"))
}

// 附加影片回覆
func (h *handlers) addVideoResponse(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	var req struct {
		VideoID   string  `json:"video_id"`
		Thumbnail string  `json:"thumbnail"`
		Duration  float64 `json:"duration"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "無效的請求格式")
		return
	}

	err := h.svc.AddVideoResponse(c.Request.Context(), caller, c.Param("thread_id"), &chatstore.VideoResponse{
		VideoID:   req.VideoID,
		Thumbnail: req.Thumbnail,
		Duration:  req.Duration,
	})
	if err != nil {
		httputil.WriteError(c, err)
		return
	}

	c.JSON(200, httputil.Success("影片回覆已附加"))
}

// 未讀訊息數
func (h *handlers) unreadCount(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	count, err := h.svc.UnreadCount(c.Request.Context(), caller, c.Param("thread_id"))
	if err != nil {
		httputil.WriteError(c, err)
		return
	}

	c.JSON(200, gin.H{"success": true, "unread_count": count})
}

// 輸入中狀態
func (h *handlers) setTyping(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	var req struct {
		IsTyping bool `json:"is_typing"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "無效的請求格式")
		return
	}

	if err := h.svc.SetTyping(c.Request.Context(), caller, c.Param("thread_id"), req.IsTyping); err != nil {
		httputil.WriteError(c, err)
		return
	}

	c.JSON(200, httputil.Success("輸入中狀態已更新"))
}

// 發送訊息
func (h *handlers) sendMessage(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	var req struct {
		ID       string                    `json:"id"`
		Type     string                    `json:"type"`
		Content  string                    `json:"content"`
		Metadata chatstore.MessageMetadata `json:"metadata"`
		ReplyTo  string                    `json:"reply_to"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "無效的請求格式")
		return
	}

	message, err := h.svc.SendMessage(c.Request.Context(), caller, service.SendMessageInput{
		ID:       req.ID,
		ThreadID: c.Param("thread_id"),
		Type:     req.Type,
		Content:  req.Content,
		Metadata: req.Metadata,
		ReplyTo:  req.ReplyTo,
	})
	if err != nil {
		httputil.WriteError(c, err)
		return
	}

	c.JSON(201, httputil.NewSuccessResponse("訊息發送成功", message))
}

// 獲取訊息歷史
func (h *handlers) getMessages(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	limit, cursor := pageParams(c)
	messages, nextCursor, hasMore, err := h.svc.GetMessages(c.Request.Context(), caller, c.Param("thread_id"), limit, cursor)
	if err != nil {
		httputil.WriteError(c, err)
		return
	}

	c.JSON(200, httputil.NewPagedResponse(messages, nextCursor, hasMore))
}

// 刪除訊息（軟刪除）
func (h *handlers) deleteMessage(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	if err := h.svc.DeleteMessage(c.Request.Context(), caller, c.Param("thread_id"), c.Param("message_id")); err != nil {
		httputil.WriteError(c, err)
		return
	}

	c.JSON(200, httputil.Success("訊息已刪除"))
}

// 送達回執
func (h *handlers) markDelivered(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	if err := h.svc.MarkDelivered(c.Request.Context(), caller, c.Param("thread_id"), c.Param("message_id")); err != nil {
		httputil.WriteError(c, err)
		return
	}

	c.JSON(200, httputil.Success("送達回執已記錄"))
}

// 已讀回執
func (h *handlers) markRead(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	if err := h.svc.MarkRead(c.Request.Context(), caller, c.Param("thread_id"), c.Param("message_id")); err != nil {
		httputil.WriteError(c, err)
		return
	}

	c.JSON(200, httputil.Success("已讀回執已記錄"))
}

// 表情反應（重複提交同一 emoji 視為取消）
func (h *handlers) addReaction(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "無效的請求格式")
		return
	}

	added, err := h.svc.AddReaction(c.Request.Context(), caller, c.Param("thread_id"), c.Param("message_id"), req.Emoji)
	if err != nil {
		httputil.WriteError(c, err)
		return
	}

	c.JSON(200, gin.H{"success": true, "added": added})
}
