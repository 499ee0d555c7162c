package server

import (
	"time"

	"coach-chat/internal/constants"
	"coach-chat/internal/delivery"
	"coach-chat/internal/httputil"
	"coach-chat/internal/platform/config"

	"github.com/gin-gonic/gin"
)

// streamEvents 使用 SSE 流式推送對話串事件
// 推送是盡力而為，漏接的事件由客戶端下次拉取歷史補償
func (h *handlers) streamEvents(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	session, err := h.svc.Subscribe(c.Request.Context(), caller, c.Param("thread_id"), c.Query("connection_id"))
	if err != nil {
		httputil.WriteError(c, err)
		return
	}
	defer h.svc.Unsubscribe(session)

	setupSSEHeaders(c, session)
	handleSSELoop(c, session)
}

// setupSSEHeaders 設置 SSE headers 並送出連線確認
func setupSSEHeaders(c *gin.Context, session *delivery.Session) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent("connected", gin.H{
		"status":        "ok",
		"connection_id": session.ConnectionID,
	})
	c.Writer.Flush()
}

// handleSSELoop 處理 SSE 循環
func handleSSELoop(c *gin.Context, session *delivery.Session) {
	cfg := config.Get()
	heartbeatInterval := constants.DefaultSSEHeartbeatInterval
	if cfg != nil && cfg.Limits.SSE.HeartbeatInterval > 0 {
		heartbeatInterval = cfg.Limits.SSE.HeartbeatInterval
	}

	ticker := time.NewTicker(time.Duration(heartbeatInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return

		case <-ticker.C:
			c.SSEvent("ping", gin.H{"timestamp": time.Now().Unix()})
			c.Writer.Flush()

		case event, open := <-session.Events:
			// 同一用戶在別處重新訂閱時舊 session 會被關閉
			if !open {
				return
			}
			c.SSEvent(event.Type, event)
			c.Writer.Flush()
		}
	}
}
