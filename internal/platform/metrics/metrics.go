package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// MessagesSent 成功寫入的訊息總數
	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Total number of messages persisted, by message type.",
		},
		[]string{"type"},
	)

	// MessagesDuplicate 去重命中的訊息總數（客戶端重送）
	MessagesDuplicate = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_duplicate_total",
			Help: "Total number of send requests that matched an existing message ID.",
		},
	)

	// ReceiptsRecorded 送達/已讀回執總數
	ReceiptsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_receipts_recorded_total",
			Help: "Total number of delivery and read receipts recorded.",
		},
		[]string{"kind"},
	)

	// EventsDelivered 透過串流成功推送的事件總數
	EventsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_events_delivered_total",
			Help: "Total number of events pushed to live sessions, by event type.",
		},
		[]string{"event"},
	)

	// EventsDropped 因 session 緩衝滿而丟棄的事件總數
	EventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_events_dropped_total",
			Help: "Total number of events dropped because a session buffer was full.",
		},
	)

	// ActiveSessions 當前訂閱中的串流 session 數
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_active_sessions",
			Help: "Number of live stream sessions currently subscribed.",
		},
	)

	// SendLatency 訊息寫入延遲
	SendLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_send_duration_seconds",
			Help:    "Latency of message send operations.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(MessagesSent)
	prometheus.MustRegister(MessagesDuplicate)
	prometheus.MustRegister(ReceiptsRecorded)
	prometheus.MustRegister(EventsDelivered)
	prometheus.MustRegister(EventsDropped)
	prometheus.MustRegister(ActiveSessions)
	prometheus.MustRegister(SendLatency)
}
