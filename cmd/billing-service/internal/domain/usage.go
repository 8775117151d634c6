package domain

import "time"

// 使用量记录的服务标签
const (
	ServiceTagChatStreaming        = "chat-streaming"
	ServiceTagChatStreamingAborted = "chat-streaming-aborted"
	ServiceTagChatStreamingExpired = "chat-streaming-expired"

	// ServiceTagRefundPending 退款批次写入失败后的对账标记，
	// Credits 字段记录待补发的额度
	ServiceTagRefundPending = "credit-refund-pending"
)

// UsageRecord 结算后的使用量记录，仅用于对账与看板，不参与账本一致性
type UsageRecord struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	OwnerID    string    `gorm:"size:64;not null;index" json:"owner_id"`
	SessionID  string    `gorm:"size:64;index" json:"session_id"`
	Service    string    `gorm:"size:64;not null" json:"service"`
	Operation  string    `gorm:"size:64;not null" json:"operation"`
	ModelID    string    `gorm:"size:128" json:"model_id"`
	Tokens     int       `json:"tokens"`
	Credits    int       `gorm:"not null" json:"credits"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName 指定表名
func (UsageRecord) TableName() string {
	return "usage_records"
}
