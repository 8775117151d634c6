package domain

import "time"

// CreditLot 一次发放的信用点批次，带独立过期时间
// 余额永远是派生值：所有未过期且未耗尽批次的 RemainingCredits 之和。
type CreditLot struct {
	ID               string    `gorm:"primaryKey;size:36" json:"id"`
	OwnerID          string    `gorm:"size:64;not null;index:idx_credit_lots_owner_expiry,priority:1" json:"owner_id"`
	TotalCredits     int       `gorm:"not null" json:"total_credits"`
	RemainingCredits int       `gorm:"not null" json:"remaining_credits"`
	GrantedBy        string    `gorm:"size:64" json:"granted_by"`
	GrantedAt        time.Time `json:"granted_at"`
	ExpiresAt        time.Time `gorm:"not null;index:idx_credit_lots_owner_expiry,priority:2" json:"expires_at"`
	Notes            string    `gorm:"size:512" json:"notes,omitempty"`
}

// TableName 指定表名
func (CreditLot) TableName() string {
	return "credit_lots"
}

// Live 批次是否仍可消费（未过期且未耗尽）
func (l *CreditLot) Live(now time.Time) bool {
	return l.RemainingCredits > 0 && l.ExpiresAt.After(now)
}

// Summary 转换为余额查询返回的摘要
func (l *CreditLot) Summary() LotSummary {
	return LotSummary{
		LotID:     l.ID,
		Remaining: l.RemainingCredits,
		Total:     l.TotalCredits,
		GrantedBy: l.GrantedBy,
		ExpiresAt: l.ExpiresAt,
	}
}

// LotSummary 余额查询中单个批次的摘要
type LotSummary struct {
	LotID     string    `json:"lot_id"`
	Remaining int       `json:"remaining"`
	Total     int       `json:"total"`
	GrantedBy string    `json:"granted_by"`
	ExpiresAt time.Time `json:"expires_at"`
}

// BalanceSnapshot 某一时刻的余额快照，缓存用
type BalanceSnapshot struct {
	Balance int          `json:"balance"`
	Lots    []LotSummary `json:"lots"`
}

// OwnerAccount 记账主体，由 FindOrCreateOwner 按需建立
type OwnerAccount struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName 指定表名
func (OwnerAccount) TableName() string {
	return "owner_accounts"
}
