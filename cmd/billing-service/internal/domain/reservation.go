package domain

import "time"

// ReservationState 预留状态
type ReservationState string

const (
	ReservationActive    ReservationState = "active"    // 额度已扣，流式会话进行中
	ReservationCompleted ReservationState = "completed" // 正常结算
	ReservationFailed    ReservationState = "failed"    // 失败或中断结算
)

// Reservation 一次计量型流式会话的信用点预留
//
// 状态机：Active -> Completed（Finalize 成功）或 Active -> Failed（Abort/失败的
// Finalize），两者均为终态。Active 期间账本中恰好扣除 ReservedCredits；关闭后
// 账本净扣除 UsedCredits，差额以新批次形式退还。
type Reservation struct {
	SessionID        string           `gorm:"primaryKey;size:64" json:"session_id"`
	OwnerID          string           `gorm:"size:64;not null;index:idx_reservations_owner_state,priority:1" json:"owner_id"`
	ModelID          string           `gorm:"size:128;not null" json:"model_id"`
	EstimatedTokens  int              `gorm:"not null" json:"estimated_tokens"`
	EstimatedCredits int              `gorm:"not null" json:"estimated_credits"`
	ReservedCredits  int              `gorm:"not null" json:"reserved_credits"`
	UsedCredits      int              `gorm:"not null;default:0" json:"used_credits"`
	State            ReservationState `gorm:"size:16;not null;index:idx_reservations_owner_state,priority:2;index:idx_reservations_state_started,priority:1" json:"state"`
	StartedAt        time.Time        `gorm:"index:idx_reservations_state_started,priority:2" json:"started_at"`
	ClosedAt         *time.Time       `gorm:"index" json:"closed_at,omitempty"`
}

// TableName 指定表名
func (Reservation) TableName() string {
	return "reservations"
}

// IsActive 是否仍在进行中
func (r *Reservation) IsActive() bool {
	return r.State == ReservationActive
}

// Duration 会话时长；仍在进行中的会话相对 now 计算
func (r *Reservation) Duration(now time.Time) time.Duration {
	if r.ClosedAt != nil {
		return r.ClosedAt.Sub(r.StartedAt)
	}
	return now.Sub(r.StartedAt)
}
