package service

import (
	"context"
	"time"

	"chatpilot/cmd/billing-service/internal/biz"
	"chatpilot/cmd/billing-service/internal/domain"
)

// BillingService 计费服务门面，负责用例编排与 DTO 转换
type BillingService struct {
	ledger       *biz.LedgerUsecase
	reservations *biz.ReservationUsecase
	pricing      *biz.PricingCalculator
}

// NewBillingService 创建计费服务
func NewBillingService(
	ledger *biz.LedgerUsecase,
	reservations *biz.ReservationUsecase,
	pricing *biz.PricingCalculator,
) *BillingService {
	return &BillingService{
		ledger:       ledger,
		reservations: reservations,
		pricing:      pricing,
	}
}

// BalanceReply 余额查询响应
type BalanceReply struct {
	OwnerID string              `json:"owner_id"`
	Balance int                 `json:"balance"`
	Lots    []domain.LotSummary `json:"lots"`
}

// Balance 查询余额及批次明细
func (s *BillingService) Balance(ctx context.Context, ownerID string) (*BalanceReply, error) {
	total, lots, err := s.ledger.Balance(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return &BalanceReply{OwnerID: ownerID, Balance: total, Lots: lots}, nil
}

// SufficiencyReply 余额充足性查询响应
type SufficiencyReply struct {
	OwnerID    string `json:"owner_id"`
	Required   int    `json:"required"`
	Sufficient bool   `json:"sufficient"`
}

// HasSufficient 查询余额是否足以覆盖 required
func (s *BillingService) HasSufficient(ctx context.Context, ownerID string, required int) (*SufficiencyReply, error) {
	ok, err := s.ledger.HasSufficient(ctx, ownerID, required)
	if err != nil {
		return nil, err
	}
	return &SufficiencyReply{OwnerID: ownerID, Required: required, Sufficient: ok}, nil
}

// AllocateRequest 发放请求
type AllocateRequest struct {
	OwnerID    string `json:"owner_id" binding:"required"`
	Credits    int    `json:"credits"`
	GrantedBy  string `json:"granted_by" binding:"required"`
	ExpiryDays int    `json:"expiry_days"`
	Notes      string `json:"notes"`
}

// Allocate 发放一个新批次
func (s *BillingService) Allocate(ctx context.Context, req *AllocateRequest) (*domain.CreditLot, error) {
	return s.ledger.Allocate(ctx, req.OwnerID, req.Credits, req.GrantedBy,
		daysToTTL(req.ExpiryDays), req.Notes)
}

// DeductRequest 扣减请求
type DeductRequest struct {
	OwnerID string `json:"owner_id" binding:"required"`
	Credits int    `json:"credits"`
}

// DeductReply 扣减响应
type DeductReply struct {
	OwnerID   string `json:"owner_id"`
	Requested int    `json:"requested"`
	Satisfied bool   `json:"satisfied"`
}

// Deduct 按到期顺序扣减信用点
func (s *BillingService) Deduct(ctx context.Context, req *DeductRequest) (*DeductReply, error) {
	ok, err := s.ledger.Deduct(ctx, req.OwnerID, req.Credits)
	if err != nil {
		return nil, err
	}
	return &DeductReply{OwnerID: req.OwnerID, Requested: req.Credits, Satisfied: ok}, nil
}

// SetAbsoluteRequest 绝对设值请求
type SetAbsoluteRequest struct {
	Credits    int    `json:"credits"`
	SetBy      string `json:"set_by" binding:"required"`
	ExpiryDays int    `json:"expiry_days"`
	Notes      string `json:"notes"`
}

// SetAbsolute 管理员绝对设值
func (s *BillingService) SetAbsolute(ctx context.Context, ownerID string, req *SetAbsoluteRequest) (*domain.CreditLot, error) {
	return s.ledger.SetAbsolute(ctx, ownerID, req.Credits, req.SetBy,
		daysToTTL(req.ExpiryDays), req.Notes)
}

// AdjustRequest 差量调整请求
type AdjustRequest struct {
	OwnerID    string `json:"owner_id" binding:"required"`
	Delta      int    `json:"delta"`
	AdjustedBy string `json:"adjusted_by" binding:"required"`
	ExpiryDays int    `json:"expiry_days"`
	Notes      string `json:"notes"`
}

// AdjustReply 差量调整响应
type AdjustReply struct {
	OwnerID         string `json:"owner_id"`
	Delta           int    `json:"delta"`
	PreviousBalance int    `json:"previous_balance"`
	NewBalance      int    `json:"new_balance"`
}

// Adjust 差量调整余额
func (s *BillingService) Adjust(ctx context.Context, req *AdjustRequest) (*AdjustReply, error) {
	prev, cur, err := s.ledger.Adjust(ctx, req.OwnerID, req.Delta, req.AdjustedBy,
		daysToTTL(req.ExpiryDays), req.Notes)
	if err != nil {
		return nil, err
	}
	return &AdjustReply{
		OwnerID:         req.OwnerID,
		Delta:           req.Delta,
		PreviousBalance: prev,
		NewBalance:      cur,
	}, nil
}

// ReserveRequest 预留请求
type ReserveRequest struct {
	SessionID       string `json:"session_id" binding:"required"`
	OwnerID         string `json:"owner_id" binding:"required"`
	ModelID         string `json:"model_id" binding:"required"`
	EstimatedTokens int    `json:"estimated_tokens"`
}

// Reserve 为流式会话预留信用点
func (s *BillingService) Reserve(ctx context.Context, req *ReserveRequest) (*domain.Reservation, error) {
	return s.reservations.Reserve(ctx, req.SessionID, req.OwnerID, req.ModelID, req.EstimatedTokens)
}

// FinalizeRequest 结算请求
type FinalizeRequest struct {
	OwnerID      string `json:"owner_id" binding:"required"`
	ActualTokens int    `json:"actual_tokens"`
	Succeeded    bool   `json:"succeeded"`
}

// SettleReply 结算/中断响应
type SettleReply struct {
	SessionID     string `json:"session_id"`
	ActualCredits int    `json:"actual_credits"`
	Refund        int    `json:"refund"`
}

// Finalize 结算并关闭预留
func (s *BillingService) Finalize(ctx context.Context, sessionID string, req *FinalizeRequest) (*SettleReply, error) {
	actual, refund, err := s.reservations.Finalize(ctx, sessionID, req.OwnerID, req.ActualTokens, req.Succeeded)
	if err != nil {
		return nil, err
	}
	return &SettleReply{SessionID: sessionID, ActualCredits: actual, Refund: refund}, nil
}

// AbortRequest 中断请求
type AbortRequest struct {
	OwnerID         string `json:"owner_id" binding:"required"`
	TokensGenerated int    `json:"tokens_generated"`
}

// Abort 中断结算
func (s *BillingService) Abort(ctx context.Context, sessionID string, req *AbortRequest) (*SettleReply, error) {
	actual, refund, err := s.reservations.Abort(ctx, sessionID, req.OwnerID, req.TokensGenerated)
	if err != nil {
		return nil, err
	}
	return &SettleReply{SessionID: sessionID, ActualCredits: actual, Refund: refund}, nil
}

// ListActive 列出 Active 预留；ownerID 为空表示全局
func (s *BillingService) ListActive(ctx context.Context, ownerID string) ([]*domain.Reservation, error) {
	if ownerID == "" {
		return s.reservations.GetAllActive(ctx)
	}
	return s.reservations.GetActive(ctx, ownerID)
}

// ListRecent 列出窗口期内的预留
func (s *BillingService) ListRecent(ctx context.Context, windowMinutes int, ownerID string) ([]*domain.Reservation, error) {
	return s.reservations.GetRecent(ctx, windowMinutes, ownerID)
}

// ModelRates 返回全部模型费率
func (s *BillingService) ModelRates(ctx context.Context) map[string]biz.ModelRate {
	return s.pricing.Rates()
}

func daysToTTL(days int) time.Duration {
	if days <= 0 {
		return 0
	}
	return time.Duration(days) * 24 * time.Hour
}
