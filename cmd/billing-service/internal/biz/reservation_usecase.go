package biz

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"chatpilot/cmd/billing-service/internal/domain"

	"github.com/go-kratos/kratos/v2/log"
)

const (
	// DefaultReserveBufferPercent 预留时在预估费用上追加的安全余量
	DefaultReserveBufferPercent = 20

	// 监控列表的分页上限
	maxActiveListSystem = 50
	maxActiveListOwner  = 20
)

// ReservationConfig 预留管理配置
type ReservationConfig struct {
	// ReserveBufferPercent 安全余量百分比，零值回落到 20
	ReserveBufferPercent int
}

// ReservationUsecase 预留管理器：reserve -> finalize/abort 两阶段协议。
// 独占 Reservation 的状态迁移，对账本只以客户端身份调用，从不直接改批次。
type ReservationUsecase struct {
	ledger        *LedgerUsecase
	pricing       *PricingCalculator
	reservations  domain.ReservationRepository
	usage         domain.UsageRecorder
	owners        domain.OwnerRepository
	clock         domain.Clock
	bufferPercent int
	log           *log.Helper
}

// NewReservationUsecase 创建预留管理器
func NewReservationUsecase(
	ledger *LedgerUsecase,
	pricing *PricingCalculator,
	reservations domain.ReservationRepository,
	usage domain.UsageRecorder,
	owners domain.OwnerRepository,
	clock domain.Clock,
	conf *ReservationConfig,
	logger log.Logger,
) *ReservationUsecase {
	buffer := DefaultReserveBufferPercent
	if conf != nil && conf.ReserveBufferPercent > 0 {
		buffer = conf.ReserveBufferPercent
	}
	return &ReservationUsecase{
		ledger:        ledger,
		pricing:       pricing,
		reservations:  reservations,
		usage:         usage,
		owners:        owners,
		clock:         clock,
		bufferPercent: buffer,
		log:           log.NewHelper(logger),
	}
}

// Reserve 为一次时长未知的流式会话预留信用点。
//
// 预估费用按 Both 类别计算，再乘以安全余量向上取整得到实际扣减额。
// 扣减走账本的原子 TryDeduct，失败时不留下任何痕迹（无孤儿预留、无已扣额度）。
func (uc *ReservationUsecase) Reserve(
	ctx context.Context,
	sessionID, ownerID, modelID string,
	estimatedTokens int,
) (*domain.Reservation, error) {
	if sessionID == "" || ownerID == "" || modelID == "" || estimatedTokens < 0 {
		return nil, domain.ErrInvalidArgument
	}

	estimated, err := uc.pricing.Cost(modelID, estimatedTokens, TokenClassBoth)
	if err != nil {
		return nil, err
	}
	reserved := ceilDiv(estimated*(100+uc.bufferPercent), 100)

	if _, err := uc.owners.FindOrCreateOwner(ctx, ownerID); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrOwnerUnavailable, err)
	}

	// sessionID 重复的快速路径；并发竞争仍由唯一键兜底
	if _, err := uc.reservations.GetBySession(ctx, sessionID); err == nil {
		return nil, domain.ErrReservationExists
	} else if !errors.Is(err, domain.ErrReservationNotFound) {
		return nil, err
	}

	if err := uc.ledger.TryDeduct(ctx, ownerID, reserved); err != nil {
		if errors.Is(err, domain.ErrInsufficientCredits) {
			reservationsTotal.WithLabelValues("rejected").Inc()
			return nil, domain.ErrInsufficientCredits
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrAllocationFailed, err)
	}

	r := &domain.Reservation{
		SessionID:        sessionID,
		OwnerID:          ownerID,
		ModelID:          modelID,
		EstimatedTokens:  estimatedTokens,
		EstimatedCredits: estimated,
		ReservedCredits:  reserved,
		UsedCredits:      0,
		State:            domain.ReservationActive,
		StartedAt:        uc.clock.Now(),
	}
	if err := uc.reservations.Create(ctx, r); err != nil {
		// 输给了同 sessionID 的并发 Reserve：把已扣额度还回去，不留痕迹
		if _, rbErr := uc.ledger.Allocate(ctx, ownerID, reserved, "system-refund", 0,
			fmt.Sprintf("reserve rollback for session %s", sessionID)); rbErr != nil {
			uc.log.WithContext(ctx).Errorf("reserve rollback failed for session %s: %v", sessionID, rbErr)
		}
		if errors.Is(err, domain.ErrReservationExists) {
			return nil, domain.ErrReservationExists
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrAllocationFailed, err)
	}

	reservationsTotal.WithLabelValues("reserved").Inc()
	uc.log.WithContext(ctx).Infof("reserved %d credits for session %s (owner %s, model %s, estimate %d)",
		reserved, sessionID, ownerID, modelID, estimated)
	return r, nil
}

// Finalize 按实际 token 数结算并关闭预留
func (uc *ReservationUsecase) Finalize(
	ctx context.Context,
	sessionID, ownerID string,
	actualTokens int,
	succeeded bool,
) (actualCredits, refund int, err error) {
	state := domain.ReservationCompleted
	tag := domain.ServiceTagChatStreaming
	if !succeeded {
		state = domain.ReservationFailed
	}
	return uc.close(ctx, sessionID, ownerID, actualTokens, state, tag)
}

// Abort 中断结算：等价于失败的 Finalize，但使用量打中断标签，
// tokens 只计中断前已生成的部分
func (uc *ReservationUsecase) Abort(
	ctx context.Context,
	sessionID, ownerID string,
	tokensGenerated int,
) (partialCredits, refund int, err error) {
	return uc.close(ctx, sessionID, ownerID, tokensGenerated,
		domain.ReservationFailed, domain.ServiceTagChatStreamingAborted)
}

// Expire 后台清扫强制关闭过期的 Active 预留。无法得知真实用量，
// 按无余量的预估费用结算。
func (uc *ReservationUsecase) Expire(ctx context.Context, r *domain.Reservation) (refund int, err error) {
	_, refund, err = uc.close(ctx, r.SessionID, r.OwnerID, r.EstimatedTokens,
		domain.ReservationFailed, domain.ServiceTagChatStreamingExpired)
	return refund, err
}

// close 公共结算路径：CAS 关闭 -> 记录使用量 -> 退差额
func (uc *ReservationUsecase) close(
	ctx context.Context,
	sessionID, ownerID string,
	tokens int,
	state domain.ReservationState,
	serviceTag string,
) (actualCredits, refund int, err error) {
	if sessionID == "" || ownerID == "" || tokens < 0 {
		return 0, 0, domain.ErrInvalidArgument
	}

	r, err := uc.reservations.GetActive(ctx, sessionID, ownerID)
	if err != nil {
		return 0, 0, err
	}

	actualCredits, err = uc.pricing.Cost(r.ModelID, tokens, TokenClassBoth)
	if err != nil {
		return 0, 0, err
	}

	closedAt := uc.clock.Now()
	ok, err := uc.reservations.Close(ctx, sessionID, state, actualCredits, closedAt)
	if err != nil {
		return 0, 0, err
	}
	if !ok {
		// CAS 输给了并发的 Finalize/Abort/清扫，视同已关闭
		return 0, 0, domain.ErrReservationNotFound
	}

	switch {
	case serviceTag == domain.ServiceTagChatStreamingExpired:
		reservationsTotal.WithLabelValues("expired").Inc()
	case state == domain.ReservationCompleted:
		reservationsTotal.WithLabelValues("completed").Inc()
	default:
		reservationsTotal.WithLabelValues("failed").Inc()
	}

	// 使用量记录是尽力而为的记账，失败不回滚结算
	uc.recordUsage(ctx, r, serviceTag, tokens, actualCredits, closedAt)

	if actualCredits < r.ReservedCredits {
		refund = r.ReservedCredits - actualCredits
		// 退款是新批次，有效期时钟重新起算，不回填原批次
		if _, err := uc.ledger.Allocate(ctx, ownerID, refund, "system-refund", 0,
			fmt.Sprintf("refund for session %s", sessionID)); err != nil {
			// 预留已终态关闭，重试会得到 ReservationNotFound：
			// 落一条可对账的标记行，补发由离线流程按标记执行
			uc.recordPendingRefund(ctx, r, refund, closedAt)
			return actualCredits, 0, err
		}
		refundCreditsTotal.Add(float64(refund))
	} else if actualCredits > r.ReservedCredits {
		// 预估加余量仍不够：超出部分吸收掉，不事后补扣
		overage := actualCredits - r.ReservedCredits
		reservationOverageTotal.Add(float64(overage))
		uc.log.WithContext(ctx).Warnf("session %s used %d credits over the %d reserved, absorbing %d",
			sessionID, actualCredits, r.ReservedCredits, overage)
	}

	uc.log.WithContext(ctx).Infof("closed session %s as %s: used %d of %d reserved, refunded %d",
		sessionID, state, actualCredits, r.ReservedCredits, refund)
	return actualCredits, refund, nil
}

func (uc *ReservationUsecase) recordUsage(
	ctx context.Context,
	r *domain.Reservation,
	serviceTag string,
	tokens, credits int,
	closedAt time.Time,
) {
	rec := &domain.UsageRecord{
		OwnerID:    r.OwnerID,
		SessionID:  r.SessionID,
		Service:    serviceTag,
		Operation:  "generate",
		ModelID:    r.ModelID,
		Tokens:     tokens,
		Credits:    credits,
		DurationMS: closedAt.Sub(r.StartedAt).Milliseconds(),
		CreatedAt:  closedAt,
	}
	if err := uc.usage.RecordUsage(ctx, rec); err != nil {
		uc.log.WithContext(ctx).Errorf("usage recording failed for session %s: %v", r.SessionID, err)
	}
}

// recordPendingRefund 退款批次写入失败时的对账标记，Credits 为待补发额度
func (uc *ReservationUsecase) recordPendingRefund(
	ctx context.Context,
	r *domain.Reservation,
	refund int,
	closedAt time.Time,
) {
	uc.log.WithContext(ctx).Errorf("refund of %d credits failed for session %s, leaving reconciliation marker",
		refund, r.SessionID)
	rec := &domain.UsageRecord{
		OwnerID:   r.OwnerID,
		SessionID: r.SessionID,
		Service:   domain.ServiceTagRefundPending,
		Operation: "refund",
		ModelID:   r.ModelID,
		Credits:   refund,
		CreatedAt: closedAt,
	}
	if err := uc.usage.RecordUsage(ctx, rec); err != nil {
		uc.log.WithContext(ctx).Errorf("pending refund marker failed for session %s: %v", r.SessionID, err)
	}
}

// GetActive 指定 owner 的 Active 预留
func (uc *ReservationUsecase) GetActive(ctx context.Context, ownerID string) ([]*domain.Reservation, error) {
	if ownerID == "" {
		return nil, domain.ErrInvalidArgument
	}
	return uc.reservations.ListActiveByOwner(ctx, ownerID, maxActiveListOwner)
}

// GetAllActive 全局 Active 预留（运维视角）
func (uc *ReservationUsecase) GetAllActive(ctx context.Context) ([]*domain.Reservation, error) {
	return uc.reservations.ListActive(ctx, maxActiveListSystem)
}

// GetRecent 返回 Active 预留加上窗口期内关闭的预留：Active 在前，
// 其余按 ClosedAt 降序，整体截断到分页上限。ownerID 为空表示全局。
func (uc *ReservationUsecase) GetRecent(
	ctx context.Context,
	windowMinutes int,
	ownerID string,
) ([]*domain.Reservation, error) {
	if windowMinutes <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	limit := maxActiveListSystem
	if ownerID != "" {
		limit = maxActiveListOwner
	}

	var active []*domain.Reservation
	var err error
	if ownerID != "" {
		active, err = uc.reservations.ListActiveByOwner(ctx, ownerID, limit)
	} else {
		active, err = uc.reservations.ListActive(ctx, limit)
	}
	if err != nil {
		return nil, err
	}

	since := uc.clock.Now().Add(-time.Duration(windowMinutes) * time.Minute)
	closed, err := uc.reservations.ListClosedSince(ctx, ownerID, since, limit)
	if err != nil {
		return nil, err
	}
	sort.Slice(closed, func(i, j int) bool {
		return closed[i].ClosedAt.After(*closed[j].ClosedAt)
	})

	out := make([]*domain.Reservation, 0, len(active)+len(closed))
	out = append(out, active...)
	out = append(out, closed...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
