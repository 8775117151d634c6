package biz

import (
	"context"
	"errors"
	"sync"
	"time"

	"chatpilot/cmd/billing-service/internal/domain"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	sweeperLockKey = "billing:sweeper:lock"
	sweepBatchSize = 100
)

// SweeperConfig 过期预留清扫配置
type SweeperConfig struct {
	// StaleSessionTTL Active 预留的最长存活时间，0 表示关闭清扫
	StaleSessionTTL time.Duration
	// SweepInterval 清扫周期，零值回落到 1 分钟
	SweepInterval time.Duration
}

// ReservationSweeper 周期性强制关闭长期未结算的 Active 预留。
//
// 崩溃的调用方不会再发 Finalize/Abort，预留的信用点会被永久占用；
// 清扫把这类预留按预估费用结算并退还余量。多实例部署时通过 Redis
// SetNX 锁保证同一周期只有一个实例执行。
type ReservationSweeper struct {
	reservations domain.ReservationRepository
	uc           *ReservationUsecase
	locker       *redis.Client
	clock        domain.Clock
	conf         SweeperConfig
	log          *log.Helper

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewReservationSweeper 创建清扫器；TTL 大于 0 时立即启动后台循环
func NewReservationSweeper(
	reservations domain.ReservationRepository,
	uc *ReservationUsecase,
	locker *redis.Client,
	clock domain.Clock,
	conf SweeperConfig,
	logger log.Logger,
) *ReservationSweeper {
	if conf.SweepInterval <= 0 {
		conf.SweepInterval = time.Minute
	}
	s := &ReservationSweeper{
		reservations: reservations,
		uc:           uc,
		locker:       locker,
		clock:        clock,
		conf:         conf,
		log:          log.NewHelper(logger),
		stopCh:       make(chan struct{}),
	}
	if conf.StaleSessionTTL > 0 {
		s.wg.Add(1)
		go s.loop()
		s.log.Infof("reservation sweeper started: ttl=%v interval=%v",
			conf.StaleSessionTTL, conf.SweepInterval)
	} else {
		s.log.Info("reservation sweeper disabled (stale session ttl is zero)")
	}
	return s
}

// Stop 停止后台循环并等待当前一轮清扫结束
func (s *ReservationSweeper) Stop() {
	s.once.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *ReservationSweeper) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.conf.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.SweepOnce(context.Background())
		}
	}
}

// SweepOnce 执行一轮清扫，返回强制关闭的预留数
func (s *ReservationSweeper) SweepOnce(ctx context.Context) int {
	if s.conf.StaleSessionTTL <= 0 {
		return 0
	}
	if !s.acquireLock(ctx) {
		return 0
	}

	cutoff := s.clock.Now().Add(-s.conf.StaleSessionTTL)
	stale, err := s.reservations.ListStaleActive(ctx, cutoff, sweepBatchSize)
	if err != nil {
		s.log.WithContext(ctx).Errorf("failed to list stale reservations: %v", err)
		return 0
	}

	swept := 0
	for _, r := range stale {
		refund, err := s.uc.Expire(ctx, r)
		if err != nil {
			// 输给并发 Finalize/Abort 的 CAS 不算错误
			if errors.Is(err, domain.ErrReservationNotFound) {
				continue
			}
			s.log.WithContext(ctx).Errorf("failed to expire session %s: %v", r.SessionID, err)
			continue
		}
		swept++
		s.log.WithContext(ctx).Warnf("force-aborted stale session %s (owner %s, started %s, refunded %d)",
			r.SessionID, r.OwnerID, r.StartedAt.Format(time.RFC3339), refund)
	}
	return swept
}

// acquireLock 抢占本周期的清扫权；没有配置 Redis 时视为单实例部署
func (s *ReservationSweeper) acquireLock(ctx context.Context) bool {
	if s.locker == nil {
		return true
	}
	ok, err := s.locker.SetNX(ctx, sweeperLockKey, "1", s.conf.SweepInterval).Result()
	if err != nil {
		s.log.WithContext(ctx).Warnf("sweeper lock unavailable, skipping round: %v", err)
		return false
	}
	return ok
}
