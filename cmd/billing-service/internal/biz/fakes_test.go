package biz

import (
	"context"
	"sort"
	"sync"
	"time"

	"chatpilot/cmd/billing-service/internal/domain"
)

// fakeClock 可手动推进的假时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memLotRepo 内存批次仓储，单把互斥锁保证扣减原子性
type memLotRepo struct {
	mu        sync.Mutex
	lots      map[string][]*domain.CreditLot
	listCalls int
	createErr error
}

func newMemLotRepo() *memLotRepo {
	return &memLotRepo{lots: make(map[string][]*domain.CreditLot)}
}

func (r *memLotRepo) Create(_ context.Context, lot *domain.CreditLot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	cp := *lot
	r.lots[lot.OwnerID] = append(r.lots[lot.OwnerID], &cp)
	return nil
}

func (r *memLotRepo) ListLive(_ context.Context, ownerID string, now time.Time) ([]*domain.CreditLot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++
	return r.liveLocked(ownerID, now), nil
}

// setCreateErr 注入批次写入失败
func (r *memLotRepo) setCreateErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createErr = err
}

// listCallCount 数据库读次数，缓存命中断言用
func (r *memLotRepo) listCallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listCalls
}

func (r *memLotRepo) liveLocked(ownerID string, now time.Time) []*domain.CreditLot {
	var out []*domain.CreditLot
	for _, lot := range r.lots[ownerID] {
		if lot.Live(now) {
			out = append(out, lot)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	return out
}

func (r *memLotRepo) DeductOrdered(_ context.Context, ownerID string, credits int, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	remaining := credits
	for _, lot := range r.liveLocked(ownerID, now) {
		if remaining == 0 {
			break
		}
		take := lot.RemainingCredits
		if take > remaining {
			take = remaining
		}
		lot.RemainingCredits -= take
		remaining -= take
	}
	return credits - remaining, nil
}

func (r *memLotRepo) TryDeduct(_ context.Context, ownerID string, credits int, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	live := r.liveLocked(ownerID, now)
	total := 0
	for _, lot := range live {
		total += lot.RemainingCredits
	}
	if total < credits {
		return domain.ErrInsufficientCredits
	}
	remaining := credits
	for _, lot := range live {
		if remaining == 0 {
			break
		}
		take := lot.RemainingCredits
		if take > remaining {
			take = remaining
		}
		lot.RemainingCredits -= take
		remaining -= take
	}
	return nil
}

func (r *memLotRepo) ReplaceAll(_ context.Context, ownerID string, fresh *domain.CreditLot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *fresh
	r.lots[ownerID] = []*domain.CreditLot{&cp}
	return nil
}

// lotCount 当前批次总数（含已过期/耗尽），测试断言用
func (r *memLotRepo) lotCount(ownerID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lots[ownerID])
}

// memBalanceCache 内存余额快照缓存
type memBalanceCache struct {
	mu    sync.Mutex
	snaps map[string]*domain.BalanceSnapshot
}

func newMemBalanceCache() *memBalanceCache {
	return &memBalanceCache{snaps: make(map[string]*domain.BalanceSnapshot)}
}

func (c *memBalanceCache) Get(_ context.Context, ownerID string) (*domain.BalanceSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snaps[ownerID], nil
}

func (c *memBalanceCache) Set(_ context.Context, ownerID string, snap *domain.BalanceSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *snap
	c.snaps[ownerID] = &cp
	return nil
}

func (c *memBalanceCache) Invalidate(_ context.Context, ownerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snaps, ownerID)
	return nil
}

func (c *memBalanceCache) cached(ownerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.snaps[ownerID]
	return ok
}

// memReservationRepo 内存预留仓储
type memReservationRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.Reservation
}

func newMemReservationRepo() *memReservationRepo {
	return &memReservationRepo{sessions: make(map[string]*domain.Reservation)}
}

func (r *memReservationRepo) Create(_ context.Context, res *domain.Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[res.SessionID]; ok {
		return domain.ErrReservationExists
	}
	cp := *res
	r.sessions[res.SessionID] = &cp
	return nil
}

func (r *memReservationRepo) GetBySession(_ context.Context, sessionID string) (*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.sessions[sessionID]
	if !ok {
		return nil, domain.ErrReservationNotFound
	}
	cp := *res
	return &cp, nil
}

func (r *memReservationRepo) GetActive(_ context.Context, sessionID, ownerID string) (*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.sessions[sessionID]
	if !ok || res.OwnerID != ownerID || res.State != domain.ReservationActive {
		return nil, domain.ErrReservationNotFound
	}
	cp := *res
	return &cp, nil
}

func (r *memReservationRepo) Close(_ context.Context, sessionID string, state domain.ReservationState, usedCredits int, closedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.sessions[sessionID]
	if !ok || res.State != domain.ReservationActive {
		return false, nil
	}
	res.State = state
	res.UsedCredits = usedCredits
	t := closedAt
	res.ClosedAt = &t
	return true, nil
}

func (r *memReservationRepo) ListActiveByOwner(_ context.Context, ownerID string, limit int) ([]*domain.Reservation, error) {
	return r.list(limit, func(res *domain.Reservation) bool {
		return res.OwnerID == ownerID && res.State == domain.ReservationActive
	}), nil
}

func (r *memReservationRepo) ListActive(_ context.Context, limit int) ([]*domain.Reservation, error) {
	return r.list(limit, func(res *domain.Reservation) bool {
		return res.State == domain.ReservationActive
	}), nil
}

func (r *memReservationRepo) ListClosedSince(_ context.Context, ownerID string, since time.Time, limit int) ([]*domain.Reservation, error) {
	return r.list(limit, func(res *domain.Reservation) bool {
		if res.State == domain.ReservationActive || res.ClosedAt == nil || res.ClosedAt.Before(since) {
			return false
		}
		return ownerID == "" || res.OwnerID == ownerID
	}), nil
}

func (r *memReservationRepo) ListStaleActive(_ context.Context, cutoff time.Time, limit int) ([]*domain.Reservation, error) {
	return r.list(limit, func(res *domain.Reservation) bool {
		return res.State == domain.ReservationActive && res.StartedAt.Before(cutoff)
	}), nil
}

func (r *memReservationRepo) list(limit int, keep func(*domain.Reservation) bool) []*domain.Reservation {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Reservation
	for _, res := range r.sessions {
		if keep(res) {
			cp := *res
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// memUsageRecorder 内存使用量记录器，可注入错误模拟记账失败
type memUsageRecorder struct {
	mu      sync.Mutex
	records []*domain.UsageRecord
	failErr error
}

func (r *memUsageRecorder) RecordUsage(_ context.Context, rec *domain.UsageRecord) error {
	if r.failErr != nil {
		return r.failErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.records = append(r.records, &cp)
	return nil
}

func (r *memUsageRecorder) last() *domain.UsageRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) == 0 {
		return nil
	}
	return r.records[len(r.records)-1]
}

// memOwnerRepo 内存记账主体仓储
type memOwnerRepo struct {
	mu      sync.Mutex
	owners  map[string]*domain.OwnerAccount
	failErr error
}

func newMemOwnerRepo() *memOwnerRepo {
	return &memOwnerRepo{owners: make(map[string]*domain.OwnerAccount)}
}

func (r *memOwnerRepo) FindOrCreateOwner(_ context.Context, ownerID string) (*domain.OwnerAccount, error) {
	if r.failErr != nil {
		return nil, r.failErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, ok := r.owners[ownerID]; ok {
		return owner, nil
	}
	owner := &domain.OwnerAccount{ID: ownerID}
	r.owners[ownerID] = owner
	return owner, nil
}
