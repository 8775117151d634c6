package biz

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// creditsAllocatedTotal 累计发放的信用点
	creditsAllocatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_credits_allocated_total",
			Help: "Total credits allocated, by grantor",
		},
		[]string{"granted_by"},
	)

	// creditsDeductedTotal 累计扣减的信用点
	creditsDeductedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "billing_credits_deducted_total",
			Help: "Total credits deducted from lots",
		},
	)

	// deductShortfallTotal 扣减时余额不足的次数
	deductShortfallTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "billing_deduct_shortfall_total",
			Help: "Number of deductions that could not be fully satisfied",
		},
	)

	// reservationsTotal 预留生命周期事件
	reservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_reservations_total",
			Help: "Reservation lifecycle events by outcome",
		},
		[]string{"outcome"}, // reserved / completed / failed / expired / rejected
	)

	// reservationOverageTotal 实际费用超出预留额度的信用点（被吸收，不补扣）
	reservationOverageTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "billing_reservation_overage_credits_total",
			Help: "Credits by which actual cost exceeded the reserved amount (absorbed)",
		},
	)

	// refundCreditsTotal 结算退回的信用点
	refundCreditsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "billing_refund_credits_total",
			Help: "Credits refunded as new lots after reconciliation",
		},
	)
)
