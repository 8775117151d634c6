package errors

import (
	"github.com/go-kratos/kratos/v2/errors"
)

// 计费域错误 reason 常量，跨服务排错时以 reason 为准
const (
	ReasonInvalidArgument     = "INVALID_ARGUMENT"
	ReasonInsufficientCredits = "INSUFFICIENT_CREDITS"
	ReasonAllocationFailed    = "ALLOCATION_FAILED"
	ReasonReservationNotFound = "RESERVATION_NOT_FOUND"
	ReasonReservationExists   = "RESERVATION_EXISTS"
	ReasonOwnerUnavailable    = "OWNER_UNAVAILABLE"
	ReasonStorageUnavailable  = "STORAGE_UNAVAILABLE"
	ReasonInternal            = "INTERNAL"
)

// 计费域错误构造器
var (
	ErrInvalidArgument     = errors.BadRequest(ReasonInvalidArgument, "invalid argument")
	ErrInsufficientCredits = errors.New(402, ReasonInsufficientCredits, "insufficient credits")
	ErrAllocationFailed    = errors.Conflict(ReasonAllocationFailed, "allocation failed")
	ErrReservationNotFound = errors.NotFound(ReasonReservationNotFound, "reservation not found")
	ErrReservationExists   = errors.Conflict(ReasonReservationExists, "reservation already exists")
	ErrOwnerUnavailable    = errors.New(502, ReasonOwnerUnavailable, "owner unavailable")
	ErrStorageUnavailable  = errors.ServiceUnavailable(ReasonStorageUnavailable, "storage unavailable")
	ErrInternal            = errors.InternalServer(ReasonInternal, "internal error")
)

// WithMessage 复制一份错误并替换 message，保持 code 与 reason 不变
func WithMessage(e *errors.Error, message string) *errors.Error {
	return errors.New(int(e.Code), e.Reason, message)
}
