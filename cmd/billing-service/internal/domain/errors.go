package domain

import "errors"

var (
	// 参数类错误
	ErrInvalidArgument = errors.New("invalid argument")

	// 账本类错误
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrAllocationFailed    = errors.New("allocation failed")

	// 预留类错误
	ErrReservationNotFound = errors.New("reservation not found")
	ErrReservationExists   = errors.New("reservation already exists")

	// 协作方错误
	ErrOwnerUnavailable   = errors.New("owner unavailable")
	ErrStorageUnavailable = errors.New("storage unavailable")
)
