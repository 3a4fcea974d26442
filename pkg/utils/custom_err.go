package utils

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPlan       = errors.New("invalid plan")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidState      = errors.New("invalid subscription state")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrVaultFailure      = errors.New("vault failure")

	ErrPlanNotFound = fmt.Errorf("%w: plan does not exist", ErrInvalidPlan)
	ErrPlanInactive = fmt.Errorf("%w: plan is not active", ErrInvalidPlan)

	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrLedgerPaused         = errors.New("ledger is paused")
	ErrInvalidAddress       = errors.New("invalid address")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrDatabaseError        = errors.New("database error")
	ErrTickInProgress       = errors.New("scheduler tick already in progress")
	ErrSandboxDisabled      = errors.New("sandbox endpoints are disabled")
)
