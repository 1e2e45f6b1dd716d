package metering

import "errors"

// Sentinel errors.
//
// Insufficient allowance/balance are soft, expected outcomes: the facade
// translates them into deny decisions and they are never logged as errors.
// ErrPersistenceConflict is transient; the owning component retries once
// before surfacing it. The remaining sentinels are caller contract
// violations.
var (
	ErrInvalidAmount         = errors.New("metering: amount must not be negative")
	ErrInsufficientAllowance = errors.New("metering: insufficient daily allowance")
	ErrInsufficientBalance   = errors.New("metering: insufficient credit balance")
	ErrAllowanceNotFound     = errors.New("metering: allowance not found")
	ErrPackageNotFound       = errors.New("metering: credit package not found")
	ErrPackageInactive       = errors.New("metering: credit package is inactive")
	ErrPersistenceConflict   = errors.New("metering: concurrent write conflict")
)
