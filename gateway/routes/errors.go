package routes

import (
	"errors"
	"net/http"

	"lendify/gateway/middleware"
	nativecommon "lendify/native/common"
	"lendify/native/fixedpoint"
	"lendify/native/ledger"
	"lendify/native/lending"
	"lendify/native/rates"
	"lendify/native/vault"
)

// toStatus maps engine errors to an HTTP status and a stable machine code.
func toStatus(err error) (int, string) {
	switch {
	case errors.Is(err, lending.ErrLoanNotFound), errors.Is(err, vault.ErrPositionNotFound):
		return http.StatusNotFound, "loan_not_found"
	case errors.Is(err, lending.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, vault.ErrInvalidAmount), errors.Is(err, fixedpoint.ErrInvalidDecimal):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, rates.ErrNegativeElapsedTime):
		return http.StatusBadRequest, "negative_elapsed_time"
	case errors.Is(err, lending.ErrFutureAccrual):
		return http.StatusBadRequest, "future_accrual"
	case errors.Is(err, lending.ErrUndercollateralizedRequest):
		return http.StatusUnprocessableEntity, "undercollateralized_request"
	case errors.Is(err, lending.ErrInsufficientRepayment):
		return http.StatusUnprocessableEntity, "insufficient_repayment"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "insufficient_balance"
	case errors.Is(err, fixedpoint.ErrDivisionByZero):
		return http.StatusUnprocessableEntity, "division_by_zero"
	case errors.Is(err, lending.ErrLoanNotActive):
		return http.StatusConflict, "loan_not_active"
	case errors.Is(err, lending.ErrNotUndercollateralized):
		return http.StatusConflict, "not_undercollateralized"
	case errors.Is(err, vault.ErrPositionLocked):
		return http.StatusConflict, "position_locked"
	case errors.Is(err, vault.ErrAlreadySeized):
		return http.StatusConflict, "already_seized"
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable, "module_paused"
	case errors.Is(err, lending.ErrInsufficientLiquidity):
		return http.StatusServiceUnavailable, "insufficient_liquidity"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeEngineError(w http.ResponseWriter, err error) {
	status, code := toStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	middleware.WriteError(w, status, code, message)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	middleware.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
}
