package lending

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lendify/native/vault"
)

// LoanID identifies a loan. Identifiers are assigned sequentially from 1 and
// never reused.
type LoanID uint64

// Status enumerates the loan lifecycle. Repaid and Liquidated are terminal.
type Status uint8

const (
	StatusActive Status = iota + 1
	StatusRepaid
	StatusLiquidated
)

// String renders the status for logs and JSON payloads.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusRepaid:
		return "repaid"
	case StatusLiquidated:
		return "liquidated"
	default:
		return "unknown"
	}
}

// Loan captures the accounting state of a single collateralised borrow.
// Amounts are token base units; RateAtOrigination is scaled by
// fixedpoint.Scale.
type Loan struct {
	ID       LoanID
	Borrower common.Address
	// Principal is fixed at creation; interest accrues on it alone.
	Principal        *big.Int
	CollateralAmount *big.Int
	PositionID       vault.PositionID
	// RateAtOrigination is the per-period rate locked in at creation.
	RateAtOrigination *big.Int
	AccruedInterest   *big.Int
	// LastAccrual is the boundary of the last whole accrual period applied.
	LastAccrual time.Time
	CreatedAt   time.Time
	Status      Status
}

// Debt returns principal plus accrued interest.
func (l *Loan) Debt() *big.Int {
	if l == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Add(cloneInt(l.Principal), cloneInt(l.AccruedInterest))
}

// Active reports whether the loan still accepts mutations.
func (l *Loan) Active() bool { return l != nil && l.Status == StatusActive }

// Clone returns a deep copy of the loan.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	clone.Principal = cloneInt(l.Principal)
	clone.CollateralAmount = cloneInt(l.CollateralAmount)
	clone.RateAtOrigination = cloneInt(l.RateAtOrigination)
	clone.AccruedInterest = cloneInt(l.AccruedInterest)
	return &clone
}

// Health summarises a loan's collateral coverage at a point in time without
// mutating it.
type Health struct {
	LoanID          LoanID
	Debt            *big.Int
	AccruedInterest *big.Int
	CollateralValue *big.Int
	// Ratio is CollateralValue / Debt scaled by fixedpoint.Scale.
	Ratio        *big.Int
	MinRatio     *big.Int
	Liquidatable bool
	AsOf         time.Time
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
