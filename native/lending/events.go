package lending

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

const (
	EventLoanCreated         = "loan.created"
	EventLoanRepaid          = "loan.repaid"
	EventLoanLiquidated      = "loan.liquidated"
	EventLoanCollateralAdded = "loan.collateral_added"
)

// LoanEvent is the immutable lifecycle record handed to the emitter. Amount
// is the principal for creations, the repaid amount for repayments, the
// seized collateral for liquidations and the top-up for collateral additions.
// Rate is the scaled per-period rate fixed at origination.
type LoanEvent struct {
	ID        uuid.UUID
	LoanID    LoanID
	Borrower  common.Address
	Amount    *big.Int
	Rate      *big.Int
	Kind      string
	Timestamp time.Time
}

// EventType implements events.Event.
func (e LoanEvent) EventType() string { return e.Kind }

func newLoanEvent(kind string, loan *Loan, amount *big.Int, at time.Time) LoanEvent {
	return LoanEvent{
		ID:        uuid.New(),
		LoanID:    loan.ID,
		Borrower:  loan.Borrower,
		Amount:    cloneInt(amount),
		Rate:      cloneInt(loan.RateAtOrigination),
		Kind:      kind,
		Timestamp: at.UTC(),
	}
}
