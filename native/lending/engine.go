package lending

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lendify/core/events"
	nativecommon "lendify/native/common"
	"lendify/native/fixedpoint"
	"lendify/native/ledger"
	"lendify/native/rates"
	"lendify/native/vault"
)

var (
	ErrLoanNotFound               = errors.New("lending engine: loan not found")
	ErrLoanNotActive              = errors.New("lending engine: loan not active")
	ErrInvalidAmount              = errors.New("lending engine: amount must be positive")
	ErrUndercollateralizedRequest = errors.New("lending engine: collateral ratio below minimum")
	ErrInsufficientRepayment      = errors.New("lending engine: repayment below outstanding debt")
	ErrNotUndercollateralized     = errors.New("lending engine: loan not eligible for liquidation")
	ErrInsufficientLiquidity      = errors.New("lending engine: insufficient reserve liquidity")
	ErrFutureAccrual              = errors.New("lending engine: accrual instant is in the future")

	errNilLedger = errors.New("lending engine: ledger not configured")
	errNilVault  = errors.New("lending engine: vault not configured")
	errNilRates  = errors.New("lending engine: rate model not configured")
)

const moduleName = "lending"

type loanEntry struct {
	mu   sync.Mutex
	loan *Loan
}

// Engine is the loan registry. Transitions on one loan are serialised by that
// loan's mutex; the loan table lock is only held for lookups and inserts so
// operations on different loans proceed concurrently.
type Engine struct {
	cfg         Config
	ledger      ledger.TokenLedger
	vault       CollateralVault
	rates       RateModel
	reserve     common.Address
	emitter     events.Emitter
	nowFn       func() time.Time
	pauses      nativecommon.PauseView
	utilisation UtilisationSource

	mu         sync.RWMutex
	loans      map[LoanID]*loanEntry
	byBorrower map[common.Address][]LoanID

	// lastID is reserved per creation; a creation that fails after the
	// reservation leaves a gap.
	lastID atomic.Uint64

	statsMu     sync.Mutex
	outstanding *big.Int
}

// NewEngine constructs an engine with a no-op emitter and the wall clock.
func NewEngine(cfg Config, deps Deps) (*Engine, error) {
	cfg.EnsureDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Ledger == nil {
		return nil, errNilLedger
	}
	if deps.Vault == nil {
		return nil, errNilVault
	}
	if deps.Rates == nil {
		return nil, errNilRates
	}
	cfg.MinCollateralRatio = cloneInt(cfg.MinCollateralRatio)
	return &Engine{
		cfg:         cfg,
		ledger:      deps.Ledger,
		vault:       deps.Vault,
		rates:       deps.Rates,
		reserve:     deps.Reserve,
		emitter:     events.NoopEmitter{},
		nowFn:       time.Now,
		loans:       make(map[LoanID]*loanEntry),
		byBorrower:  make(map[common.Address][]LoanID),
		outstanding: big.NewInt(0),
	}, nil
}

// SetEmitter configures the lifecycle event sink. Passing nil resets it to a
// no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the clock. Passing nil restores time.Now.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		e.nowFn = time.Now
		return
	}
	e.nowFn = now
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	e.pauses = p
}

// SetUtilisationSource wires the utilisation reading used to price new loans.
// Without a source utilisation is zero and loans originate at the base rate.
func (e *Engine) SetUtilisationSource(src UtilisationSource) {
	e.utilisation = src
}

// MinCollateralRatio returns the configured scaled threshold.
func (e *Engine) MinCollateralRatio() *big.Int { return cloneInt(e.cfg.MinCollateralRatio) }

// AccrualPeriod returns the length of one interest period.
func (e *Engine) AccrualPeriod() time.Duration { return e.cfg.AccrualPeriod }

// Reserve returns the account funding principal.
func (e *Engine) Reserve() common.Address { return e.reserve }

// Outstanding returns the principal of all active loans.
func (e *Engine) Outstanding() *big.Int {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return new(big.Int).Set(e.outstanding)
}

// CreateLoan opens a loan of principal against collateral. The proposed loan
// must meet the minimum collateral ratio. Collateral is locked, bound to the
// new loan and the principal is paid out of the reserve; if any of those
// steps fails the lock is released and no loan is recorded.
func (e *Engine) CreateLoan(borrower common.Address, principal, collateral *big.Int) (LoanID, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	if !positive(principal) || !positive(collateral) {
		return 0, ErrInvalidAmount
	}
	ratio, err := e.vault.Ratio(collateral, principal)
	if err != nil {
		return 0, err
	}
	if ratio.Cmp(e.cfg.MinCollateralRatio) < 0 {
		return 0, fmt.Errorf("%w: %s < %s", ErrUndercollateralizedRequest,
			fixedpoint.ToDecimal(ratio), fixedpoint.ToDecimal(e.cfg.MinCollateralRatio))
	}
	if bal := e.ledger.BalanceOf(borrower); bal.Cmp(collateral) < 0 {
		return 0, fmt.Errorf("%w: %s holds %s, needs %s", ledger.ErrInsufficientBalance, borrower.Hex(), bal, collateral)
	}
	if bal := e.ledger.BalanceOf(e.reserve); bal.Cmp(principal) < 0 {
		return 0, fmt.Errorf("%w: reserve holds %s, needs %s", ErrInsufficientLiquidity, bal, principal)
	}

	id := LoanID(e.lastID.Add(1))
	rate := e.rates.CurrentRate(e.currentUtilisation())
	now := e.nowFn()

	positionID, err := e.vault.Lock(borrower, collateral)
	if err != nil {
		return 0, err
	}
	if err := e.vault.Associate(positionID, uint64(id)); err != nil {
		return 0, e.abort(positionID, err)
	}
	if err := e.ledger.Transfer(e.reserve, borrower, principal); err != nil {
		return 0, e.abort(positionID, fmt.Errorf("lending engine: disburse principal: %w", err))
	}

	loan := &Loan{
		ID:                id,
		Borrower:          borrower,
		Principal:         cloneInt(principal),
		CollateralAmount:  cloneInt(collateral),
		PositionID:        positionID,
		RateAtOrigination: rate,
		AccruedInterest:   big.NewInt(0),
		LastAccrual:       now,
		CreatedAt:         now,
		Status:            StatusActive,
	}
	e.mu.Lock()
	e.loans[id] = &loanEntry{loan: loan}
	e.byBorrower[borrower] = append(e.byBorrower[borrower], id)
	e.mu.Unlock()
	e.addOutstanding(principal)

	e.emit(newLoanEvent(EventLoanCreated, loan, principal, now))
	return id, nil
}

// AccrueInterest applies the whole accrual periods elapsed between the last
// accrual and asOf at the loan's origination rate. LastAccrual advances by
// whole periods only, so repeated calls with the same asOf change state at
// most once. Interest cannot be accrued ahead of the engine clock.
func (e *Engine) AccrueInterest(id LoanID, asOf time.Time) (*Loan, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if now := e.nowFn(); asOf.After(now) {
		return nil, fmt.Errorf("%w: %s after %s", ErrFutureAccrual,
			asOf.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339))
	}
	entry, err := e.entry(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if !entry.loan.Active() {
		return nil, ErrLoanNotActive
	}
	working := entry.loan.Clone()
	if err := e.accrue(working, asOf); err != nil {
		return nil, err
	}
	entry.loan = working
	return working.Clone(), nil
}

// Repay settles the loan in full. Interest is brought up to date first and
// amount must cover principal plus accrued interest; the whole amount moves
// from the borrower to the reserve and the collateral is returned.
func (e *Engine) Repay(id LoanID, amount *big.Int) (*Loan, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if !positive(amount) {
		return nil, ErrInvalidAmount
	}
	entry, err := e.entry(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if !entry.loan.Active() {
		return nil, ErrLoanNotActive
	}
	working := entry.loan.Clone()
	now := e.nowFn()
	if err := e.accrueToNow(working, now); err != nil {
		return nil, err
	}
	if due := working.Debt(); amount.Cmp(due) < 0 {
		return nil, fmt.Errorf("%w: owes %s, offered %s", ErrInsufficientRepayment, due, amount)
	}
	if err := e.ledger.Transfer(working.Borrower, e.reserve, amount); err != nil {
		return nil, fmt.Errorf("lending engine: collect repayment: %w", err)
	}
	if _, err := e.vault.Settle(working.PositionID, uint64(working.ID)); err != nil {
		if refundErr := e.ledger.Transfer(e.reserve, working.Borrower, amount); refundErr != nil {
			return nil, errors.Join(err, fmt.Errorf("lending engine: refund repayment: %w", refundErr))
		}
		return nil, err
	}
	working.Status = StatusRepaid
	entry.loan = working
	e.subOutstanding(working.Principal)

	e.emit(newLoanEvent(EventLoanRepaid, working, amount, now))
	return working.Clone(), nil
}

// Liquidate seizes the collateral of a loan whose collateral ratio, after
// bringing interest up to date, is below the minimum. Healthy loans are
// refused and left untouched.
func (e *Engine) Liquidate(id LoanID) (*big.Int, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	entry, err := e.entry(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if !entry.loan.Active() {
		return nil, ErrLoanNotActive
	}
	working := entry.loan.Clone()
	now := e.nowFn()
	if err := e.accrueToNow(working, now); err != nil {
		return nil, err
	}
	ratio, err := e.vault.Ratio(working.CollateralAmount, working.Debt())
	if err != nil {
		return nil, err
	}
	if ratio.Cmp(e.cfg.MinCollateralRatio) >= 0 {
		return nil, fmt.Errorf("%w: ratio %s", ErrNotUndercollateralized, fixedpoint.ToDecimal(ratio))
	}
	seized, err := e.vault.Seize(working.PositionID, uint64(working.ID), e.seizeRecipient())
	if err != nil {
		return nil, err
	}
	working.Status = StatusLiquidated
	entry.loan = working
	e.subOutstanding(working.Principal)

	e.emit(newLoanEvent(EventLoanLiquidated, working, seized, now))
	return seized, nil
}

// AddCollateral tops up the collateral backing an active loan.
func (e *Engine) AddCollateral(id LoanID, amount *big.Int) (*Loan, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if !positive(amount) {
		return nil, ErrInvalidAmount
	}
	entry, err := e.entry(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if !entry.loan.Active() {
		return nil, ErrLoanNotActive
	}
	working := entry.loan.Clone()
	if err := e.vault.Augment(working.PositionID, working.Borrower, amount); err != nil {
		return nil, err
	}
	working.CollateralAmount = new(big.Int).Add(working.CollateralAmount, amount)
	entry.loan = working

	e.emit(newLoanEvent(EventLoanCollateralAdded, working, amount, e.nowFn()))
	return working.Clone(), nil
}

// Health reports the collateral coverage the loan would have at asOf,
// including interest accrued up to then. The stored loan is not modified.
func (e *Engine) Health(id LoanID, asOf time.Time) (*Health, error) {
	entry, err := e.entry(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	working := entry.loan.Clone()
	entry.mu.Unlock()

	if working.Active() {
		if err := e.accrue(working, asOf); err != nil {
			return nil, err
		}
	}
	debt := working.Debt()
	ratio, err := e.vault.Ratio(working.CollateralAmount, debt)
	if err != nil {
		return nil, err
	}
	return &Health{
		LoanID:          working.ID,
		Debt:            debt,
		AccruedInterest: cloneInt(working.AccruedInterest),
		CollateralValue: e.vault.Value(working.CollateralAmount),
		Ratio:           ratio,
		MinRatio:        e.MinCollateralRatio(),
		Liquidatable:    working.Active() && ratio.Cmp(e.cfg.MinCollateralRatio) < 0,
		AsOf:            asOf,
	}, nil
}

// Loan returns a snapshot of the loan.
func (e *Engine) Loan(id LoanID) (*Loan, error) {
	entry, err := e.entry(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.loan.Clone(), nil
}

// LoansByBorrower returns snapshots of every loan the borrower has opened,
// oldest first. The view is rebuilt from live state on every call.
func (e *Engine) LoansByBorrower(borrower common.Address) []*Loan {
	e.mu.RLock()
	ids := append([]LoanID(nil), e.byBorrower[borrower]...)
	e.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return e.snapshots(ids)
}

// Loans returns snapshots of all loans ordered by identifier.
func (e *Engine) Loans() []*Loan {
	e.mu.RLock()
	ids := make([]LoanID, 0, len(e.loans))
	for id := range e.loans {
		ids = append(ids, id)
	}
	e.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return e.snapshots(ids)
}

func (e *Engine) snapshots(ids []LoanID) []*Loan {
	out := make([]*Loan, 0, len(ids))
	for _, id := range ids {
		loan, err := e.Loan(id)
		if err != nil {
			continue
		}
		out = append(out, loan)
	}
	return out
}

func (e *Engine) entry(id LoanID) (*loanEntry, error) {
	e.mu.RLock()
	entry, ok := e.loans[id]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrLoanNotFound, id)
	}
	return entry, nil
}

// accrue mutates the working copy only.
func (e *Engine) accrue(loan *Loan, asOf time.Time) error {
	periods, err := rates.Periods(loan.LastAccrual, asOf, e.cfg.AccrualPeriod)
	if err != nil {
		return err
	}
	if periods == 0 {
		return nil
	}
	accrued, err := e.rates.Accrue(rates.Terms{
		Principal:       loan.Principal,
		Rate:            loan.RateAtOrigination,
		AccruedInterest: loan.AccruedInterest,
	}, periods)
	if err != nil {
		return err
	}
	loan.AccruedInterest = accrued
	loan.LastAccrual = loan.LastAccrual.Add(time.Duration(periods) * e.cfg.AccrualPeriod)
	return nil
}

// accrueToNow brings a loan up to now for settlement. A LastAccrual ahead of
// now, possible after the clock steps back, accrues nothing rather than
// blocking repayment or liquidation.
func (e *Engine) accrueToNow(loan *Loan, now time.Time) error {
	if now.Before(loan.LastAccrual) {
		return nil
	}
	return e.accrue(loan, now)
}

// abort releases a position locked by a creation that could not complete.
func (e *Engine) abort(positionID vault.PositionID, cause error) error {
	if err := e.vault.Abort(positionID); err != nil {
		return errors.Join(cause, fmt.Errorf("lending engine: release collateral: %w", err))
	}
	return cause
}

func (e *Engine) currentUtilisation() *big.Int {
	if e.utilisation == nil {
		return big.NewInt(0)
	}
	if u := e.utilisation(); u != nil {
		return u
	}
	return big.NewInt(0)
}

func (e *Engine) seizeRecipient() common.Address {
	if e.cfg.SeizeRecipient == (common.Address{}) {
		return e.reserve
	}
	return e.cfg.SeizeRecipient
}

func (e *Engine) addOutstanding(amount *big.Int) {
	e.statsMu.Lock()
	e.outstanding = new(big.Int).Add(e.outstanding, amount)
	e.statsMu.Unlock()
}

func (e *Engine) subOutstanding(amount *big.Int) {
	e.statsMu.Lock()
	e.outstanding = new(big.Int).Sub(e.outstanding, amount)
	e.statsMu.Unlock()
}

func (e *Engine) emit(evt LoanEvent) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(evt)
}

func positive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}
