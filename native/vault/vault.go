// Package vault holds borrower collateral in custody and values it against a
// price oracle. Positions are bound to at most one loan; only the loan that
// owns the binding may settle or seize it.
package vault

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"lendify/native/fixedpoint"
	"lendify/native/ledger"
)

var (
	// ErrPositionLocked is returned when an operation requires an unbound
	// position but the position backs an active loan.
	ErrPositionLocked = errors.New("vault: position locked by loan")
	// ErrAlreadySeized is returned for any operation on a seized position.
	ErrAlreadySeized = errors.New("vault: position already seized")
	// ErrPositionNotFound is returned for unknown position identifiers.
	ErrPositionNotFound = errors.New("vault: position not found")
	// ErrNotAssociated is returned when a loan attempts to settle or seize a
	// position it does not own.
	ErrNotAssociated = errors.New("vault: position not associated with loan")
	// ErrNotOwner is returned when collateral is added on behalf of another
	// account.
	ErrNotOwner = errors.New("vault: caller does not own position")
	// ErrInvalidAmount is returned for nil or non-positive amounts.
	ErrInvalidAmount = errors.New("vault: amount must be positive")
	// ErrNilOracle is returned when the vault is constructed without a price
	// source.
	ErrNilOracle = errors.New("vault: price oracle not configured")
)

// PositionID identifies a collateral position.
type PositionID uint64

// Position is a snapshot of a collateral lock.
type Position struct {
	ID     PositionID
	Owner  common.Address
	Locked *big.Int
	// LoanID is zero while the position is not bound to a loan.
	LoanID uint64
	Seized bool
}

func (p *Position) clone() Position {
	return Position{
		ID:     p.ID,
		Owner:  p.Owner,
		Locked: new(big.Int).Set(p.Locked),
		LoanID: p.LoanID,
		Seized: p.Seized,
	}
}

// Vault custodies collateral on the ledger under its own account. Every
// mutation is serialised by mu.
type Vault struct {
	mu        sync.Mutex
	ledger    ledger.TokenLedger
	custody   common.Address
	oracle    PriceOracle
	positions map[PositionID]*Position
	nextID    PositionID
}

// New constructs a vault that keeps collateral in the custody account.
func New(l ledger.TokenLedger, custody common.Address, oracle PriceOracle) (*Vault, error) {
	if l == nil {
		return nil, errors.New("vault: ledger not configured")
	}
	if oracle == nil {
		return nil, ErrNilOracle
	}
	return &Vault{
		ledger:    l,
		custody:   custody,
		oracle:    oracle,
		positions: make(map[PositionID]*Position),
	}, nil
}

// Custody returns the account that holds locked collateral.
func (v *Vault) Custody() common.Address { return v.custody }

// Lock moves amount from owner into custody and opens a new position.
func (v *Vault) Lock(owner common.Address, amount *big.Int) (PositionID, error) {
	if !positive(amount) {
		return 0, ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.pullLocked(owner, amount); err != nil {
		return 0, err
	}
	v.nextID++
	id := v.nextID
	v.positions[id] = &Position{ID: id, Owner: owner, Locked: new(big.Int).Set(amount)}
	return id, nil
}

// Augment adds collateral from owner to an existing position.
func (v *Vault) Augment(id PositionID, owner common.Address, amount *big.Int) error {
	if !positive(amount) {
		return ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	pos, err := v.liveLocked(id)
	if err != nil {
		return err
	}
	if pos.Owner != owner {
		return ErrNotOwner
	}
	if err := v.pullLocked(owner, amount); err != nil {
		return err
	}
	pos.Locked = new(big.Int).Add(pos.Locked, amount)
	return nil
}

// Unlock returns part of an unbound position to its owner. Bound positions
// and amounts above the locked balance fail with ErrPositionLocked.
func (v *Vault) Unlock(id PositionID, amount *big.Int) error {
	if !positive(amount) {
		return ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	pos, err := v.liveLocked(id)
	if err != nil {
		return err
	}
	if pos.LoanID != 0 {
		return fmt.Errorf("%w: loan %d", ErrPositionLocked, pos.LoanID)
	}
	if amount.Cmp(pos.Locked) > 0 {
		return fmt.Errorf("%w: position %d holds %s", ErrPositionLocked, id, pos.Locked)
	}
	if err := v.ledger.Transfer(v.custody, pos.Owner, amount); err != nil {
		return fmt.Errorf("vault: release collateral: %w", err)
	}
	pos.Locked = new(big.Int).Sub(pos.Locked, amount)
	return nil
}

// Associate binds an unbound position to a loan.
func (v *Vault) Associate(id PositionID, loanID uint64) error {
	if loanID == 0 {
		return errors.New("vault: loan id must be non-zero")
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	pos, err := v.liveLocked(id)
	if err != nil {
		return err
	}
	if pos.LoanID != 0 {
		return fmt.Errorf("%w: loan %d", ErrPositionLocked, pos.LoanID)
	}
	pos.LoanID = loanID
	return nil
}

// Settle clears the binding of a repaid loan and returns all collateral to
// the owner. It returns the amount released.
func (v *Vault) Settle(id PositionID, loanID uint64) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	pos, err := v.boundLocked(id, loanID)
	if err != nil {
		return nil, err
	}
	released := new(big.Int).Set(pos.Locked)
	if err := v.ledger.Transfer(v.custody, pos.Owner, released); err != nil {
		return nil, fmt.Errorf("vault: settle collateral: %w", err)
	}
	pos.Locked = big.NewInt(0)
	pos.LoanID = 0
	return released, nil
}

// Seize transfers the entire position to the recipient and marks it seized.
// Only the loan bound to the position may seize it.
func (v *Vault) Seize(id PositionID, loanID uint64, to common.Address) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	pos, err := v.boundLocked(id, loanID)
	if err != nil {
		return nil, err
	}
	seized := new(big.Int).Set(pos.Locked)
	if err := v.ledger.Transfer(v.custody, to, seized); err != nil {
		return nil, fmt.Errorf("vault: seize collateral: %w", err)
	}
	pos.Locked = big.NewInt(0)
	pos.Seized = true
	return seized, nil
}

// Abort releases a position opened by a loan creation that did not complete.
// Any binding is cleared and the collateral returns to the owner; the
// position is removed.
func (v *Vault) Abort(id PositionID) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	pos, err := v.liveLocked(id)
	if err != nil {
		return err
	}
	if pos.Locked.Sign() > 0 {
		if err := v.ledger.Transfer(v.custody, pos.Owner, pos.Locked); err != nil {
			return fmt.Errorf("vault: abort position: %w", err)
		}
	}
	delete(v.positions, id)
	return nil
}

// Position returns a snapshot of the position.
func (v *Vault) Position(id PositionID) (Position, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	pos, ok := v.positions[id]
	if !ok {
		return Position{}, ErrPositionNotFound
	}
	return pos.clone(), nil
}

// ValuationRatio values the locked collateral of a position against debt.
func (v *Vault) ValuationRatio(id PositionID, debt *big.Int) (*big.Int, error) {
	v.mu.Lock()
	pos, ok := v.positions[id]
	var locked *big.Int
	if ok {
		locked = new(big.Int).Set(pos.Locked)
	}
	v.mu.Unlock()
	if !ok {
		return nil, ErrPositionNotFound
	}
	return v.Ratio(locked, debt)
}

// Ratio returns priceOf(collateral) / debt as a scaled value.
func (v *Vault) Ratio(collateral, debt *big.Int) (*big.Int, error) {
	return fixedpoint.DivScaled(v.oracle.PriceOf(collateral), debt)
}

// Value returns the oracle valuation of an amount of collateral.
func (v *Vault) Value(collateral *big.Int) *big.Int {
	return v.oracle.PriceOf(collateral)
}

func (v *Vault) pullLocked(owner common.Address, amount *big.Int) error {
	if bal := v.ledger.BalanceOf(owner); bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, needs %s", ledger.ErrInsufficientBalance, owner.Hex(), bal, amount)
	}
	if err := v.ledger.Transfer(owner, v.custody, amount); err != nil {
		return fmt.Errorf("vault: lock collateral: %w", err)
	}
	return nil
}

func (v *Vault) liveLocked(id PositionID) (*Position, error) {
	pos, ok := v.positions[id]
	if !ok {
		return nil, ErrPositionNotFound
	}
	if pos.Seized {
		return nil, ErrAlreadySeized
	}
	return pos, nil
}

func (v *Vault) boundLocked(id PositionID, loanID uint64) (*Position, error) {
	pos, err := v.liveLocked(id)
	if err != nil {
		return nil, err
	}
	if loanID == 0 || pos.LoanID != loanID {
		return nil, ErrNotAssociated
	}
	return pos, nil
}

func positive(amount *big.Int) bool {
	return amount != nil && amount.Sign() > 0
}
