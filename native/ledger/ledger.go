package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	// ErrInsufficientBalance is returned when the source account cannot cover a
	// transfer.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	// ErrInvalidAmount is returned for negative amounts or amounts that do not
	// fit in 256 bits.
	ErrInvalidAmount = errors.New("ledger: invalid amount")
	// ErrSupplyOverflow is returned when minting would overflow the total
	// supply.
	ErrSupplyOverflow = errors.New("ledger: total supply overflow")
)

// TokenLedger is the transfer capability consumed by the lending modules. The
// core never relies on anything beyond these two operations.
type TokenLedger interface {
	Transfer(from, to common.Address, amount *big.Int) error
	BalanceOf(account common.Address) *big.Int
}

// Metadata describes the fungible token tracked by a Ledger.
type Metadata struct {
	Name     string
	Symbol   string
	Decimals uint8
}

// Ledger is an in-memory ERC20-style balance sheet. All entry points are
// serialised by a single mutex so concurrent callers never observe a
// half-applied transfer.
type Ledger struct {
	mu       sync.Mutex
	meta     Metadata
	balances map[common.Address]*uint256.Int
	supply   *uint256.Int
}

var _ TokenLedger = (*Ledger)(nil)

// New constructs an empty ledger for the supplied token metadata.
func New(meta Metadata) *Ledger {
	meta.Name = strings.TrimSpace(meta.Name)
	meta.Symbol = strings.ToUpper(strings.TrimSpace(meta.Symbol))
	return &Ledger{
		meta:     meta,
		balances: make(map[common.Address]*uint256.Int),
		supply:   new(uint256.Int),
	}
}

// NewWithSupply constructs a ledger and mints the initial supply, expressed in
// whole tokens, to the treasury. This mirrors an ERC20 constructor that mints
// supply * 10^decimals to the deployer.
func NewWithSupply(meta Metadata, treasury common.Address, wholeTokens uint64) (*Ledger, error) {
	l := New(meta)
	if wholeTokens == 0 {
		return l, nil
	}
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(meta.Decimals)), nil)
	supply := new(big.Int).Mul(new(big.Int).SetUint64(wholeTokens), unit)
	if err := l.Mint(treasury, supply); err != nil {
		return nil, err
	}
	return l, nil
}

// Metadata returns the token description.
func (l *Ledger) Metadata() Metadata {
	if l == nil {
		return Metadata{}
	}
	return l.meta
}

// Mint credits freshly issued tokens to the account.
func (l *Ledger) Mint(to common.Address, amount *big.Int) error {
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	newSupply, overflow := new(uint256.Int).AddOverflow(l.supply, value)
	if overflow {
		return ErrSupplyOverflow
	}
	l.supply = newSupply
	l.balances[to] = new(uint256.Int).Add(l.balanceLocked(to), value)
	return nil
}

// Transfer moves amount from one account to another. A zero amount is a
// successful no-op.
func (l *Ledger) Transfer(from, to common.Address, amount *big.Int) error {
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if value.IsZero() {
		return nil
	}
	fromBal := l.balanceLocked(from)
	if fromBal.Lt(value) {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, from.Hex(), fromBal.Dec(), value.Dec())
	}
	l.balances[from] = new(uint256.Int).Sub(fromBal, value)
	// Re-read after the debit so self-transfers stay balanced.
	l.balances[to] = new(uint256.Int).Add(l.balanceLocked(to), value)
	return nil
}

// BalanceOf returns a copy of the account balance.
func (l *Ledger) BalanceOf(account common.Address) *big.Int {
	if l == nil {
		return big.NewInt(0)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceLocked(account).ToBig()
}

// TotalSupply returns the amount minted so far.
func (l *Ledger) TotalSupply() *big.Int {
	if l == nil {
		return big.NewInt(0)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.supply.ToBig()
}

func (l *Ledger) balanceLocked(account common.Address) *uint256.Int {
	if bal, ok := l.balances[account]; ok {
		return bal
	}
	return new(uint256.Int)
}

func toUint256(amount *big.Int) (*uint256.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, fmt.Errorf("%w: exceeds 256 bits", ErrInvalidAmount)
	}
	return value, nil
}
