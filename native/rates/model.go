package rates

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"lendify/native/fixedpoint"
)

var (
	// ErrNegativeElapsedTime is returned when accrual is requested for a
	// negative number of periods.
	ErrNegativeElapsedTime = errors.New("rates: negative elapsed time")
	// ErrInvalidParameters is returned for negative rate parameters.
	ErrInvalidParameters = errors.New("rates: invalid parameters")
	// ErrInvalidPeriod is returned when the accrual period is not positive.
	ErrInvalidPeriod = errors.New("rates: accrual period must be positive")
)

// Parameters shape the per-period borrow rate. Both values are scaled by
// fixedpoint.Scale, so a BaseRatePerPeriod of 0.05 is 5e16.
type Parameters struct {
	// BaseRatePerPeriod applies at zero utilisation.
	BaseRatePerPeriod *big.Int
	// Slope is the additional rate per unit of utilisation.
	Slope *big.Int
}

// Clone returns a deep copy of the parameters.
func (p Parameters) Clone() Parameters {
	return Parameters{
		BaseRatePerPeriod: cloneInt(p.BaseRatePerPeriod),
		Slope:             cloneInt(p.Slope),
	}
}

// FromPercent builds parameters from whole percentages, so FromPercent(5, 2)
// is a 0.05 base rate with a 0.02 slope.
func FromPercent(base, slope uint64) Parameters {
	return Parameters{
		BaseRatePerPeriod: fixedpoint.FromPercent(base),
		Slope:             fixedpoint.FromPercent(slope),
	}
}

// Terms is the subset of loan state the model reads. The model never
// mutates it.
type Terms struct {
	Principal       *big.Int
	Rate            *big.Int
	AccruedInterest *big.Int
}

// Model is an immutable two-parameter linear rate model.
type Model struct {
	params Parameters
}

// NewModel validates and captures a private copy of the parameters.
func NewModel(params Parameters) (*Model, error) {
	cloned := params.Clone()
	if cloned.BaseRatePerPeriod.Sign() < 0 || cloned.Slope.Sign() < 0 {
		return nil, ErrInvalidParameters
	}
	return &Model{params: cloned}, nil
}

// Parameters returns a copy of the configured parameters.
func (m *Model) Parameters() Parameters {
	if m == nil {
		return Parameters{BaseRatePerPeriod: big.NewInt(0), Slope: big.NewInt(0)}
	}
	return m.params.Clone()
}

// Utilisation returns borrowed/supplied as a scaled ratio. When nothing has
// been supplied utilisation is defined as zero.
func Utilisation(borrowed, supplied *big.Int) *big.Int {
	if borrowed == nil || borrowed.Sign() <= 0 || supplied == nil || supplied.Sign() <= 0 {
		return big.NewInt(0)
	}
	ratio, err := fixedpoint.DivScaled(borrowed, supplied)
	if err != nil {
		return big.NewInt(0)
	}
	return ratio
}

// CurrentRate derives the per-period rate for the supplied utilisation,
// clamped to [0, 1]. A nil utilisation is treated as zero.
func (m *Model) CurrentRate(utilisation *big.Int) *big.Int {
	if m == nil {
		return big.NewInt(0)
	}
	u := big.NewInt(0)
	if utilisation != nil && utilisation.Sign() > 0 {
		u.Set(utilisation)
		if u.Cmp(fixedpoint.Scale) > 0 {
			u.Set(fixedpoint.Scale)
		}
	}
	rate := new(big.Int).Set(m.params.BaseRatePerPeriod)
	return rate.Add(rate, fixedpoint.MulScaled(m.params.Slope, u))
}

// Accrue returns the accrued interest after elapsedPeriods additional
// periods of simple interest on the principal at terms.Rate. The result is
// never lower than terms.AccruedInterest.
func (m *Model) Accrue(terms Terms, elapsedPeriods int64) (*big.Int, error) {
	if elapsedPeriods < 0 {
		return nil, ErrNegativeElapsedTime
	}
	accrued := cloneInt(terms.AccruedInterest)
	if elapsedPeriods == 0 || terms.Principal == nil || terms.Principal.Sign() <= 0 ||
		terms.Rate == nil || terms.Rate.Sign() <= 0 {
		return accrued, nil
	}
	// One truncation for the whole span: principal*elapsed*rate / Scale.
	exposure := new(big.Int).Mul(terms.Principal, big.NewInt(elapsedPeriods))
	return accrued.Add(accrued, fixedpoint.MulScaled(exposure, terms.Rate)), nil
}

// Periods converts the span between from and to into whole accrual periods,
// truncating the remainder toward zero.
func Periods(from, to time.Time, period time.Duration) (int64, error) {
	if period <= 0 {
		return 0, ErrInvalidPeriod
	}
	if to.Before(from) {
		return 0, fmt.Errorf("%w: %s before %s", ErrNegativeElapsedTime, to.UTC().Format(time.RFC3339), from.UTC().Format(time.RFC3339))
	}
	return int64(to.Sub(from) / period), nil
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
