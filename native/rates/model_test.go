package rates

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lendify/native/fixedpoint"
)

func TestCurrentRateLinearInUtilisation(t *testing.T) {
	model, err := NewModel(FromPercent(5, 2))
	require.NoError(t, err)

	require.Equal(t, "0.05", fixedpoint.ToDecimal(model.CurrentRate(nil)))
	require.Equal(t, "0.06", fixedpoint.ToDecimal(model.CurrentRate(fixedpoint.MustDecimal("0.5"))))
	require.Equal(t, "0.07", fixedpoint.ToDecimal(model.CurrentRate(fixedpoint.One())))
	// Utilisation above 100% is clamped.
	require.Equal(t, "0.07", fixedpoint.ToDecimal(model.CurrentRate(fixedpoint.FromInt(3))))
}

func TestCurrentRateIsDeterministic(t *testing.T) {
	model, err := NewModel(FromPercent(5, 2))
	require.NoError(t, err)
	u := fixedpoint.MustDecimal("0.37")
	require.Equal(t, 0, model.CurrentRate(u).Cmp(model.CurrentRate(u)))
}

func TestNewModelRejectsNegativeParameters(t *testing.T) {
	_, err := NewModel(Parameters{BaseRatePerPeriod: big.NewInt(-1), Slope: big.NewInt(0)})
	require.ErrorIs(t, err, ErrInvalidParameters)
}

func TestModelCopiesParameters(t *testing.T) {
	params := FromPercent(5, 2)
	model, err := NewModel(params)
	require.NoError(t, err)
	params.BaseRatePerPeriod.SetInt64(0)
	require.Equal(t, "0.05", fixedpoint.ToDecimal(model.Parameters().BaseRatePerPeriod))
}

func TestAccrueSimpleInterest(t *testing.T) {
	model, err := NewModel(FromPercent(5, 2))
	require.NoError(t, err)

	terms := Terms{Principal: big.NewInt(1000), Rate: fixedpoint.FromPercent(5), AccruedInterest: big.NewInt(0)}
	accrued, err := model.Accrue(terms, 10)
	require.NoError(t, err)
	require.Equal(t, int64(500), accrued.Int64())
	// Inputs are not mutated.
	require.Equal(t, int64(0), terms.AccruedInterest.Int64())
}

func TestAccrueTruncates(t *testing.T) {
	model, err := NewModel(FromPercent(5, 0))
	require.NoError(t, err)

	// 15 * 0.05 = 0.75 -> 0
	accrued, err := model.Accrue(Terms{Principal: big.NewInt(15), Rate: fixedpoint.FromPercent(5)}, 1)
	require.NoError(t, err)
	require.Equal(t, int64(0), accrued.Int64())

	// Truncation happens once over the span: 15 * 0.05 * 2 = 1.5 -> 1
	accrued, err = model.Accrue(Terms{Principal: big.NewInt(15), Rate: fixedpoint.FromPercent(5)}, 2)
	require.NoError(t, err)
	require.Equal(t, int64(1), accrued.Int64())
}

func TestAccrueMonotonic(t *testing.T) {
	model, err := NewModel(FromPercent(5, 2))
	require.NoError(t, err)

	prev := big.NewInt(0)
	terms := Terms{Principal: big.NewInt(12345), Rate: fixedpoint.MustDecimal("0.0371")}
	for elapsed := int64(0); elapsed < 50; elapsed++ {
		accrued, err := model.Accrue(terms, elapsed)
		require.NoError(t, err)
		require.GreaterOrEqual(t, accrued.Cmp(prev), 0)
		prev = accrued
	}
}

func TestAccrueRejectsNegativeElapsed(t *testing.T) {
	model, err := NewModel(FromPercent(5, 2))
	require.NoError(t, err)
	_, err = model.Accrue(Terms{Principal: big.NewInt(1)}, -1)
	require.ErrorIs(t, err, ErrNegativeElapsedTime)
}

func TestPeriods(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	n, err := Periods(start, start.Add(10*time.Hour+59*time.Minute), time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(10), n)

	_, err = Periods(start, start.Add(-time.Second), time.Hour)
	require.ErrorIs(t, err, ErrNegativeElapsedTime)

	_, err = Periods(start, start, 0)
	require.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestUtilisation(t *testing.T) {
	require.Equal(t, "0.25", fixedpoint.ToDecimal(Utilisation(big.NewInt(250), big.NewInt(1000))))
	require.Equal(t, int64(0), Utilisation(big.NewInt(250), big.NewInt(0)).Int64())
	require.Equal(t, int64(0), Utilisation(nil, big.NewInt(10)).Int64())
}
