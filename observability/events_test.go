package observability

import (
	"math/big"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"lendify/native/lending"
)

func TestLoanMetricsCountLifecycle(t *testing.T) {
	m := Loans()
	created := testutil.ToFloat64(m.lifecycle.WithLabelValues(lending.EventLoanCreated))
	volume := testutil.ToFloat64(m.volume.WithLabelValues(lending.EventLoanCreated))

	m.Emit(lending.LoanEvent{Kind: lending.EventLoanCreated, LoanID: 1, Amount: big.NewInt(1000)})
	m.Emit(lending.LoanEvent{Kind: lending.EventLoanCreated, LoanID: 2, Amount: big.NewInt(250)})

	require.Equal(t, created+2, testutil.ToFloat64(m.lifecycle.WithLabelValues(lending.EventLoanCreated)))
	require.Equal(t, volume+1250, testutil.ToFloat64(m.volume.WithLabelValues(lending.EventLoanCreated)))

	m.SetOutstanding(big.NewInt(1250))
	require.Equal(t, float64(1250), testutil.ToFloat64(m.outstanding))
	m.SetDropped(3)
	require.Equal(t, float64(3), testutil.ToFloat64(m.dropped))
}

func TestRouteMetricsSplitOutcomes(t *testing.T) {
	m := Routes()
	okBefore := testutil.ToFloat64(m.requests.WithLabelValues("/v1/loans", http.MethodPost, "success"))
	errBefore := testutil.ToFloat64(m.errors.WithLabelValues("/v1/loans", http.MethodPost, "409"))

	m.Observe("/v1/loans", http.MethodPost, http.StatusCreated, 5*time.Millisecond)
	m.Observe("/v1/loans", http.MethodPost, http.StatusConflict, time.Millisecond)

	require.Equal(t, okBefore+1, testutil.ToFloat64(m.requests.WithLabelValues("/v1/loans", http.MethodPost, "success")))
	require.Equal(t, errBefore+1, testutil.ToFloat64(m.errors.WithLabelValues("/v1/loans", http.MethodPost, "409")))
}

func TestBigToFloat(t *testing.T) {
	require.Zero(t, bigToFloat(nil))
	huge := new(big.Int).Lsh(big.NewInt(1), 2000)
	require.Zero(t, bigToFloat(huge))
	require.Equal(t, float64(42), bigToFloat(big.NewInt(42)))
}
