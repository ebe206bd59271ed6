package main

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	engineconfig "lendify/config"
	"lendify/gateway/routes"
	"lendify/native/fixedpoint"
	"lendify/native/lending"
	"lendify/services/lendifyd/config"
)

var borrower = common.HexToAddress("0x00000000000000000000000000000000000000b1")

func testRuntime(t *testing.T, mutate func(*engineconfig.Config)) engineconfig.Runtime {
	t.Helper()
	cfg := engineconfig.Default()
	cfg.Token.Decimals = 0
	cfg.Token.InitialSupply = 1_000_000
	cfg.Accounts.ReserveFunding = "500000"
	cfg.Risk.AccrualPeriod = "1h"
	cfg.Allocations = []engineconfig.Allocation{{Address: borrower.Hex(), Amount: "2500"}}
	if mutate != nil {
		mutate(cfg)
	}
	rt, err := cfg.Runtime()
	require.NoError(t, err)
	return rt
}

func TestBuildNodeFundsAccounts(t *testing.T) {
	rt := testRuntime(t, nil)
	n, err := buildNode(rt)
	require.NoError(t, err)

	require.Equal(t, int64(500_000), n.ledger.BalanceOf(rt.Reserve).Int64())
	require.Equal(t, int64(2_500), n.ledger.BalanceOf(borrower).Int64())
	require.Equal(t, int64(1_000_000-500_000-2_500), n.ledger.BalanceOf(rt.Treasury).Int64())
	require.Equal(t, rt.Vault, n.vault.Custody())
}

func TestBuildNodeRejectsOverAllocation(t *testing.T) {
	rt := testRuntime(t, func(c *engineconfig.Config) {
		c.Accounts.ReserveFunding = "2000000"
	})
	_, err := buildNode(rt)
	require.Error(t, err)
}

func TestUtilisationRaisesOriginationRate(t *testing.T) {
	rt := testRuntime(t, nil)
	n, err := buildNode(rt)
	require.NoError(t, err)

	first, err := n.engine.CreateLoan(borrower, big.NewInt(1000), big.NewInt(2000))
	require.NoError(t, err)
	loan, err := n.engine.Loan(first)
	require.NoError(t, err)
	require.Equal(t, "0.05", fixedpoint.ToDecimal(loan.RateAtOrigination), "empty pool prices at the base rate")

	require.NoError(t, n.ledger.Transfer(rt.Treasury, borrower, big.NewInt(400_000)))
	second, err := n.engine.CreateLoan(borrower, big.NewInt(250_000), big.NewInt(375_000))
	require.NoError(t, err)
	loan, err = n.engine.Loan(second)
	require.NoError(t, err)
	// 1000 of 500000 drawn: 0.05 + 0.02 * 0.002
	require.Equal(t, "0.05004", fixedpoint.ToDecimal(loan.RateAtOrigination))
}

func TestSweeperAccruesActiveLoans(t *testing.T) {
	rt := testRuntime(t, nil)
	n, err := buildNode(rt)
	require.NoError(t, err)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	n.engine.SetNowFunc(func() time.Time { return now })

	active, err := n.engine.CreateLoan(borrower, big.NewInt(1000), big.NewInt(1600))
	require.NoError(t, err)
	repaid, err := n.engine.CreateLoan(borrower, big.NewInt(100), big.NewInt(200))
	require.NoError(t, err)
	_, err = n.engine.Repay(repaid, big.NewInt(100))
	require.NoError(t, err)

	now = start.Add(3 * time.Hour)
	s := &sweeper{engine: n.engine, now: func() time.Time { return now }}
	touched, err := s.sweep()
	require.NoError(t, err)
	require.Equal(t, 1, touched)

	loan, err := n.engine.Loan(active)
	require.NoError(t, err)
	require.Equal(t, int64(150), loan.AccruedInterest.Int64())

	n.pauses.Set("lending", true)
	touched, err = s.sweep()
	require.NoError(t, err)
	require.Zero(t, touched)
}

func TestSweeperSkipsLoansOutsideItsInstant(t *testing.T) {
	rt := testRuntime(t, nil)
	n, err := buildNode(rt)
	require.NoError(t, err)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	n.engine.SetNowFunc(func() time.Time { return start })

	id, err := n.engine.CreateLoan(borrower, big.NewInt(1000), big.NewInt(2000))
	require.NoError(t, err)

	// A pass that read its clock before the loan was created.
	stale := &sweeper{engine: n.engine, now: func() time.Time { return start.Add(-time.Minute) }}
	touched, err := stale.sweep()
	require.NoError(t, err)
	require.Zero(t, touched)

	// A pass whose clock runs ahead of the engine.
	ahead := &sweeper{engine: n.engine, now: func() time.Time { return start.Add(2 * time.Hour) }}
	touched, err = ahead.sweep()
	require.NoError(t, err)
	require.Zero(t, touched)

	loan, err := n.engine.Loan(id)
	require.NoError(t, err)
	require.Zero(t, loan.AccruedInterest.Sign())
}

func TestRoutesConfigServesEngine(t *testing.T) {
	rt := testRuntime(t, nil)
	n, err := buildNode(rt)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Observability.Metrics = false
	handler, err := routes.New(routesConfig(cfg, n, nil))
	require.NoError(t, err)

	body, err := json.Marshal(map[string]string{
		"borrower":   borrower.Hex(),
		"principal":  "1000",
		"collateral": "2000",
	})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/loans", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	loans := n.engine.LoansByBorrower(borrower)
	require.Len(t, loans, 1)
	require.Equal(t, lending.StatusActive, loans[0].Status)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code, "metrics are not mounted when disabled")
}
