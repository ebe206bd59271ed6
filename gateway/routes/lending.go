package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"lendify/native/fixedpoint"
	"lendify/native/lending"
)

const lendingRequestLimit = 1 << 20 // 1 MiB

// LendingService is the engine surface exposed over HTTP. It is satisfied by
// *lending.Engine.
type LendingService interface {
	CreateLoan(borrower common.Address, principal, collateral *big.Int) (lending.LoanID, error)
	AccrueInterest(id lending.LoanID, asOf time.Time) (*lending.Loan, error)
	Repay(id lending.LoanID, amount *big.Int) (*lending.Loan, error)
	Liquidate(id lending.LoanID) (*big.Int, error)
	AddCollateral(id lending.LoanID, amount *big.Int) (*lending.Loan, error)
	Loan(id lending.LoanID) (*lending.Loan, error)
	LoansByBorrower(borrower common.Address) []*lending.Loan
	Health(id lending.LoanID, asOf time.Time) (*lending.Health, error)
}

// BalanceReader exposes ledger balances.
type BalanceReader interface {
	BalanceOf(account common.Address) *big.Int
}

var _ LendingService = (*lending.Engine)(nil)

type lendingRoutes struct {
	engine   LendingService
	balances BalanceReader
	now      func() time.Time
}

func (lr *lendingRoutes) mount(r chi.Router) {
	r.Post("/loans", lr.createLoan)
	r.Route("/loans/{id}", func(sr chi.Router) {
		sr.Get("/", lr.getLoan)
		sr.Get("/health", lr.loanHealth)
		sr.Post("/accrue", lr.accrue)
		sr.Post("/repay", lr.repay)
		sr.Post("/liquidate", lr.liquidate)
		sr.Post("/collateral", lr.addCollateral)
	})
	r.Get("/borrowers/{address}/loans", lr.borrowerLoans)
	if lr.balances != nil {
		r.Get("/accounts/{address}/balance", lr.balance)
	}
}

type createLoanRequest struct {
	Borrower   string `json:"borrower"`
	Principal  string `json:"principal"`
	Collateral string `json:"collateral"`
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type accrueRequest struct {
	AsOf *time.Time `json:"asOf,omitempty"`
}

type loanResponse struct {
	ID                uint64    `json:"id"`
	Borrower          string    `json:"borrower"`
	Principal         string    `json:"principal"`
	Collateral        string    `json:"collateral"`
	PositionID        uint64    `json:"positionId"`
	RateAtOrigination string    `json:"rateAtOrigination"`
	AccruedInterest   string    `json:"accruedInterest"`
	Debt              string    `json:"debt"`
	LastAccrual       time.Time `json:"lastAccrual"`
	CreatedAt         time.Time `json:"createdAt"`
	Status            string    `json:"status"`
}

type healthResponse struct {
	LoanID          uint64    `json:"loanId"`
	Debt            string    `json:"debt"`
	AccruedInterest string    `json:"accruedInterest"`
	CollateralValue string    `json:"collateralValue"`
	Ratio           string    `json:"ratio"`
	MinRatio        string    `json:"minRatio"`
	Liquidatable    bool      `json:"liquidatable"`
	AsOf            time.Time `json:"asOf"`
}

type liquidationResponse struct {
	LoanID uint64 `json:"loanId"`
	Seized string `json:"seized"`
}

type borrowerLoansResponse struct {
	Borrower string         `json:"borrower"`
	Loans    []loanResponse `json:"loans"`
}

type balanceResponse struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

func (lr *lendingRoutes) createLoan(w http.ResponseWriter, r *http.Request) {
	var req createLoanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	borrower, err := parseAddress(req.Borrower)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	principal, err := fixedpoint.ParseAmount(req.Principal)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	collateral, err := fixedpoint.ParseAmount(req.Collateral)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	id, err := lr.engine.CreateLoan(borrower, principal, collateral)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	loan, err := lr.engine.Loan(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/loans/%d", id))
	writeJSON(w, http.StatusCreated, newLoanResponse(loan))
}

func (lr *lendingRoutes) getLoan(w http.ResponseWriter, r *http.Request) {
	id, ok := loanIDParam(w, r)
	if !ok {
		return
	}
	loan, err := lr.engine.Loan(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newLoanResponse(loan))
}

func (lr *lendingRoutes) loanHealth(w http.ResponseWriter, r *http.Request) {
	id, ok := loanIDParam(w, r)
	if !ok {
		return
	}
	asOf := lr.now()
	if raw := strings.TrimSpace(r.URL.Query().Get("asOf")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeBadRequest(w, fmt.Errorf("invalid asOf: %w", err))
			return
		}
		asOf = parsed
	}
	health, err := lr.engine.Health(id, asOf)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		LoanID:          uint64(health.LoanID),
		Debt:            health.Debt.String(),
		AccruedInterest: health.AccruedInterest.String(),
		CollateralValue: health.CollateralValue.String(),
		Ratio:           fixedpoint.ToDecimal(health.Ratio),
		MinRatio:        fixedpoint.ToDecimal(health.MinRatio),
		Liquidatable:    health.Liquidatable,
		AsOf:            health.AsOf.UTC(),
	})
}

func (lr *lendingRoutes) accrue(w http.ResponseWriter, r *http.Request) {
	id, ok := loanIDParam(w, r)
	if !ok {
		return
	}
	var req accrueRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	asOf := lr.now()
	if req.AsOf != nil {
		asOf = *req.AsOf
	}
	loan, err := lr.engine.AccrueInterest(id, asOf)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newLoanResponse(loan))
}

func (lr *lendingRoutes) repay(w http.ResponseWriter, r *http.Request) {
	lr.withAmount(w, r, lr.engine.Repay)
}

func (lr *lendingRoutes) addCollateral(w http.ResponseWriter, r *http.Request) {
	lr.withAmount(w, r, lr.engine.AddCollateral)
}

func (lr *lendingRoutes) withAmount(w http.ResponseWriter, r *http.Request, op func(lending.LoanID, *big.Int) (*lending.Loan, error)) {
	id, ok := loanIDParam(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := fixedpoint.ParseAmount(req.Amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	loan, err := op(id, amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newLoanResponse(loan))
}

func (lr *lendingRoutes) liquidate(w http.ResponseWriter, r *http.Request) {
	id, ok := loanIDParam(w, r)
	if !ok {
		return
	}
	seized, err := lr.engine.Liquidate(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, liquidationResponse{LoanID: uint64(id), Seized: seized.String()})
}

func (lr *lendingRoutes) borrowerLoans(w http.ResponseWriter, r *http.Request) {
	borrower, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	loans := lr.engine.LoansByBorrower(borrower)
	resp := borrowerLoansResponse{Borrower: borrower.Hex(), Loans: make([]loanResponse, 0, len(loans))}
	for _, loan := range loans {
		resp.Loans = append(resp.Loans, newLoanResponse(loan))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (lr *lendingRoutes) balance(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		Address: account.Hex(),
		Balance: lr.balances.BalanceOf(account).String(),
	})
}

func newLoanResponse(loan *lending.Loan) loanResponse {
	return loanResponse{
		ID:                uint64(loan.ID),
		Borrower:          loan.Borrower.Hex(),
		Principal:         loan.Principal.String(),
		Collateral:        loan.CollateralAmount.String(),
		PositionID:        uint64(loan.PositionID),
		RateAtOrigination: fixedpoint.ToDecimal(loan.RateAtOrigination),
		AccruedInterest:   loan.AccruedInterest.String(),
		Debt:              loan.Debt().String(),
		LastAccrual:       loan.LastAccrual.UTC(),
		CreatedAt:         loan.CreatedAt.UTC(),
		Status:            loan.Status.String(),
	}
}

func loanIDParam(w http.ResponseWriter, r *http.Request) (lending.LoanID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		writeBadRequest(w, fmt.Errorf("invalid loan id %q", raw))
		return 0, false
	}
	return lending.LoanID(id), true
}

func parseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(trimmed), nil
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("missing request body")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, lendingRequestLimit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func decodeOptionalJSON(r *http.Request, dst any) error {
	err := decodeJSON(r, dst)
	if err != nil && strings.Contains(err.Error(), "empty") {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
