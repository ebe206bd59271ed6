package analytics

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// KindLoanRecorded tags events submitted through the legacy
// {user, amount, interestRate} body.
const KindLoanRecorded = "loan.recorded"

var (
	// ErrInvalidEvent is returned when a submitted event fails validation.
	ErrInvalidEvent = errors.New("analytics: invalid loan event")
	// ErrChainBroken is returned by Verify when a stored digest does not
	// match its recomputed value.
	ErrChainBroken = errors.New("analytics: digest chain broken")
)

// LoanEventRecord is the persisted form of a lifecycle event. Digest chains
// every record to its predecessor.
type LoanEventRecord struct {
	ID           uint      `gorm:"primaryKey" json:"seq"`
	EventID      string    `gorm:"size:36;uniqueIndex" json:"id"`
	Kind         string    `gorm:"size:64;index" json:"kind"`
	LoanID       uint64    `gorm:"index" json:"loanId"`
	Borrower     string    `gorm:"size:128;index" json:"borrower"`
	Amount       string    `gorm:"not null" json:"amount"`
	InterestRate string    `json:"interestRate,omitempty"`
	OccurredAt   time.Time `gorm:"index" json:"occurredAt"`
	PrevDigest   string    `gorm:"size:64" json:"prevDigest"`
	Digest       string    `gorm:"size:64;uniqueIndex" json:"digest"`
	CreatedAt    time.Time `json:"createdAt"`
}

// TableName pins the table name across drivers.
func (LoanEventRecord) TableName() string { return "loan_events" }

// AutoMigrate creates or updates the analytics schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&LoanEventRecord{})
}

// EventPayload is the wire form exchanged between the lending daemon and the
// analytics service. It doubles as the outbox encoding.
type EventPayload struct {
	ID           string    `json:"id" cbor:"id"`
	Kind         string    `json:"kind" cbor:"kind"`
	LoanID       uint64    `json:"loanId" cbor:"loanId"`
	Borrower     string    `json:"borrower" cbor:"borrower"`
	Amount       string    `json:"amount" cbor:"amount"`
	InterestRate string    `json:"interestRate,omitempty" cbor:"interestRate,omitempty"`
	Timestamp    time.Time `json:"timestamp" cbor:"timestamp"`
}

// Normalize validates the payload and rewrites it into canonical form:
// checksummed addresses, canonical decimals and UTC timestamps. A missing ID
// or timestamp is filled in.
func (p EventPayload) Normalize(now time.Time) (EventPayload, error) {
	p.Kind = strings.TrimSpace(p.Kind)
	if p.Kind == "" {
		return p, fmt.Errorf("%w: kind required", ErrInvalidEvent)
	}
	p.Borrower = normalizeBorrower(p.Borrower)
	if p.Borrower == "" {
		return p, fmt.Errorf("%w: borrower required", ErrInvalidEvent)
	}
	amount, err := canonicalDecimal(p.Amount)
	if err != nil {
		return p, fmt.Errorf("%w: amount: %v", ErrInvalidEvent, err)
	}
	if amount.IsNegative() {
		return p, fmt.Errorf("%w: amount must not be negative", ErrInvalidEvent)
	}
	p.Amount = amount.String()
	if strings.TrimSpace(p.InterestRate) != "" {
		rate, err := canonicalDecimal(p.InterestRate)
		if err != nil {
			return p, fmt.Errorf("%w: interestRate: %v", ErrInvalidEvent, err)
		}
		p.InterestRate = rate.String()
	} else {
		p.InterestRate = ""
	}
	if strings.TrimSpace(p.ID) == "" {
		p.ID = uuid.NewString()
	} else if parsed, err := uuid.Parse(strings.TrimSpace(p.ID)); err != nil {
		return p, fmt.Errorf("%w: id: %v", ErrInvalidEvent, err)
	} else {
		p.ID = parsed.String()
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = now
	}
	p.Timestamp = p.Timestamp.UTC().Truncate(time.Microsecond)
	return p, nil
}

func (r LoanEventRecord) payload() EventPayload {
	return EventPayload{
		ID:           r.EventID,
		Kind:         r.Kind,
		LoanID:       r.LoanID,
		Borrower:     r.Borrower,
		Amount:       r.Amount,
		InterestRate: r.InterestRate,
		Timestamp:    r.OccurredAt.UTC(),
	}
}

func normalizeBorrower(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if common.IsHexAddress(trimmed) {
		return common.HexToAddress(trimmed).Hex()
	}
	return trimmed
}

func canonicalDecimal(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Decimal{}, errors.New("value required")
	}
	return decimal.NewFromString(trimmed)
}

// flexString accepts either a JSON string or a JSON number. Legacy clients
// send amounts as bare numbers.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*f = ""
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return fmt.Errorf("expected string or number: %w", err)
	}
	*f = flexString(n.String())
	return nil
}

// submission is the union of the structured event and the legacy body.
type submission struct {
	ID           string     `json:"id"`
	Kind         string     `json:"kind"`
	LoanID       uint64     `json:"loanId"`
	Borrower     string     `json:"borrower"`
	Amount       flexString `json:"amount"`
	InterestRate flexString `json:"interestRate"`
	Timestamp    time.Time  `json:"timestamp"`
	User         string     `json:"user"`
}

func (s submission) legacy() bool {
	return strings.TrimSpace(s.Kind) == "" && strings.TrimSpace(s.User) != ""
}

func (s submission) payload() EventPayload {
	p := EventPayload{
		ID:           s.ID,
		Kind:         s.Kind,
		LoanID:       s.LoanID,
		Borrower:     s.Borrower,
		Amount:       string(s.Amount),
		InterestRate: string(s.InterestRate),
		Timestamp:    s.Timestamp,
	}
	if s.legacy() {
		p.Kind = KindLoanRecorded
		p.Borrower = s.User
	}
	return p
}
