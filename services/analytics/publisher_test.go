package analytics

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"lendify/native/fixedpoint"
	"lendify/native/lending"
)

type collector struct {
	mu       sync.Mutex
	payloads []EventPayload
	status   atomic.Int32
}

func (c *collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := int(c.status.Load())
	if status == 0 {
		status = http.StatusCreated
	}
	if status < 300 {
		var p EventPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c.mu.Lock()
		c.payloads = append(c.payloads, p)
		c.mu.Unlock()
	}
	w.WriteHeader(status)
}

func (c *collector) received() []EventPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]EventPayload(nil), c.payloads...)
}

func newTestPublisher(t *testing.T, endpoint string) *Publisher {
	t.Helper()
	pub, err := NewPublisher(PublisherConfig{
		Endpoint:   endpoint,
		OutboxPath: filepath.Join(t.TempDir(), "outbox.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })
	return pub
}

func loanEvent(loanID lending.LoanID, amount int64) lending.LoanEvent {
	return lending.LoanEvent{
		ID:        uuid.New(),
		LoanID:    loanID,
		Borrower:  common.HexToAddress(borrowerHex),
		Amount:    big.NewInt(amount),
		Rate:      fixedpoint.MustDecimal("0.05"),
		Kind:      lending.EventLoanCreated,
		Timestamp: testNow,
	}
}

func TestPublisherDeliversLoanEvents(t *testing.T) {
	sink := &collector{}
	ts := httptest.NewServer(sink)
	defer ts.Close()
	pub := newTestPublisher(t, ts.URL+"/")

	pub.Emit(loanEvent(1, 1000))

	got := sink.received()
	require.Len(t, got, 1)
	require.Equal(t, "1000", got[0].Amount)
	require.Equal(t, "0.05", got[0].InterestRate)
	require.Equal(t, lending.EventLoanCreated, got[0].Kind)
	pending, err := pub.Pending()
	require.NoError(t, err)
	require.Zero(t, pending)
}

func TestPublisherSpoolsAndFlushes(t *testing.T) {
	sink := &collector{}
	sink.status.Store(http.StatusServiceUnavailable)
	ts := httptest.NewServer(sink)
	defer ts.Close()
	pub := newTestPublisher(t, ts.URL)

	first := loanEvent(1, 1000)
	second := loanEvent(2, 2000)
	second.Timestamp = testNow.Add(1)
	pub.Emit(first)
	pub.Emit(second)

	pending, err := pub.Pending()
	require.NoError(t, err)
	require.Equal(t, 2, pending)

	_, err = pub.Flush(context.Background())
	require.Error(t, err, "flush keeps entries while upstream is down")
	pending, err = pub.Pending()
	require.NoError(t, err)
	require.Equal(t, 2, pending)

	sink.status.Store(http.StatusCreated)
	delivered, err := pub.Flush(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, delivered)

	got := sink.received()
	require.Len(t, got, 2)
	require.Equal(t, first.ID.String(), got[0].ID)
	require.Equal(t, second.ID.String(), got[1].ID)
	pending, err = pub.Pending()
	require.NoError(t, err)
	require.Zero(t, pending)
}

func TestPublisherDropsRejectedEvents(t *testing.T) {
	sink := &collector{}
	sink.status.Store(http.StatusBadRequest)
	ts := httptest.NewServer(sink)
	defer ts.Close()
	pub := newTestPublisher(t, ts.URL)

	err := pub.Publish(context.Background(), PayloadFromEvent(loanEvent(1, 1)))
	require.ErrorIs(t, err, errPermanent)
	pending, err := pub.Pending()
	require.NoError(t, err)
	require.Zero(t, pending)
}

func TestPublisherFeedsAnalyticsServer(t *testing.T) {
	srv, h := newTestServer(t)
	ts := httptest.NewServer(h)
	defer ts.Close()
	pub := newTestPublisher(t, ts.URL)

	pub.Emit(loanEvent(1, 1000))
	pub.Emit(loanEvent(1, 1500))

	records, err := srv.store.List(context.Background(), borrowerHex, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	checked, err := srv.store.Verify(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, checked)
}

func TestPublisherIgnoresForeignEvents(t *testing.T) {
	sink := &collector{}
	ts := httptest.NewServer(sink)
	defer ts.Close()
	pub := newTestPublisher(t, ts.URL)

	pub.Emit(foreignEvent{})
	require.Empty(t, sink.received())
}

type foreignEvent struct{}

func (foreignEvent) EventType() string { return "other" }
