package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"lendify/core/events"
	"lendify/native/fixedpoint"
	"lendify/native/lending"
)

var bucketOutbox = []byte("outbox")

// errPermanent marks deliveries the analytics service rejected outright;
// they are dropped instead of spooled.
var errPermanent = errors.New("analytics: event rejected")

const defaultPublishTimeout = 5 * time.Second

type PublisherConfig struct {
	// Endpoint is the analytics service base URL, e.g. http://analytics:3000.
	Endpoint string
	// OutboxPath is the bbolt file holding undelivered events.
	OutboxPath string
	Timeout    time.Duration
	Client     *http.Client
	Logger     *slog.Logger
}

// Publisher posts lifecycle events to the analytics service. Events that
// cannot be delivered are spooled to the outbox and retried by Flush.
type Publisher struct {
	url    string
	client *http.Client
	db     *bolt.DB
	logger *slog.Logger
}

var _ events.Emitter = (*Publisher)(nil)

func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("analytics: publisher endpoint required")
	}
	if strings.TrimSpace(cfg.OutboxPath) == "" {
		return nil, errors.New("analytics: outbox path required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	db, err := bolt.Open(cfg.OutboxPath, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("analytics: open outbox: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketOutbox)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("analytics: init outbox: %w", err)
	}
	return &Publisher{url: endpoint + "/analytics/loans", client: client, db: db, logger: logger}, nil
}

// Emit implements events.Emitter. Only lending events are published.
func (p *Publisher) Emit(evt events.Event) {
	loanEvt, ok := evt.(lending.LoanEvent)
	if !ok {
		return
	}
	payload := PayloadFromEvent(loanEvt)
	ctx, cancel := context.WithTimeout(context.Background(), defaultPublishTimeout)
	defer cancel()
	if err := p.Publish(ctx, payload); err != nil {
		p.logger.Warn("analytics publish failed",
			slog.String("event_id", payload.ID),
			slog.String("kind", payload.Kind),
			slog.Any("error", err))
	}
}

// Publish delivers the payload, spooling it on transient failure.
func (p *Publisher) Publish(ctx context.Context, payload EventPayload) error {
	err := p.deliver(ctx, payload)
	if err == nil || errors.Is(err, errPermanent) {
		return err
	}
	if spoolErr := p.spool(payload); spoolErr != nil {
		return errors.Join(err, spoolErr)
	}
	return fmt.Errorf("spooled for redelivery: %w", err)
}

// Flush redelivers spooled events in key order and removes each one once it
// is accepted or permanently rejected. It stops at the first transient
// failure.
func (p *Publisher) Flush(ctx context.Context) (int, error) {
	type entry struct {
		key     []byte
		payload EventPayload
	}
	var pending []entry
	err := p.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOutbox).ForEach(func(k, v []byte) error {
			payload, err := decodePayload(v)
			if err != nil {
				return fmt.Errorf("decode outbox entry %s: %w", k, err)
			}
			pending = append(pending, entry{key: append([]byte(nil), k...), payload: payload})
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("analytics: read outbox: %w", err)
	}
	delivered := 0
	for _, item := range pending {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		err := p.deliver(ctx, item.payload)
		if err != nil && !errors.Is(err, errPermanent) {
			return delivered, err
		}
		if err != nil {
			p.logger.Warn("dropping rejected analytics event",
				slog.String("event_id", item.payload.ID),
				slog.Any("error", err))
		} else {
			delivered++
		}
		if err := p.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(bucketOutbox).Delete(item.key)
		}); err != nil {
			return delivered, fmt.Errorf("analytics: trim outbox: %w", err)
		}
	}
	return delivered, nil
}

// Pending reports the number of spooled events.
func (p *Publisher) Pending() (int, error) {
	n := 0
	err := p.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketOutbox).Stats().KeyN
		return nil
	})
	return n, err
}

func (p *Publisher) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *Publisher) deliver(ctx context.Context, payload EventPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", errPermanent, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("analytics: upstream status %d", resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", errPermanent, resp.StatusCode)
	}
}

// spool keys entries by timestamp then ID so Flush replays in order.
func (p *Publisher) spool(payload EventPayload) error {
	encoded, err := encodePayload(payload)
	if err != nil {
		return err
	}
	key := []byte(payload.Timestamp.UTC().Format("20060102T150405.000000000Z") + "/" + payload.ID)
	return p.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOutbox).Put(key, encoded)
	})
}

// PayloadFromEvent converts a lending event to its wire form. Rates render as
// decimals; amounts stay in base units.
func PayloadFromEvent(evt lending.LoanEvent) EventPayload {
	payload := EventPayload{
		ID:        evt.ID.String(),
		Kind:      evt.Kind,
		LoanID:    uint64(evt.LoanID),
		Borrower:  evt.Borrower.Hex(),
		Amount:    "0",
		Timestamp: evt.Timestamp.UTC(),
	}
	if evt.Amount != nil {
		payload.Amount = evt.Amount.String()
	}
	if evt.Rate != nil {
		payload.InterestRate = fixedpoint.ToDecimal(evt.Rate)
	}
	return payload
}
