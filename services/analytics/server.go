package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"nhooyr.io/websocket"

	"lendify/gateway/middleware"
)

const (
	maxEventBody   = 64 << 10
	wsWriteTimeout = 10 * time.Second
	// legacyAck is the plain-text acknowledgement legacy clients expect.
	legacyAck = "Loan data stored."
)

type Config struct {
	Store  *Store
	Logger *slog.Logger
	Now    func() time.Time
}

// Server exposes the analytics store over HTTP.
type Server struct {
	store  *Store
	logger *slog.Logger
	now    func() time.Time
	hub    *hub
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("analytics: store required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Server{store: cfg.Store, logger: logger, now: now, hub: newHub()}, nil
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Route("/analytics", func(sr chi.Router) {
		sr.Post("/loans", s.recordLoan)
		sr.Get("/loans", s.listLoans)
		sr.Get("/loans/stream", s.streamLoans)
		sr.Get("/verify", s.verify)
	})
	return otelhttp.NewHandler(r, "analytics")
}

func (s *Server) recordLoan(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var sub submission
	if err := json.NewDecoder(io.LimitReader(r.Body, maxEventBody)).Decode(&sub); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	payload, err := sub.payload().Normalize(s.now())
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid_event", err.Error())
		return
	}
	record, created, err := s.store.Append(r.Context(), payload)
	if err != nil {
		s.logger.Error("store loan event", slog.String("event_id", payload.ID), slog.Any("error", err))
		middleware.WriteError(w, http.StatusInternalServerError, "internal", "failed to store event")
		return
	}
	if created {
		s.hub.publish(record)
		s.logger.Info("loan recorded",
			slog.String("kind", record.Kind),
			slog.String("borrower", record.Borrower),
			slog.String("amount", record.Amount),
			slog.String("interest_rate", record.InterestRate))
	}
	if sub.legacy() {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(legacyAck))
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, record)
}

func (s *Server) listLoans(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			middleware.WriteError(w, http.StatusBadRequest, "bad_request", "invalid limit")
			return
		}
		limit = parsed
	}
	records, err := s.store.List(r.Context(), r.URL.Query().Get("borrower"), limit)
	if err != nil {
		s.logger.Error("list loan events", slog.Any("error", err))
		middleware.WriteError(w, http.StatusInternalServerError, "internal", "failed to list events")
		return
	}
	if records == nil {
		records = []LoanEventRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": records})
}

func (s *Server) verify(w http.ResponseWriter, r *http.Request) {
	checked, err := s.store.Verify(r.Context())
	if err != nil {
		if errors.Is(err, ErrChainBroken) {
			s.logger.Warn("analytics chain verification failed", slog.Any("error", err))
			middleware.WriteError(w, http.StatusConflict, "chain_broken", err.Error())
			return
		}
		middleware.WriteError(w, http.StatusInternalServerError, "internal", "verification failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"verified": checked, "ok": true})
}

func (s *Server) streamLoans(w http.ResponseWriter, r *http.Request) {
	borrower := normalizeBorrower(r.URL.Query().Get("borrower"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.stream(ctx, conn, borrower); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && !errors.Is(err, context.Canceled) {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) stream(ctx context.Context, conn *websocket.Conn, borrower string) error {
	updates, cancel := s.hub.subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case record, ok := <-updates:
			if !ok {
				return nil
			}
			if borrower != "" && record.Borrower != borrower {
				continue
			}
			if err := writeRecord(ctx, conn, record); err != nil {
				return err
			}
		}
	}
}

func writeRecord(ctx context.Context, conn *websocket.Conn, record LoanEventRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
