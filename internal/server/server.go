// Package server exposes the expense record store contract over HTTP.
//
// Routes:
//
//	POST   /v1/groups/{group}/expenses      create an expense record
//	GET    /v1/groups/{group}/expenses      full current collection
//	DELETE /v1/groups/{group}/expenses/{id} idempotent delete
//	GET    /v1/groups/{group}/feed          SSE stream of full snapshots
//	GET    /v1/groups/{group}/balances      computed net balances
//	GET    /metrics                         Prometheus metrics
//
// The feed carries complete collections, never deltas: the first event
// fires immediately with current state, and every visible create or
// delete (this client's own writes included) triggers another. Clients
// recompute what they derive from each event.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/splitledger/splitledger/internal/calculator"
	"github.com/splitledger/splitledger/internal/feed"
	"github.com/splitledger/splitledger/internal/metrics"
	"github.com/splitledger/splitledger/internal/middleware"
	"github.com/splitledger/splitledger/internal/models"
	"github.com/splitledger/splitledger/internal/storage"
)

// ExpenseItem is one element of the collection representation: the
// persisted record plus its store-assigned id.
type ExpenseItem struct {
	ID string `json:"id"`
	models.ExpenseRecord
}

// Server serves the store contract for any number of remote writers.
type Server struct {
	store storage.Store
}

// New creates a Server over the given store.
func New(store storage.Store) *Server {
	return &Server{store: store}
}

// Handler returns the full handler chain: routing plus actor, CORS,
// logging, and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/groups/{group}/expenses", s.createExpense)
	mux.HandleFunc("GET /v1/groups/{group}/expenses", s.listExpenses)
	mux.HandleFunc("DELETE /v1/groups/{group}/expenses/{id}", s.deleteExpense)
	mux.HandleFunc("GET /v1/groups/{group}/feed", s.streamFeed)
	mux.HandleFunc("GET /v1/groups/{group}/balances", s.balances)
	mux.Handle("GET /metrics", metrics.Handler())

	return middleware.Logging(middleware.CORS(middleware.Actor(mux)))
}

func (s *Server) createExpense(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("group")

	var rec models.ExpenseRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode expense record: %w", err))
		return
	}
	if rec.CreatedBy == "" {
		rec.CreatedBy = middleware.GetActorID(r.Context())
	}

	expense, err := rec.Expense("")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.store.CreateExpense(r.Context(), groupID, expense); err != nil {
		writeStoreError(w, err)
		return
	}
	metrics.ExpenseCreated()

	writeJSON(w, http.StatusCreated, map[string]string{"id": expense.ID})
}

func (s *Server) listExpenses(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("group")

	expenses, err := s.store.ListExpenses(r.Context(), groupID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	// Stable display order regardless of the backing store's ordering.
	models.SortExpenses(expenses)

	writeJSON(w, http.StatusOK, toItems(expenses))
}

func (s *Server) deleteExpense(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("group")
	id := r.PathValue("id")

	if err := s.store.DeleteExpense(r.Context(), groupID, id); err != nil {
		writeStoreError(w, err)
		return
	}
	metrics.ExpenseDeleted()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) streamFeed(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("group")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming not supported"))
		return
	}

	// Hand snapshots to the writing loop without ever blocking the
	// feed's delivery goroutine: a stale pending snapshot is replaced
	// by the newest, which supersedes it anyway.
	snapshots := make(chan feed.Snapshot, 1)
	sub, err := s.store.Subscribe(r.Context(), groupID, func(snap feed.Snapshot) {
		for {
			select {
			case snapshots <- snap:
				return
			default:
			}
			select {
			case <-snapshots:
			default:
			}
		}
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	defer sub.Unsubscribe()

	metrics.SubscriberConnected()
	defer metrics.SubscriberDisconnected()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done():
			return
		case snap := <-snapshots:
			payload, err := json.Marshal(toItems(snap.Expenses))
			if err != nil {
				slog.Error("failed to marshal snapshot", "group_id", groupID, "error", err)
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) balances(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("group")

	expenses, err := s.store.ListExpenses(r.Context(), groupID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	balances := calculator.Balances(expenses)

	type transfer struct {
		From   string `json:"from"`
		To     string `json:"to"`
		Amount string `json:"amount"`
	}
	resp := struct {
		Balances    map[string]string `json:"balances"`
		Settlements []transfer        `json:"settlements"`
	}{
		Balances: make(map[string]string, len(balances)),
	}
	for name, bal := range balances {
		resp.Balances[name] = bal.StringFixed(2)
	}
	for _, edge := range calculator.Settlements(balances) {
		resp.Settlements = append(resp.Settlements, transfer{
			From:   edge.From,
			To:     edge.To,
			Amount: edge.Amount.StringFixed(2),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func toItems(expenses []models.Expense) []ExpenseItem {
	items := make([]ExpenseItem, len(expenses))
	for i := range expenses {
		items[i] = ExpenseItem{ID: expenses[i].ID, ExpenseRecord: expenses[i].Record()}
	}
	return items
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func writeStoreError(w http.ResponseWriter, err error) {
	slog.Error("store operation failed", "error", err)
	if errors.Is(err, storage.ErrUnavailable) {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
