// Package httpclient implements storage.Store against a remote
// splitledger server. Each device runs one of these; the server's feed
// is what makes every device's writes visible to every other device's
// subscription.
package httpclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/splitledger/splitledger/internal/feed"
	"github.com/splitledger/splitledger/internal/middleware"
	"github.com/splitledger/splitledger/internal/models"
	"github.com/splitledger/splitledger/internal/server"
	"github.com/splitledger/splitledger/internal/storage"
)

// Ensure Store implements storage.Store
var _ storage.Store = (*Store)(nil)

// Store is a remote expense store speaking the server's HTTP contract.
type Store struct {
	baseURL string
	actorID string
	client  *http.Client
}

// New creates a Store for the server at baseURL, writing as actorID.
// The default http.Client is used; pass a custom one with NewWithClient
// (tests point it at an httptest server).
func New(baseURL, actorID string) *Store {
	return NewWithClient(baseURL, actorID, http.DefaultClient)
}

// NewWithClient creates a Store using the given HTTP client.
func NewWithClient(baseURL, actorID string, client *http.Client) *Store {
	return &Store{
		baseURL: strings.TrimRight(baseURL, "/"),
		actorID: actorID,
		client:  client,
	}
}

// Close releases nothing; connections belong to the http.Client.
func (s *Store) Close() error { return nil }

// CreateExpense posts the expense record and adopts the server-assigned
// id. CreatedAt stays unset locally until the next snapshot echoes the
// stored record back.
func (s *Store) CreateExpense(ctx context.Context, groupID string, expense *models.Expense) error {
	body, err := json.Marshal(expense.Record())
	if err != nil {
		return fmt.Errorf("encode expense record: %w", err)
	}

	resp, err := s.do(ctx, http.MethodPost, s.expensesURL(groupID), bytes.NewReader(body))
	if err != nil {
		return unavailable("create expense", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return statusError("create expense", resp)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return fmt.Errorf("decode create response: %w", err)
	}
	expense.ID = created.ID
	return nil
}

// DeleteExpense removes an expense by id; a missing id is a no-op on
// the server, so any 2xx means done.
func (s *Store) DeleteExpense(ctx context.Context, groupID, id string) error {
	resp, err := s.do(ctx, http.MethodDelete, s.expensesURL(groupID)+"/"+id, nil)
	if err != nil {
		return unavailable("delete expense", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return statusError("delete expense", resp)
	}
	return nil
}

// ListExpenses fetches the full current collection.
func (s *Store) ListExpenses(ctx context.Context, groupID string) ([]models.Expense, error) {
	resp, err := s.do(ctx, http.MethodGet, s.expensesURL(groupID), nil)
	if err != nil {
		return nil, unavailable("list expenses", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("list expenses", resp)
	}

	var items []server.ExpenseItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode expense list: %w", err)
	}
	return itemsToExpenses(items), nil
}

// Subscribe opens the server's SSE feed and bridges its events into
// snapshot callbacks. The stream lives until Unsubscribe or until the
// connection drops, which surfaces as feed.ErrSubscriptionLost through
// the subscription handle. Cancelling ctx tears the stream down too.
func (s *Store) Subscribe(ctx context.Context, groupID string, fn feed.SnapshotFunc) (*feed.Subscription, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.groupURL(groupID)+"/feed", nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set(middleware.ActorHeader, s.actorID)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, unavailable("subscribe", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError("subscribe", resp)
	}

	sub := feed.NewSubscription(fn)

	// Unsubscribe closes the body, which unblocks the reader below.
	go func() {
		<-sub.Done()
		resp.Body.Close()
	}()

	go func() {
		err := s.readEvents(resp.Body, groupID, sub)
		select {
		case <-sub.Done():
			// Consumer already tore the stream down.
		default:
			if errors.Is(err, context.Canceled) {
				sub.Unsubscribe()
			} else {
				sub.Fail(fmt.Errorf("%w: %v", feed.ErrSubscriptionLost, err))
			}
		}
		resp.Body.Close()
	}()

	return sub, nil
}

// readEvents parses the SSE stream, delivering one snapshot per event.
// It returns the reason the stream ended; a server-side close with no
// error still counts as an unexpected termination.
func (s *Store) readEvents(body io.Reader, groupID string, sub *feed.Subscription) error {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var data []byte
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			if len(data) > 0 {
				s.deliver(data, groupID, sub)
				data = nil
			}
			continue
		}
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, strings.TrimPrefix(rest, " ")...)
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return io.ErrUnexpectedEOF
}

func (s *Store) deliver(data []byte, groupID string, sub *feed.Subscription) {
	var items []server.ExpenseItem
	if err := json.Unmarshal(data, &items); err != nil {
		slog.Warn("skipping malformed feed event", "group_id", groupID, "error", err)
		return
	}
	sub.Deliver(feed.Snapshot{GroupID: groupID, Expenses: itemsToExpenses(items)})
}

func itemsToExpenses(items []server.ExpenseItem) []models.Expense {
	expenses := make([]models.Expense, 0, len(items))
	for _, item := range items {
		e, err := item.ExpenseRecord.Expense(item.ID)
		if err != nil {
			// A record another writer managed to corrupt must not take
			// the whole feed down.
			slog.Warn("skipping invalid expense record", "id", item.ID, "error", err)
			continue
		}
		expenses = append(expenses, *e)
	}
	return expenses
}

func (s *Store) do(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set(middleware.ActorHeader, s.actorID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return s.client.Do(req)
}

func (s *Store) groupURL(groupID string) string {
	return s.baseURL + "/v1/groups/" + groupID
}

func (s *Store) expensesURL(groupID string) string {
	return s.groupURL(groupID) + "/expenses"
}

// statusError turns a non-success response into an error, preserving
// the server's message and tagging 5xx as store unavailability.
func statusError(op string, resp *http.Response) error {
	var apiErr struct {
		Error string `json:"error"`
	}
	msg := resp.Status
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&apiErr); err == nil && apiErr.Error != "" {
		msg = apiErr.Error
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%s: %w: %s", op, storage.ErrUnavailable, msg)
	}
	return fmt.Errorf("%s: %s (status %d)", op, msg, resp.StatusCode)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(storage.ErrUnavailable, err))
}
