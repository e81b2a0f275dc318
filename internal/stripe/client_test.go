package stripe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetinvoice/internal/billing"
	"meetinvoice/internal/logging"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	backends := stripe.NewBackendsWithConfig(&stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		HTTPClient:        srv.Client(),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	return newClient(client.New("sk_test_123", backends), logging.Discard(), "USD", 30, "run-1")
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, body any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(body))
}

func list(url string, data ...map[string]any) map[string]any {
	if data == nil {
		data = []map[string]any{}
	}
	return map[string]any{"object": "list", "url": url, "has_more": false, "data": data}
}

func TestListCustomers(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/customers", r.URL.Path)
		writeJSON(t, w, http.StatusOK, list("/v1/customers",
			map[string]any{"id": "cus_1", "object": "customer", "email": "Alice@Company1.com", "name": "Alice", "metadata": map[string]string{"hourly_rate": "200.00"}},
			map[string]any{"id": "cus_2", "object": "customer", "email": "", "name": "No Email"},
			map[string]any{"id": "cus_3", "object": "customer", "email": "bob@company2.com"},
		))
	}))

	customers, err := c.ListCustomers(context.Background())
	require.NoError(t, err)
	require.Len(t, customers, 2)

	assert.Equal(t, "cus_1", customers[0].ID)
	assert.Equal(t, "alice@company1.com", customers[0].Email)
	assert.Equal(t, "200.00", customers[0].Metadata["hourly_rate"])
	assert.Equal(t, "Unknown", customers[1].Name)
}

func TestUpdateCustomerMetadata(t *testing.T) {
	var gotForm map[string][]string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/customers/cus_1", r.URL.Path)
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		writeJSON(t, w, http.StatusOK, map[string]any{"id": "cus_1", "object": "customer"})
	}))

	require.NoError(t, c.UpdateCustomerMetadata(context.Background(), "cus_1", "hourly_rate", "300.00"))
	assert.Equal(t, []string{"300.00"}, gotForm["metadata[hourly_rate]"])
}

func TestListInvoices_WithPagedLines(t *testing.T) {
	var mu sync.Mutex
	var statuses []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/invoices":
			status := r.URL.Query().Get("status")
			mu.Lock()
			statuses = append(statuses, status)
			mu.Unlock()
			switch status {
			case "draft":
				writeJSON(t, w, http.StatusOK, list("/v1/invoices", map[string]any{
					"id": "in_draft", "object": "invoice", "status": "draft",
					"lines": map[string]any{"object": "list", "has_more": false, "url": "/v1/invoices/in_draft/lines",
						"data": []map[string]any{{"id": "il_1", "object": "line_item", "description": "A [ID:m1]"}}},
				}))
			case "paid":
				writeJSON(t, w, http.StatusOK, list("/v1/invoices", map[string]any{
					"id": "in_big", "object": "invoice", "status": "paid",
					"lines": map[string]any{"object": "list", "has_more": true, "url": "/v1/invoices/in_big/lines",
						"data": []map[string]any{{"id": "il_2", "object": "line_item", "description": "B [ID:m2]"}}},
				}))
			default:
				writeJSON(t, w, http.StatusOK, list("/v1/invoices"))
			}
		case "/v1/invoices/in_big/lines":
			writeJSON(t, w, http.StatusOK, list("/v1/invoices/in_big/lines",
				map[string]any{"id": "il_2", "object": "line_item", "description": "B [ID:m2]"},
				map[string]any{"id": "il_3", "object": "line_item", "description": "C [ID:m3]"},
			))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	invoices, err := c.ListInvoices(context.Background(), billing.ScannedStates...)
	require.NoError(t, err)
	require.Len(t, invoices, 2)

	assert.Equal(t, []string{"draft", "open", "paid", "uncollectible"}, statuses)
	assert.Equal(t, billing.StateDraft, invoices[0].State)
	assert.Equal(t, []billing.InvoiceLine{{Description: "A [ID:m1]"}}, invoices[0].Lines)
	assert.Equal(t, billing.StatePaid, invoices[1].State)
	assert.Len(t, invoices[1].Lines, 2)
}

func TestCreateDraftInvoice(t *testing.T) {
	var items []map[string][]string
	var invoiceForm map[string][]string
	var idempotencyKeys []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		idempotencyKeys = append(idempotencyKeys, r.Header.Get("Idempotency-Key"))
		switch r.URL.Path {
		case "/v1/invoices":
			invoiceForm = r.PostForm
			writeJSON(t, w, http.StatusOK, map[string]any{"id": "in_new", "object": "invoice", "status": "draft"})
		case "/v1/invoiceitems":
			items = append(items, r.PostForm)
			writeJSON(t, w, http.StatusOK, map[string]any{"id": "ii_1", "object": "invoiceitem"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	lines := []billing.LineItem{
		{MeetingID: "m1", Description: "Call [ID:m1]", Amount: decimal.RequireFromString("300.00")},
		{MeetingID: "m2", Description: "Review [ID:m2]", Amount: decimal.RequireFromString("49.50")},
	}
	id, err := c.CreateDraftInvoice(context.Background(), "cus_1", lines)
	require.NoError(t, err)
	assert.Equal(t, "in_new", id)

	assert.Equal(t, []string{"cus_1"}, invoiceForm["customer"])
	assert.Equal(t, []string{"false"}, invoiceForm["auto_advance"])
	assert.Equal(t, []string{"send_invoice"}, invoiceForm["collection_method"])
	assert.Equal(t, []string{"30"}, invoiceForm["days_until_due"])

	require.Len(t, items, 2)
	assert.Equal(t, []string{"30000"}, items[0]["amount"])
	assert.Equal(t, []string{"usd"}, items[0]["currency"])
	assert.Equal(t, []string{"in_new"}, items[0]["invoice"])
	assert.Equal(t, []string{"Call [ID:m1]"}, items[0]["description"])
	assert.Equal(t, []string{"4950"}, items[1]["amount"])

	require.Len(t, idempotencyKeys, 3)
	assert.Equal(t, draftKey("run-1", "cus_1", lines), idempotencyKeys[0])
	assert.Equal(t, "meetinvoice-item-in_new-0", idempotencyKeys[1])
	assert.Equal(t, "meetinvoice-item-in_new-1", idempotencyKeys[2])
}

func TestCreateDraftInvoice_LineItemFailure(t *testing.T) {
	calls := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/invoices":
			writeJSON(t, w, http.StatusOK, map[string]any{"id": "in_new", "object": "invoice", "status": "draft"})
		case "/v1/invoiceitems":
			calls++
			if calls == 2 {
				writeJSON(t, w, http.StatusBadRequest, map[string]any{
					"error": map[string]any{"type": "invalid_request_error", "message": "Amount too small"},
				})
				return
			}
			writeJSON(t, w, http.StatusOK, map[string]any{"id": "ii_1", "object": "invoiceitem"})
		}
	}))

	lines := []billing.LineItem{
		{MeetingID: "m1", Description: "a", Amount: decimal.NewFromInt(10)},
		{MeetingID: "m2", Description: "b", Amount: decimal.NewFromInt(10)},
		{MeetingID: "m3", Description: "c", Amount: decimal.NewFromInt(10)},
	}
	id, err := c.CreateDraftInvoice(context.Background(), "cus_1", lines)
	require.Error(t, err)
	assert.Equal(t, "in_new", id)

	var lie *billing.LineItemError
	require.ErrorAs(t, err, &lie)
	assert.Equal(t, "in_new", lie.InvoiceID)
	assert.Equal(t, 1, lie.Index)
	assert.Equal(t, 2, calls)
}

func TestCreateDraftInvoice_InvoiceFailure(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusBadRequest, map[string]any{
			"error": map[string]any{"type": "invalid_request_error", "message": "No such customer"},
		})
	}))

	id, err := c.CreateDraftInvoice(context.Background(), "cus_missing", []billing.LineItem{{MeetingID: "m1"}})
	require.Error(t, err)
	assert.Empty(t, id)

	var lie *billing.LineItemError
	assert.NotErrorAs(t, err, &lie)
}

func TestCreateDraftInvoice_SameMeetingIDTwice(t *testing.T) {
	// Stripe rejects a reused idempotency key whose parameters differ.
	seen := make(map[string]string)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		key := r.Header.Get("Idempotency-Key")
		params := r.URL.Path + "?" + r.PostForm.Encode()
		if prev, ok := seen[key]; ok && prev != params {
			writeJSON(t, w, http.StatusBadRequest, map[string]any{
				"error": map[string]any{"type": "idempotency_error", "message": "Keys for idempotent requests can only be used with the same parameters"},
			})
			return
		}
		seen[key] = params
		switch r.URL.Path {
		case "/v1/invoices":
			writeJSON(t, w, http.StatusOK, map[string]any{"id": "in_new", "object": "invoice", "status": "draft"})
		default:
			writeJSON(t, w, http.StatusOK, map[string]any{"id": "ii_1", "object": "invoiceitem"})
		}
	}))

	// Two same-day meetings with one title share their meeting id.
	lines := []billing.LineItem{
		{MeetingID: "230946167692e6da", Description: "Check-in - 2025-01-15 at 9:00 AM [ID:230946167692e6da]", Amount: decimal.NewFromInt(100)},
		{MeetingID: "230946167692e6da", Description: "Check-in - 2025-01-15 at 4:00 PM [ID:230946167692e6da]", Amount: decimal.NewFromInt(50)},
	}
	id, err := c.CreateDraftInvoice(context.Background(), "cus_1", lines)
	require.NoError(t, err)
	assert.Equal(t, "in_new", id)
	assert.Len(t, seen, 3)
}

func TestDraftKey(t *testing.T) {
	a := []billing.LineItem{{MeetingID: "m1"}, {MeetingID: "m2"}}
	b := []billing.LineItem{{MeetingID: "m2"}, {MeetingID: "m1"}}
	assert.Equal(t, draftKey("run-1", "cus_1", a), draftKey("run-1", "cus_1", b))
	assert.NotEqual(t, draftKey("run-1", "cus_1", a), draftKey("run-1", "cus_2", a))
	assert.NotEqual(t, draftKey("run-1", "cus_1", a), draftKey("run-2", "cus_1", a))
}

func TestCreateDraftInvoice_NewRunUsesNewKey(t *testing.T) {
	var keys []string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/invoices" {
			keys = append(keys, r.Header.Get("Idempotency-Key"))
			writeJSON(t, w, http.StatusOK, map[string]any{"id": "in_new", "object": "invoice", "status": "draft"})
			return
		}
		writeJSON(t, w, http.StatusOK, map[string]any{"id": "ii_1", "object": "invoiceitem"})
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	newRunClient := func(runID string) *Client {
		backends := stripe.NewBackendsWithConfig(&stripe.BackendConfig{
			URL:               stripe.String(srv.URL),
			HTTPClient:        srv.Client(),
			MaxNetworkRetries: stripe.Int64(0),
			LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
		})
		return newClient(client.New("sk_test_123", backends), logging.Discard(), "USD", 30, runID)
	}

	lines := []billing.LineItem{{MeetingID: "m1", Description: "Call [ID:m1]", Amount: decimal.NewFromInt(10)}}
	first := newRunClient("run-a")
	_, err := first.CreateDraftInvoice(context.Background(), "cus_1", lines)
	require.NoError(t, err)
	_, err = first.CreateDraftInvoice(context.Background(), "cus_1", lines)
	require.NoError(t, err)
	_, err = newRunClient("run-b").CreateDraftInvoice(context.Background(), "cus_1", lines)
	require.NoError(t, err)

	require.Len(t, keys, 3)
	assert.Equal(t, keys[0], keys[1], "a retry within one run replays the same draft")
	assert.NotEqual(t, keys[0], keys[2], "a new run must not replay an earlier draft")
}
