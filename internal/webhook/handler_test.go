package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/webq/notify-gateway/internal/enqueue"
	"github.com/webq/notify-gateway/internal/model"
)

// ---- fakes ----

type fakeQueue struct{ items []model.QueueItem }

func (f *fakeQueue) Insert(ctx context.Context, item model.QueueItem) error {
	f.items = append(f.items, item)
	return nil
}
func (f *fakeQueue) FetchPending(ctx context.Context, limit int) ([]model.QueueItem, error) {
	return nil, nil
}
func (f *fakeQueue) Claim(ctx context.Context, id string) (bool, error)          { return false, nil }
func (f *fakeQueue) MarkSent(ctx context.Context, id string, at time.Time) error { return nil }
func (f *fakeQueue) MarkSkipped(ctx context.Context, id, reason string, at time.Time) error {
	return nil
}
func (f *fakeQueue) MarkFailed(ctx context.Context, id, errMsg string, at time.Time) error {
	return nil
}
func (f *fakeQueue) RevertPending(ctx context.Context, id, errMsg string) error { return nil }
func (f *fakeQueue) RecentTerminal(ctx context.Context, n int) ([]model.QueueItem, error) {
	return nil, nil
}
func (f *fakeQueue) Cleanup(ctx context.Context, terminalBefore, pendingBefore time.Time) (int64, error) {
	return 0, nil
}

type fakeEvents struct{ seen map[string]bool }

func (f *fakeEvents) Claim(ctx context.Context, eventID, eventType string) (bool, error) {
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if f.seen[eventID] {
		return false, nil
	}
	f.seen[eventID] = true
	return true, nil
}
func (f *fakeEvents) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeOrders struct {
	paid map[string]string // order id -> session id
	err  error
}

func (f *fakeOrders) MarkOrderPaid(ctx context.Context, orderID, sessionID string) error {
	if f.err != nil {
		return f.err
	}
	if f.paid == nil {
		f.paid = map[string]string{}
	}
	f.paid[orderID] = sessionID
	return nil
}

type fakeUsers struct{ adminIDs []string }

func (f *fakeUsers) EmailsByIDs(ctx context.Context, ids []string) (map[string]string, error) {
	return nil, nil
}
func (f *fakeUsers) AdminEmails(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeUsers) AdminIDs(ctx context.Context) ([]string, error)    { return f.adminIDs, nil }

// ---- harness ----

const testSecret = "whsec_test"

type harness struct {
	queue   *fakeQueue
	events  *fakeEvents
	orders  *fakeOrders
	clock   *clockwork.FakeClock
	handler *Handler
}

func newHarness(orders *fakeOrders, users *fakeUsers) *harness {
	queue := &fakeQueue{}
	events := &fakeEvents{}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	enq := enqueue.New(queue, nil, 3)
	dispatch := NewDispatcher(enq, orders, users)
	h := NewHandler(testSecret, 5*time.Minute, events, dispatch, clock)

	return &harness{queue: queue, events: events, orders: orders, clock: clock, handler: h}
}

func signedEvent(t *testing.T, h *harness, id, typ string, data any) ([]byte, string) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	body, err := json.Marshal(model.Event{ID: id, Type: typ, Data: raw})
	require.NoError(t, err)
	return body, SignHeader(body, testSecret, h.clock.Now())
}

// ---- tests ----

func TestHandle_BadSignature(t *testing.T) {
	h := newHarness(&fakeOrders{}, &fakeUsers{})
	body, _ := signedEvent(t, h, "evt_1", EventCheckoutCompleted, map[string]string{"order_id": "o1"})

	out := h.handler.Handle(context.Background(), body, "t=1,v1=deadbeef")

	require.False(t, out.Accepted)
	require.Equal(t, http.StatusBadRequest, out.StatusCode)
	require.Empty(t, h.events.seen, "no idempotency claim before the signature passes")
}

func TestHandle_MalformedEvent(t *testing.T) {
	h := newHarness(&fakeOrders{}, &fakeUsers{})

	body := []byte(`{"id":"","type":""}`)
	sig := SignHeader(body, testSecret, h.clock.Now())

	out := h.handler.Handle(context.Background(), body, sig)
	require.Equal(t, http.StatusBadRequest, out.StatusCode)
}

func TestHandle_CheckoutCompleted(t *testing.T) {
	orders := &fakeOrders{}
	admin := "00000000-0000-0000-0000-000000000001"
	h := newHarness(orders, &fakeUsers{adminIDs: []string{admin}})

	body, sig := signedEvent(t, h, "evt_1", EventCheckoutCompleted, map[string]string{
		"session_id":     "cs_1",
		"order_id":       "order-abc-123",
		"customer_email": "client@example.com",
		"customer_name":  "Maria",
		"plan_name":      "Premium",
	})

	out := h.handler.Handle(context.Background(), body, sig)
	require.True(t, out.Accepted)
	require.Equal(t, http.StatusOK, out.StatusCode)

	require.Equal(t, "cs_1", orders.paid["order-abc-123"])

	// One client notification plus one admin fan-out, both deduped on the
	// event ID.
	require.Len(t, h.queue.items, 2)
	client, adminItem := h.queue.items[0], h.queue.items[1]

	require.Equal(t, "design_order_paid", client.TemplateSlug)
	require.Equal(t, model.StringList{"client@example.com"}, client.Recipients)
	require.Equal(t, "Maria", client.Variables["client_name"])
	require.Equal(t, "order-ab", client.Variables["order_id"])
	require.Contains(t, client.DedupKey, "evt_1")

	require.Equal(t, "admin_order_paid", adminItem.TemplateSlug)
	require.Equal(t, model.StringList{admin}, adminItem.Recipients)
	require.Contains(t, adminItem.DedupKey, "evt_1")
}

func TestHandle_DuplicateDeliveryCollapses(t *testing.T) {
	orders := &fakeOrders{}
	h := newHarness(orders, &fakeUsers{})
	body, sig := signedEvent(t, h, "evt_1", EventCheckoutCompleted, map[string]string{
		"order_id":       "o1",
		"customer_email": "client@example.com",
	})

	first := h.handler.Handle(context.Background(), body, sig)
	require.Equal(t, http.StatusOK, first.StatusCode)

	second := h.handler.Handle(context.Background(), body, sig)
	require.True(t, second.Accepted)
	require.Equal(t, http.StatusOK, second.StatusCode)
	require.Equal(t, "already processed", second.Reason)

	// The business effect ran exactly once.
	require.Len(t, h.queue.items, 1)
	require.Len(t, orders.paid, 1)
}

func TestHandle_EffectFailureKeepsClaim(t *testing.T) {
	orders := &fakeOrders{err: errors.New("orders table locked")}
	h := newHarness(orders, &fakeUsers{})
	body, sig := signedEvent(t, h, "evt_1", EventCheckoutCompleted, map[string]string{
		"order_id":       "o1",
		"customer_email": "client@example.com",
	})

	out := h.handler.Handle(context.Background(), body, sig)
	require.Equal(t, http.StatusInternalServerError, out.StatusCode)

	// The marker stays: a provider retry is treated as already handled.
	retry := h.handler.Handle(context.Background(), body, sig)
	require.Equal(t, "already processed", retry.Reason)
	require.Empty(t, h.queue.items)
}

func TestHandle_UnmappedEventType(t *testing.T) {
	h := newHarness(&fakeOrders{}, &fakeUsers{})
	body, sig := signedEvent(t, h, "evt_1", "charge.refunded", map[string]string{})

	out := h.handler.Handle(context.Background(), body, sig)
	require.True(t, out.Accepted)
	require.Equal(t, http.StatusOK, out.StatusCode)
	require.Equal(t, "unmapped event type", out.Reason)
	require.Empty(t, h.queue.items)
}

func TestHandle_PaymentFailedNotice(t *testing.T) {
	h := newHarness(&fakeOrders{}, &fakeUsers{})
	body, sig := signedEvent(t, h, "evt_2", EventPaymentFailed, map[string]string{
		"customer_email": "client@example.com",
		"customer_name":  "Maria",
		"plan_name":      "Premium",
	})

	out := h.handler.Handle(context.Background(), body, sig)
	require.Equal(t, http.StatusOK, out.StatusCode)

	require.Len(t, h.queue.items, 1)
	require.Equal(t, "payment_failed", h.queue.items[0].TemplateSlug)
	require.Equal(t, model.StringList{"client@example.com"}, h.queue.items[0].Recipients)
}

func TestHandle_PaymentSucceededNotice(t *testing.T) {
	h := newHarness(&fakeOrders{}, &fakeUsers{})
	body, sig := signedEvent(t, h, "evt_4", EventPaymentSucceeded, map[string]string{
		"customer_email": "client@example.com",
		"customer_name":  "Maria",
		"plan_name":      "Premium",
	})

	out := h.handler.Handle(context.Background(), body, sig)
	require.Equal(t, http.StatusOK, out.StatusCode)

	require.Len(t, h.queue.items, 1)
	require.Equal(t, "payment_success", h.queue.items[0].TemplateSlug)
	require.Equal(t, model.StringList{"client@example.com"}, h.queue.items[0].Recipients)
	require.Equal(t, enqueue.DedupKey("payment_success", []string{"client@example.com"}, "evt_4"), h.queue.items[0].DedupKey)
}

func TestHandle_InvoiceUpcomingNotice(t *testing.T) {
	h := newHarness(&fakeOrders{}, &fakeUsers{})
	body, sig := signedEvent(t, h, "evt_5", EventInvoiceUpcoming, map[string]string{
		"customer_email": "client@example.com",
		"plan_name":      "Premium",
	})

	out := h.handler.Handle(context.Background(), body, sig)
	require.Equal(t, http.StatusOK, out.StatusCode)

	require.Len(t, h.queue.items, 1)
	require.Equal(t, "subscription_expiring", h.queue.items[0].TemplateSlug)
	require.Equal(t, model.StringList{"client@example.com"}, h.queue.items[0].Recipients)
}

func TestHandle_SubscriptionEndedFallsBackToCustomerID(t *testing.T) {
	h := newHarness(&fakeOrders{}, &fakeUsers{})
	body, sig := signedEvent(t, h, "evt_3", EventSubscriptionEnded, map[string]string{
		"customer_id": "00000000-0000-0000-0000-00000000000c",
	})

	out := h.handler.Handle(context.Background(), body, sig)
	require.Equal(t, http.StatusOK, out.StatusCode)

	require.Len(t, h.queue.items, 1)
	require.Equal(t, "subscription_ended", h.queue.items[0].TemplateSlug)
	require.Equal(t, model.StringList{"00000000-0000-0000-0000-00000000000c"}, h.queue.items[0].Recipients)
}
