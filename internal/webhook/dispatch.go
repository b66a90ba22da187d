package webhook

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/webq/notify-gateway/internal/enqueue"
	"github.com/webq/notify-gateway/internal/logger"
	"github.com/webq/notify-gateway/internal/model"
	"github.com/webq/notify-gateway/internal/repository"
)

// OrderStore is the narrow collaborator through which payment events touch
// the surrounding back office's order records. Its persistence is somebody
// else's problem.
type OrderStore interface {
	MarkOrderPaid(ctx context.Context, orderID, sessionID string) error
}

// HandlerFunc runs the business effect for one event type.
type HandlerFunc func(ctx context.Context, ev model.Event) error

// Event types dispatched to templates. The mapping is a finite registry on
// purpose: an unmapped type is a visible no-op, never implicit string
// matching.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventPaymentSucceeded  = "invoice.payment_succeeded"
	EventPaymentFailed     = "invoice.payment_failed"
	EventInvoiceUpcoming   = "invoice.upcoming"
	EventSubscriptionEnded = "customer.subscription.deleted"
)

const (
	templateOrderPaid      = "design_order_paid"
	templateAdminOrderPaid = "admin_order_paid"
	templatePaymentSuccess = "payment_success"
	templatePaymentFailed  = "payment_failed"
	templateSubExpiring    = "subscription_expiring"
	templateSubEnded       = "subscription_ended"
)

// Dispatcher routes claimed events to their business handlers.
type Dispatcher struct {
	handlers map[string]HandlerFunc
}

func NewDispatcher(enq *enqueue.Enqueuer, orders OrderStore, users repository.UsersRepository) *Dispatcher {
	d := &Dispatcher{handlers: map[string]HandlerFunc{}}
	d.handlers[EventCheckoutCompleted] = checkoutCompletedHandler(enq, orders, users)
	d.handlers[EventPaymentSucceeded] = paymentNoticeHandler(enq, templatePaymentSuccess)
	d.handlers[EventPaymentFailed] = paymentNoticeHandler(enq, templatePaymentFailed)
	d.handlers[EventInvoiceUpcoming] = paymentNoticeHandler(enq, templateSubExpiring)
	d.handlers[EventSubscriptionEnded] = paymentNoticeHandler(enq, templateSubEnded)
	return d
}

// Dispatch runs the handler mapped to ev.Type. Unmapped types return
// (false, nil): accepted, counted, no effect.
func (d *Dispatcher) Dispatch(ctx context.Context, ev model.Event) (mapped bool, err error) {
	h, ok := d.handlers[ev.Type]
	if !ok {
		return false, nil
	}
	return true, h(ctx, ev)
}

// checkoutSession is the slice of the processor's session object we care
// about.
type checkoutSession struct {
	SessionID     string `json:"session_id"`
	OrderID       string `json:"order_id"`
	CustomerID    string `json:"customer_id"`
	CustomerEmail string `json:"customer_email"`
	CustomerName  string `json:"customer_name"`
	PlanName      string `json:"plan_name"`
}

func checkoutCompletedHandler(enq *enqueue.Enqueuer, orders OrderStore, users repository.UsersRepository) HandlerFunc {
	return func(ctx context.Context, ev model.Event) error {
		var s checkoutSession
		if err := json.Unmarshal(ev.Data, &s); err != nil {
			return fmt.Errorf("decode checkout session: %w", err)
		}
		if s.OrderID == "" {
			return fmt.Errorf("checkout session without order_id")
		}

		if err := orders.MarkOrderPaid(ctx, s.OrderID, s.SessionID); err != nil {
			return fmt.Errorf("mark order paid: %w", err)
		}

		name := s.CustomerName
		if name == "" {
			name = "Cliente"
		}
		vars := model.StringMap{
			"client_name": name,
			"plan_name":   s.PlanName,
			"order_id":    shortID(s.OrderID),
		}

		if s.CustomerEmail != "" {
			enq.Enqueue(ctx, enqueue.Request{
				TemplateSlug: templateOrderPaid,
				Recipients:   []string{s.CustomerEmail},
				Variables:    vars,
				ReferenceID:  ev.ID,
				Metadata:     eventMeta(ev),
			})
		}

		// Operator fan-out: admin membership is queried fresh per event and
		// enqueued as user-ref tokens, resolved at delivery time.
		adminIDs, err := users.AdminIDs(ctx)
		if err != nil {
			logger.Log.Warn("webhook: admin lookup failed, skipping fan-out",
				zap.String("event_id", ev.ID), zap.Error(err))
			return nil
		}
		if len(adminIDs) > 0 {
			enq.Enqueue(ctx, enqueue.Request{
				TemplateSlug: templateAdminOrderPaid,
				Recipients:   adminIDs,
				Variables:    vars,
				ReferenceID:  ev.ID,
				Metadata:     eventMeta(ev),
			})
		}
		return nil
	}
}

func paymentNoticeHandler(enq *enqueue.Enqueuer, templateSlug string) HandlerFunc {
	return func(ctx context.Context, ev model.Event) error {
		var s checkoutSession
		if err := json.Unmarshal(ev.Data, &s); err != nil {
			return fmt.Errorf("decode event data: %w", err)
		}

		recipient := s.CustomerEmail
		if recipient == "" {
			recipient = s.CustomerID
		}
		if recipient == "" {
			return fmt.Errorf("event %s has no recipient", ev.ID)
		}

		name := s.CustomerName
		if name == "" {
			name = "Cliente"
		}
		enq.Enqueue(ctx, enqueue.Request{
			TemplateSlug: templateSlug,
			Recipients:   []string{recipient},
			Variables: model.StringMap{
				"client_name": name,
				"plan_name":   s.PlanName,
			},
			ReferenceID: ev.ID,
			Metadata:    eventMeta(ev),
		})
		return nil
	}
}

func eventMeta(ev model.Event) model.StringMap {
	return model.StringMap{
		"event_id":   ev.ID,
		"event_type": ev.Type,
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
