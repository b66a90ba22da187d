package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifygw_notifications_total",
			Help: "Queue item lifecycle counter by stage",
		},
		[]string{"stage"}, // queued|sent|failed|skipped
	)

	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifygw_webhook_events_total",
			Help: "Inbound webhook events by handling result",
		},
		[]string{"result"}, // accepted|duplicate|bad_signature|handler_error|unmapped
	)

	EscalationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notifygw_escalations_total",
			Help: "Operator alerts raised by the failure escalation monitor",
		},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		NotificationsTotal,
		WebhookEventsTotal,
		EscalationsTotal,
	)
}
