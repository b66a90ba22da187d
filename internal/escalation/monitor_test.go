package escalation

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/webq/notify-gateway/internal/mailer"
	"github.com/webq/notify-gateway/internal/model"
	"github.com/webq/notify-gateway/internal/sender"
)

type fakeQueue struct{ terminal []model.QueueItem }

func (f *fakeQueue) Insert(ctx context.Context, item model.QueueItem) error { return nil }
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
	if n < len(f.terminal) {
		return f.terminal[:n], nil
	}
	return f.terminal, nil
}
func (f *fakeQueue) Cleanup(ctx context.Context, terminalBefore, pendingBefore time.Time) (int64, error) {
	return 0, nil
}

type fakeUsers struct{ admins []string }

func (f *fakeUsers) EmailsByIDs(ctx context.Context, ids []string) (map[string]string, error) {
	return nil, nil
}
func (f *fakeUsers) AdminEmails(ctx context.Context) ([]string, error) { return f.admins, nil }
func (f *fakeUsers) AdminIDs(ctx context.Context) ([]string, error)    { return nil, nil }

type fakeTemplates struct{}

func (fakeTemplates) GetBySlug(ctx context.Context, slug string) (model.EmailTemplate, error) {
	return model.EmailTemplate{
		Slug: slug, Name: "System alert",
		Subject: "[ALERTA] {{alert_type}}",
		HTML:    "<p>{{alert_message}}</p>",
		Active:  true,
	}, nil
}

type fakeLogs struct{ entries []model.DeliveryLogEntry }

func (f *fakeLogs) Insert(ctx context.Context, entry model.DeliveryLogEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}
func (f *fakeLogs) HasRecentDedup(ctx context.Context, templateSlug, dedupKey string, since time.Time) (bool, error) {
	for _, e := range f.entries {
		if e.TemplateSlug == templateSlug && e.Metadata["dedup_key"] == dedupKey {
			return true, nil
		}
	}
	return false, nil
}

type fakeMailer struct{ sent []mailer.Message }

func (f *fakeMailer) Send(ctx context.Context, msg mailer.Message) (mailer.Result, error) {
	f.sent = append(f.sent, msg)
	return mailer.Result{ID: "prov-1"}, nil
}

func terminalItems(statuses ...model.QueueStatus) []model.QueueItem {
	out := make([]model.QueueItem, len(statuses))
	for i, st := range statuses {
		out[i] = model.QueueItem{ID: string(rune('a' + i)), Status: st}
	}
	return out
}

func newMonitor(queue *fakeQueue, users *fakeUsers, mail *fakeMailer) *Monitor {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC))
	direct := sender.New(fakeTemplates{}, &fakeLogs{}, nil, mail,
		func(ctx context.Context, tokens []string) (a, u, m []string, err error) {
			return tokens, nil, nil, nil
		},
		nil,
		sender.Identity{Email: "no-reply@webq.com.br"}, 5*time.Minute, clock)

	return New(Config{Threshold: 5}, queue, users, direct, nil, clock)
}

func TestCheck_FullFailureStreakAlerts(t *testing.T) {
	queue := &fakeQueue{terminal: terminalItems(
		model.QueueFailed, model.QueueFailed, model.QueueFailed, model.QueueFailed, model.QueueFailed,
	)}
	mail := &fakeMailer{}
	m := newMonitor(queue, &fakeUsers{admins: []string{"ops@webq.com.br"}}, mail)

	escalated, err := m.Check(context.Background())
	require.NoError(t, err)
	require.True(t, escalated)

	require.Len(t, mail.sent, 1)
	require.Equal(t, []string{"ops@webq.com.br"}, mail.sent[0].To)
	require.Contains(t, mail.sent[0].Subject, "consecutive notification queue failures")
}

func TestCheck_StreakBrokenByNonFailure(t *testing.T) {
	// Newest first: a success at the head means no current streak no matter
	// how bad the history behind it is.
	queue := &fakeQueue{terminal: terminalItems(
		model.QueueSent, model.QueueFailed, model.QueueFailed, model.QueueFailed, model.QueueFailed,
	)}
	mail := &fakeMailer{}
	m := newMonitor(queue, &fakeUsers{admins: []string{"ops@webq.com.br"}}, mail)

	escalated, err := m.Check(context.Background())
	require.NoError(t, err)
	require.False(t, escalated)
	require.Empty(t, mail.sent)
}

func TestCheck_StreakBelowThreshold(t *testing.T) {
	queue := &fakeQueue{terminal: terminalItems(
		model.QueueFailed, model.QueueFailed, model.QueueFailed,
	)}
	mail := &fakeMailer{}
	m := newMonitor(queue, &fakeUsers{admins: []string{"ops@webq.com.br"}}, mail)

	escalated, err := m.Check(context.Background())
	require.NoError(t, err)
	require.False(t, escalated)
	require.Empty(t, mail.sent)
}

func TestCheck_NoAdminsConfigured(t *testing.T) {
	queue := &fakeQueue{terminal: terminalItems(
		model.QueueFailed, model.QueueFailed, model.QueueFailed, model.QueueFailed, model.QueueFailed,
	)}
	mail := &fakeMailer{}
	m := newMonitor(queue, &fakeUsers{}, mail)

	escalated, err := m.Check(context.Background())
	require.NoError(t, err)
	require.False(t, escalated)
	require.Empty(t, mail.sent)
}

func TestCheck_RepeatInSameHourSuppressedWithoutRedis(t *testing.T) {
	queue := &fakeQueue{terminal: terminalItems(
		model.QueueFailed, model.QueueFailed, model.QueueFailed, model.QueueFailed, model.QueueFailed,
	)}
	mail := &fakeMailer{}
	logs := &fakeLogs{}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC))
	direct := sender.New(fakeTemplates{}, logs, nil, mail,
		func(ctx context.Context, tokens []string) (a, u, m []string, err error) {
			return tokens, nil, nil, nil
		},
		nil,
		sender.Identity{Email: "no-reply@webq.com.br"}, 5*time.Minute, clock)
	m := New(Config{Threshold: 5}, queue, &fakeUsers{admins: []string{"ops@webq.com.br"}}, direct, nil, clock)

	escalated, err := m.Check(context.Background())
	require.NoError(t, err)
	require.True(t, escalated)
	require.Len(t, mail.sent, 1)

	// Cron fires again a minute later while the outage persists. With no
	// Redis wired the delivery-log dedup alone must suppress the repeat.
	clock.Advance(time.Minute)
	escalated, err = m.Check(context.Background())
	require.NoError(t, err)
	require.False(t, escalated)
	require.Len(t, mail.sent, 1)
}

func TestBucketKey_HourGranularity(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 10, 12, 59, 0, 0, time.UTC))
	m := New(Config{}, &fakeQueue{}, &fakeUsers{}, nil, nil, clock)

	require.Equal(t, "alert:system_alert:2026-03-10T12", m.bucketKey())

	clock.Advance(2 * time.Minute)
	require.Equal(t, "alert:system_alert:2026-03-10T13", m.bucketKey())
}
