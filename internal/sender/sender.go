// Package sender performs one synchronous template send end to end:
// dedup check, recipient resolution, rendering, transport call, and
// delivery-log entries. The queue processor, the enqueuer's fallback path,
// the manual-send endpoint, and the escalation monitor all go through it.
package sender

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/webq/notify-gateway/internal/logger"
	"github.com/webq/notify-gateway/internal/mailer"
	"github.com/webq/notify-gateway/internal/model"
	"github.com/webq/notify-gateway/internal/repository"
	tmpl "github.com/webq/notify-gateway/internal/template"
)

type Request struct {
	TemplateSlug string
	Recipients   []string
	Variables    model.StringMap
	Metadata     model.StringMap
	TriggeredBy  string // "queue" | "webhook" | "manual" | "system" | "fallback"
	SkipDedup    bool

	// Manual overrides the template lookup entirely (admin composer).
	Manual *ManualContent
}

type ManualContent struct {
	Subject string
	HTML    string
}

// Outcome is a structured result; Sender never panics past its boundary.
type Outcome struct {
	Sent       bool
	Skipped    bool
	Reason     string
	ProviderID string
}

type Identity struct {
	Email string
	Name  string
}

type Sender struct {
	templates   repository.TemplatesRepository
	logs        repository.DeliveryLogRepository
	mirror      repository.CHDeliveriesRepository // optional
	mail        mailer.Mailer
	resolve     ResolveFunc
	admins      AdminsFunc // optional
	from        Identity
	dedupWindow time.Duration
	clock       clockwork.Clock
}

// ResolveFunc partitions recipient tokens into addresses, unresolved user
// refs, and malformed tokens.
type ResolveFunc func(ctx context.Context, tokens []string) (addresses, unresolved, malformed []string, err error)

// AdminsFunc returns the current admin addresses, queried fresh per send.
// When nil, templates flagged copy_to_admins send no admin copy.
type AdminsFunc func(ctx context.Context) ([]string, error)

func New(
	templates repository.TemplatesRepository,
	logs repository.DeliveryLogRepository,
	mirror repository.CHDeliveriesRepository,
	mail mailer.Mailer,
	resolve ResolveFunc,
	admins AdminsFunc,
	from Identity,
	dedupWindow time.Duration,
	clock clockwork.Clock,
) *Sender {
	if dedupWindow <= 0 {
		dedupWindow = 5 * time.Minute
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Sender{
		templates:   templates,
		logs:        logs,
		mirror:      mirror,
		mail:        mail,
		resolve:     resolve,
		admins:      admins,
		from:        from,
		dedupWindow: dedupWindow,
		clock:       clock,
	}
}

var ErrNoContent = errors.New("sender: neither template slug nor manual content")

// Send runs the full direct-send flow. The returned error reports transport
// or template failure; partition misses are logged per token and reflected
// in the Outcome, never raised.
func (s *Sender) Send(ctx context.Context, req Request) (Outcome, error) {
	if req.TemplateSlug == "" && req.Manual == nil {
		return Outcome{}, ErrNoContent
	}

	// Dedup gate, same source the queue processor reads: a recent log entry
	// with the same template and key means this logical notification already
	// went out.
	dedupKey := req.Metadata["dedup_key"]
	if !req.SkipDedup && req.TemplateSlug != "" && dedupKey != "" {
		since := s.clock.Now().Add(-s.dedupWindow)
		dup, err := s.logs.HasRecentDedup(ctx, req.TemplateSlug, dedupKey, since)
		if err != nil {
			logger.Log.Warn("sender: dedup lookup failed, proceeding",
				zap.String("template", req.TemplateSlug), zap.Error(err))
		} else if dup {
			return Outcome{Skipped: true, Reason: model.SkipReasonDuplicate}, nil
		}
	}

	var (
		rendered     tmpl.Rendered
		templateName string
		from         = s.from
		copyAdmins   bool
	)

	if req.Manual != nil {
		rendered = tmpl.Rendered{Subject: req.Manual.Subject, HTML: req.Manual.HTML}
		templateName = "Manual Email"
	} else {
		t, err := s.templates.GetBySlug(ctx, req.TemplateSlug)
		if err != nil {
			return Outcome{}, err
		}
		templateName = t.Name
		if !t.Active {
			s.appendLog(ctx, model.DeliveryLogEntry{
				TemplateSlug:   req.TemplateSlug,
				TemplateName:   templateName,
				RecipientEmail: strings.Join(req.Recipients, ", "),
				Subject:        t.Subject,
				Status:         model.DeliverySkipped,
				Variables:      req.Variables,
				Metadata:       withReason(req.Metadata, model.SkipReasonTemplateInactive),
				TriggeredBy:    req.TriggeredBy,
			})
			return Outcome{Skipped: true, Reason: model.SkipReasonTemplateInactive}, nil
		}
		rendered = tmpl.Render(t, req.Variables)
		copyAdmins = t.CopyToAdmins
		if t.SenderEmail != "" {
			from = Identity{Email: t.SenderEmail, Name: t.SenderName}
		}
	}

	addresses, unresolved, malformed, err := s.resolve(ctx, req.Recipients)
	if err != nil {
		logger.Log.Warn("sender: recipient resolution degraded",
			zap.String("template", req.TemplateSlug), zap.Error(err))
	}

	// Every dropped token gets its own skip entry so partial failures stay
	// visible to operators.
	if len(unresolved) > 0 {
		s.appendLog(ctx, model.DeliveryLogEntry{
			TemplateSlug:   req.TemplateSlug,
			TemplateName:   templateName,
			RecipientEmail: strings.Join(unresolved, ", "),
			Subject:        "[not sent] " + rendered.Subject,
			Status:         model.DeliverySkipped,
			ErrorMessage:   "recipient user not found",
			Variables:      req.Variables,
			Metadata:       withReason(req.Metadata, model.SkipReasonUserNotFound),
			TriggeredBy:    req.TriggeredBy,
		})
	}
	if len(malformed) > 0 {
		s.appendLog(ctx, model.DeliveryLogEntry{
			TemplateSlug:   req.TemplateSlug,
			TemplateName:   templateName,
			RecipientEmail: strings.Join(malformed, ", "),
			Subject:        "[not sent] " + rendered.Subject,
			Status:         model.DeliverySkipped,
			ErrorMessage:   "recipient is neither an address nor a user id",
			Variables:      req.Variables,
			Metadata:       withReason(req.Metadata, model.SkipReasonInvalidRecipient),
			TriggeredBy:    req.TriggeredBy,
		})
	}

	if len(addresses) == 0 {
		return Outcome{Skipped: true, Reason: "no deliverable recipients"}, nil
	}

	res, sendErr := s.mail.Send(ctx, mailer.Message{
		From:    from.Format(),
		To:      addresses,
		Subject: rendered.Subject,
		HTML:    rendered.HTML,
	})

	entry := model.DeliveryLogEntry{
		TemplateSlug:   req.TemplateSlug,
		TemplateName:   templateName,
		RecipientEmail: strings.Join(addresses, ", "),
		Subject:        rendered.Subject,
		Variables:      req.Variables,
		Metadata:       req.Metadata,
		TriggeredBy:    req.TriggeredBy,
	}
	if sendErr != nil {
		entry.Status = model.DeliveryFailed
		entry.ErrorMessage = sendErr.Error()
		s.appendLog(ctx, entry)
		return Outcome{}, sendErr
	}

	entry.Status = model.DeliverySent
	entry.ProviderID = res.ID
	s.appendLog(ctx, entry)

	if copyAdmins {
		s.sendAdminCopy(ctx, req, rendered, from, templateName, addresses)
	}

	return Outcome{Sent: true, ProviderID: res.ID}, nil
}

// sendAdminCopy delivers a copy of a flagged template to every admin not
// already among the original recipients. Best-effort: a failure never
// changes the primary outcome.
func (s *Sender) sendAdminCopy(ctx context.Context, req Request, rendered tmpl.Rendered, from Identity, templateName string, delivered []string) {
	if s.admins == nil {
		return
	}

	all, err := s.admins(ctx)
	if err != nil {
		logger.Log.Warn("sender: admin copy lookup failed",
			zap.String("template", req.TemplateSlug), zap.Error(err))
		return
	}

	got := make(map[string]bool, len(delivered))
	for _, a := range delivered {
		got[a] = true
	}
	var copies []string
	for _, a := range all {
		if !got[a] {
			got[a] = true
			copies = append(copies, a)
		}
	}
	if len(copies) == 0 {
		return
	}

	meta := withReason(req.Metadata, "admin_copy")
	entry := model.DeliveryLogEntry{
		TemplateSlug:   req.TemplateSlug,
		TemplateName:   templateName,
		RecipientEmail: strings.Join(copies, ", "),
		Subject:        "[cópia] " + rendered.Subject,
		Variables:      req.Variables,
		Metadata:       meta,
		TriggeredBy:    req.TriggeredBy,
	}

	res, err := s.mail.Send(ctx, mailer.Message{
		From:    from.Format(),
		To:      copies,
		Subject: "[cópia] " + rendered.Subject,
		HTML:    rendered.HTML,
	})
	if err != nil {
		logger.Log.Warn("sender: admin copy send failed",
			zap.String("template", req.TemplateSlug), zap.Error(err))
		entry.Status = model.DeliveryFailed
		entry.ErrorMessage = err.Error()
		s.appendLog(ctx, entry)
		return
	}

	entry.Status = model.DeliverySent
	entry.ProviderID = res.ID
	s.appendLog(ctx, entry)
}

// appendLog writes the authoritative MySQL entry and mirrors it to
// ClickHouse best-effort.
func (s *Sender) appendLog(ctx context.Context, entry model.DeliveryLogEntry) {
	if err := s.logs.Insert(ctx, entry); err != nil {
		logger.Log.Error("sender: delivery log insert failed",
			zap.String("template", entry.TemplateSlug), zap.Error(err))
	}
	if s.mirror != nil {
		if err := s.mirror.Insert(ctx, entry); err != nil {
			logger.Log.Warn("sender: clickhouse mirror insert failed", zap.Error(err))
		}
	}
}

func (i Identity) Format() string {
	if i.Name == "" {
		return i.Email
	}
	return i.Name + " <" + i.Email + ">"
}

func withReason(meta model.StringMap, reason string) model.StringMap {
	out := make(model.StringMap, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	out["reason"] = reason
	return out
}
