package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/cimcon/p2p/internal/procurement"
	"github.com/cimcon/p2p/internal/shared"
)

// ErrMailEnqueue reports a notification that could not be queued.
var ErrMailEnqueue = shared.NewError(shared.KindIntegration, "mail_enqueue_failed", "jobs: mail could not be queued")

// MailEnqueuer queues mail tasks.
type MailEnqueuer interface {
	EnqueueSendEmail(ctx context.Context, payload SendEmailPayload) (*asynq.TaskInfo, error)
}

// DecisionMailer turns purchase order decisions into queued mails. Approvals
// go to the vendor contact, rejections to the purchase mailbox.
type DecisionMailer struct {
	queue   MailEnqueuer
	mailbox string
	logger  *slog.Logger
}

// NewDecisionMailer builds a procurement.Notifier backed by the mail queue.
func NewDecisionMailer(queue MailEnqueuer, mailbox string, logger *slog.Logger) *DecisionMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &DecisionMailer{queue: queue, mailbox: mailbox, logger: logger}
}

// NotifyDecision implements procurement.Notifier.
func (m *DecisionMailer) NotifyDecision(ctx context.Context, evt procurement.DecisionEvent) error {
	payload, ok := m.compose(evt)
	if !ok {
		m.logger.Info("po decision mail skipped", slog.String("po_number", evt.PONumber), slog.String("action", string(evt.Action)))
		return nil
	}
	if _, err := m.queue.EnqueueSendEmail(ctx, payload); err != nil {
		return fmt.Errorf("%w: %s mail for %s: %w", ErrMailEnqueue, evt.Action, evt.PONumber, err)
	}
	return nil
}

func (m *DecisionMailer) compose(evt procurement.DecisionEvent) (SendEmailPayload, bool) {
	date := evt.At.Format("02-01-2006")
	switch evt.Action {
	case procurement.ActionApproved:
		if evt.VendorEmail == "" {
			return SendEmailPayload{}, false
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Dear %s,\n\n", evt.VendorName)
		fmt.Fprintf(&b, "Purchase order %s has been approved on %s by %s.\n", evt.PONumber, date, evt.Actor)
		b.WriteString("Please acknowledge the order and confirm the delivery schedule.\n\nRegards,\nPurchase Team")
		return SendEmailPayload{Kind: "po_approved", To: evt.VendorEmail, Subject: "Purchase Order " + evt.PONumber + " approved", Body: b.String()}, true
	case procurement.ActionRejected:
		if m.mailbox == "" {
			return SendEmailPayload{}, false
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Purchase order %s raised by %s was rejected on %s by %s.\n\n", evt.PONumber, evt.CreatedBy, date, evt.Actor)
		fmt.Fprintf(&b, "Remarks: %s\n", evt.Remarks)
		return SendEmailPayload{Kind: "po_rejected", To: m.mailbox, Subject: "Purchase Order " + evt.PONumber + " rejected", Body: b.String()}, true
	}
	return SendEmailPayload{}, false
}
