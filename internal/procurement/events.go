package procurement

import (
	"context"
	"time"
)

// DecisionEvent announces an approval decision on a purchase order.
type DecisionEvent struct {
	POID        int64
	PONumber    string
	Action      HistoryAction
	Actor       string
	Remarks     string
	VendorName  string
	VendorEmail string
	CreatedBy   string
	At          time.Time
}

// Notifier delivers decision events, typically by queueing a mail. Failures
// never roll back the decision.
type Notifier interface {
	NotifyDecision(ctx context.Context, evt DecisionEvent) error
}
