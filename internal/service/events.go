package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/aklo360/cc-sub001/internal/domain"
)

// Alerter delivers operator alerts. notify.Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// alertEvents are the events worth waking an operator for.
var alertEvents = map[string]string{
	domain.EventDepositOrphan:  "Deposit needs manual refund",
	domain.EventPayoutDeferred: "Payout deferred",
	domain.EventPayoutFailed:   "Payout failed",
	domain.EventTaskFailed:     "Maintenance task failed",
	domain.EventTreasuryTopUp:  "Hot wallet topped up",
	domain.EventTreasurySweep:  "Fees swept and destroyed",
}

// Envelope is the payload published on the signal bus.
type Envelope struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
	At    time.Time      `json:"at"`
}

// Events fans a domain event out to the audit log, the signal bus and, for
// alert-worthy events, the notifier. Audit, bus and alerter are optional.
type Events struct {
	audit   domain.AuditStore
	bus     domain.SignalBus
	alerter Alerter
	logger  *slog.Logger
}

// NewEvents creates an Events emitter.
func NewEvents(audit domain.AuditStore, bus domain.SignalBus, alerter Alerter, logger *slog.Logger) *Events {
	return &Events{
		audit:   audit,
		bus:     bus,
		alerter: alerter,
		logger:  logger.With(slog.String("component", "events")),
	}
}

// Emit records event. Delivery failures are logged and never returned: an
// event describes something that already happened.
func (e *Events) Emit(ctx context.Context, event string, detail map[string]any) {
	if e == nil {
		return
	}
	if e.audit != nil {
		if err := e.audit.Log(ctx, event, detail); err != nil {
			e.logger.ErrorContext(ctx, "audit write failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
	if e.bus != nil {
		payload, err := json.Marshal(Envelope{Event: event, Data: detail, At: time.Now().UTC()})
		if err == nil {
			err = e.bus.Publish(ctx, event, payload)
		}
		if err != nil {
			e.logger.WarnContext(ctx, "event publish failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
	if title, ok := alertEvents[event]; ok && e.alerter != nil {
		if err := e.alerter.Notify(ctx, event, title, formatDetail(detail)); err != nil {
			e.logger.WarnContext(ctx, "alert failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
}

// formatDetail renders detail as sorted key: value lines.
func formatDetail(detail map[string]any) string {
	keys := make([]string, 0, len(detail))
	for k := range detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, detail[k])
	}
	return strings.TrimSuffix(b.String(), "\n")
}
