package observability

import (
	"log/slog"

	"claimchain/core/events"
	"claimchain/core/types"
)

// EventEmitter is an events.Emitter that logs each ledger event and feeds the
// domain counters.
type EventEmitter struct {
	logger  *slog.Logger
	metrics *LedgerMetrics
}

// NewEventEmitter builds an emitter over the supplied logger. A nil logger
// falls back to the default slog logger.
func NewEventEmitter(logger *slog.Logger) *EventEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventEmitter{logger: logger, metrics: Ledger()}
}

// Emit implements events.Emitter.
func (e *EventEmitter) Emit(evt events.Event) {
	if e == nil || evt == nil {
		return
	}
	e.metrics.RecordEvent(evt.EventType())

	attrs := []any{slog.String("event", evt.EventType())}
	if carrier, ok := evt.(interface{ Event() *types.Event }); ok {
		if payload := carrier.Event(); payload != nil {
			for key, value := range payload.Attributes {
				attrs = append(attrs, slog.String(key, value))
			}
		}
	}
	e.logger.Info("ledger event", attrs...)
}
