package tracing

import (
	"go.uber.org/zap"

	"github.com/sarchlab/speedmeasure/hooking"
)

// LogHook writes what happens in a ledger to a zap logger. Correlation
// failures are warnings; opened and closed intervals are debug messages.
type LogHook struct {
	logger *zap.Logger
}

// NewLogHook creates a LogHook.
func NewLogHook(logger *zap.Logger) *LogHook {
	return &LogHook{logger: logger}
}

// Func logs the hook context.
func (h *LogHook) Func(ctx hooking.HookCtx) {
	switch ctx.Pos {
	case HookPosCorrelationFailure:
		err := ctx.Item.(*CorrelationError)
		tolerated, _ := ctx.Detail.(bool)
		h.logger.Warn("could not find a matching event to end",
			zap.String("category", err.Category),
			zap.String("event", err.Event),
			zap.Uint64("id", uint64(err.ID)),
			zap.String("name", err.Name),
			zap.Bool("fill_last", err.FillLast),
			zap.Bool("tolerated", tolerated),
		)
	case HookPosIntervalStart:
		e := ctx.Item.(TimeEvent)
		h.logger.Debug("interval started", eventFields(e)...)
	case HookPosIntervalEnd:
		e := ctx.Item.(TimeEvent)
		h.logger.Debug("interval ended",
			append(eventFields(e),
				zap.Int64("duration_ms", int64(e.End-e.Start)),
				zap.Bool("speculative", e.Speculative),
			)...)
	case HookPosLedgerReset:
		h.logger.Debug("ledger reset")
	}
}

func eventFields(e TimeEvent) []zap.Field {
	return []zap.Field{
		zap.String("category", e.Category),
		zap.String("event", e.Event),
		zap.Uint64("id", uint64(e.ID)),
		zap.String("name", e.Name),
	}
}
