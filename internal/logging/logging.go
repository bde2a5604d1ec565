// Package logging adapts ledger operation callbacks to zap.
package logging

import (
	"context"

	"github.com/MarkoPoloResearchLab/roomledger/pkg/ledger"
	"go.uber.org/zap"
)

// OperationLogger writes one structured line per ledger operation. Failed operations log at
// error level, declines at info, and everything else at debug.
type OperationLogger struct {
	logger *zap.Logger
}

// NewOperationLogger wraps logger; a nil logger discards.
func NewOperationLogger(logger *zap.Logger) *OperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OperationLogger{logger: logger.Named("ledger")}
}

func (operationLogger *OperationLogger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.String("user_id", entry.UserID.String()),
		zap.Int64("amount", entry.Amount),
		zap.Int64("balance_after", entry.BalanceAfter.Int64()),
		zap.String("idempotency_key", entry.IdempotencyKey.String()),
	}
	if entry.EntryType != "" {
		fields = append(fields, zap.String("entry_type", entry.EntryType.String()))
	}
	if entry.Reference != "" {
		fields = append(fields, zap.String("reference", entry.Reference))
	}
	switch {
	case entry.Error != nil:
		operationLogger.logger.Error("ledger operation failed", append(fields, zap.Error(entry.Error))...)
	case entry.Status == statusDeclined:
		operationLogger.logger.Info("ledger operation declined", fields...)
	default:
		operationLogger.logger.Debug("ledger operation", fields...)
	}
}

const statusDeclined = "declined"
