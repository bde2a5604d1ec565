package ledger

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a ledger operation and how it ended.
type OperationLog struct {
	Operation      string
	UserID         UserID
	EntryType      EntryType
	Amount         int64
	BalanceAfter   Credits
	Reference      string
	IdempotencyKey IdempotencyKey
	Status         string
	Error          error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.loggers = append(service.loggers, logger)
	}
}

// OperationLoggers fans a single callback out to several loggers.
type OperationLoggers []OperationLogger

// LogOperation forwards entry to every non-nil logger.
func (loggers OperationLoggers) LogOperation(ctx context.Context, entry OperationLog) {
	for _, logger := range loggers {
		if logger != nil {
			logger.LogOperation(ctx, entry)
		}
	}
}
