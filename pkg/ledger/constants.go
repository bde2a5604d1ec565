package ledger

const (
	operationDebit   = "debit"
	operationCredit  = "credit"
	operationHistory = "history"

	operationStatusOK       = "ok"
	operationStatusDeclined = "declined"
	operationStatusReplayed = "replayed"
	operationStatusError    = "error"

	errorOperationService = "service"
	errorSubjectDebit     = "debit"
	errorSubjectCredit    = "credit"
	errorCodeTimeout      = "timeout"
	errorCodeMismatch     = "mismatch"

	idempotencyKeyDelimiter = ":"
	defaultMetadataJSON     = "{}"

	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)
