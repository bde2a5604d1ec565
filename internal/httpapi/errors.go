package httpapi

import (
	"errors"
	"net/http"

	"github.com/MarkoPoloResearchLab/roomledger/internal/attempts"
	"github.com/MarkoPoloResearchLab/roomledger/internal/orchestrator"
	"github.com/MarkoPoloResearchLab/roomledger/internal/payments"
	"github.com/MarkoPoloResearchLab/roomledger/pkg/ledger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var errAmbiguousGate = errors.New("exactly one of tier or action is required")

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

var errorMappings = []errorMapping{
	{target: ledger.ErrUnauthenticated, status: http.StatusUnauthorized, code: "unauthorized", message: "missing session"},
	{target: ledger.ErrForbidden, status: http.StatusForbidden, code: "forbidden", message: "admin role required"},
	{target: payments.ErrInvalidSignature, status: http.StatusUnauthorized, code: "invalid_signature", message: "webhook signature is invalid"},
	{target: attempts.ErrAttemptInFlight, status: http.StatusConflict, code: "attempt_in_flight", message: "this attempt is already being processed"},
	{target: ledger.ErrIdempotencyMismatch, status: http.StatusConflict, code: "idempotency_mismatch", message: "idempotency key was used for a different request"},
	{target: ledger.ErrOutcomeUnknown, status: http.StatusGatewayTimeout, code: "outcome_unknown", message: "the request timed out; retry with the same idempotency key"},
	{target: payments.ErrAmountMismatch, status: http.StatusUnprocessableEntity, code: "amount_mismatch", message: "amount paid does not match the package price"},
	{target: orchestrator.ErrMissingToken, status: http.StatusBadRequest, code: "missing_idempotency_key", message: "Idempotency-Key header is required"},
	{target: errAmbiguousGate, status: http.StatusBadRequest, code: "invalid_request", message: errAmbiguousGate.Error()},
	{target: ledger.ErrUnknownTier, status: http.StatusBadRequest, code: "unknown_tier"},
	{target: ledger.ErrUnknownAction, status: http.StatusNotFound, code: "unknown_action"},
	{target: ledger.ErrUnknownPackage, status: http.StatusBadRequest, code: "unknown_package"},
	{target: ledger.ErrInvalidListing, status: http.StatusBadRequest, code: "invalid_listing"},
	{target: ledger.ErrInvalidProfile, status: http.StatusBadRequest, code: "invalid_profile"},
	{target: payments.ErrInvalidConfirmation, status: http.StatusBadRequest, code: "invalid_confirmation"},
	{target: ledger.ErrInvalidUserID, status: http.StatusBadRequest, code: "invalid_user_id"},
	{target: ledger.ErrInvalidCredits, status: http.StatusBadRequest, code: "invalid_amount"},
	{target: ledger.ErrInvalidIdempotencyKey, status: http.StatusBadRequest, code: "invalid_idempotency_key"},
}

func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	for _, mapping := range errorMappings {
		if errors.Is(err, mapping.target) {
			message := mapping.message
			if message == "" {
				message = err.Error()
			}
			ctx.JSON(mapping.status, errorResponse(mapping.code, message))
			return
		}
	}
	handler.deps.Logger.Error("request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
	ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", "request failed"))
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
