package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarkoPoloResearchLab/roomledger/internal/orchestrator"
	"github.com/MarkoPoloResearchLab/roomledger/internal/payments"
	"github.com/MarkoPoloResearchLab/roomledger/pkg/ledger"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

type httpHandler struct {
	cfg  Config
	deps Dependencies
}

func newHTTPHandler(cfg Config, deps Dependencies) *httpHandler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &httpHandler{cfg: cfg, deps: deps}
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	if handler.cfg.RequestTimeout <= 0 {
		return context.WithCancel(ctx.Request.Context())
	}
	return context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
}

func (handler *httpHandler) handleSession(ctx *gin.Context) {
	claims := getClaims(ctx)
	caller, ok := callerFromClaims(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	balance, err := handler.deps.Ledger.Balance(requestCtx, caller)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"user_id": claims.GetUserID(),
		"email":   claims.GetUserEmail(),
		"display": claims.GetUserDisplayName(),
		"roles":   claims.GetUserRoles(),
		"credits": balance.Int64(),
	})
}

func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	caller, _ := callerFromClaims(ctx)
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	balance, err := handler.deps.Ledger.Balance(requestCtx, caller)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"credits": balance.Int64()})
}

func (handler *httpHandler) handleHistory(ctx *gin.Context) {
	caller, ok := callerFromClaims(ctx)
	if !ok {
		handler.respondError(ctx, ledger.ErrUnauthenticated)
		return
	}
	before, err := parseOptionalInt(ctx.Query("before"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", "before must be a unix timestamp"))
		return
	}
	limit, err := parseOptionalInt(ctx.Query("limit"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", "limit must be a number"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	entries, err := handler.deps.Ledger.History(requestCtx, caller, before, int(limit))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	response := historyResponse{Entries: make([]entryPayload, 0, len(entries))}
	for _, entry := range entries {
		response.Entries = append(response.Entries, newEntryPayload(entry))
	}
	if len(entries) > 0 {
		response.NextBefore = entries[len(entries)-1].CreatedUnixUTC()
	}
	ctx.JSON(http.StatusOK, response)
}

func (handler *httpHandler) handlePrices(ctx *gin.Context) {
	tiers := make([]gin.H, 0)
	for _, line := range handler.deps.Prices.TierLines() {
		tier, _ := ledger.ParseTier(line.Name)
		tiers = append(tiers, gin.H{"name": line.Name, "credits": line.Price.Int64(), "visibility_days": tier.VisibilityDays()})
	}
	actions := make([]gin.H, 0)
	for _, line := range handler.deps.Prices.ActionLines() {
		actions = append(actions, gin.H{"name": line.Name, "credits": line.Price.Int64()})
	}
	ctx.JSON(http.StatusOK, gin.H{"tiers": tiers, "actions": actions})
}

func (handler *httpHandler) handlePackages(ctx *gin.Context) {
	packages := make([]packagePayload, 0)
	for _, creditPackage := range handler.deps.Payments.Catalog().All() {
		packages = append(packages, packagePayload{
			ID:         creditPackage.ID,
			Name:       creditPackage.Name,
			Base:       creditPackage.Base.Int64(),
			Bonus:      creditPackage.Bonus.Int64(),
			Total:      creditPackage.Total().Int64(),
			PricePence: creditPackage.PricePence,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"packages": packages})
}

func (handler *httpHandler) handleGate(ctx *gin.Context) {
	caller, _ := callerFromClaims(ctx)
	var request gateRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", "invalid gate payload"))
		return
	}
	price, err := handler.priceFor(request)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	decision, err := handler.deps.Ledger.EvaluateGate(requestCtx, caller, price)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	handler.deps.Metrics.ObserveGate(decision)
	ctx.JSON(http.StatusOK, newGatePayload(decision))
}

func (handler *httpHandler) priceFor(request gateRequest) (ledger.PositiveCredits, error) {
	switch {
	case request.Tier != "" && request.Action != "":
		return 0, errAmbiguousGate
	case request.Tier != "":
		tier, err := ledger.ParseTier(request.Tier)
		if err != nil {
			return 0, err
		}
		return handler.deps.Prices.TierPrice(tier)
	case request.Action != "":
		action, err := ledger.ParseAction(request.Action)
		if err != nil {
			return 0, err
		}
		return handler.deps.Prices.ActionPrice(action)
	default:
		return 0, errAmbiguousGate
	}
}

func (handler *httpHandler) handlePublishListing(ctx *gin.Context) {
	caller, ok := callerFromClaims(ctx)
	if !ok {
		handler.respondError(ctx, ledger.ErrUnauthenticated)
		return
	}
	token, err := attemptToken(ctx)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	var request listingRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", "invalid listing payload"))
		return
	}
	tier, err := ledger.ParseTier(request.Tier)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	outcome, err := handler.deps.Orchestrator.PublishListing(requestCtx, caller, tier, request.draft(), token)
	if err != nil {
		handler.respondOutcomeError(ctx, outcome, err)
		return
	}
	ctx.JSON(http.StatusOK, newOutcomePayload(outcome))
}

func (handler *httpHandler) handleAction(ctx *gin.Context) {
	caller, ok := callerFromClaims(ctx)
	if !ok {
		handler.respondError(ctx, ledger.ErrUnauthenticated)
		return
	}
	action, err := ledger.ParseAction(ctx.Param("action"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	token, err := attemptToken(ctx)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	var request actionRequest
	if err := ctx.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", "invalid action payload"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	outcome, err := handler.deps.Orchestrator.PerformAction(requestCtx, caller, action, request.Target, token)
	if err != nil {
		handler.respondOutcomeError(ctx, outcome, err)
		return
	}
	ctx.JSON(http.StatusOK, newOutcomePayload(outcome))
}

func (handler *httpHandler) handleProfile(ctx *gin.Context) {
	caller, ok := callerFromClaims(ctx)
	if !ok {
		handler.respondError(ctx, ledger.ErrUnauthenticated)
		return
	}
	var request profileRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", "invalid profile payload"))
		return
	}
	profile, err := ledger.NewProfile(caller.UserID(), request.FirstName, request.LastName, request.Phone, request.Gender, request.Occupation, request.Bio, request.DateOfBirth, request.UserType)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	if err := handler.deps.Profiles.UpsertProfile(requestCtx, profile); err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"profile": newProfilePayload(profile)})
}

func (handler *httpHandler) handleGrant(ctx *gin.Context) {
	caller, _ := callerFromClaims(ctx)
	var request grantRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", "invalid grant payload"))
		return
	}
	userID, err := ledger.NewUserID(request.UserID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	amount, err := ledger.NewPositiveCredits(request.Amount)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	key, err := ledger.NewIdempotencyKey(request.IdempotencyKey)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	entry, err := handler.deps.Ledger.GrantBonus(requestCtx, caller, userID, amount, key, request.Description)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"entry": newEntryPayload(entry)})
}

func (handler *httpHandler) handlePaymentWebhook(ctx *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", "unreadable body"))
		return
	}
	confirmation, err := payments.ParseWebhook(handler.cfg.WebhookSecret, body, ctx.GetHeader(payments.SignatureHeader))
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			handler.deps.Logger.Warn("payment webhook signature verification failed")
		}
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	entry, err := handler.deps.Payments.ConfirmPurchase(requestCtx, confirmation)
	if err != nil {
		handler.deps.Logger.Error("payment confirmation failed",
			zap.String("payment_ref", confirmation.PaymentRef),
			zap.String("user_id", confirmation.UserID),
			zap.Error(err),
		)
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"entry": newEntryPayload(entry)})
}

func (handler *httpHandler) respondOutcomeError(ctx *gin.Context, outcome orchestrator.Outcome, err error) {
	if errors.Is(err, orchestrator.ErrCompensationFailed) {
		ctx.JSON(http.StatusInternalServerError, gin.H{
			"error":            gin.H{"code": "compensation_failed", "message": "the action failed and the refund is pending manual review"},
			"inconsistency_id": outcome.InconsistencyID,
		})
		return
	}
	handler.respondError(ctx, err)
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func callerFromClaims(ctx *gin.Context) (ledger.Caller, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		return ledger.Anonymous(), false
	}
	userID, err := ledger.NewUserID(claims.GetUserID())
	if err != nil {
		return ledger.Anonymous(), false
	}
	return ledger.NewCaller(userID, claims.GetUserRoles()...), true
}

func attemptToken(ctx *gin.Context) (ledger.IdempotencyKey, error) {
	raw := strings.TrimSpace(ctx.GetHeader(idempotencyKeyHeader))
	if raw == "" {
		return ledger.IdempotencyKey{}, orchestrator.ErrMissingToken
	}
	return ledger.NewIdempotencyKey(raw)
}

func parseOptionalInt(raw string) (int64, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	return strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
}
