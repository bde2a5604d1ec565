package grpcserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/roomledger/internal/payments"
	"github.com/MarkoPoloResearchLab/roomledger/pkg/ledger"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	errorUnknownAccount          = "unknown_account"
	errorDuplicateIdempotencyKey = "duplicate_idempotency_key"
	errorIdempotencyMismatch     = "idempotency_mismatch"
	errorOutcomeUnknown          = "outcome_unknown"
	errorInvalidUserID           = "invalid_user_id"
	errorInvalidIdempotencyKey   = "invalid_idempotency_key"
	errorInvalidAmount           = "invalid_amount"
	errorInvalidEntryType        = "invalid_entry_type"
	errorInvalidMetadata         = "invalid_metadata_json"
	errorInvalidListLimit        = "invalid_list_limit"
	errorInvalidField            = "invalid_field"
	errorCreditTypeNotAllowed    = "credit_type_not_allowed"
	errorInvalidConfirmation     = "invalid_confirmation"
	errorUnknownPackage          = "unknown_package"
	errorAmountMismatch          = "amount_mismatch"
	errorPurchasesUnavailable    = "purchases_unavailable"

	maxListEntriesLimit = 200
)

// CreditServiceServer exposes the credit ledger over gRPC.
type CreditServiceServer struct {
	creditService *ledger.Service
	purchases     *payments.Service
}

// NewCreditServiceServer constructs a gRPC server for the ledger service. Purchases are credited
// only through purchases, which checks them against the package catalog.
func NewCreditServiceServer(creditService *ledger.Service, purchases *payments.Service) *CreditServiceServer {
	return &CreditServiceServer{creditService: creditService, purchases: purchases}
}

// GetBalance expects {user_id} and returns {credits}.
func (service *CreditServiceServer) GetBalance(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	userID, err := ledger.NewUserID(stringField(request, "user_id"))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	balance, operationError := service.creditService.Balance(ctx, ledger.NewCaller(userID))
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return newStruct(map[string]any{"credits": balance.Int64()})
}

// Debit expects {user_id, amount, idempotency_key, reference?, description?, metadata_json?} and
// returns {approved, replayed, balance, shortfall, entry?}.
func (service *CreditServiceServer) Debit(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	userID, err := ledger.NewUserID(stringField(request, "user_id"))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	rawAmount, err := intField(request, "amount")
	if err != nil {
		return nil, err
	}
	amount, err := ledger.NewPositiveCredits(rawAmount)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	idem, err := ledger.NewIdempotencyKey(stringField(request, "idempotency_key"))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	metadata, err := ledger.NewMetadataJSON(stringField(request, "metadata_json"))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	result, operationError := service.creditService.Debit(ctx, ledger.DebitRequest{
		UserID:         userID,
		Amount:         amount,
		IdempotencyKey: idem,
		Reference:      stringField(request, "reference"),
		Description:    stringField(request, "description"),
		Metadata:       metadata,
	})
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	fields := map[string]any{
		"approved":  result.Approved,
		"replayed":  result.Replayed,
		"balance":   result.Balance.Int64(),
		"shortfall": result.Shortfall.Int64(),
	}
	if result.Approved {
		fields["entry"] = entryFields(result.Entry)
	}
	return newStruct(fields)
}

// Credit grants bonus credits. It expects {user_id, amount, idempotency_key, type?, reference?,
// description?, metadata_json?} and returns {entry}. Purchases go through ConfirmPurchase and
// refunds are issued only for failed paid actions, so any type other than bonus is refused.
func (service *CreditServiceServer) Credit(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	userID, err := ledger.NewUserID(stringField(request, "user_id"))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	entryType := ledger.EntryBonus
	if rawType := stringField(request, "type"); rawType != "" {
		entryType, err = ledger.ParseEntryType(rawType)
		if err != nil {
			return nil, mapToGRPCError(err)
		}
	}
	if entryType != ledger.EntryBonus {
		return nil, status.Error(codes.PermissionDenied, errorCreditTypeNotAllowed)
	}
	rawAmount, err := intField(request, "amount")
	if err != nil {
		return nil, err
	}
	amount, err := ledger.NewPositiveCredits(rawAmount)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	idem, err := ledger.NewIdempotencyKey(stringField(request, "idempotency_key"))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	metadata, err := ledger.NewMetadataJSON(stringField(request, "metadata_json"))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	entry, operationError := service.creditService.Credit(ctx, ledger.CreditRequest{
		UserID:         userID,
		Type:           entryType,
		Amount:         amount,
		IdempotencyKey: idem,
		Reference:      stringField(request, "reference"),
		Description:    stringField(request, "description"),
		Metadata:       metadata,
	})
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return newStruct(map[string]any{"entry": entryFields(entry)})
}

// ConfirmPurchase expects {user_id, package_id, payment_ref, amount_paid_pence} and returns
// {entry}. The credited amount comes from the package catalog.
func (service *CreditServiceServer) ConfirmPurchase(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	if service.purchases == nil {
		return nil, status.Error(codes.Unimplemented, errorPurchasesUnavailable)
	}
	amountPaid, err := intField(request, "amount_paid_pence")
	if err != nil {
		return nil, err
	}
	entry, operationError := service.purchases.ConfirmPurchase(ctx, payments.Confirmation{
		UserID:          stringField(request, "user_id"),
		PackageID:       stringField(request, "package_id"),
		PaymentRef:      stringField(request, "payment_ref"),
		AmountPaidPence: amountPaid,
	})
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return newStruct(map[string]any{"entry": entryFields(entry)})
}

// ListEntries expects {user_id, before_unix_utc?, limit?} and returns {entries}.
func (service *CreditServiceServer) ListEntries(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	userID, err := ledger.NewUserID(stringField(request, "user_id"))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	limit, err := intField(request, "limit")
	if err != nil {
		return nil, err
	}
	if limit < 0 || limit > maxListEntriesLimit {
		return nil, status.Error(codes.InvalidArgument, errorInvalidListLimit)
	}
	before, err := intField(request, "before_unix_utc")
	if err != nil {
		return nil, err
	}
	entries, operationError := service.creditService.History(ctx, ledger.NewCaller(userID), before, int(limit))
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	list := make([]any, 0, len(entries))
	for _, entryRecord := range entries {
		list = append(list, entryFields(entryRecord))
	}
	return newStruct(map[string]any{"entries": list})
}

func entryFields(entryRecord ledger.Entry) map[string]any {
	return map[string]any{
		"entry_id":         entryRecord.EntryID().String(),
		"account_id":       entryRecord.AccountID().String(),
		"type":             entryRecord.Type().String(),
		"amount":           entryRecord.Amount().Int64(),
		"balance_after":    entryRecord.BalanceAfter().Int64(),
		"reference":        entryRecord.Reference(),
		"description":      entryRecord.Description(),
		"idempotency_key":  entryRecord.IdempotencyKey().String(),
		"metadata_json":    entryRecord.MetadataJSON().String(),
		"created_unix_utc": entryRecord.CreatedUnixUTC(),
	}
}

func newStruct(fields map[string]any) (*structpb.Struct, error) {
	response, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return response, nil
}

func stringField(request *structpb.Struct, name string) string {
	value, ok := request.GetFields()[name]
	if !ok {
		return ""
	}
	return value.GetStringValue()
}

// intField reads a whole number; absent fields read as zero.
func intField(request *structpb.Struct, name string) (int64, error) {
	value, ok := request.GetFields()[name]
	if !ok {
		return 0, nil
	}
	number, isNumber := value.GetKind().(*structpb.Value_NumberValue)
	if !isNumber || number.NumberValue != float64(int64(number.NumberValue)) {
		return 0, status.Error(codes.InvalidArgument, fmt.Sprintf("%s: %s must be a whole number", errorInvalidField, name))
	}
	return int64(number.NumberValue), nil
}

func mapToGRPCError(source error) error {
	if errors.Is(source, payments.ErrAmountMismatch) {
		return status.Error(codes.FailedPrecondition, errorAmountMismatch)
	}
	if errors.Is(source, ledger.ErrUnknownPackage) {
		return status.Error(codes.NotFound, errorUnknownPackage)
	}
	if errors.Is(source, ledger.ErrInvalidUserID) {
		return status.Error(codes.InvalidArgument, errorInvalidUserID)
	}
	if errors.Is(source, ledger.ErrInvalidIdempotencyKey) {
		return status.Error(codes.InvalidArgument, errorInvalidIdempotencyKey)
	}
	if errors.Is(source, ledger.ErrInvalidCredits) || errors.Is(source, ledger.ErrInvalidEntryAmount) {
		return status.Error(codes.InvalidArgument, errorInvalidAmount)
	}
	if errors.Is(source, ledger.ErrInvalidEntryType) {
		return status.Error(codes.InvalidArgument, errorInvalidEntryType)
	}
	if errors.Is(source, ledger.ErrInvalidMetadataJSON) {
		return status.Error(codes.InvalidArgument, errorInvalidMetadata)
	}
	if errors.Is(source, payments.ErrInvalidConfirmation) {
		return status.Error(codes.InvalidArgument, errorInvalidConfirmation)
	}
	if errors.Is(source, ledger.ErrUnknownAccount) {
		return status.Error(codes.NotFound, errorUnknownAccount)
	}
	if errors.Is(source, ledger.ErrIdempotencyMismatch) {
		return status.Error(codes.FailedPrecondition, errorIdempotencyMismatch)
	}
	if errors.Is(source, ledger.ErrDuplicateIdempotencyKey) {
		return status.Error(codes.AlreadyExists, errorDuplicateIdempotencyKey)
	}
	if errors.Is(source, ledger.ErrOutcomeUnknown) {
		return status.Error(codes.DeadlineExceeded, errorOutcomeUnknown)
	}
	return status.Error(codes.Internal, source.Error())
}
