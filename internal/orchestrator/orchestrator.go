// Package orchestrator runs paid actions: it debits the price, performs the action, and refunds
// the debit when the action fails. A refund that cannot be applied is recorded and escalated.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/roomledger/internal/attempts"
	"github.com/MarkoPoloResearchLab/roomledger/pkg/ledger"
	"go.uber.org/zap"
)

var (
	ErrMissingToken       = errors.New("attempt token is required")
	ErrCompensationFailed = errors.New("refund after failed action could not be applied")
	ErrInvalidConfig      = errors.New("invalid orchestrator config")
)

// OutcomeKind is how a paid action ended.
type OutcomeKind string

const (
	OutcomeSucceeded OutcomeKind = "succeeded"
	OutcomeDeclined  OutcomeKind = "declined"
	OutcomeRefunded  OutcomeKind = "refunded"
	OutcomeFailed    OutcomeKind = "failed"
)

const (
	defaultAttemptTTL     = 30 * time.Second
	defaultRefundAttempts = 3
	refundBackoff         = 200 * time.Millisecond
	refundKeySuffix       = "refund"
)

// Outcome reports a finished paid action. Declined outcomes carry the top-up offer; refunded
// outcomes carry the refund entry; failed outcomes carry the recorded inconsistency.
type Outcome struct {
	Kind            OutcomeKind
	Replayed        bool
	Price           ledger.PositiveCredits
	Balance         ledger.Credits
	Gate            ledger.GateDecision
	SpendEntryID    ledger.EntryID
	RefundEntryID   ledger.EntryID
	InconsistencyID string
	ActionError     error
	Listing         *ledger.Listing
	Record          *ledger.ActionRecord
}

// PerformFunc executes the action after its price has been debited.
type PerformFunc func(ctx context.Context, spend ledger.Entry) error

// CompletedFunc reports whether the action for this token already ran.
type CompletedFunc func(ctx context.Context) (bool, error)

// PaidAction is one priced attempt identified by the caller's token.
type PaidAction struct {
	Caller    ledger.Caller
	Token     ledger.IdempotencyKey
	Name      string
	Price     ledger.PositiveCredits
	Reference string
	Perform   PerformFunc
	Completed CompletedFunc
}

// Alerter raises a failed compensation outside the process.
type Alerter interface {
	PublishInconsistency(ctx context.Context, inconsistency ledger.Inconsistency) error
}

// Observer receives outcome counts.
type Observer interface {
	ObserveOutcome(action string, outcome string)
	ObserveCompensation(succeeded bool)
	ObserveGate(decision ledger.GateDecision)
}

// Stores groups the persistence the orchestrator writes action side effects to.
type Stores struct {
	Listings        ledger.ListingStore
	Actions         ledger.ActionRecordStore
	Inconsistencies ledger.InconsistencyStore
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(orchestrator *Orchestrator) {
		if logger != nil {
			orchestrator.logger = logger
		}
	}
}

// WithAlerter sets where failed compensations are published.
func WithAlerter(alerter Alerter) Option {
	return func(orchestrator *Orchestrator) {
		orchestrator.alerter = alerter
	}
}

// WithObserver sets the metrics sink.
func WithObserver(observer Observer) Option {
	return func(orchestrator *Orchestrator) {
		orchestrator.observer = observer
	}
}

// WithPerformer sets the side effect for generic priced actions.
func WithPerformer(performer ActionPerformer) Option {
	return func(orchestrator *Orchestrator) {
		if performer != nil {
			orchestrator.performer = performer
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(orchestrator *Orchestrator) {
		if now != nil {
			orchestrator.nowFn = now
		}
	}
}

// WithAttemptTTL bounds how long an attempt token stays locked.
func WithAttemptTTL(ttl time.Duration) Option {
	return func(orchestrator *Orchestrator) {
		if ttl > 0 {
			orchestrator.attemptTTL = ttl
		}
	}
}

// WithRefundAttempts sets how many times a refund is tried before escalation.
func WithRefundAttempts(count int) Option {
	return func(orchestrator *Orchestrator) {
		if count > 0 {
			orchestrator.refundAttempts = count
		}
	}
}

// Orchestrator coordinates the ledger with the side effect a debit pays for.
type Orchestrator struct {
	ledger         *ledger.Service
	stores         Stores
	prices         ledger.PriceTable
	guard          attempts.Guard
	alerter        Alerter
	observer       Observer
	performer      ActionPerformer
	logger         *zap.Logger
	nowFn          func() time.Time
	attemptTTL     time.Duration
	refundAttempts int
	refundBackoff  time.Duration
}

// New wires an Orchestrator.
func New(service *ledger.Service, stores Stores, prices ledger.PriceTable, guard attempts.Guard, options ...Option) (*Orchestrator, error) {
	if service == nil {
		return nil, fmt.Errorf("%w: ledger service is nil", ErrInvalidConfig)
	}
	if stores.Listings == nil || stores.Actions == nil || stores.Inconsistencies == nil {
		return nil, fmt.Errorf("%w: stores are incomplete", ErrInvalidConfig)
	}
	if guard == nil {
		guard = attempts.NewLocalGuard()
	}
	orchestrator := &Orchestrator{
		ledger:         service,
		stores:         stores,
		prices:         prices,
		guard:          guard,
		performer:      noopPerformer{},
		logger:         zap.NewNop(),
		nowFn:          time.Now,
		attemptTTL:     defaultAttemptTTL,
		refundAttempts: defaultRefundAttempts,
		refundBackoff:  refundBackoff,
	}
	for _, option := range options {
		if option != nil {
			option(orchestrator)
		}
	}
	return orchestrator, nil
}

// Run debits action.Price under action.Token and performs the action. Insufficient funds is a
// declined outcome with a nil error. An action failure after the debit is refunded under a key
// derived from the token; if the refund cannot be applied the inconsistency is recorded,
// published and returned as ErrCompensationFailed. A failed action whose side effect turns out
// to be committed is reported as succeeded and keeps the charge.
func (orchestrator *Orchestrator) Run(ctx context.Context, action PaidAction) (Outcome, error) {
	if !action.Caller.Authenticated() {
		return Outcome{}, ledger.ErrUnauthenticated
	}
	if action.Token.String() == "" {
		return Outcome{}, ErrMissingToken
	}
	userID := action.Caller.UserID()
	release, err := orchestrator.guard.Acquire(ctx, userID.String()+":"+action.Token.String(), orchestrator.attemptTTL)
	if err != nil {
		return Outcome{}, err
	}
	defer func() {
		if releaseErr := release(context.WithoutCancel(ctx)); releaseErr != nil {
			orchestrator.logger.Warn("attempt release failed", zap.String("token", action.Token.String()), zap.Error(releaseErr))
		}
	}()

	outcome := Outcome{Price: action.Price}
	if action.Completed != nil {
		done, err := action.Completed(ctx)
		if err != nil {
			return Outcome{}, err
		}
		if done {
			outcome.Kind = OutcomeSucceeded
			outcome.Replayed = true
			return outcome, nil
		}
	}

	refundKey, err := action.Token.Derive(refundKeySuffix)
	if err != nil {
		return Outcome{}, err
	}
	debit, err := orchestrator.ledger.Debit(ctx, ledger.DebitRequest{
		UserID:         userID,
		Amount:         action.Price,
		IdempotencyKey: action.Token,
		Reference:      action.Reference,
		Description:    action.Name,
	})
	if err != nil {
		return Outcome{}, err
	}
	outcome.Balance = debit.Balance
	if !debit.Approved {
		outcome.Kind = OutcomeDeclined
		outcome.Gate = ledger.Gate(debit.Balance, action.Price, true)
		orchestrator.observeGate(outcome.Gate)
		orchestrator.observe(action.Name, outcome.Kind)
		return outcome, nil
	}
	outcome.SpendEntryID = debit.Entry.EntryID()

	if debit.Replayed {
		refund, err := orchestrator.ledger.LookupEntry(ctx, userID, refundKey)
		if err == nil {
			outcome.Kind = OutcomeRefunded
			outcome.Replayed = true
			outcome.RefundEntryID = refund.EntryID()
			outcome.Balance = refund.BalanceAfter()
			return outcome, nil
		}
		if !errors.Is(err, ledger.ErrUnknownEntry) {
			return Outcome{}, err
		}
	}

	actionErr := action.Perform(ctx, debit.Entry)
	if actionErr == nil {
		outcome.Kind = OutcomeSucceeded
		outcome.Replayed = debit.Replayed
		orchestrator.observe(action.Name, outcome.Kind)
		return outcome, nil
	}
	if action.Completed != nil {
		done, err := action.Completed(context.WithoutCancel(ctx))
		if err == nil && done {
			orchestrator.logger.Warn("paid action reported an error after it completed",
				zap.String("action", action.Name),
				zap.String("token", action.Token.String()),
				zap.Error(actionErr),
			)
			outcome.Kind = OutcomeSucceeded
			outcome.Replayed = debit.Replayed
			orchestrator.observe(action.Name, outcome.Kind)
			return outcome, nil
		}
	}
	outcome.ActionError = actionErr
	return orchestrator.compensate(ctx, action, debit.Entry, refundKey, outcome)
}

func (orchestrator *Orchestrator) compensate(ctx context.Context, action PaidAction, spend ledger.Entry, refundKey ledger.IdempotencyKey, outcome Outcome) (Outcome, error) {
	refundCtx := context.WithoutCancel(ctx)
	userID := action.Caller.UserID()
	var refundErr error
	for attempt := 0; attempt < orchestrator.refundAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(orchestrator.refundBackoff * time.Duration(attempt))
		}
		var refund ledger.Entry
		refund, refundErr = orchestrator.ledger.Credit(refundCtx, ledger.CreditRequest{
			UserID:         userID,
			Type:           ledger.EntryRefund,
			Amount:         action.Price,
			IdempotencyKey: refundKey,
			Reference:      spend.EntryID().String(),
			Description:    "Refund: " + action.Name,
		})
		if refundErr == nil {
			outcome.Kind = OutcomeRefunded
			outcome.RefundEntryID = refund.EntryID()
			outcome.Balance = refund.BalanceAfter()
			orchestrator.logger.Warn("paid action failed and was refunded",
				zap.String("action", action.Name),
				zap.String("user_id", userID.String()),
				zap.String("token", action.Token.String()),
				zap.Error(outcome.ActionError),
			)
			orchestrator.observeCompensation(true)
			orchestrator.observe(action.Name, outcome.Kind)
			return outcome, nil
		}
	}
	return orchestrator.escalate(refundCtx, action, spend, outcome, refundErr)
}

func (orchestrator *Orchestrator) escalate(ctx context.Context, action PaidAction, spend ledger.Entry, outcome Outcome, refundErr error) (Outcome, error) {
	userID := action.Caller.UserID()
	inconsistency := ledger.Inconsistency{
		UserID:         userID,
		Token:          action.Token,
		Amount:         action.Price,
		SpendEntryID:   spend.EntryID(),
		ActionError:    outcome.ActionError.Error(),
		RefundError:    refundErr.Error(),
		CreatedUnixUTC: orchestrator.nowFn().UTC().Unix(),
	}
	recorded, recordErr := orchestrator.stores.Inconsistencies.RecordInconsistency(ctx, inconsistency)
	if recordErr == nil {
		inconsistency = recorded
	}
	orchestrator.logger.Error("refund after failed paid action could not be applied",
		zap.String("action", action.Name),
		zap.String("user_id", userID.String()),
		zap.String("token", action.Token.String()),
		zap.Int64("amount", action.Price.Int64()),
		zap.String("spend_entry_id", spend.EntryID().String()),
		zap.String("inconsistency_id", inconsistency.InconsistencyID),
		zap.NamedError("action_error", outcome.ActionError),
		zap.NamedError("refund_error", refundErr),
		zap.NamedError("record_error", recordErr),
	)
	if orchestrator.alerter != nil {
		if err := orchestrator.alerter.PublishInconsistency(ctx, inconsistency); err != nil {
			orchestrator.logger.Error("inconsistency alert failed", zap.Error(err))
		}
	}
	orchestrator.observeCompensation(false)
	orchestrator.observe(action.Name, OutcomeFailed)
	outcome.Kind = OutcomeFailed
	outcome.InconsistencyID = inconsistency.InconsistencyID
	return outcome, fmt.Errorf("%w: %w", ErrCompensationFailed, refundErr)
}

func (orchestrator *Orchestrator) observe(action string, kind OutcomeKind) {
	if orchestrator.observer != nil {
		orchestrator.observer.ObserveOutcome(action, string(kind))
	}
}

func (orchestrator *Orchestrator) observeGate(decision ledger.GateDecision) {
	if orchestrator.observer != nil {
		orchestrator.observer.ObserveGate(decision)
	}
}

func (orchestrator *Orchestrator) observeCompensation(succeeded bool) {
	if orchestrator.observer != nil {
		orchestrator.observer.ObserveCompensation(succeeded)
	}
}
