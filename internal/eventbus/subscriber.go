package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	defaultConfirmAttempts = 5
	defaultConfirmBackoff  = 250 * time.Millisecond

	replyApplied = `{"status":"applied"}`
)

// PaymentConfirmedEvent is the payment provider's confirmation relayed over NATS.
type PaymentConfirmedEvent struct {
	UserID     string `json:"user_id"`
	PackageID  string `json:"package_id"`
	PaymentRef string `json:"payment_ref"`
	AmountPaid int64  `json:"amount_paid_pence"`
}

// UnappliedPaymentEvent reports a confirmed payment that was never credited.
type UnappliedPaymentEvent struct {
	Payment  PaymentConfirmedEvent `json:"payment"`
	Error    string                `json:"error"`
	Attempts int                   `json:"attempts"`
	FailedAt time.Time             `json:"failed_at"`
}

// PaymentHandler applies a confirmed payment.
type PaymentHandler func(ctx context.Context, event PaymentConfirmedEvent) error

// PaymentAlerter is told about confirmations that could not be applied.
type PaymentAlerter interface {
	PublishUnappliedPayment(ctx context.Context, event UnappliedPaymentEvent) error
}

type permanentError struct {
	err error
}

func (failure permanentError) Error() string { return failure.err.Error() }
func (failure permanentError) Unwrap() error { return failure.err }

// Permanent marks a handler error that retrying cannot fix, such as an unknown package.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func isPermanent(err error) bool {
	var failure permanentError
	return errors.As(err, &failure)
}

// SubscriberOption configures a ConfirmationSubscriber.
type SubscriberOption func(*ConfirmationSubscriber)

// WithPaymentAlerter publishes unapplied confirmations through alerter.
func WithPaymentAlerter(alerter PaymentAlerter) SubscriberOption {
	return func(subscriber *ConfirmationSubscriber) {
		subscriber.alerter = alerter
	}
}

// WithConfirmRetry sets how often a failing confirmation is tried and the base backoff.
func WithConfirmRetry(attempts int, backoff time.Duration) SubscriberOption {
	return func(subscriber *ConfirmationSubscriber) {
		if attempts > 0 {
			subscriber.attempts = attempts
		}
		if backoff >= 0 {
			subscriber.backoff = backoff
		}
	}
}

// ConfirmationSubscriber consumes payment confirmations in a queue group so each message is
// handled by one instance. Core NATS does not redeliver, so transient failures are retried here
// and a confirmation that still fails is logged, alerted and answered with an error.
type ConfirmationSubscriber struct {
	conn     *nats.Conn
	handler  PaymentHandler
	logger   *zap.Logger
	alerter  PaymentAlerter
	attempts int
	backoff  time.Duration
	nowFn    func() time.Time
	sub      *nats.Subscription
}

// NewConfirmationSubscriber wires handler to conn.
func NewConfirmationSubscriber(conn *nats.Conn, handler PaymentHandler, logger *zap.Logger, options ...SubscriberOption) *ConfirmationSubscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	subscriber := &ConfirmationSubscriber{
		conn:     conn,
		handler:  handler,
		logger:   logger,
		attempts: defaultConfirmAttempts,
		backoff:  defaultConfirmBackoff,
		nowFn:    time.Now,
	}
	for _, option := range options {
		if option != nil {
			option(subscriber)
		}
	}
	return subscriber
}

// Start subscribes and blocks until ctx is done.
func (subscriber *ConfirmationSubscriber) Start(ctx context.Context) error {
	sub, err := subscriber.conn.QueueSubscribe(SubjectPaymentConfirmed, paymentsQueueGroup, func(message *nats.Msg) {
		err := subscriber.handle(ctx, message.Data)
		if message.Reply == "" {
			return
		}
		reply := []byte(replyApplied)
		if err != nil {
			reply, _ = json.Marshal(map[string]string{"status": "failed", "error": err.Error()})
		}
		if respondErr := message.Respond(reply); respondErr != nil {
			subscriber.logger.Warn("payment confirmation reply failed", zap.Error(respondErr))
		}
	})
	if err != nil {
		return err
	}
	subscriber.sub = sub
	<-ctx.Done()
	return sub.Drain()
}

func (subscriber *ConfirmationSubscriber) handle(ctx context.Context, data []byte) error {
	var event PaymentConfirmedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		subscriber.logger.Warn("payment confirmation decode failed", zap.Error(err))
		return Permanent(err)
	}
	applyCtx := context.WithoutCancel(ctx)
	var err error
	attempt := 0
	for attempt < subscriber.attempts {
		if attempt > 0 {
			time.Sleep(subscriber.backoff * time.Duration(attempt))
		}
		attempt++
		err = subscriber.handler(applyCtx, event)
		if err == nil || isPermanent(err) {
			break
		}
		subscriber.logger.Warn("payment confirmation attempt failed",
			zap.String("payment_ref", event.PaymentRef),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	if err == nil {
		return nil
	}
	subscriber.logger.Error("payment confirmation could not be applied",
		zap.String("payment_ref", event.PaymentRef),
		zap.String("user_id", event.UserID),
		zap.String("package_id", event.PackageID),
		zap.Int("attempts", attempt),
		zap.Error(err),
	)
	if subscriber.alerter != nil {
		alertErr := subscriber.alerter.PublishUnappliedPayment(applyCtx, UnappliedPaymentEvent{
			Payment:  event,
			Error:    err.Error(),
			Attempts: attempt,
			FailedAt: subscriber.nowFn().UTC(),
		})
		if alertErr != nil {
			subscriber.logger.Error("unapplied payment alert failed", zap.Error(alertErr))
		}
	}
	return err
}
