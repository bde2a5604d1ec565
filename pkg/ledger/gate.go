package ledger

import "context"

// Verdict is the outcome of a spend-gate check.
type Verdict string

const (
	VerdictProceed    Verdict = "proceed"
	VerdictOfferTopUp Verdict = "offer_top_up"
	VerdictBlocked    Verdict = "blocked"
)

// GateDecision reports whether a caller may attempt a priced action.
// It is advisory: Service.Debit is the only authority on whether credits move.
type GateDecision struct {
	Verdict   Verdict
	Balance   Credits
	Price     PositiveCredits
	Shortfall Credits
}

// Gate decides whether a caller with balance may attempt to spend price.
func Gate(balance Credits, price PositiveCredits, authenticated bool) GateDecision {
	decision := GateDecision{Balance: balance, Price: price}
	switch {
	case !authenticated:
		decision.Balance = 0
		decision.Verdict = VerdictBlocked
	case balance.Covers(price):
		decision.Verdict = VerdictProceed
	default:
		decision.Verdict = VerdictOfferTopUp
		decision.Shortfall = Credits(price.Int64() - balance.Int64())
	}
	return decision
}

// EvaluateGate reads the caller's current balance and applies Gate to it.
func (service *Service) EvaluateGate(ctx context.Context, caller Caller, price PositiveCredits) (GateDecision, error) {
	if !caller.Authenticated() {
		return Gate(0, price, false), nil
	}
	balance, err := service.Balance(ctx, caller)
	if err != nil {
		return GateDecision{}, err
	}
	return Gate(balance, price, true), nil
}
