package domain

import "context"

// DecisionAction is what the engine wants the orchestrator to do next.
type DecisionAction string

const (
	ActionHold      DecisionAction = "hold"
	ActionOpenLong  DecisionAction = "open_long"
	ActionOpenShort DecisionAction = "open_short"
	ActionClose     DecisionAction = "close"
)

// Decision is the output of one engine evaluation.
type Decision struct {
	Action    DecisionAction
	Rationale string
}

// DecisionEngine turns market and game state into an action. Engines are
// pure advisors: they never mutate orchestration state, and any error or
// timeout is treated by the caller as a hold.
type DecisionEngine interface {
	Name() string
	Decide(ctx context.Context, market MarketSnapshot, game GameSnapshot) (Decision, error)
}
