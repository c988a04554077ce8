package pipeline

import (
	"fmt"

	errors "github.com/deploymenttheory/go-model-retrain/internal/common/errors"
)

// AccuracyThreshold is the minimum accuracy for a model to be deployed
const AccuracyThreshold = 0.8

// Gate decides whether a model may be deployed. The comparison is inclusive.
func Gate(m Metrics) Decision {
	if m.Accuracy >= AccuracyThreshold {
		return Proceed
	}
	return Skip
}

// GateState is a state of the deployment gate
type GateState string

const (
	GatePending   GateState = "pending"
	GateEvaluated GateState = "evaluated"
	GateProceed   GateState = "proceed"
	GateSkip      GateState = "skip"
)

// GateMachine walks pending -> evaluated -> proceed|skip exactly once
type GateMachine struct {
	state   GateState
	metrics Metrics
}

func NewGateMachine() *GateMachine {
	return &GateMachine{state: GatePending}
}

func (g *GateMachine) State() GateState {
	return g.state
}

// Evaluated records the metrics produced by evaluation
func (g *GateMachine) Evaluated(m Metrics) error {
	if g.state != GatePending {
		return fmt.Errorf("%w: cannot record metrics in state %s", errors.ErrInvalidGateTransition, g.state)
	}
	if err := m.Validate(); err != nil {
		return err
	}
	g.metrics = m
	g.state = GateEvaluated
	return nil
}

// Decide moves the gate into its terminal state
func (g *GateMachine) Decide() (Decision, error) {
	if g.state != GateEvaluated {
		return DecisionUnknown, fmt.Errorf("%w: cannot decide in state %s", errors.ErrInvalidGateTransition, g.state)
	}

	decision := Gate(g.metrics)
	switch decision {
	case Proceed:
		g.state = GateProceed
	case Skip:
		g.state = GateSkip
	}
	return decision, nil
}
