// Package registry provides the durable model version registry for the
// governance control plane. It is the single source of truth for model
// lifecycle state; all other components read from it and the routing table
// is a projection of it.
package registry

import (
	"fmt"
	"time"
)

// State represents a model version's lifecycle state.
type State string

const (
	StateRegistered State = "REGISTERED"
	StateShadowing  State = "SHADOWING"
	StateCanary     State = "CANARY"
	StateProduction State = "PRODUCTION"
	StateArchived   State = "ARCHIVED"
	StateRejected   State = "REJECTED"
)

// Valid reports whether s is a known lifecycle state.
func (s State) Valid() bool {
	switch s {
	case StateRegistered, StateShadowing, StateCanary, StateProduction, StateArchived, StateRejected:
		return true
	}
	return false
}

// allowedTransitions is the explicit edge set of the lifecycle state machine.
// Any edge not listed here is rejected. ARCHIVED is reachable from every
// state, which is handled separately in CanTransition.
var allowedTransitions = map[State][]State{
	StateRegistered: {StateShadowing},
	StateShadowing:  {StateCanary},
	StateCanary:     {StateProduction, StateRejected},
}

// CanTransition reports whether the edge from→to is permitted.
// A self-transition is permitted (it is treated as a no-op by Transition).
func CanTransition(from, to State) bool {
	if from == to {
		return true
	}
	if to == StateArchived {
		return true
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Well-known metric keys stored on a version record.
const (
	MetricLatencyP95 = "latency_p95"
	MetricErrorRate  = "error_rate"
)

// ModelVersion is a single registered version of a model.
type ModelVersion struct {
	// ModelName identifies the model family this version belongs to.
	ModelName string `json:"model_name"`

	// Version is a monotonically increasing integer per model name.
	Version int `json:"version"`

	// ArtifactRef points at the model artifact (opaque to the registry).
	ArtifactRef string `json:"artifact_ref"`

	// State is the current lifecycle state.
	State State `json:"state"`

	// RegisteredAt is when the version was first registered.
	RegisteredAt time.Time `json:"registered_at"`

	// Metrics holds offline evaluation metrics supplied at registration,
	// e.g. latency_p95 and error_rate.
	Metrics map[string]float64 `json:"metrics,omitempty"`

	// CanaryWeight is the percentage of live traffic (0-100) routed to
	// this version. Non-zero only while State is CANARY.
	CanaryWeight int `json:"canary_weight"`

	// History records every lifecycle transition of this version.
	History []TransitionRecord `json:"history,omitempty"`
}

// TransitionRecord captures one lifecycle transition for auditability.
type TransitionRecord struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// Key returns the "<name>/<version>" identifier for logs and errors.
func (v *ModelVersion) Key() string {
	return fmt.Sprintf("%s/%d", v.ModelName, v.Version)
}

// modelRecord is the KV document stored per model name. Keeping all versions
// of a model under one key means a single revision-checked write covers both
// sides of a promotion (new PRODUCTION in, old PRODUCTION out), so readers
// can never observe zero or two production versions.
type modelRecord struct {
	ModelName string          `json:"model_name"`
	Versions  []*ModelVersion `json:"versions"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (r *modelRecord) find(version int) *ModelVersion {
	for _, v := range r.Versions {
		if v.Version == version {
			return v
		}
	}
	return nil
}

func (r *modelRecord) production() *ModelVersion {
	for _, v := range r.Versions {
		if v.State == StateProduction {
			return v
		}
	}
	return nil
}

func (r *modelRecord) nextVersion() int {
	next := 1
	for _, v := range r.Versions {
		if v.Version >= next {
			next = v.Version + 1
		}
	}
	return next
}
