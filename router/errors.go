package router

import "errors"

var (
	// ErrUnknownModel indicates no routing table exists for the model.
	ErrUnknownModel = errors.New("unknown model")

	// ErrNoHealthyTarget indicates the model has a routing table but no
	// target that can currently serve traffic.
	ErrNoHealthyTarget = errors.New("no healthy routing target")
)
