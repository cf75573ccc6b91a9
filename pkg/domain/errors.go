package domain

import "errors"

var (
	// ErrConfigValidation marks malformed workflow or forward rule
	// configuration. It is always rejected before any execution record
	// exists.
	ErrConfigValidation = errors.New("config validation failed")

	// ErrEgressRejected marks an outbound URL vetoed by the egress safety
	// check. Terminal for that dispatch attempt only.
	ErrEgressRejected = errors.New("egress rejected")

	// ErrUpstream marks an AI or webhook HTTP failure. AI adapters degrade
	// via their fallbacks; forward dispatch surfaces it as a failed attempt.
	ErrUpstream = errors.New("upstream call failed")
)
