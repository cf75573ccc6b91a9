package domain

import "context"

// EgressValidator is the SSRF-safety collaborator. Every operator-supplied
// outbound URL passes through it before any network call; how egress
// actually leaves the box (direct, proxy, relay) is its concern, not the
// engine's.
//
// ValidateEgressURL returns the validated URL to call, or an error wrapping
// ErrEgressRejected.
type EgressValidator interface {
	ValidateEgressURL(ctx context.Context, rawURL string) (string, error)
}
