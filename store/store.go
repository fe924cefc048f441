// Package store keeps the state of concepts list views. Every retrieval takes
// a sequence number from Begin, and Commit only accepts the result carrying
// the latest issued number, so a slow stale response never overwrites a newer one.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/openmrs/ocl-concepts-api/concept"
)

var ErrUnknownSequence = errors.New("sequence number was never issued")

// State is a committed retrieval result.
type State struct {
	Seq       uint64            `json:"seq"`
	Concepts  []concept.Concept `json:"concepts"`
	NumFound  *int              `json:"numFound,omitempty"`
	Errors    string            `json:"errors,omitempty"`
	FetchedAt time.Time         `json:"fetchedAt"`
}

// Snapshot is what readers see: the last committed state together with the
// latest issued retrieval.
type Snapshot struct {
	State
	Issued      uint64
	Fingerprint string
	IssuedAt    time.Time
}

// Loading reports whether a retrieval newer than the committed state is in flight.
func (s Snapshot) Loading() bool {
	return s.Issued > s.Seq
}

// SettledFor reports whether the committed state is the result of the latest
// retrieval and that retrieval was issued for fingerprint.
func (s Snapshot) SettledFor(fingerprint string) bool {
	return s.Issued > 0 && !s.Loading() && s.Fingerprint == fingerprint
}

// Failed reports whether the committed state is an error.
func (s Snapshot) Failed() bool {
	return s.Errors != ""
}

type Backend interface {
	// Begin records fingerprint as the latest retrieval for key and returns its sequence number.
	Begin(ctx context.Context, key string, fingerprint string) (uint64, error)
	// Commit stores state if state.Seq is still the latest issued for key.
	// It returns false when the result was superseded.
	Commit(ctx context.Context, key string, state State) (bool, error)
	Load(ctx context.Context, key string) (Snapshot, error)
	Endpoint() string
	GTG() error
}
