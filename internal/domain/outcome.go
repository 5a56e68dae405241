package domain

// Outcome classifies the result of replaying one queued mutation during a
// drain pass. Outcomes are transient: they are never persisted.
type Outcome int

const (
	// OutcomeSucceeded: the remote accepted the replay (2xx). The entry is
	// removed from the log.
	OutcomeSucceeded Outcome = iota

	// OutcomeFailedTerminal: the remote rejected the replay (4xx). The
	// request reached the server and will never succeed on retry, so the
	// entry is removed after exactly one attempt and reported.
	OutcomeFailedTerminal

	// OutcomeFailedRetryable: network error or 5xx. The entry stays queued
	// for a later pass.
	OutcomeFailedRetryable
)

// String returns a human-readable representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailedTerminal:
		return "failed-terminal"
	case OutcomeFailedRetryable:
		return "failed-retryable"
	default:
		return "unknown"
	}
}

// DrainSummary aggregates one complete drain pass. Exactly one summary is
// broadcast per pass.
type DrainSummary struct {
	// Synced is the number of mutations the remote accepted.
	Synced int

	// Failed is the number of terminal rejections (removed, never retried).
	Failed int

	// Remaining is the number of retryable failures still queued.
	Remaining int

	// Coalesced is true when this trigger joined a pass already in flight
	// instead of starting its own.
	Coalesced bool
}
