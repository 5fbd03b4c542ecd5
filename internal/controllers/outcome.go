package controllers

import "github.com/amaumene/debridarr/internal/models"

// OutcomeKind classifies what a stage handler did with an item
type OutcomeKind string

const (
	// Advanced means the item moved forward in the pipeline
	Advanced OutcomeKind = "advanced"
	// Slept means the item went to Sleeping
	Slept OutcomeKind = "slept"
	// Blacklisted means the item went to Blacklisted
	Blacklisted OutcomeKind = "blacklisted"
	// Retry means a transient failure; the item was re-queued where it came from
	Retry OutcomeKind = "retry"
	// Parked means the item waits in Pending Uncached for a download slot
	Parked OutcomeKind = "parked"
	// Waiting means nothing was due yet
	Waiting OutcomeKind = "waiting"
)

// Outcome is the typed result of processing one item
type Outcome struct {
	Kind  OutcomeKind
	Next  models.State
	Cause string
}

func advanced(next models.State, cause string) Outcome {
	return Outcome{Kind: Advanced, Next: next, Cause: cause}
}

func waiting(state models.State, cause string) Outcome {
	return Outcome{Kind: Waiting, Next: state, Cause: cause}
}

func retry(next models.State, cause string) Outcome {
	return Outcome{Kind: Retry, Next: next, Cause: cause}
}
