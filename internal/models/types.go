package models

import "fmt"

// MediaType represents the type of media (movie or episode)
type MediaType string

const (
	MediaTypeMovie   MediaType = "movie"
	MediaTypeEpisode MediaType = "episode"
	// MediaTypeShow only appears on wanted lists; shows expand into episodes
	MediaTypeShow MediaType = "show"
)

// State is the pipeline position of a media item
type State string

const (
	StateWanted          State = "Wanted"
	StateScraping        State = "Scraping"
	StateAdding          State = "Adding"
	StateChecking        State = "Checking"
	StateSleeping        State = "Sleeping"
	StateUnreleased      State = "Unreleased"
	StateBlacklisted     State = "Blacklisted"
	StateCollected       State = "Collected"
	StateUpgrading       State = "Upgrading"
	StatePendingUncached State = "Pending Uncached"
)

// AllStates lists every state in pipeline order
var AllStates = []State{
	StateWanted,
	StateUnreleased,
	StateScraping,
	StateAdding,
	StatePendingUncached,
	StateChecking,
	StateSleeping,
	StateCollected,
	StateUpgrading,
	StateBlacklisted,
}

// ParseState converts a string into a known State
func ParseState(s string) (State, error) {
	for _, st := range AllStates {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown state %q", s)
}

// UncachedHandling controls whether uncached torrents may be submitted
type UncachedHandling string

const (
	UncachedNone   UncachedHandling = "None"
	UncachedHybrid UncachedHandling = "Hybrid"
	UncachedFull   UncachedHandling = "Full"
)

// Valid reports whether h is a recognised policy
func (h UncachedHandling) Valid() bool {
	switch h {
	case UncachedNone, UncachedHybrid, UncachedFull:
		return true
	}
	return false
}

// transitions enumerates every permitted state change.
// Pack fill moves Wanted/Scraping/Sleeping siblings straight to Checking,
// cascades blacklist idle siblings, and restart/verifier/admin paths lead back to Wanted.
var transitions = map[State][]State{
	StateWanted:          {StateScraping, StateUnreleased, StateChecking, StateBlacklisted},
	StateUnreleased:      {StateWanted},
	StateScraping:        {StateAdding, StateSleeping, StateChecking, StateBlacklisted, StateWanted},
	StateAdding:          {StateChecking, StateSleeping, StateBlacklisted, StatePendingUncached, StateWanted},
	StatePendingUncached: {StateAdding, StateBlacklisted, StateWanted},
	StateChecking:        {StateCollected, StateWanted},
	StateSleeping:        {StateWanted, StateBlacklisted, StateChecking},
	StateBlacklisted:     {StateWanted},
	StateCollected:       {StateUpgrading, StateWanted},
	StateUpgrading:       {StateCollected, StateWanted},
}

// CanTransition reports whether from -> to is a permitted transition
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// HasArtifact reports whether items in this state must reference a torrent
func (s State) HasArtifact() bool {
	return s == StateChecking || s == StateCollected || s == StateUpgrading
}
