package domain

const (
	EventNameContestantFinalized = "contestant.finalized"
	EventNameCatalogChanged      = "catalog.changed"
	EventNameLeaderboardUpdated  = "leaderboard.updated"
)

type EventContestantFinalized struct {
	Contestant Contestant
	Answers    int
}

func (EventContestantFinalized) Name() string { return EventNameContestantFinalized }

// EventCatalogChanged is published after a question or choice of the contest was written.
type EventCatalogChanged struct {
	ContestID int64
}

func (EventCatalogChanged) Name() string { return EventNameCatalogChanged }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
