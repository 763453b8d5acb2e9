package domain

import (
	"strings"
	"time"
)

// Publishable holds the generic content fields a contest is published with.
type Publishable struct {
	Title       string
	Slug        string
	Description string
	Category    string
	PublishFrom time.Time
	PublishTo   *time.Time
	Published   bool
}

// IsPublished reports whether the content is visible at now.
func (p Publishable) IsPublished(now time.Time) bool {
	if !p.Published {
		return false
	}

	if !p.PublishFrom.IsZero() && p.PublishFrom.After(now) {
		return false
	}

	return p.PublishTo == nil || p.PublishTo.After(now)
}

type ContestState int

const (
	ContestActive ContestState = iota
	ContestNotYetActive
	ContestClosed
)

func (s ContestState) String() string {
	switch s {
	case ContestNotYetActive:
		return "not_yet_active"
	case ContestClosed:
		return "closed"
	default:
		return "active"
	}
}

// Contest represents a timed quiz campaign.
type Contest struct {
	ID int64
	Publishable

	Text             string
	TextResults      string
	TextAnnouncement string
	ActiveFrom       *time.Time
	ActiveTill       *time.Time
}

// State derives the lifecycle state from now. It is never stored.
func (c Contest) State(now time.Time) ContestState {
	switch {
	case c.ActiveFrom != nil && c.ActiveFrom.After(now):
		return ContestNotYetActive
	case c.ActiveTill != nil && c.ActiveTill.Before(now):
		return ContestClosed
	default:
		return ContestActive
	}
}

func (c Contest) IsNotYetActive(now time.Time) bool { return c.State(now) == ContestNotYetActive }

func (c Contest) IsClosed(now time.Time) bool { return c.State(now) == ContestClosed }

func (c Contest) IsActive(now time.Time) bool { return c.State(now) == ContestActive }

// Content returns the text to render: the results text once the contest is closed.
func (c Contest) Content(now time.Time) string {
	if c.IsClosed(now) {
		return c.TextResults
	}

	return c.Text
}

type Question struct {
	ID         int64
	ContestID  int64
	Order      int
	Text       string
	Photo      string
	IsRequired bool
}

type Choice struct {
	ID             int64
	QuestionID     int64
	Order          int
	Text           string
	IsCorrect      bool
	InsertedByUser bool
}

// Contestant is a finalized submission. Created is set once on insert.
type Contestant struct {
	ID        int64
	ContestID int64
	UserID    string
	Name      string
	Surname   string
	Email     string
	Address   string
	Phone     string
	Winner    bool
	Created   time.Time
}

// Leaderboard is the head of the ranking of a contest.
type Leaderboard struct {
	ContestID int64              `json:"contest_id"`
	Entries   []LeaderboardEntry `json:"entries"`
}

type LeaderboardEntry struct {
	Position     int    `json:"position"`
	ContestantID int64  `json:"contestant_id"`
	Name         string `json:"name"`
	Surname      string `json:"surname"`
	Correct      int    `json:"correct"`
}

type Answer struct {
	ID           int64
	ContestantID int64
	ChoiceID     int64
	Text         string
}

// IsBlank reports whether the answer carries no visitor text.
func (a Answer) IsBlank() bool {
	return strings.TrimSpace(a.Text) == ""
}
