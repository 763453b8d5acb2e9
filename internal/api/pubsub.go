package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/victornm/econtest/internal/domain"
)

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	ContestantFinalized struct {
		ContestID    int64     `json:"contest_id"`
		ContestantID int64     `json:"contestant_id"`
		Answers      int       `json:"answers"`
		Created      time.Time `json:"created"`
	}
)

// PublishContestantFinalized notifies staff listening on the contest channel and,
// for signed-in visitors, the user channel.
func (a *API) PublishContestantFinalized(ctx context.Context, e domain.EventContestantFinalized) error {
	data := ContestantFinalized{
		ContestID:    e.Contestant.ContestID,
		ContestantID: e.Contestant.ID,
		Answers:      e.Answers,
		Created:      e.Contestant.Created,
	}

	channels := []string{a.contestChannel(data.ContestID)}
	if e.Contestant.UserID != "" {
		channels = append(channels, fmt.Sprintf("%s:user:%s", a.prefix, e.Contestant.UserID))
	}

	var eg errgroup.Group
	for _, ch := range channels {
		eg.Go(func() error {
			return a.publishNotification(ctx, ch, e.Name(), data)
		})
	}

	return eg.Wait()
}

func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	return a.publishNotification(ctx, a.contestChannel(e.Leaderboard.ContestID), e.Name(), e.Leaderboard)
}

func (a *API) contestChannel(contestID int64) string {
	return fmt.Sprintf("%s:contest:%d", a.prefix, contestID)
}

func (a *API) publishNotification(ctx context.Context, channel, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, channel, b).Err()
}
