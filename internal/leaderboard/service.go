package leaderboard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/econtest/internal/domain"
	"github.com/victornm/econtest/internal/event"
	"github.com/victornm/econtest/internal/score"
)

const (
	defaultPublishInterval = 200 * time.Millisecond
	defaultSize            = 10
)

type Config struct {
	EventBus *event.Bus
	Score    *score.Service
	Redis    redis.UniversalClient
	Prefix   string
	// Interval is the shortest gap between two published leaderboards of one contest.
	Interval time.Duration
	// Size is how many ranked contestants a leaderboard holds.
	Size int
}

type Service struct {
	eb       *event.Bus
	score    *score.Service
	redis    redis.UniversalClient
	prefix   string
	interval time.Duration
	size     int

	mu       sync.Mutex
	trailing map[int64]*time.Timer
}

func NewService(c Config) *Service {
	s := &Service{
		eb:       c.EventBus,
		score:    c.Score,
		redis:    c.Redis,
		prefix:   c.Prefix,
		interval: c.Interval,
		size:     c.Size,
		trailing: make(map[int64]*time.Timer),
	}

	if s.interval == 0 {
		s.interval = defaultPublishInterval
	}
	if s.size == 0 {
		s.size = defaultSize
	}

	event.On(s.eb, domain.EventNameContestantFinalized, func(ctx context.Context, e domain.EventContestantFinalized) error {
		return s.schedulePublish(ctx, e.Contestant.ContestID)
	})

	return s
}

// Get returns the best ranked contestants of the contest.
func (s *Service) Get(ctx context.Context, contestID int64) (*domain.Leaderboard, error) {
	ranked, err := s.score.Rank(ctx, contestID)
	if err != nil {
		return nil, err
	}

	l := &domain.Leaderboard{
		ContestID: contestID,
		Entries:   make([]domain.LeaderboardEntry, 0, min(len(ranked), s.size)),
	}
	for i, r := range ranked {
		if i == s.size {
			break
		}
		l.Entries = append(l.Entries, domain.LeaderboardEntry{
			Position:     i + 1,
			ContestantID: r.Contestant.ID,
			Name:         r.Contestant.Name,
			Surname:      r.Contestant.Surname,
			Correct:      r.Correct,
		})
	}

	return l, nil
}

// Stop drops the trailing publishes still waiting for their interval to end.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.trailing {
		t.Stop()
		delete(s.trailing, id)
	}
}

// schedulePublish publishes at most one leaderboard per interval for a contest.
// Updates throttled inside an interval are covered by one trailing publish when
// it ends. The locks live in redis so several instances share them.
func (s *Service) schedulePublish(ctx context.Context, contestID int64) error {
	ok, err := s.redis.SetNX(ctx, s.lockKey(contestID), time.Now().UnixMilli(), s.interval).Result()
	if err != nil {
		return fmt.Errorf("leaderboard: setnx: %w", err)
	}

	if !ok {
		return s.scheduleTrailing(ctx, contestID)
	}

	return s.publish(ctx, contestID)
}

func (s *Service) scheduleTrailing(ctx context.Context, contestID int64) error {
	s.mu.Lock()
	_, waiting := s.trailing[contestID]
	s.mu.Unlock()
	if waiting {
		return nil
	}

	ok, err := s.redis.SetNX(ctx, s.trailingKey(contestID), time.Now().UnixMilli(), 2*s.interval).Result()
	if err != nil {
		return fmt.Errorf("leaderboard: setnx trailing: %w", err)
	}
	if !ok {
		return nil
	}

	wait, err := s.redis.PTTL(ctx, s.lockKey(contestID)).Result()
	if err != nil || wait <= 0 {
		wait = s.interval
	}

	ctx = context.WithoutCancel(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.trailing[contestID] = time.AfterFunc(wait, func() {
		s.mu.Lock()
		delete(s.trailing, contestID)
		s.mu.Unlock()

		if err := s.publishTrailing(ctx, contestID); err != nil {
			slog.ErrorContext(ctx, "leaderboard: trailing publish failed", "contest_id", contestID, "error", err)
		}
	})

	return nil
}

// publishTrailing starts a new interval with the trailing leaderboard.
func (s *Service) publishTrailing(ctx context.Context, contestID int64) error {
	if err := s.redis.Del(ctx, s.trailingKey(contestID)).Err(); err != nil {
		return fmt.Errorf("leaderboard: del trailing: %w", err)
	}

	if err := s.redis.Set(ctx, s.lockKey(contestID), time.Now().UnixMilli(), s.interval).Err(); err != nil {
		return fmt.Errorf("leaderboard: set lock: %w", err)
	}

	return s.publish(ctx, contestID)
}

func (s *Service) publish(ctx context.Context, contestID int64) error {
	l, err := s.Get(ctx, contestID)
	if err != nil {
		return fmt.Errorf("leaderboard: contest=%d: %w", contestID, err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{Leaderboard: *l})
	return nil
}

func (s *Service) lockKey(contestID int64) string {
	return fmt.Sprintf("%s:contest:%d:leaderboard", s.prefix, contestID)
}

func (s *Service) trailingKey(contestID int64) string {
	return fmt.Sprintf("%s:contest:%d:leaderboard:trailing", s.prefix, contestID)
}
