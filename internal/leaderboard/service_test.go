package leaderboard_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/econtest/internal/catalog"
	"github.com/victornm/econtest/internal/domain"
	"github.com/victornm/econtest/internal/event"
	"github.com/victornm/econtest/internal/leaderboard"
	"github.com/victornm/econtest/internal/score"
	"github.com/victornm/econtest/internal/seed"
	"github.com/victornm/econtest/internal/store/memory"
)

var base = time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)

type env struct {
	store    *memory.Store
	redis    *miniredis.Miniredis
	eb       *event.Bus
	contests []*seed.Result
	service  *leaderboard.Service
}

func (e *env) submit(t *testing.T, contest int, email string, created time.Time, answers ...domain.Answer) domain.Contestant {
	t.Helper()

	c := &domain.Contestant{
		ContestID: e.contests[contest].Contest.ID,
		Name:      "Name " + email,
		Surname:   "Surname",
		Email:     email,
		Address:   "Main 1",
		Created:   created,
	}
	require.NoError(t, e.store.CreateContestant(context.Background(), c, answers))

	return *c
}

func (e *env) pick(contest, q, c int) domain.Answer {
	return domain.Answer{ChoiceID: e.contests[contest].Choice(q, c).ID}
}

func TestService_Get(t *testing.T) {
	e := makeEnv(t, withSize(2))
	ctx := context.Background()

	one := e.submit(t, 0, "one@example.com", base, e.pick(0, 1, 3))
	two := e.submit(t, 0, "two@example.com", base.Add(time.Minute), e.pick(0, 1, 3), domain.Answer{ChoiceID: e.contests[0].Choice(2, 3).ID, Text: "Maple"})
	e.submit(t, 0, "late@example.com", base.Add(2*time.Minute), e.pick(0, 1, 3))
	e.submit(t, 0, "zero@example.com", base, e.pick(0, 1, 1))

	l, err := e.service.Get(ctx, e.contests[0].Contest.ID)
	require.NoError(t, err)

	want := &domain.Leaderboard{
		ContestID: e.contests[0].Contest.ID,
		Entries: []domain.LeaderboardEntry{
			{Position: 1, ContestantID: two.ID, Name: two.Name, Surname: "Surname", Correct: 2},
			{Position: 2, ContestantID: one.ID, Name: one.Name, Surname: "Surname", Correct: 1},
		},
	}
	assert.Equal(t, want, l)

	l, err = e.service.Get(ctx, e.contests[1].Contest.ID)
	require.NoError(t, err)
	assert.Empty(t, l.Entries)
}

func TestService_PublishLeaderboardUpdated(t *testing.T) {
	type (
		inputs struct {
			// finalized holds, per round, the contests receiving a contestant.finalized event.
			finalized [][]int
		}

		outputs struct {
			publishedEvents []domain.EventLeaderboardUpdated
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, e *env, out outputs)
	}{
		"should publish leaderboard.updated after receiving contestant.finalized": {
			arrange: func() inputs {
				return inputs{finalized: [][]int{{0}}}
			},
			assert: func(t *testing.T, e *env, out outputs) {
				require.Len(t, out.publishedEvents, 1)
				l := out.publishedEvents[0].Leaderboard
				assert.Equal(t, e.contests[0].Contest.ID, l.ContestID)
				require.Len(t, l.Entries, 1)
				assert.Equal(t, 1, l.Entries[0].Correct)
			},
		},

		"should publish 2 events for 2 different contests": {
			arrange: func() inputs {
				return inputs{finalized: [][]int{{0, 1}}}
			},
			assert: func(t *testing.T, e *env, out outputs) {
				require.Len(t, out.publishedEvents, 2)
			},
		},

		"should publish 1 event for the same contest within the publish interval": {
			arrange: func() inputs {
				return inputs{finalized: [][]int{{0, 0, 0}}}
			},
			assert: func(t *testing.T, e *env, out outputs) {
				require.Len(t, out.publishedEvents, 1)
			},
		},

		"should publish again once the interval has passed": {
			arrange: func() inputs {
				return inputs{finalized: [][]int{{0}, {0}}}
			},
			assert: func(t *testing.T, e *env, out outputs) {
				require.Len(t, out.publishedEvents, 2)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			e, in, out := makeEnv(t), tt.arrange(), outputs{}

			var mu sync.Mutex
			event.On(e.eb, domain.EventNameLeaderboardUpdated, func(ctx context.Context, ev domain.EventLeaderboardUpdated) error {
				mu.Lock()
				out.publishedEvents = append(out.publishedEvents, ev)
				mu.Unlock()
				return nil
			})

			for i := range e.contests {
				e.submit(t, i, "one@example.com", base, e.pick(i, 1, 3))
			}

			for _, round := range in.finalized {
				for _, contest := range round {
					e.eb.Publish(context.Background(), domain.EventContestantFinalized{
						Contestant: domain.Contestant{ContestID: e.contests[contest].Contest.ID},
					})
				}
				e.eb.Stop()
				e.redis.FastForward(time.Minute)
			}

			tt.assert(t, e, out)
		})
	}
}

func TestService_PublishTrailingLeaderboard(t *testing.T) {
	e := makeEnv(t, withInterval(300*time.Millisecond))
	ctx := context.Background()

	var (
		mu        sync.Mutex
		published []domain.EventLeaderboardUpdated
	)
	event.On(e.eb, domain.EventNameLeaderboardUpdated, func(ctx context.Context, ev domain.EventLeaderboardUpdated) error {
		mu.Lock()
		published = append(published, ev)
		mu.Unlock()
		return nil
	})
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(published)
	}

	finalize := func(email string) {
		c := e.submit(t, 0, email, base, e.pick(0, 1, 3))
		e.eb.Publish(ctx, domain.EventContestantFinalized{Contestant: c})
		e.eb.Stop()
	}

	finalize("one@example.com")
	require.Equal(t, 1, count())

	// throttled: miniredis keeps the lock until fast forwarded
	finalize("two@example.com")
	finalize("three@example.com")
	require.Equal(t, 1, count())

	require.Eventually(t, func() bool { return count() == 2 }, 3*time.Second, 10*time.Millisecond)
	e.eb.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, published[0].Leaderboard.Entries, 1)
	assert.Len(t, published[1].Leaderboard.Entries, 3, "the trailing leaderboard carries every throttled update")
}

type options func(c *leaderboard.Config)

func withSize(n int) options {
	return func(c *leaderboard.Config) {
		c.Size = n
	}
}

func withInterval(d time.Duration) options {
	return func(c *leaderboard.Config) {
		c.Interval = d
	}
}

func makeEnv(t *testing.T, opts ...options) *env {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	e := &env{store: memory.NewStore(), eb: event.NewBus(), redis: miniredis.RunT(t)}
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{e.redis.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	cs := catalog.NewService(catalog.Config{Store: e.store})
	for _, slug := range []string{"autumn-quiz", "winter-quiz"} {
		f := seed.Default()
		f.Slug = slug
		res, err := seed.Apply(ctx, cs, f)
		require.NoError(t, err)
		e.contests = append(e.contests, res)
	}

	c := leaderboard.Config{
		EventBus: e.eb,
		Score:    score.NewService(score.Config{Catalog: cs, Store: e.store}),
		Redis:    rc,
		Prefix:   "test",
		Interval: 30 * time.Second,
	}

	for _, opt := range opts {
		opt(&c)
	}

	e.service = leaderboard.NewService(c)
	t.Cleanup(e.service.Stop)
	return e
}
