package wizard_test

import (
	"context"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/econtest/internal/catalog"
	"github.com/victornm/econtest/internal/domain"
	"github.com/victornm/econtest/internal/errors"
	"github.com/victornm/econtest/internal/event"
	"github.com/victornm/econtest/internal/form"
	"github.com/victornm/econtest/internal/seed"
	"github.com/victornm/econtest/internal/store/memory"
	"github.com/victornm/econtest/internal/wizard"
)

// session is an in-process stepstore.Session.
type session struct {
	steps   map[int64]domain.Selection
	last    map[int64]int
	invalid map[int64]bool
}

func newSession() *session {
	return &session{
		steps:   make(map[int64]domain.Selection),
		last:    make(map[int64]int),
		invalid: make(map[int64]bool),
	}
}

func (s *session) StepData(_ context.Context, _, questionID int64) (domain.Selection, bool, error) {
	v, ok := s.steps[questionID]
	return v, ok, nil
}

func (s *session) SetStepData(_ context.Context, _, questionID int64, v domain.Selection) error {
	s.steps[questionID] = v
	return nil
}

func (s *session) LastCompletedStep(_ context.Context, contestID int64) (int, bool, error) {
	n, ok := s.last[contestID]
	return n, ok, nil
}

func (s *session) SetLastCompletedStep(_ context.Context, contestID int64, step int) error {
	s.last[contestID] = step
	return nil
}

func (s *session) AnswersInvalid(_ context.Context, contestID int64) (bool, error) {
	return s.invalid[contestID], nil
}

func (s *session) SetAnswersInvalid(_ context.Context, contestID int64, invalid bool) error {
	s.invalid[contestID] = invalid
	return nil
}

func (s *session) ClearAll(_ context.Context, contestID int64) error {
	s.steps = make(map[int64]domain.Selection)
	delete(s.last, contestID)
	delete(s.invalid, contestID)
	return nil
}

// duplicatingStore repeats one answer so the answer insert hits the unique key midway.
type duplicatingStore struct {
	*memory.Store
}

func (s duplicatingStore) CreateContestant(ctx context.Context, c *domain.Contestant, answers []domain.Answer) error {
	if len(answers) > 1 {
		answers = append(answers[:2:2], answers[1])
	}
	return s.Store.CreateContestant(ctx, c, answers)
}

type env struct {
	store   *memory.Store
	wizard  *wizard.Service
	seeded  *seed.Result
	eb      *event.Bus
	now     time.Time
	slug    string
	contest int64
}

func setup(t *testing.T, f seed.Fixture, wrap func(*memory.Store) wizard.Store) *env {
	t.Helper()

	e := &env{
		store: memory.NewStore(),
		eb:    event.NewBus(),
		now:   time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return e.now }

	cs := catalog.NewService(catalog.Config{Store: e.store, Now: clock})
	res, err := seed.Apply(context.Background(), cs, f)
	require.NoError(t, err)

	var store wizard.Store = e.store
	if wrap != nil {
		store = wrap(e.store)
	}

	e.seeded = res
	e.slug = res.Contest.Slug
	e.contest = res.Contest.ID
	e.wizard = wizard.NewService(wizard.Config{
		Catalog:  cs,
		Store:    store,
		EventBus: e.eb,
		Now:      clock,
	})

	return e
}

func (e *env) choice(q, c int) string {
	return strconv.FormatInt(e.seeded.Choice(q, c).ID, 10)
}

// answerAll submits the three fixture questions with every answer correct.
func (e *env) answerAll(t *testing.T, sess *session) {
	t.Helper()

	steps := []url.Values{
		{"choice": {e.choice(1, 3)}},
		{"choice": {e.choice(2, 3)}, form.TextField(e.seeded.Choice(2, 3).ID): {"Maple"}},
		{"choice": {e.choice(3, 3)}},
	}

	for i, v := range steps {
		p, err := e.wizard.SubmitStep(context.Background(), wizard.SubmitStepRequest{
			Slug: e.slug, Step: i + 1, Values: v, Session: sess,
		})
		require.NoError(t, err)
		require.Empty(t, p.Form.Error)
		require.True(t, p.Decision.Redirect())
	}
}

func contestantInput(email string) form.ContestantInput {
	return form.ContestantInput{Name: "Jan", Surname: "Novak", Email: email, Address: "Main 1"}
}

func TestService_NoSkipAhead(t *testing.T) {
	ctx := context.Background()
	e := setup(t, seed.Default(), nil)
	sess := newSession()

	p, err := e.wizard.Step(ctx, wizard.StepRequest{Slug: e.slug, Step: 2, Session: sess})
	require.NoError(t, err)
	assert.Equal(t, wizard.Decision{Action: wizard.RedirectStep, Step: 1}, p.Decision)

	p, err = e.wizard.Step(ctx, wizard.StepRequest{Slug: e.slug, Step: 1, Session: sess})
	require.NoError(t, err)
	require.Equal(t, wizard.Serve, p.Decision.Action)
	assert.Equal(t, e.seeded.Question(1).ID, p.Question.ID)
	assert.Len(t, p.Form.Options(), 3)

	p, err = e.wizard.SubmitStep(ctx, wizard.SubmitStepRequest{
		Slug: e.slug, Step: 1, Values: url.Values{"choice": {e.choice(1, 1)}}, Session: sess,
	})
	require.NoError(t, err)
	assert.Equal(t, wizard.Decision{Action: wizard.RedirectStep, Step: 2}, p.Decision)

	p, err = e.wizard.Step(ctx, wizard.StepRequest{Slug: e.slug, Step: 3, Session: sess})
	require.NoError(t, err)
	assert.Equal(t, wizard.Decision{Action: wizard.RedirectStep, Step: 2}, p.Decision)
	assert.Nil(t, p.Form, "step 3 is never served")

	// posting out of sequence stores nothing
	p, err = e.wizard.SubmitStep(ctx, wizard.SubmitStepRequest{
		Slug: e.slug, Step: 3, Values: url.Values{"choice": {e.choice(3, 1)}}, Session: sess,
	})
	require.NoError(t, err)
	assert.Equal(t, wizard.Decision{Action: wizard.RedirectStep, Step: 2}, p.Decision)
	assert.NotContains(t, sess.steps, e.seeded.Question(3).ID)

	c, err := e.wizard.Contestant(ctx, wizard.ContestantRequest{Slug: e.slug, Session: sess})
	require.NoError(t, err)
	assert.Equal(t, wizard.Decision{Action: wizard.RedirectStep, Step: 2}, c.Decision)

	_, err = e.wizard.Step(ctx, wizard.StepRequest{Slug: e.slug, Step: 4, Session: sess})
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestService_SubmitStepInvalid(t *testing.T) {
	ctx := context.Background()
	e := setup(t, seed.Default(), nil)
	sess := newSession()

	tests := map[string]struct {
		values  url.Values
		wantErr string
	}{
		"missing":        {values: url.Values{}, wantErr: "This field is required."},
		"foreign choice": {values: url.Values{"choice": {e.choice(2, 1)}}, wantErr: "Select a valid choice."},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			p, err := e.wizard.SubmitStep(ctx, wizard.SubmitStepRequest{Slug: e.slug, Step: 1, Values: tt.values, Session: sess})
			require.NoError(t, err)
			assert.Equal(t, wizard.Serve, p.Decision.Action)
			assert.Equal(t, tt.wantErr, p.Form.Error)
			assert.Empty(t, sess.steps)
			assert.Empty(t, sess.last)
		})
	}
}

func TestService_Finalize(t *testing.T) {
	ctx := context.Background()
	e := setup(t, seed.Default(), nil)
	sess := newSession()

	finalized := make(chan domain.EventContestantFinalized, 1)
	event.On(e.eb, domain.EventNameContestantFinalized, func(_ context.Context, ev domain.EventContestantFinalized) error {
		finalized <- ev
		return nil
	})

	// optional question 3 is left empty
	for i, v := range []url.Values{
		{"choice": {e.choice(1, 3)}},
		{"choice": {e.choice(2, 3)}, form.TextField(e.seeded.Choice(2, 3).ID): {" Maple "}},
		{},
	} {
		_, err := e.wizard.SubmitStep(ctx, wizard.SubmitStepRequest{Slug: e.slug, Step: i + 1, Values: v, Session: sess})
		require.NoError(t, err)
	}

	progress, err := e.wizard.Progress(ctx, wizard.ProgressRequest{Slug: e.slug, Session: sess})
	require.NoError(t, err)
	assert.Equal(t, wizard.QuestionsComplete, progress.State)
	assert.Equal(t, wizard.RedirectContestant, progress.Next.Action)

	c, err := e.wizard.Contestant(ctx, wizard.ContestantRequest{Slug: e.slug, Session: sess})
	require.NoError(t, err)
	require.Equal(t, wizard.Serve, c.Decision.Action)

	p, err := e.wizard.Finalize(ctx, wizard.FinalizeRequest{
		Slug:    e.slug,
		Input:   contestantInput(" Jan@Example.com "),
		UserID:  "user-1",
		Session: sess,
	})
	require.NoError(t, err)
	require.True(t, p.Valid(), "errors: %v %s", p.Errors, p.Error)
	assert.Equal(t, wizard.RedirectResult, p.Decision.Action)
	require.NotNil(t, p.Contestant)
	assert.Equal(t, "jan@example.com", p.Contestant.Email)
	assert.Equal(t, e.now, p.Contestant.Created)

	answers, err := e.store.ListAnswers(ctx, e.contest)
	require.NoError(t, err)
	require.Len(t, answers, 2)
	assert.Equal(t, e.seeded.Choice(1, 3).ID, answers[0].ChoiceID)
	assert.Equal(t, domain.Answer{ID: answers[1].ID, ContestantID: p.Contestant.ID, ChoiceID: e.seeded.Choice(2, 3).ID, Text: "Maple"}, answers[1])

	assert.Empty(t, sess.steps, "storage is cleared")
	assert.Empty(t, sess.last)

	select {
	case ev := <-finalized:
		assert.Equal(t, p.Contestant.ID, ev.Contestant.ID)
		assert.Equal(t, 2, ev.Answers)
	case <-time.After(time.Second):
		t.Fatal("contestant.finalized was not published")
	}

	progress, err = e.wizard.Progress(ctx, wizard.ProgressRequest{Slug: e.slug, UserID: "user-1", Session: sess})
	require.NoError(t, err)
	assert.Equal(t, wizard.Finalized, progress.State)
	assert.Equal(t, wizard.RedirectResult, progress.Next.Action)
}

func TestService_FinalizeDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	e := setup(t, seed.Default(), nil)

	for i, email := range []string{"jan@example.com", "JAN@example.com"} {
		sess := newSession()
		e.answerAll(t, sess)

		p, err := e.wizard.Finalize(ctx, wizard.FinalizeRequest{Slug: e.slug, Input: contestantInput(email), Session: sess})
		require.NoError(t, err)

		if i == 0 {
			require.True(t, p.Valid())
			continue
		}

		assert.Equal(t, "Your email is not unique, you probably already competed.", p.Error)
		assert.Equal(t, wizard.Serve, p.Decision.Action)
		assert.NotEmpty(t, sess.steps, "storage is kept for a retry")
	}

	contestants, err := e.store.ListContestants(ctx, e.contest)
	require.NoError(t, err)
	assert.Len(t, contestants, 1)
}

func TestService_FinalizeAtomic(t *testing.T) {
	ctx := context.Background()
	e := setup(t, seed.Default(), func(s *memory.Store) wizard.Store { return duplicatingStore{s} })
	sess := newSession()
	e.answerAll(t, sess)

	p, err := e.wizard.Finalize(ctx, wizard.FinalizeRequest{Slug: e.slug, Input: contestantInput("jan@example.com"), Session: sess})
	require.NoError(t, err)
	assert.False(t, p.Valid())
	assert.Nil(t, p.Contestant)

	contestants, err := e.store.ListContestants(ctx, e.contest)
	require.NoError(t, err)
	assert.Empty(t, contestants)

	answers, err := e.store.ListAnswers(ctx, e.contest)
	require.NoError(t, err)
	assert.Empty(t, answers)

	assert.Len(t, sess.steps, 3, "storage is kept for a retry")
	assert.Equal(t, 3, sess.last[e.contest])
}

func TestService_FinalizeInvalid(t *testing.T) {
	ctx := context.Background()

	tests := map[string]struct {
		tamper      func(e *env, sess *session)
		input       form.ContestantInput
		wantFields  []string
		wantInvalid bool
	}{
		"bad contestant fields": {
			tamper:     func(*env, *session) {},
			input:      form.ContestantInput{Name: "Jan", Email: "nope"},
			wantFields: []string{"surname", "email", "address"},
		},
		"foreign choice in storage": {
			tamper: func(e *env, sess *session) {
				sess.steps[e.seeded.Question(1).ID] = domain.Selection{ChoiceID: e.seeded.Choice(2, 1).ID}
			},
			input:       contestantInput("jan@example.com"),
			wantInvalid: true,
		},
		"expired step data": {
			tamper: func(e *env, sess *session) {
				delete(sess.steps, e.seeded.Question(3).ID)
			},
			input:       contestantInput("jan@example.com"),
			wantInvalid: true,
		},
		"blank free text on a required question": {
			tamper: func(e *env, sess *session) {
				sess.steps[e.seeded.Question(2).ID] = domain.Selection{ChoiceID: e.seeded.Choice(2, 3).ID, WithText: true}
			},
			input:       contestantInput("jan@example.com"),
			wantInvalid: true,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			e := setup(t, seed.Default(), nil)
			sess := newSession()
			e.answerAll(t, sess)
			tt.tamper(e, sess)

			p, err := e.wizard.Finalize(ctx, wizard.FinalizeRequest{Slug: e.slug, Input: tt.input, Session: sess})
			require.NoError(t, err)
			assert.False(t, p.Valid())

			for _, f := range tt.wantFields {
				assert.Contains(t, p.Errors, f)
			}
			assert.Equal(t, tt.wantInvalid, sess.invalid[e.contest])
			if tt.wantInvalid {
				assert.NotEmpty(t, p.Error)
			}

			contestants, err := e.store.ListContestants(ctx, e.contest)
			require.NoError(t, err)
			assert.Empty(t, contestants)

			r, err := e.wizard.Result(ctx, wizard.ResultRequest{Slug: e.slug, Session: sess})
			require.NoError(t, err)
			assert.Equal(t, tt.wantInvalid, r.AnswersInvalid)
		})
	}
}

func TestService_InactiveContest(t *testing.T) {
	ctx := context.Background()

	till := time.Date(2024, 9, 30, 0, 0, 0, 0, time.UTC)
	f := seed.Default()
	f.ActiveTill = &till

	e := setup(t, f, nil)
	sess := newSession()

	p, err := e.wizard.SubmitStep(ctx, wizard.SubmitStepRequest{
		Slug: e.slug, Step: 1, Values: url.Values{"choice": {e.choice(1, 3)}}, Session: sess,
	})
	require.NoError(t, err)
	assert.Equal(t, wizard.Serve, p.Decision.Action)
	assert.NotEmpty(t, p.Form.Error)
	assert.Equal(t, e.seeded.Choice(1, 3).ID, p.Form.Value.ChoiceID, "the submitted value is re-rendered")
	assert.Empty(t, sess.steps)
	assert.Empty(t, sess.last)

	// a visitor who completed the questions before closing cannot finalize either
	sess.last[e.contest] = 3
	c, err := e.wizard.Finalize(ctx, wizard.FinalizeRequest{Slug: e.slug, Input: contestantInput("jan@example.com"), Session: sess})
	require.NoError(t, err)
	assert.NotEmpty(t, c.Error)
	assert.Nil(t, c.Contestant)

	r, err := e.wizard.Result(ctx, wizard.ResultRequest{Slug: e.slug, Session: sess})
	require.NoError(t, err)
	assert.Equal(t, domain.ContestClosed, r.ContestState)
	assert.Equal(t, f.TextResults, r.Content)
}

func TestService_ResultWinners(t *testing.T) {
	ctx := context.Background()

	f := seed.Default()
	till := time.Date(2024, 10, 1, 12, 30, 0, 0, time.UTC)
	f.ActiveTill = &till
	e := setup(t, f, nil)

	var ids []int64
	for _, email := range []string{"a@example.com", "b@example.com"} {
		sess := newSession()
		e.answerAll(t, sess)
		p, err := e.wizard.Finalize(ctx, wizard.FinalizeRequest{Slug: e.slug, Input: contestantInput(email), Session: sess})
		require.NoError(t, err)
		require.NotNil(t, p.Contestant)
		ids = append(ids, p.Contestant.ID)
	}
	require.NoError(t, e.store.SetWinner(ctx, e.contest, ids[1], true))

	r, err := e.wizard.Result(ctx, wizard.ResultRequest{Slug: e.slug, Session: newSession()})
	require.NoError(t, err)
	assert.Empty(t, r.Winners, "winners are hidden while the contest runs")

	e.now = e.now.Add(time.Hour)

	r, err = e.wizard.Result(ctx, wizard.ResultRequest{Slug: e.slug, Session: newSession()})
	require.NoError(t, err)
	require.Len(t, r.Winners, 1)
	assert.Equal(t, ids[1], r.Winners[0].ID)
}
