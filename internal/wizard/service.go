package wizard

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/victornm/econtest/internal/catalog"
	"github.com/victornm/econtest/internal/domain"
	"github.com/victornm/econtest/internal/errors"
	"github.com/victornm/econtest/internal/event"
	"github.com/victornm/econtest/internal/form"
	"github.com/victornm/econtest/internal/stepstore"
	"github.com/victornm/econtest/internal/telemetry"
)

const (
	msgInactive       = "The contest is not active, answers are not accepted."
	msgAnswersInvalid = "Some of the questions are filled incorrectly, please go through them again."
	msgDuplicateEmail = "Your email is not unique, you probably already competed."
)

// Store persists finalized submissions.
type Store interface {
	ContestantExists(ctx context.Context, contestID int64, email string) (bool, error)
	// ContestantByUser returns domain.ErrNotFound when the user has not competed.
	ContestantByUser(ctx context.Context, contestID int64, userID string) (domain.Contestant, error)
	// CreateContestant inserts the contestant and its answers in one transaction.
	// It returns domain.ErrDuplicateEmail or domain.ErrDuplicateAnswer on unique violations.
	CreateContestant(ctx context.Context, c *domain.Contestant, answers []domain.Answer) error
	ListContestants(ctx context.Context, contestID int64) ([]domain.Contestant, error)
}

type Config struct {
	Catalog  *catalog.Service
	Store    Store
	EventBus *event.Bus
	Now      func() time.Time
}

type Service struct {
	catalog *catalog.Service
	store   Store
	eb      *event.Bus
	now     func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		catalog: c.Catalog,
		store:   c.Store,
		eb:      c.EventBus,
		now:     c.Now,
	}

	if s.now == nil {
		s.now = time.Now
	}

	return s
}

// Contest returns the published contest behind slug.
func (s *Service) Contest(ctx context.Context, slug string) (*domain.Contest, error) {
	return s.catalog.PublishedContest(ctx, slug)
}

// visit is the contest and the visitor's stored pointer, loaded once per request.
type visit struct {
	contest   *domain.Contest
	questions domain.Questions
	last      int
	started   bool
}

func (s *Service) load(ctx context.Context, slug string, sess stepstore.Session) (*visit, error) {
	c, err := s.catalog.PublishedContest(ctx, slug)
	if err != nil {
		return nil, err
	}

	qs, err := s.catalog.Questions(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	last, started, err := sess.LastCompletedStep(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("wizard: read progress: %w", err)
	}

	return &visit{contest: c, questions: qs, last: last, started: started}, nil
}

// StepPage is a question step ready to render, or a redirect when Decision says so.
type StepPage struct {
	Contest  *domain.Contest
	Decision Decision
	Step     int
	Total    int
	Question domain.Question
	Form     *form.QuestionForm
}

type StepRequest struct {
	Slug    string
	Step    int
	Session stepstore.Session
}

// Step renders question step k, pre-filled from the visitor's storage.
func (s *Service) Step(ctx context.Context, req StepRequest) (*StepPage, error) {
	v, err := s.load(ctx, req.Slug, req.Session)
	if err != nil {
		return nil, err
	}

	return s.stepPage(ctx, v, req.Step, req.Session)
}

func (s *Service) stepPage(ctx context.Context, v *visit, k int, sess stepstore.Session) (*StepPage, error) {
	p := &StepPage{
		Contest:  v.contest,
		Decision: Gate(k, v.questions.Len(), v.last, v.started),
		Step:     k,
		Total:    v.questions.Len(),
	}

	switch p.Decision.Action {
	case NotFound:
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("there is no such question in this contest: step=%d", k))
	case Serve:
	default:
		return p, nil
	}

	q, _ := v.questions.At(k)
	choices, err := s.catalog.Choices(ctx, q.ID)
	if err != nil {
		return nil, err
	}

	var prior *domain.Selection
	sel, ok, err := sess.StepData(ctx, v.contest.ID, q.ID)
	if err != nil {
		return nil, fmt.Errorf("wizard: read step data: %w", err)
	}
	if ok {
		prior = &sel
	}

	p.Question = q
	p.Form = form.BuildQuestion(q, choices, prior)
	return p, nil
}

type SubmitStepRequest struct {
	Slug    string
	Step    int
	Values  url.Values
	Session stepstore.Session
}

// SubmitStep validates a posted step. A valid answer is stored, the step is marked
// completed and the page redirects onwards. An invalid answer, or any submission
// while the contest is not active, re-renders the step with Form.Error set and
// changes nothing.
func (s *Service) SubmitStep(ctx context.Context, req SubmitStepRequest) (*StepPage, error) {
	v, err := s.load(ctx, req.Slug, req.Session)
	if err != nil {
		return nil, err
	}

	p, err := s.stepPage(ctx, v, req.Step, req.Session)
	if err != nil {
		return nil, err
	}
	if p.Decision.Action != Serve {
		telemetry.WizardSteps.WithLabelValues("redirect").Inc()
		return p, nil
	}

	if !v.contest.IsActive(s.now()) {
		telemetry.WizardSteps.WithLabelValues("inactive").Inc()
		if sel, err := p.Form.Parse(req.Values); err == nil {
			p.Form.Value = sel
		}
		p.Form.Error = msgInactive
		return p, nil
	}

	sel, err := p.Form.Submit(req.Values)
	if err != nil {
		telemetry.WizardSteps.WithLabelValues("invalid").Inc()
		slog.DebugContext(ctx, "wizard: invalid step", "contest", v.contest.ID, "step", req.Step, "error", err)
		return p, nil
	}

	if err := req.Session.SetStepData(ctx, v.contest.ID, p.Question.ID, sel); err != nil {
		return nil, fmt.Errorf("wizard: store step data: %w", err)
	}
	if err := req.Session.SetLastCompletedStep(ctx, v.contest.ID, req.Step); err != nil {
		return nil, fmt.Errorf("wizard: store progress: %w", err)
	}

	telemetry.WizardSteps.WithLabelValues("ok").Inc()
	p.Decision = next(p.Total, req.Step)
	return p, nil
}

// ContestantPage is the finalize step. Errors holds messages per input field,
// Error a message for the whole submission.
type ContestantPage struct {
	Contest  *domain.Contest
	Decision Decision
	Total    int
	Input    form.ContestantInput
	Errors   map[string]string
	Error    string
	// Contestant is set once the submission was finalized.
	Contestant *domain.Contestant
}

func (p *ContestantPage) Valid() bool {
	return len(p.Errors) == 0 && p.Error == ""
}

type ContestantRequest struct {
	Slug    string
	Session stepstore.Session
}

// Contestant renders the finalize step once every question step is completed.
func (s *Service) Contestant(ctx context.Context, req ContestantRequest) (*ContestantPage, error) {
	v, err := s.load(ctx, req.Slug, req.Session)
	if err != nil {
		return nil, err
	}

	return &ContestantPage{
		Contest:  v.contest,
		Decision: ContestantGate(v.questions.Len(), v.last, v.started),
		Total:    v.questions.Len(),
	}, nil
}

type FinalizeRequest struct {
	Slug    string
	Input   form.ContestantInput
	UserID  string
	Session stepstore.Session
}

// Finalize validates the contestant data and every stored answer, then creates the
// contestant with its answers in one transaction and clears the visitor's storage.
// Validation failures, including a duplicate email, come back on the page; the
// returned error is reserved for failures the visitor cannot fix.
func (s *Service) Finalize(ctx context.Context, req FinalizeRequest) (*ContestantPage, error) {
	v, err := s.load(ctx, req.Slug, req.Session)
	if err != nil {
		return nil, err
	}

	in := req.Input.Normalize()
	p := &ContestantPage{
		Contest:  v.contest,
		Decision: ContestantGate(v.questions.Len(), v.last, v.started),
		Total:    v.questions.Len(),
		Input:    in,
	}
	if p.Decision.Action != Serve {
		telemetry.Finalizations.WithLabelValues("redirect").Inc()
		return p, nil
	}

	if !v.contest.IsActive(s.now()) {
		telemetry.Finalizations.WithLabelValues("inactive").Inc()
		p.Error = msgInactive
		return p, nil
	}

	if err := form.ValidateContestant(in); err != nil {
		p.Errors = errors.Convert(err).Fields
	}

	answers, ok, err := s.storedAnswers(ctx, v, req.Session)
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := req.Session.SetAnswersInvalid(ctx, v.contest.ID, true); err != nil {
			return nil, fmt.Errorf("wizard: flag invalid answers: %w", err)
		}
		p.Error = msgAnswersInvalid
	}

	if !p.Valid() {
		telemetry.Finalizations.WithLabelValues("invalid").Inc()
		return p, nil
	}

	exists, err := s.store.ContestantExists(ctx, v.contest.ID, in.Email)
	if err != nil {
		return nil, fmt.Errorf("wizard: check email: %w", err)
	}
	if exists {
		telemetry.Finalizations.WithLabelValues("duplicate").Inc()
		p.Error = msgDuplicateEmail
		return p, nil
	}

	c := &domain.Contestant{
		ContestID: v.contest.ID,
		UserID:    req.UserID,
		Name:      in.Name,
		Surname:   in.Surname,
		Email:     in.Email,
		Address:   in.Address,
		Phone:     in.Phone,
		Created:   s.now(),
	}

	if err := s.store.CreateContestant(ctx, c, answers); err != nil {
		switch {
		case stderrors.Is(err, domain.ErrDuplicateEmail):
			telemetry.Finalizations.WithLabelValues("duplicate").Inc()
			p.Error = msgDuplicateEmail
			return p, nil
		case stderrors.Is(err, domain.ErrDuplicateAnswer):
			telemetry.Finalizations.WithLabelValues("invalid").Inc()
			p.Error = msgAnswersInvalid
			return p, nil
		}

		telemetry.Finalizations.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("wizard: create contestant: %w", err)
	}

	if err := req.Session.ClearAll(ctx, v.contest.ID); err != nil {
		slog.ErrorContext(ctx, "wizard: clear step storage failed", "contest", v.contest.ID, "error", err)
	}

	telemetry.Finalizations.WithLabelValues("ok").Inc()
	telemetry.Contestants.Inc()
	slog.InfoContext(ctx, "wizard: contestant finalized", "contest", v.contest.ID, "contestant", c.ID, "answers", len(answers))

	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventContestantFinalized{Contestant: *c, Answers: len(answers)})
	}

	p.Contestant = c
	p.Decision = Decision{Action: RedirectResult}
	return p, nil
}

// storedAnswers re-validates the stored answer of every question. Missing data
// fails the whole set, so does data that no longer matches the question.
func (s *Service) storedAnswers(ctx context.Context, v *visit, sess stepstore.Session) ([]domain.Answer, bool, error) {
	var (
		answers []domain.Answer
		valid   = true
	)

	for _, q := range v.questions {
		choices, err := s.catalog.Choices(ctx, q.ID)
		if err != nil {
			return nil, false, err
		}

		sel, ok, err := sess.StepData(ctx, v.contest.ID, q.ID)
		if err != nil {
			return nil, false, fmt.Errorf("wizard: read step data: %w", err)
		}
		if !ok {
			valid = false
			continue
		}

		f := form.BuildQuestion(q, choices, nil)
		clean, err := f.Validate(sel)
		if err != nil {
			valid = false
			continue
		}

		if a, ok := f.Answer(clean); ok {
			answers = append(answers, a)
		}
	}

	return answers, valid, nil
}

type ProgressRequest struct {
	Slug    string
	UserID  string
	Session stepstore.Session
}

// Progress is where the visitor stands in a contest.
type Progress struct {
	Contest      *domain.Contest
	ContestState domain.ContestState
	Content      string
	State        State
	Total        int
	Last         int
	// Next is where the visitor continues from the contest page.
	Next       Decision
	Contestant *domain.Contestant
}

func (s *Service) Progress(ctx context.Context, req ProgressRequest) (*Progress, error) {
	v, err := s.load(ctx, req.Slug, req.Session)
	if err != nil {
		return nil, err
	}

	contestant, err := s.contestantOf(ctx, v.contest.ID, req.UserID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	p := &Progress{
		Contest:      v.contest,
		ContestState: v.contest.State(now),
		Content:      v.contest.Content(now),
		State:        StateOf(v.questions.Len(), v.last, v.started, contestant != nil),
		Total:        v.questions.Len(),
		Last:         v.last,
		Contestant:   contestant,
	}

	switch p.State {
	case Finalized:
		p.Next = Decision{Action: RedirectResult}
	case NotStarted:
		p.Next = next(p.Total, 0)
	default:
		p.Next = next(p.Total, v.last)
	}

	return p, nil
}

func (s *Service) contestantOf(ctx context.Context, contestID int64, userID string) (*domain.Contestant, error) {
	if userID == "" {
		return nil, nil
	}

	c, err := s.store.ContestantByUser(ctx, contestID, userID)
	if stderrors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("wizard: contestant of user: %w", err)
	}

	return &c, nil
}

type ResultRequest struct {
	Slug    string
	UserID  string
	Session stepstore.Session
}

// ResultPage is the read-only result view.
type ResultPage struct {
	Contest      *domain.Contest
	ContestState domain.ContestState
	Content      string
	Announcement string
	// AnswersInvalid is set when a finalize attempt found the stored answers broken.
	AnswersInvalid bool
	Contestant     *domain.Contestant
	// Winners are listed once the contest is closed.
	Winners []domain.Contestant
}

func (s *Service) Result(ctx context.Context, req ResultRequest) (*ResultPage, error) {
	c, err := s.catalog.PublishedContest(ctx, req.Slug)
	if err != nil {
		return nil, err
	}

	invalid, err := req.Session.AnswersInvalid(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("wizard: read invalid flag: %w", err)
	}

	contestant, err := s.contestantOf(ctx, c.ID, req.UserID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	p := &ResultPage{
		Contest:        c,
		ContestState:   c.State(now),
		Content:        c.Content(now),
		Announcement:   c.TextAnnouncement,
		AnswersInvalid: invalid,
		Contestant:     contestant,
	}

	if p.ContestState == domain.ContestClosed {
		all, err := s.store.ListContestants(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("wizard: list contestants: %w", err)
		}
		for _, ct := range all {
			if ct.Winner {
				p.Winners = append(p.Winners, ct)
			}
		}
	}

	return p, nil
}
