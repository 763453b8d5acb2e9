package catalog

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"github.com/victornm/econtest/internal/cache"
	"github.com/victornm/econtest/internal/domain"
	"github.com/victornm/econtest/internal/errors"
	"github.com/victornm/econtest/internal/event"
	"github.com/victornm/econtest/internal/telemetry"
)

const (
	defaultTTL = 10 * time.Minute

	questionsKeyPattern = "contests:questions:%d"
	choicesKeyPattern   = "contests:choices:%d"
)

// Store persists contests and their authored content.
// Implementations return domain.ErrNotFound for missing rows and map unique
// violations to domain.ErrDuplicateSlug, domain.ErrDuplicateOrder and
// domain.ErrMultipleCorrectChoices.
type Store interface {
	ContestByID(ctx context.Context, id int64) (domain.Contest, error)
	ContestBySlug(ctx context.Context, slug string) (domain.Contest, error)
	ListContests(ctx context.Context) ([]domain.Contest, error)
	InsertContest(ctx context.Context, c *domain.Contest) error

	QuestionByID(ctx context.Context, id int64) (domain.Question, error)
	ListQuestions(ctx context.Context, contestID int64) ([]domain.Question, error)
	InsertQuestion(ctx context.Context, q *domain.Question) error
	UpdateQuestion(ctx context.Context, q domain.Question) error
	DeleteQuestion(ctx context.Context, id int64) error

	ChoiceByID(ctx context.Context, id int64) (domain.Choice, error)
	ListChoices(ctx context.Context, questionID int64) ([]domain.Choice, error)
	InsertChoice(ctx context.Context, c *domain.Choice) error
	UpdateChoice(ctx context.Context, c domain.Choice) error
	DeleteChoice(ctx context.Context, id int64) error

	SetWinner(ctx context.Context, contestID, contestantID int64, winner bool) error
}

type Config struct {
	Store    Store
	Cache    cache.Cache
	EventBus *event.Bus
	// TTL bounds how long ordered lists stay cached. Writes invalidate them immediately.
	TTL time.Duration
	Now func() time.Time
}

// Service reads and authors contests, questions and choices.
type Service struct {
	store    Store
	cache    cache.Cache
	eb       *event.Bus
	ttl      time.Duration
	now      func() time.Time
	sf       singleflight.Group
	validate *validator.Validate

	// mu orders cache fills against invalidations. gens counts the
	// invalidations of each key so a load that raced a write is not cached.
	mu   sync.Mutex
	gens map[string]uint64
}

func NewService(c Config) *Service {
	s := &Service{
		store:    c.Store,
		cache:    c.Cache,
		eb:       c.EventBus,
		ttl:      c.TTL,
		now:      c.Now,
		validate: validator.New(),
		gens:     make(map[string]uint64),
	}

	if s.cache == nil {
		s.cache = cache.NewMemory()
	}
	if s.ttl == 0 {
		s.ttl = defaultTTL
	}
	if s.now == nil {
		s.now = time.Now
	}

	return s
}

// Contest returns a contest by id regardless of its publication state.
func (s *Service) Contest(ctx context.Context, id int64) (*domain.Contest, error) {
	c, err := s.store.ContestByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "contest not found: id=%d", id)
	}

	return &c, nil
}

// PublishedContest returns a contest visitors may see.
func (s *Service) PublishedContest(ctx context.Context, slug string) (*domain.Contest, error) {
	c, err := s.store.ContestBySlug(ctx, slug)
	if err != nil {
		return nil, notFound(err, "contest not found: slug=%s", slug)
	}

	if !c.IsPublished(s.now()) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("contest not found: slug=%s", slug))
	}

	return &c, nil
}

// Contests lists every contest, most recently opened first.
func (s *Service) Contests(ctx context.Context) ([]domain.Contest, error) {
	return s.store.ListContests(ctx)
}

// Questions returns the contest's questions sorted by order.
func (s *Service) Questions(ctx context.Context, contestID int64) (domain.Questions, error) {
	var qs []domain.Question
	err := s.cached(ctx, "questions", fmt.Sprintf(questionsKeyPattern, contestID), &qs, func() (any, error) {
		qs, err := s.store.ListQuestions(ctx, contestID)
		if err != nil {
			return nil, err
		}
		domain.SortQuestions(qs)
		return qs, nil
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: questions of contest %d: %w", contestID, err)
	}

	return qs, nil
}

// Choices returns the question's choices sorted by order.
func (s *Service) Choices(ctx context.Context, questionID int64) ([]domain.Choice, error) {
	var cs []domain.Choice
	err := s.cached(ctx, "choices", fmt.Sprintf(choicesKeyPattern, questionID), &cs, func() (any, error) {
		cs, err := s.store.ListChoices(ctx, questionID)
		if err != nil {
			return nil, err
		}
		domain.SortChoices(cs)
		return cs, nil
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: choices of question %d: %w", questionID, err)
	}

	return cs, nil
}

// AnswerKey loads every question of the contest with its choices.
func (s *Service) AnswerKey(ctx context.Context, contestID int64) (domain.AnswerKey, error) {
	qs, err := s.Questions(ctx, contestID)
	if err != nil {
		return domain.AnswerKey{}, err
	}

	k := domain.AnswerKey{
		Questions: qs,
		Choices:   make(map[int64][]domain.Choice, len(qs)),
	}

	for _, q := range qs {
		cs, err := s.Choices(ctx, q.ID)
		if err != nil {
			return domain.AnswerKey{}, err
		}
		k.Choices[q.ID] = cs
	}

	return k, nil
}

// cached reads key into dst or fills it from load. Concurrent misses on the same key share one load.
func (s *Service) cached(ctx context.Context, list, key string, dst any, load func() (any, error)) error {
	ok, err := s.cache.Get(ctx, key, dst)
	if err != nil {
		slog.WarnContext(ctx, "catalog: read cache failed", "key", key, "error", err)
	}
	if ok {
		telemetry.CatalogCacheLookups.WithLabelValues(list, "hit").Inc()
		return nil
	}
	telemetry.CatalogCacheLookups.WithLabelValues(list, "miss").Inc()

	v, err, _ := s.sf.Do(key, func() (any, error) {
		gen := s.generation(key)

		v, err := load()
		if err != nil {
			return nil, err
		}

		s.fill(ctx, key, gen, v)
		return v, nil
	})
	if err != nil {
		return err
	}

	switch d := dst.(type) {
	case *[]domain.Question:
		*d = append([]domain.Question(nil), v.([]domain.Question)...)
	case *[]domain.Choice:
		*d = append([]domain.Choice(nil), v.([]domain.Choice)...)
	default:
		return fmt.Errorf("catalog: unsupported cache destination %T", dst)
	}

	return nil
}

func (s *Service) generation(key string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gens[key]
}

// fill caches v unless key was invalidated after the load started.
func (s *Service) fill(ctx context.Context, key string, gen uint64, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gens[key] != gen {
		slog.DebugContext(ctx, "catalog: skip stale cache fill", "key", key)
		return
	}

	if err := s.cache.Set(ctx, key, v, s.ttl); err != nil {
		slog.WarnContext(ctx, "catalog: write cache failed", "key", key, "error", err)
	}
}

// evict drops keys from the cache and makes in-flight loads of them uncacheable.
func (s *Service) evict(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		s.gens[k]++
		s.sf.Forget(k)
	}

	return s.cache.Delete(ctx, keys...)
}

type CreateContestRequest struct {
	Title            string `validate:"required,max=255"`
	Slug             string `validate:"omitempty,max=255"`
	Description      string
	Category         string
	Text             string `validate:"required"`
	TextResults      string
	TextAnnouncement string
	ActiveFrom       *time.Time
	ActiveTill       *time.Time
	PublishFrom      time.Time
	PublishTo        *time.Time
	Published        bool
}

func (s *Service) CreateContest(ctx context.Context, req CreateContestRequest) (*domain.Contest, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	if req.ActiveFrom != nil && req.ActiveTill != nil && req.ActiveTill.Before(*req.ActiveFrom) {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("invalid contest"),
			errors.WithField("active_till", "must not be before active_from"))
	}

	slug := req.Slug
	if slug == "" {
		slug = Slugify(req.Title)
	}

	c := &domain.Contest{
		Publishable: domain.Publishable{
			Title:       req.Title,
			Slug:        slug,
			Description: req.Description,
			Category:    req.Category,
			PublishFrom: req.PublishFrom,
			PublishTo:   req.PublishTo,
			Published:   req.Published,
		},
		Text:             req.Text,
		TextResults:      req.TextResults,
		TextAnnouncement: req.TextAnnouncement,
		ActiveFrom:       req.ActiveFrom,
		ActiveTill:       req.ActiveTill,
	}

	if err := s.store.InsertContest(ctx, c); err != nil {
		if stderrors.Is(err, domain.ErrDuplicateSlug) {
			return nil, errors.New(errors.CodeAlreadyExists,
				errors.WithMessagef("contest slug is already taken: slug=%s", slug),
				errors.WithCause(err))
		}
		return nil, fmt.Errorf("catalog: insert contest: %w", err)
	}

	return c, nil
}

type CreateQuestionRequest struct {
	ContestID  int64  `validate:"required"`
	Order      int    `validate:"gt=0"`
	Text       string `validate:"required"`
	Photo      string
	IsRequired bool
}

func (s *Service) CreateQuestion(ctx context.Context, req CreateQuestionRequest) (*domain.Question, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	if _, err := s.Contest(ctx, req.ContestID); err != nil {
		return nil, err
	}

	q := &domain.Question{
		ContestID:  req.ContestID,
		Order:      req.Order,
		Text:       req.Text,
		Photo:      req.Photo,
		IsRequired: req.IsRequired,
	}

	if err := s.store.InsertQuestion(ctx, q); err != nil {
		return nil, questionWriteError(err, q.Order)
	}

	s.invalidateQuestions(ctx, q.ContestID)
	return q, nil
}

type UpdateQuestionRequest struct {
	ID         int64  `validate:"required"`
	ContestID  int64  `validate:"required"`
	Order      int    `validate:"gt=0"`
	Text       string `validate:"required"`
	Photo      string
	IsRequired bool
}

func (s *Service) UpdateQuestion(ctx context.Context, req UpdateQuestionRequest) (*domain.Question, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	old, err := s.store.QuestionByID(ctx, req.ID)
	if err != nil {
		return nil, notFound(err, "question not found: id=%d", req.ID)
	}

	q := domain.Question{
		ID:         req.ID,
		ContestID:  req.ContestID,
		Order:      req.Order,
		Text:       req.Text,
		Photo:      req.Photo,
		IsRequired: req.IsRequired,
	}

	if err := s.store.UpdateQuestion(ctx, q); err != nil {
		return nil, questionWriteError(err, q.Order)
	}

	if old.ContestID != q.ContestID {
		s.invalidateQuestions(ctx, old.ContestID, q.ContestID)
	} else {
		s.invalidateQuestions(ctx, q.ContestID)
	}
	return &q, nil
}

func (s *Service) DeleteQuestion(ctx context.Context, id int64) error {
	q, err := s.store.QuestionByID(ctx, id)
	if err != nil {
		return notFound(err, "question not found: id=%d", id)
	}

	if err := s.store.DeleteQuestion(ctx, id); err != nil {
		return fmt.Errorf("catalog: delete question: %w", err)
	}

	s.invalidateQuestions(ctx, q.ContestID)
	s.invalidateChoices(ctx, q.ContestID, id)
	return nil
}

type CreateChoiceRequest struct {
	QuestionID     int64  `validate:"required"`
	Order          int    `validate:"gt=0"`
	Text           string `validate:"required"`
	IsCorrect      bool
	InsertedByUser bool
}

func (s *Service) CreateChoice(ctx context.Context, req CreateChoiceRequest) (*domain.Choice, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	q, err := s.store.QuestionByID(ctx, req.QuestionID)
	if err != nil {
		return nil, notFound(err, "question not found: id=%d", req.QuestionID)
	}

	c := &domain.Choice{
		QuestionID:     req.QuestionID,
		Order:          req.Order,
		Text:           req.Text,
		IsCorrect:      req.IsCorrect,
		InsertedByUser: req.InsertedByUser,
	}

	if err := s.checkSingleCorrect(ctx, *c); err != nil {
		return nil, err
	}

	if err := s.store.InsertChoice(ctx, c); err != nil {
		return nil, choiceWriteError(err, c.Order)
	}

	s.invalidateChoices(ctx, q.ContestID, c.QuestionID)
	return c, nil
}

type UpdateChoiceRequest struct {
	ID             int64  `validate:"required"`
	QuestionID     int64  `validate:"required"`
	Order          int    `validate:"gt=0"`
	Text           string `validate:"required"`
	IsCorrect      bool
	InsertedByUser bool
}

func (s *Service) UpdateChoice(ctx context.Context, req UpdateChoiceRequest) (*domain.Choice, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	old, err := s.store.ChoiceByID(ctx, req.ID)
	if err != nil {
		return nil, notFound(err, "choice not found: id=%d", req.ID)
	}

	q, err := s.store.QuestionByID(ctx, req.QuestionID)
	if err != nil {
		return nil, notFound(err, "question not found: id=%d", req.QuestionID)
	}

	c := domain.Choice{
		ID:             req.ID,
		QuestionID:     req.QuestionID,
		Order:          req.Order,
		Text:           req.Text,
		IsCorrect:      req.IsCorrect,
		InsertedByUser: req.InsertedByUser,
	}

	if err := s.checkSingleCorrect(ctx, c); err != nil {
		return nil, err
	}

	if err := s.store.UpdateChoice(ctx, c); err != nil {
		return nil, choiceWriteError(err, c.Order)
	}

	s.invalidateChoices(ctx, q.ContestID, c.QuestionID)
	if old.QuestionID != c.QuestionID {
		if oq, err := s.store.QuestionByID(ctx, old.QuestionID); err == nil {
			s.invalidateChoices(ctx, oq.ContestID, old.QuestionID)
		} else {
			s.invalidateChoices(ctx, q.ContestID, old.QuestionID)
		}
	}

	return &c, nil
}

func (s *Service) DeleteChoice(ctx context.Context, id int64) error {
	c, err := s.store.ChoiceByID(ctx, id)
	if err != nil {
		return notFound(err, "choice not found: id=%d", id)
	}

	q, err := s.store.QuestionByID(ctx, c.QuestionID)
	if err != nil {
		return notFound(err, "question not found: id=%d", c.QuestionID)
	}

	if err := s.store.DeleteChoice(ctx, id); err != nil {
		return fmt.Errorf("catalog: delete choice: %w", err)
	}

	s.invalidateChoices(ctx, q.ContestID, c.QuestionID)
	return nil
}

// SetWinner flags a contestant of the contest as a winner. It is the only change allowed after finalize.
func (s *Service) SetWinner(ctx context.Context, contestID, contestantID int64, winner bool) error {
	if err := s.store.SetWinner(ctx, contestID, contestantID, winner); err != nil {
		return notFound(err, "contestant not found: contest=%d id=%d", contestID, contestantID)
	}

	return nil
}

// checkSingleCorrect rejects a correct choice when the question already has another one.
func (s *Service) checkSingleCorrect(ctx context.Context, c domain.Choice) error {
	if !c.IsCorrect {
		return nil
	}

	cs, err := s.store.ListChoices(ctx, c.QuestionID)
	if err != nil {
		return fmt.Errorf("catalog: list choices: %w", err)
	}

	for _, o := range cs {
		if o.IsCorrect && o.ID != c.ID {
			return errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("%s", domain.ErrMultipleCorrectChoices),
				errors.WithField("is_correct", "Only one correct choice is allowed per question"),
				errors.WithCause(domain.ErrMultipleCorrectChoices))
		}
	}

	return nil
}

func (s *Service) invalidateQuestions(ctx context.Context, contestIDs ...int64) {
	keys := make([]string, 0, len(contestIDs))
	for _, id := range contestIDs {
		keys = append(keys, fmt.Sprintf(questionsKeyPattern, id))
	}

	if err := s.evict(ctx, keys...); err != nil {
		slog.ErrorContext(ctx, "catalog: invalidate questions failed", "keys", keys, "error", err)
	}

	for _, id := range contestIDs {
		s.publishChanged(ctx, id)
	}
}

func (s *Service) invalidateChoices(ctx context.Context, contestID, questionID int64) {
	key := fmt.Sprintf(choicesKeyPattern, questionID)
	if err := s.evict(ctx, key); err != nil {
		slog.ErrorContext(ctx, "catalog: invalidate choices failed", "key", key, "error", err)
	}

	s.publishChanged(ctx, contestID)
}

func (s *Service) publishChanged(ctx context.Context, contestID int64) {
	if s.eb == nil {
		return
	}

	s.eb.Publish(ctx, domain.EventCatalogChanged{ContestID: contestID})
}

func (s *Service) validateRequest(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return errors.New(errors.CodeInvalidArgument, errors.WithCause(err))
	}

	opts := []errors.Option{errors.WithCause(err), errors.WithMessagef("invalid request")}
	for _, fe := range verrs {
		opts = append(opts, errors.WithField(strings.ToLower(fe.Field()), fmt.Sprintf("failed on %s", fe.Tag())))
	}

	return errors.New(errors.CodeInvalidArgument, opts...)
}

func notFound(err error, format string, args ...any) error {
	if stderrors.Is(err, domain.ErrNotFound) {
		return errors.New(errors.CodeNotFound, errors.WithMessagef(format, args...), errors.WithCause(err))
	}

	return err
}

func questionWriteError(err error, order int) error {
	if stderrors.Is(err, domain.ErrDuplicateOrder) {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("question order is already taken: order=%d", order),
			errors.WithField("order", "must be unique within the contest"),
			errors.WithCause(err))
	}

	return notFound(err, "question not found")
}

func choiceWriteError(err error, order int) error {
	switch {
	case stderrors.Is(err, domain.ErrDuplicateOrder):
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("choice order is already taken: order=%d", order),
			errors.WithField("order", "must be unique within the question"),
			errors.WithCause(err))
	case stderrors.Is(err, domain.ErrMultipleCorrectChoices):
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("%s", domain.ErrMultipleCorrectChoices),
			errors.WithField("is_correct", "Only one correct choice is allowed per question"),
			errors.WithCause(err))
	}

	return notFound(err, "choice not found")
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify turns a title into a URL safe slug.
func Slugify(title string) string {
	s := nonSlug.ReplaceAllString(strings.ToLower(strings.TrimSpace(title)), "-")
	return strings.Trim(s, "-")
}
