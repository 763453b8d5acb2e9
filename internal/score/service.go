// Package score counts correct answers of finalized contestants, ranks them and
// builds the staff export.
package score

import (
	"cmp"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/victornm/econtest/internal/cache"
	"github.com/victornm/econtest/internal/catalog"
	"github.com/victornm/econtest/internal/domain"
	"github.com/victornm/econtest/internal/errors"
	"github.com/victornm/econtest/internal/event"
	"github.com/victornm/econtest/internal/export"
)

const (
	defaultSummaryTTL = time.Hour

	summaryKeyPattern = "contests:summary:%d"
	createdLayout     = "02.01.2006 15:04:05"
)

// Store reads finalized submissions.
type Store interface {
	// ListContestants orders by created descending.
	ListContestants(ctx context.Context, contestID int64) ([]domain.Contestant, error)
	ListAnswers(ctx context.Context, contestID int64) ([]domain.Answer, error)
}

type Config struct {
	Catalog  *catalog.Service
	Store    Store
	Cache    cache.Cache
	EventBus *event.Bus
	// SummaryTTL bounds how long staff counts stay cached. New contestants invalidate them.
	SummaryTTL time.Duration
}

type Service struct {
	catalog *catalog.Service
	store   Store
	cache   cache.Cache
	ttl     time.Duration
}

func NewService(c Config) *Service {
	s := &Service{
		catalog: c.Catalog,
		store:   c.Store,
		cache:   c.Cache,
		ttl:     c.SummaryTTL,
	}

	if s.cache == nil {
		s.cache = cache.NewMemory()
	}
	if s.ttl == 0 {
		s.ttl = defaultSummaryTTL
	}

	if c.EventBus != nil {
		event.On(c.EventBus, domain.EventNameContestantFinalized, func(ctx context.Context, e domain.EventContestantFinalized) error {
			return s.invalidate(ctx, e.Contestant.ContestID)
		})
		event.On(c.EventBus, domain.EventNameCatalogChanged, func(ctx context.Context, e domain.EventCatalogChanged) error {
			return s.invalidate(ctx, e.ContestID)
		})
	}

	return s
}

// Score is the number of answers that hit a correct choice of a required question.
func Score(k domain.AnswerKey, answers []domain.Answer) int {
	correct := k.CorrectChoiceIDs()

	n := 0
	for _, a := range answers {
		if k.IsCorrect(a, correct) {
			n++
		}
	}

	return n
}

// HasAllCorrect reports whether every required question was answered correctly.
func HasAllCorrect(k domain.AnswerKey, answers []domain.Answer) bool {
	return Score(k, answers) == k.RequiredQuestionCount()
}

// Result is a contestant with its count of correct answers.
type Result struct {
	Contestant domain.Contestant
	Answers    []domain.Answer
	Correct    int
}

// results scores every contestant, keeping the store order.
func (s *Service) results(ctx context.Context, contestID int64) (domain.AnswerKey, []Result, error) {
	if _, err := s.catalog.Contest(ctx, contestID); err != nil {
		return domain.AnswerKey{}, nil, err
	}

	k, err := s.catalog.AnswerKey(ctx, contestID)
	if err != nil {
		return domain.AnswerKey{}, nil, err
	}

	contestants, err := s.store.ListContestants(ctx, contestID)
	if err != nil {
		return domain.AnswerKey{}, nil, fmt.Errorf("score: list contestants: %w", err)
	}

	answers, err := s.store.ListAnswers(ctx, contestID)
	if err != nil {
		return domain.AnswerKey{}, nil, fmt.Errorf("score: list answers: %w", err)
	}

	byContestant := make(map[int64][]domain.Answer, len(contestants))
	for _, a := range answers {
		byContestant[a.ContestantID] = append(byContestant[a.ContestantID], a)
	}

	out := make([]Result, 0, len(contestants))
	for _, c := range contestants {
		as := byContestant[c.ID]
		out = append(out, Result{Contestant: c, Answers: as, Correct: Score(k, as)})
	}

	return k, out, nil
}

// Rank lists contestants with at least one correct answer, most correct first.
// Ties go to the earlier submission.
func (s *Service) Rank(ctx context.Context, contestID int64) ([]Result, error) {
	_, all, err := s.results(ctx, contestID)
	if err != nil {
		return nil, err
	}

	ranked := make([]Result, 0, len(all))
	for _, r := range all {
		if r.Correct > 0 {
			ranked = append(ranked, r)
		}
	}

	slices.SortStableFunc(ranked, func(a, b Result) int {
		if c := cmp.Compare(b.Correct, a.Correct); c != 0 {
			return c
		}
		if c := a.Contestant.Created.Compare(b.Contestant.Created); c != 0 {
			return c
		}
		return cmp.Compare(a.Contestant.ID, b.Contestant.ID)
	})

	return ranked, nil
}

// Summary holds the staff counts of a contest.
type Summary struct {
	ContestID   int64           `json:"contest_id"`
	Contestants int             `json:"contestants"`
	WithCorrect int             `json:"with_correct"`
	AllCorrect  int             `json:"all_correct"`
	Required    int             `json:"required"`
	Ratio       decimal.Decimal `json:"all_correct_ratio"`
}

func (s *Service) Summary(ctx context.Context, contestID int64) (*Summary, error) {
	key := fmt.Sprintf(summaryKeyPattern, contestID)

	var sum Summary
	ok, err := s.cache.Get(ctx, key, &sum)
	if err != nil {
		slog.WarnContext(ctx, "score: read summary cache failed", "key", key, "error", err)
	}
	if ok {
		return &sum, nil
	}

	k, all, err := s.results(ctx, contestID)
	if err != nil {
		return nil, err
	}

	sum = Summary{
		ContestID:   contestID,
		Contestants: len(all),
		Required:    k.RequiredQuestionCount(),
		Ratio:       decimal.Zero,
	}
	for _, r := range all {
		if r.Correct > 0 {
			sum.WithCorrect++
		}
		if r.Correct == sum.Required {
			sum.AllCorrect++
		}
	}
	if sum.Contestants > 0 {
		sum.Ratio = decimal.NewFromInt(int64(sum.AllCorrect)).DivRound(decimal.NewFromInt(int64(sum.Contestants)), 4)
	}

	if err := s.cache.Set(ctx, key, sum, s.ttl); err != nil {
		slog.WarnContext(ctx, "score: write summary cache failed", "key", key, "error", err)
	}

	return &sum, nil
}

func (s *Service) invalidate(ctx context.Context, contestID int64) error {
	return s.cache.Delete(ctx, fmt.Sprintf(summaryKeyPattern, contestID))
}

type ExportRequest struct {
	ContestID int64
	// AllCorrect keeps only contestants who answered every required question correctly.
	AllCorrect bool
}

// Export builds one row per contestant, newest first, with the selected choice order
// or the written text for every question. It fails with a failed precondition error
// when a required question does not have exactly one correct choice.
func (s *Service) Export(ctx context.Context, req ExportRequest) (*export.Table, error) {
	c, err := s.catalog.Contest(ctx, req.ContestID)
	if err != nil {
		return nil, err
	}

	k, all, err := s.results(ctx, req.ContestID)
	if err != nil {
		return nil, err
	}

	header := []string{
		"First name", "Last name", "email", "Phone number", "Address", "Created",
		"Count of right answers", "Count of all possible right answers",
	}
	for _, q := range k.Questions {
		label, err := questionLabel(k, q)
		if err != nil {
			return nil, errors.New(errors.CodeFailedPrecondition,
				errors.WithMessagef("cannot export contest %d: %s", req.ContestID, err),
				errors.WithCause(err))
		}
		header = append(header, label)
	}

	required := k.RequiredQuestionCount()
	t := &export.Table{Name: c.Slug, Header: header}

	for _, r := range all {
		if req.AllCorrect && r.Correct != required {
			continue
		}

		row := []string{
			r.Contestant.Name,
			r.Contestant.Surname,
			r.Contestant.Email,
			r.Contestant.Phone,
			r.Contestant.Address,
			r.Contestant.Created.Format(createdLayout),
			strconv.Itoa(r.Correct),
			strconv.Itoa(required),
		}
		for _, q := range k.Questions {
			row = append(row, answerCell(k, q, r.Answers))
		}

		t.Rows = append(t.Rows, row)
	}

	return t, nil
}

// questionLabel is "q <order> (<correct choice order>)". An optional question without
// a single correct choice is labeled with "-" since it never scores.
func questionLabel(k domain.AnswerKey, q domain.Question) (string, error) {
	cc, err := k.CorrectChoice(q.ID)
	switch {
	case err == nil:
		return fmt.Sprintf("q %d (%d)", q.Order, cc.Order), nil
	case !q.IsRequired && stderrors.Is(err, domain.ErrIncorrectAnswerKey):
		return fmt.Sprintf("q %d (-)", q.Order), nil
	default:
		return "", err
	}
}

func answerCell(k domain.AnswerKey, q domain.Question, answers []domain.Answer) string {
	for _, a := range answers {
		c, ok := k.Choice(a.ChoiceID)
		if !ok || c.QuestionID != q.ID {
			continue
		}

		if c.InsertedByUser {
			return a.Text
		}
		return strconv.Itoa(c.Order)
	}

	return ""
}
