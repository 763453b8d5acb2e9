// Package memory keeps contests and submissions in process memory with the
// same constraint semantics as the Postgres store. It backs tests and demo mode.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/victornm/econtest/internal/domain"
)

type Store struct {
	mu sync.RWMutex

	seq         int64
	contests    map[int64]domain.Contest
	questions   map[int64]domain.Question
	choices     map[int64]domain.Choice
	contestants map[int64]domain.Contestant
	answers     map[int64]domain.Answer
}

func NewStore() *Store {
	return &Store{
		contests:    make(map[int64]domain.Contest),
		questions:   make(map[int64]domain.Question),
		choices:     make(map[int64]domain.Choice),
		contestants: make(map[int64]domain.Contestant),
		answers:     make(map[int64]domain.Answer),
	}
}

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

func (s *Store) ContestByID(_ context.Context, id int64) (domain.Contest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contests[id]
	if !ok {
		return domain.Contest{}, domain.ErrNotFound
	}

	return c, nil
}

func (s *Store) ContestBySlug(_ context.Context, slug string) (domain.Contest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.contests {
		if c.Slug == slug {
			return c, nil
		}
	}

	return domain.Contest{}, domain.ErrNotFound
}

// ListContests orders by active_from descending, contests without a start last.
func (s *Store) ListContests(_ context.Context) ([]domain.Contest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Contest, 0, len(s.contests))
	for _, c := range s.contests {
		out = append(out, c)
	}

	slices.SortFunc(out, func(a, b domain.Contest) int {
		switch {
		case a.ActiveFrom == nil && b.ActiveFrom == nil:
			return cmp.Compare(a.ID, b.ID)
		case a.ActiveFrom == nil:
			return 1
		case b.ActiveFrom == nil:
			return -1
		}
		if c := b.ActiveFrom.Compare(*a.ActiveFrom); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	return out, nil
}

func (s *Store) InsertContest(_ context.Context, c *domain.Contest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.contests {
		if o.Slug == c.Slug {
			return domain.ErrDuplicateSlug
		}
	}

	c.ID = s.nextID()
	s.contests[c.ID] = *c
	return nil
}

func (s *Store) QuestionByID(_ context.Context, id int64) (domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.questions[id]
	if !ok {
		return domain.Question{}, domain.ErrNotFound
	}

	return q, nil
}

func (s *Store) ListQuestions(_ context.Context, contestID int64) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Question, 0)
	for _, q := range s.questions {
		if q.ContestID == contestID {
			out = append(out, q)
		}
	}

	slices.SortFunc(out, func(a, b domain.Question) int { return cmp.Compare(a.Order, b.Order) })
	return out, nil
}

func (s *Store) InsertQuestion(_ context.Context, q *domain.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.contests[q.ContestID]; !ok {
		return domain.ErrNotFound
	}
	if err := s.checkQuestionOrder(*q); err != nil {
		return err
	}

	q.ID = s.nextID()
	s.questions[q.ID] = *q
	return nil
}

func (s *Store) UpdateQuestion(_ context.Context, q domain.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.questions[q.ID]; !ok {
		return domain.ErrNotFound
	}
	if _, ok := s.contests[q.ContestID]; !ok {
		return domain.ErrNotFound
	}
	if err := s.checkQuestionOrder(q); err != nil {
		return err
	}

	s.questions[q.ID] = q
	return nil
}

func (s *Store) checkQuestionOrder(q domain.Question) error {
	for _, o := range s.questions {
		if o.ID != q.ID && o.ContestID == q.ContestID && o.Order == q.Order {
			return domain.ErrDuplicateOrder
		}
	}

	return nil
}

func (s *Store) DeleteQuestion(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.questions[id]; !ok {
		return domain.ErrNotFound
	}

	for cid, c := range s.choices {
		if c.QuestionID == id {
			s.deleteChoice(cid)
		}
	}
	delete(s.questions, id)
	return nil
}

func (s *Store) ChoiceByID(_ context.Context, id int64) (domain.Choice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.choices[id]
	if !ok {
		return domain.Choice{}, domain.ErrNotFound
	}

	return c, nil
}

func (s *Store) ListChoices(_ context.Context, questionID int64) ([]domain.Choice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Choice, 0)
	for _, c := range s.choices {
		if c.QuestionID == questionID {
			out = append(out, c)
		}
	}

	slices.SortFunc(out, func(a, b domain.Choice) int { return cmp.Compare(a.Order, b.Order) })
	return out, nil
}

func (s *Store) InsertChoice(_ context.Context, c *domain.Choice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.questions[c.QuestionID]; !ok {
		return domain.ErrNotFound
	}
	if err := s.checkChoice(*c); err != nil {
		return err
	}

	c.ID = s.nextID()
	s.choices[c.ID] = *c
	return nil
}

func (s *Store) UpdateChoice(_ context.Context, c domain.Choice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.choices[c.ID]; !ok {
		return domain.ErrNotFound
	}
	if _, ok := s.questions[c.QuestionID]; !ok {
		return domain.ErrNotFound
	}
	if err := s.checkChoice(c); err != nil {
		return err
	}

	s.choices[c.ID] = c
	return nil
}

// checkChoice emulates the (question, order) unique key and the partial unique index on correct choices.
func (s *Store) checkChoice(c domain.Choice) error {
	for _, o := range s.choices {
		if o.ID == c.ID || o.QuestionID != c.QuestionID {
			continue
		}
		if o.Order == c.Order {
			return domain.ErrDuplicateOrder
		}
		if c.IsCorrect && o.IsCorrect {
			return domain.ErrMultipleCorrectChoices
		}
	}

	return nil
}

func (s *Store) DeleteChoice(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.choices[id]; !ok {
		return domain.ErrNotFound
	}

	s.deleteChoice(id)
	return nil
}

func (s *Store) deleteChoice(id int64) {
	for aid, a := range s.answers {
		if a.ChoiceID == id {
			delete(s.answers, aid)
		}
	}
	delete(s.choices, id)
}

func (s *Store) ContestantExists(_ context.Context, contestID int64, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.hasEmail(contestID, email), nil
}

func (s *Store) hasEmail(contestID int64, email string) bool {
	for _, c := range s.contestants {
		if c.ContestID == contestID && c.Email == email {
			return true
		}
	}

	return false
}

func (s *Store) ContestantByUser(_ context.Context, contestID int64, userID string) (domain.Contestant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.contestants {
		if c.ContestID == contestID && userID != "" && c.UserID == userID {
			return c, nil
		}
	}

	return domain.Contestant{}, domain.ErrNotFound
}

// CreateContestant stores the contestant and its answers all or nothing.
func (s *Store) CreateContestant(_ context.Context, c *domain.Contestant, answers []domain.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.contests[c.ContestID]; !ok {
		return domain.ErrNotFound
	}
	if s.hasEmail(c.ContestID, c.Email) {
		return domain.ErrDuplicateEmail
	}

	seen := make(map[int64]bool, len(answers))
	for _, a := range answers {
		if _, ok := s.choices[a.ChoiceID]; !ok {
			return domain.ErrNotFound
		}
		if seen[a.ChoiceID] {
			return domain.ErrDuplicateAnswer
		}
		seen[a.ChoiceID] = true
	}

	c.ID = s.nextID()
	s.contestants[c.ID] = *c

	for i := range answers {
		answers[i].ID = s.nextID()
		answers[i].ContestantID = c.ID
		s.answers[answers[i].ID] = answers[i]
	}

	return nil
}

// ListContestants orders by created descending.
func (s *Store) ListContestants(_ context.Context, contestID int64) ([]domain.Contestant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Contestant, 0)
	for _, c := range s.contestants {
		if c.ContestID == contestID {
			out = append(out, c)
		}
	}

	slices.SortFunc(out, func(a, b domain.Contestant) int {
		if c := b.Created.Compare(a.Created); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	return out, nil
}

func (s *Store) ListAnswers(_ context.Context, contestID int64) ([]domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Answer, 0)
	for _, a := range s.answers {
		if c, ok := s.contestants[a.ContestantID]; ok && c.ContestID == contestID {
			out = append(out, a)
		}
	}

	slices.SortFunc(out, func(a, b domain.Answer) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) SetWinner(_ context.Context, contestID, contestantID int64, winner bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contestants[contestantID]
	if !ok || c.ContestID != contestID {
		return domain.ErrNotFound
	}

	c.Winner = winner
	s.contestants[contestantID] = c
	return nil
}
