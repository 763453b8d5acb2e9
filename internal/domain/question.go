package domain

import (
	"cmp"
	"fmt"
	"slices"
)

// Questions is a contest's question list sorted by Order.
type Questions []Question

// SortQuestions sorts in place by Order.
func SortQuestions(qs []Question) {
	slices.SortStableFunc(qs, func(a, b Question) int { return cmp.Compare(a.Order, b.Order) })
}

// SortChoices sorts in place by Order.
func SortChoices(cs []Choice) {
	slices.SortStableFunc(cs, func(a, b Choice) int { return cmp.Compare(a.Order, b.Order) })
}

func (qs Questions) Len() int { return len(qs) }

// Position returns the 1-based rank of the question, or 0 when it is not in the list.
func (qs Questions) Position(id int64) int {
	for i, q := range qs {
		if q.ID == id {
			return i + 1
		}
	}

	return 0
}

// At returns the question at the 1-based position pos.
func (qs Questions) At(pos int) (Question, bool) {
	if pos < 1 || pos > len(qs) {
		return Question{}, false
	}

	return qs[pos-1], true
}

func (qs Questions) Prev(id int64) (Question, bool) {
	p := qs.Position(id)
	if p == 0 {
		return Question{}, false
	}

	return qs.At(p - 1)
}

func (qs Questions) Next(id int64) (Question, bool) {
	p := qs.Position(id)
	if p == 0 {
		return Question{}, false
	}

	return qs.At(p + 1)
}

// AnswerKey is a contest's questions together with their ordered choices.
type AnswerKey struct {
	Questions Questions
	Choices   map[int64][]Choice
}

// RequiredQuestionCount is the number of required questions, i.e. the best achievable score.
func (k AnswerKey) RequiredQuestionCount() int {
	n := 0
	for _, q := range k.Questions {
		if q.IsRequired {
			n++
		}
	}

	return n
}

// CorrectChoiceIDs returns the correct choices of required questions.
func (k AnswerKey) CorrectChoiceIDs() map[int64]bool {
	ids := make(map[int64]bool)
	for _, q := range k.Questions {
		if !q.IsRequired {
			continue
		}

		for _, c := range k.Choices[q.ID] {
			if c.IsCorrect {
				ids[c.ID] = true
			}
		}
	}

	return ids
}

func (k AnswerKey) Choice(id int64) (Choice, bool) {
	for _, cs := range k.Choices {
		for _, c := range cs {
			if c.ID == id {
				return c, true
			}
		}
	}

	return Choice{}, false
}

func (k AnswerKey) Question(id int64) (Question, bool) {
	for _, q := range k.Questions {
		if q.ID == id {
			return q, true
		}
	}

	return Question{}, false
}

// CorrectChoice returns the single correct choice of a question.
// It fails with ErrIncorrectAnswerKey unless exactly one choice is marked correct.
func (k AnswerKey) CorrectChoice(questionID int64) (Choice, error) {
	var (
		found Choice
		n     int
	)

	for _, c := range k.Choices[questionID] {
		if c.IsCorrect {
			found = c
			n++
		}
	}

	if n != 1 {
		return Choice{}, fmt.Errorf("%w: question %d has %d correct choices", ErrIncorrectAnswerKey, questionID, n)
	}

	return found, nil
}

// IsCorrect reports whether an answer scores: its choice is a correct choice of a
// required question and, for a free-text slot, the visitor wrote something.
func (k AnswerKey) IsCorrect(a Answer, correct map[int64]bool) bool {
	if !correct[a.ChoiceID] {
		return false
	}

	c, ok := k.Choice(a.ChoiceID)
	if !ok {
		return false
	}

	return !c.InsertedByUser || !a.IsBlank()
}
