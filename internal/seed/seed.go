// Package seed loads contest fixtures from YAML and authors them through the catalog.
package seed

import (
	"context"
	"embed"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/victornm/econtest/internal/catalog"
	"github.com/victornm/econtest/internal/domain"
)

//go:embed fixtures/contest.yaml
var fixtures embed.FS

type Fixture struct {
	Title            string          `yaml:"title"`
	Slug             string          `yaml:"slug"`
	Description      string          `yaml:"description"`
	Category         string          `yaml:"category"`
	Text             string          `yaml:"text"`
	TextResults      string          `yaml:"text_results"`
	TextAnnouncement string          `yaml:"text_announcement"`
	Published        bool            `yaml:"published"`
	ActiveFrom       *time.Time      `yaml:"active_from"`
	ActiveTill       *time.Time      `yaml:"active_till"`
	Questions        []QuestionEntry `yaml:"questions"`
}

type QuestionEntry struct {
	Order    int           `yaml:"order"`
	Text     string        `yaml:"text"`
	Photo    string        `yaml:"photo"`
	Required bool          `yaml:"required"`
	Choices  []ChoiceEntry `yaml:"choices"`
}

type ChoiceEntry struct {
	Order          int    `yaml:"order"`
	Text           string `yaml:"text"`
	Correct        bool   `yaml:"correct"`
	InsertedByUser bool   `yaml:"inserted_by_user"`
}

// Decode reads a fixture document.
func Decode(r io.Reader) (Fixture, error) {
	var f Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return Fixture{}, fmt.Errorf("seed: decode: %w", err)
	}

	return f, nil
}

// ReadFile decodes the fixture stored at path.
func ReadFile(path string) (Fixture, error) {
	fh, err := os.Open(path)
	if err != nil {
		return Fixture{}, fmt.Errorf("seed: %w", err)
	}
	defer fh.Close()

	return Decode(fh)
}

// Default returns the bundled three question contest.
func Default() Fixture {
	fh, err := fixtures.Open("fixtures/contest.yaml")
	if err != nil {
		panic(err)
	}
	defer fh.Close()

	f, err := Decode(fh)
	if err != nil {
		panic(err)
	}

	return f
}

// Result is what Apply created.
type Result struct {
	Contest   domain.Contest
	Questions []domain.Question
	// Choices are keyed by question order.
	Choices map[int][]domain.Choice
}

// Question returns the created question with the given order.
func (r Result) Question(order int) domain.Question {
	for _, q := range r.Questions {
		if q.Order == order {
			return q
		}
	}

	panic(fmt.Sprintf("seed: no question with order %d", order))
}

// Choice returns the created choice by question and choice order.
func (r Result) Choice(questionOrder, choiceOrder int) domain.Choice {
	for _, c := range r.Choices[questionOrder] {
		if c.Order == choiceOrder {
			return c
		}
	}

	panic(fmt.Sprintf("seed: no choice %d on question %d", choiceOrder, questionOrder))
}

// Apply creates the contest with its questions and choices.
func Apply(ctx context.Context, cs *catalog.Service, f Fixture) (*Result, error) {
	c, err := cs.CreateContest(ctx, catalog.CreateContestRequest{
		Title:            f.Title,
		Slug:             f.Slug,
		Description:      f.Description,
		Category:         f.Category,
		Text:             f.Text,
		TextResults:      f.TextResults,
		TextAnnouncement: f.TextAnnouncement,
		ActiveFrom:       f.ActiveFrom,
		ActiveTill:       f.ActiveTill,
		Published:        f.Published,
	})
	if err != nil {
		return nil, fmt.Errorf("seed: contest %q: %w", f.Title, err)
	}

	res := &Result{
		Contest: *c,
		Choices: make(map[int][]domain.Choice, len(f.Questions)),
	}

	for _, qe := range f.Questions {
		q, err := cs.CreateQuestion(ctx, catalog.CreateQuestionRequest{
			ContestID:  c.ID,
			Order:      qe.Order,
			Text:       qe.Text,
			Photo:      qe.Photo,
			IsRequired: qe.Required,
		})
		if err != nil {
			return nil, fmt.Errorf("seed: question %d: %w", qe.Order, err)
		}
		res.Questions = append(res.Questions, *q)

		for _, ce := range qe.Choices {
			ch, err := cs.CreateChoice(ctx, catalog.CreateChoiceRequest{
				QuestionID:     q.ID,
				Order:          ce.Order,
				Text:           ce.Text,
				IsCorrect:      ce.Correct,
				InsertedByUser: ce.InsertedByUser,
			})
			if err != nil {
				return nil, fmt.Errorf("seed: question %d choice %d: %w", qe.Order, ce.Order, err)
			}
			res.Choices[qe.Order] = append(res.Choices[qe.Order], *ch)
		}
	}

	return res, nil
}
