// Package form builds and validates the visitor facing forms of the contest wizard.
package form

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/victornm/econtest/internal/domain"
	"github.com/victornm/econtest/internal/errors"
)

const (
	FieldChoice = "choice"

	msgRequired      = "This field is required."
	msgInvalidChoice = "Select a valid choice."
	msgTextRequired  = "Write your answer next to the selected choice."
)

// TextField is the name of the free-text input that belongs to a choice.
func TextField(choiceID int64) string {
	return fmt.Sprintf("%s_text_%d", FieldChoice, choiceID)
}

// QuestionForm is a single question with its choices. A question with a free-text
// choice yields a (choice, text) pair, any other question a plain choice.
type QuestionForm struct {
	Question domain.Question
	Choices  []domain.Choice
	WithText bool
	Value    domain.Selection
	Error    string
}

// BuildQuestion prepares the form for a question, pre-filled with prior when present.
func BuildQuestion(q domain.Question, choices []domain.Choice, prior *domain.Selection) *QuestionForm {
	f := &QuestionForm{
		Question: q,
		Choices:  choices,
	}

	for _, c := range choices {
		if c.InsertedByUser {
			f.WithText = true
			break
		}
	}

	if prior != nil {
		f.Value = *prior
	}
	f.Value.WithText = f.WithText

	return f
}

func (f *QuestionForm) Required() bool { return f.Question.IsRequired }

// Parse reads the submitted selection. Only the text input of the selected choice is read.
func (f *QuestionForm) Parse(values url.Values) (domain.Selection, error) {
	sel := domain.Selection{WithText: f.WithText}

	raw := strings.TrimSpace(values.Get(FieldChoice))
	if raw == "" {
		return sel, nil
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return sel, fieldError(msgInvalidChoice)
	}

	sel.ChoiceID = id
	if f.WithText {
		sel.Text = values.Get(TextField(id))
	}

	return sel, nil
}

// Submit parses and validates a POSTed step. The form keeps the submitted value and error for re-rendering.
func (f *QuestionForm) Submit(values url.Values) (domain.Selection, error) {
	sel, err := f.Parse(values)
	if err == nil {
		sel, err = f.Validate(sel)
	}

	f.Value = sel
	if err != nil {
		f.Error = errors.Convert(err).Fields[FieldChoice]
	}

	return sel, err
}

// Validate checks a selection against the question and returns it cleaned.
// An empty selection on a non-required question is valid.
func (f *QuestionForm) Validate(sel domain.Selection) (domain.Selection, error) {
	sel.WithText = f.WithText

	if sel.IsEmpty() {
		if f.Required() {
			return sel, fieldError(msgRequired)
		}
		sel.Text = strings.TrimSpace(sel.Text)
		return sel, nil
	}

	c, ok := f.choice(sel.ChoiceID)
	if !ok {
		return sel, fieldError(msgInvalidChoice)
	}

	if !c.InsertedByUser {
		sel.Text = ""
		return sel, nil
	}

	sel.Text = strings.TrimSpace(sel.Text)
	if sel.Text == "" && f.Required() {
		return sel, fieldError(msgTextRequired)
	}

	return sel, nil
}

// Answer converts a validated selection into the answer to store.
// It reports false when nothing should be stored.
func (f *QuestionForm) Answer(sel domain.Selection) (domain.Answer, bool) {
	if sel.IsEmpty() {
		return domain.Answer{}, false
	}

	c, ok := f.choice(sel.ChoiceID)
	if !ok {
		return domain.Answer{}, false
	}

	if !c.InsertedByUser {
		return domain.Answer{ChoiceID: c.ID}, true
	}

	text := strings.TrimSpace(sel.Text)
	if text == "" && !f.Required() {
		return domain.Answer{}, false
	}

	return domain.Answer{ChoiceID: c.ID, Text: text}, true
}

// Option is a choice as rendered.
type Option struct {
	ID        int64
	Text      string
	Checked   bool
	WithText  bool
	TextName  string
	TextValue string
}

func (f *QuestionForm) Options() []Option {
	opts := make([]Option, 0, len(f.Choices))
	for _, c := range f.Choices {
		o := Option{
			ID:       c.ID,
			Text:     c.Text,
			Checked:  c.ID == f.Value.ChoiceID,
			WithText: c.InsertedByUser,
		}
		if c.InsertedByUser {
			o.TextName = TextField(c.ID)
			if o.Checked {
				o.TextValue = f.Value.Text
			}
		}
		opts = append(opts, o)
	}

	return opts
}

func (f *QuestionForm) choice(id int64) (domain.Choice, bool) {
	for _, c := range f.Choices {
		if c.ID == id {
			return c, true
		}
	}

	return domain.Choice{}, false
}

func fieldError(msg string) error {
	return errors.New(errors.CodeInvalidArgument,
		errors.WithMessagef("invalid answer"),
		errors.WithField(FieldChoice, msg))
}
