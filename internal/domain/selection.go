package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Selection is a visitor's answer to one question, as kept between wizard steps.
// A zero ChoiceID means nothing was selected.
type Selection struct {
	ChoiceID int64
	Text     string
	// WithText marks a selection made on a question that offers a free-text slot.
	WithText bool
}

func (s Selection) IsEmpty() bool { return s.ChoiceID == 0 }

type selectionPair struct {
	Choice *int64 `json:"choice"`
	Text   string `json:"text"`
}

// MarshalJSON encodes a plain selection as the bare choice id and a free-text
// one as {"choice": <id>, "text": "<text>"}.
func (s Selection) MarshalJSON() ([]byte, error) {
	if !s.WithText {
		return json.Marshal(s.ChoiceID)
	}

	p := selectionPair{Text: s.Text}
	if s.ChoiceID != 0 {
		id := s.ChoiceID
		p.Choice = &id
	}

	return json.Marshal(p)
}

func (s *Selection) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*s = Selection{}

	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		return nil
	case b[0] == '{':
		var p selectionPair
		if err := json.Unmarshal(b, &p); err != nil {
			return fmt.Errorf("selection: %w", err)
		}

		s.WithText = true
		s.Text = p.Text
		if p.Choice != nil {
			s.ChoiceID = *p.Choice
		}
		return nil
	default:
		if err := json.Unmarshal(b, &s.ChoiceID); err != nil {
			return fmt.Errorf("selection: %w", err)
		}
		return nil
	}
}
