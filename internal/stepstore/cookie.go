package stepstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/victornm/econtest/internal/domain"
)

// Cookies stores progress in the visitor's browser, one cookie per value.
type Cookies struct {
	c CookieConfig
}

func NewCookies(c CookieConfig) *Cookies {
	return &Cookies{c: c.withDefaults()}
}

func (b *Cookies) Open(w http.ResponseWriter, r *http.Request) Session {
	return &cookieSession{
		c:       b.c,
		w:       w,
		r:       r,
		written: make(map[string]*string),
	}
}

type cookieSession struct {
	c CookieConfig
	w http.ResponseWriter
	r *http.Request

	// written holds values set during this request so later reads see them; nil marks a deletion.
	written map[string]*string
}

func contestPrefix(contestID int64) string {
	return fmt.Sprintf("contest_%d_", contestID)
}

func stepCookie(contestID, questionID int64) string {
	return fmt.Sprintf("contest_%d_step_%d", contestID, questionID)
}

func lastStepCookie(contestID int64) string {
	return fmt.Sprintf("contest_%d_last_step", contestID)
}

func invalidCookie(contestID int64) string {
	return fmt.Sprintf("contest_%d_invalid", contestID)
}

func (s *cookieSession) get(name string) (string, bool) {
	if v, ok := s.written[name]; ok {
		if v == nil {
			return "", false
		}
		return *v, true
	}

	ck, err := s.r.Cookie(name)
	if err != nil {
		return "", false
	}

	v, err := url.QueryUnescape(ck.Value)
	if err != nil {
		return "", false
	}

	return v, true
}

func (s *cookieSession) set(name, value string) {
	s.written[name] = &value
	http.SetCookie(s.w, s.c.cookie(name, url.QueryEscape(value), s.c.MaxAge))
}

func (s *cookieSession) delete(name string) {
	s.written[name] = nil
	http.SetCookie(s.w, s.c.cookie(name, "", -1))
}

func (s *cookieSession) StepData(_ context.Context, contestID, questionID int64) (domain.Selection, bool, error) {
	raw, ok := s.get(stepCookie(contestID, questionID))
	if !ok {
		return domain.Selection{}, false, nil
	}

	var v domain.Selection
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return domain.Selection{}, false, nil
	}

	return v, true, nil
}

func (s *cookieSession) SetStepData(_ context.Context, contestID, questionID int64, v domain.Selection) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("stepstore: encode step data: %w", err)
	}

	s.set(stepCookie(contestID, questionID), string(b))
	return nil
}

func (s *cookieSession) LastCompletedStep(_ context.Context, contestID int64) (int, bool, error) {
	raw, ok := s.get(lastStepCookie(contestID))
	if !ok {
		return 0, false, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false, nil
	}

	return n, true, nil
}

func (s *cookieSession) SetLastCompletedStep(_ context.Context, contestID int64, step int) error {
	s.set(lastStepCookie(contestID), strconv.Itoa(step))
	return nil
}

func (s *cookieSession) AnswersInvalid(_ context.Context, contestID int64) (bool, error) {
	raw, ok := s.get(invalidCookie(contestID))
	return ok && raw == "1", nil
}

func (s *cookieSession) SetAnswersInvalid(_ context.Context, contestID int64, invalid bool) error {
	if invalid {
		s.set(invalidCookie(contestID), "1")
	} else {
		s.delete(invalidCookie(contestID))
	}

	return nil
}

func (s *cookieSession) ClearAll(_ context.Context, contestID int64) error {
	prefix := contestPrefix(contestID)

	names := make(map[string]bool)
	for _, ck := range s.r.Cookies() {
		if strings.HasPrefix(ck.Name, prefix) {
			names[ck.Name] = true
		}
	}
	for name, v := range s.written {
		if v != nil && strings.HasPrefix(name, prefix) {
			names[name] = true
		}
	}

	for name := range names {
		s.delete(name)
	}

	return nil
}
