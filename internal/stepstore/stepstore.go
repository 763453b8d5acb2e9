// Package stepstore keeps a visitor's wizard progress between requests: the
// answer submitted for each question and the last completed step, per contest.
package stepstore

import (
	"context"
	"net/http"
	"time"

	"github.com/victornm/econtest/internal/domain"
)

// DefaultMaxAge is how long abandoned progress survives.
const DefaultMaxAge = 31 * 24 * time.Hour

// Backend opens the storage of the visitor behind a request.
type Backend interface {
	Open(w http.ResponseWriter, r *http.Request) Session
}

// Session is the progress storage of one visitor. Step data is keyed by question id,
// so it survives reordering of questions. Values that cannot be decoded read as absent.
type Session interface {
	StepData(ctx context.Context, contestID, questionID int64) (domain.Selection, bool, error)
	SetStepData(ctx context.Context, contestID, questionID int64, v domain.Selection) error
	// LastCompletedStep returns false when the wizard has not been started.
	LastCompletedStep(ctx context.Context, contestID int64) (int, bool, error)
	SetLastCompletedStep(ctx context.Context, contestID int64, step int) error
	// AnswersInvalid reports whether a finalize attempt found tampered or expired answers.
	AnswersInvalid(ctx context.Context, contestID int64) (bool, error)
	SetAnswersInvalid(ctx context.Context, contestID int64, invalid bool) error
	// ClearAll drops every value stored for the contest.
	ClearAll(ctx context.Context, contestID int64) error
}

type CookieConfig struct {
	Domain string
	Path   string
	MaxAge time.Duration
	Secure bool
}

func (c CookieConfig) withDefaults() CookieConfig {
	if c.Path == "" {
		c.Path = "/"
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}

	return c
}

func (c CookieConfig) cookie(name, value string, maxAge time.Duration) *http.Cookie {
	ck := &http.Cookie{
		Name:     name,
		Value:    value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	if maxAge < 0 {
		ck.MaxAge = -1
		ck.Expires = time.Unix(0, 0)
	} else {
		ck.MaxAge = int(maxAge.Seconds())
		ck.Expires = time.Now().Add(maxAge)
	}

	return ck
}
