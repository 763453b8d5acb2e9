package domain

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrDuplicateOrder         = errors.New("order is already taken")
	ErrDuplicateSlug          = errors.New("slug is already taken")
	ErrMultipleCorrectChoices = errors.New("only one correct choice is allowed per question")
	ErrDuplicateEmail         = errors.New("email is not unique, you probably already competed")
	ErrDuplicateAnswer        = errors.New("choice is already answered")
	ErrIncorrectAnswerKey     = errors.New("contest answer key is incorrect")
)
