package form

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/victornm/econtest/internal/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return v
}

// ContestantInput is the personal data collected on the finalize step.
type ContestantInput struct {
	Name    string `form:"name" validate:"required,max=50"`
	Surname string `form:"surname" validate:"required,max=50"`
	Email   string `form:"email" validate:"required,email,max=254"`
	Address string `form:"address" validate:"required,max=200"`
	Phone   string `form:"phone_number" validate:"omitempty,max=20"`
}

// Normalize trims every field and lower-cases the email so it compares as the unique key.
func (in ContestantInput) Normalize() ContestantInput {
	return ContestantInput{
		Name:    strings.TrimSpace(in.Name),
		Surname: strings.TrimSpace(in.Surname),
		Email:   strings.ToLower(strings.TrimSpace(in.Email)),
		Address: strings.TrimSpace(in.Address),
		Phone:   strings.TrimSpace(in.Phone),
	}
}

// ValidateContestant returns an invalid argument error with one message per failing field.
func ValidateContestant(in ContestantInput) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return errors.New(errors.CodeInvalidArgument, errors.WithCause(err))
	}

	opts := []errors.Option{errors.WithMessagef("invalid contestant")}
	for _, fe := range verrs {
		opts = append(opts, errors.WithField(fe.Field(), message(fe)))
	}

	return errors.New(errors.CodeInvalidArgument, opts...)
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return msgRequired
	case "email":
		return "Enter a valid email address."
	case "max":
		return fmt.Sprintf("Ensure this value has at most %s characters.", fe.Param())
	default:
		return "Enter a valid value."
	}
}
