package errors_test

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/victornm/econtest/internal/errors"
)

func TestError_HTTPStatusCode(t *testing.T) {
	tests := map[string]struct {
		code errors.Code
		want int
	}{
		"invalid argument":    {code: errors.CodeInvalidArgument, want: http.StatusBadRequest},
		"not found":           {code: errors.CodeNotFound, want: http.StatusNotFound},
		"already exists":      {code: errors.CodeAlreadyExists, want: http.StatusConflict},
		"failed precondition": {code: errors.CodeFailedPrecondition, want: http.StatusUnprocessableEntity},
		"permission denied":   {code: errors.CodePermissionDenied, want: http.StatusForbidden},
		"unknown falls back":  {code: errors.Code(codes.DataLoss), want: http.StatusInternalServerError},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, errors.New(tt.code).HTTPStatusCode())
		})
	}
}

func TestConvert(t *testing.T) {
	cause := stderrors.New("boom")

	e := errors.Convert(fmt.Errorf("wrapped: %w", errors.New(errors.CodeNotFound, errors.WithCause(cause))))
	assert.Equal(t, errors.CodeNotFound, e.Code)
	assert.ErrorIs(t, e, cause)

	e = errors.Convert(cause)
	assert.Equal(t, errors.CodeInternal, e.Code)
	assert.ErrorIs(t, e, cause)

	assert.True(t, errors.Is(fmt.Errorf("x: %w", errors.New(errors.CodeAlreadyExists)), errors.CodeAlreadyExists))
	assert.False(t, errors.Is(cause, errors.CodeAlreadyExists))
}

func TestWithField(t *testing.T) {
	e := errors.New(errors.CodeInvalidArgument,
		errors.WithMessagef("invalid %s", "contestant"),
		errors.WithField("email", "enter a valid email address"),
		errors.WithField("name", "this field is required"),
	)

	assert.Equal(t, map[string]string{
		"email": "enter a valid email address",
		"name":  "this field is required",
	}, e.Fields)
	assert.Equal(t, "code: 3, message: invalid contestant, email: enter a valid email address, name: this field is required", e.Error())

	st, ok := status.FromError(e)
	require.True(t, ok)
	assert.Equal(t, codes.InvalidArgument, st.Code())
}
