package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{name: "message only", err: NotFoundf("job not found"), want: "job not found"},
		{
			name: "with cause",
			err:  Wrap(errors.New("disk full"), ErrCodeInternal, "save blob"),
			want: "save blob: disk full",
		},
		{name: "percent without args is kept verbatim", err: Validation("gc 100%"), want: "gc 100%"},
		{name: "formatted", err: NotFoundf("sequence %s", "abc"), want: "sequence abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("outer: %w", Wrap(cause, ErrCodeInternal, "inner"))

	assert.ErrorIs(t, err, cause)
	assert.True(t, HasCode(err, ErrCodeInternal))
	assert.Nil(t, Wrap(nil, ErrCodeInternal, "noop"))
}

func TestCodePredicates(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{name: "not found", err: NotFoundf("sequence %s", "abc"), check: IsNotFound},
		{name: "conflict", err: Conflict("job is COMPLETED"), check: IsConflict},
		{name: "validation", err: ValidationField("matchScore", "must be set"), check: IsValidation},
		{name: "forbidden", err: Forbiddenf("sequence %s belongs to another owner", "x"), check: IsForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.True(t, tt.check(fmt.Errorf("wrapped: %w", tt.err)))
			assert.False(t, tt.check(errors.New("plain")))
		})
	}
}

func TestAsAndField(t *testing.T) {
	err := fmt.Errorf("ctx: %w", ValidationField("gapOpenScore", "must be <= 0"))

	appErr, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, ErrCodeValidation, appErr.Code)
	assert.Equal(t, "gapOpenScore", GetField(err))

	_, ok = As(errors.New("plain"))
	assert.False(t, ok)
	assert.Empty(t, GetField(NotFoundf("x")))
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := map[ErrorCode]int{
		ErrCodeNotFound:   http.StatusNotFound,
		ErrCodeConflict:   http.StatusConflict,
		ErrCodeForeignKey: http.StatusConflict,
		ErrCodeValidation: http.StatusBadRequest,
		ErrCodeForbidden:  http.StatusForbidden,
		ErrCodeTimeout:    http.StatusGatewayTimeout,
		ErrCodeCanceled:   http.StatusRequestTimeout,
		ErrCodeInternal:   http.StatusInternalServerError,
		"mystery":         http.StatusInternalServerError,
	}
	for code, want := range tests {
		assert.Equal(t, want, code.HTTPStatus(), code)
	}
}
