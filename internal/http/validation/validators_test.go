package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jakub-figat/chromatin/internal/errors"
)

type sample struct {
	Name  string   `json:"name"           validate:"required,max=5"`
	Kind  string   `json:"kind"           validate:"required,oneof=DNA RNA PROTEIN"`
	IDs   []string `json:"ids"            validate:"required,min=1,max=2,dive,required"`
	Count int      `json:"count,omitempty" validate:"omitempty,min=1,max=10"`
}

func TestStruct(t *testing.T) {
	valid := sample{Name: "seq", Kind: "DNA", IDs: []string{"a"}}

	tests := []struct {
		name      string
		mutate    func(*sample)
		wantField string
		wantMsg   string
	}{
		{name: "missing name", mutate: func(s *sample) { s.Name = "" }, wantField: "name", wantMsg: "name is required"},
		{name: "long name", mutate: func(s *sample) { s.Name = "toolong" }, wantField: "name", wantMsg: "name cannot exceed 5 characters"},
		{name: "bad kind", mutate: func(s *sample) { s.Kind = "XNA" }, wantField: "kind", wantMsg: "kind must be one of: DNA, RNA, PROTEIN"},
		{name: "too many ids", mutate: func(s *sample) { s.IDs = []string{"a", "b", "c"} }, wantField: "ids", wantMsg: "ids cannot exceed 2 items"},
		{name: "empty id", mutate: func(s *sample) { s.IDs = []string{""} }, wantField: "ids[0]", wantMsg: "ids[0] is required"},
		{name: "count out of range", mutate: func(s *sample) { s.Count = 11 }, wantField: "count", wantMsg: "count must be at most 10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid
			s.IDs = append([]string(nil), valid.IDs...)
			tt.mutate(&s)

			err := Struct(s)
			require.Error(t, err)
			var appErr *apperrors.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, apperrors.ErrCodeValidation, appErr.Code)
			assert.Equal(t, tt.wantField, appErr.Field)
			assert.Equal(t, tt.wantMsg, appErr.Message)
		})
	}

	require.NoError(t, Struct(valid))
}

func TestStruct_NonStruct(t *testing.T) {
	err := Struct("not a struct")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}
