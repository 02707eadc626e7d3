// Package errors maps arbitrary errors to low-cardinality tags for metrics and logs.
package errors

import (
	"context"
	goerrors "errors"
	"reflect"
	"strings"

	"github.com/jakub-figat/chromatin/internal/core"
	"github.com/jakub-figat/chromatin/internal/domain/alignment"
	"github.com/jakub-figat/chromatin/internal/domain/sequence"
)

var classes = []struct {
	target error
	class  string
}{
	{alignment.ErrSizeLimit, "size_limit"},
	{alignment.ErrEmptySequence, "empty_sequence"},
	{sequence.ErrEmptySequence, "empty_sequence"},
	{alignment.ErrInvalidAlphabet, "invalid_alphabet"},
	{alignment.ErrInvalidScoring, "invalid_scoring"},
	{alignment.ErrScoreOverflow, "invalid_scoring"},
	{core.ErrInvalidResult, "invalid_result"},
	{core.ErrJobTimeout, "timeout"},
	{context.DeadlineExceeded, "timeout"},
	{context.Canceled, "canceled"},
	{core.ErrUpstream, "upstream"},
	{core.ErrPrediction, "prediction"},
	{core.ErrBlobNotFound, "blob_not_found"},
	{core.ErrStorage, "storage"},
}

// Classify returns a normalized error type name suitable for tagging metrics/logs.
// Known processing errors map to fixed names; anything else is named after the innermost
// concrete error type.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range classes {
		if goerrors.Is(err, c.target) {
			return c.class
		}
	}
	var alphabetErr *sequence.AlphabetError
	if goerrors.As(err, &alphabetErr) {
		return "invalid_alphabet"
	}

	for {
		unwrapped := goerrors.Unwrap(err)
		if unwrapped == nil {
			break
		}
		err = unwrapped
	}

	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}

	name := strings.ToLower(strings.ReplaceAll(t.String(), "*", ""))
	name = strings.ReplaceAll(name, ".", "_")
	if name == "" {
		return "unknown"
	}
	return name
}
