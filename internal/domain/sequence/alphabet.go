// Package sequence holds pure helpers for biological sequences: alphabet checks,
// derived properties, FASTA parsing and nucleotide transforms.
package sequence

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jakub-figat/chromatin/internal/domain/model"
)

// ErrEmptySequence is returned when sequence data is empty.
var ErrEmptySequence = errors.New("sequence is empty")

// AlphabetError reports characters outside the expected alphabet.
type AlphabetError struct {
	Name    string
	Type    model.SequenceType
	Invalid []string
}

func (e *AlphabetError) Error() string {
	prefix := "sequence"
	if e.Name != "" {
		prefix = fmt.Sprintf("sequence '%s'", e.Name)
	}
	if e.Type == "" {
		return fmt.Sprintf("%s contains invalid characters: %s", prefix, strings.Join(e.Invalid, ", "))
	}
	return fmt.Sprintf("%s contains invalid characters for %s: %s", prefix, e.Type, strings.Join(e.Invalid, ", "))
}

const (
	dnaAlphabet     = "ACGT"
	rnaAlphabet     = "ACGU"
	proteinAlphabet = "ACDEFGHIKLMNPQRSTVWY"
)

var alphabets = map[model.SequenceType]*[256]bool{
	model.SequenceTypeDNA:     lookup(dnaAlphabet),
	model.SequenceTypeRNA:     lookup(rnaAlphabet),
	model.SequenceTypeProtein: lookup(proteinAlphabet),
}

func lookup(letters string) *[256]bool {
	var t [256]bool
	for i := range len(letters) {
		t[letters[i]] = true
		t[letters[i]+('a'-'A')] = true
	}
	return &t
}

// Alphabet returns the uppercase letters allowed for t, or "" for an unknown type.
func Alphabet(t model.SequenceType) string {
	switch t {
	case model.SequenceTypeDNA:
		return dnaAlphabet
	case model.SequenceTypeRNA:
		return rnaAlphabet
	case model.SequenceTypeProtein:
		return proteinAlphabet
	}
	return ""
}

// Validate checks data against the alphabet of t. Matching is case-insensitive.
func Validate(data, name string, t model.SequenceType) error {
	if data == "" {
		if name != "" {
			return fmt.Errorf("sequence '%s': %w", name, ErrEmptySequence)
		}
		return ErrEmptySequence
	}
	table, ok := alphabets[t]
	if !ok {
		return fmt.Errorf("unknown sequence type %q", t)
	}
	if bad := invalidChars(data, table); len(bad) > 0 {
		return &AlphabetError{Name: name, Type: t, Invalid: bad}
	}
	return nil
}

// Detect returns the narrowest alphabet containing every character of data,
// checking DNA, then RNA, then protein.
func Detect(data string) (model.SequenceType, error) {
	if data == "" {
		return "", ErrEmptySequence
	}
	for _, t := range []model.SequenceType{model.SequenceTypeDNA, model.SequenceTypeRNA, model.SequenceTypeProtein} {
		if len(invalidChars(data, alphabets[t])) == 0 {
			return t, nil
		}
	}
	var union [256]bool
	for _, table := range alphabets {
		for i, ok := range table {
			union[i] = union[i] || ok
		}
	}
	return "", &AlphabetError{Invalid: invalidChars(data, &union)}
}

// ValidateOrDetect validates against expected when set, otherwise detects the type.
func ValidateOrDetect(data, name string, expected model.SequenceType) (model.SequenceType, error) {
	if expected != "" {
		if err := Validate(data, name, expected); err != nil {
			return "", err
		}
		return expected, nil
	}
	t, err := Detect(data)
	var alphaErr *AlphabetError
	if errors.As(err, &alphaErr) {
		alphaErr.Name = name
	}
	return t, err
}

func invalidChars(data string, table *[256]bool) []string {
	seen := map[string]struct{}{}
	for i := range len(data) {
		c := data[i]
		if table[c] {
			continue
		}
		seen[strings.ToUpper(string(c))] = struct{}{}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
