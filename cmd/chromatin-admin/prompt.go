package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

var errAborted = errors.New("operation aborted by user")

// confirm prints warning and question, then waits for y/yes unless skip is set.
func (a *app) confirm(skip bool, warning, question string) error {
	if skip {
		return nil
	}
	if warning != "" {
		if err := writef(a.out, "%s\n", warning); err != nil {
			return err
		}
	}
	if err := writef(a.out, "%s Continue? [y/N]: ", question); err != nil {
		return err
	}
	answer, err := a.readAnswer()
	if err != nil {
		return err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return nil
	}
	return errAborted
}

// confirmByTyping requires the operator to retype expected, which guards remote targets.
func (a *app) confirmByTyping(expected, action string) error {
	if err := writef(a.out, "Type the host name %q to %s: ", expected, action); err != nil {
		return err
	}
	answer, err := a.readAnswer()
	if err != nil {
		return err
	}
	if answer != expected {
		return fmt.Errorf("%w: host confirmation did not match", errAborted)
	}
	return nil
}

func (a *app) readAnswer() (string, error) {
	line, err := a.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read confirmation: %w", err)
	}
	return strings.TrimSpace(line), nil
}
