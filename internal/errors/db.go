package errors

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// reKeyField extracts the column list from "Key (owner_id, name)=(...) already exists.".
var reKeyField = regexp.MustCompile(`Key \(([^)]+)\)=`)

var tableDomains = map[string]string{
	"jobs":                "Job",
	"sequences":           "Sequence",
	"sequence_structures": "Sequence structure",
}

// MapDBError maps database errors to AppError instances:
//   - pgx.ErrNoRows → NotFound
//   - unique violations → Conflict (with the offending field when it can be derived)
//   - foreign key violations → ForeignKey
//   - check and NOT NULL violations → Validation
//   - context deadline/cancellation → Timeout/Canceled
//
// Unrecognized errors are returned unchanged.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &AppError{Code: ErrCodeTimeout, Message: "Request timed out. Please try again.", Cause: err}
	case errors.Is(err, context.Canceled):
		return &AppError{Code: ErrCodeCanceled, Message: "Request was canceled.", Cause: err}
	case errors.Is(err, pgx.ErrNoRows):
		return &AppError{Code: ErrCodeNotFound, Message: "Resource not found", Cause: err}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return mapPgError(pgErr)
	}
	return err
}

func mapPgError(pgErr *pgconn.PgError) error {
	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return &AppError{
			Code:    ErrCodeConflict,
			Message: uniqueMessage(pgErr),
			Field:   uniqueField(pgErr),
			Cause:   pgErr,
		}
	case pgerrcode.ForeignKeyViolation:
		return &AppError{
			Code:    ErrCodeForeignKey,
			Message: "Cannot complete operation because the referenced " + domainName(pgErr.TableName) + " is in use or missing.",
			Cause:   pgErr,
		}
	case pgerrcode.CheckViolation, pgerrcode.NotNullViolation:
		msg := "Invalid data. Please check your input."
		if pgErr.ColumnName != "" {
			msg = "This field has an invalid value."
		}
		return &AppError{Code: ErrCodeValidation, Message: msg, Field: pgErr.ColumnName, Cause: pgErr}
	default:
		return &AppError{
			Code:    ErrCodeInternal,
			Message: "A database error occurred. Please try again.",
			Cause:   pgErr,
		}
	}
}

func uniqueField(pgErr *pgconn.PgError) string {
	if pgErr.ColumnName != "" {
		return pgErr.ColumnName
	}
	if m := reKeyField.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
		cols := strings.Split(m[1], ",")
		// (owner_id, name) style keys report the last column, which is the user supplied one.
		return strings.TrimSpace(cols[len(cols)-1])
	}
	return ""
}

func uniqueMessage(pgErr *pgconn.PgError) string {
	if pgErr.TableName == "sequences" {
		return "A sequence with this name already exists."
	}
	return "This value already exists. Please choose a different one."
}

func domainName(table string) string {
	table = strings.ToLower(strings.TrimSpace(table))
	if name, ok := tableDomains[table]; ok {
		return name
	}
	if table == "" {
		return "item"
	}
	return strings.ReplaceAll(table, "_", " ")
}
