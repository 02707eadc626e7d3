package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/jakub-figat/chromatin/internal/errors"
)

var errInternal = errors.New("internal server error")

// writeAppError renders err. AppErrors keep their code and message; anything else is a 500 whose
// detail stays out of the response.
func writeAppError(w http.ResponseWriter, err error) {
	appErr, ok := apperrors.As(err)
	if !ok || appErr.Code == apperrors.ErrCodeInternal {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: string(apperrors.ErrCodeInternal), Err: errInternal})
		return
	}
	WriteError(w, ErrorParams{
		Code:    appErr.Code.HTTPStatus(),
		ErrCode: string(appErr.Code),
		Err:     appErr,
		Field:   appErr.Field,
	})
}

// serviceError logs unexpected failures and writes the error response.
func serviceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	if appErr, ok := apperrors.As(err); !ok || appErr.Code == apperrors.ErrCodeInternal {
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}
	writeAppError(w, err)
}
