package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/salesops/salesops/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var short *shared.InsufficientStockError
	switch {
	case errors.As(err, &short):
		available := short.Available
		write(w, ProblemDetail{
			Title:     "Insufficient Stock",
			Status:    http.StatusConflict,
			Detail:    err.Error(),
			Available: &available,
		})
	case errors.Is(err, shared.ErrInsufficientStock):
		Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrDuplicateProduct):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Already Processed", err.Error())
	case errors.Is(err, shared.ErrInvalidArgument):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrStorage):
		logError(logger, err)
		Problem(w, http.StatusServiceUnavailable, "Storage Unavailable", "")
	default:
		logError(logger, err)
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func logError(logger *slog.Logger, err error) {
	if logger == nil {
		return
	}
	logger.Error("request failed", slog.Any("error", err))
}
