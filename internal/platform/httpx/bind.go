package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/salesops/salesops/internal/shared"
)

// Bind decodes the JSON body into dst and validates it. On failure it writes
// the problem response and returns false.
func Bind(w http.ResponseWriter, r *http.Request, logger *slog.Logger, v *validator.Validate, dst any) bool {
	if err := DecodeJSON(r, dst); err != nil {
		RespondError(w, logger, shared.Invalid("malformed body: %v", err))
		return false
	}
	if err := v.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			RespondError(w, logger, shared.Invalid("%v", err))
			return false
		}
		fields := make(map[string]string, len(fieldErrs))
		for _, fieldErr := range fieldErrs {
			fields[fieldErr.Field()] = fieldErr.Error()
		}
		ValidationProblem(w, fields)
		return false
	}
	return true
}
