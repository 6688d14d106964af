// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/cimcon/p2p/internal/shared"
)

// ProblemCode extends RFC7807 with the stable error code.
type ProblemCode struct {
	ProblemDetail
	Code string `json:"code"`
	Kind string `json:"kind"`
}

// RespondError maps classified domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		writeProblem(w, http.StatusBadRequest, "Validation Failed", err.Error(), "invalid_input", shared.KindValidation)
		return
	}
	kind := shared.KindOf(err)
	code := shared.CodeOf(err)
	switch kind {
	case shared.KindValidation:
		status := http.StatusBadRequest
		if errors.Is(err, shared.ErrUnauthenticated) || errors.Is(err, shared.ErrSessionNotFound) {
			status = http.StatusUnauthorized
		}
		writeProblem(w, status, "Validation Failed", err.Error(), code, kind)
	case shared.KindState:
		status := http.StatusConflict
		if errors.Is(err, shared.ErrForbidden) {
			status = http.StatusForbidden
		}
		writeProblem(w, status, "State Violation", err.Error(), code, kind)
	case shared.KindNotFound:
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error(), code, kind)
	case shared.KindInvariant:
		writeProblem(w, http.StatusUnprocessableEntity, "Invariant Breach", err.Error(), code, kind)
	case shared.KindIntegration:
		if logger != nil {
			logger.Error("integration failure", slog.Any("error", err))
		}
		writeProblem(w, http.StatusBadGateway, "Integration Failure", err.Error(), code, kind)
	default:
		if logger != nil {
			logger.Error("internal error", slog.Any("error", err))
		}
		writeProblem(w, http.StatusInternalServerError, "Internal Error", "", "internal", shared.KindInternal)
	}
}

func writeProblem(w http.ResponseWriter, status int, title, detail, code string, kind shared.Kind) {
	JSON(w, status, ProblemCode{
		ProblemDetail: ProblemDetail{Title: title, Status: status, Detail: detail},
		Code:          code,
		Kind:          string(kind),
	})
}
