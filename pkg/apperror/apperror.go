package apperror

import (
	"errors"
	"net/http"
)

// Sentinel errors shared by the service layer. Callers wrap them with
// fmt.Errorf("%w: detail", ErrX) and match with errors.Is.
var (
	ErrNotAuthorized = errors.New("not authorized")
	ErrValidation    = errors.New("validation failed")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrDependency    = errors.New("dependency failure")
)

// HTTPStatus maps an error onto the response code used by the handlers.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrDependency):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the text safe to show to a client. Unclassified errors
// collapse to a generic message so internal details do not leak.
func Message(err error, fallback string) string {
	switch {
	case errors.Is(err, ErrNotAuthorized),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConflict):
		return err.Error()
	default:
		return fallback
	}
}

// Known reports whether err already carries one of the sentinel kinds
func Known(err error) bool {
	return errors.Is(err, ErrNotAuthorized) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrDependency)
}
